// Package game defines the core state types for 3x3 tic-tac-toe self-play.
//
// These types represent the minimal state needed for rules evaluation and
// oracle inference. Everything is a fixed-size value, so copying a State is a
// full clone and is cheap enough to do once per MCTS simulation.
package game

import (
	"errors"
	"fmt"
)

const (
	Size  = 3
	Cells = Size * Size
)

// Side identifies an actor. Rewards are always reported from Player's perspective.
type Side int8

const (
	NoSide   Side = -1
	Player   Side = 0
	Opponent Side = 1
)

func (s Side) Valid() bool { return s == Player || s == Opponent }

// Other returns the opposing side.
func (s Side) Other() Side {
	switch s {
	case Player:
		return Opponent
	case Opponent:
		return Player
	}
	return NoSide
}

func (s Side) String() string {
	switch s {
	case Player:
		return "player"
	case Opponent:
		return "opponent"
	}
	return "none"
}

// Mark is the symbol a side draws. O always moves first.
type Mark int8

const (
	MarkO Mark = 0
	MarkX Mark = 1
)

func (m Mark) String() string {
	if m == MarkO {
		return "O"
	}
	return "X"
}

var ErrInvalidAction = errors.New("invalid action")

// Action is a single move by one actor. Construct with NewAction.
type Action struct {
	Actor Side
	Row   int
	Col   int
}

// NewAction validates the actor and coordinates.
func NewAction(actor Side, row, col int) (Action, error) {
	if !actor.Valid() {
		return Action{}, fmt.Errorf("%w: actor %d", ErrInvalidAction, actor)
	}
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return Action{}, fmt.Errorf("%w: cell (%d,%d) outside %dx%d board", ErrInvalidAction, row, col, Size, Size)
	}
	return Action{Actor: actor, Row: row, Col: col}, nil
}

// ActionForCell builds an action from a flat cell index (row-major).
func ActionForCell(actor Side, cell int) (Action, error) {
	if cell < 0 || cell >= Cells {
		return Action{}, fmt.Errorf("%w: cell index %d", ErrInvalidAction, cell)
	}
	return NewAction(actor, cell/Size, cell%Size)
}

// Cell returns the row-major cell index.
func (a Action) Cell() int { return a.Row*Size + a.Col }

func (a Action) String() string {
	return fmt.Sprintf("%s(%d,%d)", a.Actor, a.Row, a.Col)
}

// Plane is one 3x3 occupancy plane, row-major, 1 = occupied.
type Plane [Cells]uint8

// State is the complete state needed for rules + encoding.
type State struct {
	// Board holds one occupancy plane per side, indexed by Side.
	Board [2]Plane
	// OSide is the side that plays O and therefore moves first.
	OSide  Side
	ToMove Side
	Plies  int
}

// MarkOf returns the mark the given side draws in this game.
func (s *State) MarkOf(side Side) Mark {
	if side == s.OSide {
		return MarkO
	}
	return MarkX
}

// Occupied reports whether either side has a mark on cell.
func (s *State) Occupied(cell int) bool {
	return s.Board[Player][cell] != 0 || s.Board[Opponent][cell] != 0
}

// Empty counts the empty cells.
func (s *State) Empty() int {
	n := 0
	for c := 0; c < Cells; c++ {
		if !s.Occupied(c) {
			n++
		}
	}
	return n
}
