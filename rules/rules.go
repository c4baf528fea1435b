package rules

import (
	"errors"
	"fmt"

	"github.com/brensch/tttzero/game"
)

// Rewards are reported from game.Player's perspective.
const (
	RewardLoss = -1
	RewardDraw = 0
	RewardWin  = 1
)

var (
	ErrWrongActor = errors.New("actor is not the side to move")
	ErrGameOver   = errors.New("game is already over")
)

// Info carries diagnostics about a step.
type Info struct {
	Plies   int
	Illegal bool      // the move targeted an occupied cell
	Winner  game.Side // NoSide for draws and unfinished games
}

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// NewState returns an empty board where first plays O and moves first.
func NewState(first game.Side) game.State {
	return game.State{OSide: first, ToMove: first}
}

// HasLine reports whether side owns a full line.
func HasLine(s *game.State, side game.Side) bool {
	b := &s.Board[side]
	for _, l := range winLines {
		if b[l[0]] != 0 && b[l[1]] != 0 && b[l[2]] != 0 {
			return true
		}
	}
	return false
}

// Winner returns the side owning a line, or NoSide.
func Winner(s *game.State) game.Side {
	if HasLine(s, game.Player) {
		return game.Player
	}
	if HasLine(s, game.Opponent) {
		return game.Opponent
	}
	return game.NoSide
}

// IsTerminal reports a won or full board.
func IsTerminal(s *game.State) bool {
	return Winner(s) != game.NoSide || s.Empty() == 0
}

// LegalMask marks the empty cells. A terminal state has no legal cells.
func LegalMask(s *game.State) [game.Cells]bool {
	var mask [game.Cells]bool
	if IsTerminal(s) {
		return mask
	}
	for c := 0; c < game.Cells; c++ {
		mask[c] = !s.Occupied(c)
	}
	return mask
}

// GetLegalMoves returns the empty cell indices in ascending order.
func GetLegalMoves(s *game.State) []int {
	mask := LegalMask(s)
	moves := make([]int, 0, game.Cells)
	for c, ok := range mask {
		if ok {
			moves = append(moves, c)
		}
	}
	return moves
}

func rewardFor(winner game.Side) int {
	switch winner {
	case game.Player:
		return RewardWin
	case game.Opponent:
		return RewardLoss
	}
	return RewardDraw
}

// Step applies a to s and returns the next state, the reward, and whether the game ended.
//
// Playing onto an occupied cell ends the game as a loss for the violator.
// Moving out of turn, or after the game is over, is an error.
func Step(s game.State, a game.Action) (game.State, int, bool, Info, error) {
	if IsTerminal(&s) {
		return s, 0, true, Info{Plies: s.Plies, Winner: Winner(&s)}, ErrGameOver
	}
	if !a.Actor.Valid() {
		return s, 0, false, Info{Plies: s.Plies}, fmt.Errorf("%w: actor %d", game.ErrInvalidAction, a.Actor)
	}
	if a.Actor != s.ToMove {
		return s, 0, false, Info{Plies: s.Plies}, fmt.Errorf("%w: got %s, want %s", ErrWrongActor, a.Actor, s.ToMove)
	}

	cell := a.Cell()
	if s.Occupied(cell) {
		winner := a.Actor.Other()
		return s, rewardFor(winner), true, Info{Plies: s.Plies, Illegal: true, Winner: winner}, nil
	}

	next := s
	next.Board[a.Actor][cell] = 1
	next.Plies++
	next.ToMove = a.Actor.Other()

	if HasLine(&next, a.Actor) {
		return next, rewardFor(a.Actor), true, Info{Plies: next.Plies, Winner: a.Actor}, nil
	}
	if next.Empty() == 0 {
		return next, RewardDraw, true, Info{Plies: next.Plies, Winner: game.NoSide}, nil
	}
	return next, RewardDraw, false, Info{Plies: next.Plies, Winner: game.NoSide}, nil
}

// Env is the stateful environment used for real games.
type Env struct {
	state game.State
	done  bool
}

// Reset starts a new game with first playing O.
func (e *Env) Reset(first game.Side) game.State {
	e.state = NewState(first)
	e.done = false
	return e.state
}

// ResetFrom continues from an arbitrary position.
func (e *Env) ResetFrom(s game.State) game.State {
	e.state = s
	e.done = IsTerminal(&s)
	return e.state
}

func (e *Env) State() game.State { return e.state }
func (e *Env) Done() bool        { return e.done }

func (e *Env) Step(a game.Action) (game.State, int, bool, Info, error) {
	if e.done {
		return e.state, 0, true, Info{Plies: e.state.Plies, Winner: Winner(&e.state)}, ErrGameOver
	}
	next, reward, done, info, err := Step(e.state, a)
	if err != nil {
		return e.state, 0, false, info, err
	}
	e.state = next
	e.done = done
	return next, reward, done, info, nil
}
