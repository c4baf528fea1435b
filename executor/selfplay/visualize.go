// visualize.go - terminal rendering of self-play games for debugging.
package selfplay

import (
	"fmt"
	"io"
	"strings"

	"github.com/brensch/tttzero/executor/mcts"
	"github.com/brensch/tttzero/game"
	"github.com/muesli/termenv"
)

// FormatBoard renders s on one line, rows separated by '|', e.g. "OX.|.O.|..X".
func FormatBoard(s *game.State) string {
	var sb strings.Builder
	sb.Grow(game.Cells + game.Size - 1)
	for c := 0; c < game.Cells; c++ {
		if c > 0 && c%game.Size == 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(cellSymbol(s, c))
	}
	return sb.String()
}

func cellSymbol(s *game.State, c int) string {
	switch {
	case s.Board[game.Player][c] != 0:
		return s.MarkOf(game.Player).String()
	case s.Board[game.Opponent][c] != 0:
		return s.MarkOf(game.Opponent).String()
	}
	return "."
}

// Tracer prints each ply of a game: the board, and per cell N, Q, P and pi at
// the root. Colours are dropped automatically when w is not a terminal.
type Tracer struct {
	out *termenv.Output
}

func NewTracer(w io.Writer) *Tracer {
	return &Tracer{out: termenv.NewOutput(w)}
}

func (t *Tracer) mark(s *game.State, c int, highlight bool) string {
	sym := cellSymbol(s, c)
	style := t.out.String(sym)
	switch {
	case sym == "O":
		style = style.Foreground(t.out.Color("4"))
	case sym == "X":
		style = style.Foreground(t.out.Color("1"))
	default:
		style = style.Faint()
	}
	if highlight {
		style = t.out.String("*").Foreground(t.out.Color("2")).Bold()
	}
	return style.String()
}

// Ply renders the position before move a, then the root statistics.
func (t *Tracer) Ply(s *game.State, m *mcts.MCTS, res mcts.SearchResult, a game.Action, pi [game.Cells]float32, tau float64) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n=== ply %d: %s (%s) to move, tau=%g ===\n", s.Plies, a.Actor, s.MarkOf(a.Actor), tau)
	for r := 0; r < game.Size; r++ {
		for c := 0; c < game.Size; c++ {
			cell := r*game.Size + c
			sb.WriteString(t.mark(s, cell, cell == a.Cell()))
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}

	edges, _ := m.Tree.Lookup(res.Key)
	fmt.Fprintf(&sb, "sims=%d expansions=%d terminals=%d max_depth=%d outcomes(l/d/w)=%v\n",
		res.Simulations, res.Expansions, res.Terminals, res.MaxDepth, res.Outcomes)
	for c, e := range edges {
		if e.N == 0 && e.P == 0 {
			continue
		}
		marker := " "
		if c == a.Cell() {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s cell %d (%d,%d): N=%-4d Q=%+.3f P=%.3f pi=%.3f\n",
			marker, c, c/game.Size, c%game.Size, e.N, e.Q, e.P, pi[c])
	}
	fmt.Fprintf(&sb, "-> %s\n", a)
	_, _ = io.WriteString(t.out, sb.String())
}

// End renders the final position and outcome.
func (t *Tracer) End(s *game.State, res GameResult) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n=== game %s over after %d plies ===\n", res.GameID, res.Plies)
	for r := 0; r < game.Size; r++ {
		for c := 0; c < game.Size; c++ {
			sb.WriteString(t.mark(s, r*game.Size+c, false))
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}
	outcome := "draw"
	if res.Winner.Valid() {
		outcome = fmt.Sprintf("%s wins", res.Winner)
	}
	if res.Illegal {
		outcome += " (illegal move)"
	}
	fmt.Fprintf(&sb, "%s, reward=%+d\n", outcome, res.Reward)
	_, _ = io.WriteString(t.out, sb.String())
}

// ParseBoard is the inverse of FormatBoard. playerMark says which mark
// belongs to game.Player; O moves first, so the side to move follows from
// the mark counts.
func ParseBoard(board string, playerMark game.Mark) (game.State, error) {
	cells := strings.ReplaceAll(board, "|", "")
	if len(cells) != game.Cells {
		return game.State{}, fmt.Errorf("board %q: want %d cells, got %d", board, game.Cells, len(cells))
	}
	oSide := game.Player
	if playerMark == game.MarkX {
		oSide = game.Opponent
	}
	s := game.State{OSide: oSide}
	var nO, nX int
	for c := 0; c < game.Cells; c++ {
		switch cells[c] {
		case 'O', 'o':
			s.Board[oSide][c] = 1
			nO++
		case 'X', 'x':
			s.Board[oSide.Other()][c] = 1
			nX++
		case '.', ' ', '_':
		default:
			return game.State{}, fmt.Errorf("board %q: bad cell %q", board, cells[c])
		}
	}
	switch nO - nX {
	case 0:
		s.ToMove = oSide
	case 1:
		s.ToMove = oSide.Other()
	default:
		return game.State{}, fmt.Errorf("board %q: %d O vs %d X is unreachable", board, nO, nX)
	}
	s.Plies = nO + nX
	return s, nil
}
