package selfplay

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/brensch/tttzero/executor/convert"
	"github.com/brensch/tttzero/executor/inference"
	"github.com/brensch/tttzero/executor/mcts"
	"github.com/brensch/tttzero/game"
	"github.com/brensch/tttzero/rules"
)

func newSearcher(seed uint64) *mcts.MCTS {
	return mcts.New(mcts.DefaultConfig(), &inference.UniformPredictor{}, rand.New(rand.NewPCG(seed, 7)))
}

func TestPlayGame_EndToEnd(t *testing.T) {
	for gameIndex := 0; gameIndex < 4; gameIndex++ {
		m := newSearcher(uint64(gameIndex))
		plies := 0
		out, err := PlayGame(context.Background(), 0, gameIndex, m, Options{
			Simulations: 60,
			TempPlies:   DefaultTempPlies,
			OnPly:       func() { plies++ },
		})
		if err != nil {
			t.Fatalf("game %d: %v", gameIndex, err)
		}
		if !out.Completed {
			t.Fatalf("game %d not completed", gameIndex)
		}
		res := out.Result
		if len(out.Rows) != res.Plies || plies != res.Plies {
			t.Fatalf("rows=%d plies=%d callbacks=%d", len(out.Rows), res.Plies, plies)
		}
		if res.Plies < 5 || res.Plies > game.Cells {
			t.Fatalf("implausible game length %d", res.Plies)
		}
		if res.First != FirstActor(gameIndex) {
			t.Fatalf("first=%s want %s", res.First, FirstActor(gameIndex))
		}
		if res.Illegal {
			t.Fatalf("search played an illegal move")
		}

		for i, row := range out.Rows {
			if row.Z != float32(res.Reward) {
				t.Fatalf("row %d: z=%v want %v", i, row.Z, res.Reward)
			}
			if row.GameID != res.GameID || row.Ply != int32(i) {
				t.Fatalf("row %d: id=%s ply=%d", i, row.GameID, row.Ply)
			}
			wantActor := res.First
			if i%2 == 1 {
				wantActor = res.First.Other()
			}
			if game.Side(row.Actor) != wantActor {
				t.Fatalf("row %d: actor=%d want %s", i, row.Actor, wantActor)
			}
			if len(row.State) != convert.InputSize || len(row.Pi) != game.Cells {
				t.Fatalf("row %d: state=%d pi=%d", i, len(row.State), len(row.Pi))
			}
			sum := 0.0
			for _, p := range row.Pi {
				sum += float64(p)
			}
			if math.Abs(sum-1) > 1e-5 {
				t.Fatalf("row %d: sum(pi)=%v", i, sum)
			}
			if row.Pi[row.Action] == 0 {
				t.Fatalf("row %d: played cell %d with zero visits", i, row.Action)
			}
			if row.Sims != 60 {
				t.Fatalf("row %d: sims=%d", i, row.Sims)
			}
		}
		if res.Simulations != 60*res.Plies {
			t.Fatalf("simulations=%d want %d", res.Simulations, 60*res.Plies)
		}
	}
}

func TestPlayGame_ForcedWin(t *testing.T) {
	// O O . / X X . / . . .  Player (O) to move wins at cell 2.
	s := rules.NewState(game.Player)
	s.Board[game.Player][0], s.Board[game.Player][1] = 1, 1
	s.Board[game.Opponent][3], s.Board[game.Opponent][4] = 1, 1
	s.Plies = 4

	m := newSearcher(11)
	m.Config.Epsilon = 0
	var trace bytes.Buffer
	out, err := PlayGame(context.Background(), 1, 0, m, Options{
		Simulations: 300,
		TempPlies:   0,
		Start:       &s,
		Tracer:      NewTracer(&trace),
	})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if len(out.Rows) != 1 || out.Result.Reward != rules.RewardWin || out.Result.Winner != game.Player {
		t.Fatalf("rows=%d result=%+v", len(out.Rows), out.Result)
	}
	row := out.Rows[0]
	if row.Action != 2 || row.Z != 1 || row.Ply != 4 || row.Board != "OO.|XX.|..." {
		t.Fatalf("row=%+v", row)
	}
	text := trace.String()
	for _, want := range []string{"ply 4", "player wins", "reward=+1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("trace missing %q:\n%s", want, text)
		}
	}
}

func TestPlayGame_TerminalStart(t *testing.T) {
	// O O O / X X . / . . .  already won by Player.
	s := rules.NewState(game.Player)
	s.Board[game.Player][0], s.Board[game.Player][1], s.Board[game.Player][2] = 1, 1, 1
	s.Board[game.Opponent][3], s.Board[game.Opponent][4] = 1, 1
	s.Plies = 5
	s.ToMove = game.Opponent

	out, err := PlayGame(context.Background(), 0, 0, newSearcher(2), Options{Simulations: 10, Start: &s})
	if !errors.Is(err, mcts.ErrTerminalRoot) {
		t.Fatalf("err=%v want ErrTerminalRoot", err)
	}
	if out.Completed || len(out.Rows) != 0 {
		t.Fatalf("terminal start returned completed=%v rows=%d", out.Completed, len(out.Rows))
	}
}

func TestPlayGame_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := PlayGame(ctx, 0, 0, newSearcher(1), Options{Simulations: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if out.Completed || len(out.Rows) != 0 {
		t.Fatalf("cancelled game returned %d rows", len(out.Rows))
	}
}

func TestPlayGame_TreeReset(t *testing.T) {
	m := newSearcher(3)
	if _, err := PlayGame(context.Background(), 0, 0, m, Options{Simulations: 30}); err != nil {
		t.Fatalf("first game: %v", err)
	}
	first := m.Tree.Len()
	if first == 0 {
		t.Fatalf("tree empty after game")
	}
	if _, err := PlayGame(context.Background(), 0, 2, m, Options{Simulations: 30, RetainTree: true}); err != nil {
		t.Fatalf("retained game: %v", err)
	}
	if m.Tree.Len() < first {
		t.Fatalf("retained tree shrank: %d -> %d", first, m.Tree.Len())
	}
	if _, err := PlayGame(context.Background(), 0, 4, m, Options{Simulations: 1}); err != nil {
		t.Fatalf("reset game: %v", err)
	}
	if m.Tree.Len() > game.Cells {
		t.Fatalf("tree not reset: len=%d", m.Tree.Len())
	}
}

func TestSchedules(t *testing.T) {
	if FirstActor(0) != game.Player || FirstActor(1) != game.Opponent || FirstActor(6) != game.Player {
		t.Fatalf("first actor does not alternate")
	}
	for ply, want := range []float64{1, 1, 0, 0} {
		if got := Temperature(ply, 2); got != want {
			t.Fatalf("Temperature(%d)=%v want %v", ply, got, want)
		}
	}
}

func TestFormatBoard(t *testing.T) {
	s := rules.NewState(game.Opponent)
	s.Board[game.Opponent][0] = 1
	s.Board[game.Player][4] = 1
	s.Board[game.Opponent][8] = 1
	if got := FormatBoard(&s); got != "O..|.X.|..O" {
		t.Fatalf("board=%q", got)
	}
}

func TestParseBoard(t *testing.T) {
	s, err := ParseBoard("OO.|XX.|...", game.MarkO)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.OSide != game.Player || s.ToMove != game.Player || s.Plies != 4 {
		t.Fatalf("state=%+v", s)
	}
	if got := FormatBoard(&s); got != "OO.|XX.|..." {
		t.Fatalf("round trip=%q", got)
	}

	s, err = ParseBoard("O........", game.MarkX)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.OSide != game.Opponent || s.ToMove != game.Player || s.Board[game.Opponent][0] != 1 {
		t.Fatalf("state=%+v", s)
	}

	for _, bad := range []string{"OO", "OOO|...|...", "OQ.|...|..."} {
		if _, err := ParseBoard(bad, game.MarkO); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
