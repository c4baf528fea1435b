package selfplay

import (
	"strings"
	"testing"

	"github.com/brensch/tttzero/game"
)

func TestRunStats(t *testing.T) {
	var s RunStats
	if r := s.Snapshot().WinRate(); r != 50 {
		t.Fatalf("empty winrate=%v", r)
	}
	s.Add(GameResult{Reward: 1, First: game.Player, Plies: 5, Simulations: 50})
	s.Add(GameResult{Reward: 1, First: game.Opponent, Plies: 6})
	s.Add(GameResult{Reward: -1, First: game.Player, Plies: 7, Illegal: true})
	s.Add(GameResult{Reward: 0, First: game.Opponent, Plies: 9})

	snap := s.Snapshot()
	if snap.Games != 4 || snap.Wins != 2 || snap.Losses != 1 || snap.Draws != 1 || snap.WinsAsO != 1 || snap.Illegal != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Plies != 27 || snap.Simulations != 50 {
		t.Fatalf("plies=%d sims=%d", snap.Plies, snap.Simulations)
	}
	if r := snap.WinRate(); r <= 50 || r >= 60 {
		t.Fatalf("winrate=%v", r)
	}
	if got := snap.Summary(); !strings.HasPrefix(got, "[GAME] Win: 2  Lose: 1  Draw: 1") || !strings.HasSuffix(got, "WinMarkO: 1") {
		t.Fatalf("summary=%q", got)
	}
}

func TestRunStats_SnapshotIsDetached(t *testing.T) {
	var s RunStats
	s.Add(GameResult{Reward: 1, First: game.Player})
	snap := s.Snapshot()
	snap.Wins = 100
	s.Add(GameResult{Reward: -1})
	if got := s.Snapshot(); got.Wins != 1 || got.Losses != 1 || got.Games != 2 {
		t.Fatalf("snapshot=%+v", got)
	}
}
