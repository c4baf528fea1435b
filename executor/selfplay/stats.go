package selfplay

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/brensch/tttzero/game"
	"github.com/brensch/tttzero/rules"
)

// Totals are the counters of a run. Outcomes are counted from Player's
// perspective.
type Totals struct {
	Games       int
	Wins        int
	Losses      int
	Draws       int
	WinsAsO     int
	Illegal     int
	Plies       int
	Simulations int
	Expansions  int
	Terminals   int
	GameTime    time.Duration
}

// RunStats aggregates finished games across workers.
type RunStats struct {
	mu sync.Mutex
	t  Totals
}

func (s *RunStats) Add(r GameResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &s.t
	t.Games++
	switch r.Reward {
	case rules.RewardWin:
		t.Wins++
		if r.First == game.Player {
			t.WinsAsO++
		}
	case rules.RewardLoss:
		t.Losses++
	default:
		t.Draws++
	}
	if r.Illegal {
		t.Illegal++
	}
	t.Plies += r.Plies
	t.Simulations += r.Simulations
	t.Expansions += r.Expansions
	t.Terminals += r.Terminals
	t.GameTime += r.Duration
}

func (s *RunStats) Snapshot() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

// WinRate squashes the per-game win/loss margin through a logistic, so an
// all-draw run reads 50%.
func (t Totals) WinRate() float64 {
	if t.Games == 0 {
		return 50
	}
	margin := float64(t.Wins-t.Losses) / float64(t.Games)
	return 100 / (1 + math.Exp(-margin))
}

// Summary is the one-line report sent at the end of a run.
func (t Totals) Summary() string {
	return fmt.Sprintf("[GAME] Win: %d  Lose: %d  Draw: %d  Winrate: %.1f%%  WinMarkO: %d",
		t.Wins, t.Losses, t.Draws, t.WinRate(), t.WinsAsO)
}
