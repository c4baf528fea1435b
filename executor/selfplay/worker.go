package selfplay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brensch/tttzero/executor/convert"
	"github.com/brensch/tttzero/executor/mcts"
	"github.com/brensch/tttzero/game"
	"github.com/brensch/tttzero/rules"
	"github.com/brensch/tttzero/store"
	"github.com/google/uuid"
)

const (
	DefaultSimulations = 800
	DefaultTempPlies   = 2
)

type Options struct {
	Simulations int
	// TempPlies is how many opening plies are sampled with tau=1; later plies play argmax.
	TempPlies int
	// RetainTree keeps the search tree from the previous game. Only valid while
	// the oracle snapshot stays the same.
	RetainTree bool
	// Start overrides the opening position. Its OSide replaces the alternating first actor.
	Start *game.State

	Source    string
	ModelPath string

	// Tracer, when set, receives a rendered board and root statistics every ply.
	Tracer *Tracer
	// OnPly is called after every real move.
	OnPly func()
}

type GameResult struct {
	GameID string
	// First is the side that played O and moved first.
	First game.Side
	// Reward is the terminal reward from Player's perspective.
	Reward  int
	Winner  game.Side
	Plies   int
	Illegal bool

	Simulations int
	Expansions  int
	Terminals   int
	MaxDepth    int
	Duration    time.Duration
}

type PlayGameOutcome struct {
	Completed bool
	Rows      []store.TrainingRow
	Result    GameResult
}

// FirstActor alternates which side opens (and plays O) by game index.
func FirstActor(gameIndex int) game.Side {
	if gameIndex%2 == 0 {
		return game.Player
	}
	return game.Opponent
}

// Temperature is 1 for the first tempPlies plies of a game and 0 after.
func Temperature(ply, tempPlies int) float64 {
	if ply < tempPlies {
		return 1
	}
	return 0
}

// PlayGame plays one full self-play game with m and returns one row per real
// move. Every row's Z is the final reward, known only once the game ends.
//
// Cancellation is checked between plies; a cancelled game is returned with
// Completed=false and no rows. A Start position that is already over is an
// error wrapping mcts.ErrTerminalRoot.
func PlayGame(ctx context.Context, workerID, gameIndex int, m *mcts.MCTS, opts Options) (PlayGameOutcome, error) {
	sims := opts.Simulations
	if sims <= 0 {
		sims = DefaultSimulations
	}
	if opts.TempPlies < 0 {
		opts.TempPlies = 0
	}
	if opts.Source == "" {
		opts.Source = "selfplay"
	}
	if !opts.RetainTree {
		m.Reset()
	}

	start := time.Now()
	gameID := uuid.NewString()
	logger := slog.With("worker", workerID, "game", gameID)

	env := &rules.Env{}
	var s game.State
	var enc convert.Encoder
	if opts.Start != nil {
		s = env.ResetFrom(*opts.Start)
		if env.Done() {
			return PlayGameOutcome{}, fmt.Errorf("start %s: %w", FormatBoard(&s), mcts.ErrTerminalRoot)
		}
		enc = convert.NewEncoderFrom(s)
	} else {
		s = env.Reset(FirstActor(gameIndex))
		enc = convert.NewEncoder(s.OSide)
	}

	result := GameResult{GameID: gameID, First: s.OSide, Winner: game.NoSide}
	rows := make([]store.TrainingRow, 0, game.Cells)
	startPly := s.Plies

	for !env.Done() {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return PlayGameOutcome{Result: result}, ctx.Err()
			default:
			}
		}

		res, err := m.Search(s, enc, sims)
		if err != nil {
			return PlayGameOutcome{Result: result}, fmt.Errorf("search at ply %d: %w", s.Plies, err)
		}
		tau := Temperature(s.Plies-startPly, opts.TempPlies)
		a, pi, err := m.Play(res, tau)
		if err != nil {
			return PlayGameOutcome{Result: result}, fmt.Errorf("play at ply %d: %w", s.Plies, err)
		}

		result.Simulations += res.Simulations
		result.Expansions += res.Expansions
		result.Terminals += res.Terminals
		result.MaxDepth = max(result.MaxDepth, res.MaxDepth)

		rows = append(rows, store.TrainingRow{
			GameID:    gameID,
			Ply:       int32(s.Plies),
			Actor:     int32(a.Actor),
			OSide:     int32(s.OSide),
			State:     res.Input,
			Pi:        append([]float32(nil), pi[:]...),
			Board:     FormatBoard(&s),
			Action:    int32(a.Cell()),
			Sims:      int32(res.Simulations),
			Source:    opts.Source,
			ModelPath: opts.ModelPath,
		})

		if opts.Tracer != nil {
			opts.Tracer.Ply(&s, m, res, a, pi, tau)
		}
		logger.Debug("ply",
			"ply", s.Plies,
			"actor", a.Actor,
			"action", a.String(),
			"tau", tau,
			"expansions", res.Expansions,
			"terminals", res.Terminals,
			"max_depth", res.MaxDepth,
		)

		next, reward, done, info, err := env.Step(a)
		if err != nil {
			return PlayGameOutcome{Result: result}, fmt.Errorf("step %s: %w", a, err)
		}
		enc.Push(next, a.Actor)
		s = next

		if opts.OnPly != nil {
			opts.OnPly()
		}
		if done {
			result.Reward = reward
			result.Winner = info.Winner
			result.Illegal = info.Illegal
		}
	}

	z := float32(result.Reward)
	for i := range rows {
		rows[i].Z = z
	}
	result.Plies = len(rows)
	result.Duration = time.Since(start)

	if opts.Tracer != nil {
		opts.Tracer.End(&s, result)
	}
	logger.Debug("game finished", "winner", result.Winner, "reward", result.Reward, "plies", result.Plies, "duration", result.Duration)

	return PlayGameOutcome{Completed: true, Rows: rows, Result: result}, nil
}
