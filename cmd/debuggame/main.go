package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/tttzero/executor/inference"
	"github.com/brensch/tttzero/executor/mcts"
	"github.com/brensch/tttzero/executor/selfplay"
	"github.com/brensch/tttzero/game"
	"github.com/brensch/tttzero/logging"
	"github.com/brensch/tttzero/store"
)

func main() {
	modelPath := flag.String("model", "", "Path to ONNX model; empty uses the uniform oracle")
	outDir := flag.String("out-dir", filepath.Join("debug_games"), "Output directory for debug games")
	sims := flag.Int("sims", selfplay.DefaultSimulations, "Number of MCTS simulations per move")
	cpuct := flag.Float64("cpuct", 5, "MCTS exploration constant")
	epsilon := flag.Float64("epsilon", 0.25, "Weight of Dirichlet noise at the root")
	tempPlies := flag.Int("temp-plies", selfplay.DefaultTempPlies, "Plies sampled with tau=1")
	seed := flag.Uint64("seed", 0, "RNG seed; 0 seeds from the clock")
	start := flag.String("start", "", `Opening position, e.g. "OO.|XX.|..."`)
	playerMark := flag.String("player-mark", "O", "Mark played by the Player side with -start (O or X)")
	first := flag.Int("game-index", 0, "Game index; its parity picks the first actor when -start is empty")
	cuda := flag.Bool("cuda", true, "Enable CUDA for inference")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New("pretty", *logLevel, os.Stderr)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	slog.SetDefault(logger)

	var predictor mcts.Predictor = &inference.UniformPredictor{}
	if *modelPath != "" {
		log.Printf("Loading model: %s", *modelPath)
		pool, err := inference.NewOnnxClientPoolWithConfig(*modelPath, 1, inference.OnnxClientConfig{
			BatchSize:   1,
			DisableCUDA: !*cuda,
		})
		if err != nil {
			log.Fatalf("Failed to load model: %v", err)
		}
		defer pool.Close()
		predictor = pool
	}

	opts := selfplay.Options{
		Simulations: *sims,
		TempPlies:   *tempPlies,
		Source:      "debug",
		ModelPath:   *modelPath,
		Tracer:      selfplay.NewTracer(os.Stdout),
	}
	if *start != "" {
		mark := game.MarkO
		if *playerMark == "X" || *playerMark == "x" {
			mark = game.MarkX
		}
		s, err := selfplay.ParseBoard(*start, mark)
		if err != nil {
			log.Fatalf("Bad -start: %v", err)
		}
		opts.Start = &s
	}

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	m := mcts.New(mcts.Config{Cpuct: float32(*cpuct), Epsilon: *epsilon, Alpha: mcts.DefaultConfig().Alpha}, predictor, rand.New(rand.NewPCG(*seed, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Printf("Generating debug game with %d sims, cpuct=%.2f, seed=%d", *sims, *cpuct, *seed)
	out, err := selfplay.PlayGame(ctx, 0, *first, m, opts)
	if err != nil {
		log.Fatalf("Failed to generate debug game: %v", err)
	}

	parquetPath := filepath.Join(*outDir, out.Result.GameID+".parquet")
	if err := store.WriteGameParquet(parquetPath, out.Rows); err != nil {
		log.Fatalf("Failed to write debug game: %v", err)
	}

	fmt.Println()
	fmt.Printf("Game %s: %d plies, winner %s, reward %+d\n", out.Result.GameID, out.Result.Plies, out.Result.Winner, out.Result.Reward)
	fmt.Printf("Written to %s\n", parquetPath)
}
