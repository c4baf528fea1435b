package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brensch/tttzero/executor/inference"
	"github.com/brensch/tttzero/executor/mcts"
	"github.com/brensch/tttzero/executor/notify"
	"github.com/brensch/tttzero/executor/selfplay"
	"github.com/brensch/tttzero/logging"
	"github.com/brensch/tttzero/store"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
)

var totalMoves atomic.Int64
var totalInferences atomic.Int64

type instrumentedClient struct {
	mcts.Predictor
}

func (c *instrumentedClient) Predict(input []float32) ([]float32, float32, error) {
	totalInferences.Add(1)
	return c.Predictor.Predict(input)
}

type config struct {
	outDir        string
	modelPath     string
	workers       int
	gamesPerFlush int
	flushEvery    time.Duration
	maxGames      int64
	writtenLog    string

	sims       int
	cpuct      float64
	epsilon    float64
	alpha      float64
	tempPlies  int
	retainTree bool
	seed       uint64

	onnxSessions     int
	onnxBatchSize    int
	onnxBatchTimeout time.Duration
	onnxLogits       bool

	tui       bool
	trace     bool
	logFormat string
	logLevel  string
	logFile   string
	notifyURL string
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.outDir, "out-dir", getEnvOrDefault("OUT_DIR", "data/generated"), "Output directory for generated training parquet batches")
	flag.StringVar(&cfg.modelPath, "model", getEnvOrDefault("MODEL", ""), "ONNX policy/value model; empty plays with the uniform oracle")
	flag.IntVar(&cfg.workers, "workers", getEnvIntOrDefault("WORKERS", runtime.NumCPU()), "Number of self-play workers")
	flag.IntVar(&cfg.gamesPerFlush, "games-per-flush", getEnvIntOrDefault("GAMES_PER_FLUSH", 50), "Number of games per parquet batch file")
	flag.DurationVar(&cfg.flushEvery, "flush-every", getEnvDurationOrDefault("FLUSH_EVERY", 10*time.Minute), "Flush a partial batch at this interval")
	flag.Int64Var(&cfg.maxGames, "max-games", int64(getEnvIntOrDefault("MAX_GAMES", 0)), "If > 0, stop after generating this many games (across all workers)")
	flag.StringVar(&cfg.writtenLog, "written-log", getEnvOrDefault("WRITTEN_LOG", ""), "Append-only log of game IDs already flushed (default <out-dir>/written_games.log)")

	flag.IntVar(&cfg.sims, "sims", getEnvIntOrDefault("SIMS", selfplay.DefaultSimulations), "MCTS simulations per move")
	flag.Float64Var(&cfg.cpuct, "cpuct", getEnvFloatOrDefault("CPUCT", 5), "PUCT exploration constant")
	flag.Float64Var(&cfg.epsilon, "epsilon", getEnvFloatOrDefault("EPSILON", 0.25), "Weight of Dirichlet noise at the root")
	flag.Float64Var(&cfg.alpha, "alpha", getEnvFloatOrDefault("ALPHA", 0.7), "Dirichlet concentration")
	flag.IntVar(&cfg.tempPlies, "temp-plies", getEnvIntOrDefault("TEMP_PLIES", selfplay.DefaultTempPlies), "Plies sampled with tau=1 before switching to argmax")
	flag.BoolVar(&cfg.retainTree, "retain-tree", getEnvBoolOrDefault("RETAIN_TREE", false), "Keep each worker's search tree across games")
	flag.Uint64Var(&cfg.seed, "seed", uint64(getEnvIntOrDefault("SEED", 0)), "RNG seed; 0 seeds from the clock")

	flag.IntVar(&cfg.onnxSessions, "onnx-sessions", getEnvIntOrDefault("ONNX_SESSIONS", 1), "Number of ONNX Runtime sessions to run in parallel (each has its own batching loop)")
	flag.IntVar(&cfg.onnxBatchSize, "onnx-batch-size", getEnvIntOrDefault("ONNX_BATCH_SIZE", inference.DefaultBatchSize), "ONNX inference batch size")
	flag.DurationVar(&cfg.onnxBatchTimeout, "onnx-batch-timeout", getEnvDurationOrDefault("ONNX_BATCH_TIMEOUT", inference.DefaultBatchTimeout), "Max time to wait for filling an ONNX batch")
	flag.BoolVar(&cfg.onnxLogits, "onnx-logits", getEnvBoolOrDefault("ONNX_LOGITS", false), "Model policy output is logits; apply softmax")

	flag.BoolVar(&cfg.tui, "tui", getEnvBoolOrDefault("TUI", false), "Show a live progress view")
	flag.BoolVar(&cfg.trace, "trace", getEnvBoolOrDefault("TRACE", false), "Print every ply of worker 0's games")
	flag.StringVar(&cfg.logFormat, "log-format", getEnvOrDefault("LOG_FORMAT", "text"), "Log format: text, json or pretty")
	flag.StringVar(&cfg.logLevel, "log-level", getEnvOrDefault("LOG_LEVEL", "info"), "Log level: debug, info, warn or error")
	flag.StringVar(&cfg.logFile, "log-file", getEnvOrDefault("LOG_FILE", ""), "Write logs to this file instead of stderr (default selfplay.log with -tui)")
	flag.StringVar(&cfg.notifyURL, "notify-url", getEnvOrDefault("NOTIFY_URL", ""), "Slack-compatible webhook for the end-of-run summary")
	flag.Parse()

	if cfg.writtenLog == "" {
		cfg.writtenLog = filepath.Join(cfg.outDir, "written_games.log")
	}
	if cfg.tui && cfg.logFile == "" {
		cfg.logFile = "selfplay.log"
	}
	return cfg
}

func main() {
	cfg := parseFlags()

	var logOut io.Writer = os.Stderr
	if cfg.logFile != "" {
		f, err := os.OpenFile(cfg.logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := logging.New(cfg.logFormat, cfg.logLevel, logOut)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if cfg.workers <= 0 || cfg.sims <= 0 {
		log.Fatalf("workers and sims must be positive (workers=%d sims=%d)", cfg.workers, cfg.sims)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	predictor, modelPath, closer, statsProvider, err := newPredictor(cfg)
	if err != nil {
		log.Fatalf("Failed to create predictor: %v", err)
	}
	defer func() {
		if closer != nil {
			_ = closer.Close()
		}
	}()
	var c mcts.Predictor = &instrumentedClient{Predictor: predictor}

	written, err := store.OpenWrittenLog(cfg.writtenLog)
	if err != nil {
		log.Fatalf("Failed to open written log: %v", err)
	}
	defer written.Close()

	seed := cfg.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	slog.Info("starting self-play",
		"workers", cfg.workers,
		"sims", cfg.sims,
		"cpuct", cfg.cpuct,
		"epsilon", cfg.epsilon,
		"alpha", cfg.alpha,
		"temp_plies", cfg.tempPlies,
		"retain_tree", cfg.retainTree,
		"model", modelPath,
		"out_dir", cfg.outDir,
		"already_written", written.Count(),
		"seed", seed,
	)
	// One search has one request in flight, so batches cannot exceed the worker count.
	if modelPath != "" && cfg.onnxBatchSize > cfg.workers {
		slog.Warn("onnx batch size exceeds max in-flight requests", "batch_size", cfg.onnxBatchSize, "max_inflight", cfg.workers)
	}

	stats := &selfplay.RunStats{}
	updates := make(chan GameUpdate, cfg.workers)
	writeReqs := make(chan gameWriteRequest, cfg.workers*4)
	runCtx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	writerErr := make(chan error, 1)
	go func() {
		err := parquetWriterLoop(cfg.outDir, cfg.gamesPerFlush, cfg.flushEvery, written, writeReqs)
		if err != nil {
			cancel()
		}
		writerErr <- err
	}()

	start := time.Now()
	var nextGame atomic.Int64
	g, ctx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.workers; i++ {
		workerID := i
		g.Go(func() error {
			return runWorker(ctx, workerID, cfg, seed, c, modelPath, &nextGame, stats, writeReqs, updates)
		})
	}

	workersDone := make(chan error, 1)
	go func() {
		err := g.Wait()
		close(writeReqs)
		workersDone <- err
	}()

	var runErr error
	if cfg.tui {
		p := tea.NewProgram(initialModel(stats, updates), tea.WithAltScreen())
		finished := make(chan error, 1)
		go func() {
			err := <-workersDone
			finished <- err
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			slog.Error("tui failed", "error", err)
		}
		// Quitting the TUI early stops the workers too.
		cancel()
		runErr = <-finished
	} else {
		runErr = statsLoop(workersDone, updates, statsProvider, start)
	}

	if err := <-writerErr; err != nil {
		slog.Error("parquet writer failed", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("self-play aborted", "error", runErr)
	}

	snap := stats.Snapshot()
	elapsed := time.Since(start).Round(time.Second)
	summary := snap.Summary()
	slog.Info("shutdown complete", "games", snap.Games, "plies", snap.Plies, "elapsed", elapsed, "summary", summary)

	notifyCtx, cancelNotify := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelNotify()
	hook := notify.NewWebhook(cfg.notifyURL)
	host, _ := os.Hostname()
	if err := hook.Notify(notifyCtx, fmt.Sprintf("Finished: [%d Game/%d Step] in %s [%s]", snap.Games, snap.Plies, elapsed, host)); err != nil {
		slog.Warn("notify failed", "error", err)
	} else if err := hook.Notify(notifyCtx, summary); err != nil {
		slog.Warn("notify failed", "error", err)
	}
}

func newPredictor(cfg config) (mcts.Predictor, string, io.Closer, any, error) {
	if cfg.modelPath == "" {
		u := &inference.UniformPredictor{}
		slog.Info("no model given; using the uniform oracle")
		return u, "", nil, u, nil
	}
	modelPath := cfg.modelPath
	if resolved, err := filepath.EvalSymlinks(modelPath); err == nil {
		modelPath = resolved
	}
	onnxCfg := inference.OnnxClientConfig{
		BatchSize:    cfg.onnxBatchSize,
		BatchTimeout: cfg.onnxBatchTimeout,
		LogitPolicy:  cfg.onnxLogits,
	}
	if cfg.onnxSessions <= 1 {
		client, err := inference.NewOnnxClientWithConfig(modelPath, onnxCfg)
		if err != nil {
			return nil, "", nil, nil, err
		}
		return client, modelPath, client, client, nil
	}
	pool, err := inference.NewOnnxClientPoolWithConfig(modelPath, cfg.onnxSessions, onnxCfg)
	if err != nil {
		return nil, "", nil, nil, err
	}
	return pool, modelPath, pool, pool, nil
}

func runWorker(
	ctx context.Context,
	workerID int,
	cfg config,
	seed uint64,
	client mcts.Predictor,
	modelPath string,
	nextGame *atomic.Int64,
	stats *selfplay.RunStats,
	writeReqs chan<- gameWriteRequest,
	updates chan<- GameUpdate,
) error {
	rng := rand.New(rand.NewPCG(seed, uint64(workerID)))
	m := mcts.New(mcts.Config{
		Cpuct:   float32(cfg.cpuct),
		Epsilon: cfg.epsilon,
		Alpha:   cfg.alpha,
	}, client, rng)

	opts := selfplay.Options{
		Simulations: cfg.sims,
		TempPlies:   cfg.tempPlies,
		RetainTree:  cfg.retainTree,
		ModelPath:   modelPath,
		OnPly:       func() { totalMoves.Add(1) },
	}
	if cfg.trace && workerID == 0 {
		opts.Tracer = selfplay.NewTracer(os.Stdout)
	}

	slog.Debug("worker started", "worker", workerID)
	for {
		gameIndex := nextGame.Add(1) - 1
		if cfg.maxGames > 0 && gameIndex >= cfg.maxGames {
			return nil
		}

		out, err := selfplay.PlayGame(ctx, workerID, int(gameIndex), m, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("worker %d game %d: %w", workerID, gameIndex, err)
		}
		stats.Add(out.Result)

		select {
		case writeReqs <- gameWriteRequest{gameID: out.Result.GameID, rows: out.Rows}:
		case <-ctx.Done():
			return ctx.Err()
		}
		// Avoid blocking if nobody consumes updates.
		select {
		case updates <- GameUpdate{WorkerID: workerID, Result: out.Result}:
		default:
		}
	}
}

func statsLoop(done <-chan error, updates <-chan GameUpdate, statsProvider any, start time.Time) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case u := <-updates:
			slog.Debug("game finished",
				"worker", u.WorkerID,
				"game", u.Result.GameID,
				"first", u.Result.First,
				"reward", u.Result.Reward,
				"plies", u.Result.Plies,
			)
		case <-ticker.C:
			secs := time.Since(start).Seconds()
			moves := totalMoves.Load()
			inferences := totalInferences.Load()
			attrs := []any{
				"moves_per_sec", fmt.Sprintf("%.2f", float64(moves)/secs),
				"inf_per_sec", fmt.Sprintf("%.2f", float64(inferences)/secs),
			}
			if sp, ok := statsProvider.(interface{ Stats() inference.RuntimeStats }); ok {
				st := sp.Stats()
				attrs = append(attrs,
					"batch_avg", fmt.Sprintf("%.1f", st.AvgBatchSize),
					"batch_last", st.LastBatchSize,
					"queue", st.QueueLen,
					"run_avg_ms", fmt.Sprintf("%.2f", st.AvgRunMs),
				)
			}
			slog.Info("stats", attrs...)
		}
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		var f float64
		if _, err := fmt.Sscanf(val, "%g", &f); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}
