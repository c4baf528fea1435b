package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/brensch/tttzero/store"
)

type gameWriteRequest struct {
	gameID string
	rows   []store.TrainingRow
}

// parquetWriterLoop streams finished games into batch files, finalizing one
// every gamesPerFlush games or flushEvery, whichever comes first. Game IDs
// go into the written log only after their file has been renamed into place.
// It returns once in is closed and the last batch is flushed.
func parquetWriterLoop(outDir string, gamesPerFlush int, flushEvery time.Duration, written *store.WrittenLog, in <-chan gameWriteRequest) error {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}
	if flushEvery <= 0 {
		flushEvery = 10 * time.Minute
	}

	var bw *store.BatchWriter

	flush := func(reason string) error {
		if bw == nil {
			return nil
		}
		games := bw.BufferedGames()
		shard, err := bw.Finalize()
		bw = nil
		if err != nil {
			return fmt.Errorf("finalize batch (%d games): %w", games, err)
		}
		if shard.Path == "" {
			return nil
		}
		slog.Info("parquet flush ok", "path", shard.Path, "games", len(shard.GameIDs), "rows", shard.Rows, "reason", reason)
		if written != nil {
			if err := written.Record(shard); err != nil {
				return fmt.Errorf("record written games: %w", err)
			}
		}
		return nil
	}

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case req, ok := <-in:
			if !ok {
				return flush("final")
			}
			if len(req.rows) == 0 {
				continue
			}
			if written != nil {
				if shard, ok := written.Shard(req.gameID); ok {
					slog.Warn("duplicate game id, skipping", "game", req.gameID, "shard", shard)
					continue
				}
			}
			if bw == nil {
				var err error
				if bw, err = store.NewBatchWriter(outDir); err != nil {
					return err
				}
			}
			if bw.Has(req.gameID) {
				slog.Warn("duplicate game id in open batch, skipping", "game", req.gameID)
				continue
			}
			if err := bw.WriteGame(req.rows); err != nil {
				return fmt.Errorf("write game %s: %w", req.gameID, err)
			}
			if bw.BufferedGames() >= gamesPerFlush {
				if err := flush("games"); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if bw != nil && bw.BufferedGames() > 0 {
				if err := flush("interval"); err != nil {
					return err
				}
			}
		}
	}
}
