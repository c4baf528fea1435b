package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

var (
	ErrDuplicateGame = errors.New("game already in shard")
	ErrBadGame       = errors.New("malformed game rows")
)

// Shard describes one finalized parquet file.
type Shard struct {
	Path    string
	Rows    int
	GameIDs []string
}

// Name is the file name of the shard, the form the WrittenLog records.
func (s Shard) Name() string { return filepath.Base(s.Path) }

// BatchWriter streams whole games into one shard under outDir/tmp and moves it
// into outDir on Finalize. A game is the unit of writing: its rows share one
// GameID and carry consecutive plies in order.
type BatchWriter struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[TrainingRow]

	games []string
	seen  map[string]struct{}
	rows  int
}

func NewBatchWriter(outDir string) (*BatchWriter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	// Shards from concurrent runs into the same directory must not collide.
	name := fmt.Sprintf("selfplay_%s_%s.parquet", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
	tmpPath := filepath.Join(tmpDir, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}
	return &BatchWriter{
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, name),
		file:    f,
		writer:  parquet.NewGenericWriter[TrainingRow](f, writeOptions()...),
		seen:    make(map[string]struct{}),
	}, nil
}

func (b *BatchWriter) TmpPath() string    { return b.tmpPath }
func (b *BatchWriter) OutPath() string    { return b.outPath }
func (b *BatchWriter) BufferedGames() int { return len(b.games) }
func (b *BatchWriter) BufferedRows() int  { return b.rows }

// Has reports whether gameID is already buffered in this shard.
func (b *BatchWriter) Has(gameID string) bool {
	_, ok := b.seen[gameID]
	return ok
}

// WriteGame appends all rows of one finished game. Empty games are ignored.
func (b *BatchWriter) WriteGame(rows []TrainingRow) error {
	if b.writer == nil {
		return fmt.Errorf("batch writer is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	id := rows[0].GameID
	if id == "" {
		return fmt.Errorf("%w: empty game id", ErrBadGame)
	}
	for i := range rows {
		if rows[i].GameID != id {
			return fmt.Errorf("%w: row %d belongs to %s, not %s", ErrBadGame, i, rows[i].GameID, id)
		}
		if rows[i].Ply != rows[0].Ply+int32(i) {
			return fmt.Errorf("%w: game %s row %d has ply %d", ErrBadGame, id, i, rows[i].Ply)
		}
	}
	if b.Has(id) {
		return fmt.Errorf("%w: %s", ErrDuplicateGame, id)
	}

	if _, err := b.writer.Write(rows); err != nil {
		return fmt.Errorf("write game %s: %w", id, err)
	}
	b.seen[id] = struct{}{}
	b.games = append(b.games, id)
	b.rows += len(rows)
	return nil
}

// Finalize closes the shard and renames it from tmp/ into outDir. A shard
// with no games is removed and the returned Shard is zero.
func (b *BatchWriter) Finalize() (Shard, error) {
	if b.writer == nil {
		return Shard{}, nil
	}
	closeErr := b.writer.Close()
	b.writer = nil
	_ = b.file.Sync()
	fileErr := b.file.Close()
	b.file = nil
	if closeErr != nil {
		return Shard{}, fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return Shard{}, fmt.Errorf("close parquet file: %w", fileErr)
	}

	if len(b.games) == 0 {
		_ = os.Remove(b.tmpPath)
		return Shard{}, nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return Shard{}, fmt.Errorf("rename parquet: %w", err)
	}
	return Shard{Path: b.outPath, Rows: b.rows, GameIDs: b.games}, nil
}
