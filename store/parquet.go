package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// Schema is written into every file's key/value metadata.
const Schema = "ttt_training_row_v1"

// TrainingRow is a single (state, pi, z) training sample.
//
// State is the encoder tensor the search saw at this ply, laid out
// [channels, 3, 3] as float32 0/1 values.
// Pi is the root visit distribution over the 9 cells.
// Z is the final game reward from the Player side's perspective in {-1, 0, 1};
// every row of a game carries the same Z.
type TrainingRow struct {
	GameID string    `parquet:"game_id,dict"`
	Ply    int32     `parquet:"ply"`
	Actor  int32     `parquet:"actor"`
	OSide  int32     `parquet:"o_side"`
	State  []float32 `parquet:"state"`
	Pi     []float32 `parquet:"pi"`
	Z      float32   `parquet:"z"`
	// Board is the position before the move, e.g. "XO.|.X.|..O", for eyeballing.
	Board  string `parquet:"board"`
	Action int32  `parquet:"action"`
	Sims   int32  `parquet:"sims"`
	Source string `parquet:"source,dict"`

	// ModelPath is the resolved path to the ONNX model used to generate this game.
	// Empty for games played with the uniform oracle.
	ModelPath string `parquet:"model_path,dict,optional"`
}

func writeOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("state"),
		parquet.KeyValueMetadata("schema", Schema),
	}
}

// WriteGameParquet writes rows to outPath via a temp file and rename.
func WriteGameParquet(outPath string, rows []TrainingRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writeOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// ReadParquet loads every row of a training file.
func ReadParquet(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// ListParquet returns the finished parquet files directly under dir, skipping tmp/.
func ListParquet(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
