package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Summary describes a set of generated training shards.
type Summary struct {
	Files    int64
	Rows     int64
	Games    int64
	AvgPlies float64
	// Outcomes counts games by final reward from Player's perspective.
	Outcomes map[int]int64
	WinsAsO  int64
	// Openings counts the first move of each game by cell.
	Openings [9]int64
	// MeanMaxPi is the average of max(pi) over all rows; near 1 means searches are decisive.
	MeanMaxPi float64
	Sources   map[string]int64
}

// listShards finds finished parquet files under roots. Anything below a tmp/
// directory is still being written and is skipped.
func listShards(roots []string) ([]string, error) {
	var files []string
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "tmp" {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(d.Name(), ".parquet") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return files, nil
}

// openDuckDB exposes every finished shard under roots as the view "samples".
func openDuckDB(roots []string) (*sql.DB, error) {
	files, err := listShards(roots)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet files under %v", roots)
	}
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + escapeSQLString(f) + "'"
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA threads=4")

	// union_by_name tolerates shards written before optional columns existed.
	sqlText := `CREATE OR REPLACE VIEW samples AS
		SELECT * FROM read_parquet([` + strings.Join(quoted, ",") + `], filename=true, union_by_name=true)`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create view: %w", err)
	}
	return db, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func summarize(ctx context.Context, db *sql.DB) (Summary, error) {
	sum := Summary{Outcomes: map[int]int64{}, Sources: map[string]int64{}}

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT filename), COUNT(*), COUNT(DISTINCT game_id) FROM samples`,
	).Scan(&sum.Files, &sum.Rows, &sum.Games); err != nil {
		return sum, fmt.Errorf("count rows: %w", err)
	}
	if sum.Rows == 0 {
		return sum, nil
	}

	if err := db.QueryRowContext(ctx,
		`SELECT avg(n) FROM (SELECT COUNT(*) AS n FROM samples GROUP BY game_id)`,
	).Scan(&sum.AvgPlies); err != nil {
		return sum, fmt.Errorf("avg plies: %w", err)
	}

	if err := db.QueryRowContext(ctx,
		`SELECT avg(list_max(pi)) FROM samples`,
	).Scan(&sum.MeanMaxPi); err != nil {
		return sum, fmt.Errorf("mean max pi: %w", err)
	}

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT game_id) FROM samples WHERE z = 1 AND o_side = 0`,
	).Scan(&sum.WinsAsO); err != nil {
		return sum, fmt.Errorf("wins as O: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT CAST(z AS INTEGER), COUNT(*) FROM (
			SELECT game_id, any_value(z) AS z FROM samples GROUP BY game_id
		) GROUP BY 1 ORDER BY 1`)
	if err != nil {
		return sum, fmt.Errorf("outcomes: %w", err)
	}
	for rows.Next() {
		var z int
		var n int64
		if err := rows.Scan(&z, &n); err != nil {
			rows.Close()
			return sum, err
		}
		sum.Outcomes[z] = n
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `
		SELECT action, COUNT(*) FROM (
			SELECT action, row_number() OVER (PARTITION BY game_id ORDER BY ply) AS rn FROM samples
		) WHERE rn = 1
		GROUP BY action ORDER BY action`)
	if err != nil {
		return sum, fmt.Errorf("openings: %w", err)
	}
	for rows.Next() {
		var cell, n int64
		if err := rows.Scan(&cell, &n); err != nil {
			rows.Close()
			return sum, err
		}
		if cell >= 0 && cell < int64(len(sum.Openings)) {
			sum.Openings[cell] = n
		}
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT source, COUNT(DISTINCT game_id) FROM samples GROUP BY source ORDER BY source`)
	if err != nil {
		return sum, fmt.Errorf("sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			return sum, err
		}
		sum.Sources[src] = n
	}
	return sum, rows.Err()
}
