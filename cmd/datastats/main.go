package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

func main() {
	roots := flag.String("data", "data/generated", "Comma-separated directories of parquet shards")
	timeout := flag.Duration("timeout", 2*time.Minute, "Query timeout")
	flag.Parse()

	db, err := openDuckDB(strings.Split(*roots, ","))
	if err != nil {
		log.Fatalf("Failed to open data: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sum, err := summarize(ctx, db)
	if err != nil {
		log.Fatalf("Failed to summarize: %v", err)
	}
	printSummary(os.Stdout, sum)
}

func printSummary(w io.Writer, s Summary) {
	fmt.Fprintf(w, "Files:        %d\n", s.Files)
	fmt.Fprintf(w, "Rows:         %d\n", s.Rows)
	fmt.Fprintf(w, "Games:        %d\n", s.Games)
	if s.Games == 0 {
		return
	}
	fmt.Fprintf(w, "Avg plies:    %.2f\n", s.AvgPlies)
	fmt.Fprintf(w, "Mean max pi:  %.3f\n", s.MeanMaxPi)
	fmt.Fprintf(w, "Player W/L/D: %d/%d/%d (wins as O: %d)\n", s.Outcomes[1], s.Outcomes[-1], s.Outcomes[0], s.WinsAsO)

	fmt.Fprintln(w, "Openings:")
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			fmt.Fprintf(w, " %6d", s.Openings[r*3+c])
		}
		fmt.Fprintln(w)
	}
	for src, n := range s.Sources {
		fmt.Fprintf(w, "Source %-8s %d games\n", src, n)
	}
}
