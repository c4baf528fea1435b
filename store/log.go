package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WrittenLog maps each persisted game ID to the shard file holding it, one
// "<game id> <shard name>" line per game. Games are recorded only after their
// shard is renamed into place, so a crash can lose log lines but never claim
// a game that is not on disk.
//
// A torn final line keeps its game ID with an unknown shard.
type WrittenLog struct {
	mu     sync.RWMutex
	file   *os.File
	shards map[string]string
}

func OpenWrittenLog(path string) (*WrittenLog, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}

	shards := make(map[string]string)
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			switch len(fields) {
			case 0:
			case 1:
				shards[fields[0]] = ""
			default:
				shards[fields[0]] = fields[1]
			}
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &WrittenLog{file: file, shards: shards}, nil
}

func (l *WrittenLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *WrittenLog) Has(gameID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.shards[gameID]
	return ok
}

// Shard returns the name of the shard holding gameID.
func (l *WrittenLog) Shard(gameID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, ok := l.shards[gameID]
	return name, ok
}

func (l *WrittenLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.shards)
}

// Record appends every game of a finalized shard and syncs once. Games
// already in the log keep their first shard.
func (l *WrittenLog) Record(s Shard) error {
	if len(s.GameIDs) == 0 {
		return nil
	}
	name := s.Name()
	if name == "" || name == "." || strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("bad shard name %q", s.Path)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("log file is closed")
	}

	var sb strings.Builder
	added := make(map[string]struct{}, len(s.GameIDs))
	for _, id := range s.GameIDs {
		if id == "" {
			continue
		}
		if _, ok := l.shards[id]; ok {
			continue
		}
		if _, ok := added[id]; ok {
			continue
		}
		added[id] = struct{}{}
		sb.WriteString(id)
		sb.WriteByte(' ')
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	if len(added) == 0 {
		return nil
	}
	if _, err := l.file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	for id := range added {
		l.shards[id] = name
	}
	return nil
}
