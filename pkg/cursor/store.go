package cursor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/scanarchiver/pkg/log"
	"github.com/cuemby/scanarchiver/pkg/metrics"
)

// Store persists cursor State as JSON files under a directory, one file
// per shard key, with a rotating backup. Each commit writes to the
// primary file via write-temp-then-rename for atomicity; a backup file
// is refreshed on a duty cycle rather than every commit, implementing the
// spec's "two-generation write-ahead."
type Store struct {
	dir           string
	mu            sync.Mutex
	writesSinceBk map[string]int
	backupEvery   int
}

// NewStore creates a Store rooted at dir. backupEvery controls how many
// primary writes happen between backup refreshes (0 disables the duty
// cycle and backs up on every write).
func NewStore(dir string, backupEvery int) *Store {
	if backupEvery <= 0 {
		backupEvery = 1
	}
	return &Store{
		dir:           dir,
		writesSinceBk: make(map[string]int),
		backupEvery:   backupEvery,
	}
}

func (s *Store) primaryPath(key Key) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-m%d-%s-%d_%d.json",
		key.Stream, key.MigrationID, sanitize(key.Synchronizer), key.ShardIndex, key.ShardTotal))
}

func (s *Store) backupPath(key Key) string {
	return s.primaryPath(key) + ".bak"
}

func sanitize(s string) string {
	if s == "" {
		return "default"
	}
	return s
}

// Load reads the primary file; on parse failure it tries the backup; on
// both failures it returns a zero-valued State (the caller decides
// whether to rebuild from the object store).
func (s *Store) Load(key Key) (State, error) {
	logger := log.WithComponent("cursor-store")

	primaryErr := loadJSON(s.primaryPath(key))
	if primaryErr.err == nil {
		return primaryErr.state, nil
	}

	backupErr := loadJSON(s.backupPath(key))
	if backupErr.err == nil {
		logger.Warn().Str("path", s.primaryPath(key)).Err(primaryErr.err).
			Msg("cursor primary unreadable, recovered from backup")
		metrics.CursorCorruptionsTotal.WithLabelValues(key.Stream, "backup").Inc()
		return backupErr.state, nil
	}

	logger.Error().Str("path", s.primaryPath(key)).
		Err(primaryErr.err).AnErr("backup_err", backupErr.err).
		Msg("cursor primary and backup both unreadable, returning zero-valued state")
	metrics.CursorCorruptionsTotal.WithLabelValues(key.Stream, "zero-value").Inc()
	return State{}, nil
}

type loadResult struct {
	state State
	err   error
}

func loadJSON(path string) loadResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return loadResult{err: err}
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return loadResult{err: err}
	}
	return loadResult{state: state}
}

// Save atomically persists state to the primary file, then refreshes the
// backup on the configured duty cycle.
func (s *Store) Save(key Key, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cursor store: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("cursor store: marshal: %w", err)
	}

	primary := s.primaryPath(key)
	if err := writeAtomic(primary, data); err != nil {
		return fmt.Errorf("cursor store: write primary: %w", err)
	}

	shardID := primary
	s.writesSinceBk[shardID]++
	if s.writesSinceBk[shardID] >= s.backupEvery {
		s.writesSinceBk[shardID] = 0
		if err := writeAtomic(s.backupPath(key), data); err != nil {
			return fmt.Errorf("cursor store: write backup: %w", err)
		}
	}

	metrics.CursorConfirmedBefore.WithLabelValues(key.Stream, fmt.Sprintf("%d", key.MigrationID)).
		Set(float64(state.ConfirmedBefore.Unix()))
	if state.RemoteConfirmedBefore != nil {
		metrics.CursorRemoteConfirmedBefore.WithLabelValues(key.Stream, fmt.Sprintf("%d", key.MigrationID)).
			Set(float64(state.RemoteConfirmedBefore.Unix()))
	}
	metrics.CursorCommitsTotal.WithLabelValues(key.Stream).Inc()

	return nil
}

// writeAtomic writes data to a temp file in the same directory as path,
// then renames it into place, so a crash mid-write never leaves a
// half-written cursor file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp-" + time.Now().UTC().Format("150405.000000000")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
