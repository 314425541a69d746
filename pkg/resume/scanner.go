// Package resume implements the scanner: it walks object-store
// Hive-style prefixes to discover the newest durably-written partition
// for each stream/migration and seeds a cursor's resume position when no
// cursor file exists yet. Results are cached in a local bbolt database,
// the same storage the teacher's durable stores use.
package resume

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/scanarchiver/pkg/cursor"
	"github.com/cuemby/scanarchiver/pkg/objectstore"
	"github.com/cuemby/scanarchiver/pkg/partition"
)

var bucketScanCache = []byte("scan_cache")

// cacheEntry is the cached result of scanning one prefix.
type cacheEntry struct {
	Keys        []string  `json:"keys"`
	LatestDay   partition.UTC `json:"latest_day"`
	MigrationID int64     `json:"migration_id"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// Scanner discovers the latest durable partition under an object-store
// prefix, caching results in a local bbolt database.
type Scanner struct {
	store objectstore.Store
	db    *bolt.DB
}

// Open opens (creating if needed) the bbolt cache database at dataDir/scan-cache.db.
func Open(dataDir string, store objectstore.Store) (*Scanner, error) {
	dbPath := filepath.Join(dataDir, "scan-cache.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open scan cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketScanCache)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create scan cache bucket: %w", err)
	}
	return &Scanner{store: store, db: db}, nil
}

func (s *Scanner) Close() error {
	return s.db.Close()
}

// FindLatestPartition lists every key under prefix and returns the newest
// observed UTC day across them. If the cached entry's key set is still
// exactly what List returns, the cached day is reused without
// re-parsing; any key absent from the cache invalidates it.
func (s *Scanner) FindLatestPartition(ctx context.Context, prefix string, migrationID int64) (partition.UTC, error) {
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return partition.UTC{}, fmt.Errorf("list prefix %s: %w", prefix, err)
	}

	cached, ok := s.readCache(prefix)
	if ok && sameKeySet(cached.Keys, keys) {
		return cached.LatestDay, nil
	}

	var latest partition.UTC
	found := false
	for _, key := range keys {
		parsed, err := partition.ParsePath(key)
		if err != nil {
			continue
		}
		if !found || afterDay(parsed.UTC, latest) {
			latest = parsed.UTC
			found = true
		}
	}
	if !found {
		return partition.UTC{}, fmt.Errorf("no parseable partitions under prefix %s", prefix)
	}

	s.writeCache(prefix, cacheEntry{Keys: keys, LatestDay: latest, MigrationID: migrationID, ScannedAt: time.Now()})
	return latest, nil
}

func (s *Scanner) readCache(prefix string) (cacheEntry, bool) {
	var entry cacheEntry
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanCache)
		data := b.Get([]byte(prefix))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return entry, found
}

func (s *Scanner) writeCache(prefix string, entry cacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanCache)
		return b.Put([]byte(prefix), data)
	})
}

func sameKeySet(cached, fresh []string) bool {
	if len(cached) != len(fresh) {
		return false
	}
	set := make(map[string]struct{}, len(cached))
	for _, k := range cached {
		set[k] = struct{}{}
	}
	for _, k := range fresh {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

func afterDay(a, b partition.UTC) bool {
	if a.Year != b.Year {
		return a.Year > b.Year
	}
	if a.Month != b.Month {
		return a.Month > b.Month
	}
	return a.Day > b.Day
}

// SeedResumeTime converts the latest observed partition day into a
// resume instant at the start of the following day (the earliest point
// at which new data could exist, since the discovered partition is
// presumed fully written).
func SeedResumeTime(day partition.UTC) time.Time {
	return time.Date(day.Year, time.Month(day.Month), day.Day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// SeedCursorIfEmpty scans prefix and, only if cur has no confirmed
// position yet (a fresh cursor file, the "no cursor file exists" case),
// sets ConfirmedBefore to the day after the newest partition found. A
// cursor that already has a confirmed position is left untouched; the
// scanner never overrides live progress.
func (s *Scanner) SeedCursorIfEmpty(ctx context.Context, cur *cursor.Cursor, prefix string, migrationID int64) error {
	if !cur.State().ConfirmedBefore.IsZero() {
		return nil
	}
	latest, err := s.FindLatestPartition(ctx, prefix, migrationID)
	if err != nil {
		return fmt.Errorf("seed cursor from prefix %s: %w", prefix, err)
	}
	_, err = cur.SaveAtomic(func(state *cursor.State) {
		state.ConfirmedBefore = SeedResumeTime(latest)
	})
	return err
}
