// Package partition computes UTC-correct Hive-style partition paths and
// object-store keys for updates, events, and ACS snapshots.
package partition

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/scanarchiver/pkg/scanerr"
)

// Type is the partitioned record family.
type Type string

const (
	Updates Type = "updates"
	Events  Type = "events"
)

// Source distinguishes the stream that produced a partition.
type Source string

const (
	Backfill Source = "backfill"
	Live     Source = "updates"
)

// UTC holds the unpadded UTC date components of an instant.
type UTC struct {
	Year  int
	Month int
	Day   int
}

// UTCPartition derives the UTC year/month/day of instant t. It fails with
// an *scanerr.ValidationError when t is the zero time, since a zero time
// almost always means a required timestamp was never set.
func UTCPartition(t time.Time) (UTC, error) {
	if t.IsZero() {
		return UTC{}, scanerr.NewInvalidTimestamp("", "instant is zero-valued")
	}
	u := t.UTC()
	return UTC{Year: u.Year(), Month: int(u.Month()), Day: u.Day()}, nil
}

// Path returns "{source}/{type}/migration={M}/year={Y}/month={m}/day={d}".
// A negative migrationID is not rejected; it is formatted as is. Nil migration IDs are
// represented by callers as 0 before reaching this function, per spec
// (0 is a valid, distinct migration).
func Path(t time.Time, migrationID int64, typ Type, source Source) (string, error) {
	u, err := UTCPartition(t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/migration=%d/year=%d/month=%d/day=%d",
		source, typ, migrationID, u.Year, u.Month, u.Day), nil
}

// ACSPath returns "acs/migration={M}/year={Y}/month={m}/day={d}/snapshot_id={HHMMSS}".
// snapshot_id is zero-padded because it is a string identifier, not an
// integer partition value.
func ACSPath(t time.Time, migrationID int64) (string, error) {
	u, err := UTCPartition(t)
	if err != nil {
		return "", err
	}
	snapshotID := t.UTC().Format("150405")
	return fmt.Sprintf("acs/migration=%d/year=%d/month=%d/day=%d/snapshot_id=%s",
		migrationID, u.Year, u.Month, u.Day, snapshotID), nil
}

// Partitionable is the minimal shape groupByPartition needs from a record:
// an effective timestamp and an identifier for error reporting.
type Partitionable interface {
	PartitionTime() time.Time
	PartitionID() string
}

// GroupByPartition splits records spanning multiple UTC days into
// per-partition groups keyed by the partition path. It fails if any record
// has a zero effective_at.
func GroupByPartition[T Partitionable](records []T, typ Type, source Source, migrationID int64) (map[string][]T, error) {
	groups := make(map[string][]T)
	for _, r := range records {
		t := r.PartitionTime()
		if t.IsZero() {
			return nil, scanerr.NewInvalidTimestamp(r.PartitionID(), "effective_at is missing")
		}
		key, err := Path(t, migrationID, typ, source)
		if err != nil {
			return nil, err
		}
		groups[key] = append(groups[key], r)
	}
	return groups, nil
}

// SortedKeys returns the partition keys of a GroupByPartition result in
// deterministic order, for callers (writer pool dispatch, tests) that need
// stable iteration.
func SortedKeys[T any](groups map[string][]T) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToStorePath normalizes platform path separators to "/" for use as an
// object-store key.
func ToStorePath(local string) string {
	return strings.ReplaceAll(local, `\`, "/")
}

// ParsedPath is the inverse of Path/ACSPath: the partition fields recovered
// from a Hive-style key, for the scanner/resumer and partition-repair tool.
type ParsedPath struct {
	Source      Source
	Type        Type
	MigrationID int64
	UTC         UTC
	SnapshotID  string // set only for ACS paths
	IsACS       bool
}

// ParsePath extracts the partition fields from a Hive-style key produced
// by Path or ACSPath. It tolerates an arbitrary prefix (object-store
// bucket directory) before the recognized segments.
func ParsePath(key string) (ParsedPath, error) {
	segments := strings.Split(ToStorePath(key), "/")
	var p ParsedPath
	found := map[string]string{}

	migrationIdx := -1
	for i, seg := range segments {
		if eq := strings.IndexByte(seg, '='); eq >= 0 {
			found[seg[:eq]] = seg[eq+1:]
			if seg[:eq] == "migration" && migrationIdx < 0 {
				migrationIdx = i
			}
			continue
		}
	}

	if migrationIdx < 0 {
		return ParsedPath{}, fmt.Errorf("partition path %q missing migration= segment", key)
	}
	if migrationIdx >= 1 && segments[migrationIdx-1] == "acs" {
		p.IsACS = true
	} else if migrationIdx >= 2 {
		p.Source = Source(segments[migrationIdx-2])
		p.Type = Type(segments[migrationIdx-1])
	} else {
		return ParsedPath{}, fmt.Errorf("partition path %q missing source/type segments before migration=", key)
	}

	migration := found["migration"]
	if _, err := fmt.Sscanf(migration, "%d", &p.MigrationID); err != nil {
		return ParsedPath{}, fmt.Errorf("partition path %q has invalid migration value %q", key, migration)
	}

	year, yok := found["year"]
	month, mok := found["month"]
	day, dok := found["day"]
	if !yok || !mok || !dok {
		return ParsedPath{}, fmt.Errorf("partition path %q missing year/month/day segment", key)
	}
	if _, err := fmt.Sscanf(year, "%d", &p.UTC.Year); err != nil {
		return ParsedPath{}, fmt.Errorf("partition path %q has invalid year value %q", key, year)
	}
	if _, err := fmt.Sscanf(month, "%d", &p.UTC.Month); err != nil {
		return ParsedPath{}, fmt.Errorf("partition path %q has invalid month value %q", key, month)
	}
	if _, err := fmt.Sscanf(day, "%d", &p.UTC.Day); err != nil {
		return ParsedPath{}, fmt.Errorf("partition path %q has invalid day value %q", key, day)
	}

	if snap, ok := found["snapshot_id"]; ok {
		p.SnapshotID = snap
		p.IsACS = true
	}

	return p, nil
}
