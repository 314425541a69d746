// Package repair implements the off-line partition-repair tool: it
// samples each file's timestamp column, decides whether the file sits in
// its correct Hive partition, and emits move/split actions for an
// external mover to execute, plus a post-move verification pass.
package repair

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/scanarchiver/pkg/partition"
)

// Column names the timestamp field to sample, matching the stream kind.
type Column string

const (
	ColumnEffectiveAt  Column = "effective_at"
	ColumnSnapshotTime Column = "snapshot_time"
)

// ActionKind classifies what the repair tool decided to do with a file.
type ActionKind string

const (
	ActionSkip     ActionKind = "skip"      // observed days match the parsed partition
	ActionSkipNoop ActionKind = "skip-noop" // no timestamps could be read
	ActionMove     ActionKind = "move"      // all rows share one different day
	ActionSplit    ActionKind = "split"     // rows span multiple days
)

// TimestampReader samples a bounded set of timestamps from one column of
// a file. The physical file format is an opaque collaborator (the same
// non-goal boundary as the writer pool's Encoder).
type TimestampReader interface {
	SampleTimestamps(filePath string, column Column, sampleSize int) ([]time.Time, error)
}

// Catalog entry describing one existing file under a stream root.
type CatalogEntry struct {
	FilePath  string // local or object-store path to the existing file
	Partition string // the partition key parsed from FilePath's directory
	Column    Column
}

// Action is one instruction for the external mover.
type Action struct {
	Kind        ActionKind
	Source      CatalogEntry
	Destination string   // for Move: single destination path; unused for Split
	SplitDays   []string // for Split: one destination partition per observed day
}

// Plan classifies one catalog entry by sampling its timestamp column and
// comparing observed UTC days against the partition parsed from its path.
func Plan(reader TimestampReader, entry CatalogEntry, sampleSize int) (Action, error) {
	parsed, err := partition.ParsePath(entry.Partition)
	if err != nil {
		return Action{}, fmt.Errorf("parse partition for %s: %w", entry.FilePath, err)
	}

	timestamps, err := reader.SampleTimestamps(entry.FilePath, entry.Column, sampleSize)
	if err != nil {
		return Action{}, fmt.Errorf("sample timestamps for %s: %w", entry.FilePath, err)
	}
	if len(timestamps) == 0 {
		return Action{Kind: ActionSkipNoop, Source: entry}, nil
	}

	days := sortedDays(observedDays(timestamps))

	if len(days) == 1 && days[0] == parsed.UTC {
		return Action{Kind: ActionSkip, Source: entry}, nil
	}

	if len(days) == 1 {
		dest, err := destinationPath(parsed, days[0])
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionMove, Source: entry, Destination: dest}, nil
	}

	dests := make([]string, 0, len(days))
	for _, day := range days {
		dest, err := destinationPath(parsed, day)
		if err != nil {
			return Action{}, err
		}
		dests = append(dests, dest)
	}
	return Action{Kind: ActionSplit, Source: entry, SplitDays: dests}, nil
}

func observedDays(timestamps []time.Time) map[partition.UTC]struct{} {
	days := make(map[partition.UTC]struct{})
	for _, ts := range timestamps {
		u := ts.UTC()
		days[partition.UTC{Year: u.Year(), Month: int(u.Month()), Day: u.Day()}] = struct{}{}
	}
	return days
}

func sortedDays(days map[partition.UTC]struct{}) []partition.UTC {
	out := make([]partition.UTC, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].Day < out[j].Day
	})
	return out
}

func destinationPath(parsed partition.ParsedPath, day partition.UTC) (string, error) {
	t := time.Date(day.Year, time.Month(day.Month), day.Day, 0, 0, 0, 0, time.UTC)
	if parsed.IsACS {
		return partition.ACSPath(t, parsed.MigrationID)
	}
	return partition.Path(t, parsed.MigrationID, parsed.Type, parsed.Source)
}
