package repair

import (
	"fmt"
	"time"

	"github.com/cuemby/scanarchiver/pkg/partition"
)

// VerifyResult is the outcome of re-sampling one moved file's destination
// partition. A non-nil Mismatch means the move landed rows in the wrong
// place and the caller should exit non-zero.
type VerifyResult struct {
	FilePath  string
	OK        bool
	Mismatch  *time.Time // first row whose UTC day doesn't match the destination
}

// VerifyMove re-samples destPath's timestamp column and fails on the first
// row whose UTC day does not match destPartition.
func VerifyMove(reader TimestampReader, destPath, destPartition string, column Column, sampleSize int) (VerifyResult, error) {
	parsed, err := partition.ParsePath(destPartition)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("parse destination partition %s: %w", destPartition, err)
	}

	timestamps, err := reader.SampleTimestamps(destPath, column, sampleSize)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("sample destination %s: %w", destPath, err)
	}

	for _, ts := range timestamps {
		u := ts.UTC()
		day := partition.UTC{Year: u.Year(), Month: int(u.Month()), Day: u.Day()}
		if day != parsed.UTC {
			mismatch := ts
			return VerifyResult{FilePath: destPath, OK: false, Mismatch: &mismatch}, nil
		}
	}
	return VerifyResult{FilePath: destPath, OK: true}, nil
}

// ResolvedMove pairs a file that was actually moved on disk with the
// partition it was moved into. The mover (not this package) knows the
// real destination file path, since Action.Destination/SplitDays carry
// only the destination partition directory, not a file name.
type ResolvedMove struct {
	DestPath      string
	DestPartition string
	Column        Column
}

// VerifyAll re-samples every resolved move's destination file and
// returns the first one whose rows don't match its new partition.
func VerifyAll(reader TimestampReader, moves []ResolvedMove, sampleSize int) (VerifyResult, error) {
	for _, m := range moves {
		result, err := VerifyMove(reader, m.DestPath, m.DestPartition, m.Column, sampleSize)
		if err != nil {
			return VerifyResult{}, err
		}
		if !result.OK {
			return result, nil
		}
	}
	return VerifyResult{OK: true}, nil
}
