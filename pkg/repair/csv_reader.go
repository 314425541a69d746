package repair

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"
)

// CSVTimestampReader samples a timestamp column out of the CSV files the
// writer pool's default encoder produces. The physical format is the
// same opaque boundary the writer pool treats as external; this adapter
// exists so the repair tool has a concrete reader to run against files
// written by writer.CSVEncoder.
type CSVTimestampReader struct{}

func (CSVTimestampReader) SampleTimestamps(filePath string, column Column, sampleSize int) ([]time.Time, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", filePath, err)
	}

	colIdx := -1
	for i, name := range header {
		if name == string(column) {
			colIdx = i
			break
		}
	}
	if colIdx < 0 {
		return nil, nil
	}

	var timestamps []time.Time
	for len(timestamps) < sampleSize {
		record, err := r.Read()
		if err != nil {
			break
		}
		if colIdx >= len(record) {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, record[colIdx])
		if err != nil {
			// writer.CSVEncoder writes time.Time values with %v.
			ts, err = time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", record[colIdx])
			if err != nil {
				continue
			}
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, nil
}
