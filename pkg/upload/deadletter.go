package upload

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/scanarchiver/pkg/metrics"
)

// DeadLetterRecord is one line of the dead-letter JSONL log.
type DeadLetterRecord struct {
	LocalPath  string    `json:"localPath"`
	RemotePath string    `json:"remotePath"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
	FileExists bool      `json:"fileExists"`
}

// AppendDeadLetter appends one record to the JSONL log at path, creating
// it if necessary. The log is append-only from any worker; compaction
// happens only in ProcessDeadLetterLog.
func AppendDeadLetter(path string, rec DeadLetterRecord) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dead-letter log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	metrics.DeadLetterEntriesTotal.Inc()
	return nil
}

// DeadLetterSweepResult summarizes a ProcessDeadLetterLog run.
type DeadLetterSweepResult struct {
	Total        int
	Unique       int
	Deduplicated int
	Retried      int
	Remaining    int
	NoFile       int
}

// ProcessDeadLetterLog reads path, deduplicates by remotePath keeping the
// latest timestamp, retries each unique entry via retry, and rewrites the
// log with any still-failing entries. Entries whose local file no longer
// exists are dropped as non-recoverable and counted in NoFile.
func ProcessDeadLetterLog(path string, dryRun bool, retry func(rec DeadLetterRecord) error) (DeadLetterSweepResult, error) {
	records, err := readDeadLetterLog(path)
	if err != nil {
		return DeadLetterSweepResult{}, err
	}

	latest := make(map[string]DeadLetterRecord, len(records))
	for _, rec := range records {
		existing, ok := latest[rec.RemotePath]
		if !ok || rec.Timestamp.After(existing.Timestamp) {
			latest[rec.RemotePath] = rec
		}
	}

	result := DeadLetterSweepResult{
		Total:        len(records),
		Unique:       len(latest),
		Deduplicated: len(records) - len(latest),
	}

	var remaining []DeadLetterRecord
	for _, rec := range latest {
		if _, err := os.Stat(rec.LocalPath); err != nil {
			result.NoFile++
			continue
		}
		if dryRun {
			remaining = append(remaining, rec)
			continue
		}
		if err := retry(rec); err != nil {
			rec.Error = err.Error()
			rec.Timestamp = time.Now().UTC()
			remaining = append(remaining, rec)
			continue
		}
		result.Retried++
	}
	result.Remaining = len(remaining)

	if dryRun {
		return result, nil
	}
	return result, rewriteDeadLetterLog(path, remaining)
}

func readDeadLetterLog(path string) ([]DeadLetterRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []DeadLetterRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec DeadLetterRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func rewriteDeadLetterLog(path string, records []DeadLetterRecord) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
