// Package writer implements the fixed-size pool of long-lived workers that
// convert record batches into columnar files. The file encoder itself is
// treated as an opaque collaborator (spec §1 non-goal): Encoder is the
// interface boundary, and Pool only validates column presence and
// dispatches jobs, exactly as the spec describes the writer's job.
package writer

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/scanarchiver/pkg/log"
	"github.com/cuemby/scanarchiver/pkg/metrics"
)

// Row is one output record, keyed by column name. Using a generic map
// lets one Pool serve updates, events, and ACS contracts without a
// type parameter threading through the whole pipeline.
type Row map[string]interface{}

// WriteJob is one unit of work submitted to the pool.
type WriteJob struct {
	Type    string // "updates", "events", "acs"
	Path    string // local temp file path to produce
	Records []Row
	Schema  []string // expected column names, for presence validation
}

// WriteResult is returned for every submitted job, successful or not.
type WriteResult struct {
	OK         bool
	FilePath   string
	RowCount   int
	ByteSize   int64
	Validation []string // missing-column warnings; empty when clean
	Err        error
}

// Encoder is the opaque columnar file encoder. EncodeFile writes rows to
// path in whatever physical format the concrete encoder implements and
// returns the resulting byte size.
type Encoder interface {
	EncodeFile(path string, rows []Row) (byteSize int64, err error)
}

type jobRequest struct {
	job    WriteJob
	result chan WriteResult
}

// Pool is a fixed pool of W persistent workers. Workers are spawned once
// at construction and run until Shutdown; submitting a job blocks the
// caller while all workers are busy, which is the pool's back-pressure
// signal to upstream producers.
type Pool struct {
	jobs    chan jobRequest
	stopCh  chan struct{}
	encoder Encoder
}

// NewPool spawns `workers` persistent goroutines, backed by encoder.
func NewPool(workers int, encoder Encoder) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		jobs:    make(chan jobRequest),
		stopCh:  make(chan struct{}),
		encoder: encoder,
	}
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) runWorker(id int) {
	logger := log.WithComponent("writer-pool").With().Int("worker_id", id).Logger()
	for {
		select {
		case req := <-p.jobs:
			result := p.process(req.job)
			req.result <- result
		case <-p.stopCh:
			logger.Info().Msg("writer worker shutting down")
			return
		}
	}
}

func (p *Pool) process(job WriteJob) WriteResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.WriterJobDuration, job.Type)

	missing := validateColumns(job.Records, job.Schema)

	byteSize, err := p.encoder.EncodeFile(job.Path, job.Records)
	if err != nil {
		metrics.WriterJobsTotal.WithLabelValues(job.Type, "error").Inc()
		return WriteResult{OK: false, FilePath: job.Path, Validation: missing, Err: fmt.Errorf("encode file: %w", err)}
	}

	metrics.WriterJobsTotal.WithLabelValues(job.Type, "ok").Inc()
	metrics.WriterRowsTotal.WithLabelValues(job.Type).Add(float64(len(job.Records)))

	return WriteResult{
		OK:         true,
		FilePath:   job.Path,
		RowCount:   len(job.Records),
		ByteSize:   byteSize,
		Validation: missing,
	}
}

// validateColumns reports which schema columns never appear in any row.
// The writer is oblivious to what a missing column means semantically; it
// only surfaces the fact for the caller to log.
func validateColumns(rows []Row, schema []string) []string {
	if len(schema) == 0 {
		return nil
	}
	present := make(map[string]bool, len(schema))
	for _, row := range rows {
		for _, col := range schema {
			if _, ok := row[col]; ok {
				present[col] = true
			}
		}
	}
	var missing []string
	for _, col := range schema {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

// Submit blocks until a worker accepts job, then blocks until that worker
// returns a result. This is the pool's back-pressure mechanism: when all
// workers are busy, the unbuffered jobs channel makes the caller wait.
func (p *Pool) Submit(job WriteJob) WriteResult {
	req := jobRequest{job: job, result: make(chan WriteResult, 1)}
	p.jobs <- req
	return <-req.result
}

// Shutdown terminates all workers. In-flight jobs are allowed to finish;
// no new job is accepted after Shutdown returns.
func (p *Pool) Shutdown() {
	close(p.stopCh)
}

// TempPath builds a local scratch path for a write job under dir, named
// deterministically enough to avoid collisions between concurrent jobs.
func TempPath(dir, partitionKey string, seq int) string {
	safe := make([]byte, 0, len(partitionKey))
	for _, r := range partitionKey {
		if r == '/' {
			safe = append(safe, '_')
			continue
		}
		safe = append(safe, byte(r))
	}
	return fmt.Sprintf("%s/%s-%d-%d.part", dir, string(safe), time.Now().UnixNano(), seq)
}

// EnsureDir creates dir (and parents) if it doesn't already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
