// Package upload implements the back-pressured, byte- and count-aware
// concurrent upload queue: transient/permanent error classification,
// exponential-backoff retry, post-upload integrity verification, and a
// durable dead-letter log for uploads that exhaust retries.
package upload

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuemby/scanarchiver/pkg/log"
	"github.com/cuemby/scanarchiver/pkg/metrics"
	"github.com/cuemby/scanarchiver/pkg/objectstore"
)

// Config controls the queue's concurrency and back-pressure thresholds.
type Config struct {
	Concurrency    int
	CountHighWater int
	CountLowWater  int
	BytesHighWater int64
	BytesLowWater  int64
	DeadLetterPath string
	MaxRetries     int           // default 3
	BaseDelay      time.Duration // default 500ms
	MaxDelay       time.Duration // default 30s
}

// Entry is one file queued for upload.
type Entry struct {
	LocalPath  string
	RemotePath string
	SizeBytes  int64

	// done, when non-nil, receives the upload's terminal outcome exactly
	// once: nil on success, the dead-lettered error otherwise. Callers
	// that need to gate durability signals (cursor commit, completion
	// markers) on actual remote confirmation read from the channel
	// returned by Enqueue instead of constructing Entry directly.
	done chan error
}

// Stats mirrors the counters the spec requires the queue to track.
type Stats struct {
	UploadsAttempted int64
	UploadsSucceeded int64
	UploadsFailed    int64
	RetriesAttempted int64
	BytesUploaded    int64
	PeakQueueCount   int64
	PeakQueueBytes   int64
}

// Queue is the concurrent uploader. Producers call Enqueue; a fixed pool
// of workers drains the internal channel and invokes store.Put, retrying
// transient errors and dead-lettering the rest.
type Queue struct {
	cfg   Config
	store objectstore.Store

	mu          sync.Mutex
	queuedCount int
	queuedBytes int64
	active      int
	paused      bool
	stats       Stats

	entries chan Entry
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewQueue constructs a Queue and starts cfg.Concurrency persistent
// worker goroutines.
func NewQueue(cfg Config, store objectstore.Store) *Queue {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	q := &Queue{
		cfg:     cfg,
		store:   store,
		entries: make(chan Entry, cfg.CountHighWater+1),
		stopCh:  make(chan struct{}),
	}

	for i := 0; i < cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.runWorker(i)
	}
	return q
}

// Enqueue stats the file for size (0 on stat failure, queued anyway) and
// submits it for upload. shouldPause() becomes true once either water
// mark is crossed. The returned channel receives the upload's terminal
// outcome exactly once (nil on success); callers that must not advance a
// durability signal (cursor commit, completion marker) until the object
// store has actually acknowledged the file should wait on it instead of
// treating Enqueue as fire-and-forget.
func (q *Queue) Enqueue(localPath, remotePath string) <-chan error {
	size := int64(0)
	if info, err := os.Stat(localPath); err == nil {
		size = info.Size()
	}

	q.mu.Lock()
	q.queuedCount++
	q.queuedBytes += size
	if q.queuedCount > int(q.stats.PeakQueueCount) {
		q.stats.PeakQueueCount = int64(q.queuedCount)
	}
	if q.queuedBytes > q.stats.PeakQueueBytes {
		q.stats.PeakQueueBytes = q.queuedBytes
	}
	if q.queuedCount >= q.cfg.CountHighWater || q.queuedBytes >= q.cfg.BytesHighWater {
		q.paused = true
	}
	q.mu.Unlock()

	done := make(chan error, 1)
	q.entries <- Entry{LocalPath: localPath, RemotePath: remotePath, SizeBytes: size, done: done}
	metrics.UploadQueueDepth.Set(float64(q.queuedCount))
	metrics.UploadQueueBytes.Set(float64(q.queuedBytes))
	return done
}

// EnqueueAndWait enqueues the file and blocks until the upload reaches a
// terminal outcome (success, or dead-lettered after retry exhaustion /
// permanent failure), or ctx is cancelled first.
func (q *Queue) EnqueueAndWait(ctx context.Context, localPath, remotePath string) error {
	done := q.Enqueue(localPath, remotePath)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShouldPause reports whether producers must stop enqueueing. Callers
// apply cooperative back-pressure by polling this before each enqueue.
func (q *Queue) ShouldPause() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func (q *Queue) dequeueDone(size int64) {
	q.mu.Lock()
	q.queuedCount--
	q.queuedBytes -= size
	if q.queuedCount <= q.cfg.CountLowWater && q.queuedBytes <= q.cfg.BytesLowWater {
		q.paused = false
	}
	metrics.UploadQueueDepth.Set(float64(q.queuedCount))
	metrics.UploadQueueBytes.Set(float64(q.queuedBytes))
	if q.paused {
		metrics.UploadQueuePaused.Set(1)
	} else {
		metrics.UploadQueuePaused.Set(0)
	}
	q.mu.Unlock()
}

func (q *Queue) runWorker(id int) {
	defer q.wg.Done()

	for {
		select {
		case entry := <-q.entries:
			q.mu.Lock()
			q.active++
			q.mu.Unlock()

			q.upload(entry)

			q.mu.Lock()
			q.active--
			q.mu.Unlock()
			q.dequeueDone(entry.SizeBytes)
		case <-q.stopCh:
			if len(q.entries) == 0 {
				return
			}
		}
	}
}

// Stop terminates worker goroutines after draining the channel; callers
// should stop enqueueing before calling Stop.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// SnapshotStats returns a copy of the queue's running statistics.
func (q *Queue) SnapshotStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// ActiveUploads returns the current number of in-flight uploads.
func (q *Queue) ActiveUploads() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *Queue) upload(entry Entry) {
	logger := log.WithComponent("upload-queue")
	ctx := context.Background()

	attempt := 0
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = q.cfg.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.25
	eb.MaxInterval = q.cfg.MaxDelay
	policy := backoff.WithMaxRetries(eb, uint64(q.cfg.MaxRetries))

	operation := func() error {
		attempt++
		if attempt > 1 {
			q.mu.Lock()
			q.stats.RetriesAttempted++
			q.mu.Unlock()
			metrics.UploadRetriesTotal.Inc()
		}
		q.mu.Lock()
		q.stats.UploadsAttempted++
		q.mu.Unlock()
		metrics.UploadsAttemptedTotal.Inc()

		timer := metrics.NewTimer()
		err := q.attemptOnce(ctx, entry)
		timer.ObserveDuration(metrics.UploadDuration)
		if err == nil {
			return nil
		}

		if !IsTransient(err) {
			return backoff.Permanent(err)
		}

		logger.Warn().Str("remote_path", entry.RemotePath).Int("attempt", attempt).Err(err).
			Msg("transient upload failure, retrying")
		return err
	}

	err := backoff.Retry(operation, policy)
	if err == nil {
		q.mu.Lock()
		q.stats.UploadsSucceeded++
		q.stats.BytesUploaded += entry.SizeBytes
		q.mu.Unlock()
		metrics.UploadsSucceededTotal.Inc()
		metrics.UploadBytesTotal.Add(float64(entry.SizeBytes))
		if entry.done != nil {
			entry.done <- nil
		}
		return
	}

	q.mu.Lock()
	q.stats.UploadsFailed++
	q.mu.Unlock()
	metrics.UploadsFailedTotal.Inc()

	fileExists := true
	if _, statErr := os.Stat(entry.LocalPath); statErr != nil {
		fileExists = false
	}

	if q.cfg.DeadLetterPath != "" {
		dlErr := AppendDeadLetter(q.cfg.DeadLetterPath, DeadLetterRecord{
			LocalPath:  entry.LocalPath,
			RemotePath: entry.RemotePath,
			Error:      err.Error(),
			Timestamp:  time.Now().UTC(),
			FileExists: fileExists,
		})
		if dlErr != nil {
			logger.Error().Err(dlErr).Msg("failed to append dead-letter record")
		}
	}
	logger.Error().Str("remote_path", entry.RemotePath).Err(err).Msg("upload exhausted retries or hit permanent error")
	if entry.done != nil {
		entry.done <- err
	}
}

func (q *Queue) attemptOnce(ctx context.Context, entry Entry) error {
	if _, err := os.Stat(entry.LocalPath); err != nil {
		return fmt.Errorf("LocalFileMissing: %s", entry.LocalPath)
	}

	if err := q.store.Put(ctx, entry.LocalPath, entry.RemotePath); err != nil {
		return err
	}

	verify := VerifyIntegrity(ctx, q.store, entry.LocalPath, entry.RemotePath)
	if verify.Err != nil {
		return fmt.Errorf("Integrity check failed: %w", verify.Err)
	}
	return nil
}
