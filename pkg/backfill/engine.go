// Package backfill implements the historical ingestion engine: a
// time-range-sharded parallel fetcher with a conservative cursor
// invariant so a crash never leaves a durable gap.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/scanarchiver/pkg/cursor"
	"github.com/cuemby/scanarchiver/pkg/dedup"
	"github.com/cuemby/scanarchiver/pkg/log"
	"github.com/cuemby/scanarchiver/pkg/metrics"
	"github.com/cuemby/scanarchiver/pkg/partition"
	"github.com/cuemby/scanarchiver/pkg/scanapi"
	"github.com/cuemby/scanarchiver/pkg/schema"
	"github.com/cuemby/scanarchiver/pkg/upload"
	"github.com/cuemby/scanarchiver/pkg/writer"
)

// Config bounds one backfill run.
type Config struct {
	MigrationID     int64
	NumSlices       int
	PageSize        int
	DedupCapacity   int
	MaxSliceRetries int // worker-crash retries per slice; spec default 3
	RemoteDir       string
}

func (c Config) withDefaults() Config {
	if c.NumSlices <= 0 {
		c.NumSlices = 8
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = 100_000
	}
	if c.MaxSliceRetries <= 0 {
		c.MaxSliceRetries = 3
	}
	return c
}

// Engine drives one backfill run over a fixed time window.
type Engine struct {
	api    *scanapi.Client
	writer *writer.Pool
	queue  *upload.Queue
	cur    *cursor.Cursor
	cfg    Config
	logger zerolog.Logger
	seq    int64
}

func NewEngine(api *scanapi.Client, w *writer.Pool, q *upload.Queue, cur *cursor.Cursor, cfg Config) *Engine {
	return &Engine{
		api:    api,
		writer: w,
		queue:  q,
		cur:    cur,
		cfg:    cfg.withDefaults(),
		logger: log.WithStream("backfill"),
	}
}

// Run fetches every slice of [maxTime, minTime) in parallel and advances
// the cursor to the safe contiguous-complete boundary when done.
func (e *Engine) Run(ctx context.Context, maxTime, minTime time.Time) error {
	boundaries := PlanSlices(maxTime, minTime, e.cfg.NumSlices)
	if len(boundaries) == 0 {
		return nil
	}
	completed := make([]bool, len(boundaries))
	earliest := make([]*time.Time, len(boundaries))
	seen := dedup.NewSet(e.cfg.DedupCapacity)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, b := range boundaries {
		wg.Add(1)
		go func(i int, b Boundary) {
			defer wg.Done()
			sliceEarliest, err := e.runSliceWithRetry(ctx, i, b, seen)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Error().Err(err).Int("slice", i).Msg("slice failed, remains incomplete")
				return
			}
			completed[i] = true
			earliest[i] = sliceEarliest
			metrics.BackfillSlicesCompleted.WithLabelValues(migrationLabel(e.cfg.MigrationID)).Inc()
		}(i, b)
	}
	wg.Wait()

	// Every completed slice's writeAndUpload has already blocked until the
	// object store confirmed its files (see waitAll below), so by the time
	// a contiguous prefix is known complete, its data is durably uploaded
	// and the remote checkpoint can safely be synced to the same boundary.
	safe := SafeCursorBoundary(maxTime, completed, earliest, boundaries)
	state, err := e.cur.SaveAtomic(func(s *cursor.State) {
		s.ConfirmedBefore = safe
	})
	if err != nil {
		return fmt.Errorf("advance backfill cursor: %w", err)
	}
	if err := e.cur.ConfirmRemote(state.ConfirmedBefore, &state.ConfirmedUpdates, &state.ConfirmedEvents); err != nil {
		return fmt.Errorf("confirm remote backfill cursor: %w", err)
	}
	e.logger.Info().Time("safe_boundary", safe).Int("contiguous_complete", ContiguousCompleteCount(completed)).Msg("backfill cursor advanced")
	return nil
}

// runSliceWithRetry runs a slice once and, on failure, re-runs it from
// its upper bound up to MaxSliceRetries more times, per the spec's
// worker-crash recovery rule.
func (e *Engine) runSliceWithRetry(ctx context.Context, i int, b Boundary, seen *dedup.Set) (*time.Time, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxSliceRetries; attempt++ {
		earliest, err := e.runSlice(ctx, i, b, seen)
		if err == nil {
			return earliest, nil
		}
		lastErr = err
		e.logger.Warn().Err(err).Int("slice", i).Int("retry", attempt).Msg("slice attempt failed")
	}
	return nil, lastErr
}

// runSlice walks one slice backward in time from b.Before to b.After,
// paginating until no more data or no pagination progress is made.
func (e *Engine) runSlice(ctx context.Context, sliceIdx int, b Boundary, seen *dedup.Set) (*time.Time, error) {
	timer := metrics.NewTimer()
	defer func() {
		metrics.BackfillSliceDuration.WithLabelValues(migrationLabel(e.cfg.MigrationID)).Observe(timer.Duration().Seconds())
	}()

	cursorTime := b.Before
	var earliest *time.Time

	for {
		page, err := e.api.GetUpdates(ctx, cursorTime, e.cfg.PageSize)
		if err != nil {
			return earliest, fmt.Errorf("slice %d fetch before=%s: %w", sliceIdx, cursorTime, err)
		}
		envelopes := page.Envelopes()
		if len(envelopes) == 0 {
			return earliest, nil
		}

		updates, events, oldest, err := e.normalizeEnvelopes(envelopes, b, seen)
		if err != nil {
			return earliest, err
		}

		if len(updates) > 0 {
			if err := e.writeAndUpload(ctx, updates, events); err != nil {
				return earliest, fmt.Errorf("slice %d write/upload: %w", sliceIdx, err)
			}
			for _, u := range updates {
				if earliest == nil || u.EffectiveAt.Before(*earliest) {
					t := u.EffectiveAt
					earliest = &t
				}
			}
		}

		if !oldest.Before(cursorTime) {
			// No pagination progress; the remote page is stuck or empty
			// of anything useful to this slice.
			return earliest, nil
		}
		cursorTime = oldest
		if !cursorTime.After(b.After) {
			return earliest, nil
		}
	}
}

// normalizeEnvelopes normalizes each raw envelope into its Update row and,
// per spec §4.2, flattens and normalizes its full event tree alongside it
// (root_event_ids/events_by_id for transactions, the single synthetic node
// for reassignments). An event with no resolvable effective_at is dropped
// with a warning naming its event ID; it never aborts the owning update.
func (e *Engine) normalizeEnvelopes(envelopes []json.RawMessage, b Boundary, seen *dedup.Set) ([]schema.Update, []schema.Event, time.Time, error) {
	updates := make([]schema.Update, 0, len(envelopes))
	var events []schema.Event
	oldest := b.Before

	for _, raw := range envelopes {
		var env schema.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			e.logger.Warn().Err(err).Msg("dropping unparseable update envelope")
			continue
		}
		upd, err := schema.NormalizeUpdate(env, schema.NormalizeOptions{})
		if err != nil {
			e.logger.Warn().Err(err).Msg("dropping update that failed normalization")
			continue
		}
		if upd.EffectiveAt.Before(oldest) {
			oldest = upd.EffectiveAt
		}
		if upd.EffectiveAt.Before(b.After) {
			continue // outside this slice's range, but still counts toward pagination progress
		}
		if seen.CheckAndAdd(upd.UpdateID) {
			metrics.BackfillDedupedTotal.WithLabelValues(migrationLabel(e.cfg.MigrationID)).Inc()
			continue
		}
		updates = append(updates, *upd)

		updEvents, dropped := schema.ExtractEvents(env, upd)
		for _, id := range dropped {
			e.logger.Warn().Str("update_id", upd.UpdateID).Str("event_id", id).
				Msg("dropping event with no resolvable effective_at")
		}
		events = append(events, updEvents...)
	}
	return updates, events, oldest, nil
}

func migrationLabel(id int64) string {
	return fmt.Sprintf("%d", id)
}

// writeAndUpload writes and uploads both the updates and events partitions
// produced by one page, then blocks until the object store has confirmed
// every resulting file. The slice's completion (and therefore the cursor's
// contiguous-completion boundary, §4.6) must never be recorded ahead of
// that confirmation, since the upload queue itself is asynchronous.
func (e *Engine) writeAndUpload(ctx context.Context, updates []schema.Update, events []schema.Event) error {
	var pending []<-chan error

	updateGroups, err := partition.GroupByPartition(updates, partition.Updates, partition.Backfill, e.cfg.MigrationID)
	if err != nil {
		return err
	}
	for _, key := range partition.SortedKeys(updateGroups) {
		records := updateGroups[key]
		rows := make([]writer.Row, 0, len(records))
		for _, u := range records {
			rows = append(rows, writer.Row(u.ToRow()))
		}
		done, err := e.writeAndEnqueue(partition.Updates, key, rows, schema.UpdateColumns)
		if err != nil {
			return err
		}
		pending = append(pending, done)
	}

	if len(events) > 0 {
		eventGroups, err := partition.GroupByPartition(events, partition.Events, partition.Backfill, e.cfg.MigrationID)
		if err != nil {
			return err
		}
		for _, key := range partition.SortedKeys(eventGroups) {
			records := eventGroups[key]
			rows := make([]writer.Row, 0, len(records))
			for _, ev := range records {
				rows = append(rows, writer.Row(ev.ToRow()))
			}
			done, err := e.writeAndEnqueue(partition.Events, key, rows, schema.EventColumns)
			if err != nil {
				return err
			}
			pending = append(pending, done)
		}
	}

	return waitAll(ctx, pending)
}

// writeAndEnqueue submits one partition's rows to the writer pool and
// enqueues the resulting file for upload, returning its completion channel.
func (e *Engine) writeAndEnqueue(typ partition.Type, key string, rows []writer.Row, cols []string) (<-chan error, error) {
	localPath := writer.TempPath(e.cfg.RemoteDir, key, int(atomic.AddInt64(&e.seq, 1)))
	result := e.writer.Submit(writer.WriteJob{
		Type:    string(typ),
		Path:    localPath,
		Records: rows,
		Schema:  cols,
	})
	if !result.OK {
		return nil, fmt.Errorf("write partition %s: %w", key, result.Err)
	}
	remotePath := partition.ToStorePath(fmt.Sprintf("%s/%s/%s", e.cfg.RemoteDir, key, filepath.Base(result.FilePath)))
	return e.queue.Enqueue(result.FilePath, remotePath), nil
}

// waitAll blocks until every pending upload channel delivers its terminal
// outcome, returning the first error encountered (if any).
func waitAll(ctx context.Context, pending []<-chan error) error {
	var firstErr error
	for _, done := range pending {
		select {
		case err := <-done:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
	}
	return firstErr
}
