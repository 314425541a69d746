// Package live implements the forward-only poller: it walks the updates
// endpoint from the cursor's resume position, buffers normalized rows
// per UTC partition, and flushes on a size threshold or a day boundary
// crossing so no file ever spans midnight.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
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

// Config bounds the live engine's buffering and polling behavior.
type Config struct {
	MigrationID   int64
	PageSize      int
	DedupCapacity int
	RowThreshold  int
	ByteThreshold int64
	PollInterval  time.Duration
	RemoteDir     string
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = 100_000
	}
	if c.RowThreshold <= 0 {
		c.RowThreshold = 5000
	}
	if c.ByteThreshold <= 0 {
		c.ByteThreshold = 64 << 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Engine is one live stream's poller. It owns its own partition buffers
// and is not safe for concurrent calls to PollOnce.
type Engine struct {
	api    *scanapi.Client
	writer *writer.Pool
	queue  *upload.Queue
	cur    *cursor.Cursor
	cfg    Config
	logger zerolog.Logger
	seen   *dedup.Set
	seq    int64

	updateBuffers map[string]*partitionBuffer
	eventBuffers  map[string]*partitionBuffer
	currentDay    *partition.UTC

	// pending accumulates completion channels for every file enqueued
	// during the poll currently in progress; PollOnce waits on all of
	// them before committing the cursor, so the cursor never advances
	// past data the object store has not yet acknowledged.
	pending []<-chan error
}

func NewEngine(api *scanapi.Client, w *writer.Pool, q *upload.Queue, cur *cursor.Cursor, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		api:           api,
		writer:        w,
		queue:         q,
		cur:           cur,
		cfg:           cfg,
		logger:        log.WithStream("live"),
		seen:          dedup.NewSet(cfg.DedupCapacity),
		updateBuffers: make(map[string]*partitionBuffer),
		eventBuffers:  make(map[string]*partitionBuffer),
	}
}

// Run polls forever at cfg.PollInterval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := e.PollOnce(ctx); err != nil {
			e.logger.Error().Err(err).Msg("live poll failed")
		}
		select {
		case <-ctx.Done():
			if err := e.flushAll(); err != nil {
				return err
			}
			return waitPending(ctx, e.drainPending())
		case <-ticker.C:
		}
	}
}

// PollOnce fetches one page forward from the cursor's resume position,
// buffers the normalized rows (and their events), and only commits the
// cursor once every file produced by this poll has been confirmed
// durably uploaded by the queue. The remote checkpoint is then synced to
// the same position, since by construction it now reflects confirmed
// uploads rather than merely-enqueued ones.
func (e *Engine) PollOnce(ctx context.Context) error {
	metrics.LivePollsTotal.Inc()

	beginAfter := e.cur.GetResumePosition(false).Format(time.RFC3339Nano)
	page, err := e.api.PostUpdates(ctx, beginAfter, e.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("poll updates: %w", err)
	}
	envelopes := page.Envelopes()
	if len(envelopes) == 0 {
		return nil
	}

	updates := e.normalize(envelopes)
	if len(updates) == 0 {
		return nil
	}

	var maxEffective time.Time
	if err := e.cur.BeginTransaction(0, 0, updates[0].EffectiveAt); err != nil {
		return fmt.Errorf("begin live transaction: %w", err)
	}

	for _, u := range updates {
		if err := e.ingest(u); err != nil {
			e.cur.Rollback()
			e.drainPending()
			return fmt.Errorf("ingest update %s: %w", u.UpdateID, err)
		}
		if u.EffectiveAt.After(maxEffective) {
			maxEffective = u.EffectiveAt
		}
		e.cur.AddPending(1, 0, u.EffectiveAt)
	}

	if err := e.flushAll(); err != nil {
		e.cur.Rollback()
		e.drainPending()
		return fmt.Errorf("flush live buffers: %w", err)
	}

	if err := waitPending(ctx, e.drainPending()); err != nil {
		e.cur.Rollback()
		return fmt.Errorf("confirm live uploads: %w", err)
	}

	state, err := e.cur.Commit()
	if err != nil {
		return fmt.Errorf("commit live transaction: %w", err)
	}
	if err := e.cur.ConfirmRemote(state.ConfirmedBefore, &state.ConfirmedUpdates, &state.ConfirmedEvents); err != nil {
		return fmt.Errorf("confirm remote live cursor: %w", err)
	}

	metrics.LiveLagSeconds.Set(time.Since(maxEffective).Seconds())
	return nil
}

func (e *Engine) normalize(envelopes []json.RawMessage) []schema.Update {
	updates := make([]schema.Update, 0, len(envelopes))
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
		if e.seen.CheckAndAdd(upd.UpdateID) {
			continue
		}
		updates = append(updates, *upd)
	}
	return updates
}

// ingest buffers one update and its full event tree under their respective
// partition paths, forcing a flush of the previous day's buffers when a
// new UTC day is observed, and flushing a buffer when it crosses a size
// threshold.
func (e *Engine) ingest(u schema.Update) error {
	day, err := partition.UTCPartition(u.EffectiveAt)
	if err != nil {
		return err
	}
	if e.currentDay != nil && day != *e.currentDay {
		if err := e.flushAll(); err != nil {
			return err
		}
	}
	e.currentDay = &day

	key, err := partition.Path(u.EffectiveAt, e.cfg.MigrationID, partition.Updates, partition.Live)
	if err != nil {
		return err
	}
	buf, ok := e.updateBuffers[key]
	if !ok {
		buf = &partitionBuffer{}
		e.updateBuffers[key] = buf
	}
	buf.add(writer.Row(u.ToRow()), int64(len(u.UpdateData)))

	if buf.exceeds(e.cfg.RowThreshold, e.cfg.ByteThreshold) {
		if err := e.flushOne(e.updateBuffers, partition.Updates, schema.UpdateColumns, key); err != nil {
			return err
		}
	}

	return e.ingestEvents(u)
}

// ingestEvents extracts and buffers an update's event tree alongside it, so
// every event produced by the live stream reaches the events partition
// rather than only updates ever being written (spec §4.2/§2).
func (e *Engine) ingestEvents(u schema.Update) error {
	var env schema.Envelope
	if err := json.Unmarshal([]byte(u.UpdateData), &env); err != nil {
		e.logger.Warn().Err(err).Str("update_id", u.UpdateID).Msg("could not re-parse update envelope for event extraction")
		return nil
	}
	events, dropped := schema.ExtractEvents(env, &u)
	for _, id := range dropped {
		e.logger.Warn().Str("update_id", u.UpdateID).Str("event_id", id).
			Msg("dropping event with no resolvable effective_at")
	}

	for _, ev := range events {
		key, err := partition.Path(ev.EffectiveAt, e.cfg.MigrationID, partition.Events, partition.Live)
		if err != nil {
			e.logger.Warn().Err(err).Str("event_id", ev.EventID).Msg("dropping event with unpartitionable effective_at")
			continue
		}
		buf, ok := e.eventBuffers[key]
		if !ok {
			buf = &partitionBuffer{}
			e.eventBuffers[key] = buf
		}
		buf.add(writer.Row(ev.ToRow()), int64(len(ev.RawEvent)))
		if buf.exceeds(e.cfg.RowThreshold, e.cfg.ByteThreshold) {
			if err := e.flushOne(e.eventBuffers, partition.Events, schema.EventColumns, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) flushOne(buffers map[string]*partitionBuffer, typ partition.Type, cols []string, key string) error {
	buf, ok := buffers[key]
	if !ok || buf.empty() {
		return nil
	}
	localPath := writer.TempPath(e.cfg.RemoteDir, key, int(atomic.AddInt64(&e.seq, 1)))
	result := e.writer.Submit(writer.WriteJob{
		Type:    string(typ),
		Path:    localPath,
		Records: buf.rows,
		Schema:  cols,
	})
	if !result.OK {
		return fmt.Errorf("write partition %s: %w", key, result.Err)
	}
	remotePath := partition.ToStorePath(fmt.Sprintf("%s/%s/%s", e.cfg.RemoteDir, key, filepath.Base(result.FilePath)))
	e.pending = append(e.pending, e.queue.Enqueue(result.FilePath, remotePath))
	delete(buffers, key)
	return nil
}

// flushAll flushes every open update and event buffer, used at a
// day-boundary crossing and on shutdown.
func (e *Engine) flushAll() error {
	for key := range e.updateBuffers {
		if err := e.flushOne(e.updateBuffers, partition.Updates, schema.UpdateColumns, key); err != nil {
			return err
		}
	}
	for key := range e.eventBuffers {
		if err := e.flushOne(e.eventBuffers, partition.Events, schema.EventColumns, key); err != nil {
			return err
		}
	}
	return nil
}

// drainPending returns and clears the accumulated upload-completion
// channels for the poll in progress.
func (e *Engine) drainPending() []<-chan error {
	pending := e.pending
	e.pending = nil
	return pending
}

// waitPending blocks until every pending upload channel delivers its
// terminal outcome, returning the first error encountered (if any).
func waitPending(ctx context.Context, pending []<-chan error) error {
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
