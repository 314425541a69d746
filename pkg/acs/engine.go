// Package acs implements the active-contract-set snapshot engine: for
// one migration, it resolves a snapshot cutoff, walks every contract
// page at that cutoff, writes and uploads the normalized contracts, and
// marks the snapshot done with a zero-byte _COMPLETE object so a restart
// can skip it.
package acs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/scanarchiver/pkg/log"
	"github.com/cuemby/scanarchiver/pkg/metrics"
	"github.com/cuemby/scanarchiver/pkg/objectstore"
	"github.com/cuemby/scanarchiver/pkg/partition"
	"github.com/cuemby/scanarchiver/pkg/scanapi"
	"github.com/cuemby/scanarchiver/pkg/schema"
	"github.com/cuemby/scanarchiver/pkg/upload"
	"github.com/cuemby/scanarchiver/pkg/writer"
)

const completeMarker = "_COMPLETE"

// Config bounds one ACS snapshot run for a single migration.
type Config struct {
	MigrationID int64
	PageSize    int
	RemoteDir   string
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	return c
}

// Engine drives one migration's ACS snapshot walk.
type Engine struct {
	api    *scanapi.Client
	writer *writer.Pool
	queue  *upload.Queue
	store  objectstore.Store
	cfg    Config
	logger zerolog.Logger
	seq    int64
}

func NewEngine(api *scanapi.Client, w *writer.Pool, q *upload.Queue, store objectstore.Store, cfg Config) *Engine {
	return &Engine{
		api:    api,
		writer: w,
		queue:  q,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: log.WithStream("acs"),
	}
}

// Run resolves the snapshot cutoff before `before`, skips it entirely if
// already marked complete, otherwise paginates every contract, writes and
// uploads the grouped partition, and marks the snapshot complete.
func (e *Engine) Run(ctx context.Context, before time.Time) error {
	tsResp, err := e.api.ACSSnapshotTimestamp(ctx, before, e.cfg.MigrationID)
	if err != nil {
		return fmt.Errorf("resolve snapshot timestamp: %w", err)
	}
	snapshotTime, err := time.Parse(time.RFC3339Nano, tsResp.RecordTime)
	if err != nil {
		snapshotTime, err = time.Parse(time.RFC3339, tsResp.RecordTime)
		if err != nil {
			return fmt.Errorf("parse snapshot record_time %q: %w", tsResp.RecordTime, err)
		}
	}

	snapshotPath, err := partition.ACSPath(snapshotTime, e.cfg.MigrationID)
	if err != nil {
		return fmt.Errorf("compute snapshot path: %w", err)
	}
	markerKey := partition.ToStorePath(fmt.Sprintf("%s/%s/%s", e.cfg.RemoteDir, snapshotPath, completeMarker))

	if e.isComplete(ctx, markerKey) {
		e.logger.Info().Str("snapshot", snapshotPath).Msg("snapshot already complete, skipping")
		return nil
	}

	contracts, err := e.walkContracts(ctx, snapshotTime)
	if err != nil {
		return err
	}
	if len(contracts) == 0 {
		metrics.ACSSnapshotsCompleted.WithLabelValues(fmt.Sprintf("%d", e.cfg.MigrationID)).Inc()
		return e.markComplete(ctx, markerKey)
	}

	if err := e.writeAndUpload(ctx, snapshotPath, contracts); err != nil {
		return err
	}
	migration := fmt.Sprintf("%d", e.cfg.MigrationID)
	metrics.ACSContractsWritten.WithLabelValues(migration).Add(float64(len(contracts)))
	metrics.ACSSnapshotsCompleted.WithLabelValues(migration).Inc()

	return e.markComplete(ctx, markerKey)
}

func (e *Engine) isComplete(ctx context.Context, markerKey string) bool {
	_, err := e.store.Head(ctx, markerKey)
	return err == nil
}

func (e *Engine) walkContracts(ctx context.Context, snapshotTime time.Time) ([]schema.ACSContract, error) {
	var contracts []schema.ACSContract
	pageToken := ""
	for {
		page, err := e.api.ACSPage(ctx, snapshotTime, e.cfg.MigrationID, e.cfg.PageSize, pageToken)
		if err != nil {
			return nil, fmt.Errorf("fetch acs page: %w", err)
		}
		for _, raw := range page.Entries() {
			var env schema.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				e.logger.Warn().Err(err).Msg("dropping unparseable acs entry")
				continue
			}
			contract, err := schema.NormalizeACSContract(env, e.cfg.MigrationID, snapshotTime, snapshotTime, schema.NormalizeOptions{})
			if err != nil {
				e.logger.Warn().Err(err).Msg("dropping acs entry that failed normalization")
				continue
			}
			contracts = append(contracts, *contract)
		}
		if page.NextPageToken == "" {
			return contracts, nil
		}
		pageToken = page.NextPageToken
	}
}

// writeAndUpload writes the snapshot's contract rows and blocks until the
// upload queue confirms the file has actually landed in the object store.
// Per spec §4.8, the _COMPLETE marker may only follow a snapshot whose
// data is durably present — confirming here, not merely enqueueing, is
// what lets markComplete be safe to call immediately afterward.
func (e *Engine) writeAndUpload(ctx context.Context, snapshotPath string, contracts []schema.ACSContract) error {
	rows := make([]writer.Row, 0, len(contracts))
	for _, c := range contracts {
		rows = append(rows, writer.Row(c.ToRow()))
	}
	localPath := writer.TempPath(e.cfg.RemoteDir, snapshotPath, int(atomic.AddInt64(&e.seq, 1)))
	result := e.writer.Submit(writer.WriteJob{
		Type:    "acs",
		Path:    localPath,
		Records: rows,
		Schema:  schema.ACSColumns,
	})
	if !result.OK {
		return fmt.Errorf("write acs snapshot %s: %w", snapshotPath, result.Err)
	}
	remotePath := partition.ToStorePath(fmt.Sprintf("%s/%s/%s", e.cfg.RemoteDir, snapshotPath, filepath.Base(result.FilePath)))
	if err := e.queue.EnqueueAndWait(ctx, result.FilePath, remotePath); err != nil {
		return fmt.Errorf("upload acs snapshot %s: %w", snapshotPath, err)
	}
	return nil
}

// markComplete uploads a zero-byte object at markerKey. It must only ever
// be called once the snapshot's data file has been confirmed uploaded
// (see writeAndUpload), since resume logic treats the marker's presence
// as proof the snapshot's contracts are durably stored.
func (e *Engine) markComplete(ctx context.Context, markerKey string) error {
	tmp, err := os.CreateTemp("", "acs-complete-*")
	if err != nil {
		return fmt.Errorf("create marker temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := e.store.Put(ctx, filepath.Clean(tmp.Name()), markerKey); err != nil {
		return fmt.Errorf("upload completion marker: %w", err)
	}
	return nil
}
