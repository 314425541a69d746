package acs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/scanarchiver/pkg/objectstore"
	"github.com/cuemby/scanarchiver/pkg/scanapi"
	"github.com/cuemby/scanarchiver/pkg/upload"
	"github.com/cuemby/scanarchiver/pkg/writer"
)

type fakeEncoder struct{}

func (fakeEncoder) EncodeFile(path string, rows []writer.Row) (int64, error) {
	return int64(len(rows)), os.WriteFile(path, []byte("rows"), 0o644)
}

func newFakeACSServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/state/acs/snapshot-timestamp":
			_ = json.NewEncoder(w).Encode(scanapi.ACSSnapshotTimestampResponse{RecordTime: "2024-01-01T00:00:00Z"})
		case "/v0/state/acs":
			entry, _ := json.Marshal(map[string]interface{}{
				"contract_id": "c1",
				"template_id": "pkg:Mod:Entity",
			})
			_ = json.NewEncoder(w).Encode(scanapi.ACSPage{Items: []json.RawMessage{entry}})
		}
	}))
}

func TestEngine_RunWritesUploadsAndMarksComplete(t *testing.T) {
	srv := newFakeACSServer(t)
	defer srv.Close()

	api := scanapi.NewClient(scanapi.Config{BaseURL: srv.URL, Timeout: time.Second})
	dir := t.TempDir()
	require.NoError(t, writer.EnsureDir(dir))

	w := writer.NewPool(1, fakeEncoder{})
	defer w.Shutdown()

	store := objectstore.NewMemoryStore()
	q := upload.NewQueue(upload.Config{Concurrency: 1, CountHighWater: 100, CountLowWater: 10, BytesHighWater: 1 << 30, BytesLowWater: 1 << 20}, store)
	defer q.Stop()

	engine := NewEngine(api, w, q, store, Config{MigrationID: 0, RemoteDir: dir})
	require.NoError(t, engine.Run(context.Background(), time.Now()))

	require.Eventually(t, func() bool {
		return q.SnapshotStats().UploadsSucceeded == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SkipsAlreadyCompleteSnapshot(t *testing.T) {
	srv := newFakeACSServer(t)
	defer srv.Close()

	api := scanapi.NewClient(scanapi.Config{BaseURL: srv.URL, Timeout: time.Second})
	dir := t.TempDir()

	w := writer.NewPool(1, fakeEncoder{})
	defer w.Shutdown()

	store := objectstore.NewMemoryStore()
	q := upload.NewQueue(upload.Config{Concurrency: 1, CountHighWater: 100, CountLowWater: 10, BytesHighWater: 1 << 30, BytesLowWater: 1 << 20}, store)
	defer q.Stop()

	engine := NewEngine(api, w, q, store, Config{MigrationID: 0, RemoteDir: dir})

	// Run once to produce the marker, then a second run should skip the
	// network walk entirely (we just verify it doesn't error and marker stays).
	ctx := context.Background()
	require.NoError(t, engine.Run(ctx, time.Now()))
	require.Eventually(t, func() bool {
		return q.SnapshotStats().UploadsSucceeded == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, engine.Run(ctx, time.Now()))
	require.Equal(t, int64(1), q.SnapshotStats().UploadsSucceeded, "second run should skip re-upload")
}
