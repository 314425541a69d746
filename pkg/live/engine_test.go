package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/scanarchiver/pkg/cursor"
	"github.com/cuemby/scanarchiver/pkg/objectstore"
	"github.com/cuemby/scanarchiver/pkg/scanapi"
	"github.com/cuemby/scanarchiver/pkg/schema"
	"github.com/cuemby/scanarchiver/pkg/upload"
	"github.com/cuemby/scanarchiver/pkg/writer"
)

func mustUpdate(t *testing.T, id string, effectiveAt time.Time) schema.Update {
	t.Helper()
	env := schema.Envelope{}
	if err := json.Unmarshal(txEnvelope(id, effectiveAt), &env); err != nil {
		t.Fatal(err)
	}
	upd, err := schema.NormalizeUpdate(env, schema.NormalizeOptions{})
	require.NoError(t, err)
	return *upd
}

type fakeEncoder struct{}

func (fakeEncoder) EncodeFile(path string, rows []writer.Row) (int64, error) {
	return int64(len(rows)), os.WriteFile(path, []byte("rows"), 0o644)
}

func txEnvelope(id string, effectiveAt time.Time) json.RawMessage {
	env := map[string]interface{}{
		"transaction": map[string]interface{}{
			"update_id":       id,
			"migration_id":    float64(0),
			"synchronizer_id": "sync-1",
			"offset":          float64(1),
			"record_time":     effectiveAt.Format(time.RFC3339Nano),
			"effective_at":    effectiveAt.Format(time.RFC3339Nano),
			"events_by_id":    map[string]interface{}{},
		},
	}
	raw, _ := json.Marshal(env)
	return raw
}

func TestEngine_PollOnceFlushesAndCommitsCursor(t *testing.T) {
	served := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served {
			_ = json.NewEncoder(w).Encode(scanapi.UpdatesPage{})
			return
		}
		served = true
		t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
		_ = json.NewEncoder(w).Encode(scanapi.UpdatesPage{
			Updates: []json.RawMessage{txEnvelope("upd-1", t1)},
		})
	}))
	defer srv.Close()

	api := scanapi.NewClient(scanapi.Config{BaseURL: srv.URL, Timeout: time.Second})
	dir := t.TempDir()
	require.NoError(t, writer.EnsureDir(dir))

	w := writer.NewPool(1, fakeEncoder{})
	defer w.Shutdown()

	store := objectstore.NewMemoryStore()
	q := upload.NewQueue(upload.Config{Concurrency: 1, CountHighWater: 100, CountLowWater: 10, BytesHighWater: 1 << 30, BytesLowWater: 1 << 20}, store)
	defer q.Stop()

	cur := cursor.New(cursor.Key{Stream: "live", MigrationID: 0, Synchronizer: "sync-1"})
	engine := NewEngine(api, w, q, cur, Config{MigrationID: 0, RemoteDir: dir, RowThreshold: 10000})

	require.NoError(t, engine.PollOnce(context.Background()))
	require.Equal(t, int64(1), cur.State().ConfirmedUpdates)
}

func TestEngine_DayBoundaryForcesFlush(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writer.EnsureDir(dir))

	w := writer.NewPool(1, fakeEncoder{})
	defer w.Shutdown()

	store := objectstore.NewMemoryStore()
	q := upload.NewQueue(upload.Config{Concurrency: 1, CountHighWater: 100, CountLowWater: 10, BytesHighWater: 1 << 30, BytesLowWater: 1 << 20}, store)
	defer q.Stop()

	cur := cursor.New(cursor.Key{Stream: "live", MigrationID: 0, Synchronizer: "sync-1"})
	engine := NewEngine(nil, w, q, cur, Config{MigrationID: 0, RemoteDir: dir, RowThreshold: 10000})

	day1 := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC)

	upd1 := mustUpdate(t, "upd-1", day1)
	upd2 := mustUpdate(t, "upd-2", day2)

	require.NoError(t, engine.ingest(upd1))
	require.Len(t, engine.updateBuffers, 1)

	require.NoError(t, engine.ingest(upd2))
	// day1's buffer was flushed when day2 arrived; only day2's buffer remains open.
	require.Len(t, engine.updateBuffers, 1)
}
