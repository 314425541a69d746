package upload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/scanarchiver/pkg/objectstore"
)

func TestQueue_EnqueueAndUploadSucceeds(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(local, []byte("data"), 0o644))

	store := objectstore.NewMemoryStore()
	q := NewQueue(Config{Concurrency: 2, CountHighWater: 10, CountLowWater: 2, BytesHighWater: 1 << 20, BytesLowWater: 1 << 10}, store)

	q.Enqueue(local, "remote/key")

	require.Eventually(t, func() bool {
		return q.SnapshotStats().UploadsSucceeded == 1
	}, time.Second, 5*time.Millisecond)

	q.Stop()
	assert.EqualValues(t, 0, q.SnapshotStats().UploadsFailed)
}

func TestQueue_PausesAtHighWaterAndResumesAtLowWater(t *testing.T) {
	store := objectstore.NewMemoryStore()
	q := NewQueue(Config{Concurrency: 1, CountHighWater: 1, CountLowWater: 0, BytesHighWater: 1 << 20, BytesLowWater: 1 << 20}, store)
	defer q.Stop()

	dir := t.TempDir()
	local := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(local, []byte("data"), 0o644))

	q.Enqueue(local, "remote/key")
	assert.True(t, q.ShouldPause())

	require.Eventually(t, func() bool {
		return !q.ShouldPause()
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_PermanentErrorGoesToDeadLetterImmediately(t *testing.T) {
	dir := t.TempDir()
	dlPath := filepath.Join(dir, "dl.jsonl")

	store := objectstore.NewMemoryStore()
	q := NewQueue(Config{
		Concurrency:    1,
		CountHighWater: 10,
		CountLowWater:  2,
		BytesHighWater: 1 << 20,
		BytesLowWater:  1 << 10,
		DeadLetterPath: dlPath,
	}, store)
	defer q.Stop()

	q.Enqueue(filepath.Join(dir, "does-not-exist.txt"), "remote/key")

	require.Eventually(t, func() bool {
		return q.SnapshotStats().UploadsFailed == 1
	}, time.Second, 5*time.Millisecond)

	records, err := readDeadLetterLog(dlPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].FileExists)
}
