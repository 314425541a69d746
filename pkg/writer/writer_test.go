package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SubmitWritesFile(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(2, CSVEncoder{})
	defer pool.Shutdown()

	job := WriteJob{
		Type: "updates",
		Path: filepath.Join(dir, "out.csv"),
		Records: []Row{
			{"update_id": "u1", "offset": 1},
			{"update_id": "u2", "offset": 2},
		},
		Schema: []string{"update_id", "offset"},
	}

	result := pool.Submit(job)
	require.True(t, result.OK)
	assert.Equal(t, 2, result.RowCount)
	assert.Empty(t, result.Validation)
	assert.Greater(t, result.ByteSize, int64(0))

	_, err := os.Stat(job.Path)
	require.NoError(t, err)
}

func TestPool_ValidationReportsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(1, CSVEncoder{})
	defer pool.Shutdown()

	job := WriteJob{
		Type:    "events",
		Path:    filepath.Join(dir, "out.csv"),
		Records: []Row{{"event_id": "e1"}},
		Schema:  []string{"event_id", "choice"},
	}

	result := pool.Submit(job)
	require.True(t, result.OK)
	assert.Equal(t, []string{"choice"}, result.Validation)
}

func TestPool_ConcurrentSubmitsAllSucceed(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(4, CSVEncoder{})
	defer pool.Shutdown()

	done := make(chan WriteResult, 10)
	for i := 0; i < 10; i++ {
		i := i
		go func() {
			job := WriteJob{
				Type:    "updates",
				Path:    filepath.Join(dir, "part"+string(rune('a'+i))+".csv"),
				Records: []Row{{"update_id": "u"}},
			}
			done <- pool.Submit(job)
		}()
	}

	for i := 0; i < 10; i++ {
		result := <-done
		assert.True(t, result.OK)
	}
}
