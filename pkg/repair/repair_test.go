package repair

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	timestamps map[string][]time.Time
	err        error
}

func (f fakeReader) SampleTimestamps(filePath string, column Column, sampleSize int) ([]time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.timestamps[filePath], nil
}

func TestPlan_SkipWhenDaysMatch(t *testing.T) {
	reader := fakeReader{timestamps: map[string][]time.Time{
		"f.parquet": {time.Date(2025, 4, 17, 10, 0, 0, 0, time.UTC)},
	}}
	entry := CatalogEntry{FilePath: "f.parquet", Partition: "backfill/events/migration=4/year=2025/month=4/day=17", Column: ColumnEffectiveAt}

	action, err := Plan(reader, entry, 50)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, action.Kind)
}

func TestPlan_SkipNoopWhenNoTimestamps(t *testing.T) {
	reader := fakeReader{timestamps: map[string][]time.Time{}}
	entry := CatalogEntry{FilePath: "empty.parquet", Partition: "backfill/events/migration=4/year=2025/month=4/day=17", Column: ColumnEffectiveAt}

	action, err := Plan(reader, entry, 50)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipNoop, action.Kind)
}

func TestPlan_MoveWhenAllRowsShareOneDifferentDay(t *testing.T) {
	reader := fakeReader{timestamps: map[string][]time.Time{
		"f.parquet": {
			time.Date(2025, 4, 18, 1, 0, 0, 0, time.UTC),
			time.Date(2025, 4, 18, 2, 0, 0, 0, time.UTC),
		},
	}}
	entry := CatalogEntry{FilePath: "f.parquet", Partition: "backfill/events/migration=4/year=2025/month=4/day=17", Column: ColumnEffectiveAt}

	action, err := Plan(reader, entry, 50)
	require.NoError(t, err)
	assert.Equal(t, ActionMove, action.Kind)
	assert.Contains(t, action.Destination, "day=18")
}

func TestPlan_SplitWhenRowsSpanMultipleDays(t *testing.T) {
	reader := fakeReader{timestamps: map[string][]time.Time{
		"f.parquet": {
			time.Date(2025, 4, 17, 23, 59, 0, 0, time.UTC),
			time.Date(2025, 4, 18, 0, 1, 0, 0, time.UTC),
		},
	}}
	entry := CatalogEntry{FilePath: "f.parquet", Partition: "backfill/events/migration=4/year=2025/month=4/day=16", Column: ColumnEffectiveAt}

	action, err := Plan(reader, entry, 50)
	require.NoError(t, err)
	assert.Equal(t, ActionSplit, action.Kind)
	require.Len(t, action.SplitDays, 2)
	assert.Contains(t, action.SplitDays[0], "day=17")
	assert.Contains(t, action.SplitDays[1], "day=18")
}

func TestVerifyMove_DetectsMismatch(t *testing.T) {
	reader := fakeReader{timestamps: map[string][]time.Time{
		"dest.parquet": {time.Date(2025, 4, 18, 1, 0, 0, 0, time.UTC)},
	}}
	result, err := VerifyMove(reader, "dest.parquet", "backfill/events/migration=4/year=2025/month=4/day=17", ColumnEffectiveAt, 50)
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.Mismatch)
}

func TestVerifyMove_Succeeds(t *testing.T) {
	reader := fakeReader{timestamps: map[string][]time.Time{
		"dest.parquet": {time.Date(2025, 4, 17, 1, 0, 0, 0, time.UTC)},
	}}
	result, err := VerifyMove(reader, "dest.parquet", "backfill/events/migration=4/year=2025/month=4/day=17", ColumnEffectiveAt, 50)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestVerifyAll_StopsAtFirstMismatch(t *testing.T) {
	reader := fakeReader{timestamps: map[string][]time.Time{
		"ok.parquet":  {time.Date(2025, 4, 17, 1, 0, 0, 0, time.UTC)},
		"bad.parquet": {time.Date(2025, 4, 19, 1, 0, 0, 0, time.UTC)},
	}}
	moves := []ResolvedMove{
		{DestPath: "ok.parquet", DestPartition: "backfill/events/migration=4/year=2025/month=4/day=17", Column: ColumnEffectiveAt},
		{DestPath: "bad.parquet", DestPartition: "backfill/events/migration=4/year=2025/month=4/day=18", Column: ColumnEffectiveAt},
	}
	result, err := VerifyAll(reader, moves, 50)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, "bad.parquet", result.FilePath)
}
