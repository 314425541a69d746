package backfill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSlices_CoversRangeNewestFirst(t *testing.T) {
	maxTime := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	minTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	slices := PlanSlices(maxTime, minTime, 4)
	require.Len(t, slices, 4)

	assert.True(t, slices[0].Before.Equal(maxTime))
	assert.True(t, slices[3].After.Equal(minTime))

	for i := 0; i < len(slices)-1; i++ {
		assert.True(t, slices[i].After.Equal(slices[i+1].Before), "slice %d should abut slice %d", i, i+1)
	}
}

func TestContiguousCompleteCount(t *testing.T) {
	assert.Equal(t, 0, ContiguousCompleteCount([]bool{false, true, true}))
	assert.Equal(t, 2, ContiguousCompleteCount([]bool{true, true, false, true}))
	assert.Equal(t, 4, ContiguousCompleteCount([]bool{true, true, true, true}))
	assert.Equal(t, 0, ContiguousCompleteCount(nil))
}

// Scenario D: N=4, sliceCompleted=[false,false,true,true] -> safe boundary
// is startBefore, because no contiguous prefix has completed.
func TestSafeCursorBoundary_ScenarioD(t *testing.T) {
	startBefore := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	maxTime := startBefore
	minTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	boundaries := PlanSlices(maxTime, minTime, 4)

	completed := []bool{false, false, true, true}
	earliest := make([]*time.Time, 4)

	got := SafeCursorBoundary(startBefore, completed, earliest, boundaries)
	assert.True(t, got.Equal(startBefore))
}

func TestSafeCursorBoundary_AdvancesOnContiguousPrefix(t *testing.T) {
	startBefore := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	minTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	boundaries := PlanSlices(startBefore, minTime, 4)

	completed := []bool{true, true, false, true}
	earliest := make([]*time.Time, 4)
	observed := boundaries[1].Before.Add(-time.Hour)
	earliest[1] = &observed

	got := SafeCursorBoundary(startBefore, completed, earliest, boundaries)
	assert.True(t, got.Equal(observed))
}

func TestSafeCursorBoundary_FallsBackToBoundaryWhenNoDataObserved(t *testing.T) {
	startBefore := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	minTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	boundaries := PlanSlices(startBefore, minTime, 4)

	completed := []bool{true, false, false, false}
	earliest := make([]*time.Time, 4)

	got := SafeCursorBoundary(startBefore, completed, earliest, boundaries)
	assert.True(t, got.Equal(boundaries[0].After))
}
