package backfill

import "time"

// Boundary is the half-open time range covered by one slice:
// [After, Before).
type Boundary struct {
	Before time.Time
	After  time.Time
}

// PlanSlices divides [maxTime, minTime) into n equal-width half-open
// slices, newest first. Slice 0 is [maxTime-0*delta, maxTime-1*delta),
// slice n-1 is the oldest and its After is clamped to minTime.
func PlanSlices(maxTime, minTime time.Time, n int) []Boundary {
	if n <= 0 {
		return nil
	}
	total := maxTime.Sub(minTime)
	if total <= 0 {
		return nil
	}
	delta := total / time.Duration(n)

	slices := make([]Boundary, n)
	for i := 0; i < n; i++ {
		before := maxTime.Add(-time.Duration(i) * delta)
		after := maxTime.Add(-time.Duration(i+1) * delta)
		if i == n-1 {
			after = minTime
		}
		slices[i] = Boundary{Before: before, After: after}
	}
	return slices
}

// ContiguousCompleteCount returns the count of leading true values in
// completed — the largest k such that completed[0..k-1] are all true.
func ContiguousCompleteCount(completed []bool) int {
	k := 0
	for _, c := range completed {
		if !c {
			break
		}
		k++
	}
	return k
}

// SafeCursorBoundary implements the spec's conservative cursor invariant:
// the durable cursor position can never move past the oldest slice in
// the contiguous-complete prefix, so a restart always re-fetches exactly
// the gap left by a failed or unfinished slice.
//
// earliestTime[i] is the earliest effective_at actually observed in
// slice i's data, if any; boundaries[i] is that slice's planned range.
// startBefore is the backfill's original starting point (used when no
// slice has completed yet).
func SafeCursorBoundary(startBefore time.Time, completed []bool, earliestTime []*time.Time, boundaries []Boundary) time.Time {
	k := ContiguousCompleteCount(completed)
	if k == 0 {
		return startBefore
	}
	if earliestTime[k-1] != nil {
		return *earliestTime[k-1]
	}
	return boundaries[k-1].After
}
