package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

// Scenario C from the spec's end-to-end scenarios.
func TestCursor_ScenarioC_RollbackRestoresConfirmed(t *testing.T) {
	c := New(Key{Stream: "backfill"})

	require.NoError(t, c.BeginTransaction(50, 100, mustParse(t, "2024-01-15T08:00:00Z")))
	_, err := c.Commit()
	require.NoError(t, err)

	require.NoError(t, c.BeginTransaction(25, 50, mustParse(t, "2024-01-15T10:00:00Z")))
	c.Rollback()

	state := c.State()
	assert.EqualValues(t, 50, state.ConfirmedUpdates)
	assert.EqualValues(t, 100, state.ConfirmedEvents)
	assert.Equal(t, mustParse(t, "2024-01-15T08:00:00Z"), state.ConfirmedBefore)
}

func TestCursor_RollbackNoOpWhenNoTransaction(t *testing.T) {
	c := New(Key{Stream: "live"})
	c.Rollback() // should not panic
	assert.EqualValues(t, 0, c.State().ConfirmedUpdates)
}

func TestCursor_BeginTwiceFails(t *testing.T) {
	c := New(Key{Stream: "live"})
	require.NoError(t, c.BeginTransaction(1, 1, time.Now()))
	err := c.BeginTransaction(1, 1, time.Now())
	require.Error(t, err)
}

func TestCursor_CommitWithoutTransactionFails(t *testing.T) {
	c := New(Key{Stream: "live"})
	_, err := c.Commit()
	require.Error(t, err)
}

func TestCursor_AddPendingAutoBegins(t *testing.T) {
	c := New(Key{Stream: "live"})
	c.AddPending(10, 20, mustParse(t, "2024-01-15T08:00:00Z"))
	state, err := c.Commit()
	require.NoError(t, err)
	assert.EqualValues(t, 10, state.ConfirmedUpdates)
	assert.EqualValues(t, 20, state.ConfirmedEvents)
}

func TestCursor_AddPendingBeforeOnlyMovesEarlier(t *testing.T) {
	c := New(Key{Stream: "backfill"})
	c.AddPending(1, 1, mustParse(t, "2024-01-15T10:00:00Z"))
	c.AddPending(1, 1, mustParse(t, "2024-01-15T08:00:00Z")) // earlier
	c.AddPending(1, 1, mustParse(t, "2024-01-15T09:00:00Z")) // later, ignored

	state, err := c.Commit()
	require.NoError(t, err)
	assert.Equal(t, mustParse(t, "2024-01-15T08:00:00Z"), state.ConfirmedBefore)
}

func TestCursor_MarkCompleteFailsWithOpenTransaction(t *testing.T) {
	c := New(Key{Stream: "acs"})
	require.NoError(t, c.BeginTransaction(1, 1, time.Now()))
	err := c.MarkComplete()
	require.Error(t, err)
}

func TestCursor_MarkCompleteSucceeds(t *testing.T) {
	c := New(Key{Stream: "acs"})
	require.NoError(t, c.MarkComplete())
	assert.True(t, c.State().Complete)
}

// Testable property 1: cursor monotonicity.
func TestCursor_Monotonicity(t *testing.T) {
	c := New(Key{Stream: "live"})
	last := time.Time{}
	for i := 0; i < 5; i++ {
		ts := time.Now().UTC().Add(time.Duration(i) * time.Hour)
		c.AddPending(1, 1, ts)
		state, err := c.Commit()
		require.NoError(t, err)
		assert.True(t, !state.ConfirmedBefore.Before(last))
		last = state.ConfirmedBefore
	}
}

// Testable property 2: remote_confirmed_before <= confirmed_before.
func TestCursor_RemoteNeverExceedsLocal(t *testing.T) {
	c := New(Key{Stream: "backfill"})
	ts := mustParse(t, "2024-01-15T08:00:00Z")
	c.AddPending(1, 1, ts)
	_, err := c.Commit()
	require.NoError(t, err)

	require.NoError(t, c.ConfirmRemote(time.Time{}, nil, nil))
	state := c.State()
	require.NotNil(t, state.RemoteConfirmedBefore)
	assert.True(t, !state.RemoteConfirmedBefore.After(state.ConfirmedBefore))
}

func TestCursor_GetResumePosition(t *testing.T) {
	c := New(Key{Stream: "backfill"})
	local := mustParse(t, "2024-01-15T08:00:00Z")
	remote := mustParse(t, "2024-01-15T06:00:00Z")

	c.AddPending(1, 1, local)
	_, err := c.Commit()
	require.NoError(t, err)
	require.NoError(t, c.ConfirmRemote(remote, nil, nil))

	assert.Equal(t, remote, c.GetResumePosition(false))
	assert.Equal(t, local, c.GetResumePosition(true))
}
