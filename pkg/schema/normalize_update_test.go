package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, js string) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(js), &env))
	return env
}

func TestNormalizeUpdate_Transaction(t *testing.T) {
	raw := envelope(t, `{
		"transaction": {
			"update_id": "u1",
			"migration_id": 4,
			"synchronizer_id": "sync1",
			"offset": "007",
			"record_time": "2025-04-17T23:50:00Z",
			"effective_at": "2025-04-17T23:50:00Z",
			"root_event_ids": ["e1", "e2"]
		}
	}`)

	u, err := NormalizeUpdate(raw, NormalizeOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, UpdateTransaction, u.UpdateType)
	assert.Equal(t, "u1", u.UpdateID)
	assert.EqualValues(t, 4, u.MigrationID)
	assert.EqualValues(t, 7, u.Offset)
	assert.Nil(t, u.Reassignment)
	assert.Equal(t, []string{"e1", "e2"}, u.RootEventIDs)
}

func TestNormalizeUpdate_FlatTransaction(t *testing.T) {
	raw := envelope(t, `{
		"update_id": "u2",
		"effective_at": "2025-04-17T23:50:00Z",
		"events_by_id": {"e1": {}}
	}`)

	u, err := NormalizeUpdate(raw, NormalizeOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, UpdateTransaction, u.UpdateType)
}

func TestNormalizeUpdate_Reassignment(t *testing.T) {
	raw := envelope(t, `{
		"reassignment": {
			"update_id": "u3",
			"effective_at": "2025-04-17T23:50:00Z",
			"source_synchronizer": "s1",
			"target_synchronizer": "s2",
			"unassign_id": "un1",
			"submitter": "alice",
			"reassignment_counter": 3,
			"kind": "unassign"
		}
	}`)

	u, err := NormalizeUpdate(raw, NormalizeOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, UpdateReassignment, u.UpdateType)
	require.NotNil(t, u.Reassignment)
	assert.Equal(t, ReassignmentUnassign, u.Reassignment.Kind)
	assert.Equal(t, "s1", u.Reassignment.SourceSynchronizer)
	assert.EqualValues(t, 3, u.Reassignment.ReassignmentCounter)
}

func TestNormalizeUpdate_UnknownStrictFails(t *testing.T) {
	raw := envelope(t, `{"update_id": "u4", "effective_at": "2025-04-17T23:50:00Z"}`)
	_, err := NormalizeUpdate(raw, NormalizeOptions{Strict: true})
	require.Error(t, err)
}

func TestNormalizeUpdate_UnknownLooseSucceeds(t *testing.T) {
	raw := envelope(t, `{"update_id": "u4", "effective_at": "2025-04-17T23:50:00Z"}`)
	u, err := NormalizeUpdate(raw, NormalizeOptions{Strict: false, WarnOnly: true})
	require.NoError(t, err)
	assert.Equal(t, UpdateUnknown, u.UpdateType)
}

func TestNormalizeUpdate_MissingEffectiveAtFails(t *testing.T) {
	raw := envelope(t, `{"transaction": {"update_id": "u5"}}`)
	_, err := NormalizeUpdate(raw, NormalizeOptions{})
	require.Error(t, err)
}

func TestNormalizeUpdate_LossFreedom(t *testing.T) {
	src := `{"transaction": {"update_id": "u1", "effective_at": "2025-04-17T23:50:00Z", "unexpected_field": {"nested": true}}}`
	raw := envelope(t, src)

	u, err := NormalizeUpdate(raw, NormalizeOptions{Strict: true})
	require.NoError(t, err)

	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(u.UpdateData), &roundTripped))

	var original map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(src), &original))

	assert.Equal(t, original, roundTripped)
}

func TestNormalizeUpdate_TimestampWithoutTimezoneIsUTC(t *testing.T) {
	raw := envelope(t, `{"transaction": {"update_id": "u6", "effective_at": "2025-04-17T23:50:00"}}`)
	u, err := NormalizeUpdate(raw, NormalizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "UTC", u.EffectiveAt.Location().String())
}
