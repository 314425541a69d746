package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEvent_CreatedNested(t *testing.T) {
	env := envelope(t, `{
		"created_event": {
			"event_id": "e1",
			"contract_id": "c1",
			"template_id": "pkg:Splice.Amulet:Amulet",
			"created_at": "2025-04-17T10:00:00Z",
			"signatories": ["alice"],
			"observers": ["bob"]
		}
	}`)

	e, ok := NormalizeEvent(env, "u1", 4, env, UpdateInfo{})
	require.True(t, ok)
	assert.Equal(t, EventCreated, e.EventType)
	assert.Equal(t, "c1", e.ContractID)
	require.NotNil(t, e.ModuleName)
	assert.Equal(t, "Splice.Amulet", *e.ModuleName)
	assert.Equal(t, []string{"alice"}, e.Signatories)
	assert.Nil(t, e.Choice)
}

func TestNormalizeEvent_ExercisedFlat(t *testing.T) {
	env := envelope(t, `{
		"event_type": "exercised",
		"event_id": "e2",
		"contract_id": "c1",
		"template_id": "Splice.Amulet:Amulet",
		"choice": "Archive",
		"acting_parties": ["alice"],
		"consuming": true,
		"exercised_event": {"child_event_ids": ["e3", "e4"]}
	}`)

	e, ok := NormalizeEvent(env, "u1", 4, env, UpdateInfo{EffectiveAt: time.Now()})
	require.True(t, ok)
	assert.Equal(t, EventExercised, e.EventType)
	assert.Equal(t, []string{"e3", "e4"}, e.ChildEventIDs)
	require.NotNil(t, e.Consuming)
	assert.True(t, *e.Consuming)
	assert.Nil(t, e.Signatories)
}

func TestNormalizeEvent_EffectiveAtPriority(t *testing.T) {
	env := envelope(t, `{"created_event": {"event_id": "e1"}}`)
	updateEffective := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	updateRecord := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e, ok := NormalizeEvent(env, "u1", 0, env, UpdateInfo{EffectiveAt: updateEffective, RecordTime: updateRecord})
	require.True(t, ok)
	assert.Equal(t, updateEffective, e.EffectiveAt)
}

func TestNormalizeEvent_FallsBackToRecordTime(t *testing.T) {
	env := envelope(t, `{"created_event": {"event_id": "e1"}}`)
	updateRecord := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e, ok := NormalizeEvent(env, "u1", 0, env, UpdateInfo{RecordTime: updateRecord})
	require.True(t, ok)
	assert.Equal(t, updateRecord, e.EffectiveAt)
}

func TestNormalizeEvent_DroppedWhenNoTimestampAvailable(t *testing.T) {
	env := envelope(t, `{"created_event": {"event_id": "e1"}}`)
	_, ok := NormalizeEvent(env, "u1", 0, env, UpdateInfo{})
	assert.False(t, ok)
}

func TestExtractEvents_TransactionFlattensInTreeOrder(t *testing.T) {
	raw := envelope(t, `{
		"transaction": {
			"update_id": "u1",
			"effective_at": "2025-04-17T23:50:00Z",
			"root_event_ids": ["root1"],
			"events_by_id": {
				"root1": {
					"event_id": "root1",
					"created_at": "2025-04-17T23:50:00Z",
					"exercised_event": {"child_event_ids": ["c1"]}
				},
				"c1": {
					"event_id": "c1",
					"created_at": "2025-04-17T23:50:01Z"
				}
			}
		}
	}`)

	u, err := NormalizeUpdate(raw, NormalizeOptions{Strict: true})
	require.NoError(t, err)

	events, dropped := ExtractEvents(raw, u)
	assert.Empty(t, dropped)
	require.Len(t, events, 2)
	assert.Equal(t, "root1", events[0].EventID)
	assert.Equal(t, "c1", events[1].EventID)
}

func TestExtractEvents_ReassignmentOverwritesEventType(t *testing.T) {
	raw := envelope(t, `{
		"reassignment": {
			"update_id": "u2",
			"effective_at": "2025-04-17T23:50:00Z",
			"kind": "unassign",
			"unassign_id": "un1"
		}
	}`)

	u, err := NormalizeUpdate(raw, NormalizeOptions{Strict: true})
	require.NoError(t, err)
	require.NotNil(t, u.Reassignment)

	events, dropped := ExtractEvents(raw, u)
	assert.Empty(t, dropped)
	require.Len(t, events, 1)
	assert.Equal(t, EventReassignArchive, events[0].EventType)
}

func TestExtractEvents_EventWithoutCreatedAtFallsBackToUpdateEffectiveAt(t *testing.T) {
	raw := envelope(t, `{
		"update_id": "u3",
		"effective_at": "2025-04-17T23:50:00Z",
		"root_event_ids": ["e1"],
		"events_by_id": {"e1": {"event_id": "e1"}}
	}`)
	u, err := NormalizeUpdate(raw, NormalizeOptions{Strict: true})
	require.NoError(t, err)

	events, dropped := ExtractEvents(raw, u)
	assert.Len(t, events, 1) // falls back to update's effective_at
	assert.Empty(t, dropped)
}
