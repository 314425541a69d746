package schema

import (
	"encoding/json"
	"time"
)

// UpdateInfo carries the subset of the owning update needed to resolve an
// event's effective_at fallback chain.
type UpdateInfo struct {
	EffectiveAt time.Time
	RecordTime  time.Time
}

// NormalizeEvent converts one event envelope into the canonical Event row.
// It returns ok=false when no timestamp can be resolved for effective_at;
// the caller is responsible for dropping the event and logging a warning,
// since dropping here would hide the record identifier from the log site.
func NormalizeEvent(eventEnvelope Envelope, updateID string, migrationID int64, raw Envelope, info UpdateInfo) (*Event, bool) {
	data, _ := json.Marshal(eventEnvelope)

	eventType, body := detectEventVariant(eventEnvelope)

	effectiveAt, ok := getTimestamp(body, "created_at")
	if !ok {
		effectiveAt = info.EffectiveAt
		ok = !effectiveAt.IsZero()
	}
	if !ok {
		effectiveAt = info.RecordTime
		ok = !effectiveAt.IsZero()
	}
	if !ok {
		return nil, false
	}

	templateID := getStr(body, "template_id")
	parsed := ParseTemplateID(templateID)

	e := &Event{
		EventID:      firstNonEmpty(getStr(body, "event_id"), getStr(eventEnvelope, "event_id")),
		UpdateID:     updateID,
		MigrationID:  migrationID,
		EventType:    eventType,
		ContractID:   getStr(body, "contract_id"),
		TemplateID:   templateID,
		PackageName:  parsed.PackageName,
		ModuleName:   parsed.ModuleName,
		EntityName:   parsed.EntityName,
		EffectiveAt:  effectiveAt,
		RawEvent:     string(data),
	}

	switch eventType {
	case EventCreated, EventReassignCreate:
		e.Signatories = getStringSlice(body["signatories"])
		e.Observers = getStringSlice(body["observers"])
	case EventExercised:
		e.Choice = getStringPtr(body, "choice")
		e.ActingParties = getStringSlice(body["acting_parties"])
		e.ChildEventIDs = childEventIDs(body)
		e.ExerciseResult = stringifyField(body, "exercise_result")
		if v, ok := body["consuming"].(bool); ok {
			e.Consuming = &v
		}
	}

	return e, true
}

// detectEventVariant finds the nested wrapper (created_event, archived_event,
// exercised_event) or falls back to the flat shape discriminated by an
// event_type string field.
func detectEventVariant(env Envelope) (EventType, Envelope) {
	if body := asMap(env["created_event"]); body != nil {
		return EventCreated, body
	}
	if body := asMap(env["archived_event"]); body != nil {
		return EventArchived, body
	}
	if body := asMap(env["exercised_event"]); body != nil {
		// A flat event (one carrying event_type) may hold only its
		// child_event_ids under exercised_event; that is not a wrapper.
		if _, flat := getString(env, "event_type"); !flat {
			return EventExercised, body
		}
	}
	if t, ok := getString(env, "event_type"); ok {
		switch t {
		case string(EventCreated):
			return EventCreated, env
		case string(EventArchived):
			return EventArchived, env
		case string(EventExercised):
			return EventExercised, env
		case string(EventReassignCreate):
			return EventReassignCreate, env
		case string(EventReassignArchive):
			return EventReassignArchive, env
		}
	}
	return EventCreated, env
}

func childEventIDs(body Envelope) []string {
	if v, ok := body["child_event_ids"]; ok {
		return getStringSlice(v)
	}
	if sub := asMap(body["exercised_event"]); sub != nil {
		return getStringSlice(sub["child_event_ids"])
	}
	return nil
}

// ExtractEvents builds every Event row belonging to one update, in tree
// order, from the update's raw envelope and its already-normalized Update.
// Transactions carry an events_by_id map walked from root_event_ids via
// FlattenEventsInTreeOrder; reassignments carry a single synthetic event
// wrapped directly in the reassignment body, whose event_type is then
// overwritten to reassign_create or reassign_archive per the reassignment's
// kind. Events with no resolvable effective_at are dropped; their IDs are
// returned so the caller can log a warning naming the offending identifier
// rather than swallowing the drop silently.
func ExtractEvents(raw Envelope, upd *Update) (events []Event, droppedIDs []string) {
	info := UpdateInfo{EffectiveAt: upd.EffectiveAt, RecordTime: upd.RecordTime}

	if upd.UpdateType == UpdateReassignment {
		body := coalesce(asMap(raw["reassignment"]), raw)
		ev, ok := NormalizeEvent(body, upd.UpdateID, upd.MigrationID, body, info)
		if !ok {
			return nil, []string{upd.UpdateID}
		}
		if upd.Reassignment != nil && upd.Reassignment.Kind == ReassignmentUnassign {
			ev.EventType = EventReassignArchive
		} else {
			ev.EventType = EventReassignCreate
		}
		return []Event{*ev}, nil
	}

	body := coalesce(asMap(raw["transaction"]), raw)
	eventsByID := make(map[string]Envelope)
	if m := asMap(body["events_by_id"]); m != nil {
		for id, v := range m {
			if env := asMap(v); env != nil {
				eventsByID[id] = env
			}
		}
	}
	if len(eventsByID) == 0 {
		return nil, nil
	}

	order := FlattenEventsInTreeOrder(eventsByID, upd.RootEventIDs)
	events = make([]Event, 0, len(order))
	for _, id := range order {
		env, ok := eventsByID[id]
		if !ok {
			continue
		}
		ev, ok := NormalizeEvent(env, upd.UpdateID, upd.MigrationID, env, info)
		if !ok {
			droppedIDs = append(droppedIDs, id)
			continue
		}
		events = append(events, *ev)
	}
	return events, droppedIDs
}

func stringifyField(env Envelope, key string) *string {
	v, ok := env[key]
	if !ok {
		return nil
	}
	if s, ok := asString(v); ok {
		return &s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
