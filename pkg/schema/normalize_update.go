package schema

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/scanarchiver/pkg/scanerr"
)

// Envelope is an opaque, polymorphic API response body. Using a plain map
// preserves unknown fields verbatim for loss-free re-serialization.
type Envelope map[string]interface{}

func asMap(v interface{}) Envelope {
	if m, ok := v.(map[string]interface{}); ok {
		return Envelope(m)
	}
	return nil
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func getString(env Envelope, key string) (string, bool) {
	v, ok := env[key]
	if !ok {
		return "", false
	}
	return asString(v)
}

func getStringPtr(env Envelope, key string) *string {
	if s, ok := getString(env, key); ok {
		return &s
	}
	return nil
}

func getInt64(env Envelope, key string) (int64, bool) {
	v, ok := env[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		s := strings.TrimLeft(n, "0")
		if s == "" {
			s = "0"
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// parseTimestamp interprets a timestamp lacking a timezone as UTC, per spec.
func parseTimestamp(v interface{}) (time.Time, bool) {
	s, ok := asString(v)
	if !ok || s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	// No timezone suffix: interpret as UTC.
	layouts := []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func getTimestamp(env Envelope, key string) (time.Time, bool) {
	v, ok := env[key]
	if !ok {
		return time.Time{}, false
	}
	return parseTimestamp(v)
}

func getStringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := asString(e); ok {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeUpdate converts a raw API envelope into the canonical Update row.
//
// Variant detection: a "transaction" wrapper means a Transaction; a
// "reassignment" wrapper means a Reassignment; absence of both with a
// non-empty "events_by_id" means a flat transaction. Anything else is
// UpdateUnknown, which fails with UnknownUpdateType in strict mode.
func NormalizeUpdate(raw Envelope, opts NormalizeOptions) (*Update, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	updateType, body := detectUpdateVariant(raw)
	if updateType == UpdateUnknown && opts.Strict {
		return nil, scanerr.NewUnknownUpdateType(firstNonEmpty(getStr(raw, "update_id"), getStr(raw, "updateId")))
	}

	updateID := firstNonEmpty(getStr(body, "update_id"), getStr(body, "updateId"), getStr(raw, "update_id"), getStr(raw, "updateId"))

	migrationID, _ := getInt64(coalesce(body, raw), "migration_id")

	offset, _ := getInt64(coalesce(body, raw), "offset")

	recordTime, _ := getTimestamp(coalesce(body, raw), "record_time")
	effectiveAt, hasEffective := getTimestamp(coalesce(body, raw), "effective_at")
	if !hasEffective {
		// effective_at is required; rows missing it are dropped at decode.
		return nil, scanerr.NewInvalidTimestamp(updateID, "effective_at is missing")
	}

	u := &Update{
		UpdateID:       updateID,
		UpdateType:     updateType,
		MigrationID:    migrationID,
		SynchronizerID: firstNonEmpty(getStr(body, "synchronizer_id"), getStr(raw, "synchronizer_id")),
		WorkflowID:     getStringPtr(coalesce(body, raw), "workflow_id"),
		CommandID:      getStringPtr(coalesce(body, raw), "command_id"),
		Offset:         offset,
		RecordTime:     recordTime,
		EffectiveAt:    effectiveAt,
		RootEventIDs:   rootEventIDs(body),
		EventCount:     len(rootEventIDs(body)),
		TraceContext:   traceContext(coalesce(body, raw)),
		UpdateData:     string(data),
	}

	if updateType == UpdateReassignment {
		u.Reassignment = &ReassignmentFields{
			Kind:                reassignmentKind(body),
			SourceSynchronizer:  getStr(body, "source_synchronizer"),
			TargetSynchronizer:  getStr(body, "target_synchronizer"),
			UnassignID:          getStr(body, "unassign_id"),
			Submitter:           getStr(body, "submitter"),
			ReassignmentCounter: mustInt64(body, "reassignment_counter"),
		}
	}

	return u, nil
}

func detectUpdateVariant(raw Envelope) (UpdateType, Envelope) {
	if tx := asMap(raw["transaction"]); tx != nil {
		return UpdateTransaction, tx
	}
	if ra := asMap(raw["reassignment"]); ra != nil {
		return UpdateReassignment, ra
	}
	if events := asMap(raw["events_by_id"]); len(events) > 0 {
		return UpdateTransaction, raw
	}
	return UpdateUnknown, raw
}

func reassignmentKind(env Envelope) ReassignmentKind {
	if _, ok := env["unassign_id"]; ok {
		if _, hasAssign := env["assignment_exercise_context"]; hasAssign {
			return ReassignmentAssign
		}
	}
	if k, ok := getString(env, "kind"); ok {
		if strings.EqualFold(k, string(ReassignmentAssign)) {
			return ReassignmentAssign
		}
		return ReassignmentUnassign
	}
	return ReassignmentUnassign
}

func rootEventIDs(env Envelope) []string {
	if v, ok := env["root_event_ids"]; ok {
		return getStringSlice(v)
	}
	if eventsByID := asMap(env["events_by_id"]); eventsByID != nil {
		ids := make([]string, 0, len(eventsByID))
		for id := range eventsByID {
			ids = append(ids, id)
		}
		return ids
	}
	return nil
}

func traceContext(env Envelope) *string {
	v, ok := env["trace_context"]
	if !ok {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func getStr(env Envelope, key string) string {
	s, _ := getString(env, key)
	return s
}

func mustInt64(env Envelope, key string) int64 {
	i, _ := getInt64(env, key)
	return i
}

func coalesce(primary, fallback Envelope) Envelope {
	if primary == nil {
		return fallback
	}
	return primary
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
