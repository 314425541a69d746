package schema

import "time"

// UpdateType discriminates the tagged-variant shape of Update.
type UpdateType string

const (
	UpdateTransaction  UpdateType = "transaction"
	UpdateReassignment UpdateType = "reassignment"
	UpdateUnknown      UpdateType = "unknown"
)

// ReassignmentKind distinguishes the two reassignment directions.
type ReassignmentKind string

const (
	ReassignmentAssign   ReassignmentKind = "assign"
	ReassignmentUnassign ReassignmentKind = "unassign"
)

// ReassignmentFields holds the attributes present only when
// UpdateType == UpdateReassignment. Per the spec invariant, this struct is
// nil for transactions and non-nil for reassignments.
type ReassignmentFields struct {
	Kind                 ReassignmentKind
	SourceSynchronizer   string
	TargetSynchronizer   string
	UnassignID           string
	Submitter            string
	ReassignmentCounter  int64
}

// Update is one committed ledger operation, the canonical row written to
// the "updates" schema.
type Update struct {
	UpdateID        string
	UpdateType      UpdateType
	MigrationID     int64
	SynchronizerID  string
	WorkflowID      *string
	CommandID       *string
	Offset          int64
	RecordTime      time.Time
	EffectiveAt     time.Time
	RootEventIDs    []string
	EventCount      int
	TraceContext    *string // opaque JSON, preserved verbatim
	Reassignment    *ReassignmentFields
	UpdateData      string // complete original envelope, JSON-stringified
}

func (u Update) PartitionTime() time.Time { return u.EffectiveAt }
func (u Update) PartitionID() string      { return u.UpdateID }

// ToRow projects an Update onto the "updates" schema's column names, for
// handoff to the writer pool.
func (u Update) ToRow() map[string]interface{} {
	return map[string]interface{}{
		"update_id":        u.UpdateID,
		"update_type":      string(u.UpdateType),
		"migration_id":     u.MigrationID,
		"synchronizer_id":  u.SynchronizerID,
		"workflow_id":      u.WorkflowID,
		"command_id":       u.CommandID,
		"offset":           u.Offset,
		"record_time":      u.RecordTime,
		"effective_at":     u.EffectiveAt,
		"root_event_ids":   u.RootEventIDs,
		"event_count":      u.EventCount,
		"trace_context":    u.TraceContext,
		"update_data":      u.UpdateData,
	}
}

// EventType enumerates the five node kinds in an update's event tree.
type EventType string

const (
	EventCreated          EventType = "created"
	EventArchived         EventType = "archived"
	EventExercised        EventType = "exercised"
	EventReassignCreate   EventType = "reassign_create"
	EventReassignArchive  EventType = "reassign_archive"
)

// Event is one node of an update's event tree, the canonical row written
// to the "events" schema.
type Event struct {
	EventID       string
	UpdateID      string
	MigrationID   int64
	EventType     EventType
	ContractID    string
	TemplateID    string
	PackageName   *string
	ModuleName    *string
	EntityName    *string
	EffectiveAt   time.Time
	Signatories   []string // created-only; nil for exercised
	Observers     []string // created-only; nil for exercised
	Choice        *string  // exercised-only; nil for created/archived
	ActingParties []string // exercised-only
	ChildEventIDs []string // exercised-only; preserves tree structure
	ExerciseResult *string // exercised-only
	Consuming     *bool    // exercised-only
	RawEvent      string   // verbatim original envelope
}

func (e Event) PartitionTime() time.Time { return e.EffectiveAt }
func (e Event) PartitionID() string      { return e.EventID }

// ToRow projects an Event onto the "events" schema's column names.
func (e Event) ToRow() map[string]interface{} {
	return map[string]interface{}{
		"event_id":        e.EventID,
		"update_id":       e.UpdateID,
		"migration_id":    e.MigrationID,
		"event_type":      string(e.EventType),
		"contract_id":     e.ContractID,
		"template_id":     e.TemplateID,
		"package_name":    e.PackageName,
		"module_name":     e.ModuleName,
		"entity_name":     e.EntityName,
		"effective_at":    e.EffectiveAt,
		"signatories":     e.Signatories,
		"observers":       e.Observers,
		"choice":          e.Choice,
		"acting_parties":  e.ActingParties,
		"child_event_ids": e.ChildEventIDs,
		"exercise_result": e.ExerciseResult,
		"consuming":       e.Consuming,
		"raw_event":       e.RawEvent,
	}
}

// ACSContract is one live contract at a snapshot instant.
type ACSContract struct {
	ContractID   string
	EventID      string
	TemplateID   string
	PackageName  *string
	ModuleName   *string
	EntityName   *string
	Parties      []string
	MigrationID  int64
	RecordTime   time.Time
	SnapshotTime time.Time
	Payload      string // stringified create_arguments
	Raw          string // verbatim original envelope
}

func (c ACSContract) PartitionTime() time.Time { return c.SnapshotTime }
func (c ACSContract) PartitionID() string      { return c.ContractID }

// ToRow projects an ACSContract onto the "acs" schema's column names.
func (c ACSContract) ToRow() map[string]interface{} {
	return map[string]interface{}{
		"contract_id":   c.ContractID,
		"event_id":      c.EventID,
		"template_id":   c.TemplateID,
		"package_name":  c.PackageName,
		"module_name":   c.ModuleName,
		"entity_name":   c.EntityName,
		"parties":       c.Parties,
		"migration_id":  c.MigrationID,
		"record_time":   c.RecordTime,
		"snapshot_time": c.SnapshotTime,
		"payload":       c.Payload,
		"raw":           c.Raw,
	}
}

// UpdateColumns lists the "updates" schema's column names, for writer-pool
// presence validation.
var UpdateColumns = []string{
	"update_id", "update_type", "migration_id", "synchronizer_id",
	"offset", "record_time", "effective_at", "event_count", "update_data",
}

// EventColumns lists the "events" schema's column names.
var EventColumns = []string{
	"event_id", "update_id", "migration_id", "event_type",
	"contract_id", "template_id", "effective_at", "raw_event",
}

// ACSColumns lists the "acs" schema's column names.
var ACSColumns = []string{
	"contract_id", "template_id", "migration_id", "record_time",
	"snapshot_time", "payload", "raw",
}

// NormalizeOptions controls strict vs. loose validation behavior shared by
// all three normalizers.
type NormalizeOptions struct {
	Strict  bool // fail with a scanerr.ValidationError on critical field loss
	WarnOnly bool // in non-strict mode, log a warning instead of silently dropping
}
