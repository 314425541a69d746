// Package scanerr defines the error taxonomy shared by every scanarchiver
// component: validation errors raised by normalizers, invariant violations
// raised by the cursor state machine, and the sentinel used when a cursor
// file cannot be loaded from either its primary or backup location.
package scanerr

import "fmt"

// ValidationError is raised by a normalizer in strict mode when a record
// is missing a required or critical field.
type ValidationError struct {
	Kind    string // e.g. "ACSValidationError", "InvalidTimestamp", "UnknownUpdateType"
	Record  string // offending record identifier (update_id, event_id, contract_id)
	Missing []string
	Detail  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: record %q missing fields %v", e.Kind, e.Record, e.Missing)
	}
	return fmt.Sprintf("%s: record %q: %s", e.Kind, e.Record, e.Detail)
}

func NewInvalidTimestamp(record, detail string) *ValidationError {
	return &ValidationError{Kind: "InvalidTimestamp", Record: record, Detail: detail}
}

func NewUnknownUpdateType(record string) *ValidationError {
	return &ValidationError{Kind: "UnknownUpdateType", Record: record, Detail: "envelope matched no known shape"}
}

func NewACSValidationError(record string, missing []string) *ValidationError {
	return &ValidationError{Kind: "ACSValidationError", Record: record, Missing: missing}
}

// InvariantError represents a programmer error in cursor usage: calling an
// operation whose preconditions the caller violated.
type InvariantError struct {
	Kind   string // "AlreadyInTransaction", "NoTransaction", "MarkCompleteWithPending"
	Detail string
}

func (e *InvariantError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind
}

var (
	ErrAlreadyInTransaction   = &InvariantError{Kind: "AlreadyInTransaction"}
	ErrNoTransaction          = &InvariantError{Kind: "NoTransaction"}
	ErrMarkCompleteWithPending = &InvariantError{Kind: "MarkCompleteWithPending"}
)

// CursorCorrupt describes a cursor whose primary and backup files both
// failed to parse. No code in this module constructs it: cursor.Store.Load
// logs that case, increments scanarchiver_cursor_corruptions_total with
// reason "zero-value", and returns a zero-valued State with a nil error.
type CursorCorrupt struct {
	Path         string
	PrimaryErr   error
	BackupErr    error
}

func (e *CursorCorrupt) Error() string {
	return fmt.Sprintf("CursorCorrupt: %s: primary=%v backup=%v", e.Path, e.PrimaryErr, e.BackupErr)
}

// Transient and permanent I/O error classification is implemented in
// pkg/upload (it is specific to the upload queue's error-text whitelist),
// not here: those taxonomy members (NetworkTimeout, ConnectionReset,
// RateLimited, ServerUnavailable, IntegrityMismatch, AccessDenied,
// NoSuchBucket, InvalidArgument, LocalFileMissing) are behaviors of upload
// error strings, not distinct Go types.
