// Package cursor implements the crash-safe two-phase position tracker
// shared by the backfill, live, and ACS engines. A Cursor is the single
// source of truth for "what has durably landed": a confirmed local state
// mutated only inside an explicit transaction, and a remote checkpoint
// advanced only once the object store has acknowledged the same data.
//
// The transactional shape (begin/apply-pending/commit/rollback) mirrors
// the state-machine discipline of a Raft FSM: every commit is durably
// persisted before it is considered to have taken effect. A Cursor holds
// no lock of its own; only the Store serializes its file writes.
package cursor

import (
	"time"

	"github.com/cuemby/scanarchiver/pkg/scanerr"
)

// Key identifies one independent cursor shard.
type Key struct {
	Stream        string // "backfill", "live", "acs"
	MigrationID   int64
	Synchronizer  string
	ShardIndex    int
	ShardTotal    int
}

// State is the durable, JSON-serialized shape of a cursor. Fields mirror
// the wire layout in full so the persisted file is forward-compatible
// with operator tooling that reads it directly.
type State struct {
	MigrationID    int64      `json:"migration_id"`
	SynchronizerID string     `json:"synchronizer_id"`

	ConfirmedBefore  time.Time `json:"last_confirmed_before"`
	ConfirmedUpdates int64     `json:"confirmed_updates"`
	ConfirmedEvents  int64     `json:"confirmed_events"`

	RemoteConfirmedBefore  *time.Time `json:"remote_confirmed_before,omitempty"`
	RemoteConfirmedUpdates *int64     `json:"remote_confirmed_updates,omitempty"`
	RemoteConfirmedEvents  *int64     `json:"remote_confirmed_events,omitempty"`

	PendingUpdates *int64     `json:"pending_updates,omitempty"`
	PendingEvents  *int64     `json:"pending_events,omitempty"`
	InTransaction  bool       `json:"in_transaction,omitempty"`

	MinTime  *time.Time `json:"min_time,omitempty"`
	MaxTime  *time.Time `json:"max_time,omitempty"`
	Complete bool       `json:"complete,omitempty"`
}

// pending is the transient transaction state, never persisted directly —
// a commit folds it into State before writing.
type pending struct {
	open          bool
	updatesDelta  int64
	eventsDelta   int64
	before        *time.Time // moves only earlier: min(current, time)
	snapshot      State      // confirmed state captured at beginTransaction
}

// Cursor is a single shard's transactional position. It has no internal
// locking: only the owning stream's driver task may call its methods, and
// calls from several goroutines at once are not synchronized.
type Cursor struct {
	key   Key
	state State
	pend  pending
	store *Store
}

// New constructs a zero-valued cursor for key, not yet loaded from disk.
func New(key Key) *Cursor {
	return &Cursor{key: key}
}

// Load reads the cursor's persisted state via store, falling back to the
// backup file, then to a zero-valued cursor if both are unreadable.
func Load(key Key, store *Store) (*Cursor, error) {
	state, err := store.Load(key)
	if err != nil {
		return nil, err
	}
	return &Cursor{key: key, state: state, store: store}, nil
}

// State returns a copy of the confirmed (non-transactional) state.
func (c *Cursor) State() State {
	return c.state
}

// BeginTransaction opens a new transaction, snapshotting confirmed state.
// Fails with AlreadyInTransaction if one is already open.
func (c *Cursor) BeginTransaction(pendingUpdates, pendingEvents int64, earliestTime time.Time) error {
	if c.pend.open {
		return scanerr.ErrAlreadyInTransaction
	}
	c.pend = pending{
		open:         true,
		updatesDelta: pendingUpdates,
		eventsDelta:  pendingEvents,
		snapshot:     c.state,
	}
	if !earliestTime.IsZero() {
		c.pend.before = &earliestTime
	}
	c.state.InTransaction = true
	c.state.PendingUpdates = &c.pend.updatesDelta
	c.state.PendingEvents = &c.pend.eventsDelta
	return nil
}

// AddPending accumulates into the open transaction, auto-beginning one if
// none is open. pending_before only ever moves earlier.
func (c *Cursor) AddPending(deltaUpdates, deltaEvents int64, t time.Time) {
	if !c.pend.open {
		_ = c.BeginTransaction(0, 0, t)
	}
	c.pend.updatesDelta += deltaUpdates
	c.pend.eventsDelta += deltaEvents
	if c.pend.before == nil || t.Before(*c.pend.before) {
		tCopy := t
		c.pend.before = &tCopy
	}
	c.state.PendingUpdates = &c.pend.updatesDelta
	c.state.PendingEvents = &c.pend.eventsDelta
}

// Commit folds pending into confirmed, clears pending, persists durably,
// and returns the new confirmed state. Fails if no transaction is open.
func (c *Cursor) Commit() (State, error) {
	if !c.pend.open {
		return State{}, scanerr.ErrNoTransaction
	}

	c.state.ConfirmedUpdates += c.pend.updatesDelta
	c.state.ConfirmedEvents += c.pend.eventsDelta
	if c.pend.before != nil {
		c.state.ConfirmedBefore = *c.pend.before
	}
	c.state.InTransaction = false
	c.state.PendingUpdates = nil
	c.state.PendingEvents = nil
	c.pend = pending{}

	if c.store != nil {
		if err := c.store.Save(c.key, c.state); err != nil {
			return State{}, err
		}
	}
	return c.state, nil
}

// Rollback discards pending and restores confirmed state; a no-op when no
// transaction is open.
func (c *Cursor) Rollback() {
	if !c.pend.open {
		return
	}
	c.state = c.pend.snapshot
	c.pend = pending{}
}

// SaveAtomic commits any open transaction, then overwrites the supplied
// fields of confirmed state atomically.
func (c *Cursor) SaveAtomic(mutate func(*State)) (State, error) {
	if c.pend.open {
		if _, err := c.Commit(); err != nil {
			return State{}, err
		}
	}
	mutate(&c.state)
	if c.store != nil {
		if err := c.store.Save(c.key, c.state); err != nil {
			return State{}, err
		}
	}
	return c.state, nil
}

// ConfirmRemote records that the object store has acknowledged data up to
// t. Called with a zero time, it synchronizes the remote checkpoint to
// the local confirmed state.
func (c *Cursor) ConfirmRemote(t time.Time, updates, events *int64) error {
	if t.IsZero() {
		t = c.state.ConfirmedBefore
		updates = &c.state.ConfirmedUpdates
		events = &c.state.ConfirmedEvents
	}
	c.state.RemoteConfirmedBefore = &t
	c.state.RemoteConfirmedUpdates = updates
	c.state.RemoteConfirmedEvents = events
	if c.store != nil {
		return c.store.Save(c.key, c.state)
	}
	return nil
}

// GetResumePosition returns remote_confirmed_before by default (crash-safe)
// or confirmed_before when useLocal is true (may replay data already
// written locally but not yet acknowledged remotely).
func (c *Cursor) GetResumePosition(useLocal bool) time.Time {
	if useLocal || c.state.RemoteConfirmedBefore == nil {
		return c.state.ConfirmedBefore
	}
	return *c.state.RemoteConfirmedBefore
}

// MarkComplete sets the terminal flag. Fails if a transaction is open.
func (c *Cursor) MarkComplete() error {
	if c.pend.open {
		return scanerr.ErrMarkCompleteWithPending
	}
	c.state.Complete = true
	if c.store != nil {
		return c.store.Save(c.key, c.state)
	}
	return nil
}
