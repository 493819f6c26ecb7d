// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package progress implements the shared progress record for long-running
// portability operations.
//
// Each operation kind (backup, restore, purge) has at most one state, with
// exactly one writer (the running worker, through a Handle) and any number
// of polling readers. Every update replaces the state snapshot as one unit,
// so readers never observe a torn update. A watchdog discards states whose
// worker stopped reporting, and a shorter stall heuristic surfaces a warning
// when a running operation stops advancing.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind identifies an operation family. One operation per kind may run at a
// time.
type Kind string

const (
	KindBackup  Kind = "backup"
	KindRestore Kind = "restore"
	KindPurge   Kind = "purge"
)

// ParseKind validates a wire kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBackup, KindRestore, KindPurge:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
}

// Status is the coarse phase of an operation.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusStarting   Status = "starting"
	StatusAnalyzing  Status = "analyzing"
	StatusPreparing  Status = "preparing"
	StatusProcessing Status = "processing"
	StatusSaving     Status = "saving"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// EntityProgress is the per-entity breakdown of an operation.
type EntityProgress struct {
	Entity    string `json:"entity"`
	State     string `json:"state"`
	Processed int64  `json:"processed"`
	Total     int64  `json:"total"`
	Error     string `json:"error,omitempty"`
}

// State is one progress snapshot. Readers receive copies and never mutate.
type State struct {
	OperationID string           `json:"operation_id"`
	Kind        Kind             `json:"kind"`
	Running     bool             `json:"is_running"`
	Status      Status           `json:"status"`
	Label       string           `json:"current_label"`
	Processed   int64            `json:"processed_units"`
	Total       int64            `json:"total_units"`
	Percentage  float64          `json:"percentage"`
	ETASeconds  float64          `json:"eta_seconds,omitempty"`
	LastUpdate  time.Time        `json:"last_update"`
	Entities    []EntityProgress `json:"entities,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
	Error       string           `json:"error,omitempty"`

	// Stalled is set by the reader side when the percentage has not
	// advanced for longer than the stall threshold.
	Stalled bool `json:"stalled,omitempty"`
}

func (s *State) clone() *State {
	cp := *s
	cp.Entities = append([]EntityProgress(nil), s.Entities...)
	cp.Warnings = append([]string(nil), s.Warnings...)
	return &cp
}

// Default thresholds. The watchdog covers worker death, the stall window
// covers a worker that is alive but stuck.
const (
	DefaultWatchdogTimeout = 30 * time.Minute
	DefaultStallTimeout    = 45 * time.Second
)

// ErrAlreadyRunning is returned when an operation of the same kind is
// already in flight. Requests are rejected, never queued.
var ErrAlreadyRunning = errors.New("an operation of this kind is already running")

// Persister stores state snapshots across restarts.
type Persister interface {
	Save(kind Kind, s *State) error
	Load(kind Kind) (*State, error)
	Clear(kind Kind) error
}

// Store holds the progress states for all operation kinds.
type Store struct {
	mu       sync.RWMutex
	states   map[Kind]*State
	advance  map[Kind]advanceMark
	watchdog time.Duration
	stall    time.Duration
	persist  Persister
	now      func() time.Time
}

type advanceMark struct {
	percentage float64
	at         time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister attaches snapshot persistence (e.g. the Badger persister).
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a progress store. Zero thresholds select the defaults.
func NewStore(watchdog, stall time.Duration, opts ...Option) *Store {
	if watchdog <= 0 {
		watchdog = DefaultWatchdogTimeout
	}
	if stall <= 0 {
		stall = DefaultStallTimeout
	}
	s := &Store{
		states:   make(map[Kind]*State),
		advance:  make(map[Kind]advanceMark),
		watchdog: watchdog,
		stall:    stall,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persist != nil {
		for _, kind := range []Kind{KindBackup, KindRestore, KindPurge} {
			if st, err := s.persist.Load(kind); err == nil && st != nil {
				s.states[kind] = st
			}
		}
	}
	return s
}

// Begin claims the state for an operation kind and returns the single-writer
// handle. It fails with ErrAlreadyRunning if a live operation of the kind
// exists; a stale state (no update within the watchdog window) is discarded
// first, which is the self-heal path for abandoned operations.
func (s *Store) Begin(kind Kind, operationID string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.states[kind]; ok && cur.Running {
		if s.now().Sub(cur.LastUpdate) <= s.watchdog {
			return nil, fmt.Errorf("%w: %s (operation %s)", ErrAlreadyRunning, kind, cur.OperationID)
		}
		// Abandoned: discard and fall through.
		s.clearLocked(kind)
	}

	st := &State{
		OperationID: operationID,
		Kind:        kind,
		Running:     true,
		Status:      StatusStarting,
		LastUpdate:  s.now(),
	}
	s.setLocked(kind, st)
	return &Handle{store: s, kind: kind, operationID: operationID}, nil
}

// Get returns the current state for the kind, applying staleness self-heal
// and the stall heuristic. Absent states read as idle.
func (s *Store) Get(kind Kind) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.states[kind]
	if !ok {
		return State{Kind: kind, Status: StatusIdle}
	}
	if cur.Running && s.now().Sub(cur.LastUpdate) > s.watchdog {
		// Abandoned operation: discard the record and report idle. The
		// worker, if truly alive, keeps running but is no longer trusted.
		s.clearLocked(kind)
		return State{Kind: kind, Status: StatusIdle}
	}

	out := *cur.clone()
	if cur.Running {
		if mark, seen := s.advance[kind]; seen && s.now().Sub(mark.at) > s.stall {
			out.Stalled = true
		}
	}
	return out
}

// setLocked replaces the state snapshot as one unit and tracks percentage
// advancement for the stall heuristic.
func (s *Store) setLocked(kind Kind, st *State) {
	mark, seen := s.advance[kind]
	if !seen || st.Percentage > mark.percentage || !st.Running {
		s.advance[kind] = advanceMark{percentage: st.Percentage, at: s.now()}
	}
	s.states[kind] = st
	if s.persist != nil {
		_ = s.persist.Save(kind, st) //nolint:errcheck // Best effort; in-memory state is authoritative
	}
}

func (s *Store) clearLocked(kind Kind) {
	delete(s.states, kind)
	delete(s.advance, kind)
	if s.persist != nil {
		_ = s.persist.Clear(kind) //nolint:errcheck // Best effort
	}
}

// Clear removes the state for a kind (used after a completed state has been
// collected).
func (s *Store) Clear(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(kind)
}

// Handle is the single-writer interface owned by the running worker.
type Handle struct {
	store       *Store
	kind        Kind
	operationID string
}

// OperationID returns the operation identifier this handle writes for.
func (h *Handle) OperationID() string { return h.operationID }

// Update publishes a new snapshot. The mutate callback receives a copy of
// the current state; the published snapshot replaces the old one atomically.
func (h *Handle) Update(mutate func(*State)) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	cur, ok := h.store.states[h.kind]
	if !ok || cur.OperationID != h.operationID {
		// The state was self-healed away; late writes are dropped.
		return
	}
	next := cur.clone()
	mutate(next)
	next.OperationID = h.operationID
	next.Kind = h.kind
	next.LastUpdate = h.store.now()
	if next.Total > 0 {
		next.Percentage = 100 * float64(next.Processed) / float64(next.Total)
	}
	h.store.setLocked(h.kind, next)
}

// Complete marks the operation finished successfully. The final state stays
// readable (Running=false, Status=completed) until the next Begin or Clear.
func (h *Handle) Complete(label string) {
	h.Update(func(st *State) {
		st.Running = false
		st.Status = StatusCompleted
		st.Label = label
		st.Processed = st.Total
		st.Percentage = 100
		st.ETASeconds = 0
	})
}

// Fail marks the operation failed with the given error.
func (h *Handle) Fail(err error) {
	h.Update(func(st *State) {
		st.Running = false
		st.Status = StatusError
		if err != nil {
			st.Error = err.Error()
		}
	})
}
