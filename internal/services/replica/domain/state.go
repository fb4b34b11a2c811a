// Package domain defines replica progress state, log records, and the shapes
// returned by the remote event store.
package domain

import (
	"strings"
	"time"
)

// Phase is the replica lifecycle stage.
type Phase string

const (
	// PhaseUninitialized means no snapshot or event has been integrated yet.
	PhaseUninitialized Phase = "uninitialized"
	// PhaseBootstrapping is tolerated on load and treated as uninitialized.
	PhaseBootstrapping Phase = "bootstrapping"
	// PhaseSteadyState means bootstrap completed and catchup walks may run.
	PhaseSteadyState Phase = "steady_state"
)

// ParsePhase normalizes a persisted phase value. Unknown values map to
// PhaseUninitialized so a damaged record restarts from bootstrap.
func ParsePhase(value string) Phase {
	switch Phase(strings.TrimSpace(value)) {
	case PhaseSteadyState:
		return PhaseSteadyState
	case PhaseBootstrapping:
		return PhaseBootstrapping
	default:
		return PhaseUninitialized
	}
}

// Initialized reports whether bootstrap has completed.
func (p Phase) Initialized() bool {
	return p == PhaseSteadyState
}

// State is the durable record describing replica progress.
//
// Zero values stand in for the nulls of the persisted form: an empty Cursor
// means no event has been integrated, a zero time means "never", and
// HasSnapshotSeq distinguishes "no snapshot yet" from sequence zero.
type State struct {
	Phase                 Phase
	Cursor                string
	Connected             bool
	BackoffInterval       time.Duration
	LastPollTime          time.Time
	EntityCount           int64
	LastSnapshotSeq       int64
	HasSnapshotSeq        bool
	LastSnapshotCheckTime time.Time
}

// NewState returns the state used when no durable record exists.
func NewState(bounds BackoffBounds) State {
	bounds = bounds.Normalize()
	return State{
		Phase:           PhaseUninitialized,
		BackoffInterval: bounds.Min,
	}
}

// AcceptsSnapshot reports whether a snapshot with seq would advance the
// replica. Sequences are only accepted when strictly greater than the last one.
func (s State) AcceptsSnapshot(seq int64) bool {
	return !s.HasSnapshotSeq || seq > s.LastSnapshotSeq
}

// WithSnapshot re-anchors the state on snapshot.
func (s State) WithSnapshot(snapshot RemoteSnapshot, now time.Time) State {
	s.Cursor = snapshot.AnchorEventID
	s.EntityCount = snapshot.TotalEntityCount
	s.LastSnapshotSeq = snapshot.Sequence
	s.HasSnapshotSeq = true
	s.LastSnapshotCheckTime = now
	return s
}

// SnapshotCheckDue reports whether refresh has elapsed since the last
// snapshot check. A replica that never checked is always due.
func (s State) SnapshotCheckDue(now time.Time, refresh time.Duration) bool {
	if s.LastSnapshotCheckTime.IsZero() {
		return true
	}
	return now.Sub(s.LastSnapshotCheckTime) >= refresh
}
