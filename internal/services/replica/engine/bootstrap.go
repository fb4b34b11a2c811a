package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"go.opentelemetry.io/otel/attribute"
)

// Bootstrap initializes an empty replica from the remote snapshot.
//
// A remote with no snapshot is a valid new store: the replica moves straight
// to steady state with a null cursor. The log is rewritten rather than
// appended to, so retrying after a crash between log write and state write
// produces the same log.
func (s *Syncer) Bootstrap(ctx context.Context, state domain.State) (_ domain.State, err error) {
	ctx, span := s.startSpan(ctx, "replica.bootstrap", state)
	defer func() { endSpan(span, err) }()

	if state.Phase.Initialized() {
		return state, fmt.Errorf("bootstrap: replica already in %s", state.Phase)
	}

	resp, err := s.remote.OpenSnapshot(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		span.SetAttributes(attribute.Bool("replica.snapshot_found", false))
		return s.bootstrapEmpty(ctx, state)
	}
	if err != nil {
		return state, fmt.Errorf("bootstrap: %w", err)
	}
	defer resp.Close()

	snapshot, err := resp.Decode()
	if err != nil {
		return state, fmt.Errorf("bootstrap: %w", err)
	}
	span.SetAttributes(
		attribute.Bool("replica.snapshot_found", true),
		attribute.Int64("replica.snapshot_seq", snapshot.Sequence),
		attribute.Int("replica.snapshot_entries", len(snapshot.Entries)),
	)
	s.warnOnCountMismatch(snapshot)

	if err := s.log.Rewrite(ctx, domain.SnapshotRecords(snapshot)); err != nil {
		return state, domain.PersistenceError("bootstrap: write snapshot records", err)
	}

	next := state.WithSnapshot(snapshot, s.now())
	next.Phase = domain.PhaseSteadyState
	next.Connected = true
	if err := s.states.SaveState(context.WithoutCancel(ctx), next); err != nil {
		return state, domain.PersistenceError("bootstrap: save state", err)
	}
	s.cfg.Logf("bootstrap complete: snapshot seq=%d entities=%d cursor=%q", snapshot.Sequence, next.EntityCount, next.Cursor)
	return next, nil
}

func (s *Syncer) bootstrapEmpty(ctx context.Context, state domain.State) (domain.State, error) {
	if err := s.log.Rewrite(ctx, nil); err != nil {
		return state, domain.PersistenceError("bootstrap: clear log", err)
	}
	next := state
	next.Phase = domain.PhaseSteadyState
	next.Connected = true
	next.Cursor = ""
	next.EntityCount = 0
	if err := s.states.SaveState(context.WithoutCancel(ctx), next); err != nil {
		return state, domain.PersistenceError("bootstrap: save state", err)
	}
	s.cfg.Logf("bootstrap complete: remote has no snapshot, starting from genesis")
	return next, nil
}

func (s *Syncer) warnOnCountMismatch(snapshot domain.RemoteSnapshot) {
	if int64(len(snapshot.Entries)) != snapshot.TotalEntityCount {
		s.cfg.Logf("snapshot seq=%d lists %d entries but reports %d entities", snapshot.Sequence, len(snapshot.Entries), snapshot.TotalEntityCount)
	}
}
