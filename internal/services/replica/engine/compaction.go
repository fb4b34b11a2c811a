package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"go.opentelemetry.io/otel/attribute"
)

// CheckCompaction re-anchors the replica on the remote snapshot when it is
// newer than the last integrated one. It reports whether the log was
// rewritten.
//
// The snapshot sequence is read from response metadata first; when it is not
// newer the request is closed before the body is downloaded.
func (s *Syncer) CheckCompaction(ctx context.Context, state domain.State) (_ domain.State, _ bool, err error) {
	ctx, span := s.startSpan(ctx, "replica.compaction_check", state)
	defer func() { endSpan(span, err) }()

	now := s.now()
	resp, err := s.remote.OpenSnapshot(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		return s.recordSnapshotCheck(ctx, state, now)
	}
	if err != nil {
		return state, false, fmt.Errorf("compaction check: %w", err)
	}
	defer resp.Close()

	if seq, ok := resp.Sequence(); ok {
		span.SetAttributes(attribute.Int64("replica.snapshot_seq", seq))
		if !state.AcceptsSnapshot(seq) {
			if err := resp.Close(); err != nil {
				s.cfg.Logf("abort snapshot download: %v", err)
			}
			return s.recordSnapshotCheck(ctx, state, now)
		}
	}

	snapshot, err := resp.Decode()
	if err != nil {
		return state, false, fmt.Errorf("compaction check: %w", err)
	}
	if !state.AcceptsSnapshot(snapshot.Sequence) {
		return s.recordSnapshotCheck(ctx, state, now)
	}
	s.warnOnCountMismatch(snapshot)

	if err := s.log.Rewrite(ctx, domain.SnapshotRecords(snapshot)); err != nil {
		return state, false, domain.PersistenceError("compaction: rewrite log", err)
	}
	next := state.WithSnapshot(snapshot, now)
	if err := s.states.SaveState(context.WithoutCancel(ctx), next); err != nil {
		return state, false, domain.StateDivergedError("compaction: save state after rewriting log", err)
	}

	span.SetAttributes(attribute.Bool("replica.compacted", true))
	s.cfg.Logf("compacted replica log onto snapshot seq=%d entities=%d cursor=%q", snapshot.Sequence, next.EntityCount, next.Cursor)
	return next, true, nil
}

func (s *Syncer) recordSnapshotCheck(ctx context.Context, state domain.State, now time.Time) (domain.State, bool, error) {
	next := state
	next.LastSnapshotCheckTime = now
	if err := s.states.SaveState(ctx, next); err != nil {
		return state, false, domain.PersistenceError("compaction check: save state", err)
	}
	return next, false, nil
}
