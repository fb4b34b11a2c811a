package engine_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	apperrors "github.com/louisbranch/replica/internal/platform/errors"
	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/engine"
	"github.com/louisbranch/replica/internal/testkit/replicafakes"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newSyncer(remote *replicafakes.Remote, store *replicafakes.Store, pageSize int) *engine.Syncer {
	return engine.New(remote, store, store, engine.Config{
		PageSize: pageSize,
		Clock:    func() time.Time { return testNow },
		Logf:     func(string, ...any) {},
	})
}

func steadyState(cursor string) domain.State {
	state := domain.NewState(domain.BackoffBounds{})
	state.Phase = domain.PhaseSteadyState
	state.Connected = true
	state.Cursor = cursor
	return state
}

func TestBootstrapWithoutSnapshotStartsFromGenesis(t *testing.T) {
	remote := replicafakes.NewRemote()
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)

	got, err := syncer.Bootstrap(context.Background(), domain.NewState(domain.BackoffBounds{}))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if got.Phase != domain.PhaseSteadyState {
		t.Fatalf("phase = %q, want %q", got.Phase, domain.PhaseSteadyState)
	}
	if got.Cursor != "" || !got.Connected || got.EntityCount != 0 {
		t.Fatalf("state = %+v, want null cursor, connected, 0 entities", got)
	}
	if !store.HasState || store.State.Phase != domain.PhaseSteadyState {
		t.Fatalf("persisted state = %+v, want steady state", store.State)
	}
	if len(store.Records) != 0 {
		t.Fatalf("records len = %d, want 0", len(store.Records))
	}
}

func TestBootstrapFromSnapshot(t *testing.T) {
	remote := replicafakes.NewRemote()
	remote.SetSnapshot(replicafakes.Snapshot(3, "evt-00200", 25))
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)

	got, err := syncer.Bootstrap(context.Background(), domain.NewState(domain.BackoffBounds{}))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if got.Cursor != "evt-00200" || got.EntityCount != 25 || !got.HasSnapshotSeq || got.LastSnapshotSeq != 3 {
		t.Fatalf("state = %+v", got)
	}
	if got.Phase != domain.PhaseSteadyState || !got.Connected {
		t.Fatalf("state = %+v, want connected steady state", got)
	}
	if !got.LastSnapshotCheckTime.Equal(testNow) {
		t.Fatalf("snapshot check time = %v, want %v", got.LastSnapshotCheckTime, testNow)
	}
	if len(store.Records) != 25 {
		t.Fatalf("records len = %d, want 25", len(store.Records))
	}
	for _, record := range store.Records {
		if record.IsEvent() {
			t.Fatalf("unexpected event record %+v", record)
		}
	}
}

func TestBootstrapTransportErrorKeepsPhase(t *testing.T) {
	remote := replicafakes.NewRemote()
	remote.SnapshotErr = domain.TransportError("fetch snapshot", errors.New("503"))
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)

	initial := domain.NewState(domain.BackoffBounds{})
	got, err := syncer.Bootstrap(context.Background(), initial)
	if err == nil {
		t.Fatal("expected bootstrap error")
	}
	if apperrors.CodeOf(err) != apperrors.CodeTransport {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeTransport)
	}
	if got.Phase != domain.PhaseUninitialized {
		t.Fatalf("phase = %q, want %q", got.Phase, domain.PhaseUninitialized)
	}
	if store.HasState {
		t.Fatal("expected no persisted state")
	}
}

func TestBootstrapRetryAfterStateWriteFailureIsIdempotent(t *testing.T) {
	remote := replicafakes.NewRemote()
	remote.SetSnapshot(replicafakes.Snapshot(1, "evt-00010", 4))
	store := replicafakes.NewStore()
	store.SaveErr = errors.New("disk full")
	syncer := newSyncer(remote, store, 10)

	initial := domain.NewState(domain.BackoffBounds{})
	got, err := syncer.Bootstrap(context.Background(), initial)
	if err == nil {
		t.Fatal("expected bootstrap error")
	}
	if apperrors.CodeOf(err) != apperrors.CodePersistence {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodePersistence)
	}
	if got.Phase != domain.PhaseUninitialized {
		t.Fatalf("phase = %q, want uninitialized", got.Phase)
	}

	store.SaveErr = nil
	if _, err := syncer.Bootstrap(context.Background(), got); err != nil {
		t.Fatalf("retry bootstrap: %v", err)
	}
	if len(store.Records) != 4 {
		t.Fatalf("records len = %d, want 4 after retry", len(store.Records))
	}
}

func TestBootstrapRejectsInitializedReplica(t *testing.T) {
	syncer := newSyncer(replicafakes.NewRemote(), replicafakes.NewStore(), 10)
	if _, err := syncer.Bootstrap(context.Background(), steadyState("evt-1")); err == nil {
		t.Fatal("expected error for initialized replica")
	}
}

func TestCatchupCursorInsideFirstPage(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(951, 1050)...)
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 100)

	state := steadyState(replicafakes.EventID(1000))
	state.EntityCount = 10
	got, integrated, err := syncer.Catchup(context.Background(), state)
	if err != nil {
		t.Fatalf("catchup: %v", err)
	}
	if integrated != 50 {
		t.Fatalf("integrated = %d, want 50", integrated)
	}
	if got.Cursor != replicafakes.EventID(1050) {
		t.Fatalf("cursor = %q, want %q", got.Cursor, replicafakes.EventID(1050))
	}
	if remote.PageRequests != 1 {
		t.Fatalf("page requests = %d, want 1", remote.PageRequests)
	}

	ids := store.EventIDs()
	if len(ids) != 50 || ids[0] != replicafakes.EventID(1001) || ids[49] != replicafakes.EventID(1050) {
		t.Fatalf("event ids = %v..., want evt-01001..evt-01050", ids[:min(3, len(ids))])
	}
	if !slices.IsSorted(ids) {
		t.Fatal("expected chronological order")
	}

	// 1001..1050 holds 10 updates (multiples of 5) and 40 creates.
	if got.EntityCount != 50 {
		t.Fatalf("entity count = %d, want 50", got.EntityCount)
	}
	if !got.LastPollTime.Equal(testNow) {
		t.Fatalf("last poll time = %v, want %v", got.LastPollTime, testNow)
	}
}

func TestCatchupWalksBackwardsAcrossPages(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(1, 95)...)
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)

	got, integrated, err := syncer.Catchup(context.Background(), steadyState(replicafakes.EventID(42)))
	if err != nil {
		t.Fatalf("catchup: %v", err)
	}
	if integrated != 53 {
		t.Fatalf("integrated = %d, want 53", integrated)
	}
	if remote.PageRequests != 6 {
		t.Fatalf("page requests = %d, want 6", remote.PageRequests)
	}
	for _, size := range remote.PageSizes {
		if size != 10 {
			t.Fatalf("page size = %d, want 10", size)
		}
	}
	ids := store.EventIDs()
	if ids[0] != replicafakes.EventID(43) || ids[len(ids)-1] != replicafakes.EventID(95) || !slices.IsSorted(ids) {
		t.Fatalf("unexpected event ids %v", ids)
	}
	if got.Cursor != replicafakes.EventID(95) {
		t.Fatalf("cursor = %q, want %q", got.Cursor, replicafakes.EventID(95))
	}
}

func TestCatchupUnknownCursorReplaysFromGenesis(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(1, 37)...)
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)

	got, integrated, err := syncer.Catchup(context.Background(), steadyState("evt-unknown"))
	if err != nil {
		t.Fatalf("catchup: %v", err)
	}
	if integrated != 37 {
		t.Fatalf("integrated = %d, want 37", integrated)
	}
	ids := store.EventIDs()
	if ids[0] != replicafakes.EventID(1) || ids[36] != replicafakes.EventID(37) {
		t.Fatalf("unexpected replay range %s..%s", ids[0], ids[36])
	}
	if got.Cursor != replicafakes.EventID(37) {
		t.Fatalf("cursor = %q", got.Cursor)
	}
}

func TestCatchupNullCursorIntegratesEverything(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(1, 12)...)
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 5)

	got, integrated, err := syncer.Catchup(context.Background(), steadyState(""))
	if err != nil {
		t.Fatalf("catchup: %v", err)
	}
	if integrated != 12 || got.Cursor != replicafakes.EventID(12) {
		t.Fatalf("integrated = %d cursor = %q, want 12, %q", integrated, got.Cursor, replicafakes.EventID(12))
	}
}

func TestCatchupEmptyHistoryOnlyRecordsPoll(t *testing.T) {
	remote := replicafakes.NewRemote()
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)

	state := steadyState("")
	got, integrated, err := syncer.Catchup(context.Background(), state)
	if err != nil {
		t.Fatalf("catchup: %v", err)
	}
	if integrated != 0 || got.Cursor != "" {
		t.Fatalf("integrated = %d cursor = %q, want 0 and null", integrated, got.Cursor)
	}
	if !got.LastPollTime.Equal(testNow) {
		t.Fatalf("last poll time = %v, want %v", got.LastPollTime, testNow)
	}
	if store.Saves != 1 || store.Appends != 0 {
		t.Fatalf("saves = %d appends = %d, want 1 and 0", store.Saves, store.Appends)
	}
}

func TestCatchupIsIdempotentWithUnchangedRemote(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(1, 30)...)
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 7)

	state, first, err := syncer.Catchup(context.Background(), steadyState(""))
	if err != nil {
		t.Fatalf("first catchup: %v", err)
	}
	if first != 30 {
		t.Fatalf("first integrated = %d, want 30", first)
	}
	state, second, err := syncer.Catchup(context.Background(), state)
	if err != nil {
		t.Fatalf("second catchup: %v", err)
	}
	if second != 0 {
		t.Fatalf("second integrated = %d, want 0", second)
	}
	if len(store.EventIDs()) != 30 || state.Cursor != replicafakes.EventID(30) {
		t.Fatalf("log has %d events cursor %q after replay", len(store.EventIDs()), state.Cursor)
	}
}

func TestCatchupNoGapAcrossFailuresAndGrowth(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(1, 40)...)
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 6)
	ctx := context.Background()

	state, _, err := syncer.Catchup(ctx, steadyState(""))
	if err != nil {
		t.Fatalf("initial catchup: %v", err)
	}

	remote.AddEvents(replicafakes.Events(41, 77)...)
	remote.FailPageAt = 3
	failed, integrated, err := syncer.Catchup(ctx, state)
	if err == nil {
		t.Fatal("expected mid-walk failure")
	}
	if integrated != 0 || failed.Cursor != state.Cursor {
		t.Fatalf("failed walk integrated %d and moved cursor to %q", integrated, failed.Cursor)
	}
	if got := len(store.EventIDs()); got != 40 {
		t.Fatalf("log events after failed walk = %d, want 40", got)
	}

	remote.FailPageAt = 0
	remote.AddEvents(replicafakes.Events(78, 80)...)
	state, integrated, err = syncer.Catchup(ctx, failed)
	if err != nil {
		t.Fatalf("resumed catchup: %v", err)
	}
	if integrated != 40 {
		t.Fatalf("resumed integrated = %d, want 40", integrated)
	}

	ids := store.EventIDs()
	if len(ids) != 80 {
		t.Fatalf("log events = %d, want 80", len(ids))
	}
	for i, id := range ids {
		if id != replicafakes.EventID(i+1) {
			t.Fatalf("ids[%d] = %q, want %q", i, id, replicafakes.EventID(i+1))
		}
	}
	if state.Cursor != replicafakes.EventID(80) {
		t.Fatalf("cursor = %q, want %q", state.Cursor, replicafakes.EventID(80))
	}
}

func TestCatchupAppendFailureLeavesStateUnchanged(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(1, 5)...)
	store := replicafakes.NewStore()
	store.AppendErr = errors.New("read-only file system")
	syncer := newSyncer(remote, store, 10)

	state := steadyState("")
	got, integrated, err := syncer.Catchup(context.Background(), state)
	if apperrors.CodeOf(err) != apperrors.CodePersistence {
		t.Fatalf("error = %v, want persistence error", err)
	}
	if domain.IsFatal(err) {
		t.Fatal("append failure must not be fatal")
	}
	if integrated != 0 || got.Cursor != "" || store.Saves != 0 {
		t.Fatalf("got integrated=%d cursor=%q saves=%d", integrated, got.Cursor, store.Saves)
	}
}

func TestCatchupStateSaveFailureAfterIntegrationIsFatal(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(1, 5)...)
	store := replicafakes.NewStore()
	store.SaveErr = errors.New("disk full")
	syncer := newSyncer(remote, store, 10)

	_, _, err := syncer.Catchup(context.Background(), steadyState(""))
	if !domain.IsFatal(err) {
		t.Fatalf("error = %v, want state diverged", err)
	}
}

func TestCatchupStateSaveFailureWithoutIntegrationIsRetryable(t *testing.T) {
	remote := replicafakes.NewRemote()
	store := replicafakes.NewStore()
	store.SaveErr = errors.New("disk full")
	syncer := newSyncer(remote, store, 10)

	_, _, err := syncer.Catchup(context.Background(), steadyState(""))
	if err == nil || domain.IsFatal(err) {
		t.Fatalf("error = %v, want retryable persistence error", err)
	}
}

type scriptedRemote struct {
	pages []domain.EventPage
	calls int
}

func (r *scriptedRemote) OpenSnapshot(context.Context) (engine.SnapshotResponse, error) {
	return nil, domain.ErrNoSnapshot
}

func (r *scriptedRemote) FetchEvents(context.Context, string, int) (domain.EventPage, error) {
	if r.calls >= len(r.pages) {
		return domain.EventPage{}, errors.New("unexpected page request")
	}
	page := r.pages[r.calls]
	r.calls++
	return page, nil
}

func TestCatchupRejectsPageWithoutContinuationToken(t *testing.T) {
	remote := &scriptedRemote{pages: []domain.EventPage{
		{Items: []domain.RemoteEvent{replicafakes.Event(5), replicafakes.Event(4)}, HasMore: true},
		{Items: []domain.RemoteEvent{replicafakes.Event(3), replicafakes.Event(2), replicafakes.Event(1)}},
	}}
	store := replicafakes.NewStore()
	syncer := engine.New(remote, store, store, engine.Config{Logf: func(string, ...any) {}})

	state := steadyState(replicafakes.EventID(1))
	got, integrated, err := syncer.Catchup(context.Background(), state)
	if apperrors.CodeOf(err) != apperrors.CodeDecode {
		t.Fatalf("error = %v, want decode error", err)
	}
	if integrated != 0 || remote.calls != 1 {
		t.Fatalf("integrated = %d calls = %d, want 0 and 1", integrated, remote.calls)
	}
	if got.Cursor != replicafakes.EventID(1) {
		t.Fatalf("cursor = %q, want %q", got.Cursor, replicafakes.EventID(1))
	}
	if len(store.Records) != 0 {
		t.Fatalf("records len = %d, want 0", len(store.Records))
	}
	if store.HasState {
		t.Fatal("expected no state write")
	}
}

func TestCatchupRejectsRepeatedEvents(t *testing.T) {
	remote := &scriptedRemote{pages: []domain.EventPage{
		{Items: []domain.RemoteEvent{replicafakes.Event(3), replicafakes.Event(2)}, HasMore: true, NextPageToken: "p2"},
		{Items: []domain.RemoteEvent{replicafakes.Event(2), replicafakes.Event(1)}},
	}}
	store := replicafakes.NewStore()
	syncer := engine.New(remote, store, store, engine.Config{Logf: func(string, ...any) {}})

	_, _, err := syncer.Catchup(context.Background(), steadyState(""))
	if apperrors.CodeOf(err) != apperrors.CodeDecode {
		t.Fatalf("error = %v, want decode error", err)
	}
	if len(store.Records) != 0 {
		t.Fatalf("records len = %d, want 0", len(store.Records))
	}
}

func TestCompactionRewritesLogOnNewerSnapshot(t *testing.T) {
	remote := replicafakes.NewRemote(replicafakes.Events(1, 20)...)
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)
	ctx := context.Background()

	state, _, err := syncer.Catchup(ctx, steadyState(""))
	if err != nil {
		t.Fatalf("catchup: %v", err)
	}
	state.LastSnapshotSeq = 1
	state.HasSnapshotSeq = true

	remote.SetSnapshot(replicafakes.Snapshot(2, replicafakes.EventID(18), 16))
	got, compacted, err := syncer.CheckCompaction(ctx, state)
	if err != nil {
		t.Fatalf("compaction: %v", err)
	}
	if !compacted {
		t.Fatal("expected compaction")
	}
	if got.Cursor != replicafakes.EventID(18) || got.LastSnapshotSeq != 2 || got.EntityCount != 16 {
		t.Fatalf("state = %+v", got)
	}
	if !got.LastSnapshotCheckTime.Equal(testNow) {
		t.Fatalf("check time = %v, want %v", got.LastSnapshotCheckTime, testNow)
	}
	if len(store.Records) != 16 || len(store.EventIDs()) != 0 {
		t.Fatalf("records = %d (events %d), want 16 snapshot records", len(store.Records), len(store.EventIDs()))
	}

	// The walk resumes from the snapshot anchor.
	got, integrated, err := syncer.Catchup(ctx, got)
	if err != nil {
		t.Fatalf("catchup after compaction: %v", err)
	}
	if integrated != 2 || got.Cursor != replicafakes.EventID(20) {
		t.Fatalf("integrated = %d cursor = %q, want 2 and %q", integrated, got.Cursor, replicafakes.EventID(20))
	}
}

func TestCompactionSkipsSameSequenceWithoutDownload(t *testing.T) {
	remote := replicafakes.NewRemote()
	remote.SetSnapshot(replicafakes.Snapshot(5, "evt-00100", 10))
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)
	ctx := context.Background()

	state := steadyState("evt-00090")
	first, compacted, err := syncer.CheckCompaction(ctx, state)
	if err != nil || !compacted {
		t.Fatalf("first check = (%v, %v), want compaction", compacted, err)
	}
	decodes := remote.SnapshotDecodes
	rewrites := store.Rewrites

	first.LastSnapshotCheckTime = time.Time{}
	second, compacted, err := syncer.CheckCompaction(ctx, first)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if compacted {
		t.Fatal("expected no compaction for the same sequence")
	}
	if remote.SnapshotDecodes != decodes {
		t.Fatalf("decodes = %d, want %d", remote.SnapshotDecodes, decodes)
	}
	if remote.SnapshotAborts != 1 {
		t.Fatalf("aborts = %d, want 1", remote.SnapshotAborts)
	}
	if store.Rewrites != rewrites {
		t.Fatalf("rewrites = %d, want %d", store.Rewrites, rewrites)
	}
	if !second.LastSnapshotCheckTime.Equal(testNow) {
		t.Fatalf("check time = %v, want %v", second.LastSnapshotCheckTime, testNow)
	}
	if second.Cursor != first.Cursor || second.LastSnapshotSeq != 5 {
		t.Fatalf("state changed: %+v", second)
	}
}

func TestCompactionNeverAcceptsOlderSnapshot(t *testing.T) {
	remote := replicafakes.NewRemote()
	remote.SetSnapshot(replicafakes.Snapshot(3, "evt-00001", 2))
	store := replicafakes.NewStore()
	store.Records = []domain.Record{domain.EventRecord(replicafakes.Event(9))}
	syncer := newSyncer(remote, store, 10)

	state := steadyState(replicafakes.EventID(9))
	state.LastSnapshotSeq = 4
	state.HasSnapshotSeq = true
	got, compacted, err := syncer.CheckCompaction(context.Background(), state)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if compacted || store.Rewrites != 0 || len(store.Records) != 1 {
		t.Fatalf("compacted=%v rewrites=%d records=%d, want untouched log", compacted, store.Rewrites, len(store.Records))
	}
	if got.LastSnapshotSeq != 4 || got.Cursor != replicafakes.EventID(9) {
		t.Fatalf("state = %+v", got)
	}
}

func TestCompactionWithoutSequenceMetadataComparesBody(t *testing.T) {
	remote := replicafakes.NewRemote()
	remote.SetSnapshot(replicafakes.Snapshot(2, "evt-00001", 1))
	remote.HideSequence = true
	store := replicafakes.NewStore()
	syncer := newSyncer(remote, store, 10)

	state := steadyState("evt-00001")
	state.LastSnapshotSeq = 2
	state.HasSnapshotSeq = true
	_, compacted, err := syncer.CheckCompaction(context.Background(), state)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if compacted || store.Rewrites != 0 {
		t.Fatalf("compacted=%v rewrites=%d, want no truncation", compacted, store.Rewrites)
	}
	if remote.SnapshotDecodes != 1 {
		t.Fatalf("decodes = %d, want 1", remote.SnapshotDecodes)
	}
}

func TestCompactionNoSnapshotRecordsCheck(t *testing.T) {
	store := replicafakes.NewStore()
	syncer := newSyncer(replicafakes.NewRemote(), store, 10)

	got, compacted, err := syncer.CheckCompaction(context.Background(), steadyState(""))
	if err != nil || compacted {
		t.Fatalf("check = (%v, %v), want no compaction", compacted, err)
	}
	if !got.LastSnapshotCheckTime.Equal(testNow) {
		t.Fatalf("check time = %v, want %v", got.LastSnapshotCheckTime, testNow)
	}
}

func TestCompactionStateSaveFailureAfterRewriteIsFatal(t *testing.T) {
	remote := replicafakes.NewRemote()
	remote.SetSnapshot(replicafakes.Snapshot(1, "evt-00001", 1))
	store := replicafakes.NewStore()
	store.SaveErr = errors.New("disk full")
	syncer := newSyncer(remote, store, 10)

	_, _, err := syncer.CheckCompaction(context.Background(), steadyState(""))
	if !domain.IsFatal(err) {
		t.Fatalf("error = %v, want state diverged", err)
	}
}

func TestRecount(t *testing.T) {
	store := replicafakes.NewStore()
	store.Records = append(domain.SnapshotRecords(replicafakes.Snapshot(1, "evt-00001", 3)),
		domain.EventRecord(replicafakes.Event(1)),
		domain.EventRecord(replicafakes.Event(5)),
	)
	got, err := engine.Recount(context.Background(), store)
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if got != 4 {
		t.Fatalf("recount = %d, want 4", got)
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	store := replicafakes.NewStore()
	store.Records = append(domain.SnapshotRecords(replicafakes.Snapshot(1, replicafakes.EventID(2), 2)),
		domain.EventRecord(replicafakes.Event(3)),
		domain.EventRecord(replicafakes.Event(4)),
	)
	want, err := engine.Recount(ctx, store)
	if err != nil {
		t.Fatalf("recount: %v", err)
	}

	tests := []struct {
		name        string
		cursor      string
		count       int64
		recount     bool
		wantCursor  string
		wantCount   int64
		wantChanged bool
	}{
		{name: "in sync", cursor: replicafakes.EventID(4), count: want, wantCursor: replicafakes.EventID(4), wantCount: want},
		{name: "stale cursor", cursor: replicafakes.EventID(2), count: 99, wantCursor: replicafakes.EventID(4), wantCount: want, wantChanged: true},
		{name: "count drift without recount", cursor: replicafakes.EventID(4), count: 99, wantCursor: replicafakes.EventID(4), wantCount: 99},
		{name: "count drift with recount", cursor: replicafakes.EventID(4), count: 99, recount: true, wantCursor: replicafakes.EventID(4), wantCount: want, wantChanged: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			state := steadyState(tc.cursor)
			state.EntityCount = tc.count
			got, changed, err := engine.Reconcile(ctx, store, state, tc.recount)
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
			if changed != tc.wantChanged || got.Cursor != tc.wantCursor || got.EntityCount != tc.wantCount {
				t.Fatalf("reconcile = (%q, %d, %v), want (%q, %d, %v)", got.Cursor, got.EntityCount, changed, tc.wantCursor, tc.wantCount, tc.wantChanged)
			}
		})
	}
}

func TestReconcileKeepsSnapshotAnchor(t *testing.T) {
	store := replicafakes.NewStore()
	store.Records = domain.SnapshotRecords(replicafakes.Snapshot(3, replicafakes.EventID(7), 2))

	got, changed, err := engine.Reconcile(context.Background(), store, steadyState(replicafakes.EventID(7)), false)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if changed || got.Cursor != replicafakes.EventID(7) {
		t.Fatalf("reconcile = (%q, %v), want anchor cursor unchanged", got.Cursor, changed)
	}
}

func TestPageSizeNormalization(t *testing.T) {
	store := replicafakes.NewStore()
	if got := engine.New(nil, store, store, engine.Config{}).PageSize(); got != engine.DefaultPageSize {
		t.Fatalf("page size = %d, want %d", got, engine.DefaultPageSize)
	}
	if got := engine.New(nil, store, store, engine.Config{PageSize: 1 << 20}).PageSize(); got != engine.MaxPageSize {
		t.Fatalf("page size = %d, want %d", got, engine.MaxPageSize)
	}
}
