// Package engine implements the replica synchronization procedures: bootstrap
// from a snapshot, the backwards catchup walk, and snapshot compaction.
//
// Every procedure takes the current state by value and returns the state it
// persisted. On error the returned state is the input state: nothing the
// caller holds in memory is ahead of what is on disk.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultPageSize is the event page size used when none is configured.
	DefaultPageSize = 100
	// MaxPageSize caps the requested event page size.
	MaxPageSize = 1000

	tracerName = "github.com/louisbranch/replica/internal/services/replica/engine"
)

// SnapshotResponse is an in-flight snapshot request. Sequence and EntityCount
// come from response metadata and are available before the body is read.
type SnapshotResponse interface {
	Sequence() (int64, bool)
	EntityCount() (int64, bool)
	Decode() (domain.RemoteSnapshot, error)
	// Close releases the response; before Decode it aborts the body download.
	Close() error
}

// Remote is the remote event store API consumed by the engine.
type Remote interface {
	// OpenSnapshot starts the latest snapshot request. It returns an error
	// matching domain.ErrNoSnapshot when the remote has no snapshot yet.
	OpenSnapshot(ctx context.Context) (SnapshotResponse, error)
	// FetchEvents returns one page of history, newest first. An empty token
	// requests the head of the history.
	FetchEvents(ctx context.Context, pageToken string, limit int) (domain.EventPage, error)
}

// Config controls engine behavior.
type Config struct {
	PageSize int
	Clock    func() time.Time
	Logf     func(string, ...any)
}

func (c Config) normalized() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > MaxPageSize {
		c.PageSize = MaxPageSize
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logf == nil {
		c.Logf = log.Printf
	}
	return c
}

// Syncer runs replica synchronization procedures against one remote and one
// local store. It holds no replica state of its own.
type Syncer struct {
	remote Remote
	log    storage.LogStore
	states storage.StateStore
	cfg    Config
	tracer trace.Tracer
}

// New creates a Syncer.
func New(remote Remote, logStore storage.LogStore, states storage.StateStore, cfg Config) *Syncer {
	return &Syncer{
		remote: remote,
		log:    logStore,
		states: states,
		cfg:    cfg.normalized(),
		tracer: otel.Tracer(tracerName),
	}
}

// PageSize returns the normalized event page size.
func (s *Syncer) PageSize() int {
	return s.cfg.PageSize
}

func (s *Syncer) now() time.Time {
	return s.cfg.Clock().UTC()
}

func (s *Syncer) startSpan(ctx context.Context, name string, state domain.State) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("replica.phase", string(state.Phase)),
		attribute.String("replica.cursor", state.Cursor),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

// Recount derives the entity count from the log contents.
func Recount(ctx context.Context, logStore storage.LogStore) (int64, error) {
	stats, err := storage.Stats(ctx, logStore)
	if err != nil {
		return 0, domain.PersistenceError("scan replica log", err)
	}
	return stats.EntityCount(), nil
}

// Reconcile aligns state with the log, which is authoritative. The cursor
// moves to the newest logged event when they disagree, as after a crash
// between appending events and saving state. The entity count is recomputed
// when the cursor moved or recount is set. It reports whether state changed.
func Reconcile(ctx context.Context, logStore storage.LogStore, state domain.State, recount bool) (domain.State, bool, error) {
	stats, err := storage.Stats(ctx, logStore)
	if err != nil {
		return state, false, domain.PersistenceError("scan replica log", err)
	}
	next := state
	if stats.LastEventID != "" && stats.LastEventID != state.Cursor {
		next.Cursor = stats.LastEventID
		recount = true
	}
	if recount {
		next.EntityCount = stats.EntityCount()
	}
	return next, next.Cursor != state.Cursor || next.EntityCount != state.EntityCount, nil
}
