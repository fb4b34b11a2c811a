package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/engine"
	"github.com/louisbranch/replica/internal/services/replica/storage"
)

// DefaultSnapshotRefresh is the compaction check interval used when none is
// configured.
const DefaultSnapshotRefresh = time.Hour

// CycleRecorder observes scheduler progress.
type CycleRecorder interface {
	ObserveCycle(duration time.Duration, integrated int, compacted bool, err error)
	ObserveState(state domain.State)
}

// Config controls scheduler behavior.
type Config struct {
	Backoff         domain.BackoffBounds
	SnapshotRefresh time.Duration
	RecountOnStart  bool
	// Recorder, when set, is told about every cycle and persisted state.
	Recorder        CycleRecorder
}

func (c Config) normalized() Config {
	c.Backoff = c.Backoff.Normalize()
	if c.SnapshotRefresh <= 0 {
		c.SnapshotRefresh = DefaultSnapshotRefresh
	}
	return c
}

// Loop runs replica cycles one after another until its context ends or a
// fatal error occurs.
type Loop struct {
	syncer  *engine.Syncer
	states  storage.StateStore
	log     storage.LogStore
	cfg     Config
	clock   func() time.Time
	logf    func(string, ...any)
	wait    func(context.Context, time.Duration) bool
	onPhase func(domain.Phase)
}

// New creates a scheduler loop. onPhase, when non-nil, is called with the
// phase after the state is loaded and whenever it changes.
func New(syncer *engine.Syncer, states storage.StateStore, logStore storage.LogStore, cfg Config, onPhase func(domain.Phase)) *Loop {
	return &Loop{
		syncer:  syncer,
		states:  states,
		log:     logStore,
		cfg:     cfg.normalized(),
		clock:   time.Now,
		logf:    log.Printf,
		wait:    waitInterval,
		onPhase: onPhase,
	}
}

// Run loads the persisted state and cycles until ctx is canceled. It returns
// nil on cancellation and an error only when the replica cannot continue.
func (l *Loop) Run(ctx context.Context) error {
	state, err := l.Load(ctx)
	if err != nil {
		return err
	}
	l.logf("replica loaded: phase=%s cursor=%q entities=%d backoff=%s", state.Phase, state.Cursor, state.EntityCount, state.BackoffInterval)

	for {
		next, wait, err := l.RunCycle(ctx, state)
		state = next
		if err != nil {
			if domain.IsFatal(err) {
				return fmt.Errorf("replica cycle: %w", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			l.logf("replica cycle failed, retrying in %s: %v", wait, err)
		}
		if !l.wait(ctx, wait) {
			return nil
		}
	}
}

// Load reads the persisted state, or defaults when none exists, and forces
// the stored backoff into the configured bounds. An initialized replica's
// cursor is then aligned with the log; with RecountOnStart the entity count
// is recomputed too.
func (l *Loop) Load(ctx context.Context) (domain.State, error) {
	state, ok, err := l.states.LoadState(ctx)
	if err != nil {
		return domain.State{}, fmt.Errorf("load replica state: %w", err)
	}
	if !ok {
		state = domain.NewState(l.cfg.Backoff)
	}
	if !state.Phase.Initialized() {
		state.Phase = domain.PhaseUninitialized
	}
	state.BackoffInterval = l.cfg.Backoff.Clamp(state.BackoffInterval)

	if state.Phase.Initialized() {
		next, changed, err := engine.Reconcile(ctx, l.log, state, l.cfg.RecountOnStart)
		if err != nil {
			return domain.State{}, fmt.Errorf("reconcile replica log: %w", err)
		}
		if changed {
			l.logf("state reconciled with log: cursor %q -> %q, entities %d -> %d", state.Cursor, next.Cursor, state.EntityCount, next.EntityCount)
			if err := l.states.SaveState(ctx, next); err != nil {
				return domain.State{}, fmt.Errorf("save reconciled state: %w", err)
			}
			state = next
		}
	}
	l.notifyPhase(state.Phase)
	l.observeState(state)
	return state, nil
}

type cycleResult struct {
	state      domain.State
	wait       time.Duration
	integrated int
	compacted  bool
	err        error
}

// RunCycle performs one scheduler cycle and returns the persisted state with
// the interval to wait before the next one. A failed cycle returns the last
// persisted state and the minimum interval.
func (l *Loop) RunCycle(ctx context.Context, state domain.State) (domain.State, time.Duration, error) {
	started := l.clock()
	result := l.runCycle(ctx, state)
	if l.cfg.Recorder != nil {
		l.cfg.Recorder.ObserveCycle(l.clock().Sub(started), result.integrated, result.compacted, result.err)
	}
	l.observeState(result.state)
	return result.state, result.wait, result.err
}

func (l *Loop) runCycle(ctx context.Context, state domain.State) cycleResult {
	bounds := l.cfg.Backoff
	result := cycleResult{state: state, wait: bounds.Min}

	if !state.Phase.Initialized() {
		next, err := l.syncer.Bootstrap(ctx, state)
		if err != nil {
			result.err = err
			return result
		}
		state = next
		result.state = state
		l.notifyPhase(state.Phase)
	}

	if state.SnapshotCheckDue(l.clock(), l.cfg.SnapshotRefresh) {
		next, compacted, err := l.syncer.CheckCompaction(ctx, state)
		result.state = next
		if err != nil {
			result.err = err
			return result
		}
		state = next
		result.compacted = compacted
	}

	next, integrated, err := l.syncer.Catchup(ctx, state)
	result.state = next
	if err != nil {
		result.err = err
		return result
	}
	state = next
	result.integrated = integrated

	interval := bounds.Next(state.BackoffInterval, integrated)
	if interval != state.BackoffInterval {
		updated := state
		updated.BackoffInterval = interval
		if err := l.states.SaveState(context.WithoutCancel(ctx), updated); err != nil {
			result.err = domain.PersistenceError("save backoff interval", err)
			return result
		}
		state = updated
	}
	result.state = state
	result.wait = state.BackoffInterval
	return result
}

func (l *Loop) observeState(state domain.State) {
	if l.cfg.Recorder != nil {
		l.cfg.Recorder.ObserveState(state)
	}
}

func (l *Loop) notifyPhase(phase domain.Phase) {
	if l.onPhase != nil {
		l.onPhase(phase)
	}
}

// waitInterval sleeps for delay and reports false when ctx ends first.
func waitInterval(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = domain.DefaultMinBackoff
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
