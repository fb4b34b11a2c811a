// Package maintenance implements offline inspection and repair of a replica's
// local state and log. It must not run while the replica process is running.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	entrypoint "github.com/louisbranch/replica/internal/platform/cmd"
	replicaapp "github.com/louisbranch/replica/internal/services/replica/app"
	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/engine"
	"github.com/louisbranch/replica/internal/services/replica/storage"
)

// Config holds maintenance command configuration. Storage settings share the
// replica's REPLICA_ environment variables.
type Config struct {
	Storage   string        `env:"STORAGE" envDefault:"file"`
	StatePath string        `env:"STATE_PATH" envDefault:"data/replica-state.json"`
	LogPath   string        `env:"LOG_PATH" envDefault:"data/replica-log.jsonl"`
	DBPath    string        `env:"DB_PATH" envDefault:"data/replica.db"`
	BoltPath  string        `env:"BOLT_PATH" envDefault:"data/replica.bolt"`
	Timeout   time.Duration `env:"MAINTENANCE_TIMEOUT" envDefault:"2m"`

	Status     bool
	Recount    bool
	Reset      bool
	Yes        bool
	JSONOutput bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "storage backend: file, sqlite, or bolt (default: REPLICA_STORAGE or file)")
	fs.StringVar(&cfg.StatePath, "state-path", cfg.StatePath, "replica state JSON path (file storage)")
	fs.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "replica log JSONL path (file storage)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "replica SQLite database path (sqlite storage)")
	fs.StringVar(&cfg.BoltPath, "bolt-path", cfg.BoltPath, "replica BoltDB file path (bolt storage)")
	fs.BoolVar(&cfg.Status, "status", false, "print replica state and log statistics (default mode)")
	fs.BoolVar(&cfg.Recount, "recount", false, "recompute entity_count from the log and persist it")
	fs.BoolVar(&cfg.Reset, "reset", false, "delete replica state and log so the next start bootstraps again")
	fs.BoolVar(&cfg.Yes, "yes", false, "confirm -reset")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMaintenance, func(ctx context.Context) error {
		return run(ctx, cfg, openStore, out, errOut)
	})
}

func openStore(cfg Config) (storage.Store, error) {
	return replicaapp.OpenStore(replicaapp.RuntimeConfig{
		Storage:   cfg.Storage,
		StatePath: cfg.StatePath,
		LogPath:   cfg.LogPath,
		DBPath:    cfg.DBPath,
		BoltPath:  cfg.BoltPath,
	})
}

func run(ctx context.Context, cfg Config, open openStoreFunc, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if err := validateModes(cfg); err != nil {
		return err
	}

	store, err := open(cfg)
	if err != nil {
		return fmt.Errorf("open replica store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close replica store: %v\n", closeErr)
		}
	}()

	switch {
	case cfg.Reset:
		return runReset(ctx, store, cfg.JSONOutput, out)
	case cfg.Recount:
		return runRecount(ctx, store, cfg.JSONOutput, out)
	default:
		return runStatus(ctx, store, cfg.JSONOutput, out)
	}
}

func validateModes(cfg Config) error {
	modes := 0
	for _, set := range []bool{cfg.Status, cfg.Recount, cfg.Reset} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("-status, -recount and -reset are mutually exclusive")
	}
	if cfg.Reset && !cfg.Yes {
		return errors.New("-reset deletes the replica state and log; pass -yes to confirm")
	}
	if cfg.Yes && !cfg.Reset {
		return errors.New("-yes is only valid with -reset")
	}
	return nil
}

type statusReport struct {
	HasState              bool       `json:"has_state"`
	Phase                 string     `json:"phase"`
	Cursor                *string    `json:"cursor"`
	Connected             bool       `json:"connected"`
	BackoffInterval       string     `json:"backoff_interval"`
	LastPollTime          *time.Time `json:"last_poll_time"`
	EntityCount           int64      `json:"entity_count"`
	LastSnapshotSeq       *int64     `json:"last_snapshot_seq"`
	LastSnapshotCheckTime *time.Time `json:"last_snapshot_check_time"`
	SnapshotRecords       int64      `json:"snapshot_records"`
	EventRecords          int64      `json:"event_records"`
	CreateEvents          int64      `json:"create_events"`
	LogEntityCount        int64      `json:"log_entity_count"`
	CountMatches          bool       `json:"count_matches"`
}

func buildStatus(state domain.State, hasState bool, stats domain.LogStats) statusReport {
	report := statusReport{
		HasState:        hasState,
		Phase:           string(state.Phase),
		Connected:       state.Connected,
		EntityCount:     state.EntityCount,
		SnapshotRecords: stats.SnapshotRecords,
		EventRecords:    stats.EventRecords,
		CreateEvents:    stats.CreateEvents,
		LogEntityCount:  stats.EntityCount(),
	}
	if report.Phase == "" {
		report.Phase = string(domain.PhaseUninitialized)
	}
	if state.BackoffInterval > 0 {
		report.BackoffInterval = state.BackoffInterval.String()
	}
	if state.Cursor != "" {
		cursor := state.Cursor
		report.Cursor = &cursor
	}
	if !state.LastPollTime.IsZero() {
		polled := state.LastPollTime
		report.LastPollTime = &polled
	}
	if state.HasSnapshotSeq {
		seq := state.LastSnapshotSeq
		report.LastSnapshotSeq = &seq
	}
	if !state.LastSnapshotCheckTime.IsZero() {
		checked := state.LastSnapshotCheckTime
		report.LastSnapshotCheckTime = &checked
	}
	report.CountMatches = report.EntityCount == report.LogEntityCount
	return report
}

func runStatus(ctx context.Context, store storage.Store, jsonOutput bool, out io.Writer) error {
	state, ok, err := store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load replica state: %w", err)
	}
	stats, err := storage.Stats(ctx, store)
	if err != nil {
		return fmt.Errorf("scan replica log: %w", err)
	}
	report := buildStatus(state, ok, stats)

	if jsonOutput {
		return writeJSON(out, report)
	}
	if !report.HasState {
		fmt.Fprintln(out, "No replica state recorded; the next start bootstraps from the remote snapshot.")
	}
	fmt.Fprintf(out, "Phase: %s (connected=%t)\n", report.Phase, report.Connected)
	fmt.Fprintf(out, "Cursor: %s\n", stringOrNull(report.Cursor))
	fmt.Fprintf(out, "Backoff interval: %s\n", orDash(report.BackoffInterval))
	fmt.Fprintf(out, "Last poll: %s\n", timeOrNever(report.LastPollTime))
	if report.LastSnapshotSeq != nil {
		fmt.Fprintf(out, "Last snapshot: seq %d, checked %s\n", *report.LastSnapshotSeq, timeOrNever(report.LastSnapshotCheckTime))
	} else {
		fmt.Fprintf(out, "Last snapshot: none, checked %s\n", timeOrNever(report.LastSnapshotCheckTime))
	}
	fmt.Fprintf(out, "Log: %d snapshot records, %d event records (%d create)\n", report.SnapshotRecords, report.EventRecords, report.CreateEvents)
	fmt.Fprintf(out, "Entity count: %d recorded, %d derived from log\n", report.EntityCount, report.LogEntityCount)
	if !report.CountMatches {
		fmt.Fprintln(out, "Entity count differs from the log; run with -recount to repair.")
	}
	return nil
}

type recountResult struct {
	Previous int64 `json:"previous"`
	Current  int64 `json:"current"`
	Changed  bool  `json:"changed"`
}

func runRecount(ctx context.Context, store storage.Store, jsonOutput bool, out io.Writer) error {
	state, ok, err := store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load replica state: %w", err)
	}
	if !ok {
		return errors.New("no replica state to recount")
	}
	count, err := engine.Recount(ctx, store)
	if err != nil {
		return fmt.Errorf("recount entities: %w", err)
	}

	result := recountResult{Previous: state.EntityCount, Current: count, Changed: count != state.EntityCount}
	if result.Changed {
		state.EntityCount = count
		if err := store.SaveState(ctx, state); err != nil {
			return fmt.Errorf("save replica state: %w", err)
		}
	}
	if jsonOutput {
		return writeJSON(out, result)
	}
	if result.Changed {
		fmt.Fprintf(out, "Entity count updated: %d -> %d\n", result.Previous, result.Current)
		return nil
	}
	fmt.Fprintf(out, "Entity count unchanged: %d\n", result.Current)
	return nil
}

func runReset(ctx context.Context, store storage.Store, jsonOutput bool, out io.Writer) error {
	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("reset replica: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, map[string]bool{"reset": true})
	}
	fmt.Fprintln(out, "Replica state and log removed.")
	return nil
}

func writeJSON(out io.Writer, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}

func stringOrNull(value *string) string {
	if value == nil {
		return "null"
	}
	return *value
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func timeOrNever(value *time.Time) string {
	if value == nil {
		return "never"
	}
	return value.UTC().Format(time.RFC3339)
}
