// Package replica parses replica command flags and launches the replica runtime.
package replica

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/replica/internal/platform/cmd"
	replicaapp "github.com/louisbranch/replica/internal/services/replica/app"
)

// Config holds replica command configuration. Environment variables carry the
// REPLICA_ prefix.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8095"`
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9095"`
	APIAddr         string        `env:"API_ADDR"`
	Storage         string        `env:"STORAGE" envDefault:"file"`
	StatePath       string        `env:"STATE_PATH" envDefault:"data/replica-state.json"`
	LogPath         string        `env:"LOG_PATH" envDefault:"data/replica-log.jsonl"`
	DBPath          string        `env:"DB_PATH" envDefault:"data/replica.db"`
	BoltPath        string        `env:"BOLT_PATH" envDefault:"data/replica.bolt"`
	SnapshotRefresh time.Duration `env:"SNAPSHOT_REFRESH" envDefault:"1h"`
	MinBackoff      time.Duration `env:"MIN_BACKOFF" envDefault:"1s"`
	MaxBackoff      time.Duration `env:"MAX_BACKOFF" envDefault:"5m"`
	PageSize        int           `env:"PAGE_SIZE" envDefault:"100"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	SnapshotTimeout time.Duration `env:"SNAPSHOT_TIMEOUT" envDefault:"10m"`
	HTTPMaxRetries  int           `env:"HTTP_MAX_RETRIES" envDefault:"3"`
	RecountOnStart  bool          `env:"RECOUNT_ON_START" envDefault:"true"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The replica health gRPC server port")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "The Prometheus metrics listen address (empty disables)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "The remote event store API address")
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "Storage backend: file, sqlite, or bolt")
	fs.StringVar(&cfg.StatePath, "state-path", cfg.StatePath, "The replica state JSON file path (file storage)")
	fs.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "The replica log JSONL file path (file storage)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The replica SQLite database path (sqlite storage)")
	fs.StringVar(&cfg.BoltPath, "bolt-path", cfg.BoltPath, "The replica BoltDB file path (bolt storage)")
	fs.DurationVar(&cfg.SnapshotRefresh, "snapshot-refresh", cfg.SnapshotRefresh, "Interval between snapshot compaction checks")
	fs.DurationVar(&cfg.MinBackoff, "min-backoff", cfg.MinBackoff, "Minimum poll interval")
	fs.DurationVar(&cfg.MaxBackoff, "max-backoff", cfg.MaxBackoff, "Maximum poll interval")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Events requested per page")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "Timeout for one remote request attempt")
	fs.DurationVar(&cfg.SnapshotTimeout, "snapshot-timeout", cfg.SnapshotTimeout, "Timeout for one full snapshot download")
	fs.IntVar(&cfg.HTTPMaxRetries, "http-max-retries", cfg.HTTPMaxRetries, "Retries for transient remote failures")
	fs.BoolVar(&cfg.RecountOnStart, "recount-on-start", cfg.RecountOnStart, "Recompute the entity count from the log at startup")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the replica runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceReplica, func(ctx context.Context) error {
		return replicaapp.Run(ctx, replicaapp.RuntimeConfig{
			Port:            cfg.Port,
			MetricsAddr:     cfg.MetricsAddr,
			APIAddr:         cfg.APIAddr,
			Storage:         cfg.Storage,
			StatePath:       cfg.StatePath,
			LogPath:         cfg.LogPath,
			DBPath:          cfg.DBPath,
			BoltPath:        cfg.BoltPath,
			SnapshotRefresh: cfg.SnapshotRefresh,
			MinBackoff:      cfg.MinBackoff,
			MaxBackoff:      cfg.MaxBackoff,
			PageSize:        cfg.PageSize,
			HTTPTimeout:     cfg.HTTPTimeout,
			SnapshotTimeout: cfg.SnapshotTimeout,
			HTTPMaxRetries:  cfg.HTTPMaxRetries,
			RecountOnStart:  cfg.RecountOnStart,
		})
	})
}
