// Package app wires the replica scheduler loop to its storage, the remote
// client, and the gRPC health endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformgrpc "github.com/louisbranch/replica/internal/platform/grpc"
	"github.com/louisbranch/replica/internal/platform/timeouts"
	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/engine"
	"github.com/louisbranch/replica/internal/services/replica/metrics"
	"github.com/louisbranch/replica/internal/services/replica/remote"
	"github.com/louisbranch/replica/internal/services/replica/storage"
	replicabolt "github.com/louisbranch/replica/internal/services/replica/storage/bolt"
	"github.com/louisbranch/replica/internal/services/replica/storage/jsonfile"
	replicasqlite "github.com/louisbranch/replica/internal/services/replica/storage/sqlite"
	"golang.org/x/sync/errgroup"
)

const (
	// StorageFile keeps state in a JSON file and the log in a JSONL file.
	StorageFile = "file"
	// StorageSQLite keeps state and log in one SQLite database.
	StorageSQLite = "sqlite"
	// StorageBolt keeps state and log in one BoltDB file.
	StorageBolt = "bolt"

	// HealthService is the gRPC health service name reporting sync readiness.
	HealthService = "replica.sync"

	defaultReplicaPort = 8095
	defaultStatePath   = "data/replica-state.json"
	defaultLogPath     = "data/replica-log.jsonl"
	defaultDBPath      = "data/replica.db"
	defaultBoltPath    = "data/replica.bolt"
)

// RuntimeConfig controls replica startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port            int
	MetricsAddr     string
	APIAddr         string
	Storage         string
	StatePath       string
	LogPath         string
	DBPath          string
	BoltPath        string
	SnapshotRefresh time.Duration
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	PageSize        int
	HTTPTimeout     time.Duration
	SnapshotTimeout time.Duration
	HTTPMaxRetries  int
	RecountOnStart  bool
}

func (cfg RuntimeConfig) normalized() (RuntimeConfig, error) {
	if strings.TrimSpace(cfg.APIAddr) == "" {
		return cfg, errors.New("remote api address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultReplicaPort
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if cfg.Storage == "" {
		cfg.Storage = StorageFile
	}
	if strings.TrimSpace(cfg.StatePath) == "" {
		cfg.StatePath = defaultStatePath
	}
	if strings.TrimSpace(cfg.LogPath) == "" {
		cfg.LogPath = defaultLogPath
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if strings.TrimSpace(cfg.BoltPath) == "" {
		cfg.BoltPath = defaultBoltPath
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = timeouts.HTTPRequest
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = timeouts.SnapshotDownload
	}
	return cfg, nil
}

// OpenStore opens the configured storage backend.
func OpenStore(cfg RuntimeConfig) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "", StorageFile:
		statePath := cfg.StatePath
		if strings.TrimSpace(statePath) == "" {
			statePath = defaultStatePath
		}
		logPath := cfg.LogPath
		if strings.TrimSpace(logPath) == "" {
			logPath = defaultLogPath
		}
		store, err := jsonfile.Open(statePath, logPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageSQLite:
		dbPath := cfg.DBPath
		if strings.TrimSpace(dbPath) == "" {
			dbPath = defaultDBPath
		}
		if err := ensureDir(dbPath); err != nil {
			return nil, err
		}
		store, err := replicasqlite.Open(dbPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageBolt:
		boltPath := cfg.BoltPath
		if strings.TrimSpace(boltPath) == "" {
			boltPath = defaultBoltPath
		}
		if err := ensureDir(boltPath); err != nil {
			return nil, err
		}
		store, err := replicabolt.Open(boltPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create replica storage dir: %w", err)
	}
	return nil
}

// Run starts the health endpoint and the replica loop. It returns when ctx is
// canceled or the loop hits a fatal error.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("open replica %s store: %w", cfg.Storage, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close replica store: %v", closeErr)
		}
	}()

	client, err := remote.NewClient(remote.Config{
		BaseURL:         cfg.APIAddr,
		Timeout:         cfg.HTTPTimeout,
		SnapshotTimeout: cfg.SnapshotTimeout,
		MaxRetries:      cfg.HTTPMaxRetries,
	})
	if err != nil {
		return fmt.Errorf("create remote client: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on replica port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	healthServer := platformgrpc.NewHealthServer(HealthService)
	replicaMetrics := metrics.New()

	syncer := engine.New(client, store, store, engine.Config{PageSize: cfg.PageSize})
	loop := New(syncer, store, store, Config{
		Backoff:         domain.BackoffBounds{Min: cfg.MinBackoff, Max: cfg.MaxBackoff},
		SnapshotRefresh: cfg.SnapshotRefresh,
		RecountOnStart:  cfg.RecountOnStart,
		Recorder:        replicaMetrics,
	}, func(phase domain.Phase) {
		healthServer.SetServing(phase.Initialized())
	})

	var metricsServer *http.Server
	var metricsListener net.Listener
	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		metricsListener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on metrics addr %s: %w", addr, err)
		}
		metricsServer = &http.Server{
			Handler:           replicaMetrics.Handler(),
			ReadHeaderTimeout: timeouts.HTTPRequest,
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("replica health server listening at %v", listener.Addr())
		return healthServer.Serve(listener)
	})
	if metricsServer != nil {
		group.Go(func() error {
			log.Printf("replica metrics listening at %v", metricsListener.Addr())
			if err := metricsServer.Serve(metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		defer healthServer.Stop(timeouts.Shutdown)
		if metricsServer != nil {
			defer shutdownHTTP(metricsServer)
		}
		log.Printf("replica syncing from %s (storage=%s, page size=%d)", cfg.APIAddr, cfg.Storage, syncer.PageSize())
		return loop.Run(groupCtx)
	})
	return group.Wait()
}

func shutdownHTTP(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown metrics server: %v", err)
	}
}
