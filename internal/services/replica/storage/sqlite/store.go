// Package sqlite stores replica state and log in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/replica/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/replica/internal/platform/timeouts"
	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/storage"
	"github.com/louisbranch/replica/internal/services/replica/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed replica persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a replica SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; keeps transactions and reads on the same connection.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.StoreOpen)
	defer cancel()
	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// LoadState reads the single state row. It reports false when none exists.
func (s *Store) LoadState(ctx context.Context) (domain.State, bool, error) {
	if err := s.ready(ctx); err != nil {
		return domain.State{}, false, err
	}

	var (
		phase           string
		cursor          sql.NullString
		connected       bool
		backoffNanos    int64
		lastPoll        sql.NullInt64
		entityCount     int64
		lastSnapshotSeq sql.NullInt64
		lastCheck       sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	phase,
	cursor,
	connected,
	backoff_interval_ns,
	last_poll_time,
	entity_count,
	last_snapshot_seq,
	last_snapshot_check_time
FROM replica_state
WHERE id = 1
`).Scan(
		&phase,
		&cursor,
		&connected,
		&backoffNanos,
		&lastPoll,
		&entityCount,
		&lastSnapshotSeq,
		&lastCheck,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.State{}, false, nil
		}
		return domain.State{}, false, fmt.Errorf("load state: %w", err)
	}

	state := domain.State{
		Phase:           domain.ParsePhase(phase),
		Cursor:          cursor.String,
		Connected:       connected,
		BackoffInterval: time.Duration(backoffNanos),
		EntityCount:     max(entityCount, 0),
	}
	if lastPoll.Valid {
		state.LastPollTime = time.UnixMilli(lastPoll.Int64).UTC()
	}
	if lastSnapshotSeq.Valid {
		state.LastSnapshotSeq = lastSnapshotSeq.Int64
		state.HasSnapshotSeq = true
	}
	if lastCheck.Valid {
		state.LastSnapshotCheckTime = time.UnixMilli(lastCheck.Int64).UTC()
	}
	return state, true, nil
}

// SaveState upserts the single state row in one statement.
func (s *Store) SaveState(ctx context.Context, state domain.State) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	phase := state.Phase
	if phase == "" {
		phase = domain.PhaseUninitialized
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO replica_state (
	id,
	phase,
	cursor,
	connected,
	backoff_interval_ns,
	last_poll_time,
	entity_count,
	last_snapshot_seq,
	last_snapshot_check_time
) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	phase = excluded.phase,
	cursor = excluded.cursor,
	connected = excluded.connected,
	backoff_interval_ns = excluded.backoff_interval_ns,
	last_poll_time = excluded.last_poll_time,
	entity_count = excluded.entity_count,
	last_snapshot_seq = excluded.last_snapshot_seq,
	last_snapshot_check_time = excluded.last_snapshot_check_time
`,
		string(phase),
		nullString(state.Cursor),
		state.Connected,
		int64(state.BackoffInterval),
		nullMillis(state.LastPollTime),
		state.EntityCount,
		sql.NullInt64{Int64: state.LastSnapshotSeq, Valid: state.HasSnapshotSeq},
		nullMillis(state.LastSnapshotCheckTime),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Append inserts records at the end of the log in one transaction.
func (s *Store) Append(ctx context.Context, records []domain.Record) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return s.inTx(ctx, "append log", func(tx *sql.Tx) error {
		return insertRecords(ctx, tx, records)
	})
}

// Rewrite replaces the whole log in one transaction.
func (s *Store) Rewrite(ctx context.Context, records []domain.Record) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, "rewrite log", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM replica_log`); err != nil {
			return fmt.Errorf("truncate log: %w", err)
		}
		return insertRecords(ctx, tx, records)
	})
}

// Scan reads the log in insertion order.
func (s *Store) Scan(ctx context.Context, fn func(domain.Record) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("scan callback is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	event_id,
	kind,
	entity_id,
	version,
	content_reference,
	event_timestamp
FROM replica_log
ORDER BY position ASC
`)
	if err != nil {
		return fmt.Errorf("scan log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			record    domain.Record
			eventID   sql.NullString
			kind      sql.NullString
			timestamp sql.NullString
		)
		if err := rows.Scan(
			&eventID,
			&kind,
			&record.EntityID,
			&record.Version,
			&record.ContentReference,
			&timestamp,
		); err != nil {
			return fmt.Errorf("scan log record: %w", err)
		}
		record.EventID = eventID.String
		record.Kind = domain.EventKind(kind.String)
		if timestamp.Valid && timestamp.String != "" {
			parsed, err := time.Parse(time.RFC3339Nano, timestamp.String)
			if err != nil {
				return fmt.Errorf("parse log timestamp: %w", err)
			}
			record.Timestamp = parsed
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate log: %w", err)
	}
	return nil
}

// Reset deletes the state row and every log record.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, "reset", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM replica_log`); err != nil {
			return fmt.Errorf("delete log: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM replica_state`); err != nil {
			return fmt.Errorf("delete state: %w", err)
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO replica_log (
	event_id,
	kind,
	entity_id,
	version,
	content_reference,
	event_timestamp
) VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, record := range records {
		var timestamp sql.NullString
		if !record.Timestamp.IsZero() {
			timestamp = sql.NullString{String: record.Timestamp.Format(time.RFC3339Nano), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			nullString(record.EventID),
			nullString(string(record.Kind)),
			record.EntityID,
			record.Version,
			record.ContentReference,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: value.UTC().UnixMilli(), Valid: true}
}

var _ storage.Store = (*Store)(nil)
