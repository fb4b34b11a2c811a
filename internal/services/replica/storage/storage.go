// Package storage defines the durable replica state and log contracts.
package storage

import (
	"context"

	"github.com/louisbranch/replica/internal/services/replica/domain"
)

// StateStore persists the replica progress record. SaveState must be
// all-or-nothing: a reader observes either the previous or the new record.
type StateStore interface {
	LoadState(ctx context.Context) (domain.State, bool, error)
	SaveState(ctx context.Context, state domain.State) error
}

// LogStore persists the ordered replica log.
type LogStore interface {
	// Append adds records to the end of the log in the given order.
	Append(ctx context.Context, records []domain.Record) error
	// Rewrite atomically replaces the whole log with records.
	Rewrite(ctx context.Context, records []domain.Record) error
	// Scan calls fn for every record in log order until fn returns an error.
	Scan(ctx context.Context, fn func(domain.Record) error) error
}

// Resetter discards all replica state and log content.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Store bundles a backend's state and log persistence.
type Store interface {
	StateStore
	LogStore
	Resetter
	Close() error
}

// Stats scans the log and summarizes it.
func Stats(ctx context.Context, log LogStore) (domain.LogStats, error) {
	var stats domain.LogStats
	err := log.Scan(ctx, func(record domain.Record) error {
		stats.Add(record)
		return nil
	})
	return stats, err
}
