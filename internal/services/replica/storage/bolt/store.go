// Package bolt stores replica state and log in a single BoltDB file.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/storage"
	"go.etcd.io/bbolt"
)

const (
	stateBucket = "state"
	logBucket   = "log"
	stateKey    = "current"
)

// Store provides a BoltDB-backed replica store.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path. Only one process can
// hold the file; Open gives up after a second.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// LoadState reads the state record. It reports false when none exists.
func (s *Store) LoadState(ctx context.Context) (domain.State, bool, error) {
	if err := s.ready(ctx); err != nil {
		return domain.State{}, false, err
	}

	var payload []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if bucket == nil {
			return fmt.Errorf("state bucket is missing")
		}
		// Values are only valid for the life of the transaction.
		if value := bucket.Get([]byte(stateKey)); value != nil {
			payload = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return domain.State{}, false, err
	}
	if payload == nil {
		return domain.State{}, false, nil
	}
	state, err := storage.UnmarshalState(payload)
	if err != nil {
		return domain.State{}, false, err
	}
	return state, true, nil
}

// SaveState replaces the state record in one transaction.
func (s *Store) SaveState(ctx context.Context, state domain.State) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	payload, err := storage.MarshalState(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if bucket == nil {
			return fmt.Errorf("state bucket is missing")
		}
		if err := bucket.Put([]byte(stateKey), payload); err != nil {
			return fmt.Errorf("put state: %w", err)
		}
		return nil
	})
}

// Append adds records to the end of the log in one transaction.
func (s *Store) Append(ctx context.Context, records []domain.Record) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(logBucket))
		if bucket == nil {
			return fmt.Errorf("log bucket is missing")
		}
		return putRecords(bucket, records)
	})
}

// Rewrite replaces the log by recreating its bucket in one transaction.
func (s *Store) Rewrite(ctx context.Context, records []domain.Record) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := recreateBucket(tx, logBucket)
		if err != nil {
			return err
		}
		return putRecords(bucket, records)
	})
}

// Scan reads log records in append order.
func (s *Store) Scan(ctx context.Context, fn func(domain.Record) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("scan callback is required")
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(logBucket))
		if bucket == nil {
			return fmt.Errorf("log bucket is missing")
		}
		return bucket.ForEach(func(key, value []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record domain.Record
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decode log record %d: %w", binary.BigEndian.Uint64(key), err)
			}
			return fn(record)
		})
	})
}

// Reset removes the state record and the log.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{stateBucket, logBucket} {
			if _, err := recreateBucket(tx, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{stateBucket, logBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func recreateBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	if tx.Bucket([]byte(name)) != nil {
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return nil, fmt.Errorf("delete %s bucket: %w", name, err)
		}
	}
	bucket, err := tx.CreateBucket([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", name, err)
	}
	return bucket, nil
}

func putRecords(bucket *bbolt.Bucket, records []domain.Record) error {
	for i, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode log record %d: %w", i, err)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next log sequence: %w", err)
		}
		if err := bucket.Put(recordKey(seq), payload); err != nil {
			return fmt.Errorf("put log record %d: %w", i, err)
		}
	}
	return nil
}

// recordKey encodes seq big-endian so key order is append order.
func recordKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

var _ storage.Store = (*Store)(nil)
