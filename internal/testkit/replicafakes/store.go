package replicafakes

import (
	"context"
	"slices"
	"sync"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/storage"
)

// Store is an in-memory replica state and log store with failure injection.
type Store struct {
	mu sync.Mutex

	State    domain.State
	HasState bool
	Records  []domain.Record

	// Errors returned by the next matching call when set.
	SaveErr    error
	AppendErr  error
	RewriteErr error

	Saves    int
	Appends  int
	Rewrites int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) LoadState(ctx context.Context) (domain.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.State{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State, s.HasState, nil
}

func (s *Store) SaveState(ctx context.Context, state domain.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saves++
	s.State = state
	s.HasState = true
	return nil
}

func (s *Store) Append(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.Appends++
	s.Records = append(s.Records, records...)
	return nil
}

func (s *Store) Rewrite(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RewriteErr != nil {
		return s.RewriteErr
	}
	s.Rewrites++
	s.Records = slices.Clone(records)
	return nil
}

func (s *Store) Scan(ctx context.Context, fn func(domain.Record) error) error {
	s.mu.Lock()
	records := slices.Clone(s.Records)
	s.mu.Unlock()
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = domain.State{}
	s.HasState = false
	s.Records = nil
	return nil
}

func (s *Store) Close() error {
	return nil
}

// EventIDs returns the event ids in the log, in order.
func (s *Store) EventIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, record := range s.Records {
		if record.IsEvent() {
			ids = append(ids, record.EventID)
		}
	}
	return ids
}

var _ storage.Store = (*Store)(nil)
