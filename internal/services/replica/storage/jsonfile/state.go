package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/storage"
)

// LoadState reads the state record. It reports false when none exists.
func (s *Store) LoadState(ctx context.Context) (domain.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.State{}, false, err
	}
	if s == nil {
		return domain.State{}, false, fmt.Errorf("storage is not configured")
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.State{}, false, nil
		}
		return domain.State{}, false, fmt.Errorf("read state: %w", err)
	}
	state, err := storage.UnmarshalState(data)
	if err != nil {
		return domain.State{}, false, err
	}
	return state, true, nil
}

// SaveState atomically replaces the state record.
func (s *Store) SaveState(ctx context.Context, state domain.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("storage is not configured")
	}
	data, err := storage.MarshalState(state)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.statePath, func(f *os.File) error {
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("write state: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
