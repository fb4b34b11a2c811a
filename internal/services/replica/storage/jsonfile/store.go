// Package jsonfile stores replica state as a JSON document and the replica log
// as newline-delimited JSON.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/replica/internal/services/replica/storage"
)

// Store provides file-backed replica state and log persistence.
type Store struct {
	statePath string
	logPath   string
}

// Open prepares a file store rooted at the given paths, creating parent
// directories as needed. Files are created lazily on first write.
func Open(statePath, logPath string) (*Store, error) {
	statePath = strings.TrimSpace(statePath)
	logPath = strings.TrimSpace(logPath)
	if statePath == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if logPath == "" {
		return nil, fmt.Errorf("log path is required")
	}
	statePath = filepath.Clean(statePath)
	logPath = filepath.Clean(logPath)
	if statePath == logPath {
		return nil, fmt.Errorf("state and log paths must differ")
	}
	for _, path := range []string{statePath, logPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
	}
	return &Store{statePath: statePath, logPath: logPath}, nil
}

// Close is a no-op; files are opened per operation.
func (s *Store) Close() error {
	return nil
}

// Reset removes the state record and the log.
func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("storage is not configured")
	}
	for _, path := range []string{s.statePath, s.logPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

// writeFileAtomic replaces path with data via a synced temp file and rename.
func writeFileAtomic(path string, write func(*os.File) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	// Some platforms reject fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}

var _ storage.Store = (*Store)(nil)
