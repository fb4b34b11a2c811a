package jsonfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/louisbranch/replica/internal/services/replica/domain"
)

const maxLogLineBytes = 4 << 20

// Append writes records as JSON lines at the end of the log. A failed write
// truncates the file back to its previous length so no torn line survives.
func (s *Store) Append(ctx context.Context, records []domain.Record) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(records) == 0 {
		return nil
	}
	payload, err := encodeRecords(records)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close log: %w", closeErr)
		}
	}()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek log end: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Truncate(size)
		return fmt.Errorf("append log: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(size)
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}

// Rewrite atomically replaces the whole log with records.
func (s *Store) Rewrite(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("storage is not configured")
	}
	payload, err := encodeRecords(records)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.logPath, func(f *os.File) error {
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("write log: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("rewrite log: %w", err)
	}
	return nil
}

// Scan reads the log in order. A missing log scans as empty.
func (s *Store) Scan(ctx context.Context, fn func(domain.Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("storage is not configured")
	}
	if fn == nil {
		return fmt.Errorf("scan callback is required")
	}
	f, err := os.Open(s.logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var record domain.Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("decode log line %d: %w", line, err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	return nil
}

func encodeRecords(records []domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, record := range records {
		if err := enc.Encode(record); err != nil {
			return nil, fmt.Errorf("encode log record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
