// Package store persists snapshot records as an append-only JSONL log, one
// file per address. Appends for the same address serialize on a per-address
// file lock; different addresses never contend.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	clierr "github.com/ncastellan/flare-portfolio/internal/errors"
	"github.com/ncastellan/flare-portfolio/internal/model"
)

// ErrNotFound is returned when no record satisfies a history query.
var ErrNotFound = errors.New("no snapshot record found")

type Store struct {
	dir string
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodeStorage, "create snapshot directory", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) recordPath(address string) string {
	return filepath.Join(s.dir, strings.ToLower(address)+".jsonl")
}

func (s *Store) lockPath(address string) string {
	return filepath.Join(s.dir, strings.ToLower(address)+".lock")
}

// Append adds exactly one record to the address log. The record is written
// with a single write call under an exclusive per-address lock, so a reader
// never observes a torn record. Timestamps must be strictly increasing per
// address; the log is never rewritten.
func (s *Store) Append(record model.SnapshotRecord) error {
	if record.Address == "" {
		return clierr.New(clierr.CodeUsage, "snapshot record has no address")
	}

	lock := flock.New(s.lockPath(record.Address))
	if err := lock.Lock(); err != nil {
		return clierr.Wrap(clierr.CodeStorage, "lock snapshot log", err)
	}
	defer func() { _ = lock.Unlock() }()

	// The exclusive lock is already held; read the tail without re-locking.
	existing, err := s.readRecords(record.Address)
	if err != nil {
		return err
	}
	if len(existing) > 0 && !record.Timestamp.After(existing[len(existing)-1].Timestamp) {
		last := existing[len(existing)-1]
		return clierr.New(clierr.CodeStorage, fmt.Sprintf(
			"snapshot timestamp %s is not after last recorded %s",
			record.Timestamp.UTC().Format(time.RFC3339), last.Timestamp.UTC().Format(time.RFC3339)))
	}

	line, err := json.Marshal(record)
	if err != nil {
		return clierr.Wrap(clierr.CodeStorage, "encode snapshot record", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.recordPath(record.Address), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return clierr.Wrap(clierr.CodeStorage, "open snapshot log", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return clierr.Wrap(clierr.CodeStorage, "append snapshot record", err)
	}
	return nil
}

// ListSince returns all records for the address at or after since, oldest
// first. A missing log file is an empty history, not an error.
func (s *Store) ListSince(address string, since time.Time) ([]model.SnapshotRecord, error) {
	records, err := s.readAll(address)
	if err != nil {
		return nil, err
	}
	out := make([]model.SnapshotRecord, 0, len(records))
	for _, record := range records {
		if record.Timestamp.Before(since) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// NearestBefore returns the most recent record with timestamp <= targetTime,
// or ErrNotFound when the history starts later. Callers must not fabricate a
// zero baseline from that condition.
func (s *Store) NearestBefore(address string, targetTime time.Time) (model.SnapshotRecord, error) {
	records, err := s.readAll(address)
	if err != nil {
		return model.SnapshotRecord{}, err
	}
	// Records are append-ordered by increasing timestamp, so the last match
	// is the nearest one.
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].Timestamp.After(targetTime) {
			return records[i], nil
		}
	}
	return model.SnapshotRecord{}, ErrNotFound
}

func (s *Store) readAll(address string) ([]model.SnapshotRecord, error) {
	lock := flock.New(s.lockPath(address))
	if err := lock.RLock(); err != nil {
		return nil, clierr.Wrap(clierr.CodeStorage, "lock snapshot log for read", err)
	}
	defer func() { _ = lock.Unlock() }()

	return s.readRecords(address)
}

func (s *Store) readRecords(address string) ([]model.SnapshotRecord, error) {
	f, err := os.Open(s.recordPath(address))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, clierr.Wrap(clierr.CodeStorage, "open snapshot log", err)
	}
	defer func() { _ = f.Close() }()

	var records []model.SnapshotRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record model.SnapshotRecord
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, clierr.Wrap(clierr.CodeStorage, "decode snapshot record", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, clierr.Wrap(clierr.CodeStorage, "read snapshot log", err)
	}
	return records, nil
}
