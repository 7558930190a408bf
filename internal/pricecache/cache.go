// Package pricecache persists recent oracle prices in SQLite so repeated CLI
// invocations within the TTL window do not re-query the oracle per asset.
package pricecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite price cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS prices (feed TEXT PRIMARY KEY, price TEXT NOT NULL, created_at INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init price cache schema: %w", err)
		}
	}

	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached price for a feed if it is younger than maxAge.
func (s *Store) Get(feed string, maxAge time.Duration) (decimal.Decimal, bool, error) {
	var priceText string
	var createdUnix int64
	err := s.db.QueryRow("SELECT price, created_at FROM prices WHERE feed = ?", feed).Scan(&priceText, &createdUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("price cache read: %w", err)
	}

	age := time.Since(time.Unix(createdUnix, 0).UTC())
	if age < 0 {
		age = 0
	}
	if age > maxAge {
		return decimal.Zero, false, nil
	}

	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("price cache entry corrupt for %s: %w", feed, err)
	}
	return price, true, nil
}

func (s *Store) Set(feed string, price decimal.Decimal) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock price cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock price cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	createdUnix := time.Now().UTC().Unix()
	_, err = s.db.Exec(`
		INSERT INTO prices (feed, price, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(feed) DO UPDATE SET
			price=excluded.price,
			created_at=excluded.created_at
	`, feed, price.String(), createdUnix)
	if err != nil {
		return fmt.Errorf("price cache write: %w", err)
	}
	return nil
}
