// Package store manages all SQLite persistence for salesd.
//
// Each simulated day is one row in the series table: the encoded
// TimeSeries plus a few metadata columns (current-day flag, event count)
// that let the server answer "how much history is there" without decoding
// blobs. Users live in a second table of the same database.
//
// The database runs in WAL mode so the eviction cache can write back a day
// while request handlers keep reading others.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/salesd/pkg/clock"
	"github.com/daviddao/salesd/pkg/model"

	_ "modernc.org/sqlite"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations should use this to handle transient SQLite
// errors (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent access.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS series (
		day        INTEGER PRIMARY KEY,
		current    INTEGER NOT NULL DEFAULT 0,
		events     INTEGER NOT NULL DEFAULT 0,
		data       BLOB NOT NULL,
		saved_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_series_current ON series(current);

	CREATE TABLE IF NOT EXISTS users (
		name       TEXT PRIMARY KEY,
		password   TEXT NOT NULL,
		registered TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Series
// ---------------------------------------------------------------------------

// SaveSeries writes series as the record for day (upsert).
func (s *Store) SaveSeries(day clock.Day, series *model.TimeSeries) error {
	data, err := series.MarshalBinary()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO series (day, current, events, data, saved_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(day) DO UPDATE SET
			   current = excluded.current,
			   events = excluded.events,
			   data = excluded.data,
			   saved_at = excluded.saved_at`,
			int64(day), boolToInt(series.IsCurrentDay()), series.Len(), data, now,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save series %s: %w", day, err)
	}
	return nil
}

// LoadSeries returns the stored series for day, or ErrNotFound.
func (s *Store) LoadSeries(day clock.Day) (*model.TimeSeries, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM series WHERE day = ?`, int64(day)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load series %s: %w", day, err)
	}
	series, err := model.UnmarshalTimeSeries(data)
	if err != nil {
		return nil, fmt.Errorf("load series %s: %w", day, err)
	}
	if series.Day() != day {
		return nil, fmt.Errorf("load series %s: row holds %s", day, series.Day())
	}
	return series, nil
}

// CountHistoricalDays returns the number of stored days that are not the
// current day.
func (s *Store) CountHistoricalDays() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM series WHERE current = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count historical days: %w", err)
	}
	return n, nil
}

// LastSavedDay returns the most recent stored day.
func (s *Store) LastSavedDay() (clock.Day, bool, error) {
	var day sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(day) FROM series`).Scan(&day); err != nil {
		return 0, false, fmt.Errorf("last saved day: %w", err)
	}
	if !day.Valid {
		return 0, false, nil
	}
	return clock.Day(day.Int64), true, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// Register creates a user. Returns false (and no error) if the name is
// already taken. Idempotent via ON CONFLICT DO NOTHING.
func (s *Store) Register(name, password string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var created bool
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`INSERT INTO users (name, password, registered) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO NOTHING`,
			name, password, now,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("register %q: %w", name, err)
	}
	return created, nil
}

// Authenticate reports whether name exists with exactly this password.
func (s *Store) Authenticate(name, password string) (bool, error) {
	var stored string
	err := s.db.QueryRow(`SELECT password FROM users WHERE name = ?`, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("authenticate %q: %w", name, err)
	}
	return stored == password, nil
}

// PersistAll checkpoints the write-ahead log so every committed user and
// series is in the main database file.
func (s *Store) PersistAll() error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
