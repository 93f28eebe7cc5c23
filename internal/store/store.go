// Package store persists time series, fitted models, analysis results,
// jobs and uploaded file records in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/demetra.report/internal/timeutil"
)

// ErrNotFound is returned when a record does not exist or has expired.
var ErrNotFound = errors.New("record not found")

// Store wraps the SQLite handle. All timestamps are read from clock so that
// expiry can be driven from tests.
type Store struct {
	*sql.DB
	clock timeutil.Clock
}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// OpenStore opens the database without touching the schema. The migrate
// command uses it so that it can inspect and repair the version table.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{DB: db, clock: timeutil.RealClock{}}, nil
}

// NewStore opens the database and applies any pending migrations.
func NewStore(path string) (*Store, error) {
	s, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(MigrationsFS()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock used for timestamps and expiry.
func (s *Store) SetClock(c timeutil.Clock) {
	if c == nil {
		c = timeutil.RealClock{}
	}
	s.clock = c
}

// Clock returns the clock used by the store.
func (s *Store) Clock() timeutil.Clock { return s.clock }

func (s *Store) now() time.Time { return s.clock.Now().UTC() }

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

// expiry converts a TTL into a nullable expires_at column value. A
// non-positive TTL never expires.
func (s *Store) expiry(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(s.now().Add(ttl)), Valid: true}
}

func (s *Store) expired(exp sql.NullInt64) bool {
	return exp.Valid && exp.Int64 <= toUnix(s.now())
}

// PurgeExpired deletes expired models and analysis results and returns the
// number of rows removed.
func (s *Store) PurgeExpired() (int64, error) {
	now := toUnix(s.now())
	var total int64
	for _, table := range []string{"arima_models", "analysis_results"} {
		res, err := s.Exec("DELETE FROM "+table+" WHERE expires_at IS NOT NULL AND expires_at <= ?", now)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
