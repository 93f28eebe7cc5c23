package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Tx is a set of writes that is committed together or not at all.
type Tx struct {
	s  *Store
	tx *sql.Tx
}

// CreateSeries is Store.CreateSeries inside the transaction.
func (t *Tx) CreateSeries(name string, ts *tsdata.Series) (*SeriesRecord, error) {
	return t.s.insertSeries(t.tx, name, ts)
}

// SaveResult is Store.SaveResult inside the transaction.
func (t *Tx) SaveResult(kind ResultKind, id string, payload any, ttl time.Duration) (string, error) {
	return t.s.saveResult(t.tx, kind, id, payload, ttl)
}

// InTx runs fn in a transaction. It commits when fn returns nil and
// otherwise rolls back and returns fn's error.
func (s *Store) InTx(fn func(*Tx) error) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{s: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
