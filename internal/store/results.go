package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResultKind namespaces rows in analysis_results.
type ResultKind string

const (
	KindTramoSeats     ResultKind = "tramoseats"
	KindTramoSeatsSpec ResultKind = "tramoseats_spec"
	KindX13            ResultKind = "x13"
	KindX13Spec        ResultKind = "x13_spec"
	KindImport         ResultKind = "import"
)

// ModelRecord is a fitted model stored with the series it was fitted to.
// Both payloads are JSON documents owned by the caller.
type ModelRecord struct {
	ID        string
	Model     json.RawMessage
	Series    json.RawMessage
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// SaveModel stores a fitted model. An empty ID is replaced with a new one.
func (s *Store) SaveModel(rec *ModelRecord, ttl time.Duration) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now()
	exp := s.expiry(ttl)
	_, err := s.Exec(`
		INSERT OR REPLACE INTO arima_models (id, model_json, series_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Model), string(rec.Series), toUnix(now), exp,
	)
	if err != nil {
		return fmt.Errorf("save model %s: %w", rec.ID, err)
	}
	rec.CreatedAt = now
	rec.ExpiresAt = nil
	if exp.Valid {
		t := fromUnix(exp.Int64)
		rec.ExpiresAt = &t
	}
	return nil
}

// GetModel loads a model. Expired models are reported as ErrNotFound.
func (s *Store) GetModel(id string) (*ModelRecord, error) {
	var (
		rec          ModelRecord
		model, ser   string
		created      int64
		expiresAtCol sql.NullInt64
	)
	err := s.QueryRow(
		"SELECT id, model_json, series_json, created_at, expires_at FROM arima_models WHERE id = ?", id,
	).Scan(&rec.ID, &model, &ser, &created, &expiresAtCol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", id, err)
	}
	if s.expired(expiresAtCol) {
		return nil, ErrNotFound
	}
	rec.Model = json.RawMessage(model)
	rec.Series = json.RawMessage(ser)
	rec.CreatedAt = fromUnix(created)
	if expiresAtCol.Valid {
		t := fromUnix(expiresAtCol.Int64)
		rec.ExpiresAt = &t
	}
	return &rec, nil
}

// SaveResult marshals payload and stores it under (kind, id). An empty id
// is replaced with a new one, which is returned.
func (s *Store) SaveResult(kind ResultKind, id string, payload any, ttl time.Duration) (string, error) {
	return s.saveResult(s.DB, kind, id, payload, ttl)
}

func (s *Store) saveResult(ex execer, kind ResultKind, id string, payload any, ttl time.Duration) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", kind, err)
	}
	_, err = ex.Exec(`
		INSERT OR REPLACE INTO analysis_results (id, kind, payload_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, string(kind), string(b), toUnix(s.now()), s.expiry(ttl),
	)
	if err != nil {
		return "", fmt.Errorf("save %s result %s: %w", kind, id, err)
	}
	return id, nil
}

// GetResult decodes the stored payload into dst. Expired results are
// reported as ErrNotFound.
func (s *Store) GetResult(kind ResultKind, id string, dst any) error {
	var (
		payload string
		exp     sql.NullInt64
	)
	err := s.QueryRow(
		"SELECT payload_json, expires_at FROM analysis_results WHERE kind = ? AND id = ?", string(kind), id,
	).Scan(&payload, &exp)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && s.expired(exp)) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s result %s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return fmt.Errorf("decode %s result %s: %w", kind, id, err)
	}
	return nil
}
