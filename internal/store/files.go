package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileRecord indexes an object uploaded to or generated in the object store.
type FileRecord struct {
	ID        string    `json:"file_id"`
	Name      string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"uploaded_at"`
}

// SaveFileRecord stores rec, assigning an ID and timestamp when unset.
func (s *Store) SaveFileRecord(rec *FileRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.Exec(
		"INSERT OR REPLACE INTO files (id, name, path, size, format, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, rec.Name, rec.Path, rec.Size, rec.Format, toUnix(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save file %s: %w", rec.ID, err)
	}
	return nil
}

// GetFileRecord loads a file record by ID.
func (s *Store) GetFileRecord(id string) (*FileRecord, error) {
	var (
		rec     FileRecord
		created int64
	)
	err := s.QueryRow(
		"SELECT id, name, path, size, format, created_at FROM files WHERE id = ?", id,
	).Scan(&rec.ID, &rec.Name, &rec.Path, &rec.Size, &rec.Format, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	rec.CreatedAt = fromUnix(created)
	return &rec, nil
}
