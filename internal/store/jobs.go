package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an asynchronous job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Done reports whether the job has reached a terminal state.
func (s JobStatus) Done() bool { return s == JobCompleted || s == JobFailed }

// Job is a persisted asynchronous job.
type Job struct {
	ID        string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Status    JobStatus `json:"status"`
	ResultID  string    `json:"result_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateJob records a new pending job.
func (s *Store) CreateJob(kind string) (*Job, error) {
	now := s.now()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.Exec(
		"INSERT INTO jobs (id, kind, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		job.ID, kind, string(JobPending), toUnix(now), toUnix(now),
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// UpdateJob moves a job to status, recording the result ID or the error
// message.
func (s *Store) UpdateJob(id string, status JobStatus, resultID, errMsg string) error {
	res, err := s.Exec(
		"UPDATE jobs SET status = ?, result_id = ?, error = ?, updated_at = ? WHERE id = ?",
		string(status), nullString(resultID), nullString(errMsg), toUnix(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	var (
		job              Job
		status           string
		resultID, errMsg sql.NullString
		created, updated int64
	)
	err := s.QueryRow(
		"SELECT id, kind, status, result_id, error, created_at, updated_at FROM jobs WHERE id = ?", id,
	).Scan(&job.ID, &job.Kind, &status, &resultID, &errMsg, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	job.Status = JobStatus(status)
	job.ResultID = resultID.String
	job.Error = errMsg.String
	job.CreatedAt = fromUnix(created)
	job.UpdatedAt = fromUnix(updated)
	return &job, nil
}
