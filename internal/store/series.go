package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// SeriesRecord is a stored time series.
type SeriesRecord struct {
	ID        string
	Name      string
	Series    *tsdata.Series
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SeriesFilter selects a page of stored series.
type SeriesFilter struct {
	Page         int
	PageSize     int
	Frequency    tsdata.Frequency
	NameContains string
}

func encodeSeries(s *tsdata.Series) (values, metadata string, err error) {
	v, err := json.Marshal(tsdata.NullableValues(s.Values))
	if err != nil {
		return "", "", fmt.Errorf("encode values: %w", err)
	}
	md := s.Metadata
	if md == nil {
		md = map[string]any{}
	}
	m, err := json.Marshal(md)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(v), string(m), nil
}

// CreateSeries stores a new series under a fresh ID.
func (s *Store) CreateSeries(name string, ts *tsdata.Series) (*SeriesRecord, error) {
	return s.insertSeries(s.DB, name, ts)
}

func (s *Store) insertSeries(ex execer, name string, ts *tsdata.Series) (*SeriesRecord, error) {
	values, metadata, err := encodeSeries(ts)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := &SeriesRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Series:    ts.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = ex.Exec(`
		INSERT INTO timeseries (id, name, frequency, start_year, start_period, values_json, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, name, string(ts.Frequency), ts.Start.Year, ts.Start.Period,
		values, metadata, toUnix(now), toUnix(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert series: %w", err)
	}
	return rec, nil
}

const seriesColumns = "id, name, frequency, start_year, start_period, values_json, metadata_json, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (*SeriesRecord, error) {
	var (
		rec                  SeriesRecord
		freq                 string
		year, period         int
		valuesJSON, metaJSON string
		created, updated     int64
	)
	if err := row.Scan(&rec.ID, &rec.Name, &freq, &year, &period, &valuesJSON, &metaJSON, &created, &updated); err != nil {
		return nil, err
	}
	var values []*float64
	if err := json.Unmarshal([]byte(valuesJSON), &values); err != nil {
		return nil, fmt.Errorf("decode values of %s: %w", rec.ID, err)
	}
	meta := map[string]any{}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", rec.ID, err)
	}
	f := tsdata.Frequency(freq)
	rec.Series = &tsdata.Series{
		Values:    tsdata.FromNullable(values),
		Start:     tsdata.Period{Year: year, Period: period, Frequency: f},
		Frequency: f,
		Metadata:  meta,
	}
	rec.CreatedAt = fromUnix(created)
	rec.UpdatedAt = fromUnix(updated)
	return &rec, nil
}

// GetSeries loads a series by ID.
func (s *Store) GetSeries(id string) (*SeriesRecord, error) {
	rec, err := scanSeries(s.QueryRow("SELECT "+seriesColumns+" FROM timeseries WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get series %s: %w", id, err)
	}
	return rec, nil
}

// UpdateSeries replaces the data of an existing series.
func (s *Store) UpdateSeries(id string, ts *tsdata.Series) (*SeriesRecord, error) {
	values, metadata, err := encodeSeries(ts)
	if err != nil {
		return nil, err
	}
	res, err := s.Exec(`
		UPDATE timeseries
		SET frequency = ?, start_year = ?, start_period = ?, values_json = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?`,
		string(ts.Frequency), ts.Start.Year, ts.Start.Period, values, metadata, toUnix(s.now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update series %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetSeries(id)
}

// DeleteSeries removes a series.
func (s *Store) DeleteSeries(id string) error {
	res, err := s.Exec("DELETE FROM timeseries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete series %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSeries returns one page of series, newest first, together with the
// total number of matching series.
func (s *Store) ListSeries(f SeriesFilter) ([]SeriesRecord, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 10
	}

	var (
		where []string
		args  []any
	)
	if f.Frequency != "" {
		where = append(where, "frequency = ?")
		args = append(args, string(f.Frequency))
	}
	if f.NameContains != "" {
		where = append(where, "name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.NameContains)+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.QueryRow("SELECT COUNT(*) FROM timeseries"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count series: %w", err)
	}

	query := "SELECT " + seriesColumns + " FROM timeseries" + clause +
		" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := s.Query(query, append(args, f.PageSize, (f.Page-1)*f.PageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	out := []SeriesRecord{}
	for rows.Next() {
		rec, err := scanSeries(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
