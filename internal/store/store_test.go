package store

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/timeutil"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

func init() {
	monitoring.SetLogger(nil)
}

func monthly(t *testing.T, values ...float64) *tsdata.Series {
	t.Helper()
	s, err := tsdata.NewSeries(values, tsdata.Monthly, 2020, 1)
	require.NoError(t, err)
	return s
}

func TestPragmasApplied(t *testing.T) {
	s := NewTestDB(t)

	var journalMode string
	require.NoError(t, s.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	require.NoError(t, s.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}
}

func TestMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	s, err := OpenStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	fsys := MigrationsFS()
	latest, err := LatestMigrationVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	st, err := s.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(0), st.CurrentVersion)
	assert.True(t, st.Pending())

	require.NoError(t, s.MigrateUp(fsys))
	require.NoError(t, s.MigrateUp(fsys), "second up is a no-op")

	version, dirty, err := s.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateDown(fsys))
	version, _, err = s.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, s.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='jobs'").Scan(&n))
	assert.Equal(t, 0, n, "jobs table should be dropped")

	require.NoError(t, s.MigrateTo(fsys, 2))
	require.NoError(t, s.MigrateForce(fsys, 2))
	st, err = s.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.False(t, st.Pending())
	assert.True(t, st.TableExists)
}

func TestRunMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand(&out, dbPath, []string{"up"}))
	assert.Contains(t, out.String(), "Current version: 2 (dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand(&out, dbPath, []string{"status"}))
	assert.Contains(t, out.String(), "Database is up to date")

	out.Reset()
	require.NoError(t, RunMigrateCommand(&out, dbPath, []string{"version", "1"}))
	assert.Contains(t, out.String(), "Migrated to version 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand(&out, dbPath, []string{"status"}))
	assert.Contains(t, out.String(), "1 version(s) behind")

	assert.Error(t, RunMigrateCommand(&out, dbPath, nil))
	assert.Error(t, RunMigrateCommand(&out, dbPath, []string{"sideways"}))
	assert.Error(t, RunMigrateCommand(&out, dbPath, []string{"force"}))
	assert.Error(t, RunMigrateCommand(&out, dbPath, []string{"version", "abc"}))
}

func TestSeriesCRUD(t *testing.T) {
	s := NewTestDB(t)

	ts := monthly(t, 1, math.NaN(), 3)
	ts.Metadata["source"] = "test"
	rec, err := s.CreateSeries("sales", ts)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, err := s.GetSeries(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "sales", got.Name)
	assert.Equal(t, tsdata.Monthly, got.Series.Frequency)
	assert.Equal(t, tsdata.Period{Year: 2020, Period: 1, Frequency: tsdata.Monthly}, got.Series.Start)
	require.Len(t, got.Series.Values, 3)
	assert.True(t, math.IsNaN(got.Series.Values[1]), "NaN survives the round trip")
	assert.Equal(t, "test", got.Series.Metadata["source"])

	updated := monthly(t, 5, 6)
	updated.Start = tsdata.Period{Year: 2021, Period: 3, Frequency: tsdata.Monthly}
	after, err := s.UpdateSeries(rec.ID, updated)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, after.Series.Values)
	assert.Equal(t, 2021, after.Series.Start.Year)
	assert.Equal(t, "sales", after.Name)

	require.NoError(t, s.DeleteSeries(rec.ID))
	_, err = s.GetSeries(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSeries(rec.ID), ErrNotFound)
	_, err = s.UpdateSeries(rec.ID, updated)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSeries(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewTestDBWithClock(t, clock)

	names := []string{"gdp_q", "sales_m", "sales_100%", "retail_m"}
	for i, name := range names {
		ts := monthly(t, 1, 2, 3)
		if i == 0 {
			ts, _ = tsdata.NewSeries([]float64{1, 2}, tsdata.Quarterly, 2020, 1)
		}
		_, err := s.CreateSeries(name, ts)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	all, total, err := s.ListSeries(SeriesFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, all, 4)
	assert.Equal(t, "retail_m", all[0].Name, "newest first")

	page2, total, err := s.ListSeries(SeriesFilter{Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page2, 1)
	assert.Equal(t, "gdp_q", page2[0].Name)

	byFreq, total, err := s.ListSeries(SeriesFilter{Frequency: tsdata.Quarterly})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "gdp_q", byFreq[0].Name)

	byName, total, err := s.ListSeries(SeriesFilter{NameContains: "sales"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byName, 2)

	literal, total, err := s.ListSeries(SeriesFilter{NameContains: "100%"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "sales_100%", literal[0].Name)

	empty, total, err := s.ListSeries(SeriesFilter{Page: 9, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestModelTTL(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewTestDBWithClock(t, clock)

	rec := &ModelRecord{Model: json.RawMessage(`{"sigma2":1}`), Series: json.RawMessage(`{"values":[1]}`)}
	require.NoError(t, s.SaveModel(rec, time.Hour))
	require.NotEmpty(t, rec.ID)
	require.NotNil(t, rec.ExpiresAt)

	got, err := s.GetModel(rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sigma2":1}`, string(got.Model))
	assert.JSONEq(t, `{"values":[1]}`, string(got.Series))

	clock.Advance(2 * time.Hour)
	_, err = s.GetModel(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	forever := &ModelRecord{ID: "keep", Model: json.RawMessage(`{}`), Series: json.RawMessage(`{}`)}
	require.NoError(t, s.SaveModel(forever, 0))
	assert.Nil(t, forever.ExpiresAt)
	clock.Advance(1000 * time.Hour)
	_, err = s.GetModel("keep")
	assert.NoError(t, err)

	n, err := s.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestResults(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewTestDBWithClock(t, clock)

	type payload struct {
		Score float64 `json:"score"`
	}
	id, err := s.SaveResult(KindX13, "", payload{Score: 0.5}, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var got payload
	require.NoError(t, s.GetResult(KindX13, id, &got))
	assert.Equal(t, 0.5, got.Score)

	assert.ErrorIs(t, s.GetResult(KindTramoSeats, id, &got), ErrNotFound, "kinds are separate namespaces")

	_, err = s.SaveResult(KindTramoSeats, id, payload{Score: 2}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.GetResult(KindTramoSeats, id, &got))
	assert.Equal(t, 2.0, got.Score)

	clock.Advance(2 * time.Hour)
	assert.ErrorIs(t, s.GetResult(KindTramoSeats, id, &got), ErrNotFound)
	require.NoError(t, s.GetResult(KindX13, id, &got))

	_, err = s.SaveResult(KindX13, "bad", math.NaN(), 0)
	assert.Error(t, err)
}

func TestInTx(t *testing.T) {
	s := NewTestDB(t)

	var id string
	err := s.InTx(func(tx *Tx) error {
		rec, err := tx.CreateSeries("sales", monthly(t, 1, 2, 3))
		if err != nil {
			return err
		}
		id = rec.ID
		_, err = tx.SaveResult(KindImport, "imp-1", map[string]string{"series": rec.ID}, 0)
		return err
	})
	require.NoError(t, err)
	_, err = s.GetSeries(id)
	require.NoError(t, err)
	var saved map[string]string
	require.NoError(t, s.GetResult(KindImport, "imp-1", &saved))
	assert.Equal(t, id, saved["series"])

	err = s.InTx(func(tx *Tx) error {
		rec, err := tx.CreateSeries("costs", monthly(t, 4, 5))
		if err != nil {
			return err
		}
		id = rec.ID
		// An unencodable payload fails after the series insert.
		_, err = tx.SaveResult(KindImport, "imp-2", math.NaN(), 0)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, s.GetResult(KindImport, "imp-2", &saved), ErrNotFound)
	_, err = s.GetSeries(id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, total, err := s.ListSeries(SeriesFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestJobs(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewTestDBWithClock(t, clock)

	job, err := s.CreateJob("tramoseats")
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	assert.False(t, job.Status.Done())

	clock.Advance(time.Second)
	require.NoError(t, s.UpdateJob(job.ID, JobCompleted, "result-1", ""))

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	assert.True(t, got.Status.Done())
	assert.Equal(t, "result-1", got.ResultID)
	assert.Empty(t, got.Error)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	require.NoError(t, s.UpdateJob(job.ID, JobFailed, "", "boom"))
	got, err = s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Error)
	assert.Empty(t, got.ResultID)

	assert.ErrorIs(t, s.UpdateJob("missing", JobRunning, "", ""), ErrNotFound)
	_, err = s.GetJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileRecords(t *testing.T) {
	s := NewTestDB(t)

	rec := &FileRecord{Name: "data.csv", Path: "uploads/x.csv", Size: 42, Format: "csv"}
	require.NoError(t, s.SaveFileRecord(rec))
	require.NotEmpty(t, rec.ID)

	got, err := s.GetFileRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Path, got.Path)
	assert.Equal(t, int64(42), got.Size)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetFileRecord("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackupRoute(t *testing.T) {
	s := NewTestDB(t)
	_, err := s.CreateSeries("x", monthly(t, 1, 2, 3))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handleBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".db.gz")

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("SQLite format 3")))
}
