package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/testutil"
	"github.com/banshee-data/demetra.report/internal/tramoseats"
)

func processTramoSeatsSync(t *testing.T, env *testEnv, n int) *tramoseats.Result {
	t.Helper()
	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/process",
		map[string]any{"timeseries": monthly(seasonalValues(n))})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := testutil.DecodeJSON[tramoseats.Result](t, rec)
	return &res
}

// waitForJob polls the job endpoint until the job finishes.
func waitForJob(t *testing.T, env *testEnv, id string) jobResponse {
	t.Helper()
	var job jobResponse
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tramoseats/job/"+id, nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		job = jobResponse{}
		return json.Unmarshal(rec.Body.Bytes(), &job) == nil && job.Job != nil && job.Status.Done()
	}, 10*time.Second, 20*time.Millisecond)
	return job
}

func TestProcessTramoSeats(t *testing.T) {
	env := newTestServer(t)

	res := processTramoSeatsSync(t, env, 72)
	require.NotEmpty(t, res.ResultID)
	assert.Equal(t, "completed", res.Status)
	require.NotNil(t, res.Tramo)
	require.NotNil(t, res.Seats)
	assert.Len(t, res.Seats.SeasonallyAdjusted, 72)
	assert.NotNil(t, res.ProcessingTime)

	rec := testutil.ServeJSON(t, env.handler, http.MethodGet, "/api/v1/tramoseats/results/"+res.ResultID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := testutil.DecodeJSON[tramoseats.Result](t, rec)
	assert.Equal(t, res.ResultID, stored.ResultID)
	assert.Nil(t, stored.ProcessingTime)
	assert.Equal(t, res.Seats.SeasonallyAdjusted, stored.Seats.SeasonallyAdjusted)

	rec = testutil.ServeJSON(t, env.handler, http.MethodGet, "/api/v1/tramoseats/results/missing", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	assert.Equal(t, "Results not found", testutil.DecodeJSON[map[string]string](t, rec)["error"])
}

func TestProcessTramoSeatsValidation(t *testing.T) {
	limits := DefaultLimits()
	limits.TramoSeatsMaxLength = 50
	env := newTestEnv(t, limits)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"too long", map[string]any{"timeseries": monthly(seasonalValues(60))}},
		{"empty", map[string]any{"timeseries": monthly([]float64{})}},
		{"bad transform", map[string]any{
			"timeseries":    monthly(seasonalValues(36)),
			"specification": map[string]any{"transform": map[string]any{"function": "boxcox"}},
		}},
		{"bad outlier type", map[string]any{
			"timeseries":    monthly(seasonalValues(36)),
			"specification": map[string]any{"outlier": map[string]any{"types": []string{"XX"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/process", tt.body)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		})
	}
}

func TestProcessTramoSeatsAsync(t *testing.T) {
	env := newTestServer(t)

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/process",
		map[string]any{"timeseries": monthly(seasonalValues(48)), "async_processing": true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := testutil.DecodeJSON[asyncResponse](t, rec)
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, store.JobPending, accepted.Status)

	job := waitForJob(t, env, accepted.JobID)
	require.Equal(t, store.JobCompleted, job.Status, job.Message)
	assert.Equal(t, "Processing completed", job.Message)
	require.NotEmpty(t, job.ResultID)

	rec = testutil.ServeJSON(t, env.handler, http.MethodGet, "/api/v1/tramoseats/results/"+job.ResultID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = testutil.ServeJSON(t, env.handler, http.MethodGet, "/api/v1/tramoseats/job/missing", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestProcessTramoSeatsAsyncWithoutPool(t *testing.T) {
	env := newTestServer(t)
	srv := NewServer(env.store, env.objects, nil, nil, DefaultLimits())

	rec := testutil.ServeJSON(t, srv.ServeMux(), http.MethodPost, "/api/v1/tramoseats/process",
		map[string]any{"timeseries": monthly(seasonalValues(36)), "async_processing": true})
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

func TestTramoSeatsSpecification(t *testing.T) {
	env := newTestServer(t)

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/specification",
		map[string]any{"outlier": map[string]any{"critical_value": 4.0}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := testutil.DecodeJSON[struct {
		ID    string                   `json:"specification_id"`
		Spec  tramoseats.Specification `json:"specification"`
		Valid bool                     `json:"valid"`
	}](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.True(t, resp.Valid)
	assert.Equal(t, 4.0, resp.Spec.Outlier.CriticalValue)
	// Unset sections keep their defaults.
	assert.Equal(t, "auto", resp.Spec.Transform.Function)

	var saved tramoseats.Specification
	require.NoError(t, env.store.GetResult(store.KindTramoSeatsSpec, resp.ID, &saved))
	assert.Equal(t, 4.0, saved.Outlier.CriticalValue)

	rec = testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/specification",
		map[string]any{"outlier": map[string]any{"critical_value": -1}})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestTramoSeatsDiagnostics(t *testing.T) {
	env := newTestServer(t)
	res := processTramoSeatsSync(t, env, 96)

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/diagnostics",
		map[string]any{"result_id": res.ResultID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	diag := testutil.DecodeJSON[tramoSeatsDiagnosticsResponse](t, rec)
	assert.Equal(t, res.ResultID, diag.ResultID)
	require.NotNil(t, diag.DiagnosticsResult)
	assert.NotNil(t, diag.SeasonalityTests)
	assert.NotNil(t, diag.ResidualTests)
	assert.NotNil(t, diag.SpectralAnalysis)

	rec = testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/diagnostics",
		map[string]any{"result_id": res.ResultID, "tests": []string{"spectral"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	only := testutil.DecodeJSON[tramoSeatsDiagnosticsResponse](t, rec)
	assert.Nil(t, only.SeasonalityTests)
	assert.NotNil(t, only.SpectralAnalysis)

	rec = testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/diagnostics",
		map[string]any{"result_id": res.ResultID, "tests": []string{"bogus"}})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/tramoseats/diagnostics",
		map[string]any{"result_id": "missing"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}
