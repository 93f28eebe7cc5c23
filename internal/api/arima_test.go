package api

import (
	"math/rand"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demetra.report/internal/testutil"
)

// ar1Values draws a stationary AR(1) around 50 from a fixed seed.
func ar1Values(n int, phi float64) []float64 {
	rng := rand.New(rand.NewSource(7))
	v := make([]float64, n)
	prev := 0.0
	for i := range v {
		prev = phi*prev + rng.NormFloat64()
		v[i] = 50 + prev
	}
	return v
}

func estimateAR1(t *testing.T, env *testEnv) estimateResponse {
	t.Helper()
	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/estimate", map[string]any{
		"timeseries": monthly(ar1Values(150, 0.6)),
		"order":      map[string]any{"p": 1},
		"method":     "css",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return testutil.DecodeJSON[estimateResponse](t, rec)
}

func TestEstimateArima(t *testing.T) {
	env := newTestServer(t)

	resp := estimateAR1(t, env)
	require.NotEmpty(t, resp.ModelID)
	assert.Equal(t, 1, resp.Model.Order.P)
	require.Len(t, resp.Model.AR, 1)
	assert.InDelta(t, 0.6, resp.Model.AR[0], 0.25)
	assert.Greater(t, resp.Model.Sigma2, 0.0)
	assert.Greater(t, resp.InSampleMetrics.MSE, 0.0)
	assert.EqualValues(t, "css", resp.ConvergenceInfo.Method)

	rec := testutil.ServeJSON(t, env.handler, http.MethodGet, "/api/v1/arima/model/"+resp.ModelID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := testutil.DecodeJSON[struct {
		ModelID string         `json:"model_id"`
		Info    timeSeriesInfo `json:"timeseries_info"`
	}](t, rec)
	assert.Equal(t, resp.ModelID, got.ModelID)
	assert.Equal(t, 150, got.Info.Length)
	assert.Equal(t, 2018, got.Info.Start.Year)

	rec = testutil.ServeJSON(t, env.handler, http.MethodGet, "/api/v1/arima/model/nope", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	assert.Equal(t, "Model not found", testutil.DecodeJSON[map[string]string](t, rec)["error"])
}

func TestEstimateArimaAutoOrder(t *testing.T) {
	env := newTestServer(t)

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/estimate", map[string]any{
		"timeseries": monthly(ar1Values(96, 0.5)),
		"method":     "css",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := testutil.DecodeJSON[estimateResponse](t, rec)
	assert.NotEmpty(t, resp.ModelID)
	assert.NoError(t, resp.Model.Order.Validate())
}

func TestEstimateArimaValidation(t *testing.T) {
	env := newTestServer(t)
	series := monthly(ar1Values(60, 0.5))

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"order too high", map[string]any{"timeseries": series, "order": map[string]any{"p": 6}}, "Order exceeds maximum of 5"},
		{"unknown method", map[string]any{"timeseries": series, "method": "bayes"}, ""},
		{"empty series", map[string]any{"timeseries": monthly([]float64{})}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/estimate", tt.body)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
			if tt.want != "" {
				assert.Equal(t, tt.want, testutil.DecodeJSON[map[string]string](t, rec)["error"])
			}
		})
	}
}

func TestForecastArima(t *testing.T) {
	env := newTestServer(t)
	model := estimateAR1(t, env)

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/forecast",
		map[string]any{"model_id": model.ModelID, "horizon": 12, "confidence_level": 0.9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fc := testutil.DecodeJSON[forecastResponse](t, rec)
	assert.Equal(t, model.ModelID, fc.ModelID)
	assert.Equal(t, 0.9, fc.ConfidenceLevel)
	require.Len(t, fc.Forecasts, 12)
	for _, p := range fc.Forecasts {
		assert.Less(t, p.Lower, p.Forecast)
		assert.Greater(t, p.Upper, p.Forecast)
		assert.Greater(t, p.StdErr, 0.0)
	}
	// Intervals widen with the horizon.
	assert.GreaterOrEqual(t, fc.Forecasts[11].StdErr, fc.Forecasts[0].StdErr)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"zero horizon", map[string]any{"model_id": model.ModelID, "horizon": 0}, http.StatusBadRequest},
		{"long horizon", map[string]any{"model_id": model.ModelID, "horizon": 400}, http.StatusBadRequest},
		{"bad confidence", map[string]any{"model_id": model.ModelID, "horizon": 3, "confidence_level": 1.5}, http.StatusBadRequest},
		{"unknown model", map[string]any{"model_id": "missing", "horizon": 3}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/forecast", tt.body)
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestDiagnoseArima(t *testing.T) {
	env := newTestServer(t)
	model := estimateAR1(t, env)

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/diagnose", map[string]any{"model_id": model.ModelID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	diag := testutil.DecodeJSON[diagnoseResponse](t, rec)
	assert.Equal(t, model.ModelID, diag.ModelID)
	require.NotNil(t, diag.Diagnostics)
	assert.Len(t, diag.Tests, 2)
	assert.NotEmpty(t, diag.Adequacy)
	assert.InDelta(t, 0.0, diag.ResidualStats.Mean, 0.5)

	rec = testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/diagnose",
		map[string]any{"model_id": model.ModelID, "tests": []string{"heteroscedasticity"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, testutil.DecodeJSON[diagnoseResponse](t, rec).Tests, 1)

	rec = testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/diagnose",
		map[string]any{"model_id": model.ModelID, "tests": []string{"durbin_watson"}})
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/diagnose", map[string]any{"model_id": "missing"})
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestIdentifyArima(t *testing.T) {
	env := newTestServer(t)
	series := monthly(ar1Values(120, 0.6))

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/identify", map[string]any{
		"timeseries": series,
		"seasonal":   false,
		"max_p":      2,
		"max_q":      2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := testutil.DecodeJSON[identifyResponse](t, rec)
	assert.Positive(t, resp.CandidatesEvaluated)
	assert.Len(t, resp.SearchSummary.Candidates, resp.CandidatesEvaluated)
	assert.Equal(t, "stepwise", resp.SearchSummary.Method)
	assert.Equal(t, "aic", resp.SearchSummary.Criterion)
	assert.Equal(t, resp.BestModel.Order.String(), resp.SearchSummary.BestOrder)
	assert.LessOrEqual(t, resp.BestModel.Order.P, 2)
	assert.LessOrEqual(t, resp.BestModel.Order.Q, 2)
	assert.Zero(t, resp.BestModel.Order.SP)

	for _, bad := range []map[string]any{
		{"timeseries": series, "max_p": 11},
		{"timeseries": series, "max_q": -1},
		{"timeseries": series, "max_d": 4},
	} {
		rec = testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/arima/identify", bad)
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	}
}

func TestPurgeExpiredClearsCaches(t *testing.T) {
	env := newTestServer(t)
	model := estimateAR1(t, env)
	require.Equal(t, 1, env.srv.models.Len())

	_, err := env.srv.PurgeExpired()
	require.NoError(t, err)
	assert.Zero(t, env.srv.models.Len())
	assert.Zero(t, env.srv.series.Len())

	rec := testutil.ServeJSON(t, env.handler, http.MethodGet, "/api/v1/arima/model/"+model.ModelID, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
}
