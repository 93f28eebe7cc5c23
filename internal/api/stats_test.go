package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/testutil"
)

func TestStatsEndpoints(t *testing.T) {
	env := newTestServer(t)
	data := seasonalValues(60)

	tests := []struct {
		name string
		path string
		body map[string]any
	}{
		{"shapiro", "/api/v1/stats/test/normality", map[string]any{"data": data}},
		{"jarque_bera", "/api/v1/stats/test/normality", map[string]any{"data": data, "method": "jarque_bera"}},
		{"adf", "/api/v1/stats/test/stationarity", map[string]any{"data": data, "regression": "ct"}},
		{"kpss", "/api/v1/stats/test/stationarity", map[string]any{"data": data, "method": "kpss", "max_lag": 4}},
		{"runs", "/api/v1/stats/test/randomness", map[string]any{"data": data}},
		{"ljung_box", "/api/v1/stats/test/randomness", map[string]any{"data": data, "method": "ljung_box", "lags": 6}},
		{"kruskal", "/api/v1/stats/test/seasonality", map[string]any{"data": data, "period": 12, "method": "kruskal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.ServeJSON(t, env.handler, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			res := testutil.DecodeJSON[stats.TestResult](t, rec)
			assert.GreaterOrEqual(t, res.PValue, 0.0)
			assert.LessOrEqual(t, res.PValue, 1.0)
			assert.NotEmpty(t, res.Interpretation)
		})
	}
}

func TestStatsValidation(t *testing.T) {
	env := newTestServer(t)
	data := seasonalValues(30)

	tests := []struct {
		name string
		path string
		body map[string]any
	}{
		{"empty data", "/api/v1/stats/test/normality", map[string]any{"data": []float64{}}},
		{"unknown method", "/api/v1/stats/test/normality", map[string]any{"data": data, "method": "lilliefors"}},
		{"bad regression", "/api/v1/stats/test/stationarity", map[string]any{"data": data, "regression": "q"}},
		{"negative max_lag", "/api/v1/stats/test/stationarity", map[string]any{"data": data, "max_lag": -1}},
		{"negative lags", "/api/v1/stats/test/randomness", map[string]any{"data": data, "lags": -2}},
		{"period one", "/api/v1/stats/test/seasonality", map[string]any{"data": data, "period": 1}},
		{"percentile range", "/api/v1/stats/descriptive", map[string]any{"data": data, "percentiles": []float64{50, 101}}},
		{"unknown distribution", "/api/v1/stats/distribution/fit", map[string]any{"data": data, "distributions": []string{"zipf"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.ServeJSON(t, env.handler, http.MethodPost, tt.path, tt.body)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		})
	}

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/stats/test/normality", map[string]any{"data": []float64{}})
	assert.Equal(t, "Data cannot be empty", testutil.DecodeJSON[map[string]string](t, rec)["error"])
}

func TestDescriptiveStats(t *testing.T) {
	env := newTestServer(t)

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/stats/descriptive",
		map[string]any{"data": []float64{1, 2, 3, 4, 5}, "percentiles": []float64{50}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := testutil.DecodeJSON[stats.Descriptive](t, rec)
	assert.Equal(t, 5, d.Count)
	assert.InDelta(t, 3.0, d.Mean, 1e-12)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 5.0, d.Max)
	assert.InDelta(t, 3.0, d.Percentiles["p50"], 1e-12)
}

func TestFitDistribution(t *testing.T) {
	env := newTestServer(t)

	rec := testutil.ServeJSON(t, env.handler, http.MethodPost, "/api/v1/stats/distribution/fit",
		map[string]any{"data": seasonalValues(60)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := testutil.DecodeJSON[distributionFitResponse](t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "normal", resp.BestDistribution)
	assert.True(t, resp.Results[0].BestFit)
	assert.Contains(t, resp.Results[0].Parameters, "loc")
}
