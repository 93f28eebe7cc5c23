package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/demetra.report/internal/api"
	"github.com/banshee-data/demetra.report/internal/config"
	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/mathops"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/objstore"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/timeutil"
)

func TestMain(m *testing.M) {
	logger = zap.NewNop()
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// writeSeasonalCSV writes n months of a trending seasonal series starting
// January 2015.
func writeSeasonalCSV(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,sales\n")
	for i := 0; i < n; i++ {
		v := 100 + 0.5*float64(i) + 10*math.Sin(2*math.Pi*float64(i)/12) + 0.5*math.Sin(2.3*float64(i))
		fmt.Fprintf(&b, "%d-%02d,%.4f\n", 2015+i/12, i%12+1, v)
	}
	path := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestAnalyze(t *testing.T) {
	file := writeSeasonalCSV(t, 96)

	for _, method := range []string{"x13", "tramoseats"} {
		t.Run(method, func(t *testing.T) {
			var out bytes.Buffer
			err := runAnalyze(&out, analyzeOptions{file: file, method: method, horizon: 12, confidence: 0.95})
			require.NoError(t, err)

			var res map[string]any
			require.NoError(t, json.Unmarshal(out.Bytes(), &res))
			assert.Equal(t, "completed", res["status"])
			assert.NotNil(t, res["specification_used"])
		})
	}

	t.Run("arima", func(t *testing.T) {
		var out bytes.Buffer
		err := runAnalyze(&out, analyzeOptions{file: file, method: "arima", horizon: 6, confidence: 0.9})
		require.NoError(t, err)

		var res arimaReport
		require.NoError(t, json.Unmarshal(out.Bytes(), &res))
		assert.Len(t, res.Forecasts, 6)
		assert.Positive(t, res.Evaluated)
		assert.Positive(t, res.Model.Sigma2)
	})
}

func TestAnalyzeErrors(t *testing.T) {
	file := writeSeasonalCSV(t, 48)

	tests := []struct {
		name string
		opts analyzeOptions
		want string
	}{
		{"unknown method", analyzeOptions{file: file, method: "stl"}, `unknown method "stl"`},
		{"missing series", analyzeOptions{file: file, method: "x13", series: "costs"}, `series "costs" not found`},
		{"missing file", analyzeOptions{file: filepath.Join(t.TempDir(), "none.csv"), method: "x13"}, "no such file"},
		{"bad spec", analyzeOptions{file: file, method: "x13", spec: filepath.Join(t.TempDir(), "spec.json")}, "no such file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runAnalyze(&bytes.Buffer{}, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAnalyzeWithSpec(t *testing.T) {
	file := writeSeasonalCSV(t, 72)
	spec := filepath.Join(t.TempDir(), "spec.json")
	require.NoError(t, os.WriteFile(spec, []byte(`{"outlier": {"critical_value": 4}}`), 0o644))

	var out bytes.Buffer
	require.NoError(t, runAnalyze(&out, analyzeOptions{file: file, method: "tramoseats", spec: spec}))
	assert.Contains(t, out.String(), `"critical_value": 4`)
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json"})
	require.NoError(t, cmd.Execute())

	var info map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "dev", info["version"])
}

func TestMigrateStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demetra.db")
	st, err := store.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cmd := newMigrateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status", "--db-path", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "=== Migration Status ===")
	assert.Contains(t, out.String(), "Database is up to date")
}

func TestCheckHealth(t *testing.T) {
	mux := api.NewServer(store.NewTestDB(t), objstore.NewFS(nil, t.TempDir()), nil, nil, api.DefaultLimits()).ServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	var out bytes.Buffer
	require.NoError(t, checkHealth(context.Background(), &out, ts.Client(), ts.URL+"/"))
	assert.Equal(t, len(healthPaths), strings.Count(out.String(), "✓"))
	assert.Contains(t, out.String(), "x13-service")
}

func TestCheckHealthFailures(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"status":"healthy","service":"ts-data-service"}`).
		AddErrorResponse(errors.New("connection refused")).
		AddResponse(http.StatusServiceUnavailable, `{"error":"down"}`).
		AddResponse(http.StatusOK, `{"status":"degraded","service":"arima-service"}`)

	var out bytes.Buffer
	err := checkHealth(context.Background(), &out, mock, "http://demetra:8080")
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("of %d services unhealthy", len(healthPaths)))
	assert.Contains(t, out.String(), "connection refused")
	assert.Contains(t, out.String(), "arima-service: degraded")
	require.Len(t, mock.Requests, len(healthPaths))
	assert.Equal(t, "http://demetra:8080/health", mock.Requests[0].URL.String())
}

func TestApplyServeFlags(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Set("listen", "127.0.0.1:9000"))
	require.NoError(t, cmd.Flags().Set("workers", "8"))

	cfg := config.DefaultServiceConfig()
	require.NoError(t, applyServeFlags(cmd, cfg))
	assert.Equal(t, "127.0.0.1:9000", cfg.GetListen())
	assert.Equal(t, 8, cfg.GetWorkers())
	assert.Equal(t, config.DefaultServiceConfig().GetDBPath(), cfg.GetDBPath())
	assert.Equal(t, config.DefaultServiceConfig().GetGRPCListen(), cfg.GetGRPCListen())
}

func TestLimitsFrom(t *testing.T) {
	assert.Equal(t, api.DefaultLimits(), limitsFrom(config.DefaultServiceConfig()))

	cfg := config.DefaultServiceConfig()
	n := 7
	cfg.MaxArimaOrder = &n
	assert.Equal(t, 7, limitsFrom(cfg).MaxArimaOrder)
}

func TestRun(t *testing.T) {
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := api.NewServer(store.NewTestDB(t), objstore.NewFS(nil, t.TempDir()), nil, nil, api.DefaultLimits()).ServeMux()
	purged := make(chan struct{}, 1)
	purge := func() (int64, error) {
		select {
		case purged <- struct{}{}:
		default:
		}
		return 3, nil
	}
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, httpLn, grpcLn, mux, purge, clock) }()

	resp, err := http.Get("http://" + httpLn.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient(grpcLn.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()
	vals, err := mathops.NewClient(conn).EvaluatePolynomial(callCtx, []float64{1, 0, -4}, []float64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 5}, vals)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		clock.Advance(purgeInterval)
		select {
		case <-purged:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
