// Package api serves the analysis services over HTTP: time-series storage,
// statistical tests, ARIMA, TRAMO/SEATS, X-13, file I/O and plotting.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/demetra.report/internal/cache"
	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/jobs"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/objstore"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/viz"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxJSONBody bounds every JSON request body.
const maxJSONBody = 32 << 20

// Limits bound request sizes and cache lifetimes.
type Limits struct {
	MaxSeriesLength     int
	MaxForecastHorizon  int
	MaxArimaOrder       int
	TramoSeatsMaxLength int
	MaxFileSize         int64
	MaxSeriesPerFile    int
	SeriesCacheTTL      time.Duration
	ModelTTL            time.Duration
	ResultTTL           time.Duration
}

// DefaultLimits returns the limits the server uses when none are given.
func DefaultLimits() Limits {
	return Limits{
		MaxSeriesLength:     100000,
		MaxForecastHorizon:  365,
		MaxArimaOrder:       5,
		TramoSeatsMaxLength: 1000,
		MaxFileSize:         100 * 1024 * 1024,
		MaxSeriesPerFile:    1000,
		SeriesCacheTTL:      time.Hour,
		ModelTTL:            24 * time.Hour,
		ResultTTL:           24 * time.Hour,
	}
}

type Server struct {
	store   *store.Store
	objects objstore.Store
	plots   *viz.Renderer
	pool    *jobs.Pool
	limits  Limits

	series *cache.Cache[*store.SeriesRecord]
	models *cache.Cache[*modelEntry]
}

// NewServer wires the services to their backends. pool may be nil, in
// which case asynchronous processing is refused.
func NewServer(st *store.Store, objects objstore.Store, plots *viz.Renderer, pool *jobs.Pool, limits Limits) *Server {
	return &Server{
		store:   st,
		objects: objects,
		plots:   plots,
		pool:    pool,
		limits:  limits,
		series:  cache.New(1000, limits.SeriesCacheTTL, cache.WithClock[*store.SeriesRecord](st.Clock())),
		models:  cache.New(1000, limits.ModelTTL, cache.WithClock[*modelEntry](st.Clock())),
	}
}

// PurgeExpired deletes expired models and results from the store and
// empties the in-memory caches so no entry outlives its row.
func (s *Server) PurgeExpired() (int64, error) {
	n, err := s.store.PurgeExpired()
	if err != nil {
		return n, err
	}
	s.series.Clear()
	s.models.Clear()
	return n, nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health("ts-data-service"))

	mux.HandleFunc("/api/v1/timeseries", s.listSeries)
	mux.HandleFunc("/api/v1/timeseries/create", s.createSeries)
	mux.HandleFunc("/api/v1/timeseries/validate", s.validateSeries)
	mux.HandleFunc("/api/v1/timeseries/batch", s.batchCreateSeries)
	mux.HandleFunc("/api/v1/timeseries/{id}", s.seriesByID)
	mux.HandleFunc("/api/v1/timeseries/{id}/transform", s.transformSeries)

	mux.HandleFunc("/api/v1/stats/health", s.health("stats-service"))
	mux.HandleFunc("/api/v1/stats/test/normality", s.normalityTest)
	mux.HandleFunc("/api/v1/stats/test/stationarity", s.stationarityTest)
	mux.HandleFunc("/api/v1/stats/test/randomness", s.randomnessTest)
	mux.HandleFunc("/api/v1/stats/test/seasonality", s.seasonalityTest)
	mux.HandleFunc("/api/v1/stats/descriptive", s.descriptiveStats)
	mux.HandleFunc("/api/v1/stats/distribution/fit", s.fitDistribution)

	mux.HandleFunc("/api/v1/arima/health", s.health("arima-service"))
	mux.HandleFunc("/api/v1/arima/estimate", s.estimateArima)
	mux.HandleFunc("/api/v1/arima/forecast", s.forecastArima)
	mux.HandleFunc("/api/v1/arima/identify", s.identifyArima)
	mux.HandleFunc("/api/v1/arima/diagnose", s.diagnoseArima)
	mux.HandleFunc("/api/v1/arima/model/{id}", s.getArimaModel)

	mux.HandleFunc("/api/v1/tramoseats/health", s.health("tramoseats-service"))
	mux.HandleFunc("/api/v1/tramoseats/process", s.processTramoSeats)
	mux.HandleFunc("/api/v1/tramoseats/results/{id}", s.getTramoSeatsResult)
	mux.HandleFunc("/api/v1/tramoseats/job/{id}", s.getJob)
	mux.HandleFunc("/api/v1/tramoseats/specification", s.tramoSeatsSpecification)
	mux.HandleFunc("/api/v1/tramoseats/diagnostics", s.tramoSeatsDiagnostics)

	mux.HandleFunc("/api/v1/x13/health", s.health("x13-service"))
	mux.HandleFunc("/api/v1/x13/process", s.processX13)
	mux.HandleFunc("/api/v1/x13/results/{id}", s.getX13Result)
	mux.HandleFunc("/api/v1/x13/specification", s.x13Specification)
	mux.HandleFunc("/api/v1/x13/diagnostics", s.x13Diagnostics)
	mux.HandleFunc("/api/v1/x13/compare", s.compareX13)

	mux.HandleFunc("/api/v1/io/health", s.health("io-service"))
	mux.HandleFunc("/api/v1/io/upload", s.uploadFile)
	mux.HandleFunc("/api/v1/io/import/{format}", s.importFile)
	mux.HandleFunc("/api/v1/io/export/{format}", s.exportSeries)
	mux.HandleFunc("/api/v1/io/convert", s.convertFile)
	mux.HandleFunc("/api/v1/io/formats", s.listFormats)
	mux.HandleFunc("/api/v1/io/validate", s.validateFile)
	mux.HandleFunc("/api/v1/io/download/{path...}", s.downloadFile)

	mux.HandleFunc("/api/v1/viz/health", s.health("visualization-service"))
	mux.HandleFunc("/api/v1/viz/timeseries", s.plotTimeSeries)
	mux.HandleFunc("/api/v1/viz/decomposition", s.plotDecomposition)
	mux.HandleFunc("/api/v1/viz/spectrum", s.plotSpectrum)
	mux.HandleFunc("/api/v1/viz/diagnostics", s.plotDiagnostics)
	mux.HandleFunc("/api/v1/viz/forecast", s.plotForecast)
	mux.HandleFunc("/api/v1/viz/themes", s.listThemes)
	mux.HandleFunc("/api/v1/viz/download/{file}", s.downloadPlot)
	return mux
}

func (s *Server) health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "healthy", "service": service})
	}
}

// decodeJSON reads a POST body into dst, writing the error response itself
// when it returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		httputil.MethodNotAllowed(w)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RequestEntityTooLarge(w, "request body too large")
			return false
		}
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// writeLookupError reports a failed store lookup: 404 with notFound for a
// missing record, 500 otherwise.
func writeLookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, objstore.ErrNotFound) {
		httputil.NotFound(w, notFound)
		return
	}
	monitoring.Logf("api: lookup failed: %v", err)
	httputil.InternalServerError(w, "internal error")
}

func writeStoreError(w http.ResponseWriter, op string, err error) {
	monitoring.Logf("api: %s: %v", op, err)
	httputil.InternalServerError(w, fmt.Sprintf("failed to %s", op))
}

// persistError marks a failure to store an analysis that itself succeeded.
type persistError struct {
	op  string
	err error
}

func (e *persistError) Error() string { return e.op + ": " + e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

// writeAnalysisError answers 500 for a persistence failure and 400 for an
// analysis that rejected its input.
func writeAnalysisError(w http.ResponseWriter, err error) {
	var pe *persistError
	if errors.As(err, &pe) {
		writeStoreError(w, pe.op, pe.err)
		return
	}
	httputil.BadRequest(w, err.Error())
}

// loadSeries returns a stored series record through the ts:{id} cache.
// Callers must not modify the returned record.
func (s *Server) loadSeries(id string) (*store.SeriesRecord, error) {
	rec, _, err := s.series.GetOrLoad("ts:"+id, func() (*store.SeriesRecord, error) {
		return s.store.GetSeries(id)
	})
	return rec, err
}
