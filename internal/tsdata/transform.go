package tsdata

import (
	"fmt"
	"math"

	"github.com/banshee-data/demetra.report/internal/stats"
)

// Transformations accepted by Transform.
var Transformations = []string{"log", "sqrt", "diff", "seasonal_diff", "standardize", "detrend"}

// Transform applies the named operation and returns a new series. The
// operation is recorded under the "transformation" metadata key.
func Transform(s *Series, op string, params map[string]any) (*Series, error) {
	if s == nil || len(s.Values) == 0 {
		return nil, ErrEmptySeries
	}
	switch op {
	case "log":
		return Log(s)
	case "sqrt":
		return Sqrt(s)
	case "diff":
		lag, err := intParam(params, "lag", 1)
		if err != nil {
			return nil, err
		}
		return Difference(s, lag)
	case "seasonal_diff":
		period, err := intParam(params, "period", s.SeasonalPeriod())
		if err != nil {
			return nil, err
		}
		return SeasonalDifference(s, period)
	case "standardize":
		return Standardize(s)
	case "detrend":
		return Detrend(s)
	}
	return nil, fmt.Errorf("%w: unknown transformation: %s", ErrTransform, op)
}

func intParam(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrTransform, key, v)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: %s must be an integer, got %T", ErrTransform, key, raw)
}

func derive(s *Series, values []float64, start Period, meta map[string]any) *Series {
	out := s.WithValues(values, start)
	for k, v := range meta {
		out.Metadata[k] = v
	}
	return out
}

// Log applies the natural logarithm. All values must be positive.
func Log(s *Series) (*Series, error) {
	out := make([]float64, len(s.Values))
	for i, v := range s.Values {
		if v <= 0 {
			return nil, fmt.Errorf("%w: cannot apply log transformation to non-positive values", ErrTransform)
		}
		out[i] = math.Log(v)
	}
	return derive(s, out, s.Start, map[string]any{"transformation": "log"}), nil
}

// Sqrt applies the square root. All values must be non-negative.
func Sqrt(s *Series) (*Series, error) {
	out := make([]float64, len(s.Values))
	for i, v := range s.Values {
		if v < 0 {
			return nil, fmt.Errorf("%w: cannot apply sqrt transformation to negative values", ErrTransform)
		}
		out[i] = math.Sqrt(v)
	}
	return derive(s, out, s.Start, map[string]any{"transformation": "sqrt"}), nil
}

// Difference applies first differences lag times (a lag-th order
// difference) and moves the start forward by lag periods.
func Difference(s *Series, lag int) (*Series, error) {
	if lag < 1 {
		return nil, fmt.Errorf("%w: lag must be >= 1, got %d", ErrTransform, lag)
	}
	if lag >= len(s.Values) {
		return nil, fmt.Errorf("%w: lag %d exceeds series length %d", ErrTransform, lag, len(s.Values))
	}
	out := stats.Diff(s.Values, 1, lag)
	return derive(s, out, s.Start.Add(lag), map[string]any{"transformation": fmt.Sprintf("diff(%d)", lag)}), nil
}

// SeasonalDifference computes x[t] - x[t-period] and moves the start
// forward by period.
func SeasonalDifference(s *Series, period int) (*Series, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: period must be >= 1, got %d", ErrTransform, period)
	}
	if period >= len(s.Values) {
		return nil, fmt.Errorf("%w: period %d exceeds series length %d", ErrTransform, period, len(s.Values))
	}
	out := stats.Diff(s.Values, period, 1)
	return derive(s, out, s.Start.Add(period), map[string]any{"transformation": fmt.Sprintf("seasonal_diff(%d)", period)}), nil
}

// Standardize rescales to zero mean and unit (ddof 1) variance.
func Standardize(s *Series) (*Series, error) {
	mean := stats.Mean(s.Values)
	std := stats.Std(s.Values, 1)
	if std == 0 || math.IsNaN(std) {
		return nil, fmt.Errorf("%w: cannot standardize series with zero variance", ErrTransform)
	}
	out := make([]float64, len(s.Values))
	for i, v := range s.Values {
		out[i] = (v - mean) / std
	}
	return derive(s, out, s.Start, map[string]any{
		"transformation": "standardize",
		"original_mean":  mean,
		"original_std":   std,
	}), nil
}

// Detrend removes a least-squares linear trend.
func Detrend(s *Series) (*Series, error) {
	intercept, slope := stats.LinearTrend(s.Values)
	out := make([]float64, len(s.Values))
	for i, v := range s.Values {
		out[i] = v - (intercept + slope*float64(i))
	}
	return derive(s, out, s.Start, map[string]any{
		"transformation":  "detrend",
		"trend_slope":     slope,
		"trend_intercept": intercept,
	}), nil
}
