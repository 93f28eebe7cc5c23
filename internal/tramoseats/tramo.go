package tramoseats

import (
	"errors"
	"math"
	"slices"

	"github.com/banshee-data/demetra.report/internal/arima"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

var (
	ErrNonPositive   = errors.New("cannot apply log transformation to non-positive values")
	ErrMissingValues = errors.New("series contains missing values")
)

// TransformInfo records which transformation TRAMO applied.
type TransformInfo struct {
	Type         string `json:"type"`
	AutoSelected bool   `json:"auto_selected,omitempty"`
}

// Log reports whether the series was modelled in logs.
func (t TransformInfo) Log() bool { return t.Type == "log" }

// Outlier is one point flagged by the MAD screen.
type Outlier struct {
	Position int           `json:"position"`
	Period   tsdata.Period `json:"period"`
	Type     string        `json:"type"`
	Value    float64       `json:"value"`
	Effect   float64       `json:"effect"`
}

// CalendarEffect is one estimated calendar regression coefficient.
type CalendarEffect struct {
	Coefficient float64 `json:"coefficient"`
	StdError    float64 `json:"std_error"`
	TValue      float64 `json:"t_value"`
}

// TramoResult is the pre-adjustment outcome.
type TramoResult struct {
	Model             tsdata.ArimaModel         `json:"model"`
	Outliers          []Outlier                 `json:"outliers"`
	CalendarEffects   map[string]CalendarEffect `json:"calendar_effects"`
	RegressionEffects map[string]any            `json:"regression_effects"`
	Residuals         []float64                 `json:"residuals"`
	Transform         TransformInfo             `json:"transform_info"`
	// Linearised is the transformed series with AO points replaced.
	Linearised []float64 `json:"-"`
}

// Tramo runs the pre-adjustment steps on s.
func Tramo(s *tsdata.Series, spec Specification) (*TramoResult, error) {
	for _, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrMissingValues
		}
	}
	if s.Len() == 0 {
		return nil, tsdata.ErrEmptySeries
	}
	data, info, err := transform(s.Values, spec.Transform.Function)
	if err != nil {
		return nil, err
	}
	res := &TramoResult{Transform: info, Outliers: []Outlier{}}
	res.Outliers = detectOutliers(s, data, spec.Outlier)
	if spec.Calendar.Any() {
		res.CalendarEffects, err = calendarEffects(s, data, spec.Calendar)
		if err != nil {
			return nil, err
		}
	}

	adjusted := slices.Clone(data)
	med := stats.Median(data)
	for _, o := range res.Outliers {
		if o.Type == "AO" {
			adjusted[o.Position] = med
		}
	}
	res.Linearised = adjusted
	res.Model, res.Residuals = fitModel(adjusted, s.SeasonalPeriod(), spec.Arima)
	return res, nil
}

// transform applies none, log or auto. Auto picks logs when the second
// half of the series is more than twice as volatile as the first.
func transform(x []float64, fn string) ([]float64, TransformInfo, error) {
	positive := true
	for _, v := range x {
		if v <= 0 {
			positive = false
			break
		}
	}
	logOf := func() []float64 {
		out := make([]float64, len(x))
		for i, v := range x {
			out[i] = math.Log(v)
		}
		return out
	}
	switch fn {
	case "log":
		if !positive {
			return nil, TransformInfo{}, ErrNonPositive
		}
		return logOf(), TransformInfo{Type: "log"}, nil
	case "auto":
		half := len(x) / 2
		if half > 1 && positive {
			ratio := stats.Std(x[half:], 0) / stats.Std(x[:half], 0)
			if ratio > 2 {
				return logOf(), TransformInfo{Type: "log", AutoSelected: true}, nil
			}
		}
		return slices.Clone(x), TransformInfo{Type: "none", AutoSelected: true}, nil
	}
	return slices.Clone(x), TransformInfo{Type: "none"}, nil
}

// detectOutliers flags points further than cv·1.4826·MAD from the median.
// Points at either end are additive outliers, a flagged point followed by
// another flagged point starts a level shift, anything else is a
// transitory change.
func detectOutliers(s *tsdata.Series, x []float64, spec OutlierSpec) []Outlier {
	out := []Outlier{}
	n := len(x)
	if !spec.Enabled || n < 3 {
		return out
	}
	med := stats.Median(x)
	threshold := spec.CriticalValue * 1.4826 * stats.MAD(x)
	flagged := func(i int) bool { return math.Abs(x[i]-med) > threshold }
	for i := 0; i < n; i++ {
		if !flagged(i) {
			continue
		}
		typ := "TC"
		switch {
		case i == 0 || i == n-1:
			typ = "AO"
		case flagged(i + 1):
			typ = "LS"
		}
		if !slices.Contains(spec.Types, typ) {
			continue
		}
		out = append(out, Outlier{
			Position: i,
			Period:   s.PeriodAt(i),
			Type:     typ,
			Value:    x[i],
			Effect:   x[i] - med,
		})
	}
	return out
}

// calendarEffects regresses the series on a constant, a linear trend and
// the requested calendar regressors.
func calendarEffects(s *tsdata.Series, x []float64, spec CalendarSpec) (map[string]CalendarEffect, error) {
	type regressor struct {
		name string
		vals []float64
	}
	var regs []regressor
	add := func(name string, f func() ([]float64, error)) error {
		v, err := f()
		if err != nil {
			return err
		}
		regs = append(regs, regressor{name, v})
		return nil
	}
	if spec.TradingDays {
		if err := add("trading_days", func() ([]float64, error) { return tsdata.TradingDays(s) }); err != nil {
			return nil, err
		}
	}
	if spec.Easter {
		if err := add("easter", func() ([]float64, error) { return tsdata.Easter(s, 8) }); err != nil {
			return nil, err
		}
	}
	if spec.LeapYear {
		if err := add("leap_year", func() ([]float64, error) { return tsdata.LeapYear(s) }); err != nil {
			return nil, err
		}
	}

	X := make([][]float64, len(x))
	for t := range X {
		row := []float64{1, float64(t)}
		for _, r := range regs {
			row = append(row, r.vals[t])
		}
		X[t] = row
	}
	fit, err := stats.OLS(X, x)
	if err != nil {
		// A regressor with no variation over the sample is not estimable.
		monitoring.Logf("tramoseats: calendar regression skipped: %v", err)
		return nil, nil
	}
	effects := make(map[string]CalendarEffect, len(regs))
	for i, r := range regs {
		k := i + 2
		e := CalendarEffect{Coefficient: fit.Coef[k], StdError: fit.StdErr[k], TValue: fit.TStat[k]}
		if math.IsNaN(e.TValue) || math.IsInf(e.TValue, 0) {
			e.TValue = 0
		}
		effects[r.name] = e
	}
	return effects, nil
}

// fitModel fits the specified order, or the airline model
// (1,1,1)(0,1,1)[s] by default, and falls back to a random walk.
func fitModel(x []float64, period int, spec ArimaSpec) (tsdata.ArimaModel, []float64) {
	order := tsdata.ArimaOrder{P: 1, D: 1, Q: 1, SD: 1, SQ: 1}
	if spec.hasOrder() {
		order = tsdata.ArimaOrder{
			P:  *spec.P,
			D:  *spec.D,
			Q:  *spec.Q,
			SP: intOr(spec.BP, 0),
			SD: intOr(spec.BD, 0),
			SQ: intOr(spec.BQ, 0),
		}
	}
	if period > 1 && (order.SP > 0 || order.SD > 0 || order.SQ > 0) {
		order.Period = period
	} else {
		order.SP, order.SD, order.SQ = 0, 0, 0
	}

	fit, err := arima.Estimate(x, order, arima.Options{Method: arima.MethodCSS, IncludeMean: spec.Mean})
	if err == nil {
		return fit.Model, fit.Residuals
	}
	monitoring.Logf("tramoseats: %s failed (%v), falling back to ARIMA(0,1,0)", order, err)
	diff := stats.Diff(x, 1, 1)
	sigma2 := stats.Variance(diff, 0)
	if math.IsNaN(sigma2) || sigma2 <= 0 {
		sigma2 = math.SmallestNonzeroFloat64
	}
	if diff == nil {
		diff = []float64{}
	}
	return tsdata.ArimaModel{Order: tsdata.ArimaOrder{D: 1}, Sigma2: sigma2}, diff
}
