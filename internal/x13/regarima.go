package x13

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/banshee-data/demetra.report/internal/arima"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

var ErrMissingValues = errors.New("series contains missing values")

// Effect is one estimated regression coefficient.
type Effect struct {
	Coefficient float64 `json:"coefficient"`
	StdError    float64 `json:"std_error"`
	TValue      float64 `json:"t_value"`
}

// Outlier is a point flagged by the robust t screen.
type Outlier struct {
	Position int           `json:"position"`
	Period   tsdata.Period `json:"period"`
	Type     string        `json:"type"`
	Value    float64       `json:"value"`
	TValue   float64       `json:"t_value"`
}

// RegArimaResult is the pre-adjustment outcome.
type RegArimaResult struct {
	Model             tsdata.ArimaModel `json:"model"`
	RegressionEffects map[string]Effect `json:"regression_effects"`
	Outliers          []Outlier         `json:"outliers"`
	Transformation    string            `json:"transformation"`
	Residuals         []float64         `json:"residuals,omitempty"`
	// Linearised is the transformed series with regression effects removed.
	Linearised []float64 `json:"linearised,omitempty"`
}

// regressor produces a regression variable over the first n periods of s.
type regressor struct {
	name string
	gen  func(n int) ([]float64, error)
}

func extend(s *tsdata.Series, n int) *tsdata.Series {
	return s.WithValues(make([]float64, n), s.Start)
}

// transformSeries applies the RegARIMA transformation. A log request on
// non-positive data degrades to none; auto picks logs when the coefficient
// of variation exceeds 0.3.
func transformSeries(x []float64, fn string) ([]float64, string) {
	positive := !slices.ContainsFunc(x, func(v float64) bool { return v <= 0 })
	useLog := false
	switch fn {
	case "log":
		useLog = positive
	case "auto":
		if positive {
			m := stats.Mean(x)
			useLog = m != 0 && stats.Std(x, 1)/m > 0.3
		}
	}
	if !useLog {
		return slices.Clone(x), "none"
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Log(v)
	}
	return out, "log"
}

// screenOutliers computes robust t values (x-median)/(1.4826·MAD) and
// flags those beyond cv. addall keeps every flagged point in one pass;
// addone adds the largest, replaces it by the median and screens again.
func screenOutliers(s *tsdata.Series, x []float64, spec RegArimaSpec) []Outlier {
	n := len(x)
	out := []Outlier{}
	if n < 3 {
		return out
	}
	work := slices.Clone(x)
	seen := make([]bool, n)
	classify := func(i int, flagged func(int) bool) string {
		switch {
		case i == 0 || i == n-1:
			return "AO"
		case flagged(i + 1):
			return "LS"
		}
		return "TC"
	}
	add := func(i int, t float64, flagged func(int) bool) {
		seen[i] = true
		typ := classify(i, flagged)
		if !spec.has(lower(typ)) {
			return
		}
		out = append(out, Outlier{Position: i, Period: s.PeriodAt(i), Type: typ, Value: x[i], TValue: t})
	}

	for pass := 0; pass < n; pass++ {
		med := stats.Median(work)
		scale := 1.4826 * stats.MAD(work)
		if scale == 0 {
			break
		}
		tval := func(i int) float64 { return (work[i] - med) / scale }
		flagged := func(i int) bool { return math.Abs(tval(i)) > spec.OutlierCriticalValue }

		if spec.OutlierMethod == "addall" {
			for i := 0; i < n; i++ {
				if flagged(i) {
					add(i, tval(i), flagged)
				}
			}
			break
		}
		best, bestT := -1, 0.0
		for i := 0; i < n; i++ {
			if !seen[i] && flagged(i) && math.Abs(tval(i)) > math.Abs(bestT) {
				best, bestT = i, tval(i)
			}
		}
		if best < 0 {
			break
		}
		add(best, bestT, flagged)
		work[best] = med
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Position < out[b].Position })
	return out
}

func lower(t string) string {
	switch t {
	case "AO":
		return "ao"
	case "LS":
		return "ls"
	}
	return "tc"
}

// outlierRegressor returns the AO pulse, LS step or TC decaying pulse
// (rate 0.7) at position p.
func outlierRegressor(typ string, p int) func(n int) ([]float64, error) {
	return func(n int) ([]float64, error) {
		out := make([]float64, n)
		for t := p; t < n; t++ {
			switch typ {
			case "AO":
				if t == p {
					out[t] = 1
				}
			case "LS":
				out[t] = 1
			default:
				out[t] = math.Pow(0.7, float64(t-p))
			}
		}
		return out, nil
	}
}

func buildRegressors(s *tsdata.Series, spec RegArimaSpec, outliers []Outlier) []regressor {
	var regs []regressor
	if spec.has("td") {
		regs = append(regs, regressor{"td", func(n int) ([]float64, error) { return tsdata.TradingDays(extend(s, n)) }})
	}
	if spec.has("easter") {
		regs = append(regs, regressor{"easter", func(n int) ([]float64, error) { return tsdata.Easter(extend(s, n), 8) }})
	}
	for _, o := range outliers {
		regs = append(regs, regressor{fmt.Sprintf("%s_%d", o.Type, o.Position), outlierRegressor(o.Type, o.Position)})
	}
	return regs
}

// differenceFor applies the order's regular and seasonal differences.
func differenceFor(x []float64, o tsdata.ArimaOrder) []float64 {
	w := stats.Diff(x, 1, o.D)
	if o.SD > 0 && w != nil {
		w = stats.Diff(w, o.Period, o.SD)
	}
	return w
}

type fittedRegression struct {
	regs  []regressor
	coefs []float64
}

// contribution returns Σ β_j X_j over the first n periods.
func (f *fittedRegression) contribution(n int) ([]float64, error) {
	out := make([]float64, n)
	for j, r := range f.regs {
		x, err := r.gen(n)
		if err != nil {
			return nil, err
		}
		for t := range out {
			out[t] += f.coefs[j] * x[t]
		}
	}
	return out, nil
}

// regress estimates the regression effects by OLS on the differenced
// series, the usual starting point for a RegARIMA fit. Regressors that
// cannot be built for the frequency or are degenerate after differencing
// are dropped.
func regress(y []float64, regs []regressor, order tsdata.ArimaOrder) (*fittedRegression, map[string]Effect) {
	n := len(y)
	var kept []regressor
	var cols [][]float64
	for _, r := range regs {
		x, err := r.gen(n)
		if err != nil {
			monitoring.Logf("x13: dropping regressor %s: %v", r.name, err)
			continue
		}
		dx := differenceFor(x, order)
		if len(dx) == 0 || stats.Variance(dx, 0) == 0 {
			continue
		}
		kept = append(kept, r)
		cols = append(cols, dx)
	}
	fit := &fittedRegression{}
	effects := map[string]Effect{}
	if len(kept) == 0 {
		return fit, effects
	}
	dy := differenceFor(y, order)
	withMean := order.D+order.SD == 0
	X := make([][]float64, len(dy))
	for t := range X {
		row := make([]float64, 0, len(cols)+1)
		if withMean {
			row = append(row, 1)
		}
		for _, c := range cols {
			row = append(row, c[t])
		}
		X[t] = row
	}
	res, err := stats.OLS(X, dy)
	if err != nil {
		monitoring.Logf("x13: regression skipped: %v", err)
		return fit, effects
	}
	off := 0
	if withMean {
		off = 1
	}
	fit.regs = kept
	fit.coefs = res.Coef[off:]
	for j, r := range kept {
		effects[r.name] = Effect{Coefficient: res.Coef[off+j], StdError: res.StdErr[off+j], TValue: res.TStat[off+j]}
	}
	return fit, effects
}

// RegArima transforms s, screens outliers, estimates the calendar and
// outlier regression and fits the ARIMA model to the linearised series.
func RegArima(s *tsdata.Series, spec RegArimaSpec) (*RegArimaResult, *fittedRegression, error) {
	for _, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, ErrMissingValues
		}
	}
	if s.Len() == 0 {
		return nil, nil, tsdata.ErrEmptySeries
	}
	y, transform := transformSeries(s.Values, spec.TransformFunction)
	outliers := screenOutliers(s, y, spec)
	order := spec.order(s.SeasonalPeriod())

	reg, effects := regress(y, buildRegressors(s, spec, outliers), order)
	contrib, err := reg.contribution(len(y))
	if err != nil {
		return nil, nil, err
	}
	lin := make([]float64, len(y))
	for t := range y {
		lin[t] = y[t] - contrib[t]
	}

	res := &RegArimaResult{
		RegressionEffects: effects,
		Outliers:          outliers,
		Transformation:    transform,
		Linearised:        lin,
	}
	fit, err := arima.Estimate(lin, order, arima.Options{Method: arima.MethodCSS, IncludeMean: true})
	if err == nil {
		res.Model = fit.Model
		res.Residuals = fit.Residuals
		return res, reg, nil
	}
	monitoring.Logf("x13: %s failed (%v), falling back to ARIMA(0,1,0)", order, err)
	diff := stats.Diff(lin, 1, 1)
	if diff == nil {
		diff = []float64{}
	}
	sigma2 := stats.Variance(diff, 0)
	if math.IsNaN(sigma2) || sigma2 <= 0 {
		sigma2 = math.SmallestNonzeroFloat64
	}
	res.Model = tsdata.ArimaModel{Order: tsdata.ArimaOrder{D: 1}, Sigma2: sigma2}
	res.Residuals = diff
	return res, reg, nil
}
