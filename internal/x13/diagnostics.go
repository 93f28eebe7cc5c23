package x13

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// ErrUnknownTest is returned for a diagnostic other than spectrum,
// stability, residuals or sliding_spans.
var ErrUnknownTest = errors.New("unknown diagnostic test")

// DefaultTests are run when a request names none.
var DefaultTests = []string{"spectrum", "stability", "residuals", "sliding_spans"}

type SpectrumDiagnostics struct {
	PeakFrequency       float64              `json:"peak_frequency"`
	SeasonalPower       float64              `json:"seasonal_frequency_power"`
	ResidualSeasonality bool                 `json:"residual_seasonality"`
	Peaks               []stats.SpectralPeak `json:"peaks"`
}

type StabilityDiagnostics struct {
	VarianceRatio      *float64 `json:"variance_ratio,omitempty"`
	VariancePValue     *float64 `json:"variance_p_value,omitempty"`
	VarianceStable     bool     `json:"variance_stable"`
	PatternCorrelation *float64 `json:"seasonal_pattern_correlation,omitempty"`
	PatternStable      bool     `json:"seasonal_pattern_stable"`
	Note               string   `json:"note,omitempty"`
}

// PValueTest is a statistic with its p-value.
type PValueTest struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	Lags      int     `json:"lags,omitempty"`
	Passed    bool    `json:"passed"`
}

type ResidualDiagnostics struct {
	Normality    *PValueTest `json:"normality,omitempty"`
	LjungBox     *PValueTest `json:"ljung_box,omitempty"`
	ARCH         *PValueTest `json:"arch,omitempty"`
	Mean         float64     `json:"mean"`
	Std          float64     `json:"std"`
	Observations int         `json:"n_observations"`
}

// SlidingSpans compares adjustments over overlapping spans. The Max*
// fields are the largest percentage differences between spans.
type SlidingSpans struct {
	Spans          int     `json:"n_spans"`
	SpanLength     int     `json:"span_length"`
	MaxSeasonal    float64 `json:"max_seasonal_factor_difference"`
	MaxAdjusted    float64 `json:"max_adjusted_difference"`
	MaxTrend       float64 `json:"max_trend_difference"`
	MaxChange      float64 `json:"max_period_change_difference"`
	Classification string  `json:"classification"`
	Stable         bool    `json:"stable"`
	Note           string  `json:"note,omitempty"`
}

type SummaryStatistics struct {
	AIC               float64  `json:"aic"`
	BIC               float64  `json:"bic"`
	Sigma2            float64  `json:"sigma2"`
	Outliers          int      `json:"n_outliers"`
	OutlierPercentage float64  `json:"outlier_percentage"`
	SeasonalPeak      *float64 `json:"seasonal_peak_value"`
}

// DiagnosticsResult is the outcome of Diagnose.
type DiagnosticsResult struct {
	Spectrum     *SpectrumDiagnostics  `json:"spectrum,omitempty"`
	Stability    *StabilityDiagnostics `json:"stability,omitempty"`
	Residuals    *ResidualDiagnostics  `json:"residuals,omitempty"`
	SlidingSpans *SlidingSpans         `json:"sliding_spans,omitempty"`
	Summary      SummaryStatistics     `json:"summary_statistics"`
}

// Diagnose runs the named tests against a processed result. s is the
// spanned series the result was computed from.
func Diagnose(s *tsdata.Series, r *Result, tests []string) (*DiagnosticsResult, error) {
	if len(tests) == 0 {
		tests = DefaultTests
	}
	seasonal, sa, _, _ := r.components()
	period := s.SeasonalPeriod()
	out := &DiagnosticsResult{}
	for _, t := range tests {
		switch t {
		case "spectrum":
			out.Spectrum = SpectrumCheck(sa, period)
		case "stability":
			out.Stability = StabilityCheck(sa, seasonal, period)
		case "residuals":
			out.Residuals = ResidualCheck(r.RegArima.Residuals, r.Specification.CheckMaxLag)
		case "sliding_spans":
			out.SlidingSpans = SlidingSpansCheck(s, r.Specification)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownTest, t)
		}
	}

	m := r.RegArima.Model
	out.Summary = SummaryStatistics{AIC: m.AIC, BIC: m.BIC, Sigma2: m.Sigma2, Outliers: len(r.RegArima.Outliers)}
	if n := s.Len(); n > 0 {
		out.Summary.OutlierPercentage = 100 * float64(len(r.RegArima.Outliers)) / float64(n)
	}
	if len(seasonal) > 0 {
		peak := math.Inf(-1)
		for _, v := range seasonal {
			peak = math.Max(peak, v)
		}
		out.Summary.SeasonalPeak = &peak
	}
	return out, nil
}

// SpectrumCheck looks for residual seasonality in the adjusted series:
// power at the seasonal frequencies more than three times the mean.
func SpectrumCheck(sa []float64, period int) *SpectrumDiagnostics {
	freqs, power := stats.Periodogram(sa)
	out := &SpectrumDiagnostics{Peaks: []stats.SpectralPeak{}}
	if len(power) == 0 {
		return out
	}
	var total, best float64
	for i, p := range power {
		total += p
		if p > best {
			best = p
			out.PeakFrequency = freqs[i]
		}
	}
	mean := total / float64(len(power))
	if period > 1 {
		for k := 1; k <= period/2; k++ {
			target := float64(k) / float64(period)
			i := nearest(freqs, target)
			out.SeasonalPower += power[i]
		}
		out.ResidualSeasonality = out.SeasonalPower > 3*mean
	}
	if peaks := stats.Peaks(freqs, power, 2*mean, 5); peaks != nil {
		out.Peaks = peaks
	}
	return out
}

func nearest(freqs []float64, f float64) int {
	best := 0
	for i, v := range freqs {
		if math.Abs(v-f) < math.Abs(freqs[best]-f) {
			best = i
		}
	}
	return best
}

// StabilityCheck compares the variance of the two halves of the adjusted
// series with a two-sided F test and correlates the seasonal pattern of
// the first and last complete years.
func StabilityCheck(sa, seasonal []float64, period int) *StabilityDiagnostics {
	n := len(sa)
	out := &StabilityDiagnostics{}
	if n < 24 {
		out.Note = "Insufficient data for stability analysis"
		return out
	}
	half := n / 2
	first, second := stats.Diff(sa[:half], 1, 1), stats.Diff(sa[half:], 1, 1)
	v1, v2 := stats.Variance(first, 1), stats.Variance(second, 1)
	if v1 > 0 && v2 > 0 {
		f := v2 / v1
		p := stats.FSF(f, float64(len(second)-1), float64(len(first)-1))
		p = 2 * math.Min(p, 1-p)
		out.VarianceRatio, out.VariancePValue = &f, &p
		out.VarianceStable = p >= stats.Significance
	}
	if period > 1 && len(seasonal) >= 2*period {
		c := stats.Correlation(seasonal[:period], seasonal[len(seasonal)-period:])
		if !math.IsNaN(c) {
			out.PatternCorrelation = &c
			out.PatternStable = c > 0.8
		}
	}
	return out
}

// ResidualCheck runs Jarque-Bera, Ljung-Box with min(maxLag, n-1) lags and
// an ARCH check (Ljung-Box on squared residuals, min(12, n/4) lags).
func ResidualCheck(resid []float64, maxLag int) *ResidualDiagnostics {
	n := len(resid)
	out := &ResidualDiagnostics{Observations: n}
	if n == 0 {
		return out
	}
	out.Mean = stats.Mean(resid)
	out.Std = stats.Std(resid, 0)
	if jb, p, err := stats.JarqueBera(resid); err == nil {
		out.Normality = &PValueTest{Statistic: jb, PValue: p, Passed: p >= stats.Significance}
	}
	if lags := min(maxLag, n-1); lags >= 1 {
		if lb, err := stats.LjungBox(resid, lags, 0); err == nil {
			out.LjungBox = &PValueTest{Statistic: lb.Statistic, PValue: lb.PValue, Lags: lags, Passed: lb.PValue >= stats.Significance}
		}
	}
	if lags := min(12, n/4); lags >= 1 {
		sq := make([]float64, n)
		for i, e := range resid {
			sq[i] = e * e
		}
		if lb, err := stats.LjungBox(sq, lags, 0); err == nil {
			out.ARCH = &PValueTest{Statistic: lb.Statistic, PValue: lb.PValue, Lags: lags, Passed: lb.PValue >= stats.Significance}
		}
	}
	return out
}

// SlidingSpansCheck re-runs the adjustment on four spans offset by one
// year and reports the largest percentage disagreement at shared dates.
func SlidingSpansCheck(s *tsdata.Series, spec Specification) *SlidingSpans {
	const spans = 4
	period := s.SeasonalPeriod()
	n := s.Len()
	length := n - (spans-1)*period
	out := &SlidingSpans{Spans: spans, SpanLength: length, Classification: "D"}
	if period < 2 || length < 3*period {
		out.Note = "Insufficient data for sliding spans analysis"
		out.Spans, out.SpanLength = 0, 0
		return out
	}
	spec.SeriesSpan = nil
	type run struct {
		offset             int
		seasonal, sa, trnd []float64
		multiplicative     bool
	}
	var runs []run
	for k := 0; k < spans; k++ {
		off := k * period
		sub := s.WithValues(slices.Clone(s.Values[off:off+length]), s.PeriodAt(off))
		r, _, err := Process(sub, spec)
		if err != nil {
			out.Note = fmt.Sprintf("span %d failed: %v", k+1, err)
			return out
		}
		seasonal, sa, trend, mult := r.components()
		runs = append(runs, run{off, seasonal, sa, trend, mult})
	}

	pct := func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return 100 * math.Abs(a-b) / math.Abs(b)
	}
	level := math.Abs(stats.Mean(s.Values))
	for t := 0; t < n; t++ {
		var seas, sa, tr, chg []float64
		for _, r := range runs {
			i := t - r.offset
			if i < 0 || i >= length {
				continue
			}
			seas = append(seas, r.seasonal[i])
			sa = append(sa, r.sa[i])
			tr = append(tr, r.trnd[i])
			if i > 0 {
				chg = append(chg, pct(r.sa[i], r.sa[i-1]))
			}
		}
		if runs[0].multiplicative {
			out.MaxSeasonal = math.Max(out.MaxSeasonal, spread(seas, pct))
		} else if level > 0 {
			// Additive factors sit around zero, so compare them to the series level.
			out.MaxSeasonal = math.Max(out.MaxSeasonal, 100*rangeOf(seas)/level)
		}
		out.MaxAdjusted = math.Max(out.MaxAdjusted, spread(sa, pct))
		out.MaxTrend = math.Max(out.MaxTrend, spread(tr, pct))
		out.MaxChange = math.Max(out.MaxChange, rangeOf(chg))
	}
	mean := (out.MaxSeasonal + out.MaxAdjusted + out.MaxTrend + out.MaxChange) / 4
	switch {
	case mean < 1:
		out.Classification = "A"
	case mean < 2:
		out.Classification = "B"
	case mean < 3:
		out.Classification = "C"
	}
	out.Stable = out.Classification != "D"
	return out
}

// spread is the percentage difference between the largest and smallest
// of the values at one date.
func spread(v []float64, pct func(a, b float64) float64) float64 {
	if len(v) < 2 {
		return 0
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	return pct(hi, lo)
}

func rangeOf(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	return hi - lo
}
