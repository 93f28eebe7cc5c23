package tramoseats

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// ErrUnknownTest is returned for a diagnostic name other than seasonality,
// residuals or spectral.
var ErrUnknownTest = errors.New("unknown diagnostic test")

// DefaultTests are run when a request names none.
var DefaultTests = []string{"seasonality", "residuals", "spectral"}

// TestOutcome is a single named test. Statistic and PValue are nil when
// there is not enough data, in which case Note says so.
type TestOutcome struct {
	Test        string   `json:"test"`
	Statistic   *float64 `json:"statistic"`
	PValue      *float64 `json:"p_value"`
	Significant bool     `json:"significant"`
	Note        string   `json:"note,omitempty"`
	Lags        int      `json:"lags,omitempty"`
}

func outcome(name string, stat, p float64) TestOutcome {
	return TestOutcome{Test: name, Statistic: &stat, PValue: &p, Significant: p < stats.Significance}
}

func insufficient(name string) TestOutcome {
	return TestOutcome{Test: name, Note: "Insufficient data"}
}

type SeasonalityTests struct {
	Stable TestOutcome `json:"stable_seasonality"`
	Moving TestOutcome `json:"moving_seasonality"`
}

type ResidualTests struct {
	Normality        TestOutcome `json:"normality"`
	Independence     TestOutcome `json:"independence"`
	Homoscedasticity TestOutcome `json:"homoscedasticity"`
}

type SpectralAnalysis struct {
	SignificantFrequencies []stats.SpectralPeak `json:"significant_frequencies"`
	TotalPower             float64              `json:"total_power"`
	PeakFrequency          float64              `json:"peak_frequency"`
}

// QualityMeasures are the M-statistics and their weighted summary Q. Each
// M is a ratio where 1 is neutral.
type QualityMeasures struct {
	M1 float64 `json:"m1"`
	M2 float64 `json:"m2"`
	M3 float64 `json:"m3"`
	M4 float64 `json:"m4"`
	M5 float64 `json:"m5"`
	M6 float64 `json:"m6"`
	M7 float64 `json:"m7"`
	Q  float64 `json:"q"`
}

// DiagnosticsResult is the outcome of Diagnose.
type DiagnosticsResult struct {
	SeasonalityTests *SeasonalityTests `json:"seasonality_tests"`
	ResidualTests    *ResidualTests    `json:"residual_tests"`
	SpectralAnalysis *SpectralAnalysis `json:"spectral_analysis"`
	QualityMeasures  QualityMeasures   `json:"quality_measures"`
}

// Diagnose runs the named tests on a processed series. Quality measures
// are always computed.
func Diagnose(s *tsdata.Series, tramo *TramoResult, seats *SeatsResult, tests []string) (*DiagnosticsResult, error) {
	if len(tests) == 0 {
		tests = DefaultTests
	}
	out := &DiagnosticsResult{}
	for _, t := range tests {
		switch t {
		case "seasonality":
			out.SeasonalityTests = SeasonalityChecks(seats.Seasonal.Values, s.SeasonalPeriod())
		case "residuals":
			out.ResidualTests = ResidualChecks(tramo.Residuals)
		case "spectral":
			out.SpectralAnalysis = Spectrum(seats.SeasonallyAdjusted)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownTest, t)
		}
	}
	out.QualityMeasures = Quality(s.Values, seats.SeasonallyAdjusted, seats.Seasonal.Values, seats.Trend.Values, s.SeasonalPeriod())
	return out, nil
}

// SeasonalityChecks tests the seasonal component for stable seasonality
// (one-way ANOVA over positions in complete years) and moving seasonality
// (variance ratio of the last to the first third).
func SeasonalityChecks(seasonal []float64, period int) *SeasonalityTests {
	out := &SeasonalityTests{
		Stable: insufficient("F-test for stable seasonality"),
		Moving: insufficient("Moving seasonality test"),
	}
	if period < 2 {
		return out
	}
	n := len(seasonal)
	if years := n / period; years >= 2 {
		groups := stats.SeasonalGroups(seasonal[:years*period], period)
		if f, p, _, _, err := stats.OneWayANOVA(groups); err == nil {
			out.Stable = outcome(out.Stable.Test, f, p)
		}
	}
	if n >= 3*period {
		third := n / 3
		first, last := seasonal[:third], seasonal[n-third:]
		v1, v2 := stats.Variance(first, 0), stats.Variance(last, 0)
		if v1 > 0 {
			f := v2 / v1
			p := stats.FSF(f, float64(len(last)-1), float64(len(first)-1))
			out.Moving = outcome(out.Moving.Test, f, p)
		}
	}
	return out
}

// ResidualChecks runs Jarque-Bera, Ljung-Box with min(10, n/5) lags and a
// Bartlett test on the squared residuals split into three blocks.
func ResidualChecks(resid []float64) *ResidualTests {
	out := &ResidualTests{
		Normality:        insufficient("Jarque-Bera"),
		Independence:     insufficient("Ljung-Box"),
		Homoscedasticity: insufficient("Bartlett"),
	}
	n := len(resid)
	if jb, p, err := stats.JarqueBera(resid); err == nil {
		out.Normality = outcome("Jarque-Bera", jb, p)
	}
	if lags := min(10, n/5); lags >= 1 {
		if lb, err := stats.LjungBox(resid, lags, 0); err == nil {
			out.Independence = outcome("Ljung-Box", lb.Statistic, lb.PValue)
			out.Independence.Lags = lags
		}
	}
	if size := n / 3; size >= 2 {
		sq := make([]float64, n)
		for i, e := range resid {
			sq[i] = e * e
		}
		blocks := [][]float64{sq[:size], sq[size : 2*size], sq[2*size : 3*size]}
		if b, p, err := stats.Bartlett(blocks); err == nil {
			out.Homoscedasticity = outcome("Bartlett", b, p)
		}
	}
	return out
}

// Spectrum reports periodogram ordinates of the adjusted series that are
// local maxima above twice the mean power.
func Spectrum(sa []float64) *SpectralAnalysis {
	freqs, power := stats.Periodogram(sa)
	out := &SpectralAnalysis{SignificantFrequencies: []stats.SpectralPeak{}}
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
	out.TotalPower = total
	if peaks := stats.Peaks(freqs, power, 2*total/float64(len(power)), 5); peaks != nil {
		out.SignificantFrequencies = peaks
	}
	return out
}

// qualityWeights weight M1..M7 in Q.
var qualityWeights = [7]float64{0.15, 0.15, 0.10, 0.10, 0.10, 0.20, 0.20}

func ratio(num, den float64) float64 {
	if den == 0 || math.IsNaN(num) || math.IsNaN(den) {
		return 0
	}
	return num / den
}

func diffLag(x []float64, lag int) []float64 {
	return stats.Diff(x, lag, 1)
}

func absMean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += math.Abs(v)
	}
	return s / float64(len(x))
}

// Quality computes M1..M7 and Q. Year-over-year measures use the seasonal
// period, or 12 when the series has none.
func Quality(original, sa, seasonal, trend []float64, period int) QualityMeasures {
	if period < 2 {
		period = 12
	}
	irregular := make([]float64, len(original))
	for i := range irregular {
		irregular[i] = original[i] - sa[i]
	}
	v := func(x []float64) float64 { return stats.Variance(x, 0) }

	var m QualityMeasures
	m.M1 = ratio(v(irregular), v(original))
	m.M2 = ratio(v(diffLag(seasonal, 1)), v(seasonal))
	m.M3 = ratio(absMean(diffLag(original, 1)), absMean(diffLag(sa, 1)))
	m.M4, m.M6 = 1, 1
	if len(original) > period {
		m.M4 = ratio(v(diffLag(seasonal, period)), v(seasonal))
		m.M6 = ratio(v(diffLag(irregular, period)), v(irregular))
	}
	m.M5 = cyclicalDominance(sa, trend)
	m.M7 = 1
	if len(sa) >= 3 {
		m.M7 = ratio(v(diffLag(sa, 1)), v(sa))
	}

	vals := [7]float64{m.M1, m.M2, m.M3, m.M4, m.M5, m.M6, m.M7}
	for i, w := range qualityWeights {
		m.Q += w / (1 + math.Abs(vals[i]-1))
	}
	return m
}

// cyclicalDominance is the X-11 M5 measure (MCD-0.5)/5, where MCD is the
// smallest span k at which the mean absolute k-step change of the trend
// exceeds that of the irregular part of the adjusted series.
func cyclicalDominance(sa, trend []float64) float64 {
	n := min(len(sa), len(trend))
	if n < 3 {
		return 1
	}
	irr := make([]float64, n)
	for i := 0; i < n; i++ {
		irr[i] = sa[i] - trend[i]
	}
	mcd := 6
	for k := 1; k <= 6 && k < n; k++ {
		if absMean(diffLag(trend[:n], k)) > absMean(diffLag(irr, k)) {
			mcd = k
			break
		}
	}
	return (float64(mcd) - 0.5) / 5
}
