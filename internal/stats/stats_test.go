package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func whiteNoise(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func normalQuantiles(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = distuv.UnitNormal.Quantile((float64(i) + 0.5) / float64(n))
	}
	return out
}

func seasonalSeries(cycles, period int) []float64 {
	out := make([]float64, cycles*period)
	for i := range out {
		out[i] = 100 + 0.2*float64(i) + 10*math.Sin(2*math.Pi*float64(i%period)/float64(period))
	}
	return out
}

func TestDescriptiveBasics(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}

	assert.Equal(t, 3.0, Mean(x))
	assert.InDelta(t, 2.5, Variance(x, 1), 1e-12)
	assert.InDelta(t, 2.0, Variance(x, 0), 1e-12)
	assert.Equal(t, 3.0, Median(x))
	assert.Equal(t, 2.0, Percentile(x, 25))
	assert.Equal(t, 1.0, MAD(x))
	assert.InDelta(t, 0, Skewness(x), 1e-12)
	assert.True(t, math.IsNaN(Mean(nil)))
	assert.Equal(t, 3, Unique([]float64{1, 1, 2, 3, 3}))
}

func TestDescribe(t *testing.T) {
	d, err := Describe([]float64{2, 4, 4, 4, 5, 5, 7, 9}, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, d.Count)
	assert.Equal(t, 5.0, d.Mean)
	assert.Equal(t, 2.0, d.Min)
	assert.Equal(t, 9.0, d.Max)
	assert.Contains(t, d.Percentiles, "p25")
	assert.Contains(t, d.Percentiles, "p75")
	assert.InDelta(t, 4.5, d.Percentiles["p50"], 1e-12)
	require.NotNil(t, d.CV)
	assert.InDelta(t, d.Std/5, *d.CV, 1e-12)

	zero, err := Describe([]float64{-1, 1}, []float64{10, 90})
	require.NoError(t, err)
	assert.Nil(t, zero.CV)
	assert.Contains(t, zero.Percentiles, "p10")

	_, err = Describe(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyData)

	_, err = Describe([]float64{1}, []float64{120})
	assert.Error(t, err)
}

func TestRank(t *testing.T) {
	ranks, ties := Rank([]float64{10, 20, 20, 5})
	assert.Equal(t, []float64{2, 3.5, 3.5, 1}, ranks)
	assert.Equal(t, []int{2}, ties)
}

func TestACFAndPACF(t *testing.T) {
	x := seasonalSeries(10, 12)
	r := ACF(x, 24)
	require.Len(t, r, 25)
	assert.Equal(t, 1.0, r[0])
	assert.Greater(t, r[12], r[6])

	p := PACF(x, 5)
	require.Len(t, p, 6)
	assert.Equal(t, 1.0, p[0])
	assert.InDelta(t, r[1], p[1], 1e-12)

	constant := ACF([]float64{3, 3, 3, 3}, 2)
	assert.Equal(t, []float64{1, 0, 0}, constant)
}

func TestLjungBox(t *testing.T) {
	lb, err := LjungBox(seasonalSeries(10, 12), 10, 0)
	require.NoError(t, err)
	assert.Less(t, lb.PValue, 0.05)
	assert.Equal(t, 10, lb.Lags)

	bp, err := BoxPierce(seasonalSeries(10, 12), 10, 0)
	require.NoError(t, err)
	assert.Less(t, bp.Statistic, lb.Statistic)
}

func TestOLS(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 20; i++ {
		xi := float64(i)
		X = append(X, []float64{1, xi})
		y = append(y, 2+3*xi+0.01*math.Sin(xi))
	}
	fit, err := OLS(X, y)
	require.NoError(t, err)
	assert.InDelta(t, 2, fit.Coef[0], 0.05)
	assert.InDelta(t, 3, fit.Coef[1], 0.01)
	assert.Equal(t, 20, fit.NObs)
	assert.Equal(t, 2, fit.K)

	a, b := LinearTrend([]float64{1, 3, 5, 7})
	assert.InDelta(t, 1, a, 1e-12)
	assert.InDelta(t, 2, b, 1e-12)

	_, err = OLS([][]float64{{1, 2}}, []float64{1})
	assert.Error(t, err)
}

func TestNormalityTest(t *testing.T) {
	t.Run("normal sample", func(t *testing.T) {
		for _, method := range []string{"shapiro", "jarque_bera", "anderson"} {
			res, err := NormalityTest(normalQuantiles(60), method)
			require.NoError(t, err, method)
			assert.False(t, res.RejectNull, method)
			assert.Contains(t, res.Interpretation, "appears to be normally distributed", method)
			assert.NotEmpty(t, res.AdditionalInfo["method"])
		}
	})

	t.Run("skewed sample", func(t *testing.T) {
		q := normalQuantiles(60)
		skewed := make([]float64, len(q))
		for i, v := range q {
			skewed[i] = math.Exp(1.5 * v)
		}
		for _, method := range []string{"shapiro", "jarque_bera", "anderson"} {
			res, err := NormalityTest(skewed, method)
			require.NoError(t, err, method)
			assert.True(t, res.RejectNull, method)
			assert.Contains(t, res.Interpretation, "Data is not normally distributed", method)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := NormalityTest(normalQuantiles(10), "lilliefors")
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})
}

func TestAndersonDarlingCriticalValues(t *testing.T) {
	res, err := AndersonDarling(normalQuantiles(50))
	require.NoError(t, err)
	require.Len(t, res.CriticalValues, 5)
	assert.Equal(t, []float64{15, 10, 5, 2.5, 1}, res.SignificanceLevels)
	for i := 1; i < len(res.CriticalValues); i++ {
		assert.Greater(t, res.CriticalValues[i], res.CriticalValues[i-1])
	}
}

func TestStationarityTest(t *testing.T) {
	noise := whiteNoise(200, 7)
	trending := make([]float64, 120)
	for i := range trending {
		trending[i] = float64(i) + math.Sin(float64(i))
	}

	t.Run("adf on white noise", func(t *testing.T) {
		res, err := StationarityTest(noise, "adf", RegConstant, -1)
		require.NoError(t, err)
		assert.True(t, res.IsStationary)
		assert.True(t, res.RejectNull)
		assert.Contains(t, res.Interpretation, "Data is stationary")
		assert.Contains(t, res.AdditionalInfo, "critical_values")
		assert.Contains(t, res.AdditionalInfo, "lags_used")
	})

	t.Run("pp on white noise", func(t *testing.T) {
		res, err := StationarityTest(noise, "pp", RegConstant, -1)
		require.NoError(t, err)
		assert.True(t, res.IsStationary)
	})

	t.Run("kpss on a trend", func(t *testing.T) {
		res, err := StationarityTest(trending, "kpss", RegConstant, -1)
		require.NoError(t, err)
		assert.True(t, res.RejectNull)
		assert.False(t, res.IsStationary)
		assert.Equal(t, 0.01, res.PValue)
		assert.Equal(t, "Stationary", res.AdditionalInfo["null_hypothesis"])
		assert.Contains(t, res.Interpretation, "non-stationary")
	})

	t.Run("constant series", func(t *testing.T) {
		flat := make([]float64, 12)
		for i := range flat {
			flat[i] = 5
		}
		for _, method := range []string{"adf", "kpss", "pp"} {
			_, err := StationarityTest(flat, method, RegConstant, -1)
			assert.ErrorIs(t, err, ErrInsufficientData, method)
		}
	})

	t.Run("kpss on an exact trend", func(t *testing.T) {
		line := make([]float64, 30)
		for i := range line {
			line[i] = 2 * float64(i)
		}
		_, err := KPSS(line, RegConstTrend, -1)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("kpss rejects other regressions", func(t *testing.T) {
		_, err := StationarityTest(noise, "kpss", RegNone, -1)
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})
}

func TestMacKinnon(t *testing.T) {
	crit := MacKinnonCrit(RegConstant, 100000)
	assert.InDelta(t, -3.43, crit["1%"], 0.01)
	assert.InDelta(t, -2.86, crit["5%"], 0.01)
	assert.Equal(t, 1.0, MacKinnonP(5, RegConstant))
	assert.Equal(t, 0.0, MacKinnonP(-30, RegConstant))
	assert.InDelta(t, 0.05, MacKinnonP(-2.86, RegConstant), 0.01)
}

func TestRandomnessTest(t *testing.T) {
	alternating := make([]float64, 40)
	for i := range alternating {
		alternating[i] = float64(i % 2)
	}
	res, err := RandomnessTest(alternating, "runs", 0)
	require.NoError(t, err)
	assert.True(t, res.RejectNull)
	assert.Equal(t, 40, res.AdditionalInfo["n_runs"])
	assert.Contains(t, res.Interpretation, "non-random patterns")

	lb, err := RandomnessTest(seasonalSeries(10, 12), "ljung_box", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, lb.AdditionalInfo["lags"])
	assert.True(t, lb.RejectNull)

	_, err = RandomnessTest(alternating, "wald", 0)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestSeasonalityTest(t *testing.T) {
	t.Run("auto picks kruskal for long series", func(t *testing.T) {
		res, err := SeasonalityTest(seasonalSeries(12, 12), 12, "auto")
		require.NoError(t, err)
		assert.Equal(t, "Kruskal-Wallis", res.AdditionalInfo["method"])
		assert.True(t, res.RejectNull)
		assert.Contains(t, res.Interpretation, "Significant seasonality detected")
	})

	t.Run("auto picks friedman for short series", func(t *testing.T) {
		res, err := SeasonalityTest(seasonalSeries(5, 12), 12, "")
		require.NoError(t, err)
		assert.Equal(t, "Friedman", res.AdditionalInfo["method"])
		assert.Equal(t, 5, res.AdditionalInfo["n_periods"])
		assert.True(t, res.RejectNull)
	})

	t.Run("qs", func(t *testing.T) {
		res, err := SeasonalityTest(seasonalSeries(8, 12), 12, "qs")
		require.NoError(t, err)
		assert.True(t, res.RejectNull)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := SeasonalityTest(seasonalSeries(1, 12), 12, "auto")
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
}

func TestFitDistributions(t *testing.T) {
	q := normalQuantiles(80)
	positive := make([]float64, len(q))
	for i, v := range q {
		positive[i] = 10 + v
	}
	fits, err := FitDistributions(positive, Distributions)
	require.NoError(t, err)
	require.NotEmpty(t, fits)
	assert.True(t, fits[0].BestFit)
	for i := 1; i < len(fits); i++ {
		assert.False(t, fits[i].BestFit)
		assert.LessOrEqual(t, fits[i-1].Goodness.AIC, fits[i].Goodness.AIC)
	}

	normal, err := FitDistribution(positive, "normal")
	require.NoError(t, err)
	assert.InDelta(t, 10, normal.Parameters["loc"], 1e-9)
	assert.Greater(t, normal.Goodness.KSPValue, 0.5)

	// beta needs (0, 1) data, so only beta fails here and it is skipped
	for _, f := range fits {
		assert.NotEqual(t, "beta", f.Distribution)
	}

	_, err = FitDistributions([]float64{-1, -2, -3}, []string{"gamma", "lognormal"})
	assert.ErrorIs(t, err, ErrNoDistributionFit)
}

func TestGammaAndBetaFits(t *testing.T) {
	g := distuv.Gamma{Alpha: 3, Beta: 0.5}
	var gx []float64
	for i := 0; i < 200; i++ {
		gx = append(gx, g.Quantile((float64(i)+0.5)/200))
	}
	fit, err := FitDistribution(gx, "gamma")
	require.NoError(t, err)
	assert.InDelta(t, 3, fit.Parameters["a"], 0.3)
	assert.InDelta(t, 2, fit.Parameters["scale"], 0.3)

	b := distuv.Beta{Alpha: 2, Beta: 5}
	var bx []float64
	for i := 0; i < 200; i++ {
		bx = append(bx, b.Quantile((float64(i)+0.5)/200))
	}
	bfit, err := FitDistribution(bx, "beta")
	require.NoError(t, err)
	assert.InDelta(t, 2, bfit.Parameters["a"], 0.3)
	assert.InDelta(t, 5, bfit.Parameters["b"], 0.8)
}

func TestDifferencing(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3}, Diff([]float64{1, 2, 4, 7}, 1, 1))
	assert.Equal(t, []float64{1, 1}, Diff([]float64{1, 2, 4, 7}, 1, 2))
	assert.Equal(t, []float64{3, 5}, Diff([]float64{1, 2, 4, 7}, 2, 1))
	assert.Nil(t, Diff([]float64{1}, 1, 1))

	trend := make([]float64, 100)
	for i := range trend {
		trend[i] = float64(i) + math.Sin(float64(i))
	}
	assert.GreaterOrEqual(t, NDiffs(trend, 2), 1)
	periodic := make([]float64, 100)
	for i := range periodic {
		periodic[i] = math.Sin(2 * float64(i))
	}
	assert.Equal(t, 0, NDiffs(periodic, 2))

	assert.Greater(t, SeasonalStrength(seasonalSeries(8, 12), 12), 0.9)
	assert.Equal(t, 1, NSDiffs(seasonalSeries(8, 12), 12, 1))
	assert.Equal(t, 0, NSDiffs(seasonalSeries(8, 12), 1, 1))
}

func TestCentredMovingAverage(t *testing.T) {
	ma := CentredMovingAverage([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(ma[0]))
	assert.Equal(t, 2.0, ma[1])
	assert.Equal(t, 4.0, ma[3])

	even := CentredMovingAverage([]float64{1, 2, 3, 4, 5, 6}, 4)
	assert.InDelta(t, 3, even[2], 1e-12)
	assert.True(t, math.IsNaN(even[1]))
}

func TestPeriodogramPeaks(t *testing.T) {
	x := make([]float64, 120)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * float64(i) / 12)
	}
	freqs, power := Periodogram(x)
	require.Len(t, freqs, 60)
	peaks := Peaks(freqs, power, 0, 1)
	require.Len(t, peaks, 1)
	assert.InDelta(t, 1.0/12, peaks[0].Frequency, 1e-12)
	assert.InDelta(t, 12, peaks[0].Period, 1e-9)
}

func TestOneWayANOVA(t *testing.T) {
	f, p, dfb, dfw, err := OneWayANOVA([][]float64{{1, 2, 3}, {10, 11, 12}})
	require.NoError(t, err)
	assert.Greater(t, f, 100.0)
	assert.Less(t, p, 0.01)
	assert.Equal(t, 1, dfb)
	assert.Equal(t, 4, dfw)

	_, _, _, _, err = OneWayANOVA([][]float64{{1}})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestBartlett(t *testing.T) {
	same := [][]float64{{1, 2, 3, 4}, {11, 12, 13, 14}}
	stat, p, err := Bartlett(same)
	require.NoError(t, err)
	assert.InDelta(t, 0, stat, 1e-9)
	assert.InDelta(t, 1, p, 1e-9)

	stat, p, err = Bartlett([][]float64{{1, 2, 3, 4, 5, 6}, {0, 100, -100, 200, -200, 50}})
	require.NoError(t, err)
	assert.Greater(t, stat, 10.0)
	assert.Less(t, p, 0.01)

	_, _, err = Bartlett([][]float64{{1, 1}, {2, 3}})
	assert.ErrorIs(t, err, ErrInsufficientData)
}
