package stats

import (
	"fmt"
	"math"
)

// RunsResult is the Wald-Wolfowitz runs test about the median.
type RunsResult struct {
	Z            float64
	PValue       float64
	Runs         int
	ExpectedRuns float64
	NAboveMedian int
	NBelowMedian int
}

// RunsTest counts runs of values above/below the median (values equal to
// the median count as above).
func RunsTest(x []float64) (*RunsResult, error) {
	if len(x) < 2 {
		return nil, fmt.Errorf("%w: runs test needs at least 2 observations", ErrInsufficientData)
	}
	med := Median(x)
	var n1, n2 int
	runs := 1
	for i, v := range x {
		if v >= med {
			n1++
		} else {
			n2++
		}
		if i > 0 && (v >= med) != (x[i-1] >= med) {
			runs++
		}
	}
	a, b := float64(n1), float64(n2)
	res := &RunsResult{Runs: runs, NAboveMedian: n1, NBelowMedian: n2, PValue: 1}
	if n1+n2 > 0 {
		res.ExpectedRuns = 2*a*b/(a+b) + 1
	}
	if n1+n2 > 1 {
		variance := 2 * a * b * (2*a*b - a - b) / ((a + b) * (a + b) * (a + b - 1))
		if variance > 0 {
			res.Z = (float64(runs) - res.ExpectedRuns) / math.Sqrt(variance)
			res.PValue = NormalTwoSided(res.Z)
		}
	}
	return res, nil
}

// seasonalMatrix reshapes the first n_periods*period values into rows of
// one full cycle each.
func seasonalMatrix(x []float64, period int) ([][]float64, error) {
	if period < 2 {
		return nil, fmt.Errorf("seasonal period must be > 1, got %d", period)
	}
	nPeriods := len(x) / period
	if nPeriods < 2 {
		return nil, fmt.Errorf("%w: not enough data for seasonality test with period %d", ErrInsufficientData, period)
	}
	rows := make([][]float64, nPeriods)
	for i := range rows {
		rows[i] = x[i*period : (i+1)*period]
	}
	return rows, nil
}

// KruskalWallis tests whether the groups share a distribution. The H
// statistic is tie-corrected and referred to chi-square(k-1).
func KruskalWallis(groups [][]float64) (h, p float64, err error) {
	k := len(groups)
	if k < 2 {
		return 0, 0, fmt.Errorf("%w: need at least 2 groups", ErrInsufficientData)
	}
	var all []float64
	for _, g := range groups {
		if len(g) == 0 {
			return 0, 0, fmt.Errorf("%w: empty group", ErrInsufficientData)
		}
		all = append(all, g...)
	}
	ranks, ties := Rank(all)
	n := float64(len(all))
	var sum float64
	off := 0
	for _, g := range groups {
		var r float64
		for i := range g {
			r += ranks[off+i]
		}
		off += len(g)
		sum += r * r / float64(len(g))
	}
	h = 12/(n*(n+1))*sum - 3*(n+1)
	if c := tieCorrection(ties, n); c > 0 {
		h /= c
	}
	return h, ChiSquareSF(h, float64(k-1)), nil
}

func tieCorrection(ties []int, n float64) float64 {
	var t float64
	for _, g := range ties {
		tf := float64(g)
		t += tf*tf*tf - tf
	}
	return 1 - t/(n*n*n-n)
}

// Friedman ranks each block (row) across the k treatments (columns) and
// refers the tie-corrected statistic to chi-square(k-1).
func Friedman(blocks [][]float64) (chi2, p float64, err error) {
	nb := len(blocks)
	if nb < 2 {
		return 0, 0, fmt.Errorf("%w: need at least 2 blocks", ErrInsufficientData)
	}
	k := len(blocks[0])
	if k < 3 {
		return 0, 0, fmt.Errorf("%w: Friedman test needs at least 3 treatments", ErrInsufficientData)
	}
	colRanks := make([]float64, k)
	var tieSum float64
	for _, row := range blocks {
		if len(row) != k {
			return 0, 0, fmt.Errorf("ragged blocks")
		}
		r, ties := Rank(row)
		for j := range r {
			colRanks[j] += r[j]
		}
		for _, t := range ties {
			tf := float64(t)
			tieSum += tf*tf*tf - tf
		}
	}
	n, kf := float64(nb), float64(k)
	var ss float64
	for _, r := range colRanks {
		ss += r * r
	}
	chi2 = 12/(n*kf*(kf+1))*ss - 3*n*(kf+1)
	if c := 1 - tieSum/(n*kf*(kf*kf-1)); c > 0 {
		chi2 /= c
	}
	return chi2, ChiSquareSF(chi2, kf-1), nil
}

// QS is the seasonal Ljung-Box statistic over the autocorrelations at
// lags period, 2·period, ... up to 4·period.
func QS(x []float64, period int) (q, p float64, lags int, err error) {
	n := len(x)
	if period < 2 {
		return 0, 0, 0, fmt.Errorf("seasonal period must be > 1, got %d", period)
	}
	r := ACF(x, 4*period)
	for lag := period; lag < len(r); lag += period {
		q += r[lag] * r[lag] / float64(n-lag)
		lags++
	}
	if lags == 0 {
		return 0, 0, 0, fmt.Errorf("%w: series shorter than one seasonal period", ErrInsufficientData)
	}
	q *= float64(n) * float64(n+2)
	return q, ChiSquareSF(q, float64(lags)), lags, nil
}

// OneWayANOVA returns the F statistic and p-value for equal group means.
func OneWayANOVA(groups [][]float64) (f, p float64, dfb, dfw int, err error) {
	var all []float64
	k := 0
	for _, g := range groups {
		if len(g) > 0 {
			all = append(all, g...)
			k++
		}
	}
	n := len(all)
	if k < 2 || n <= k {
		return 0, 1, 0, 0, fmt.Errorf("%w: ANOVA needs at least 2 non-empty groups", ErrInsufficientData)
	}
	grand := Mean(all)
	var ssb, ssw float64
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		m := Mean(g)
		ssb += float64(len(g)) * (m - grand) * (m - grand)
		for _, v := range g {
			ssw += (v - m) * (v - m)
		}
	}
	dfb, dfw = k-1, n-k
	if ssw == 0 {
		if ssb == 0 {
			return 0, 1, dfb, dfw, nil
		}
		return math.MaxFloat64, 0, dfb, dfw, nil
	}
	f = (ssb / float64(dfb)) / (ssw / float64(dfw))
	return f, FSF(f, float64(dfb), float64(dfw)), dfb, dfw, nil
}

// SeasonalGroups splits x into one group per seasonal position.
func SeasonalGroups(x []float64, period int) [][]float64 {
	groups := make([][]float64, period)
	for i, v := range x {
		groups[i%period] = append(groups[i%period], v)
	}
	return groups
}

// Bartlett tests equal variances across groups. The statistic is
// chi-square with k-1 degrees of freedom.
func Bartlett(groups [][]float64) (stat, p float64, err error) {
	k := len(groups)
	if k < 2 {
		return 0, 1, fmt.Errorf("%w: Bartlett needs at least 2 groups", ErrInsufficientData)
	}
	var n, pooled, sumLog, sumInv float64
	for _, g := range groups {
		ni := float64(len(g))
		if ni < 2 {
			return 0, 1, fmt.Errorf("%w: every group needs at least 2 observations", ErrInsufficientData)
		}
		v := Variance(g, 1)
		if v <= 0 {
			return 0, 1, fmt.Errorf("%w: group variance is zero", ErrInsufficientData)
		}
		n += ni
		pooled += (ni - 1) * v
		sumLog += (ni - 1) * math.Log(v)
		sumInv += 1 / (ni - 1)
	}
	kf := float64(k)
	pooled /= n - kf
	num := (n-kf)*math.Log(pooled) - sumLog
	den := 1 + (sumInv-1/(n-kf))/(3*(kf-1))
	stat = num / den
	return stat, ChiSquareSF(stat, kf-1), nil
}
