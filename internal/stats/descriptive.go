// Package stats implements the statistical building blocks used across the
// analysis services: descriptive moments, autocorrelation, hypothesis tests,
// distribution fitting, regression and spectral estimates.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrEmptyData        = errors.New("data cannot be empty")
	ErrInsufficientData = errors.New("insufficient data")
	ErrUnknownMethod    = errors.New("unknown method")
)

// Mean returns the arithmetic mean of x.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

// Variance returns the variance of x with ddof degrees of freedom removed
// from the denominator.
func Variance(x []float64, ddof int) float64 {
	n := len(x)
	if n-ddof <= 0 {
		return math.NaN()
	}
	m := Mean(x)
	var ss float64
	for _, v := range x {
		d := v - m
		ss += d * d
	}
	return ss / float64(n-ddof)
}

// Std returns the standard deviation of x with ddof degrees of freedom.
func Std(x []float64, ddof int) float64 {
	return math.Sqrt(Variance(x, ddof))
}

// Percentile returns the q-th percentile (0..100) of x using linear
// interpolation between closest ranks.
func Percentile(x []float64, q float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, q)
}

func percentileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	if lo < 0 {
		return sorted[0]
	}
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Median returns the 50th percentile of x.
func Median(x []float64) float64 {
	return Percentile(x, 50)
}

// MAD returns the median absolute deviation from the median (unscaled).
func MAD(x []float64) float64 {
	med := Median(x)
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - med)
	}
	return Median(dev)
}

func centralMoment(x []float64, k float64) float64 {
	m := Mean(x)
	var s float64
	for _, v := range x {
		s += math.Pow(v-m, k)
	}
	return s / float64(len(x))
}

// Skewness returns the biased sample skewness m3/m2^1.5.
func Skewness(x []float64) float64 {
	m2 := centralMoment(x, 2)
	if m2 == 0 {
		return 0
	}
	return centralMoment(x, 3) / math.Pow(m2, 1.5)
}

// Kurtosis returns the biased excess kurtosis m4/m2^2 - 3.
func Kurtosis(x []float64) float64 {
	m2 := centralMoment(x, 2)
	if m2 == 0 {
		return 0
	}
	return centralMoment(x, 4)/(m2*m2) - 3
}

// Correlation returns the Pearson correlation of x and y.
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// Unique counts the distinct values in x.
func Unique(x []float64) int {
	seen := make(map[float64]struct{}, len(x))
	for _, v := range x {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// Descriptive summarises a sample.
type Descriptive struct {
	Count       int                `json:"count"`
	Mean        float64            `json:"mean"`
	Std         float64            `json:"std"`
	Variance    float64            `json:"variance"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Percentiles map[string]float64 `json:"percentiles"`
	Skewness    float64            `json:"skewness"`
	Kurtosis    float64            `json:"kurtosis"`
	CV          *float64           `json:"coefficient_of_variation"`
}

// DefaultPercentiles are reported when the caller asks for none.
var DefaultPercentiles = []float64{25, 50, 75}

// Describe computes count, moments, extremes and the requested percentiles
// (keys "p25", "p50", ...). CV is nil when the mean is zero.
func Describe(x []float64, percentiles []float64) (*Descriptive, error) {
	if len(x) == 0 {
		return nil, ErrEmptyData
	}
	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	d := &Descriptive{
		Count:       len(x),
		Mean:        Mean(x),
		Std:         Std(x, 1),
		Variance:    Variance(x, 1),
		Min:         floats.Min(x),
		Max:         floats.Max(x),
		Percentiles: make(map[string]float64, len(percentiles)),
		Skewness:    Skewness(x),
		Kurtosis:    Kurtosis(x),
	}
	for _, p := range percentiles {
		if p < 0 || p > 100 {
			return nil, fmt.Errorf("percentile %g outside [0, 100]", p)
		}
		d.Percentiles[fmt.Sprintf("p%d", int(p))] = percentileSorted(sorted, p)
	}
	if len(x) < 2 {
		d.Std, d.Variance = 0, 0
	}
	if d.Mean != 0 {
		cv := d.Std / d.Mean
		d.CV = &cv
	}
	return d, nil
}

// Rank assigns average ranks (1-based) to x, resolving ties by averaging.
// It also returns the tie-group sizes for tie corrections.
func Rank(x []float64) ([]float64, []int) {
	n := len(x)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	ranks := make([]float64, n)
	var ties []int
	for i := 0; i < n; {
		j := i
		for j+1 < n && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		r := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = r
		}
		if j > i {
			ties = append(ties, j-i+1)
		}
		i = j + 1
	}
	return ranks, ties
}
