package stats

import "math"

// Diff returns the lag-th difference x[t] - x[t-lag], applied d times.
func Diff(x []float64, lag, d int) []float64 {
	out := x
	for i := 0; i < d; i++ {
		if len(out) <= lag {
			return nil
		}
		next := make([]float64, len(out)-lag)
		for t := range next {
			next[t] = out[t+lag] - out[t]
		}
		out = next
	}
	if d == 0 {
		out = append([]float64(nil), x...)
	}
	return out
}

// NDiffs estimates the number of regular differences needed for
// stationarity by repeating a level KPSS test at the 5% level.
func NDiffs(x []float64, maxD int) int {
	d := 0
	cur := x
	for d < maxD {
		if len(cur) < 8 || Variance(cur, 0) == 0 {
			break
		}
		res, err := KPSS(cur, RegConstant, -1)
		if err != nil || res.PValue >= Significance {
			break
		}
		cur = Diff(cur, 1, 1)
		d++
	}
	return d
}

// NSDiffs estimates the number of seasonal differences from the strength of
// seasonality of a classical decomposition; strength above 0.64 asks for
// one more seasonal difference.
func NSDiffs(x []float64, period, maxD int) int {
	if period < 2 {
		return 0
	}
	d := 0
	cur := x
	for d < maxD && len(cur) >= 2*period+1 {
		if SeasonalStrength(cur, period) <= 0.64 {
			break
		}
		cur = Diff(cur, period, 1)
		d++
	}
	return d
}

// CentredMovingAverage is the 2×m centred moving average for even m and
// the simple m-term average for odd m. Ends that cannot be covered are NaN.
func CentredMovingAverage(x []float64, m int) []float64 {
	n := len(x)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if m < 1 || n < m {
		return out
	}
	half := m / 2
	if m%2 == 1 {
		for t := half; t < n-half; t++ {
			var s float64
			for j := t - half; j <= t+half; j++ {
				s += x[j]
			}
			out[t] = s / float64(m)
		}
		return out
	}
	for t := half; t < n-half; t++ {
		s := 0.5*x[t-half] + 0.5*x[t+half]
		for j := t - half + 1; j < t+half; j++ {
			s += x[j]
		}
		out[t] = s / float64(m)
	}
	return out
}

// SeasonalStrength is max(0, 1 - Var(R)/Var(S+R)) from an additive
// classical decomposition with a centred moving-average trend.
func SeasonalStrength(x []float64, period int) float64 {
	if period < 2 || len(x) < 2*period {
		return 0
	}
	trend := CentredMovingAverage(x, period)
	sums := make([]float64, period)
	counts := make([]int, period)
	for t, v := range x {
		if math.IsNaN(trend[t]) {
			continue
		}
		sums[t%period] += v - trend[t]
		counts[t%period]++
	}
	idx := make([]float64, period)
	var mean float64
	for j := range idx {
		if counts[j] > 0 {
			idx[j] = sums[j] / float64(counts[j])
		}
		mean += idx[j]
	}
	mean /= float64(period)
	var detr, rem []float64
	for t, v := range x {
		if math.IsNaN(trend[t]) {
			continue
		}
		s := idx[t%period] - mean
		detr = append(detr, v-trend[t])
		rem = append(rem, v-trend[t]-s)
	}
	vd := Variance(detr, 1)
	if vd == 0 {
		return 0
	}
	return math.Max(0, 1-Variance(rem, 1)/vd)
}
