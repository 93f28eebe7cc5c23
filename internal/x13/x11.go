package x13

import (
	"math"
	"slices"

	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// X11Result carries the X-11 output tables: D10 seasonal factors, D11
// seasonally adjusted series, D12 trend-cycle and D13 irregular.
type X11Result struct {
	D10  []float64 `json:"d10"`
	D11  []float64 `json:"d11"`
	D12  []float64 `json:"d12"`
	D13  []float64 `json:"d13"`
	Mode string    `json:"decomposition_mode"`
}

// Decomposition converts the tables to the shared decomposition type.
func (r *X11Result) Decomposition(s *tsdata.Series) *tsdata.Decomposition {
	mode := tsdata.Multiplicative
	switch r.Mode {
	case "add":
		mode = tsdata.Additive
	case "logadd":
		mode = tsdata.LogAdditive
	case "pseudoadd":
		mode = tsdata.PseudoAdditive
	}
	return tsdata.NewDecomposition(s, mode, map[tsdata.ComponentType][]float64{
		tsdata.Seasonal:           r.D10,
		tsdata.SeasonallyAdjusted: r.D11,
		tsdata.TrendCycle:         r.D12,
		tsdata.Irregular:          r.D13,
	})
}

// combiner removes one component from another under the decomposition
// mode.
type combiner struct {
	multiplicative bool
}

func (c combiner) split(a, b float64) float64 {
	if c.multiplicative {
		return a / b
	}
	return a - b
}

func (c combiner) neutral() float64 {
	if c.multiplicative {
		return 1
	}
	return 0
}

// X11 decomposes x with the X-11 moving average method.
func X11(x []float64, period int, spec X11Spec) *X11Result {
	mode := spec.Mode
	positive := !slices.ContainsFunc(x, func(v float64) bool { return v <= 0 })
	if (mode == "mult" || mode == "pseudoadd" || mode == "logadd") && !positive {
		monitoring.Logf("x13: %s decomposition needs positive data, using add", mode)
		mode = "add"
	}
	data := slices.Clone(x)
	if mode == "logadd" {
		for i, v := range data {
			data[i] = math.Log(v)
		}
	}
	c := combiner{multiplicative: mode == "mult" || mode == "pseudoadd"}

	var res *X11Result
	n := len(data)
	if period < 2 || n < 2*period {
		res = &X11Result{
			D10: constant(n, c.neutral()),
			D11: slices.Clone(data),
			D12: slices.Clone(data),
			D13: constant(n, c.neutral()),
		}
	} else {
		res = x11Tables(data, period, spec, c)
	}
	res.Mode = mode
	if mode == "logadd" {
		for _, t := range [][]float64{res.D10, res.D11, res.D12, res.D13} {
			for i, v := range t {
				t[i] = math.Exp(v)
			}
		}
	}
	return res
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func x11Tables(y []float64, period int, spec X11Spec, c combiner) *X11Result {
	n := len(y)
	a, b := 3, 3
	if len(spec.SeasonalMA) == 2 {
		a, b = spec.SeasonalMA[0], spec.SeasonalMA[1]
	}
	lo, hi := 1.5, 2.5
	if len(spec.SigmaLim) == 2 {
		lo, hi = spec.SigmaLim[0], spec.SigmaLim[1]
	}

	trend := fillEnds(stats.CentredMovingAverage(y, period))
	si := make([]float64, n)
	for i := range y {
		si[i] = c.split(y[i], trend[i])
	}
	seasonal := normalise(seasonalMA(si, period, a, b), period, c)

	// Replace extreme SI values with a blend towards the seasonal estimate.
	weights := sigmaWeights(si, seasonal, lo, hi, c)
	for i := range si {
		si[i] = weights[i]*si[i] + (1-weights[i])*seasonal[i]
	}
	seasonal = normalise(seasonalMA(si, period, a, b), period, c)

	sa := make([]float64, n)
	for i := range y {
		sa[i] = c.split(y[i], seasonal[i])
	}
	length := 13
	if period <= 4 {
		length = 5
	}
	if spec.TrendMA != nil {
		length = *spec.TrendMA | 1
	}
	final := Henderson(sa, length)
	irr := make([]float64, n)
	for i := range sa {
		irr[i] = c.split(sa[i], final[i])
	}
	return &X11Result{D10: seasonal, D11: sa, D12: final, D13: irr}
}

// fillEnds replaces leading and trailing NaNs with the nearest value.
func fillEnds(x []float64) []float64 {
	first, last := -1, -1
	for i, v := range x {
		if !math.IsNaN(v) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return x
	}
	for i := 0; i < first; i++ {
		x[i] = x[first]
	}
	for i := last + 1; i < len(x); i++ {
		x[i] = x[last]
	}
	return x
}

// compositeWeights returns the weights of an a×b moving average.
func compositeWeights(a, b int) []float64 {
	w := make([]float64, a+b-1)
	for i := 0; i < a; i++ {
		for j := 0; j < b; j++ {
			w[i+j] += 1 / float64(a*b)
		}
	}
	return w
}

// seasonalMA smooths each seasonal position separately with an a×b
// moving average. Near the ends the weights are truncated and rescaled.
func seasonalMA(si []float64, period, a, b int) []float64 {
	out := make([]float64, len(si))
	w := compositeWeights(a, b)
	half := len(w) / 2
	for pos := 0; pos < period; pos++ {
		var idx []int
		for i := pos; i < len(si); i += period {
			idx = append(idx, i)
		}
		for k, i := range idx {
			var sum, wsum float64
			for j := range w {
				m := k + j - half
				if m < 0 || m >= len(idx) {
					continue
				}
				sum += w[j] * si[idx[m]]
				wsum += w[j]
			}
			out[i] = sum / wsum
		}
	}
	return out
}

// normalise centres seasonal factors on the neutral value with a
// period-length centred moving average.
func normalise(s []float64, period int, c combiner) []float64 {
	level := fillEnds(stats.CentredMovingAverage(s, period))
	out := make([]float64, len(s))
	for i := range s {
		out[i] = c.split(s[i], level[i])
	}
	return out
}

// sigmaWeights grades each irregular value: full weight within lo
// standard deviations, zero beyond hi, linear in between.
func sigmaWeights(si, seasonal []float64, lo, hi float64, c combiner) []float64 {
	dev := make([]float64, len(si))
	for i := range si {
		dev[i] = c.split(si[i], seasonal[i]) - c.neutral()
	}
	var ss float64
	for _, d := range dev {
		ss += d * d
	}
	sigma := math.Sqrt(ss / float64(len(dev)))
	w := make([]float64, len(si))
	for i, d := range dev {
		z := math.Inf(1)
		if sigma > 0 {
			z = math.Abs(d) / sigma
		}
		switch {
		case sigma == 0 || z <= lo:
			w[i] = 1
		case z >= hi:
			w[i] = 0
		default:
			w[i] = (hi - z) / (hi - lo)
		}
	}
	return w
}

// HendersonWeights returns the symmetric Henderson filter with the given
// odd number of terms.
func HendersonWeights(length int) []float64 {
	p := length / 2
	m := float64(p + 2)
	den := 8 * m * (m*m - 1) * (4*m*m - 1) * (4*m*m - 9) * (4*m*m - 25)
	w := make([]float64, 2*p+1)
	for j := -p; j <= p; j++ {
		jj := float64(j * j)
		w[j+p] = 315 * ((m-1)*(m-1) - jj) * (m*m - jj) * ((m+1)*(m+1) - jj) * (3*m*m - 16 - 11*jj) / den
	}
	return w
}

// Henderson smooths x with a Henderson filter of the given length. Points
// too close to the ends for the full filter use the longest symmetric
// Henderson filter that fits, down to the observation itself.
func Henderson(x []float64, length int) []float64 {
	n := len(x)
	if length%2 == 0 {
		length++
	}
	filters := map[int][]float64{}
	out := make([]float64, n)
	for t := range x {
		h := min(length/2, t, n-1-t)
		if h == 0 {
			out[t] = x[t]
			continue
		}
		w, ok := filters[h]
		if !ok {
			w = HendersonWeights(2*h + 1)
			filters[h] = w
		}
		var s float64
		for j, wj := range w {
			s += wj * x[t-h+j]
		}
		out[t] = s
	}
	return out
}
