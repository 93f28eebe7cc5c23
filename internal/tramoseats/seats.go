package tramoseats

import (
	"math"

	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// Component is one extracted SEATS component.
type Component struct {
	Name       string         `json:"name"`
	Values     []float64      `json:"values"`
	Properties map[string]any `json:"properties"`
}

// SeatsResult holds the decomposition of the series.
type SeatsResult struct {
	Mode               tsdata.DecompositionMode `json:"mode"`
	Trend              Component                `json:"trend"`
	Seasonal           Component                `json:"seasonal"`
	Irregular          Component                `json:"irregular"`
	SeasonallyAdjusted []float64                `json:"seasonally_adjusted"`
}

// Decomposition converts the result to the shared decomposition type.
func (r *SeatsResult) Decomposition(s *tsdata.Series) *tsdata.Decomposition {
	return tsdata.NewDecomposition(s, r.Mode, map[tsdata.ComponentType][]float64{
		tsdata.Trend:              r.Trend.Values,
		tsdata.Seasonal:           r.Seasonal.Values,
		tsdata.Irregular:          r.Irregular.Values,
		tsdata.SeasonallyAdjusted: r.SeasonallyAdjusted,
	})
}

// Seats decomposes s into trend, seasonal and irregular parts on the scale
// TRAMO selected. In log mode the trend and adjusted series come back on
// the original scale and the seasonal and irregular parts as factors
// minus one.
func Seats(s *tsdata.Series, tramo *TramoResult) *SeatsResult {
	data := make([]float64, s.Len())
	copy(data, s.Values)
	if tramo.Transform.Log() {
		for i, v := range data {
			data[i] = math.Log(v)
		}
	}
	period := s.SeasonalPeriod()

	trend := Trend(data)
	detrended := make([]float64, len(data))
	for i := range data {
		detrended[i] = data[i] - trend[i]
	}
	seasonal := SeasonalFactors(detrended, period, s.Start.Period-1)
	irregular := make([]float64, len(data))
	sa := make([]float64, len(data))
	for i := range data {
		irregular[i] = data[i] - trend[i] - seasonal[i]
		sa[i] = data[i] - seasonal[i]
	}

	total := stats.Variance(data, 0)
	props := func(x []float64) map[string]any {
		v := stats.Variance(x, 0)
		contrib := 0.0
		if total > 0 {
			contrib = v / total
		}
		return map[string]any{"variance": v, "contribution": contrib}
	}
	trendProps, seasProps, irrProps := props(trend), props(seasonal), props(irregular)
	seasProps["period"] = period

	mode := tsdata.Additive
	if tramo.Transform.Log() {
		mode = tsdata.Multiplicative
		for i := range data {
			trend[i] = math.Exp(trend[i])
			seasonal[i] = math.Exp(seasonal[i]) - 1
			irregular[i] = math.Exp(irregular[i]) - 1
			sa[i] = math.Exp(sa[i])
		}
	}
	return &SeatsResult{
		Mode:               mode,
		Trend:              Component{Name: "trend", Values: trend, Properties: trendProps},
		Seasonal:           Component{Name: "seasonal", Values: seasonal, Properties: seasProps},
		Irregular:          Component{Name: "irregular", Values: irregular, Properties: irrProps},
		SeasonallyAdjusted: sa,
	}
}

// Trend is a centred moving average of odd length min(13, n/4). The
// first and last half-window points keep their observed values.
func Trend(x []float64) []float64 {
	n := len(x)
	w := min(13, n/4)
	if w%2 == 0 {
		w++
	}
	half := w / 2
	out := make([]float64, n)
	copy(out, x)
	for i := half; i < n-half; i++ {
		var sum float64
		for j := i - half; j <= i+half; j++ {
			sum += x[j]
		}
		out[i] = sum / float64(w)
	}
	return out
}

// SeasonalFactors averages x by seasonal position and centres the means
// to sum to zero. offset is the position of x[0] within the year.
func SeasonalFactors(x []float64, period, offset int) []float64 {
	out := make([]float64, len(x))
	if period < 2 || len(x) < period {
		return out
	}
	sums := make([]float64, period)
	counts := make([]int, period)
	for i, v := range x {
		k := (i + offset) % period
		sums[k] += v
		counts[k]++
	}
	means := make([]float64, period)
	var grand float64
	for k := range means {
		if counts[k] > 0 {
			means[k] = sums[k] / float64(counts[k])
		}
		grand += means[k]
	}
	grand /= float64(period)
	for i := range out {
		out[i] = means[(i+offset)%period] - grand
	}
	return out
}
