package viz

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/demetra.report/internal/iofmt"
	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// A figure is a renderer-neutral description of a plot: a grid of panels,
// each holding traces, reference lines and text labels. Builders below turn
// requests into figures; gonum.go and echarts.go draw them.
type figure struct {
	title  string
	cols   int
	panels []panel

	width, height float64 // inches
	dpi           int
	theme         Theme
	grid, legend  bool
	lineDashed    bool
}

type traceKind int

const (
	lineTrace traceKind = iota
	scatterTrace
	stemTrace // vertical bars from zero at unit-spaced x
	histTrace // bars of width binWidth centred on x
	bandTrace // filled area between y and upper
)

// noColour draws a trace in the theme foreground.
const noColour = -1

type trace struct {
	kind     traceKind
	name     string // empty keeps the trace out of the legend
	x, y     []float64
	upper    []float64
	colour   int // palette index, or noColour
	dashed   bool
	width    float64 // line width in points
	binWidth float64
}

type refLine struct {
	vertical bool
	at       float64
	name     string
	colour   int
	dotted   bool
}

type label struct {
	x, y float64
	text string
}

type panel struct {
	title, xlabel, ylabel string
	timeAxis              bool
	dateLayout            string
	logY                  bool
	xRange                *[2]float64
	traces                []trace
	refs                  []refLine
	labels                []label
}

const (
	sizeWide = 6.0
	sizeTall = 8.0
)

// newFigure applies style and theme to an empty figure of the default size.
func newFigure(style Style, height float64) (*figure, error) {
	th, err := LookupTheme(style.Theme)
	if err != nil {
		return nil, err
	}
	pal, err := th.palette(style)
	if err != nil {
		return nil, err
	}
	w, h, dpi := style.size([2]float64{10, height})
	f := &figure{
		title:      style.Title,
		cols:       1,
		width:      w,
		height:     h,
		dpi:        dpi,
		theme:      th,
		grid:       style.grid(),
		legend:     style.legend(),
		lineDashed: style.LineStyle == "--" || style.LineStyle == "dashed",
	}
	f.theme.Palette = pal
	return f, nil
}

func (f *figure) dimensions() Dimensions {
	return Dimensions{Width: int(math.Round(f.width * float64(f.dpi))), Height: int(math.Round(f.height * float64(f.dpi)))}
}

func (f *figure) rows() int {
	return (len(f.panels) + f.cols - 1) / f.cols
}

// seriesXY places each observation at the unix time of its period.
func seriesXY(s *tsdata.Series) (x, y []float64) {
	x = make([]float64, s.Len())
	for i := range x {
		x[i] = float64(s.TimeAt(i).Unix())
	}
	return x, s.Values
}

func checkSeries(name string, s *tsdata.Series, maxLen int) error {
	if s == nil {
		return fmt.Errorf("%w: %s is required", ErrInvalidRequest, name)
	}
	if err := s.Check(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, name, err)
	}
	if maxLen > 0 && s.Len() > maxLen {
		return fmt.Errorf("%w: %s has %d values, limit is %d", ErrInvalidRequest, name, s.Len(), maxLen)
	}
	return nil
}

func seriesLabel(s *tsdata.Series, i int) string {
	if n := s.Name(); n != "" {
		return n
	}
	return fmt.Sprintf("Series %d", i+1)
}

func buildTimeSeries(req *TimeSeriesRequest, maxLen int) (*figure, error) {
	if len(req.Series) == 0 {
		return nil, fmt.Errorf("%w: at least one series is required", ErrInvalidRequest)
	}
	f, err := newFigure(req.Style, sizeWide)
	if err != nil {
		return nil, err
	}
	dateFormat := req.DateFormat
	if dateFormat == "" {
		dateFormat = "%Y-%m"
	}
	p := panel{
		xlabel:     req.Style.XLabel,
		ylabel:     req.Style.YLabel,
		timeAxis:   true,
		dateLayout: iofmt.Layout(dateFormat),
	}
	for i, s := range req.Series {
		if err := checkSeries(fmt.Sprintf("series[%d]", i), s, maxLen); err != nil {
			return nil, err
		}
		x, y := seriesXY(s)
		p.traces = append(p.traces, trace{kind: lineTrace, name: seriesLabel(s, i), x: x, y: y, colour: i, width: 2, dashed: f.lineDashed})
		if req.ShowMarkers {
			p.traces = append(p.traces, trace{kind: scatterTrace, x: x, y: y, colour: i})
		}
	}
	for _, a := range req.Annotations {
		if a.Date == "" || a.Text == "" {
			continue
		}
		t, err := iofmt.ParseDate(a.Date, "")
		if err != nil {
			return nil, fmt.Errorf("%w: annotation: %v", ErrInvalidRequest, err)
		}
		p.labels = append(p.labels, label{x: float64(t.Unix()), y: a.Y, text: a.Text})
	}
	f.panels = []panel{p}
	return f, nil
}

func buildDecomposition(req *DecompositionRequest, maxLen int) (*figure, error) {
	parts := []struct {
		name string
		s    *tsdata.Series
	}{
		{"Original", req.Original},
		{"Trend", req.Trend},
		{"Seasonal", req.Seasonal},
		{"Irregular", req.Irregular},
	}
	f, err := newFigure(req.Style, sizeTall)
	if err != nil {
		return nil, err
	}
	method := req.MethodName
	if method == "" {
		method = "Decomposition"
	}
	if f.title == "" {
		f.title = method + " Results"
	}
	for i, part := range parts {
		if err := checkSeries(part.name, part.s, maxLen); err != nil {
			return nil, err
		}
		x, y := seriesXY(part.s)
		f.panels = append(f.panels, panel{
			ylabel:     part.name,
			timeAxis:   true,
			dateLayout: "2006-01",
			traces:     []trace{{kind: lineTrace, x: x, y: y, colour: i, width: 1.5}},
		})
	}
	f.legend = false
	return f, nil
}

// Reference cycles drawn on every spectrum.
var spectrumRefs = []refLine{
	{vertical: true, at: 1.0 / 12, name: "Annual cycle", colour: 2, dotted: true},
	{vertical: true, at: 1.0 / 4, name: "Quarterly cycle", colour: 1, dotted: true},
}

// maxPeakLabels is how many peaks are annotated with their period.
const maxPeakLabels = 5

func buildSpectrum(req *SpectrumRequest, maxLen int) (*figure, error) {
	n := len(req.Frequencies)
	if n < 2 || n != len(req.Spectrum) {
		return nil, fmt.Errorf("%w: frequencies and spectrum must have the same length of at least 2", ErrInvalidRequest)
	}
	if maxLen > 0 && n > maxLen {
		return nil, fmt.Errorf("%w: spectrum has %d values, limit is %d", ErrInvalidRequest, n, maxLen)
	}
	f, err := newFigure(req.Style, sizeWide)
	if err != nil {
		return nil, err
	}
	if f.title == "" {
		f.title = "Spectral Analysis"
	}
	x, y := req.Frequencies, req.Spectrum
	if req.LogScale {
		// Log axes cannot show zero or negative ordinates.
		x, y = positive(x, y)
		if len(y) == 0 {
			return nil, fmt.Errorf("%w: no positive spectrum values for a log scale", ErrInvalidRequest)
		}
	}
	p := panel{
		xlabel: "Frequency",
		ylabel: "Spectral Density",
		logY:   req.LogScale,
		xRange: &[2]float64{0, 0.5},
		traces: []trace{{kind: lineTrace, name: "Spectrum", x: x, y: y, colour: 0, width: 2}},
	}
	if req.HighlightPeaks {
		threshold := stats.Mean(req.Spectrum) + 2*math.Sqrt(stats.Variance(req.Spectrum, 0))
		if req.PeakThreshold != nil {
			threshold = *req.PeakThreshold
		}
		peaks := stats.Peaks(x, y, threshold, 0)
		if len(peaks) > 0 {
			px := make([]float64, len(peaks))
			py := make([]float64, len(peaks))
			for i, pk := range peaks {
				px[i], py[i] = pk.Frequency, pk.Power
				if i < maxPeakLabels && pk.Period > 0 {
					p.labels = append(p.labels, label{x: pk.Frequency, y: pk.Power, text: fmt.Sprintf("%.1f", pk.Period)})
				}
			}
			p.traces = append(p.traces, trace{kind: scatterTrace, name: "Peaks", x: px, y: py, colour: 3})
		}
	}
	p.refs = append(p.refs, spectrumRefs...)
	f.panels = []panel{p}
	return f, nil
}

func positive(x, y []float64) (px, py []float64) {
	for i, v := range y {
		if v > 0 && !math.IsInf(v, 0) {
			px = append(px, x[i])
			py = append(py, v)
		}
	}
	return px, py
}

var defaultPanels = []string{PanelACF, PanelPACF, PanelQQ, PanelHistogram}

const (
	defaultMaxLags    = 40
	defaultConfidence = 0.95
	histogramBins     = 30
)

func buildDiagnostics(req *DiagnosticsRequest, maxLen int) (*figure, error) {
	res := finite(req.Residuals)
	if len(res) < 3 {
		return nil, fmt.Errorf("%w: at least 3 finite residuals are required", ErrInvalidRequest)
	}
	if maxLen > 0 && len(res) > maxLen {
		return nil, fmt.Errorf("%w: %d residuals, limit is %d", ErrInvalidRequest, len(res), maxLen)
	}
	kinds := req.PlotTypes
	if len(kinds) == 0 {
		kinds = defaultPanels
	}
	lags := req.MaxLags
	if lags <= 0 {
		lags = defaultMaxLags
	}
	level := req.ConfidenceLevel
	if level <= 0 || level >= 1 {
		level = defaultConfidence
	}
	f, err := newFigure(req.Style, sizeTall)
	if err != nil {
		return nil, err
	}
	if f.title == "" {
		f.title = "Residual Diagnostics"
	}
	if len(kinds) > 2 {
		f.cols = 2
	} else {
		f.cols = len(kinds)
	}
	for _, k := range kinds {
		var p panel
		switch k {
		case PanelACF:
			p = correlogram("Autocorrelation Function", "ACF", stats.ACF(res, lags), len(res), level)
		case PanelPACF:
			p = correlogram("Partial Autocorrelation Function", "PACF", stats.PACF(res, lags), len(res), level)
		case PanelQQ:
			p = qqPanel(res)
		case PanelHistogram:
			p = histogramPanel(res)
		case PanelResiduals:
			p = residualPanel(res)
		default:
			return nil, fmt.Errorf("%w: unknown plot type %q", ErrInvalidRequest, k)
		}
		f.panels = append(f.panels, p)
	}
	return f, nil
}

func finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// correlogram draws r as stems from lag 0 with the ±z/√n white-noise band.
func correlogram(title, ylabel string, r []float64, n int, level float64) panel {
	lags := make([]float64, len(r))
	for i := range lags {
		lags[i] = float64(i)
	}
	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	bound := z / math.Sqrt(float64(n))
	return panel{
		title:  title,
		xlabel: "Lag",
		ylabel: ylabel,
		traces: []trace{{kind: stemTrace, x: lags, y: r, colour: 0}},
		refs: []refLine{
			{at: 0, colour: noColour},
			{at: bound, colour: 3, dotted: true, name: fmt.Sprintf("%.0f%% band", level*100)},
			{at: -bound, colour: 3, dotted: true},
		},
	}
}

// qqPanel plots sorted residuals against normal quantiles at Blom plotting
// positions, with the line mean + sd·q.
func qqPanel(res []float64) panel {
	n := len(res)
	sorted := append([]float64(nil), res...)
	sort.Float64s(sorted)
	q := make([]float64, n)
	for i := range q {
		q[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
	}
	m, sd := stats.Mean(res), stats.Std(res, 1)
	fit := []float64{m + sd*q[0], m + sd*q[n-1]}
	return panel{
		title:  "Q-Q Plot",
		xlabel: "Theoretical Quantiles",
		ylabel: "Sample Quantiles",
		traces: []trace{
			{kind: scatterTrace, x: q, y: sorted, colour: 0},
			{kind: lineTrace, x: []float64{q[0], q[n-1]}, y: fit, colour: 3, width: 1.5},
		},
	}
}

// histogramPanel draws a density histogram with a fitted normal curve.
func histogramPanel(res []float64) panel {
	lo, hi := res[0], res[0]
	for _, v := range res {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi == lo {
		lo, hi = lo-0.5, hi+0.5
	}
	width := (hi - lo) / histogramBins
	counts := make([]float64, histogramBins)
	for _, v := range res {
		b := min(int((v-lo)/width), histogramBins-1)
		counts[b]++
	}
	centres := make([]float64, histogramBins)
	for i := range counts {
		centres[i] = lo + (float64(i)+0.5)*width
		counts[i] /= float64(len(res)) * width
	}

	m, sd := stats.Mean(res), stats.Std(res, 0)
	const points = 100
	cx := make([]float64, points)
	cy := make([]float64, points)
	if sd > 0 {
		norm := distuv.Normal{Mu: m, Sigma: sd}
		for i := range cx {
			cx[i] = lo + (hi-lo)*float64(i)/(points-1)
			cy[i] = norm.Prob(cx[i])
		}
	}
	p := panel{
		title:  "Residual Distribution",
		xlabel: "Residual Value",
		ylabel: "Density",
		traces: []trace{{kind: histTrace, name: "Residuals", x: centres, y: counts, colour: 0, binWidth: width}},
	}
	if sd > 0 {
		p.traces = append(p.traces, trace{kind: lineTrace, name: fmt.Sprintf("Normal(μ=%.2f, σ=%.2f)", m, sd), x: cx, y: cy, colour: 3, width: 2})
	}
	return p
}

func residualPanel(res []float64) panel {
	x := make([]float64, len(res))
	for i := range x {
		x[i] = float64(i)
	}
	sd := stats.Std(res, 0)
	return panel{
		title:  "Residual Plot",
		xlabel: "Observation",
		ylabel: "Residual",
		traces: []trace{{kind: lineTrace, x: x, y: res, colour: 0, width: 1}},
		refs: []refLine{
			{at: 0, colour: 3},
			{at: 2 * sd, colour: 3, dotted: true, name: "±2σ"},
			{at: -2 * sd, colour: 3, dotted: true},
		},
	}
}

const defaultHistoryPoints = 50

func buildForecast(req *ForecastRequest, maxLen int) (*figure, error) {
	if err := checkSeries("historical", req.Historical, maxLen); err != nil {
		return nil, err
	}
	if err := checkSeries("forecast", req.Forecast, maxLen); err != nil {
		return nil, err
	}
	withBand := req.LowerBound != nil && req.UpperBound != nil
	if withBand {
		if err := checkSeries("lower_bound", req.LowerBound, maxLen); err != nil {
			return nil, err
		}
		if err := checkSeries("upper_bound", req.UpperBound, maxLen); err != nil {
			return nil, err
		}
		if req.LowerBound.Len() != req.Forecast.Len() || req.UpperBound.Len() != req.Forecast.Len() {
			return nil, fmt.Errorf("%w: bounds must match the forecast length", ErrInvalidRequest)
		}
	}
	f, err := newFigure(req.Style, sizeWide)
	if err != nil {
		return nil, err
	}
	if f.title == "" {
		f.title = "Forecast"
	}
	show := req.ShowHistoryPoints
	if show <= 0 {
		show = defaultHistoryPoints
	}
	level := req.ConfidenceLevel
	if level <= 0 || level >= 1 {
		level = defaultConfidence
	}

	hx, hy := seriesXY(req.Historical)
	if len(hx) > show {
		hx, hy = hx[len(hx)-show:], hy[len(hy)-show:]
	}
	fx, fy := seriesXY(req.Forecast)

	p := panel{xlabel: "Date", ylabel: "Value", timeAxis: true, dateLayout: "2006-01"}
	if withBand {
		_, lower := seriesXY(req.LowerBound)
		_, upper := seriesXY(req.UpperBound)
		p.traces = append(p.traces, trace{kind: bandTrace, name: fmt.Sprintf("%d%% CI", int(level*100)), x: fx, y: lower, upper: upper, colour: 3})
	}
	p.traces = append(p.traces,
		trace{kind: lineTrace, name: "Historical", x: hx, y: hy, colour: 0, width: 2},
		// Joins the last observation to the first forecast.
		trace{kind: lineTrace, x: []float64{hx[len(hx)-1], fx[0]}, y: []float64{hy[len(hy)-1], fy[0]}, colour: 3, width: 2, dashed: true},
		trace{kind: lineTrace, name: "Forecast", x: fx, y: fy, colour: 3, width: 2, dashed: true},
	)
	p.refs = []refLine{{vertical: true, at: hx[len(hx)-1], colour: noColour, dotted: true}}
	f.panels = []panel{p}
	return f, nil
}

// dataRange is the extent of the panel's finite trace data. Log panels
// only count positive ordinates.
func (pn panel) dataRange() (xmin, xmax, ymin, ymax float64, ok bool) {
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	see := func(x, y float64) {
		if !finitePair(x, y) || pn.logY && y <= 0 {
			return
		}
		xmin, xmax = math.Min(xmin, x), math.Max(xmax, x)
		ymin, ymax = math.Min(ymin, y), math.Max(ymax, y)
		ok = true
	}
	for _, t := range pn.traces {
		for i, x := range t.x {
			see(x, t.y[i])
			if t.upper != nil {
				see(x, t.upper[i])
			}
		}
	}
	if pn.xRange != nil {
		xmin, xmax = pn.xRange[0], pn.xRange[1]
	}
	return xmin, xmax, ymin, ymax, ok
}

// refSegment returns the end points of r drawn across the panel's data.
func refSegment(pn panel, r refLine) (xs, ys [2]float64, ok bool) {
	xmin, xmax, ymin, ymax, ok := pn.dataRange()
	if !ok {
		return xs, ys, false
	}
	if r.vertical {
		return [2]float64{r.at, r.at}, [2]float64{ymin, ymax}, true
	}
	return [2]float64{xmin, xmax}, [2]float64{r.at, r.at}, true
}
