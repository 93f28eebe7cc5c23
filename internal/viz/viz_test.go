package viz

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demetra.report/internal/fsutil"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/timeutil"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

func init() {
	monitoring.SetLogger(nil)
}

func monthly(t *testing.T, name string, n int, f func(i int) float64) *tsdata.Series {
	t.Helper()
	values := make([]float64, n)
	for i := range values {
		values[i] = f(i)
	}
	s, err := tsdata.NewSeries(values, tsdata.Monthly, 2020, 1)
	require.NoError(t, err)
	if name != "" {
		s.Metadata["name"] = name
	}
	return s
}

func seasonal(i int) float64 {
	return 100 + float64(i) + 10*math.Sin(2*math.Pi*float64(i)/12)
}

func residuals(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(float64(i)*1.7) + 0.3*math.Cos(float64(i)*0.3)
	}
	return out
}

func newTestRenderer(t *testing.T, opts Options) (*Renderer, *fsutil.MemoryFileSystem, *timeutil.MockClock) {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	opts.FS = fsys
	opts.Clock = clock
	opts.Dir = "/plots"
	r, err := NewRenderer(opts)
	require.NoError(t, err)
	return r, fsys, clock
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": PNG, "png": PNG, "SVG": SVG, "pdf": PDF, "html": HTML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("gif")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestThemes(t *testing.T) {
	resp := ListThemes("")
	assert.Equal(t, "seaborn", resp.CurrentDefault)
	require.Len(t, resp.Themes, 6)
	var names []string
	for _, th := range resp.Themes {
		names = append(names, th.Name)
		assert.Equal(t, th.Name == "seaborn", th.IsDefault, th.Name)
	}
	assert.Equal(t, []string{"default", "seaborn", "ggplot", "bmh", "dark_background", "grayscale"}, names)

	dark, err := LookupTheme("dark_background")
	require.NoError(t, err)
	assert.Equal(t, "dark", dark.ECharts)
	_, err = LookupTheme("solarized")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewRenderer(Options{DefaultTheme: "solarized"})
	assert.Error(t, err)
}

func TestParseHex(t *testing.T) {
	c, err := parseHex("#4c72b0")
	require.NoError(t, err)
	assert.Equal(t, "#4c72b0", hexOf(c))
	c, err = parseHex("f00")
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", hexOf(c))
	_, err = parseHex("#12345")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = parseHex("#zzzzzz")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStyleDefaults(t *testing.T) {
	var s Style
	w, h, dpi := s.size([2]float64{10, 6})
	assert.Equal(t, 10.0, w)
	assert.Equal(t, 6.0, h)
	assert.Equal(t, 100, dpi)
	assert.True(t, s.grid())
	assert.True(t, s.legend())

	off := false
	s = Style{FigureSize: []float64{8, 4}, DPI: 50, Grid: &off}
	w, h, dpi = s.size([2]float64{10, 6})
	assert.Equal(t, []any{8.0, 4.0, 50}, []any{w, h, dpi})
	assert.False(t, s.grid())
}

func TestSpectrumRequestDefaults(t *testing.T) {
	var req SpectrumRequest
	require.NoError(t, json.Unmarshal([]byte(`{"frequencies":[0.1],"spectrum":[1]}`), &req))
	assert.True(t, req.LogScale)
	assert.True(t, req.HighlightPeaks)

	require.NoError(t, json.Unmarshal([]byte(`{"log_scale":false,"highlight_peaks":false}`), &req))
	assert.False(t, req.LogScale)
	assert.False(t, req.HighlightPeaks)
}

func TestTimeSeriesPlotIsCached(t *testing.T) {
	r, fsys, _ := newTestRenderer(t, Options{})
	req := TimeSeriesRequest{
		Series: []*tsdata.Series{
			monthly(t, "sales", 36, seasonal),
			monthly(t, "", 30, func(i int) float64 { return 90 + float64(i) }),
		},
		ShowMarkers: true,
		Annotations: []Annotation{{Date: "2021-06-01", Y: 120, Text: "launch"}},
	}

	first, err := r.TimeSeries(req)
	require.NoError(t, err)
	assert.Equal(t, PNG, first.Format)
	assert.Equal(t, Dimensions{Width: 1000, Height: 600}, first.Dimensions)
	assert.False(t, first.CacheHit)
	assert.Equal(t, "/api/v1/viz/download/"+first.PlotID+".png", first.DownloadURL)
	assert.True(t, fsys.Exists("/plots/"+first.PlotID+".png"))

	data, ctype, err := r.Open(first.PlotID + ".png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ctype)
	assert.Equal(t, first.SizeBytes, len(data))
	assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))

	again, err := r.TimeSeries(req)
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, first.PlotID, again.PlotID)

	req.Format = "svg"
	other, err := r.TimeSeries(req)
	require.NoError(t, err)
	assert.False(t, other.CacheHit)
	assert.NotEqual(t, first.PlotID, other.PlotID)
	assert.Equal(t, 2, r.CacheLen())
}

func TestRenderFormats(t *testing.T) {
	r, _, _ := newTestRenderer(t, Options{})
	series := []*tsdata.Series{monthly(t, "x", 24, seasonal)}
	for format, marker := range map[string]string{
		"png":  "\x89PNG",
		"svg":  "<svg",
		"pdf":  "%PDF",
		"html": "echarts",
	} {
		resp, err := r.TimeSeries(TimeSeriesRequest{Series: series, Format: format, Style: Style{Theme: "dark_background", Title: "Sales"}})
		require.NoError(t, err, format)
		data, _, err := r.Open(resp.PlotID + "." + format)
		require.NoError(t, err, format)
		assert.Contains(t, string(data), marker, format)
	}
}

func TestTimeSeriesValidation(t *testing.T) {
	r, _, _ := newTestRenderer(t, Options{MaxSeriesLength: 10})
	_, err := r.TimeSeries(TimeSeriesRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = r.TimeSeries(TimeSeriesRequest{Series: []*tsdata.Series{monthly(t, "", 11, seasonal)}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	short := []*tsdata.Series{monthly(t, "", 5, seasonal)}
	_, err = r.TimeSeries(TimeSeriesRequest{Series: short, Format: "gif"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.TimeSeries(TimeSeriesRequest{Series: short, Style: Style{Colors: []string{"blue"}}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.TimeSeries(TimeSeriesRequest{Series: short, Annotations: []Annotation{{Date: "soon", Text: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDecomposition(t *testing.T) {
	orig := monthly(t, "", 48, seasonal)
	trend := monthly(t, "", 48, func(i int) float64 { return 100 + float64(i) })
	seas := monthly(t, "", 48, func(i int) float64 { return 10 * math.Sin(2*math.Pi*float64(i)/12) })
	irr := monthly(t, "", 48, func(i int) float64 { return 0 })
	req := DecompositionRequest{Original: orig, Trend: trend, Seasonal: seas, Irregular: irr, MethodName: "X-13"}

	fig, err := buildDecomposition(&req, 0)
	require.NoError(t, err)
	assert.Equal(t, "X-13 Results", fig.title)
	require.Len(t, fig.panels, 4)
	assert.Equal(t, 4, fig.rows())
	assert.Equal(t, "Irregular", fig.panels[3].ylabel)

	r, _, _ := newTestRenderer(t, Options{})
	resp, err := r.Decomposition(req)
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Width: 1000, Height: 800}, resp.Dimensions)

	req.Trend = nil
	_, err = r.Decomposition(req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSpectrumPeaks(t *testing.T) {
	x := make([]float64, 120)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * float64(i) / 12)
	}
	freqs, power := stats.Periodogram(x)
	req := SpectrumRequest{Frequencies: freqs, Spectrum: power, LogScale: true, HighlightPeaks: true}

	fig, err := buildSpectrum(&req, 0)
	require.NoError(t, err)
	p := fig.panels[0]
	assert.True(t, p.logY)
	require.NotEmpty(t, p.labels)
	assert.Equal(t, "12.0", p.labels[0].text)
	assert.InDelta(t, 1.0/12, p.labels[0].x, 1e-12)
	require.Len(t, p.refs, 2)
	assert.InDelta(t, 1.0/12, p.refs[0].at, 1e-12)
	assert.InDelta(t, 0.25, p.refs[1].at, 1e-12)
	assert.Equal(t, [2]float64{0, 0.5}, *p.xRange)

	r, _, _ := newTestRenderer(t, Options{})
	for _, format := range []string{"png", "html"} {
		req.Format = format
		_, err = r.Spectrum(req)
		require.NoError(t, err, format)
	}

	_, err = r.Spectrum(SpectrumRequest{Frequencies: []float64{0.1, 0.2}, Spectrum: []float64{1}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.Spectrum(SpectrumRequest{Frequencies: []float64{0.1, 0.2}, Spectrum: []float64{0, -1}, LogScale: true})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSpectrumThreshold(t *testing.T) {
	req := SpectrumRequest{
		Frequencies:    []float64{0.1, 0.2, 0.3, 0.4},
		Spectrum:       []float64{1, 5, 1, 3},
		HighlightPeaks: true,
	}
	high := 10.0
	req.PeakThreshold = &high
	fig, err := buildSpectrum(&req, 0)
	require.NoError(t, err)
	assert.Empty(t, fig.panels[0].labels)

	low := 2.0
	req.PeakThreshold = &low
	fig, err = buildSpectrum(&req, 0)
	require.NoError(t, err)
	require.Len(t, fig.panels[0].labels, 2)
	assert.Equal(t, "5.0", fig.panels[0].labels[0].text)
	assert.Equal(t, "2.5", fig.panels[0].labels[1].text)
}

func TestDiagnosticsLayout(t *testing.T) {
	res := residuals(120)
	fig, err := buildDiagnostics(&DiagnosticsRequest{Residuals: res}, 0)
	require.NoError(t, err)
	assert.Equal(t, "Residual Diagnostics", fig.title)
	require.Len(t, fig.panels, 4)
	assert.Equal(t, 2, fig.cols)
	assert.Equal(t, 2, fig.rows())

	acf := fig.panels[0]
	assert.Len(t, acf.traces[0].y, 41)
	assert.InDelta(t, 1.96/math.Sqrt(120), acf.refs[1].at, 1e-3)

	hist := fig.panels[3]
	require.Len(t, hist.traces, 2)
	var area float64
	for _, d := range hist.traces[0].y {
		area += d * hist.traces[0].binWidth
	}
	assert.InDelta(t, 1, area, 1e-9)

	fig, err = buildDiagnostics(&DiagnosticsRequest{Residuals: res, PlotTypes: []string{"residuals"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, fig.cols)
	assert.InDelta(t, 2*stats.Std(res, 0), fig.panels[0].refs[1].at, 1e-12)

	fig, err = buildDiagnostics(&DiagnosticsRequest{Residuals: res, PlotTypes: []string{"acf", "pacf", "qq", "histogram", "residuals"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, fig.rows())

	_, err = buildDiagnostics(&DiagnosticsRequest{Residuals: res, PlotTypes: []string{"cusum"}}, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = buildDiagnostics(&DiagnosticsRequest{Residuals: []float64{1, math.NaN()}}, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDiagnosticsRender(t *testing.T) {
	r, _, _ := newTestRenderer(t, Options{})
	for _, format := range []string{"pdf", "html"} {
		resp, err := r.Diagnostics(DiagnosticsRequest{Residuals: residuals(80), Format: format, MaxLags: 20})
		require.NoError(t, err, format)
		assert.Equal(t, Dimensions{Width: 1000, Height: 800}, resp.Dimensions)
		assert.Positive(t, resp.SizeBytes)
	}
}

func TestForecast(t *testing.T) {
	hist := monthly(t, "", 120, seasonal)
	fc, err := tsdata.NewSeries([]float64{221, 222, 223, 224, 225, 226}, tsdata.Monthly, 2030, 1)
	require.NoError(t, err)
	lower := fc.WithValues([]float64{211, 211, 212, 212, 213, 213}, fc.Start)
	upper := fc.WithValues([]float64{231, 233, 234, 236, 237, 239}, fc.Start)
	req := ForecastRequest{Historical: hist, Forecast: fc, LowerBound: lower, UpperBound: upper, ShowHistoryPoints: 24, ConfidenceLevel: 0.8}

	fig, err := buildForecast(&req, 0)
	require.NoError(t, err)
	p := fig.panels[0]
	require.Len(t, p.traces, 4)
	assert.Equal(t, bandTrace, p.traces[0].kind)
	assert.Equal(t, "80% CI", p.traces[0].name)
	assert.Len(t, p.traces[1].x, 24)
	assert.InDelta(t, 214.0, p.traces[2].y[0], 1e-9, "joins the last observation")
	assert.Equal(t, 221.0, p.traces[2].y[1])

	r, _, _ := newTestRenderer(t, Options{})
	resp, err := r.Forecast(req)
	require.NoError(t, err)
	assert.Equal(t, Dimensions{Width: 1000, Height: 600}, resp.Dimensions)

	req.UpperBound = upper.WithValues([]float64{1, 2}, upper.Start)
	_, err = r.Forecast(req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEvictionRemovesFiles(t *testing.T) {
	r, fsys, clock := newTestRenderer(t, Options{CacheSize: 1, CacheTTL: time.Hour})
	a := TimeSeriesRequest{Series: []*tsdata.Series{monthly(t, "a", 12, seasonal)}}
	b := TimeSeriesRequest{Series: []*tsdata.Series{monthly(t, "b", 12, seasonal)}}

	first, err := r.TimeSeries(a)
	require.NoError(t, err)
	_, err = r.TimeSeries(b)
	require.NoError(t, err)
	assert.False(t, fsys.Exists("/plots/"+first.PlotID+".png"), "size eviction deletes the file")
	_, _, err = r.Open(first.PlotID + ".png")
	assert.ErrorIs(t, err, ErrPlotNotFound)

	second, err := r.TimeSeries(b)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)

	clock.Advance(2 * time.Hour)
	third, err := r.TimeSeries(b)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.False(t, fsys.Exists("/plots/"+second.PlotID+".png"), "expiry deletes the file")
	assert.True(t, fsys.Exists("/plots/"+third.PlotID+".png"))
}

func TestOpenRejectsPaths(t *testing.T) {
	r, fsys, _ := newTestRenderer(t, Options{})
	require.NoError(t, fsys.WriteFile("/secret.png", []byte("x"), 0o644))
	for _, name := range []string{"", ".", "..", "../secret.png", "a/b.png", "missing.png"} {
		_, _, err := r.Open(name)
		assert.ErrorIs(t, err, ErrPlotNotFound, name)
	}
}
