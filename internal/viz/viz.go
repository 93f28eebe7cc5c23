// Package viz renders time-series plots. Static images (png, svg, pdf) are
// drawn with gonum/plot; interactive pages (html) with go-echarts.
package viz

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

var (
	ErrInvalidRequest = errors.New("invalid plot request")
	ErrPlotNotFound   = errors.New("plot not found")
)

// Format is an output format.
type Format string

const (
	PNG  Format = "png"
	SVG  Format = "svg"
	PDF  Format = "pdf"
	HTML Format = "html"
)

// ParseFormat validates a format name. The empty string means png.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return PNG, nil
	case PNG, SVG, PDF, HTML:
		return f, nil
	}
	return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, s)
}

// Style controls the look of a plot. Sizes follow the matplotlib
// convention of inches times dots per inch.
type Style struct {
	Theme       string    `json:"theme,omitempty"`
	FigureSize  []float64 `json:"figure_size,omitempty"`
	DPI         int       `json:"dpi,omitempty"`
	Title       string    `json:"title,omitempty"`
	XLabel      string    `json:"xlabel,omitempty"`
	YLabel      string    `json:"ylabel,omitempty"`
	Grid        *bool     `json:"grid,omitempty"`
	Legend      *bool     `json:"legend,omitempty"`
	Colors      []string  `json:"colors,omitempty"`
	LineStyle   string    `json:"line_style,omitempty"`
	MarkerStyle string    `json:"marker_style,omitempty"`
}

const defaultDPI = 100

// size returns the figure size in inches and the dpi, falling back to def.
func (s Style) size(def [2]float64) (w, h float64, dpi int) {
	w, h = def[0], def[1]
	if len(s.FigureSize) == 2 && s.FigureSize[0] > 0 && s.FigureSize[1] > 0 {
		w, h = s.FigureSize[0], s.FigureSize[1]
	}
	dpi = s.DPI
	if dpi <= 0 {
		dpi = defaultDPI
	}
	return w, h, dpi
}

func (s Style) grid() bool   { return s.Grid == nil || *s.Grid }
func (s Style) legend() bool { return s.Legend == nil || *s.Legend }

// Dimensions is the rendered size in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PlotResponse describes a rendered plot file.
type PlotResponse struct {
	PlotID      string     `json:"plot_id"`
	DownloadURL string     `json:"download_url"`
	Format      Format     `json:"format"`
	SizeBytes   int        `json:"size_bytes"`
	Dimensions  Dimensions `json:"dimensions"`
	CreatedAt   time.Time  `json:"created_at"`
	CacheHit    bool       `json:"cache_hit"`
}

// Annotation places a text label on a time-series plot.
type Annotation struct {
	Date string  `json:"date"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

// TimeSeriesRequest plots one or more series on a shared date axis.
type TimeSeriesRequest struct {
	Series      []*tsdata.Series `json:"series"`
	Format      string           `json:"format,omitempty"`
	Style       Style            `json:"style"`
	DateFormat  string           `json:"date_format,omitempty"`
	ShowMarkers bool             `json:"show_markers,omitempty"`
	Annotations []Annotation     `json:"annotations,omitempty"`
}

// DecompositionRequest plots the four components of a seasonal adjustment.
type DecompositionRequest struct {
	Original   *tsdata.Series `json:"original"`
	Trend      *tsdata.Series `json:"trend"`
	Seasonal   *tsdata.Series `json:"seasonal"`
	Irregular  *tsdata.Series `json:"irregular"`
	Format     string         `json:"format,omitempty"`
	Style      Style          `json:"style"`
	MethodName string         `json:"method_name,omitempty"`
}

// SpectrumRequest plots a spectral density estimate.
type SpectrumRequest struct {
	Frequencies    []float64 `json:"frequencies"`
	Spectrum       []float64 `json:"spectrum"`
	Format         string    `json:"format,omitempty"`
	Style          Style     `json:"style"`
	LogScale       bool      `json:"log_scale"`
	HighlightPeaks bool      `json:"highlight_peaks"`
	PeakThreshold  *float64  `json:"peak_threshold,omitempty"`
}

// UnmarshalJSON decodes over the defaults: log scale and peak highlighting
// are on unless disabled.
func (r *SpectrumRequest) UnmarshalJSON(b []byte) error {
	type plain SpectrumRequest
	v := plain{LogScale: true, HighlightPeaks: true}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = SpectrumRequest(v)
	return nil
}

// Diagnostic panel names.
const (
	PanelACF       = "acf"
	PanelPACF      = "pacf"
	PanelQQ        = "qq"
	PanelHistogram = "histogram"
	PanelResiduals = "residuals"
)

// DiagnosticsRequest plots residual diagnostics.
type DiagnosticsRequest struct {
	Residuals       []float64 `json:"residuals"`
	PlotTypes       []string  `json:"plot_types,omitempty"`
	Format          string    `json:"format,omitempty"`
	Style           Style     `json:"style"`
	MaxLags         int       `json:"max_lags,omitempty"`
	ConfidenceLevel float64   `json:"confidence_level,omitempty"`
}

// ForecastRequest plots a forecast with its confidence band after the tail
// of the history.
type ForecastRequest struct {
	Historical        *tsdata.Series `json:"historical"`
	Forecast          *tsdata.Series `json:"forecast"`
	LowerBound        *tsdata.Series `json:"lower_bound,omitempty"`
	UpperBound        *tsdata.Series `json:"upper_bound,omitempty"`
	Format            string         `json:"format,omitempty"`
	Style             Style          `json:"style"`
	ShowHistoryPoints int            `json:"show_history_points,omitempty"`
	ConfidenceLevel   float64        `json:"confidence_level,omitempty"`
}
