package viz

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/demetra.report/internal/cache"
	"github.com/banshee-data/demetra.report/internal/fsutil"
	"github.com/banshee-data/demetra.report/internal/iofmt"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/timeutil"
)

// Options configures a Renderer. Zero values take the defaults noted.
type Options struct {
	Dir             string            // /tmp/plots
	FS              fsutil.FileSystem // the OS filesystem
	CacheSize       int               // 100
	CacheTTL        time.Duration     // 1h
	MaxSeriesLength int               // 10000
	DefaultTheme    string            // seaborn
	DownloadPrefix  string            // /api/v1/viz/download/
	Clock           timeutil.Clock    // the real clock
}

// Renderer draws plots into files under a directory and remembers recent
// requests. A repeated request is answered from the cache while its file
// lasts; evicted entries take their file with them.
type Renderer struct {
	opts  Options
	fsys  fsutil.FileSystem
	clock timeutil.Clock
	plots *cache.Cache[PlotResponse]
}

// NewRenderer returns a Renderer with defaults filled in.
func NewRenderer(o Options) (*Renderer, error) {
	if o.Dir == "" {
		o.Dir = "/tmp/plots"
	}
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 100
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Hour
	}
	if o.MaxSeriesLength <= 0 {
		o.MaxSeriesLength = 10000
	}
	if o.DefaultTheme == "" {
		o.DefaultTheme = DefaultTheme
	}
	if _, err := LookupTheme(o.DefaultTheme); err != nil {
		return nil, err
	}
	if o.DownloadPrefix == "" {
		o.DownloadPrefix = "/api/v1/viz/download/"
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	r := &Renderer{opts: o, fsys: o.FS, clock: o.Clock}
	r.plots = cache.New(o.CacheSize, o.CacheTTL,
		cache.WithClock[PlotResponse](o.Clock),
		cache.WithEvict(func(_ string, resp PlotResponse) {
			if err := r.fsys.Remove(r.file(resp)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				monitoring.Logf("viz: remove evicted plot %s: %v", resp.PlotID, err)
			}
		}),
	)
	return r, nil
}

func fileName(resp PlotResponse) string {
	return resp.PlotID + "." + string(resp.Format)
}

func (r *Renderer) file(resp PlotResponse) string {
	return filepath.Join(r.opts.Dir, fileName(resp))
}

// Themes lists the themes with the configured default marked.
func (r *Renderer) Themes() ThemesResponse {
	return ListThemes(r.opts.DefaultTheme)
}

// CacheLen reports how many rendered plots are remembered.
func (r *Renderer) CacheLen() int {
	return r.plots.Len()
}

func (r *Renderer) style(s Style) Style {
	if s.Theme == "" {
		s.Theme = r.opts.DefaultTheme
	}
	return s
}

// TimeSeries plots one or more series against time.
func (r *Renderer) TimeSeries(req TimeSeriesRequest) (*PlotResponse, error) {
	req.Style = r.style(req.Style)
	return r.render("timeseries", req, req.Format, func() (*figure, error) {
		return buildTimeSeries(&req, r.opts.MaxSeriesLength)
	})
}

// Decomposition plots original, trend, seasonal and irregular panels.
func (r *Renderer) Decomposition(req DecompositionRequest) (*PlotResponse, error) {
	req.Style = r.style(req.Style)
	return r.render("decomposition", req, req.Format, func() (*figure, error) {
		return buildDecomposition(&req, r.opts.MaxSeriesLength)
	})
}

// Spectrum plots a periodogram with its dominant peaks.
func (r *Renderer) Spectrum(req SpectrumRequest) (*PlotResponse, error) {
	req.Style = r.style(req.Style)
	return r.render("spectrum", req, req.Format, func() (*figure, error) {
		return buildSpectrum(&req, r.opts.MaxSeriesLength)
	})
}

// Diagnostics plots residual diagnostics in a grid.
func (r *Renderer) Diagnostics(req DiagnosticsRequest) (*PlotResponse, error) {
	req.Style = r.style(req.Style)
	return r.render("diagnostics", req, req.Format, func() (*figure, error) {
		return buildDiagnostics(&req, r.opts.MaxSeriesLength)
	})
}

// Forecast plots recent history followed by a forecast and its band.
func (r *Renderer) Forecast(req ForecastRequest) (*PlotResponse, error) {
	req.Style = r.style(req.Style)
	return r.render("forecast", req, req.Format, func() (*figure, error) {
		return buildForecast(&req, r.opts.MaxSeriesLength)
	})
}

// cacheKey hashes the plot kind and its request. Requests that cannot be
// encoded (raw NaN values) are not cached.
func cacheKey(kind string, req any) (string, bool) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	sum := md5.Sum(append([]byte(kind+":"), b...))
	return hex.EncodeToString(sum[:]), true
}

func (r *Renderer) render(kind string, req any, format string, build func() (*figure, error)) (*PlotResponse, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	key, cacheable := cacheKey(kind, req)
	if cacheable {
		if resp, ok := r.plots.Get(key); ok && r.fsys.Exists(r.file(resp)) {
			resp.CacheHit = true
			return &resp, nil
		}
	}

	fig, err := build()
	if err != nil {
		return nil, err
	}
	var data []byte
	if f == HTML {
		data, err = renderHTML(fig)
	} else {
		data, err = renderStatic(fig, f)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s plot: %w", kind, err)
	}

	resp := PlotResponse{
		PlotID:     uuid.NewString(),
		Format:     f,
		SizeBytes:  len(data),
		Dimensions: fig.dimensions(),
		CreatedAt:  r.clock.Now().UTC(),
	}
	resp.DownloadURL = r.opts.DownloadPrefix + fileName(resp)
	if err := r.fsys.WriteFile(r.file(resp), data, 0o644); err != nil {
		return nil, fmt.Errorf("save %s plot: %w", kind, err)
	}
	if cacheable {
		r.plots.Set(key, resp)
	}
	monitoring.Logf("viz: rendered %s plot %s (%d bytes)", kind, fileName(resp), len(data))
	return &resp, nil
}

// Open returns a rendered plot file and its content type. Only bare file
// names inside the plot directory are served.
func (r *Renderer) Open(name string) ([]byte, string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, "", fmt.Errorf("%w: %s", ErrPlotNotFound, name)
	}
	data, err := r.fsys.ReadFile(filepath.Join(r.opts.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrPlotNotFound, name)
	}
	if err != nil {
		return nil, "", err
	}
	return data, iofmt.ContentType(name), nil
}
