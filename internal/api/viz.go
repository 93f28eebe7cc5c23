package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/viz"
)

// plot decodes a request of type R and renders it with draw.
func plot[R any](s *Server, w http.ResponseWriter, r *http.Request, draw func(R) (*viz.PlotResponse, error)) {
	if s.plots == nil {
		httputil.ServiceUnavailable(w, "plotting is not available")
		return
	}
	var req R
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := draw(req)
	if errors.Is(err, viz.ErrInvalidRequest) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		monitoring.Logf("viz: render failed: %v", err)
		httputil.InternalServerError(w, "Plot generation failed")
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) plotTimeSeries(w http.ResponseWriter, r *http.Request) {
	plot(s, w, r, func(req viz.TimeSeriesRequest) (*viz.PlotResponse, error) { return s.plots.TimeSeries(req) })
}

func (s *Server) plotDecomposition(w http.ResponseWriter, r *http.Request) {
	plot(s, w, r, func(req viz.DecompositionRequest) (*viz.PlotResponse, error) { return s.plots.Decomposition(req) })
}

func (s *Server) plotSpectrum(w http.ResponseWriter, r *http.Request) {
	plot(s, w, r, func(req viz.SpectrumRequest) (*viz.PlotResponse, error) { return s.plots.Spectrum(req) })
}

func (s *Server) plotDiagnostics(w http.ResponseWriter, r *http.Request) {
	plot(s, w, r, func(req viz.DiagnosticsRequest) (*viz.PlotResponse, error) { return s.plots.Diagnostics(req) })
}

func (s *Server) plotForecast(w http.ResponseWriter, r *http.Request) {
	plot(s, w, r, func(req viz.ForecastRequest) (*viz.PlotResponse, error) { return s.plots.Forecast(req) })
}

func (s *Server) listThemes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.plots == nil {
		httputil.WriteJSONOK(w, viz.ListThemes(viz.DefaultTheme))
		return
	}
	httputil.WriteJSONOK(w, s.plots.Themes())
}

func (s *Server) downloadPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.plots == nil {
		httputil.NotFound(w, "Plot not found")
		return
	}
	data, contentType, err := s.plots.Open(r.PathValue("file"))
	if errors.Is(err, viz.ErrPlotNotFound) {
		httputil.NotFound(w, "Plot not found")
		return
	}
	if err != nil {
		monitoring.Logf("viz: open plot: %v", err)
		httputil.InternalServerError(w, "internal error")
		return
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(data); err != nil {
		monitoring.Logf("viz: write plot: %v", err)
	}
}
