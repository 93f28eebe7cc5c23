package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/demetra.report/internal/arima"
	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// modelEntry is a fitted model with the series it was fitted to, as held
// in the arima_model:{id} cache.
type modelEntry struct {
	Model  tsdata.ArimaModel
	Series *tsdata.Series
}

func modelKey(id string) string { return "arima_model:" + id }

func (s *Server) saveModel(m tsdata.ArimaModel, ts *tsdata.Series) (string, error) {
	model, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode model: %w", err)
	}
	series, err := json.Marshal(ts)
	if err != nil {
		return "", fmt.Errorf("encode series: %w", err)
	}
	rec := &store.ModelRecord{Model: model, Series: series}
	if err := s.store.SaveModel(rec, s.limits.ModelTTL); err != nil {
		return "", err
	}
	s.models.Set(modelKey(rec.ID), &modelEntry{Model: m, Series: ts})
	return rec.ID, nil
}

func (s *Server) loadModel(id string) (*modelEntry, error) {
	e, _, err := s.models.GetOrLoad(modelKey(id), func() (*modelEntry, error) {
		rec, err := s.store.GetModel(id)
		if err != nil {
			return nil, err
		}
		e := &modelEntry{Series: &tsdata.Series{}}
		if err := json.Unmarshal(rec.Model, &e.Model); err != nil {
			return nil, fmt.Errorf("decode model %s: %w", id, err)
		}
		if err := json.Unmarshal(rec.Series, e.Series); err != nil {
			return nil, fmt.Errorf("decode series for model %s: %w", id, err)
		}
		return e, nil
	})
	return e, err
}

// checkAnalysisSeries validates a series posted for analysis.
func checkAnalysisSeries(ts *tsdata.Series, maxLen int) error {
	if err := ts.Check(); err != nil {
		return err
	}
	if ts.Len() > maxLen {
		return fmt.Errorf("series length %d exceeds maximum of %d", ts.Len(), maxLen)
	}
	return nil
}

type estimateResponse struct {
	ModelID         string            `json:"model_id"`
	Model           tsdata.ArimaModel `json:"model"`
	FitTime         float64           `json:"fit_time"`
	InSampleMetrics arima.Metrics     `json:"in_sample_metrics"`
	ConvergenceInfo arima.Convergence `json:"convergence_info"`
}

func (s *Server) estimateArima(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeSeries  tsdata.Series      `json:"timeseries"`
		Order       *tsdata.ArimaOrder `json:"order"`
		Method      string             `json:"method"`
		IncludeMean *bool              `json:"include_mean"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ts := &req.TimeSeries
	if err := checkAnalysisSeries(ts, s.limits.MaxSeriesLength); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	method, err := arima.ParseMethod(req.Method)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	opts := arima.Options{Method: method, IncludeMean: req.IncludeMean == nil || *req.IncludeMean}

	var fit *arima.Fit
	if req.Order != nil {
		o := *req.Order
		if limit := s.limits.MaxArimaOrder; o.P > limit || o.Q > limit || o.SP > limit || o.SQ > limit {
			httputil.BadRequest(w, fmt.Sprintf("Order exceeds maximum of %d", limit))
			return
		}
		fit, err = arima.Estimate(ts.Values, o, opts)
	} else {
		auto := arima.DefaultIdentifyOptions()
		auto.Period = ts.SeasonalPeriod()
		auto.Method = method
		var id *arima.Identification
		if id, err = arima.Identify(ts.Values, auto); err == nil {
			fit = id.Best
		}
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	modelID, err := s.saveModel(fit.Model, ts)
	if err != nil {
		writeStoreError(w, "save model", err)
		return
	}
	httputil.WriteJSONOK(w, estimateResponse{
		ModelID:         modelID,
		Model:           fit.Model,
		FitTime:         fit.Duration.Seconds(),
		InSampleMetrics: fit.Metrics,
		ConvergenceInfo: fit.Convergence,
	})
}

type forecastResponse struct {
	ModelID         string                `json:"model_id"`
	Forecasts       []arima.ForecastPoint `json:"forecasts"`
	ConfidenceLevel float64               `json:"confidence_level"`
	ForecastTime    float64               `json:"forecast_time"`
}

func (s *Server) forecastArima(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelID         string   `json:"model_id"`
		Horizon         int      `json:"horizon"`
		ConfidenceLevel *float64 `json:"confidence_level"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Horizon < 1 {
		httputil.BadRequest(w, "horizon must be positive")
		return
	}
	if req.Horizon > s.limits.MaxForecastHorizon {
		httputil.BadRequest(w, fmt.Sprintf("Horizon exceeds maximum of %d", s.limits.MaxForecastHorizon))
		return
	}
	level := 0.95
	if req.ConfidenceLevel != nil {
		level = *req.ConfidenceLevel
		if level <= 0 || level >= 1 {
			httputil.BadRequest(w, "confidence_level must be between 0 and 1")
			return
		}
	}
	entry, err := s.loadModel(req.ModelID)
	if err != nil {
		writeLookupError(w, err, "Model not found")
		return
	}
	started := time.Now()
	points, err := arima.Forecast(entry.Series, &entry.Model, req.Horizon, level)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, forecastResponse{
		ModelID:         req.ModelID,
		Forecasts:       points,
		ConfidenceLevel: level,
		ForecastTime:    time.Since(started).Seconds(),
	})
}

type identifyResponse struct {
	BestModel           tsdata.ArimaModel `json:"best_model"`
	SearchSummary       searchSummary     `json:"search_summary"`
	CandidatesEvaluated int               `json:"candidates_evaluated"`
	IdentificationTime  float64           `json:"identification_time"`
}

type searchSummary struct {
	Method     string            `json:"method"`
	Criterion  string            `json:"information_criterion"`
	D          int               `json:"d"`
	SeasonalD  int               `json:"seasonal_d"`
	BestOrder  string            `json:"best_order"`
	BestScore  float64           `json:"best_criterion_value"`
	Candidates []arima.Candidate `json:"candidates"`
}

func (s *Server) identifyArima(w http.ResponseWriter, r *http.Request) {
	req := struct {
		TimeSeries tsdata.Series `json:"timeseries"`
		Seasonal   bool          `json:"seasonal"`
		Stepwise   bool          `json:"stepwise"`
		MaxP       int           `json:"max_p"`
		MaxQ       int           `json:"max_q"`
		MaxD       int           `json:"max_d"`
		Criterion  string        `json:"information_criterion"`
	}{Seasonal: true, Stepwise: true, MaxP: 5, MaxQ: 5, MaxD: 2, Criterion: "aic"}
	if !decodeJSON(w, r, &req) {
		return
	}
	ts := &req.TimeSeries
	if err := checkAnalysisSeries(ts, s.limits.MaxSeriesLength); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	switch {
	case req.MaxP < 0 || req.MaxP > 10:
		httputil.BadRequest(w, "max_p must be between 0 and 10")
		return
	case req.MaxQ < 0 || req.MaxQ > 10:
		httputil.BadRequest(w, "max_q must be between 0 and 10")
		return
	case req.MaxD < 0 || req.MaxD > 3:
		httputil.BadRequest(w, "max_d must be between 0 and 3")
		return
	}

	opts := arima.DefaultIdentifyOptions()
	opts.Seasonal = req.Seasonal
	opts.Period = ts.SeasonalPeriod()
	opts.Stepwise = req.Stepwise
	opts.MaxP, opts.MaxQ, opts.MaxD = req.MaxP, req.MaxQ, req.MaxD
	opts.Criterion = req.Criterion
	id, err := arima.Identify(ts.Values, opts)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	method := "stepwise"
	if !req.Stepwise {
		method = "grid"
	}
	httputil.WriteJSONOK(w, identifyResponse{
		BestModel: id.Best.Model,
		SearchSummary: searchSummary{
			Method:     method,
			Criterion:  opts.Criterion,
			D:          id.D,
			SeasonalD:  id.SD,
			BestOrder:  id.Best.Model.Order.String(),
			BestScore:  id.Best.Criterion(opts.Criterion),
			Candidates: id.Candidates,
		},
		CandidatesEvaluated: len(id.Candidates),
		IdentificationTime:  id.Duration.Seconds(),
	})
}

type timeSeriesInfo struct {
	Length    int              `json:"length"`
	Frequency tsdata.Frequency `json:"frequency"`
	Start     tsdata.Period    `json:"start_period"`
}

func (s *Server) getArimaModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	entry, err := s.loadModel(id)
	if err != nil {
		writeLookupError(w, err, "Model not found")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"model_id": id,
		"model":    entry.Model,
		"timeseries_info": timeSeriesInfo{
			Length:    entry.Series.Len(),
			Frequency: entry.Series.Frequency,
			Start:     entry.Series.Start,
		},
	})
}

type diagnoseResponse struct {
	ModelID string `json:"model_id"`
	*arima.Diagnostics
}

func (s *Server) diagnoseArima(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelID string   `json:"model_id"`
		Tests   []string `json:"tests"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Tests) == 0 {
		req.Tests = []string{arima.TestLjungBox, arima.TestJarqueBera}
	}
	entry, err := s.loadModel(req.ModelID)
	if err != nil {
		writeLookupError(w, err, "Model not found")
		return
	}
	wv, e, start, err := arima.Residuals(entry.Series.Values, &entry.Model)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	resid := e[start:]
	fitted := make([]float64, len(resid))
	for i := range resid {
		fitted[i] = wv[start+i] - resid[i]
	}
	o := entry.Model.Order
	fitDF := o.P + o.Q
	if o.IsSeasonal() {
		fitDF += o.SP + o.SQ
	}
	diag, err := arima.Diagnose(resid, fitted, fitDF, req.Tests)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, diagnoseResponse{ModelID: req.ModelID, Diagnostics: diag})
}
