package api

import (
	"fmt"
	"net/http"

	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/stats"
)

type dataRequest struct {
	Data []float64 `json:"data"`
}

// check rejects empty samples; every stats endpoint needs data.
func (d dataRequest) check(w http.ResponseWriter) bool {
	if len(d.Data) == 0 {
		httputil.BadRequest(w, "Data cannot be empty")
		return false
	}
	return true
}

func (s *Server) normalityTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		dataRequest
		Method string `json:"method"`
	}
	if !decodeJSON(w, r, &req) || !req.check(w) {
		return
	}
	res, err := stats.NormalityTest(req.Data, req.Method)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) stationarityTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		dataRequest
		Method     string           `json:"method"`
		Regression stats.Regression `json:"regression"`
		MaxLag     *int             `json:"max_lag"`
	}
	if !decodeJSON(w, r, &req) || !req.check(w) {
		return
	}
	switch req.Regression {
	case "", stats.RegNone, stats.RegConstant, stats.RegConstTrend, stats.RegConstTrendQuad:
	default:
		httputil.BadRequest(w, fmt.Sprintf("regression must be one of c, ct, ctt, n; got %q", req.Regression))
		return
	}
	maxLag := -1
	if req.MaxLag != nil {
		if *req.MaxLag < 0 {
			httputil.BadRequest(w, "max_lag must be non-negative")
			return
		}
		maxLag = *req.MaxLag
	}
	res, err := stats.StationarityTest(req.Data, req.Method, req.Regression, maxLag)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) descriptiveStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		dataRequest
		Percentiles []float64 `json:"percentiles"`
	}
	if !decodeJSON(w, r, &req) || !req.check(w) {
		return
	}
	for _, p := range req.Percentiles {
		if p < 0 || p > 100 {
			httputil.BadRequest(w, fmt.Sprintf("percentile %g is outside [0, 100]", p))
			return
		}
	}
	res, err := stats.Describe(req.Data, req.Percentiles)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, res)
}

type distributionFitResponse struct {
	Results          []stats.DistributionFit `json:"results"`
	BestDistribution string                  `json:"best_distribution"`
}

func (s *Server) fitDistribution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		dataRequest
		Distributions []string `json:"distributions"`
	}
	if !decodeJSON(w, r, &req) || !req.check(w) {
		return
	}
	if len(req.Distributions) == 0 {
		req.Distributions = []string{"normal"}
	}
	fits, err := stats.FitDistributions(req.Data, req.Distributions)
	if err != nil {
		httputil.BadRequest(w, "No distributions could be fitted")
		return
	}
	httputil.WriteJSONOK(w, distributionFitResponse{Results: fits, BestDistribution: fits[0].Distribution})
}

func (s *Server) randomnessTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		dataRequest
		Method string `json:"method"`
		Lags   int    `json:"lags"`
	}
	if !decodeJSON(w, r, &req) || !req.check(w) {
		return
	}
	if req.Lags < 0 {
		httputil.BadRequest(w, "lags must be positive")
		return
	}
	if req.Lags == 0 {
		req.Lags = 10
	}
	res, err := stats.RandomnessTest(req.Data, req.Method, req.Lags)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) seasonalityTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		dataRequest
		Period int    `json:"period"`
		Method string `json:"method"`
	}
	if !decodeJSON(w, r, &req) || !req.check(w) {
		return
	}
	if req.Period <= 1 {
		httputil.BadRequest(w, "period must be greater than 1")
		return
	}
	res, err := stats.SeasonalityTest(req.Data, req.Period, req.Method)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, res)
}
