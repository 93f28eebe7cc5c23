package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/tsdata"
	"github.com/banshee-data/demetra.report/internal/x13"
)

// runX13 processes ts and stores the spanned series with the result.
func (s *Server) runX13(ts *tsdata.Series, spec x13.Specification) (*x13.Result, error) {
	res, spanned, err := x13.Process(ts, spec)
	if err != nil {
		return nil, err
	}
	res.ResultID = uuid.NewString()
	rec := x13.Record{Series: spanned, Result: res}
	if _, err := s.store.SaveResult(store.KindX13, res.ResultID, rec, s.limits.ResultTTL); err != nil {
		return nil, &persistError{op: "store result", err: err}
	}
	return res, nil
}

// x13Spec decodes raw over the X-13 defaults. An absent specification
// yields the defaults.
func x13Spec(raw json.RawMessage) (x13.Specification, error) {
	spec := x13.DefaultSpecification()
	if len(raw) == 0 || string(raw) == "null" {
		return spec, nil
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return spec, fmt.Errorf("invalid specification: %w", err)
	}
	return spec, nil
}

func (s *Server) processX13(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeSeries tsdata.Series   `json:"timeseries"`
		Spec       json.RawMessage `json:"specification"`
		Async      bool            `json:"async_processing"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ts := &req.TimeSeries
	if err := checkAnalysisSeries(ts, s.limits.MaxSeriesLength); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	spec, err := x13Spec(req.Spec)
	if err == nil {
		err = spec.Validate()
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if req.Async {
		s.submitAsync(w, "x13", func() (string, error) {
			res, err := s.runX13(ts, spec)
			if err != nil {
				return "", err
			}
			return res.ResultID, nil
		})
		return
	}

	res, err := s.runX13(ts, spec)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	monitoring.Logf("x13: processed %d observations as %s", ts.Len(), res.ResultID)
	httputil.WriteJSONOK(w, res)
}

func (s *Server) getX13Result(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var rec x13.Record
	if err := s.store.GetResult(store.KindX13, r.PathValue("id"), &rec); err != nil {
		writeLookupError(w, err, "Results not found")
		return
	}
	httputil.WriteJSONOK(w, rec.Result)
}

func (s *Server) x13Specification(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return
	}
	spec, err := x13Spec(raw)
	if err == nil {
		err = spec.Validate()
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := s.store.SaveResult(store.KindX13Spec, "", spec, 0)
	if err != nil {
		writeStoreError(w, "store specification", err)
		return
	}
	httputil.WriteJSONOK(w, specificationResponse{ID: id, Specification: spec, Valid: true, Warnings: spec.Warnings()})
}

type x13DiagnosticsResponse struct {
	ResultID string `json:"result_id"`
	*x13.DiagnosticsResult
}

func (s *Server) x13Diagnostics(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResultID string   `json:"result_id"`
		Tests    []string `json:"tests"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	var rec x13.Record
	if err := s.store.GetResult(store.KindX13, req.ResultID, &rec); err != nil {
		writeLookupError(w, err, "Results not found")
		return
	}
	diag, err := x13.Diagnose(rec.Series, rec.Result, req.Tests)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, x13DiagnosticsResponse{ResultID: req.ResultID, DiagnosticsResult: diag})
}

func (s *Server) compareX13(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeSeries tsdata.Series     `json:"timeseries"`
		Specs      []json.RawMessage `json:"specifications"`
		Criteria   []string          `json:"comparison_criteria"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ts := &req.TimeSeries
	if err := checkAnalysisSeries(ts, s.limits.MaxSeriesLength); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	specs := make([]x13.Specification, len(req.Specs))
	for i, raw := range req.Specs {
		spec, err := x13Spec(raw)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("specification %d: %v", i, err))
			return
		}
		specs[i] = spec
	}
	cmp, err := x13.Compare(ts, specs, req.Criteria)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, cmp)
}
