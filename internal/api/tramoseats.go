package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/jobs"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/tramoseats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// runTramoSeats processes ts and stores the record, returning the result
// with its ID filled in.
func (s *Server) runTramoSeats(ts *tsdata.Series, spec tramoseats.Specification) (*tramoseats.Result, error) {
	res, err := tramoseats.Process(ts, spec)
	if err != nil {
		return nil, err
	}
	res.ResultID = uuid.NewString()
	rec := tramoseats.Record{Series: ts, Result: res}
	if _, err := s.store.SaveResult(store.KindTramoSeats, res.ResultID, rec, s.limits.ResultTTL); err != nil {
		return nil, &persistError{op: "store result", err: err}
	}
	return res, nil
}

type asyncResponse struct {
	JobID   string          `json:"job_id"`
	Status  store.JobStatus `json:"status"`
	Message string          `json:"message"`
}

// submitAsync queues run on the worker pool and answers 202 with the job
// ID. run returns the ID of the result it stored.
func (s *Server) submitAsync(w http.ResponseWriter, kind string, run func() (string, error)) {
	if s.pool == nil {
		httputil.ServiceUnavailable(w, "asynchronous processing is not available")
		return
	}
	jobID, err := s.pool.Submit(kind, func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return run()
	})
	if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrStopped) {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, "submit job", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, asyncResponse{JobID: jobID, Status: store.JobPending, Message: "Processing job submitted"})
}

func (s *Server) processTramoSeats(w http.ResponseWriter, r *http.Request) {
	req := struct {
		TimeSeries tsdata.Series            `json:"timeseries"`
		Spec       tramoseats.Specification `json:"specification"`
		Async      bool                     `json:"async_processing"`
	}{Spec: tramoseats.DefaultSpecification()}
	if !decodeJSON(w, r, &req) {
		return
	}
	ts := &req.TimeSeries
	if err := checkAnalysisSeries(ts, s.limits.TramoSeatsMaxLength); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := req.Spec.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if req.Async {
		spec := req.Spec
		s.submitAsync(w, "tramoseats", func() (string, error) {
			res, err := s.runTramoSeats(ts, spec)
			if err != nil {
				return "", err
			}
			return res.ResultID, nil
		})
		return
	}

	res, err := s.runTramoSeats(ts, req.Spec)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	monitoring.Logf("tramoseats: processed %d observations as %s", ts.Len(), res.ResultID)
	httputil.WriteJSONOK(w, res)
}

func (s *Server) getTramoSeatsResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var rec tramoseats.Record
	if err := s.store.GetResult(store.KindTramoSeats, r.PathValue("id"), &rec); err != nil {
		writeLookupError(w, err, "Results not found")
		return
	}
	rec.Result.ProcessingTime = nil
	httputil.WriteJSONOK(w, rec.Result)
}

type jobResponse struct {
	*store.Job
	Message string `json:"message"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	job, err := s.store.GetJob(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "Job not found")
		return
	}
	resp := jobResponse{Job: job}
	switch job.Status {
	case store.JobPending:
		resp.Message = "Job is waiting to be processed"
	case store.JobRunning:
		resp.Message = "Job is running"
	case store.JobCompleted:
		resp.Message = "Processing completed"
	case store.JobFailed:
		resp.Message = job.Error
	}
	httputil.WriteJSONOK(w, resp)
}

type specificationResponse struct {
	ID            string   `json:"specification_id"`
	Specification any      `json:"specification"`
	Valid         bool     `json:"valid"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (s *Server) tramoSeatsSpecification(w http.ResponseWriter, r *http.Request) {
	spec := tramoseats.DefaultSpecification()
	if !decodeJSON(w, r, &spec) {
		return
	}
	if err := spec.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := s.store.SaveResult(store.KindTramoSeatsSpec, "", spec, 0)
	if err != nil {
		writeStoreError(w, "store specification", err)
		return
	}
	httputil.WriteJSONOK(w, specificationResponse{ID: id, Specification: spec, Valid: true})
}

type tramoSeatsDiagnosticsResponse struct {
	ResultID string `json:"result_id"`
	*tramoseats.DiagnosticsResult
}

func (s *Server) tramoSeatsDiagnostics(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResultID string   `json:"result_id"`
		Tests    []string `json:"tests"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	var rec tramoseats.Record
	if err := s.store.GetResult(store.KindTramoSeats, req.ResultID, &rec); err != nil {
		writeLookupError(w, err, "Results not found")
		return
	}
	diag, err := tramoseats.Diagnose(rec.Series, rec.Result.Tramo, rec.Result.Seats, req.Tests)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, tramoSeatsDiagnosticsResponse{ResultID: req.ResultID, DiagnosticsResult: diag})
}
