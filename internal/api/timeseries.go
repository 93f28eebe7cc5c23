package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// maxBatchSize caps /timeseries/batch.
const maxBatchSize = 100

// seriesRequest is a series body with an optional name alongside it.
type seriesRequest struct {
	Name   string
	Series tsdata.Series
}

func (r *seriesRequest) UnmarshalJSON(b []byte) error {
	var named struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &named); err != nil {
		return err
	}
	r.Name = named.Name
	return json.Unmarshal(b, &r.Series)
}

type seriesResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Frequency tsdata.Frequency `json:"frequency"`
	Start     tsdata.Period    `json:"start_period"`
	Values    []*float64       `json:"values"`
	Metadata  map[string]any   `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func newSeriesResponse(rec *store.SeriesRecord) seriesResponse {
	md := rec.Series.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return seriesResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		Frequency: rec.Series.Frequency,
		Start:     rec.Series.Start,
		Values:    tsdata.NullableValues(rec.Series.Values),
		Metadata:  md,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// checkNewSeries applies the length limit and validation rules a series
// must pass before it is stored.
func (s *Server) checkNewSeries(ts *tsdata.Series) error {
	if ts.Len() > s.limits.MaxSeriesLength {
		return fmt.Errorf("Series length exceeds maximum of %d", s.limits.MaxSeriesLength)
	}
	if err := ts.Start.Validate(); err != nil {
		return fmt.Errorf("Invalid time series: %v", err)
	}
	if v := tsdata.Validate(ts); !v.Valid {
		return fmt.Errorf("Invalid time series: %s", strings.Join(v.Errors, ", "))
	}
	return nil
}

func (s *Server) createSeries(w http.ResponseWriter, r *http.Request) {
	var req seriesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.checkNewSeries(&req.Series); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rec, err := s.store.CreateSeries(req.Name, &req.Series)
	if err != nil {
		writeStoreError(w, "create time series", err)
		return
	}
	s.series.Set("ts:"+rec.ID, rec)
	httputil.WriteJSONOK(w, newSeriesResponse(rec))
}

func (s *Server) seriesByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		rec, err := s.loadSeries(id)
		if err != nil {
			writeLookupError(w, err, "Time series not found")
			return
		}
		httputil.WriteJSONOK(w, newSeriesResponse(rec))
	case http.MethodDelete:
		if err := s.store.DeleteSeries(id); err != nil {
			writeLookupError(w, err, "Time series not found")
			return
		}
		s.series.Delete("ts:" + id)
		httputil.WriteJSONOK(w, map[string]string{"message": "Time series deleted successfully"})
	default:
		httputil.MethodNotAllowed(w)
	}
}

type transformRequest struct {
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) transformSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httputil.MethodNotAllowed(w)
		return
	}
	var req transformRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	rec, err := s.store.GetSeries(id)
	if err != nil {
		writeLookupError(w, err, "Time series not found")
		return
	}
	out, err := tsdata.Transform(rec.Series, req.Operation, req.Parameters)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	updated, err := s.store.UpdateSeries(id, out)
	if err != nil {
		writeLookupError(w, err, "Time series not found")
		return
	}
	s.series.Delete("ts:" + id)
	httputil.WriteJSONOK(w, newSeriesResponse(updated))
}

func (s *Server) validateSeries(w http.ResponseWriter, r *http.Request) {
	var req seriesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res := tsdata.Validate(&req.Series)
	if err := req.Series.Start.Validate(); err != nil {
		res.Errors = append(res.Errors, err.Error())
		res.Valid = false
	}
	httputil.WriteJSONOK(w, res)
}

type seriesListResponse struct {
	Series   []seriesResponse `json:"series"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

func (s *Server) listSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	page, pageSize := 1, 10
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "page must be an integer >= 1")
			return
		}
		page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			httputil.BadRequest(w, "page_size must be an integer between 1 and 100")
			return
		}
		pageSize = n
	}
	filter := store.SeriesFilter{Page: page, PageSize: pageSize, NameContains: q.Get("name")}
	if v := q.Get("frequency"); v != "" {
		f, err := tsdata.ParseFrequency(v)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		filter.Frequency = f
	}

	recs, total, err := s.store.ListSeries(filter)
	if err != nil {
		writeStoreError(w, "list time series", err)
		return
	}
	resp := seriesListResponse{Series: make([]seriesResponse, len(recs)), Total: total, Page: page, PageSize: pageSize}
	for i := range recs {
		resp.Series[i] = newSeriesResponse(&recs[i])
	}
	httputil.WriteJSONOK(w, resp)
}

type batchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type batchResponse struct {
	Created []string     `json:"created"`
	Errors  []batchError `json:"errors"`
}

// batchCreateSeries validates every item concurrently, then stores the
// valid ones in request order.
func (s *Server) batchCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Series []seriesRequest `json:"series"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Series) == 0 {
		httputil.BadRequest(w, "series cannot be empty")
		return
	}
	if len(req.Series) > maxBatchSize {
		httputil.BadRequest(w, fmt.Sprintf("Batch size exceeds maximum of %d", maxBatchSize))
		return
	}

	problems := make([]error, len(req.Series))
	var g errgroup.Group
	g.SetLimit(8)
	for i := range req.Series {
		g.Go(func() error {
			problems[i] = s.checkNewSeries(&req.Series[i].Series)
			return nil
		})
	}
	_ = g.Wait()

	resp := batchResponse{Created: []string{}, Errors: []batchError{}}
	for i, item := range req.Series {
		if problems[i] != nil {
			resp.Errors = append(resp.Errors, batchError{Index: i, Error: problems[i].Error()})
			continue
		}
		rec, err := s.store.CreateSeries(item.Name, &item.Series)
		if err != nil {
			resp.Errors = append(resp.Errors, batchError{Index: i, Error: err.Error()})
			continue
		}
		resp.Created = append(resp.Created, rec.ID)
	}
	httputil.WriteJSONOK(w, resp)
}
