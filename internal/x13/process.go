package x13

import (
	"fmt"
	"time"

	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/tramoseats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// Result is the complete output of one X-13 run. Exactly one of X11 and
// Seats is set.
type Result struct {
	ResultID       string                  `json:"result_id"`
	Status         string                  `json:"status"`
	RegArima       *RegArimaResult         `json:"regarima_results"`
	X11            *X11Result              `json:"x11_results,omitempty"`
	Seats          *tramoseats.SeatsResult `json:"seats_results,omitempty"`
	Forecasts      []ForecastPoint         `json:"forecasts"`
	ProcessingTime *float64                `json:"processing_time"`
	Specification  Specification           `json:"specification_used"`
	Warnings       []string                `json:"warnings,omitempty"`
}

// Record is what gets persisted: the spanned input series and its result.
type Record struct {
	Series *tsdata.Series `json:"timeseries"`
	Result *Result        `json:"result"`
}

// components returns the seasonal, adjusted and trend series of whichever
// decomposition ran, and whether the seasonal part is a ratio.
func (r *Result) components() (seasonal, sa, trend []float64, multiplicative bool) {
	if r.Seats != nil {
		return r.Seats.Seasonal.Values, r.Seats.SeasonallyAdjusted, r.Seats.Trend.Values, false
	}
	if r.X11 != nil {
		return r.X11.D10, r.X11.D11, r.X11.D12, r.X11.Mode != "add"
	}
	return nil, nil, nil, false
}

// Decomposition converts the result to the shared decomposition type.
func (r *Result) Decomposition(s *tsdata.Series) *tsdata.Decomposition {
	if r.Seats != nil {
		return r.Seats.Decomposition(s)
	}
	return r.X11.Decomposition(s)
}

// Process validates spec, restricts s to the series span and runs the
// RegARIMA pre-adjustment, the decomposition and the forecasts. The
// returned series is the spanned input.
func Process(s *tsdata.Series, spec Specification) (*Result, *tsdata.Series, error) {
	started := time.Now()
	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}
	s, err := applySpan(s, spec.SeriesSpan)
	if err != nil {
		return nil, nil, err
	}
	ra, reg, err := RegArima(s, spec.RegArima)
	if err != nil {
		return nil, nil, fmt.Errorf("regarima: %w", err)
	}

	res := &Result{
		Status:        "completed",
		RegArima:      ra,
		Specification: spec,
		Warnings:      spec.Warnings(),
	}
	if spec.Seats != nil {
		tramo := &tramoseats.TramoResult{Transform: tramoseats.TransformInfo{Type: ra.Transformation}}
		res.Seats = tramoseats.Seats(s, tramo)
	} else {
		res.X11 = X11(s.Values, s.SeasonalPeriod(), *spec.X11)
	}

	res.Forecasts, err = Forecasts(s, ra, reg, spec.ForecastMaxLead)
	if err != nil {
		monitoring.Logf("x13: forecasts skipped: %v", err)
		res.Forecasts = []ForecastPoint{}
	}
	elapsed := time.Since(started).Seconds()
	res.ProcessingTime = &elapsed
	return res, s, nil
}
