package tramoseats

import (
	"fmt"
	"time"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// Result is the complete output of one TRAMO/SEATS run.
type Result struct {
	ResultID       string        `json:"result_id"`
	Status         string        `json:"status"`
	Tramo          *TramoResult  `json:"tramo_results"`
	Seats          *SeatsResult  `json:"seats_results"`
	ProcessingTime *float64      `json:"processing_time"`
	Specification  Specification `json:"specification_used"`
}

// Record is what gets persisted for a result: the run plus its input, so
// diagnostics can be recomputed later.
type Record struct {
	Series *tsdata.Series `json:"timeseries"`
	Result *Result        `json:"result"`
}

// Process validates spec and runs TRAMO followed by SEATS on s.
func Process(s *tsdata.Series, spec Specification) (*Result, error) {
	started := time.Now()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	tramo, err := Tramo(s, spec)
	if err != nil {
		return nil, fmt.Errorf("tramo: %w", err)
	}
	seats := Seats(s, tramo)
	elapsed := time.Since(started).Seconds()
	return &Result{
		Status:         "completed",
		Tramo:          tramo,
		Seats:          seats,
		ProcessingTime: &elapsed,
		Specification:  spec,
	}, nil
}
