package tsdata

import (
	"fmt"
	"math"

	"github.com/banshee-data/demetra.report/internal/stats"
)

// MinObservations is the length below which a series draws a warning.
const MinObservations = 12

// ValidationResult separates hard errors from advisory warnings.
type ValidationResult struct {
	Valid    bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks a series for missing and non-finite values and flags
// short, constant or outlier-laden data.
func Validate(s *Series) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	if s == nil || len(s.Values) == 0 {
		res.Errors = append(res.Errors, "Time series is empty")
		return res
	}

	var nanCount, infCount int
	var nanPos []int
	for i, v := range s.Values {
		switch {
		case math.IsNaN(v):
			nanCount++
			nanPos = append(nanPos, i)
		case math.IsInf(v, 0):
			infCount++
		}
	}
	if nanCount > 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("Time series contains %d NaN values", nanCount))
	}
	if infCount > 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("Time series contains %d infinite values", infCount))
	}

	n := len(s.Values)
	if n < MinObservations {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Time series has fewer than %d observations", MinObservations))
	}

	finite := s.Observed()
	if nanCount == 0 && stats.Unique(s.Values) == 1 {
		res.Warnings = append(res.Warnings, "Time series is constant")
	}

	if len(finite) > 0 {
		q1, q3 := stats.Percentile(finite, 25), stats.Percentile(finite, 75)
		if iqr := q3 - q1; iqr > 0 {
			lo, hi := q1-3*iqr, q3+3*iqr
			outliers := 0
			for _, v := range s.Values {
				if v < lo || v > hi {
					outliers++
				}
			}
			if outliers > 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("Time series contains %d potential outliers", outliers))
			}
		}
	}

	for i := 1; i < len(nanPos); i++ {
		if nanPos[i]-nanPos[i-1] > 1 {
			res.Warnings = append(res.Warnings, "Time series contains gaps (non-consecutive missing values)")
			break
		}
	}

	if (s.Frequency == Monthly || s.Frequency == Quarterly) && n < 2*s.Frequency.PeriodsPerYear() {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Time series has less than 2 complete %s cycles", s.Frequency))
	}

	res.Valid = len(res.Errors) == 0
	return res
}
