package tsdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrEmptySeries      = errors.New("time series is empty")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidPeriod    = errors.New("invalid period")
	ErrInvalidOrder     = errors.New("invalid ARIMA order")
	ErrInvalidModel     = errors.New("invalid ARIMA model")
	ErrTransform        = errors.New("transformation failed")
)

// Series is a regularly spaced time series. Missing observations are NaN.
type Series struct {
	Values    []float64      `json:"values"`
	Start     Period         `json:"start_period"`
	Frequency Frequency      `json:"frequency"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewSeries builds a series starting at (year, period) and validates the
// start period.
func NewSeries(values []float64, freq Frequency, year, period int) (*Series, error) {
	s := &Series{
		Values:    values,
		Start:     Period{Year: year, Period: period, Frequency: freq},
		Frequency: freq,
		Metadata:  map[string]any{},
	}
	if err := s.Start.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Len returns the number of observations.
func (s *Series) Len() int { return len(s.Values) }

// End returns the period of the last observation.
func (s *Series) End() Period {
	return s.Start.Add(len(s.Values) - 1)
}

// PeriodAt returns the period of observation i.
func (s *Series) PeriodAt(i int) Period {
	return s.Start.Add(i)
}

// TimeAt returns the instant of observation i.
func (s *Series) TimeAt(i int) time.Time {
	return s.Start.Offset(i)
}

// SeasonalPeriod returns the number of observations per year.
func (s *Series) SeasonalPeriod() int {
	return s.Frequency.PeriodsPerYear()
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	out := &Series{
		Values:    append([]float64(nil), s.Values...),
		Start:     s.Start,
		Frequency: s.Frequency,
		Metadata:  make(map[string]any, len(s.Metadata)),
	}
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// WithValues returns a copy of s holding values and starting at start.
func (s *Series) WithValues(values []float64, start Period) *Series {
	out := s.Clone()
	out.Values = values
	out.Start = start
	return out
}

// Observed returns the non-missing values.
func (s *Series) Observed() []float64 {
	out := make([]float64, 0, len(s.Values))
	for _, v := range s.Values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Name returns the "name" metadata entry, if any.
func (s *Series) Name() string {
	if s.Metadata == nil {
		return ""
	}
	if n, ok := s.Metadata["name"].(string); ok {
		return n
	}
	return ""
}

// Check verifies the structural invariants of the series: a known
// frequency matching the start period, a valid start and at least one value.
func (s *Series) Check() error {
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, s.Frequency)
	}
	if s.Start.Frequency == "" {
		s.Start.Frequency = s.Frequency
	}
	if s.Start.Frequency != s.Frequency {
		return fmt.Errorf("%w: start period frequency %s does not match %s", ErrInvalidPeriod, s.Start.Frequency, s.Frequency)
	}
	if err := s.Start.Validate(); err != nil {
		return err
	}
	if len(s.Values) == 0 {
		return ErrEmptySeries
	}
	return nil
}

type seriesJSON struct {
	Values    []*float64     `json:"values"`
	Start     Period         `json:"start_period"`
	Frequency Frequency      `json:"frequency"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON encodes missing and non-finite values as null.
func (s Series) MarshalJSON() ([]byte, error) {
	return json.Marshal(seriesJSON{
		Values:    NullableValues(s.Values),
		Start:     s.Start,
		Frequency: s.Frequency,
		Metadata:  s.Metadata,
	})
}

// UnmarshalJSON decodes null values as NaN. A start period without its own
// frequency inherits the series frequency.
func (s *Series) UnmarshalJSON(b []byte) error {
	var raw seriesJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Values = FromNullable(raw.Values)
	s.Start = raw.Start
	s.Frequency = raw.Frequency
	if s.Start.Frequency == "" {
		s.Start.Frequency = s.Frequency
	}
	if s.Frequency == "" {
		s.Frequency = s.Start.Frequency
	}
	s.Metadata = raw.Metadata
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return nil
}

// NullableValues maps NaN and ±Inf to nil pointers for JSON encoding.
func NullableValues(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v := v
		out[i] = &v
	}
	return out
}

// FromNullable maps nil pointers to NaN.
func FromNullable(values []*float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}
