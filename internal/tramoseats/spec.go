// Package tramoseats implements a TRAMO pre-adjustment (transformation,
// outlier screen, calendar regression and ARIMA fit) followed by a
// SEATS-style moving-average decomposition and its quality diagnostics.
package tramoseats

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidSpecification is returned by Specification.Validate.
var ErrInvalidSpecification = errors.New("invalid specification")

// ArimaSpec fixes the ARIMA order. A nil regular order selects the
// default airline model.
type ArimaSpec struct {
	P    *int `json:"p"`
	D    *int `json:"d"`
	Q    *int `json:"q"`
	BP   *int `json:"bp"`
	BD   *int `json:"bd"`
	BQ   *int `json:"bq"`
	Mean bool `json:"mean"`
}

type OutlierSpec struct {
	Enabled       bool     `json:"enabled"`
	Types         []string `json:"types"`
	CriticalValue float64  `json:"critical_value"`
}

type CalendarSpec struct {
	TradingDays bool `json:"trading_days"`
	Easter      bool `json:"easter"`
	LeapYear    bool `json:"leap_year"`
}

// Any reports whether at least one calendar effect is requested.
func (c CalendarSpec) Any() bool {
	return c.TradingDays || c.Easter || c.LeapYear
}

type TransformSpec struct {
	Function string `json:"function"`
}

type DecompositionSpec struct {
	Approximation      string  `json:"approximation"`
	MAUnitRootBoundary float64 `json:"ma_unit_root_boundary"`
	TrendBoundary      float64 `json:"trend_boundary"`
	SeasBoundary       float64 `json:"seas_boundary"`
	SeasBoundaryAtPi   float64 `json:"seas_boundary_at_pi"`
}

// Specification is the complete TRAMO/SEATS configuration. Decode JSON
// over DefaultSpecification so omitted fields keep their defaults.
type Specification struct {
	Arima         ArimaSpec         `json:"arima"`
	Outlier       OutlierSpec       `json:"outlier"`
	Calendar      CalendarSpec      `json:"calendar"`
	Transform     TransformSpec     `json:"transform"`
	Decomposition DecompositionSpec `json:"decomposition"`
}

// OutlierTypes are the recognised outlier codes.
var OutlierTypes = []string{"AO", "LS", "TC", "SO"}

// DefaultSpecification returns the RSA-like defaults.
func DefaultSpecification() Specification {
	return Specification{
		Arima: ArimaSpec{Mean: true},
		Outlier: OutlierSpec{
			Enabled:       true,
			Types:         []string{"AO", "LS", "TC"},
			CriticalValue: 3.5,
		},
		Transform: TransformSpec{Function: "auto"},
		Decomposition: DecompositionSpec{
			Approximation:      "legacy",
			MAUnitRootBoundary: 0.95,
			TrendBoundary:      0.5,
			SeasBoundary:       0.8,
			SeasBoundaryAtPi:   0.8,
		},
	}
}

func checkRange(name string, v *int, hi int) error {
	if v != nil && (*v < 0 || *v > hi) {
		return fmt.Errorf("%w: arima.%s must be between 0 and %d, got %d", ErrInvalidSpecification, name, hi, *v)
	}
	return nil
}

func checkUnit(name string, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%w: decomposition.%s must be in (0, 1), got %g", ErrInvalidSpecification, name, v)
	}
	return nil
}

// Validate range-checks every field.
func (s *Specification) Validate() error {
	a := s.Arima
	for _, c := range []struct {
		name string
		v    *int
		hi   int
	}{
		{"p", a.P, 3}, {"d", a.D, 2}, {"q", a.Q, 3},
		{"bp", a.BP, 1}, {"bd", a.BD, 1}, {"bq", a.BQ, 1},
	} {
		if err := checkRange(c.name, c.v, c.hi); err != nil {
			return err
		}
	}

	if s.Outlier.CriticalValue <= 0 {
		return fmt.Errorf("%w: outlier.critical_value must be positive", ErrInvalidSpecification)
	}
	for _, t := range s.Outlier.Types {
		if !slices.Contains(OutlierTypes, t) {
			return fmt.Errorf("%w: unknown outlier type %q", ErrInvalidSpecification, t)
		}
	}

	switch s.Transform.Function {
	case "none", "log", "auto":
	default:
		return fmt.Errorf("%w: transform.function must be none, log or auto, got %q", ErrInvalidSpecification, s.Transform.Function)
	}

	d := s.Decomposition
	switch d.Approximation {
	case "none", "legacy", "noisy":
	default:
		return fmt.Errorf("%w: decomposition.approximation must be none, legacy or noisy, got %q", ErrInvalidSpecification, d.Approximation)
	}
	for name, v := range map[string]float64{
		"ma_unit_root_boundary": d.MAUnitRootBoundary,
		"trend_boundary":        d.TrendBoundary,
		"seas_boundary":         d.SeasBoundary,
		"seas_boundary_at_pi":   d.SeasBoundaryAtPi,
	} {
		if err := checkUnit(name, v); err != nil {
			return err
		}
	}
	return nil
}

// hasOrder reports whether the regular ARIMA order is fully specified.
func (a ArimaSpec) hasOrder() bool {
	return a.P != nil && a.D != nil && a.Q != nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
