// Package x13 implements an X-13ARIMA-SEATS style adjustment: a RegARIMA
// pre-adjustment with calendar and outlier regressors, an X-11 moving
// average decomposition (or the SEATS-style decomposition), forecasts,
// diagnostics and specification comparison.
package x13

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// ErrInvalidSpecification is returned by Specification.Validate.
var ErrInvalidSpecification = errors.New("invalid specification")

// RegArimaSpec configures the regression model with ARIMA errors.
type RegArimaSpec struct {
	// Model is [p d q] or [p d q P D Q]; nil selects the airline model.
	Model                []int    `json:"model"`
	Variables            []string `json:"variables"`
	TransformFunction    string   `json:"transform_function"`
	OutlierCriticalValue float64  `json:"outlier_critical_value"`
	OutlierMethod        string   `json:"outlier_method"`
}

// X11Spec configures the X-11 decomposition.
type X11Spec struct {
	Mode string `json:"mode"`
	// SeasonalMA is the [a b] of an a×b seasonal moving average.
	SeasonalMA []int     `json:"seasonalma"`
	TrendMA    *int      `json:"trendma"`
	SigmaLim   []float64 `json:"sigmalim"`
}

// SeatsSpec selects the SEATS-style decomposition instead of X-11.
type SeatsSpec struct {
	NoAdmiss   bool    `json:"noadmiss"`
	XLBoundary float64 `json:"xl_boundary"`
	RMod       float64 `json:"rmod"`
	SMod       float64 `json:"smod"`
}

// UnmarshalJSON fills omitted SEATS settings from DefaultSeatsSpec.
func (s *SeatsSpec) UnmarshalJSON(b []byte) error {
	type plain SeatsSpec
	p := plain(DefaultSeatsSpec())
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = SeatsSpec(p)
	return nil
}

// Specification is a complete X-13 configuration. Decode JSON over
// DefaultSpecification so omitted fields keep their defaults.
type Specification struct {
	SeriesSpan      []string     `json:"series_span"`
	RegArima        RegArimaSpec `json:"regarima"`
	X11             *X11Spec     `json:"x11"`
	Seats           *SeatsSpec   `json:"seats"`
	ForecastMaxLead int          `json:"forecast_maxlead"`
	CheckMaxLag     int          `json:"check_maxlag"`
}

// Variables are the recognised regression variable names.
var Variables = []string{"td", "easter", "ao", "ls", "tc", "user"}

// DefaultSeatsSpec returns the SEATS defaults used when a request asks
// for SEATS without settings.
func DefaultSeatsSpec() SeatsSpec {
	return SeatsSpec{XLBoundary: 0.95, RMod: 0.5, SMod: 0.8}
}

// DefaultSpecification returns the X-11 based defaults.
func DefaultSpecification() Specification {
	return Specification{
		RegArima: RegArimaSpec{
			Variables:            []string{"td", "easter", "ao", "ls"},
			TransformFunction:    "auto",
			OutlierCriticalValue: 3.0,
			OutlierMethod:        "addone",
		},
		X11: &X11Spec{
			Mode:       "mult",
			SeasonalMA: []int{3, 3},
			SigmaLim:   []float64{1.5, 2.5},
		},
		ForecastMaxLead: 12,
		CheckMaxLag:     24,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidSpecification}, args...)...)
}

// Validate range-checks the specification.
func (s *Specification) Validate() error {
	r := s.RegArima
	if r.Model != nil {
		if len(r.Model) != 3 && len(r.Model) != 6 {
			return invalid("regarima.model must have 3 or 6 orders, got %d", len(r.Model))
		}
		for _, o := range r.Model {
			if o < 0 || o > 5 {
				return invalid("regarima.model orders must be between 0 and 5")
			}
		}
	}
	for _, v := range r.Variables {
		if !slices.Contains(Variables, v) {
			return invalid("unknown regression variable %q", v)
		}
	}
	switch r.TransformFunction {
	case "auto", "log", "none":
	default:
		return invalid("transform_function must be auto, log or none, got %q", r.TransformFunction)
	}
	if r.OutlierCriticalValue <= 0 {
		return invalid("outlier_critical_value must be positive")
	}
	switch r.OutlierMethod {
	case "addone", "addall":
	default:
		return invalid("outlier_method must be addone or addall, got %q", r.OutlierMethod)
	}

	if x := s.X11; x != nil {
		switch x.Mode {
		case "add", "mult", "logadd", "pseudoadd":
		default:
			return invalid("x11.mode must be add, mult, logadd or pseudoadd, got %q", x.Mode)
		}
		if x.SeasonalMA != nil {
			if len(x.SeasonalMA) != 2 || x.SeasonalMA[0] < 1 || x.SeasonalMA[1] < 1 {
				return invalid("x11.seasonalma must be two positive spans")
			}
		}
		if x.TrendMA != nil && (*x.TrendMA < 3 || *x.TrendMA > 101) {
			return invalid("x11.trendma must be between 3 and 101")
		}
		if len(x.SigmaLim) != 2 || x.SigmaLim[0] <= 0 || x.SigmaLim[1] <= x.SigmaLim[0] {
			return invalid("x11.sigmalim must be two increasing positive limits")
		}
	}
	if st := s.Seats; st != nil {
		for name, v := range map[string]float64{"xl_boundary": st.XLBoundary, "rmod": st.RMod, "smod": st.SMod} {
			if v <= 0 || v >= 1 {
				return invalid("seats.%s must be in (0, 1), got %g", name, v)
			}
		}
	}
	if s.X11 == nil && s.Seats == nil {
		return invalid("either x11 or seats must be specified")
	}
	if s.ForecastMaxLead < 1 || s.ForecastMaxLead > 60 {
		return invalid("forecast_maxlead must be between 1 and 60, got %d", s.ForecastMaxLead)
	}
	if s.CheckMaxLag < 1 {
		return invalid("check_maxlag must be positive")
	}
	if s.SeriesSpan != nil {
		if len(s.SeriesSpan) != 2 {
			return invalid("series_span must be [start, end]")
		}
		for _, v := range s.SeriesSpan {
			if _, _, err := parseSpanPoint(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Warnings lists settings that are accepted but probably unintended.
func (s *Specification) Warnings() []string {
	w := []string{}
	if s.X11 != nil && s.Seats != nil {
		w = append(w, "both x11 and seats are specified; seats is used for the decomposition")
	}
	if slices.Contains(s.RegArima.Variables, "user") {
		w = append(w, "user-defined regressors are not supported and are ignored")
	}
	if s.RegArima.OutlierCriticalValue < 2.5 {
		w = append(w, fmt.Sprintf("outlier critical value %.2f is low and may flag many outliers", s.RegArima.OutlierCriticalValue))
	}
	if s.X11 != nil {
		if s.X11.TrendMA != nil && *s.X11.TrendMA%2 == 0 {
			w = append(w, fmt.Sprintf("trendma %d is even and is rounded up to %d", *s.X11.TrendMA, *s.X11.TrendMA+1))
		}
		if s.X11.Mode == "add" && s.RegArima.TransformFunction == "log" {
			w = append(w, "additive decomposition combined with a log transformation")
		}
	}
	if s.ForecastMaxLead > 24 {
		w = append(w, fmt.Sprintf("forecast_maxlead %d is long; intervals widen quickly", s.ForecastMaxLead))
	}
	if s.RegArima.Model != nil && len(s.RegArima.Model) == 3 {
		w = append(w, "non-seasonal model specified; seasonality is left to the decomposition")
	}
	return w
}

// order converts the model list to an ArimaOrder for series of the given
// seasonal period.
func (r RegArimaSpec) order(period int) tsdata.ArimaOrder {
	o := tsdata.ArimaOrder{P: 1, D: 1, Q: 1, SD: 1, SQ: 1}
	switch len(r.Model) {
	case 3:
		o = tsdata.ArimaOrder{P: r.Model[0], D: r.Model[1], Q: r.Model[2]}
	case 6:
		o = tsdata.ArimaOrder{P: r.Model[0], D: r.Model[1], Q: r.Model[2], SP: r.Model[3], SD: r.Model[4], SQ: r.Model[5]}
	}
	if period > 1 && (o.SP > 0 || o.SD > 0 || o.SQ > 0) {
		o.Period = period
	} else {
		o.SP, o.SD, o.SQ = 0, 0, 0
	}
	return o
}

func (r RegArimaSpec) has(v string) bool {
	return slices.Contains(r.Variables, v)
}

// parseSpanPoint reads "YYYY.P", the year and the period within the year.
func parseSpanPoint(v string) (year, period int, err error) {
	y, p, ok := strings.Cut(v, ".")
	if !ok {
		return 0, 0, invalid("series_span entry %q must look like YYYY.P", v)
	}
	if year, err = strconv.Atoi(y); err != nil {
		return 0, 0, invalid("series_span entry %q has a bad year", v)
	}
	if period, err = strconv.Atoi(p); err != nil || period < 1 {
		return 0, 0, invalid("series_span entry %q has a bad period", v)
	}
	return year, period, nil
}

// applySpan restricts s to the inclusive span.
func applySpan(s *tsdata.Series, span []string) (*tsdata.Series, error) {
	if len(span) != 2 {
		return s, nil
	}
	y0, p0, err := parseSpanPoint(span[0])
	if err != nil {
		return nil, err
	}
	y1, p1, err := parseSpanPoint(span[1])
	if err != nil {
		return nil, err
	}
	from := tsdata.Period{Year: y0, Period: p0, Frequency: s.Frequency}
	to := tsdata.Period{Year: y1, Period: p1, Frequency: s.Frequency}
	if err := from.Validate(); err != nil {
		return nil, invalid("series_span start: %v", err)
	}
	if err := to.Validate(); err != nil {
		return nil, invalid("series_span end: %v", err)
	}
	i0 := max(from.Sub(s.Start), 0)
	i1 := min(to.Sub(s.Start), s.Len()-1)
	if i1 < i0 {
		return nil, invalid("series_span %s..%s does not overlap the series", span[0], span[1])
	}
	return s.WithValues(slices.Clone(s.Values[i0:i1+1]), s.PeriodAt(i0)), nil
}
