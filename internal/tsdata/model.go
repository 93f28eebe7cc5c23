package tsdata

import "fmt"

// ArimaOrder is the (p,d,q)(P,D,Q)[s] order of a seasonal ARIMA model.
type ArimaOrder struct {
	P      int `json:"p"`
	D      int `json:"d"`
	Q      int `json:"q"`
	SP     int `json:"seasonal_p"`
	SD     int `json:"seasonal_d"`
	SQ     int `json:"seasonal_q"`
	Period int `json:"seasonal_period"`
}

// Validate enforces non-negative orders and a seasonal period whenever a
// seasonal term is present.
func (o ArimaOrder) Validate() error {
	if o.P < 0 || o.D < 0 || o.Q < 0 {
		return fmt.Errorf("%w: orders must be non-negative", ErrInvalidOrder)
	}
	if o.SP < 0 || o.SD < 0 || o.SQ < 0 {
		return fmt.Errorf("%w: seasonal orders must be non-negative", ErrInvalidOrder)
	}
	if o.Period < 0 {
		return fmt.Errorf("%w: seasonal period must be non-negative", ErrInvalidOrder)
	}
	if (o.SP > 0 || o.SD > 0 || o.SQ > 0) && o.Period == 0 {
		return fmt.Errorf("%w: seasonal period must be specified when using seasonal components", ErrInvalidOrder)
	}
	return nil
}

// IsSeasonal reports whether the model carries a seasonal part.
func (o ArimaOrder) IsSeasonal() bool {
	return o.Period > 0 && (o.SP > 0 || o.SD > 0 || o.SQ > 0)
}

func (o ArimaOrder) String() string {
	base := fmt.Sprintf("ARIMA(%d,%d,%d)", o.P, o.D, o.Q)
	if o.IsSeasonal() {
		return fmt.Sprintf("%sx(%d,%d,%d)[%d]", base, o.SP, o.SD, o.SQ, o.Period)
	}
	return base
}

// ArimaModel is an estimated seasonal ARIMA model.
type ArimaModel struct {
	Order         ArimaOrder `json:"order"`
	AR            []float64  `json:"ar_params"`
	MA            []float64  `json:"ma_params"`
	SAR           []float64  `json:"seasonal_ar_params"`
	SMA           []float64  `json:"seasonal_ma_params"`
	Intercept     *float64   `json:"intercept,omitempty"`
	Sigma2        float64    `json:"sigma2"`
	LogLikelihood float64    `json:"log_likelihood"`
	AIC           float64    `json:"aic"`
	BIC           float64    `json:"bic"`
}

// Validate checks parameter counts against the order and that sigma2 > 0.
func (m *ArimaModel) Validate() error {
	if err := m.Order.Validate(); err != nil {
		return err
	}
	check := func(name string, params []float64, want int) error {
		if len(params) != want {
			return fmt.Errorf("%w: expected %d %s parameters, got %d", ErrInvalidModel, want, name, len(params))
		}
		return nil
	}
	if err := check("AR", m.AR, m.Order.P); err != nil {
		return err
	}
	if err := check("MA", m.MA, m.Order.Q); err != nil {
		return err
	}
	if err := check("seasonal AR", m.SAR, m.Order.SP); err != nil {
		return err
	}
	if err := check("seasonal MA", m.SMA, m.Order.SQ); err != nil {
		return err
	}
	if m.Sigma2 <= 0 {
		return fmt.Errorf("%w: sigma2 must be positive", ErrInvalidModel)
	}
	return nil
}

// NParameters counts the estimated coefficients plus the innovation variance.
func (m *ArimaModel) NParameters() int {
	n := 1 + m.Order.P + m.Order.Q
	if m.Order.IsSeasonal() {
		n += m.Order.SP + m.Order.SQ
	}
	return n
}

// ComponentType names a decomposition component.
type ComponentType string

const (
	Trend              ComponentType = "trend"
	Seasonal           ComponentType = "seasonal"
	Irregular          ComponentType = "irregular"
	TrendCycle         ComponentType = "trend_cycle"
	SeasonallyAdjusted ComponentType = "seasonally_adjusted"
	Calendar           ComponentType = "calendar"
	Outlier            ComponentType = "outlier"
)

// DecompositionMode is how components combine into the observed series.
type DecompositionMode string

const (
	Additive       DecompositionMode = "additive"
	Multiplicative DecompositionMode = "multiplicative"
	LogAdditive    DecompositionMode = "log_additive"
	PseudoAdditive DecompositionMode = "pseudo_additive"
)

// SeasonalComponent is one extracted component of a decomposition.
type SeasonalComponent struct {
	Type      ComponentType `json:"component_type"`
	Values    []float64     `json:"values"`
	Start     Period        `json:"start_period"`
	Frequency Frequency     `json:"frequency"`
}

// Series returns the component as a Series.
func (c SeasonalComponent) Series() *Series {
	return &Series{
		Values:    c.Values,
		Start:     c.Start,
		Frequency: c.Frequency,
		Metadata:  map[string]any{"component": string(c.Type)},
	}
}

// Decomposition groups the components extracted from one series.
type Decomposition struct {
	Mode       DecompositionMode                   `json:"mode"`
	Components map[ComponentType]SeasonalComponent `json:"components"`
}

// NewDecomposition wraps component value slices sharing s's calendar.
func NewDecomposition(s *Series, mode DecompositionMode, parts map[ComponentType][]float64) *Decomposition {
	d := &Decomposition{Mode: mode, Components: make(map[ComponentType]SeasonalComponent, len(parts))}
	for t, v := range parts {
		d.Components[t] = SeasonalComponent{Type: t, Values: v, Start: s.Start, Frequency: s.Frequency}
	}
	return d
}
