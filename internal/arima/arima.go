// Package arima estimates seasonal ARIMA models, forecasts from them,
// identifies orders automatically and checks residual diagnostics.
package arima

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/demetra.report/internal/mathops"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

var (
	ErrInsufficientData = errors.New("insufficient data for the specified order")
	ErrMissingValues    = errors.New("series contains missing values")
	ErrInvalidMethod    = errors.New("invalid estimation method")
	ErrInvalidHorizon   = errors.New("invalid forecast horizon")
	ErrUnknownTest      = errors.New("unknown diagnostic test")
)

// Method selects the estimation objective.
type Method string

const (
	MethodCSS   Method = "css"
	MethodML    Method = "mle"
	MethodCSSML Method = "css-mle"
)

// ParseMethod accepts css, mle and css-mle; empty means css-mle.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "":
		return MethodCSSML, nil
	case MethodCSS, MethodML, MethodCSSML:
		return Method(s), nil
	}
	return "", fmt.Errorf("%w: %q (expected css, mle or css-mle)", ErrInvalidMethod, s)
}

// lagPoly builds 1 + sign·(c1 B^step + c2 B^2step + ...) in ascending powers.
func lagPoly(coef []float64, step int, sign float64) []float64 {
	out := make([]float64, len(coef)*step+1)
	out[0] = 1
	for i, c := range coef {
		out[(i+1)*step] = sign * c
	}
	return out
}

// expand multiplies the regular and seasonal polynomials and returns the
// lag coefficients 1..k. AR coefficients come back with the sign used in
// w_t = Σ φ_i w_{t-i} + ..., MA with the sign used in ... + Σ θ_j e_{t-j}.
func expand(regular, seasonal []float64, period int, ar bool) []float64 {
	sign := 1.0
	if ar {
		sign = -1
	}
	step := period
	if step < 1 {
		step = 1
	}
	poly := mathops.MultiplyPoly(lagPoly(regular, 1, sign), lagPoly(seasonal, step, sign))
	out := make([]float64, len(poly)-1)
	for i := range out {
		out[i] = sign * poly[i+1]
	}
	return trimZeros(out)
}

func trimZeros(c []float64) []float64 {
	for len(c) > 0 && c[len(c)-1] == 0 {
		c = c[:len(c)-1]
	}
	return c
}

// differencePoly is (1-B)^d (1-B^s)^D in ascending powers.
func differencePoly(d, sd, period int) []float64 {
	poly := []float64{1}
	for i := 0; i < d; i++ {
		poly = mathops.MultiplyPoly(poly, []float64{1, -1})
	}
	for i := 0; i < sd; i++ {
		seasonal := make([]float64, period+1)
		seasonal[0], seasonal[period] = 1, -1
		poly = mathops.MultiplyPoly(poly, seasonal)
	}
	return poly
}

// stable reports whether every root of 1 ∓ c1 z ∓ ... lies outside the
// unit circle (stationary AR, invertible MA).
func stable(coef []float64, ar bool) bool {
	coef = trimZeros(append([]float64(nil), coef...))
	if len(coef) == 0 {
		return true
	}
	sign := 1.0
	if ar {
		sign = -1
	}
	// mathops polynomials run from the highest power down.
	p := make([]float64, len(coef)+1)
	p[len(coef)] = 1
	for i, c := range coef {
		p[len(coef)-1-i] = sign * c
	}
	roots, err := mathops.Roots(p)
	if err != nil {
		return false
	}
	limit := 1.0
	if ar {
		limit = 1.0001
	}
	for _, r := range roots {
		if math.Hypot(r.Real, r.Imag) <= limit {
			return false
		}
	}
	return true
}

// difference applies d regular and sd seasonal differences.
func difference(x []float64, order tsdata.ArimaOrder) []float64 {
	w := append([]float64(nil), x...)
	for i := 0; i < order.D; i++ {
		w = diffOnce(w, 1)
	}
	for i := 0; i < order.SD; i++ {
		w = diffOnce(w, order.Period)
	}
	return w
}

func diffOnce(x []float64, lag int) []float64 {
	if len(x) <= lag {
		return nil
	}
	out := make([]float64, len(x)-lag)
	for t := range out {
		out[t] = x[t+lag] - x[t]
	}
	return out
}

// cssResiduals runs the conditional recursion
// e_t = (w_t-μ) - Σ φ_i (w_{t-i}-μ) - Σ θ_j e_{t-j} from t = len(phi),
// with pre-sample errors set to zero.
func cssResiduals(w, phi, theta []float64, mean float64) (e []float64, start int) {
	n := len(w)
	start = len(phi)
	e = make([]float64, n)
	for t := start; t < n; t++ {
		v := w[t] - mean
		for i, c := range phi {
			v -= c * (w[t-i-1] - mean)
		}
		for j, c := range theta {
			if t-j-1 >= 0 {
				v -= c * e[t-j-1]
			}
		}
		e[t] = v
	}
	return e, start
}

func checkValues(x []float64) error {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrMissingValues
		}
	}
	return nil
}

func meanOf(m *tsdata.ArimaModel) float64 {
	if m.Intercept == nil || m.Order.D+m.Order.SD > 0 {
		return 0
	}
	return *m.Intercept
}

// Residuals recomputes the innovations of a fitted model on the
// differenced scale. The first start values are conditioning zeros.
func Residuals(x []float64, m *tsdata.ArimaModel) (w, e []float64, start int, err error) {
	if err := checkValues(x); err != nil {
		return nil, nil, 0, err
	}
	w = difference(x, m.Order)
	if len(w) == 0 {
		return nil, nil, 0, ErrInsufficientData
	}
	phi := expand(m.AR, m.SAR, m.Order.Period, true)
	theta := expand(m.MA, m.SMA, m.Order.Period, false)
	if len(phi) >= len(w) {
		return nil, nil, 0, ErrInsufficientData
	}
	e, start = cssResiduals(w, phi, theta, meanOf(m))
	return w, e, start, nil
}
