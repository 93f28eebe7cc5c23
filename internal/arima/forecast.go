package arima

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/demetra.report/internal/mathops"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// ForecastPoint is one step of a forecast with its prediction interval.
type ForecastPoint struct {
	Period   tsdata.Period `json:"period"`
	Forecast float64       `json:"forecast"`
	Lower    float64       `json:"lower_bound"`
	Upper    float64       `json:"upper_bound"`
	StdErr   float64       `json:"std_error"`
}

// PsiWeights returns the first n coefficients of the MA(∞) representation
// of the model including its differencing operators.
func PsiWeights(m *tsdata.ArimaModel, n int) []float64 {
	phi, theta := integratedLags(m)
	return psiWeights(phi, theta, n)
}

func psiWeights(phi, theta []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	psi := make([]float64, n)
	psi[0] = 1
	for j := 1; j < n; j++ {
		v := 0.0
		if j <= len(theta) {
			v = theta[j-1]
		}
		for i := 1; i <= min(j, len(phi)); i++ {
			v += phi[i-1] * psi[j-i]
		}
		psi[j] = v
	}
	return psi
}

// integratedLags returns the AR lags of φ(B)Φ(B^s)(1-B)^d(1-B^s)^D and the
// MA lags of θ(B)Θ(B^s).
func integratedLags(m *tsdata.ArimaModel) (phi, theta []float64) {
	o := m.Order
	period := max(o.Period, 1)
	ar := expand(m.AR, m.SAR, period, true)
	arPoly := make([]float64, len(ar)+1)
	arPoly[0] = 1
	for i, c := range ar {
		arPoly[i+1] = -c
	}
	full := arPoly
	if o.D+o.SD > 0 {
		full = mathops.MultiplyPoly(arPoly, differencePoly(o.D, o.SD, period))
	}
	phi = make([]float64, len(full)-1)
	for i := range phi {
		phi[i] = -full[i+1]
	}
	return trimZeros(phi), expand(m.MA, m.SMA, period, false)
}

// Forecast projects s forward horizon steps from model m. Interval widths
// come from the psi weights: Var(h) = σ² Σ_{j<h} ψ_j².
func Forecast(s *tsdata.Series, m *tsdata.ArimaModel, horizon int, level float64) ([]ForecastPoint, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("%w: horizon must be at least 1", ErrInvalidHorizon)
	}
	if level <= 0 || level >= 1 {
		return nil, fmt.Errorf("%w: confidence level must be in (0, 1)", ErrInvalidHorizon)
	}
	x := s.Values
	_, e, start, err := Residuals(x, m)
	if err != nil {
		return nil, err
	}

	n := len(x)
	offset := m.Order.D + m.Order.SD*m.Order.Period
	errs := make([]float64, n+horizon)
	for t := start; t < len(e); t++ {
		errs[t+offset] = e[t]
	}
	xs := make([]float64, n+horizon)
	copy(xs, x)

	phi, theta := integratedLags(m)
	mu := meanOf(m)
	for h := 0; h < horizon; h++ {
		t := n + h
		v := mu
		for i, c := range phi {
			if t-i-1 >= 0 {
				v += c * (xs[t-i-1] - mu)
			}
		}
		for j, c := range theta {
			if k := t - j - 1; k >= 0 && k < n {
				v += c * errs[k]
			}
		}
		xs[t] = v
	}

	psi := psiWeights(phi, theta, horizon)
	z := distuv.UnitNormal.Quantile(0.5 + level/2)
	out := make([]ForecastPoint, horizon)
	var acc float64
	end := s.End()
	for h := 0; h < horizon; h++ {
		acc += psi[h] * psi[h]
		se := math.Sqrt(m.Sigma2 * acc)
		f := xs[n+h]
		out[h] = ForecastPoint{
			Period:   end.Add(h + 1),
			Forecast: f,
			Lower:    f - z*se,
			Upper:    f + z*se,
			StdErr:   se,
		}
	}
	return out, nil
}
