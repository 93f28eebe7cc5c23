package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ACF returns the sample autocorrelations r_0..r_nlags using the biased
// (n-denominator) autocovariance.
func ACF(x []float64, nlags int) []float64 {
	n := len(x)
	if nlags >= n {
		nlags = n - 1
	}
	if nlags < 0 {
		return nil
	}
	m := Mean(x)
	var c0 float64
	for _, v := range x {
		c0 += (v - m) * (v - m)
	}
	out := make([]float64, nlags+1)
	if c0 == 0 {
		out[0] = 1
		return out
	}
	for k := 0; k <= nlags; k++ {
		var ck float64
		for t := k; t < n; t++ {
			ck += (x[t] - m) * (x[t-k] - m)
		}
		out[k] = ck / c0
	}
	return out
}

// PACF returns partial autocorrelations for lags 0..nlags computed from the
// ACF with the Durbin-Levinson recursion.
func PACF(x []float64, nlags int) []float64 {
	r := ACF(x, nlags)
	nlags = len(r) - 1
	out := make([]float64, nlags+1)
	if nlags < 0 {
		return nil
	}
	out[0] = 1
	if nlags == 0 {
		return out
	}
	phi := make([]float64, nlags+1)
	prev := make([]float64, nlags+1)
	phi[1] = r[1]
	out[1] = r[1]
	for k := 2; k <= nlags; k++ {
		copy(prev, phi)
		num := r[k]
		den := 1.0
		for j := 1; j < k; j++ {
			num -= prev[j] * r[k-j]
			den -= prev[j] * r[j]
		}
		if den == 0 {
			break
		}
		phi[k] = num / den
		for j := 1; j < k; j++ {
			phi[j] = prev[j] - phi[k]*prev[k-j]
		}
		out[k] = phi[k]
	}
	return out
}

// PortmanteauResult is the outcome of a Ljung-Box or Box-Pierce test.
type PortmanteauResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	Lags      int     `json:"lags"`
	DF        int     `json:"df"`
}

// LjungBox computes Q = n(n+2) Σ r_k²/(n-k) for k = 1..lags. fitDF is
// subtracted from the chi-square degrees of freedom (model parameters).
func LjungBox(x []float64, lags, fitDF int) (*PortmanteauResult, error) {
	return portmanteau(x, lags, fitDF, true)
}

// BoxPierce computes Q = n Σ r_k² for k = 1..lags.
func BoxPierce(x []float64, lags, fitDF int) (*PortmanteauResult, error) {
	return portmanteau(x, lags, fitDF, false)
}

func portmanteau(x []float64, lags, fitDF int, ljung bool) (*PortmanteauResult, error) {
	n := len(x)
	if lags < 1 {
		return nil, fmt.Errorf("%w: lags must be >= 1", ErrInsufficientData)
	}
	if n <= lags {
		return nil, fmt.Errorf("%w: need more than %d observations, got %d", ErrInsufficientData, lags, n)
	}
	r := ACF(x, lags)
	var q float64
	for k := 1; k <= lags; k++ {
		if ljung {
			q += r[k] * r[k] / float64(n-k)
		} else {
			q += r[k] * r[k]
		}
	}
	if ljung {
		q *= float64(n) * float64(n+2)
	} else {
		q *= float64(n)
	}
	df := lags - fitDF
	if df < 1 {
		df = 1
	}
	return &PortmanteauResult{Statistic: q, PValue: ChiSquareSF(q, float64(df)), Lags: lags, DF: df}, nil
}

// ChiSquareSF is the chi-square survival function.
func ChiSquareSF(x, df float64) float64 {
	if x <= 0 {
		return 1
	}
	return clampP(1 - distuv.ChiSquared{K: df}.CDF(x))
}

// FSF is the F-distribution survival function.
func FSF(x, d1, d2 float64) float64 {
	if x <= 0 || d1 <= 0 || d2 <= 0 {
		return 1
	}
	return clampP(1 - distuv.F{D1: d1, D2: d2}.CDF(x))
}

// NormalTwoSided returns the two-sided standard normal p-value of z.
func NormalTwoSided(z float64) float64 {
	return clampP(2 * (1 - distuv.UnitNormal.CDF(math.Abs(z))))
}

func clampP(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 1
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
