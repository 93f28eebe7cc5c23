package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// ShapiroWilk returns the W statistic and its p-value using Royston's
// polynomial approximations (valid for 3 <= n <= 5000).
func ShapiroWilk(x []float64) (w, p float64, err error) {
	n := len(x)
	if n < 3 {
		return 0, 0, fmt.Errorf("%w: Shapiro-Wilk needs at least 3 observations", ErrInsufficientData)
	}
	if n > 5000 {
		return 0, 0, fmt.Errorf("Shapiro-Wilk supports at most 5000 observations, got %d", n)
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	if sorted[n-1]-sorted[0] == 0 {
		return 1, 1, nil
	}

	a := make([]float64, n)
	if n == 3 {
		a[0], a[2] = -math.Sqrt(0.5), math.Sqrt(0.5)
	} else {
		m := make([]float64, n)
		var mm float64
		for i := 0; i < n; i++ {
			m[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
			mm += m[i] * m[i]
		}
		u := 1 / math.Sqrt(float64(n))
		cn := m[n-1] / math.Sqrt(mm)
		an := cn + 0.221157*u - 0.147981*u*u - 2.071190*math.Pow(u, 3) + 4.434685*math.Pow(u, 4) - 2.706056*math.Pow(u, 5)
		var phi float64
		if n > 5 {
			cn1 := m[n-2] / math.Sqrt(mm)
			an1 := cn1 + 0.042981*u - 0.293762*u*u - 1.752461*math.Pow(u, 3) + 5.682633*math.Pow(u, 4) - 3.582633*math.Pow(u, 5)
			phi = (mm - 2*m[n-1]*m[n-1] - 2*m[n-2]*m[n-2]) / (1 - 2*an*an - 2*an1*an1)
			for i := 2; i < n-2; i++ {
				a[i] = m[i] / math.Sqrt(phi)
			}
			a[n-2], a[1] = an1, -an1
		} else {
			phi = (mm - 2*m[n-1]*m[n-1]) / (1 - 2*an*an)
			for i := 1; i < n-1; i++ {
				a[i] = m[i] / math.Sqrt(phi)
			}
		}
		a[n-1], a[0] = an, -an
	}

	mean := Mean(sorted)
	var num, den float64
	for i, v := range sorted {
		num += a[i] * v
		den += (v - mean) * (v - mean)
	}
	w = num * num / den
	if w > 1 {
		w = 1
	}

	switch {
	case n == 3:
		p = 6 / math.Pi * (math.Asin(math.Sqrt(w)) - math.Asin(math.Sqrt(0.75)))
		return w, clampP(p), nil
	case n <= 11:
		nf := float64(n)
		gamma := 0.459*nf - 2.273
		mu := 0.5440 - 0.39978*nf + 0.025054*nf*nf - 0.0006714*nf*nf*nf
		sigma := math.Exp(1.3822 - 0.77857*nf + 0.062767*nf*nf - 0.0020322*nf*nf*nf)
		arg := gamma - math.Log(1-w)
		if arg <= 0 || w >= 1 {
			return w, 1, nil
		}
		z := (-math.Log(arg) - mu) / sigma
		p = 1 - distuv.UnitNormal.CDF(z)
	default:
		ln := math.Log(float64(n))
		mu := -1.5861 - 0.31082*ln - 0.083751*ln*ln + 0.0038915*ln*ln*ln
		sigma := math.Exp(-0.4803 - 0.082676*ln + 0.0030302*ln*ln)
		if w >= 1 {
			return w, 1, nil
		}
		z := (math.Log(1-w) - mu) / sigma
		p = 1 - distuv.UnitNormal.CDF(z)
	}
	return w, clampP(p), nil
}

// JarqueBera returns JB = n/6 (S² + K²/4) and its chi-square(2) p-value.
func JarqueBera(x []float64) (jb, p float64, err error) {
	n := len(x)
	if n < 2 {
		return 0, 0, fmt.Errorf("%w: Jarque-Bera needs at least 2 observations", ErrInsufficientData)
	}
	s := Skewness(x)
	k := Kurtosis(x)
	jb = float64(n) / 6 * (s*s + k*k/4)
	return jb, ChiSquareSF(jb, 2), nil
}

// AndersonResult is the Anderson-Darling normality statistic with the
// critical values at the 15, 10, 5, 2.5 and 1 percent levels.
type AndersonResult struct {
	Statistic          float64
	CriticalValues     []float64
	SignificanceLevels []float64
}

var andersonNormBase = []float64{0.576, 0.656, 0.787, 0.918, 1.092}

// AndersonDarling tests x against a normal with estimated mean and
// standard deviation.
func AndersonDarling(x []float64) (*AndersonResult, error) {
	n := len(x)
	if n < 3 {
		return nil, fmt.Errorf("%w: Anderson-Darling needs at least 3 observations", ErrInsufficientData)
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	mean := Mean(sorted)
	sd := Std(sorted, 1)
	if sd == 0 {
		return nil, fmt.Errorf("%w: zero variance", ErrInsufficientData)
	}
	nf := float64(n)
	var s float64
	for i := 0; i < n; i++ {
		zi := distuv.UnitNormal.CDF((sorted[i] - mean) / sd)
		zj := distuv.UnitNormal.CDF((sorted[n-1-i] - mean) / sd)
		zi = math.Min(math.Max(zi, 1e-300), 1-1e-16)
		zj = math.Min(math.Max(zj, 1e-300), 1-1e-16)
		s += float64(2*i+1) * (math.Log(zi) + math.Log(1-zj))
	}
	a2 := -nf - s/nf

	res := &AndersonResult{
		Statistic:          a2,
		CriticalValues:     make([]float64, len(andersonNormBase)),
		SignificanceLevels: []float64{15, 10, 5, 2.5, 1},
	}
	for i, v := range andersonNormBase {
		res.CriticalValues[i] = math.Round(v/(1+4/nf-25/(nf*nf))*1000) / 1000
	}
	return res, nil
}
