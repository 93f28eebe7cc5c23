package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// OLSResult holds an ordinary least squares fit.
type OLSResult struct {
	Coef      []float64
	StdErr    []float64
	TStat     []float64
	Residuals []float64
	SSR       float64
	Sigma2    float64
	NObs      int
	K         int
}

// LogLik is the Gaussian log-likelihood of the fit.
func (r *OLSResult) LogLik() float64 {
	n := float64(r.NObs)
	return -n / 2 * (math.Log(2*math.Pi) + math.Log(r.SSR/n) + 1)
}

// AIC is -2 logL + 2k.
func (r *OLSResult) AIC() float64 {
	return -2*r.LogLik() + 2*float64(r.K)
}

// OLS regresses y on the columns of X (n×k, row-major rows). It uses a QR
// factorisation for the coefficients and (X'X)^-1 for standard errors.
func OLS(X [][]float64, y []float64) (*OLSResult, error) {
	n := len(y)
	if n == 0 || len(X) != n {
		return nil, fmt.Errorf("%w: design has %d rows for %d observations", ErrInsufficientData, len(X), n)
	}
	k := len(X[0])
	if n < k {
		return nil, fmt.Errorf("%w: %d observations for %d regressors", ErrInsufficientData, n, k)
	}
	data := make([]float64, 0, n*k)
	for _, row := range X {
		if len(row) != k {
			return nil, fmt.Errorf("ragged design matrix")
		}
		data = append(data, row...)
	}
	x := mat.NewDense(n, k, data)
	yv := mat.NewVecDense(n, append([]float64(nil), y...))

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, yv); err != nil {
		return nil, fmt.Errorf("least squares solve: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	res := &OLSResult{
		Coef:      make([]float64, k),
		StdErr:    make([]float64, k),
		TStat:     make([]float64, k),
		Residuals: make([]float64, n),
		NObs:      n,
		K:         k,
	}
	for i := 0; i < n; i++ {
		e := y[i] - fitted.AtVec(i)
		res.Residuals[i] = e
		res.SSR += e * e
	}
	for j := 0; j < k; j++ {
		res.Coef[j] = beta.AtVec(j)
	}
	if n > k {
		res.Sigma2 = res.SSR / float64(n-k)
	}

	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err == nil {
		for j := 0; j < k; j++ {
			se := math.Sqrt(math.Abs(res.Sigma2 * inv.At(j, j)))
			res.StdErr[j] = se
			if se > 0 {
				res.TStat[j] = res.Coef[j] / se
			}
		}
	}
	return res, nil
}

// LinearTrend fits y = intercept + slope*t for t = 0..n-1.
func LinearTrend(y []float64) (intercept, slope float64) {
	switch len(y) {
	case 0:
		return 0, 0
	case 1:
		return y[0], 0
	}
	t := make([]float64, len(y))
	for i := range t {
		t[i] = float64(i)
	}
	return stat.LinearRegression(t, y, nil, false)
}
