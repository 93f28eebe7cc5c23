package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Regression selects the deterministic terms in unit-root regressions.
type Regression string

const (
	RegNone           Regression = "n"
	RegConstant       Regression = "c"
	RegConstTrend     Regression = "ct"
	RegConstTrendQuad Regression = "ctt"
)

func (r Regression) nTrend() int {
	switch r {
	case RegNone:
		return 0
	case RegConstant:
		return 1
	case RegConstTrend:
		return 2
	case RegConstTrendQuad:
		return 3
	}
	return -1
}

// UnitRootResult is the outcome of an ADF, Phillips-Perron or KPSS test.
type UnitRootResult struct {
	Statistic      float64            `json:"statistic"`
	PValue         float64            `json:"p_value"`
	Lags           int                `json:"lags_used"`
	NObs           int                `json:"n_obs"`
	CriticalValues map[string]float64 `json:"critical_values"`
}

// MacKinnon (1994, 2010) response-surface coefficients for a single series.
var (
	tauMax   = map[Regression]float64{RegNone: 1.51, RegConstant: 2.74, RegConstTrend: 0.7, RegConstTrendQuad: 0.54}
	tauMin   = map[Regression]float64{RegNone: -18.83, RegConstant: -18.86, RegConstTrend: -16.18, RegConstTrendQuad: -17.17}
	tauStar  = map[Regression]float64{RegNone: -1.04, RegConstant: -1.61, RegConstTrend: -2.89, RegConstTrendQuad: -3.21}
	tauSmall = map[Regression][]float64{
		RegNone:           {0.6344, 1.2378, 3.2496e-2},
		RegConstant:       {2.1659, 1.4412, 3.8269e-2},
		RegConstTrend:     {3.2512, 1.6047, 4.9588e-2},
		RegConstTrendQuad: {4.0003, 1.658, 4.8288e-2},
	}
	tauLarge = map[Regression][]float64{
		RegNone:           {0.4797, 9.3557e-1, -0.6999e-1, 3.3066e-2},
		RegConstant:       {1.7339, 9.3202e-1, -1.2745e-1, -1.0368e-2},
		RegConstTrend:     {2.5261, 6.1654e-1, -3.7956e-1, -6.0285e-2},
		RegConstTrendQuad: {3.0778, 4.9529e-1, -4.1477e-1, -5.9359e-2},
	}
	tauCrit = map[Regression][3][4]float64{
		RegNone: {
			{-2.56574, -2.2358, -3.627, 0},
			{-1.94100, -0.2686, -3.365, 31.223},
			{-1.61682, 0.2656, -2.714, 25.364},
		},
		RegConstant: {
			{-3.43035, -6.5393, -16.786, -79.433},
			{-2.86154, -2.8903, -4.234, -40.040},
			{-2.56677, -1.5384, -2.809, 0},
		},
		RegConstTrend: {
			{-3.95877, -9.0531, -28.428, -134.155},
			{-3.41049, -4.3904, -9.036, -45.374},
			{-3.12705, -2.5856, -3.925, -22.380},
		},
		RegConstTrendQuad: {
			{-4.37113, -11.5882, -35.819, -334.047},
			{-3.83239, -5.9057, -12.490, -118.284},
			{-3.55326, -4.0458, -5.498, -59.298},
		},
	}
)

// MacKinnonP approximates the p-value of a Dickey-Fuller tau statistic.
func MacKinnonP(tau float64, reg Regression) float64 {
	if tau > tauMax[reg] {
		return 1
	}
	if tau < tauMin[reg] {
		return 0
	}
	coef := tauLarge[reg]
	if tau <= tauStar[reg] {
		coef = tauSmall[reg]
	}
	var v float64
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*tau + coef[i]
	}
	return distuv.UnitNormal.CDF(v)
}

// MacKinnonCrit returns the 1%, 5% and 10% critical values for nobs.
func MacKinnonCrit(reg Regression, nobs int) map[string]float64 {
	t := float64(nobs)
	tab := tauCrit[reg]
	out := make(map[string]float64, 3)
	for i, label := range []string{"1%", "5%", "10%"} {
		c := tab[i]
		out[label] = c[0] + c[1]/t + c[2]/(t*t) + c[3]/(t*t*t)
	}
	return out
}

func deterministic(reg Regression, t, offset int) []float64 {
	row := make([]float64, 0, 3)
	if reg.nTrend() >= 1 {
		row = append(row, 1)
	}
	if reg.nTrend() >= 2 {
		row = append(row, float64(t+offset+1))
	}
	if reg.nTrend() >= 3 {
		tt := float64(t + offset + 1)
		row = append(row, tt*tt)
	}
	return row
}

// adfRegression regresses Δy_t on y_{t-1}, lags of Δy and deterministic
// terms, using observations from index start of the differenced series.
func adfRegression(y []float64, lags, start int, reg Regression) (*OLSResult, error) {
	dy := make([]float64, len(y)-1)
	for i := range dy {
		dy[i] = y[i+1] - y[i]
	}
	var X [][]float64
	var resp []float64
	for t := start; t < len(dy); t++ {
		row := []float64{y[t]}
		for j := 1; j <= lags; j++ {
			row = append(row, dy[t-j])
		}
		row = append(row, deterministic(reg, t, 0)...)
		X = append(X, row)
		resp = append(resp, dy[t])
	}
	if len(resp) <= len(X[0]) {
		return nil, fmt.Errorf("%w: too few observations for %d lags", ErrInsufficientData, lags)
	}
	return OLS(X, resp)
}

// ADF runs the augmented Dickey-Fuller test. With maxLag < 0 the lag length
// is chosen by AIC up to 12(n/100)^¼; otherwise maxLag is used as given.
func ADF(y []float64, reg Regression, maxLag int) (*UnitRootResult, error) {
	if reg.nTrend() < 0 {
		return nil, fmt.Errorf("%w: regression %q", ErrUnknownMethod, reg)
	}
	n := len(y)
	if n < 6 {
		return nil, fmt.Errorf("%w: ADF needs at least 6 observations", ErrInsufficientData)
	}
	if Variance(y, 0) == 0 {
		return nil, fmt.Errorf("%w: zero variance", ErrInsufficientData)
	}
	lags := maxLag
	if maxLag < 0 {
		upper := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
		upper = min(upper, n/2-reg.nTrend()-1)
		if upper < 0 {
			return nil, fmt.Errorf("%w: sample too short for ADF", ErrInsufficientData)
		}
		best := math.Inf(1)
		lags = 0
		for l := 0; l <= upper; l++ {
			fit, err := adfRegression(y, l, upper, reg)
			if err != nil {
				continue
			}
			if aic := fit.AIC(); aic < best {
				best, lags = aic, l
			}
		}
	}
	fit, err := adfRegression(y, lags, lags, reg)
	if err != nil {
		return nil, err
	}
	tau := fit.TStat[0]
	if math.IsNaN(tau) || math.IsInf(tau, 0) || fit.Sigma2 <= 0 {
		return nil, fmt.Errorf("%w: zero residual variance", ErrInsufficientData)
	}
	return &UnitRootResult{
		Statistic:      tau,
		PValue:         MacKinnonP(tau, reg),
		Lags:           lags,
		NObs:           fit.NObs,
		CriticalValues: MacKinnonCrit(reg, fit.NObs),
	}, nil
}

// bartlettLRV is the Newey-West long-run variance of residuals e.
func bartlettLRV(e []float64, lags int) float64 {
	n := float64(len(e))
	var s float64
	for _, v := range e {
		s += v * v
	}
	s /= n
	for l := 1; l <= lags && l < len(e); l++ {
		var c float64
		for t := l; t < len(e); t++ {
			c += e[t] * e[t-l]
		}
		s += 2 * (1 - float64(l)/(float64(lags)+1)) * c / n
	}
	return s
}

// PhillipsPerron computes the Z(tau) statistic: a Dickey-Fuller regression
// without augmentation whose t-ratio is corrected for serial correlation
// with a Bartlett long-run variance. lags < 0 selects 4(n/100)^(2/9).
func PhillipsPerron(y []float64, reg Regression, lags int) (*UnitRootResult, error) {
	if reg.nTrend() < 0 {
		return nil, fmt.Errorf("%w: regression %q", ErrUnknownMethod, reg)
	}
	n := len(y)
	if n < 6 {
		return nil, fmt.Errorf("%w: Phillips-Perron needs at least 6 observations", ErrInsufficientData)
	}
	if Variance(y, 0) == 0 {
		return nil, fmt.Errorf("%w: zero variance", ErrInsufficientData)
	}
	if lags < 0 {
		lags = int(math.Ceil(4 * math.Pow(float64(n)/100, 2.0/9)))
	}
	fit, err := adfRegression(y, 0, 0, reg)
	if err != nil {
		return nil, err
	}
	nobs := float64(fit.NObs)
	gamma0 := fit.SSR / nobs
	lambda2 := bartlettLRV(fit.Residuals, lags)
	if gamma0 <= 0 || lambda2 <= 0 || fit.Sigma2 <= 0 {
		return nil, fmt.Errorf("%w: zero residual variance", ErrInsufficientData)
	}
	s := math.Sqrt(fit.Sigma2)
	se := fit.StdErr[0]
	tau := math.Sqrt(gamma0/lambda2)*fit.TStat[0] - (lambda2-gamma0)/(2*math.Sqrt(lambda2))*(nobs*se/s)
	return &UnitRootResult{
		Statistic:      tau,
		PValue:         MacKinnonP(tau, reg),
		Lags:           lags,
		NObs:           fit.NObs,
		CriticalValues: MacKinnonCrit(reg, fit.NObs),
	}, nil
}

var kpssTable = map[Regression][]float64{
	RegConstant:   {0.347, 0.463, 0.574, 0.739},
	RegConstTrend: {0.119, 0.146, 0.176, 0.216},
}

var kpssLevels = []float64{0.10, 0.05, 0.025, 0.01}

// KPSS tests the null of (level or trend) stationarity. lags < 0 selects
// 12(n/100)^¼. The p-value is interpolated in the published table and
// clipped to [0.01, 0.10].
func KPSS(y []float64, reg Regression, lags int) (*UnitRootResult, error) {
	table, ok := kpssTable[reg]
	if !ok {
		return nil, fmt.Errorf("%w: KPSS regression must be c or ct, got %q", ErrUnknownMethod, reg)
	}
	n := len(y)
	if n < 4 {
		return nil, fmt.Errorf("%w: KPSS needs at least 4 observations", ErrInsufficientData)
	}
	if Variance(y, 0) == 0 {
		return nil, fmt.Errorf("%w: zero variance", ErrInsufficientData)
	}
	if lags < 0 {
		lags = int(12 * math.Pow(float64(n)/100, 0.25))
	}
	if lags >= n {
		lags = n - 1
	}
	var resid []float64
	if reg == RegConstant {
		m := Mean(y)
		resid = make([]float64, n)
		for i, v := range y {
			resid[i] = v - m
		}
	} else {
		a, b := LinearTrend(y)
		resid = make([]float64, n)
		for i, v := range y {
			resid[i] = v - a - b*float64(i)
		}
	}
	var cum, eta float64
	for _, e := range resid {
		cum += e
		eta += cum * cum
	}
	// An exact fit leaves only rounding noise in the residuals.
	lrv := bartlettLRV(resid, lags)
	if !(lrv > 1e-12*Variance(y, 0)) {
		return nil, fmt.Errorf("%w: zero residual variance", ErrInsufficientData)
	}
	nf := float64(n)
	stat := eta / (nf * nf) / lrv

	p := interpolateKPSS(stat, table)
	crit := map[string]float64{"10%": table[0], "5%": table[1], "2.5%": table[2], "1%": table[3]}
	return &UnitRootResult{Statistic: stat, PValue: p, Lags: lags, NObs: n, CriticalValues: crit}, nil
}

func interpolateKPSS(stat float64, table []float64) float64 {
	if stat <= table[0] {
		return kpssLevels[0]
	}
	if stat >= table[len(table)-1] {
		return kpssLevels[len(kpssLevels)-1]
	}
	for i := 1; i < len(table); i++ {
		if stat <= table[i] {
			frac := (stat - table[i-1]) / (table[i] - table[i-1])
			return kpssLevels[i-1] + frac*(kpssLevels[i]-kpssLevels[i-1])
		}
	}
	return kpssLevels[len(kpssLevels)-1]
}
