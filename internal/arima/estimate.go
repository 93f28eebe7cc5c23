package arima

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// Options control estimation.
type Options struct {
	Method Method
	// IncludeMean estimates a constant. It only applies to undifferenced
	// models.
	IncludeMean bool
	// MaxIterations bounds the optimiser. Zero uses the default.
	MaxIterations int
}

// Metrics are in-sample fit measures on the differenced scale.
type Metrics struct {
	MSE  float64 `json:"mse"`
	MAE  float64 `json:"mae"`
	AIC  float64 `json:"aic"`
	AICc float64 `json:"aicc"`
	BIC  float64 `json:"bic"`
	HQIC float64 `json:"hqic"`
}

// Convergence reports how the optimiser finished.
type Convergence struct {
	Converged  bool   `json:"converged"`
	Iterations int    `json:"iterations"`
	Method     Method `json:"method"`
}

// Fit is an estimated model together with its residuals.
type Fit struct {
	Model       tsdata.ArimaModel
	Metrics     Metrics
	Convergence Convergence
	// Residuals on the differenced scale, after the conditioning values.
	Residuals []float64
	// Fitted values on the differenced scale, aligned with Residuals.
	Fitted   []float64
	NObs     int
	Duration time.Duration
}

// Criterion returns the named information criterion (aic, aicc or bic).
func (f *Fit) Criterion(name string) float64 {
	switch name {
	case "bic":
		return f.Metrics.BIC
	case "aicc":
		return f.Metrics.AICc
	default:
		return f.Metrics.AIC
	}
}

type estimator struct {
	order   tsdata.ArimaOrder
	w       []float64
	mean    bool
	penalty float64
	// minVar floors the innovation variance so exact fits keep a finite
	// likelihood.
	minVar  float64
}

func (e *estimator) nParams() int {
	n := e.order.P + e.order.Q + e.order.SP + e.order.SQ
	if e.mean {
		n++
	}
	return n
}

func (e *estimator) unpack(x []float64) (ar, ma, sar, sma []float64, mu float64) {
	o := e.order
	i := 0
	take := func(k int) []float64 {
		out := append([]float64{}, x[i:i+k]...)
		i += k
		return out
	}
	ar, ma, sar, sma = take(o.P), take(o.Q), take(o.SP), take(o.SQ)
	if e.mean {
		mu = x[i]
	}
	return
}

func (e *estimator) admissible(ar, ma, sar, sma []float64) bool {
	return stable(ar, true) && stable(sar, true) && stable(ma, false) && stable(sma, false)
}

func (e *estimator) css(x []float64) float64 {
	ar, ma, sar, sma, mu := e.unpack(x)
	if !e.admissible(ar, ma, sar, sma) {
		return e.penalty
	}
	phi := expand(ar, sar, e.order.Period, true)
	theta := expand(ma, sma, e.order.Period, false)
	res, start := cssResiduals(e.w, phi, theta, mu)
	var ssr float64
	for _, r := range res[start:] {
		ssr += r * r
	}
	if math.IsNaN(ssr) || math.IsInf(ssr, 0) {
		return e.penalty
	}
	return ssr
}

func (e *estimator) negLogLik(x []float64) float64 {
	ar, ma, sar, sma, mu := e.unpack(x)
	if !e.admissible(ar, ma, sar, sma) {
		return e.penalty
	}
	y := make([]float64, len(e.w))
	for i, v := range e.w {
		y[i] = v - mu
	}
	ll, _, ok := exactLogLik(y, expand(ar, sar, e.order.Period, true), expand(ma, sma, e.order.Period, false), e.minVar)
	if !ok || math.IsNaN(ll) {
		return e.penalty
	}
	return -ll
}

// initial returns starting values: half the sample autocorrelations for
// the autoregressive terms, 0.1 for moving-average terms and the sample
// mean, falling back to zeros when that start is not stationary.
func (e *estimator) initial() []float64 {
	o := e.order
	x := make([]float64, 0, e.nParams())
	maxLag := max(o.P, o.SP*o.Period)
	acf := stats.ACF(e.w, min(maxLag, len(e.w)-1))
	at := func(k int) float64 {
		if k < len(acf) {
			return 0.5 * acf[k]
		}
		return 0
	}
	ar := make([]float64, o.P)
	for i := range ar {
		ar[i] = at(i + 1)
	}
	sar := make([]float64, o.SP)
	for i := range sar {
		sar[i] = at((i + 1) * o.Period)
	}
	if !stable(ar, true) {
		ar = make([]float64, o.P)
	}
	if !stable(sar, true) {
		sar = make([]float64, o.SP)
	}
	x = append(x, ar...)
	for i := 0; i < o.Q; i++ {
		x = append(x, 0.1)
	}
	x = append(x, sar...)
	for i := 0; i < o.SQ; i++ {
		x = append(x, 0.1)
	}
	if e.mean {
		x = append(x, stats.Mean(e.w))
	}
	return x
}

func minimize(f func([]float64) float64, x0 []float64, maxIter int) ([]float64, Convergence) {
	if len(x0) == 0 {
		return x0, Convergence{Converged: true}
	}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		FuncEvaluations: 50 * maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 200,
		},
	}
	res, err := optimize.Minimize(optimize.Problem{Func: f}, x0, settings, &optimize.NelderMead{})
	if res == nil {
		return x0, Convergence{}
	}
	conv := Convergence{Iterations: res.Stats.MajorIterations}
	switch res.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit, optimize.Failure:
	default:
		conv.Converged = err == nil
	}
	if res.F > f(x0) {
		return x0, conv
	}
	return res.X, conv
}

// Estimate fits a seasonal ARIMA of the given order to x.
func Estimate(x []float64, order tsdata.ArimaOrder, opts Options) (*Fit, error) {
	started := time.Now()
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if err := checkValues(x); err != nil {
		return nil, err
	}
	if opts.Method == "" {
		opts.Method = MethodCSSML
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 1000
	}
	if !order.IsSeasonal() {
		order.SP, order.SD, order.SQ, order.Period = 0, 0, 0, 0
	}

	w := difference(x, order)
	minLen := order.P + order.Q + order.Period*(order.SP+order.SQ) + 4
	if len(w) < minLen {
		return nil, fmt.Errorf("%w: %s needs at least %d observations after differencing, got %d",
			ErrInsufficientData, order, minLen, len(w))
	}

	e := &estimator{
		order: order,
		w:     w,
		mean:  opts.IncludeMean && order.D+order.SD == 0,
	}
	var scale float64
	for _, v := range w {
		scale += v * v
	}
	e.penalty = 1e6 * (1 + scale)
	e.minVar = 1e-12 * (1 + scale/float64(len(w)))

	x0 := e.initial()
	var (
		params []float64
		conv   Convergence
	)
	switch opts.Method {
	case MethodCSS:
		params, conv = minimize(e.css, x0, opts.MaxIterations)
	case MethodML:
		params, conv = minimize(e.negLogLik, x0, opts.MaxIterations)
	case MethodCSSML:
		start, c1 := minimize(e.css, x0, opts.MaxIterations)
		params, conv = minimize(e.negLogLik, start, opts.MaxIterations)
		conv.Iterations += c1.Iterations
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, opts.Method)
	}
	conv.Method = opts.Method

	ar, ma, sar, sma, mu := e.unpack(params)
	phi := expand(ar, sar, order.Period, true)
	theta := expand(ma, sma, order.Period, false)
	res, start := cssResiduals(w, phi, theta, mu)
	resid := res[start:]
	fitted := make([]float64, len(resid))
	for i, r := range resid {
		fitted[i] = w[start+i] - r
	}

	var ssr, sae float64
	for _, r := range resid {
		ssr += r * r
		sae += math.Abs(r)
	}
	nEff := len(resid)

	var ll, sigma2 float64
	nObs := nEff
	if opts.Method == MethodCSS {
		sigma2 = max(ssr/float64(nEff), e.minVar)
		ll = -float64(nEff) / 2 * (math.Log(2*math.Pi*sigma2) + 1)
	} else {
		y := make([]float64, len(w))
		for i, v := range w {
			y[i] = v - mu
		}
		var ok bool
		ll, sigma2, ok = exactLogLik(y, phi, theta, e.minVar)
		if !ok {
			return nil, fmt.Errorf("%w: likelihood could not be evaluated for %s", ErrInsufficientData, order)
		}
		nObs = len(w)
	}

	model := tsdata.ArimaModel{
		Order:         order,
		AR:            ar,
		MA:            ma,
		SAR:           sar,
		SMA:           sma,
		Sigma2:        sigma2,
		LogLikelihood: ll,
	}
	if e.mean {
		model.Intercept = &mu
	}
	k := float64(e.nParams() + 1)
	n := float64(nObs)
	model.AIC = -2*ll + 2*k
	model.BIC = -2*ll + k*math.Log(n)

	aicc := math.MaxFloat64
	if n-k-1 > 0 {
		aicc = model.AIC + 2*k*(k+1)/(n-k-1)
	}
	metrics := Metrics{
		MSE:  ssr / float64(nEff),
		MAE:  sae / float64(nEff),
		AIC:  model.AIC,
		AICc: aicc,
		BIC:  model.BIC,
		HQIC: -2*ll + 2*k*math.Log(math.Log(n)),
	}
	if !allFinite(ll, sigma2, metrics.MSE, metrics.MAE, metrics.AIC, metrics.AICc, metrics.BIC, metrics.HQIC) ||
		!allFinite(ar...) || !allFinite(ma...) || !allFinite(sar...) || !allFinite(sma...) || !allFinite(mu) {
		return nil, fmt.Errorf("%w: %s produced a non-finite fit", ErrInsufficientData, order)
	}
	return &Fit{
		Model:       model,
		Metrics:     metrics,
		Convergence: conv,
		Residuals:   resid,
		Fitted:      fitted,
		NObs:        nObs,
		Duration:    time.Since(started),
	}, nil
}

func allFinite(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
