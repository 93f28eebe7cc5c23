package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNoDistributionFit is returned when none of the requested families fit.
var ErrNoDistributionFit = errors.New("no distributions could be fitted")

// Distributions lists the families FitDistribution understands.
var Distributions = []string{"normal", "lognormal", "exponential", "gamma", "beta"}

// GoodnessOfFit reports how well a fitted distribution matches the data.
type GoodnessOfFit struct {
	KSStatistic   float64 `json:"ks_statistic"`
	KSPValue      float64 `json:"ks_pvalue"`
	LogLikelihood float64 `json:"log_likelihood"`
	AIC           float64 `json:"aic"`
	BIC           float64 `json:"bic"`
}

// DistributionFit is one fitted family.
type DistributionFit struct {
	Distribution string             `json:"distribution"`
	Parameters   map[string]float64 `json:"parameters"`
	Goodness     GoodnessOfFit      `json:"goodness_of_fit"`
	BestFit      bool               `json:"best_fit"`
}

type fitted struct {
	params map[string]float64
	cdf    func(float64) float64
	logpdf func(float64) float64
}

// FitDistribution estimates the named family by maximum likelihood (loc
// fixed at 0 for lognormal, gamma and beta) and scores it with a
// Kolmogorov-Smirnov test, the log-likelihood, AIC and BIC.
func FitDistribution(x []float64, name string) (*DistributionFit, error) {
	if len(x) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations", ErrInsufficientData)
	}
	var (
		f   *fitted
		err error
	)
	switch name {
	case "normal":
		f, err = fitNormal(x)
	case "lognormal":
		f, err = fitLogNormal(x)
	case "exponential":
		f, err = fitExponential(x)
	case "gamma":
		f, err = fitGamma(x)
	case "beta":
		f, err = fitBeta(x)
	default:
		return nil, fmt.Errorf("%w: unknown distribution %q", ErrUnknownMethod, name)
	}
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", name, err)
	}

	var ll float64
	for _, v := range x {
		ll += f.logpdf(v)
	}
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return nil, fmt.Errorf("fit %s: non-finite log-likelihood", name)
	}
	d, p := KolmogorovSmirnov(x, f.cdf)
	k := float64(len(f.params))
	n := float64(len(x))
	return &DistributionFit{
		Distribution: name,
		Parameters:   f.params,
		Goodness: GoodnessOfFit{
			KSStatistic:   d,
			KSPValue:      p,
			LogLikelihood: ll,
			AIC:           2*k - 2*ll,
			BIC:           k*math.Log(n) - 2*ll,
		},
	}, nil
}

// FitDistributions fits every named family that succeeds, sorts by AIC and
// flags the best one. Families that cannot be fitted are skipped.
func FitDistributions(x []float64, names []string) ([]DistributionFit, error) {
	var out []DistributionFit
	for _, name := range names {
		fit, err := FitDistribution(x, name)
		if err != nil {
			continue
		}
		out = append(out, *fit)
	}
	if len(out) == 0 {
		return nil, ErrNoDistributionFit
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Goodness.AIC < out[b].Goodness.AIC })
	out[0].BestFit = true
	return out, nil
}

func fitNormal(x []float64) (*fitted, error) {
	mu, sd := Mean(x), Std(x, 0)
	if sd == 0 {
		return nil, fmt.Errorf("zero variance")
	}
	d := distuv.Normal{Mu: mu, Sigma: sd}
	return &fitted{
		params: map[string]float64{"loc": mu, "scale": sd},
		cdf:    d.CDF,
		logpdf: d.LogProb,
	}, nil
}

func allPositive(x []float64) bool {
	for _, v := range x {
		if v <= 0 {
			return false
		}
	}
	return true
}

func fitLogNormal(x []float64) (*fitted, error) {
	if !allPositive(x) {
		return nil, fmt.Errorf("lognormal requires positive data")
	}
	logs := make([]float64, len(x))
	for i, v := range x {
		logs[i] = math.Log(v)
	}
	mu, s := Mean(logs), Std(logs, 0)
	if s == 0 {
		return nil, fmt.Errorf("zero variance")
	}
	d := distuv.LogNormal{Mu: mu, Sigma: s}
	return &fitted{
		params: map[string]float64{"s": s, "loc": 0, "scale": math.Exp(mu)},
		cdf:    d.CDF,
		logpdf: d.LogProb,
	}, nil
}

func fitExponential(x []float64) (*fitted, error) {
	loc := x[0]
	for _, v := range x {
		loc = math.Min(loc, v)
	}
	scale := Mean(x) - loc
	if scale <= 0 {
		return nil, fmt.Errorf("degenerate sample")
	}
	d := distuv.Exponential{Rate: 1 / scale}
	return &fitted{
		params: map[string]float64{"loc": loc, "scale": scale},
		cdf:    func(v float64) float64 { return d.CDF(v - loc) },
		logpdf: func(v float64) float64 { return d.LogProb(v - loc) },
	}, nil
}

// fitGamma solves log(a) - ψ(a) = log(mean) - mean(log x) by Newton's
// method from Minka's closed-form starting point.
func fitGamma(x []float64) (*fitted, error) {
	if !allPositive(x) {
		return nil, fmt.Errorf("gamma requires positive data")
	}
	mean := Mean(x)
	var meanLog float64
	for _, v := range x {
		meanLog += math.Log(v)
	}
	meanLog /= float64(len(x))
	s := math.Log(mean) - meanLog
	if s <= 0 {
		return nil, fmt.Errorf("degenerate sample")
	}
	a := (3 - s + math.Sqrt((s-3)*(s-3)+24*s)) / (12 * s)
	for i := 0; i < 50; i++ {
		const h = 1e-5
		g := math.Log(a) - mathext.Digamma(a) - s
		trigamma := (mathext.Digamma(a+h) - mathext.Digamma(a-h)) / (2 * h)
		step := g / (1/a - trigamma)
		next := a - step
		if next <= 0 {
			next = a / 2
		}
		if math.Abs(next-a) < 1e-10*a {
			a = next
			break
		}
		a = next
	}
	scale := mean / a
	d := distuv.Gamma{Alpha: a, Beta: 1 / scale}
	return &fitted{
		params: map[string]float64{"a": a, "loc": 0, "scale": scale},
		cdf:    d.CDF,
		logpdf: d.LogProb,
	}, nil
}

// fitBeta maximises the likelihood over log-shape parameters with
// Nelder-Mead, starting from the method-of-moments estimate.
func fitBeta(x []float64) (*fitted, error) {
	for _, v := range x {
		if v <= 0 || v >= 1 {
			return nil, fmt.Errorf("beta requires data in (0, 1)")
		}
	}
	m, v := Mean(x), Variance(x, 0)
	if v == 0 {
		return nil, fmt.Errorf("zero variance")
	}
	common := m*(1-m)/v - 1
	if common <= 0 {
		common = 1
	}
	init := []float64{math.Log(m * common), math.Log((1 - m) * common)}
	negLL := func(p []float64) float64 {
		d := distuv.Beta{Alpha: math.Exp(p[0]), Beta: math.Exp(p[1])}
		var ll float64
		for _, xv := range x {
			ll += d.LogProb(xv)
		}
		if math.IsNaN(ll) {
			return math.Inf(1)
		}
		return -ll
	}
	res, err := optimize.Minimize(optimize.Problem{Func: negLL}, init, &optimize.Settings{MajorIterations: 500}, &optimize.NelderMead{})
	if res == nil {
		return nil, fmt.Errorf("optimisation failed: %v", err)
	}
	a, b := math.Exp(res.X[0]), math.Exp(res.X[1])
	d := distuv.Beta{Alpha: a, Beta: b}
	return &fitted{
		params: map[string]float64{"a": a, "b": b, "loc": 0, "scale": 1},
		cdf:    d.CDF,
		logpdf: d.LogProb,
	}, nil
}

// KolmogorovSmirnov returns the one-sample KS statistic against cdf and
// its asymptotic p-value with Stephens' small-sample correction.
func KolmogorovSmirnov(x []float64, cdf func(float64) float64) (d, p float64) {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	for i, v := range sorted {
		f := cdf(v)
		d = math.Max(d, math.Max(float64(i+1)/n-f, f-float64(i)/n))
	}
	sn := math.Sqrt(n)
	return d, kolmogorovQ((sn + 0.12 + 0.11/sn) * d)
}

func kolmogorovQ(lambda float64) float64 {
	if lambda < 1e-3 {
		return 1
	}
	var sum float64
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j*j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	return clampP(2 * sum)
}
