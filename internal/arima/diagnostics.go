package arima

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/demetra.report/internal/stats"
)

// Diagnostic test names accepted by Diagnose.
const (
	TestLjungBox           = "ljung_box"
	TestJarqueBera         = "jarque_bera"
	TestHeteroscedasticity = "heteroscedasticity"
)

// DefaultTests is the set Diagnose runs when none are named.
var DefaultTests = []string{TestLjungBox, TestJarqueBera, TestHeteroscedasticity}

// DiagnosticTest is one residual check. Statistic and PValue are nil when
// the residuals are too short for the test.
type DiagnosticTest struct {
	Name       string         `json:"test_name"`
	Statistic  *float64       `json:"statistic"`
	PValue     *float64       `json:"p_value"`
	Conclusion string         `json:"conclusion"`
	Details    map[string]any `json:"details,omitempty"`
}

// Passed reports whether the test did not reject its null.
func (d DiagnosticTest) Passed() bool {
	return d.PValue == nil || *d.PValue >= stats.Significance
}

// ResidualStats summarise the innovations.
type ResidualStats struct {
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
}

// Diagnostics is the output of Diagnose.
type Diagnostics struct {
	ResidualStats ResidualStats    `json:"residual_stats"`
	Tests         []DiagnosticTest `json:"diagnostic_tests"`
	Adequacy      string           `json:"model_adequacy"`
}

// Diagnose runs the named residual checks. fitted must align with
// residuals; it is only needed for the heteroscedasticity test.
func Diagnose(residuals, fitted []float64, fitDF int, tests []string) (*Diagnostics, error) {
	if len(residuals) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 residuals", ErrInsufficientData)
	}
	if len(tests) == 0 {
		tests = DefaultTests
	}
	out := &Diagnostics{
		ResidualStats: ResidualStats{
			Mean:     stats.Mean(residuals),
			Std:      stats.Std(residuals, 0),
			Skewness: stats.Skewness(residuals),
			Kurtosis: stats.Kurtosis(residuals),
		},
	}
	var failed []string
	for _, name := range tests {
		var (
			t   DiagnosticTest
			err error
		)
		switch name {
		case TestLjungBox:
			t, err = ljungBoxTest(residuals, fitDF)
		case TestJarqueBera:
			t, err = jarqueBeraTest(residuals)
		case TestHeteroscedasticity:
			t = heteroscedasticityTest(residuals, fitted)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownTest, name)
		}
		if err != nil {
			return nil, err
		}
		if !t.Passed() {
			failed = append(failed, t.Name)
		}
		out.Tests = append(out.Tests, t)
	}
	if len(failed) == 0 {
		out.Adequacy = "Model appears adequate based on diagnostic tests"
	} else {
		out.Adequacy = "Model shows issues in: " + strings.Join(failed, ", ")
	}
	return out, nil
}

func ljungBoxTest(e []float64, fitDF int) (DiagnosticTest, error) {
	t := DiagnosticTest{Name: "Ljung-Box"}
	lags := min(10, len(e)/5)
	if lags < 1 {
		t.Conclusion = "Insufficient residuals for Ljung-Box test"
		return t, nil
	}
	res, err := stats.LjungBox(e, lags, fitDF)
	if err != nil {
		return t, err
	}
	t.Statistic, t.PValue = &res.Statistic, &res.PValue
	t.Details = map[string]any{"lags": res.Lags, "df": res.DF}
	if t.Passed() {
		t.Conclusion = "No residual autocorrelation"
	} else {
		t.Conclusion = "Residual autocorrelation detected"
	}
	return t, nil
}

func jarqueBeraTest(e []float64) (DiagnosticTest, error) {
	t := DiagnosticTest{Name: "Jarque-Bera"}
	jb, p, err := stats.JarqueBera(e)
	if err != nil {
		return t, err
	}
	t.Statistic, t.PValue = &jb, &p
	t.Details = map[string]any{
		"skewness": stats.Skewness(e),
		"kurtosis": stats.Kurtosis(e),
	}
	if t.Passed() {
		t.Conclusion = "Residuals are normally distributed"
	} else {
		t.Conclusion = "Residuals are not normally distributed"
	}
	return t, nil
}

// heteroscedasticityTest correlates the fitted values with the squared
// residuals and tests the correlation with a t statistic on n-2 df.
func heteroscedasticityTest(e, fitted []float64) DiagnosticTest {
	t := DiagnosticTest{Name: "Heteroscedasticity (simplified)"}
	n := min(len(e), len(fitted))
	if n < 4 {
		t.Conclusion = "Insufficient data for heteroscedasticity test"
		return t
	}
	sq := make([]float64, n)
	for i := range sq {
		sq[i] = e[i] * e[i]
	}
	r := stats.Correlation(fitted[:n], sq)
	if math.IsNaN(r) {
		r = 0
	}
	df := float64(n - 2)
	var p float64
	if math.Abs(r) >= 1 {
		p = 0
	} else {
		tstat := r * math.Sqrt(df/(1-r*r))
		p = 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(tstat))
	}
	t.Statistic, t.PValue = &r, &p
	t.Details = map[string]any{"method": "correlation of fitted values with squared residuals"}
	if t.Passed() {
		t.Conclusion = "No heteroscedasticity"
	} else {
		t.Conclusion = "Heteroscedasticity detected"
	}
	return t
}
