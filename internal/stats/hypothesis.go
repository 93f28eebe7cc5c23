package stats

import (
	"fmt"
	"math"
)

// Significance is the level at which every test rejects its null.
const Significance = 0.05

// TestResult is the common shape of a hypothesis test outcome.
type TestResult struct {
	Statistic      float64        `json:"statistic"`
	PValue         float64        `json:"p_value"`
	RejectNull     bool           `json:"reject_null"`
	Interpretation string         `json:"interpretation"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

func newResult(stat, p float64, info map[string]any) *TestResult {
	return &TestResult{Statistic: stat, PValue: p, RejectNull: p < Significance, AdditionalInfo: info}
}

// NormalityTest runs shapiro, jarque_bera or anderson on x.
func NormalityTest(x []float64, method string) (*TestResult, error) {
	if len(x) == 0 {
		return nil, ErrEmptyData
	}
	var res *TestResult
	switch method {
	case "", "shapiro":
		w, p, err := ShapiroWilk(x)
		if err != nil {
			return nil, err
		}
		res = newResult(w, p, map[string]any{"method": "Shapiro-Wilk"})
	case "jarque_bera":
		jb, p, err := JarqueBera(x)
		if err != nil {
			return nil, err
		}
		res = newResult(jb, p, map[string]any{"method": "Jarque-Bera"})
	case "anderson":
		ad, err := AndersonDarling(x)
		if err != nil {
			return nil, err
		}
		p := 0.95
		if ad.Statistic > ad.CriticalValues[2] {
			p = 0.05
		}
		crit := make(map[string]float64, len(ad.CriticalValues))
		for i, lvl := range ad.SignificanceLevels {
			crit[fmt.Sprintf("%g", lvl)] = ad.CriticalValues[i]
		}
		res = newResult(ad.Statistic, p, map[string]any{"method": "Anderson-Darling", "critical_values": crit})
		// The approximated p-value sits exactly on the boundary; reject on the statistic.
		res.RejectNull = ad.Statistic > ad.CriticalValues[2]
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if res.RejectNull {
		res.Interpretation = fmt.Sprintf("Data is not normally distributed (p-value: %.4f)", res.PValue)
	} else {
		res.Interpretation = fmt.Sprintf("Data appears to be normally distributed (p-value: %.4f)", res.PValue)
	}
	return res, nil
}

// StationarityResult adds the stationarity verdict, which flips sense
// between the unit-root tests and KPSS.
type StationarityResult struct {
	TestResult
	IsStationary bool `json:"is_stationary"`
}

// StationarityTest runs adf, kpss or pp. maxLag < 0 selects automatically.
func StationarityTest(x []float64, method string, reg Regression, maxLag int) (*StationarityResult, error) {
	if len(x) == 0 {
		return nil, ErrEmptyData
	}
	if reg == "" {
		reg = RegConstant
	}
	var (
		ur   *UnitRootResult
		err  error
		info map[string]any
	)
	switch method {
	case "", "adf":
		ur, err = ADF(x, reg, maxLag)
		info = map[string]any{"method": "Augmented Dickey-Fuller", "null_hypothesis": "Unit root (non-stationary)"}
	case "kpss":
		ur, err = KPSS(x, reg, maxLag)
		info = map[string]any{"method": "KPSS", "null_hypothesis": "Stationary"}
	case "pp":
		ur, err = PhillipsPerron(x, reg, maxLag)
		info = map[string]any{"method": "Phillips-Perron", "null_hypothesis": "Unit root (non-stationary)"}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if err != nil {
		return nil, err
	}
	if math.IsNaN(ur.Statistic) || math.IsInf(ur.Statistic, 0) {
		return nil, fmt.Errorf("%w: %s statistic is not finite", ErrInsufficientData, method)
	}
	info["lags_used"] = ur.Lags
	info["n_obs"] = ur.NObs
	info["critical_values"] = ur.CriticalValues

	res := &StationarityResult{TestResult: *newResult(ur.Statistic, ur.PValue, info)}
	res.IsStationary = res.RejectNull
	if method == "kpss" {
		res.IsStationary = !res.RejectNull
	}
	if res.IsStationary {
		res.Interpretation = fmt.Sprintf("Data is stationary (p-value: %.4f)", res.PValue)
	} else {
		res.Interpretation = fmt.Sprintf("Data is non-stationary (p-value: %.4f)", res.PValue)
	}
	return res, nil
}

// RandomnessTest runs the runs test, Ljung-Box or Box-Pierce (at lags).
func RandomnessTest(x []float64, method string, lags int) (*TestResult, error) {
	if len(x) == 0 {
		return nil, ErrEmptyData
	}
	if lags <= 0 {
		lags = 10
	}
	var res *TestResult
	switch method {
	case "", "runs":
		r, err := RunsTest(x)
		if err != nil {
			return nil, err
		}
		res = newResult(r.Z, r.PValue, map[string]any{
			"method":         "Runs test",
			"n_runs":         r.Runs,
			"expected_runs":  r.ExpectedRuns,
			"n_above_median": r.NAboveMedian,
			"n_below_median": r.NBelowMedian,
		})
	case "ljung_box", "box_pierce":
		var (
			pr  *PortmanteauResult
			err error
		)
		name := "Ljung-Box"
		if method == "box_pierce" {
			name = "Box-Pierce"
			pr, err = BoxPierce(x, lags, 0)
		} else {
			pr, err = LjungBox(x, lags, 0)
		}
		if err != nil {
			return nil, err
		}
		res = newResult(pr.Statistic, pr.PValue, map[string]any{
			"method":          name,
			"lags":            lags,
			"null_hypothesis": "No autocorrelation",
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if res.RejectNull {
		res.Interpretation = fmt.Sprintf("Data shows non-random patterns (p-value: %.4f)", res.PValue)
	} else {
		res.Interpretation = fmt.Sprintf("Data appears to be random (p-value: %.4f)", res.PValue)
	}
	return res, nil
}

// SeasonalityTest runs kruskal, friedman or qs at the given period. auto
// picks Friedman for fewer than 10 full cycles and Kruskal-Wallis otherwise.
func SeasonalityTest(x []float64, period int, method string) (*TestResult, error) {
	rows, err := seasonalMatrix(x, period)
	if err != nil {
		return nil, err
	}
	nPeriods := len(rows)
	if method == "" || method == "auto" {
		method = "kruskal"
		if nPeriods < 10 {
			method = "friedman"
		}
	}
	var res *TestResult
	switch method {
	case "kruskal":
		groups := make([][]float64, period)
		for _, row := range rows {
			for j, v := range row {
				groups[j] = append(groups[j], v)
			}
		}
		h, p, err := KruskalWallis(groups)
		if err != nil {
			return nil, err
		}
		res = newResult(h, p, map[string]any{
			"method":          "Kruskal-Wallis",
			"null_hypothesis": "No seasonal differences",
			"n_periods":       nPeriods,
			"period":          period,
		})
	case "friedman":
		chi, p, err := Friedman(rows)
		if err != nil {
			return nil, err
		}
		res = newResult(chi, p, map[string]any{
			"method":          "Friedman",
			"null_hypothesis": "No seasonal differences",
			"n_periods":       nPeriods,
			"period":          period,
		})
	case "qs":
		q, p, lags, err := QS(x, period)
		if err != nil {
			return nil, err
		}
		res = newResult(q, p, map[string]any{
			"method":               "QS (Seasonal Ljung-Box)",
			"null_hypothesis":      "No seasonal autocorrelation",
			"seasonal_lags_tested": lags,
			"period":               period,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if res.RejectNull {
		res.Interpretation = fmt.Sprintf("Significant seasonality detected (p-value: %.4f)", res.PValue)
	} else {
		res.Interpretation = fmt.Sprintf("No significant seasonality detected (p-value: %.4f)", res.PValue)
	}
	return res, nil
}
