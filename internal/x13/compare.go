package x13

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// ErrComparison is returned for a malformed comparison request.
var ErrComparison = errors.New("invalid comparison")

// Criteria are the recognised comparison criteria.
var Criteria = []string{"aic", "bic", "ljung_box", "stability"}

// SpecificationScore is one compared specification.
type SpecificationScore struct {
	Index          int      `json:"specification_index"`
	AIC            float64  `json:"aic"`
	BIC            float64  `json:"bic"`
	LjungBoxPValue *float64 `json:"ljung_box_pvalue"`
	StabilityScore float64  `json:"stability_score"`
	Rank           int      `json:"rank"`
	Error          string   `json:"error,omitempty"`
}

type ComparisonSummary struct {
	Specifications  int      `json:"n_specifications"`
	CriteriaUsed    []string `json:"criteria_used"`
	BestAIC         float64  `json:"best_aic"`
	AllPassLjungBox bool     `json:"all_pass_ljung_box"`
}

// Comparison ranks specifications run on the same series.
type Comparison struct {
	Results                []SpecificationScore `json:"comparison_results"`
	BestSpecificationIndex int                  `json:"best_specification_index"`
	Summary                ComparisonSummary    `json:"summary"`
}

// Compare processes s under each of 2 to 5 specifications and ranks them.
// With aic among the criteria the ranking is by AIC; otherwise the first
// criterion decides. Specifications that fail to process rank last.
func Compare(s *tsdata.Series, specs []Specification, criteria []string) (*Comparison, error) {
	if len(specs) < 2 || len(specs) > 5 {
		return nil, fmt.Errorf("%w: need between 2 and 5 specifications, got %d", ErrComparison, len(specs))
	}
	if len(criteria) == 0 {
		criteria = []string{"aic"}
	}
	for _, c := range criteria {
		if !slices.Contains(Criteria, c) {
			return nil, fmt.Errorf("%w: unknown criterion %q", ErrComparison, c)
		}
	}

	scores := make([]SpecificationScore, len(specs))
	failed := make([]bool, len(specs))
	for i, spec := range specs {
		scores[i].Index = i
		res, sub, err := Process(s, spec)
		if err != nil {
			scores[i].Error = err.Error()
			failed[i] = true
			continue
		}
		scores[i].AIC = res.RegArima.Model.AIC
		scores[i].BIC = res.RegArima.Model.BIC
		if rc := ResidualCheck(res.RegArima.Residuals, spec.CheckMaxLag); rc.LjungBox != nil {
			p := rc.LjungBox.PValue
			scores[i].LjungBoxPValue = &p
		}
		scores[i].StabilityScore = 0.5
		seasonal, sa, _, _ := res.components()
		if st := StabilityCheck(sa, seasonal, sub.SeasonalPeriod()); st.VarianceStable {
			scores[i].StabilityScore = 1
		}
	}

	key := criteria[0]
	if slices.Contains(criteria, "aic") {
		key = "aic"
	}
	better := func(a, b SpecificationScore) bool {
		switch key {
		case "bic":
			return a.BIC < b.BIC
		case "ljung_box":
			return pOr(a.LjungBoxPValue) > pOr(b.LjungBoxPValue)
		case "stability":
			return a.StabilityScore > b.StabilityScore
		}
		return a.AIC < b.AIC
	}
	order := make([]int, len(specs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if failed[i] != failed[j] {
			return !failed[i]
		}
		return better(scores[i], scores[j])
	})
	for rank, i := range order {
		scores[i].Rank = rank + 1
	}

	out := &Comparison{
		Results:                scores,
		BestSpecificationIndex: order[0],
		Summary: ComparisonSummary{
			Specifications:  len(specs),
			CriteriaUsed:    criteria,
			AllPassLjungBox: true,
		},
	}
	first := true
	for i, sc := range scores {
		if failed[i] {
			out.Summary.AllPassLjungBox = false
			continue
		}
		if first || sc.AIC < out.Summary.BestAIC {
			out.Summary.BestAIC = sc.AIC
			first = false
		}
		if sc.LjungBoxPValue == nil || *sc.LjungBoxPValue < stats.Significance {
			out.Summary.AllPassLjungBox = false
		}
	}
	return out, nil
}

func pOr(p *float64) float64 {
	if p == nil {
		return -1
	}
	return *p
}
