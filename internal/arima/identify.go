package arima

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/demetra.report/internal/stats"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// IdentifyOptions configure the automatic order search.
type IdentifyOptions struct {
	Seasonal  bool
	Period    int
	Stepwise  bool
	MaxP      int
	MaxQ      int
	MaxD      int
	MaxSP     int
	MaxSQ     int
	MaxSD     int
	Criterion string
	Method    Method
}

// DefaultIdentifyOptions mirrors the usual auto-ARIMA limits.
func DefaultIdentifyOptions() IdentifyOptions {
	return IdentifyOptions{
		Seasonal:  true,
		Stepwise:  true,
		MaxP:      5,
		MaxQ:      5,
		MaxD:      2,
		MaxSP:     2,
		MaxSQ:     2,
		MaxSD:     1,
		Criterion: "aic",
		Method:    MethodCSS,
	}
}

// Candidate is one evaluated order.
type Candidate struct {
	Order     tsdata.ArimaOrder `json:"order"`
	Criterion float64           `json:"criterion"`
}

// Identification is the outcome of Identify.
type Identification struct {
	Best       *Fit
	Candidates []Candidate
	D          int
	SD         int
	Duration   time.Duration
}

type searcher struct {
	x      []float64
	opts   IdentifyOptions
	d, sd  int
	period int
	mean   bool
	seen   map[tsdata.ArimaOrder]*Fit
	cands  []Candidate
	best   *Fit
}

func (s *searcher) try(p, q, sp, sq int) bool {
	o := s.opts
	if p < 0 || q < 0 || sp < 0 || sq < 0 || p > o.MaxP || q > o.MaxQ || sp > o.MaxSP || sq > o.MaxSQ {
		return false
	}
	order := tsdata.ArimaOrder{P: p, D: s.d, Q: q}
	if s.period > 1 {
		order.SP, order.SD, order.SQ, order.Period = sp, s.sd, sq, s.period
	} else if sp > 0 || sq > 0 {
		return false
	}
	if _, ok := s.seen[order]; ok {
		return false
	}
	fit, err := Estimate(s.x, order, Options{Method: s.opts.Method, IncludeMean: s.mean})
	s.seen[order] = fit
	if err != nil {
		return false
	}
	crit := fit.Criterion(o.Criterion)
	if math.IsNaN(crit) {
		return false
	}
	s.cands = append(s.cands, Candidate{Order: fit.Model.Order, Criterion: crit})
	if s.best == nil || crit < s.best.Criterion(o.Criterion) {
		s.best = fit
		return true
	}
	return false
}

// Identify selects d and D from unit-root and seasonal-strength tests,
// then searches p, q, P and Q either stepwise (Hyndman-Khandakar) or over
// the full grid, keeping the model with the lowest criterion.
func Identify(x []float64, opts IdentifyOptions) (*Identification, error) {
	started := time.Now()
	if err := checkValues(x); err != nil {
		return nil, err
	}
	switch opts.Criterion {
	case "":
		opts.Criterion = "aic"
	case "aic", "bic", "aicc":
	default:
		return nil, fmt.Errorf("unknown information criterion %q", opts.Criterion)
	}
	if opts.Method == "" {
		opts.Method = MethodCSS
	}

	s := &searcher{x: x, opts: opts, seen: map[tsdata.ArimaOrder]*Fit{}}
	if opts.Seasonal && opts.Period > 1 && len(x) >= 2*opts.Period+8 {
		s.period = opts.Period
		s.sd = stats.NSDiffs(x, opts.Period, opts.MaxSD)
	} else {
		opts.MaxSP, opts.MaxSQ = 0, 0
		s.opts = opts
	}
	w := x
	if s.sd > 0 {
		w = stats.Diff(x, s.period, s.sd)
	}
	s.d = stats.NDiffs(w, opts.MaxD)
	s.mean = s.d+s.sd == 0

	if opts.Stepwise {
		s.stepwise()
	} else {
		s.grid()
	}
	if s.best == nil {
		return nil, fmt.Errorf("%w: no candidate model could be fitted", ErrInsufficientData)
	}
	sort.SliceStable(s.cands, func(i, j int) bool { return s.cands[i].Criterion < s.cands[j].Criterion })
	return &Identification{
		Best:       s.best,
		Candidates: s.cands,
		D:          s.d,
		SD:         s.sd,
		Duration:   time.Since(started),
	}, nil
}

func (s *searcher) stepwise() {
	seasonal := s.period > 1
	starts := [][4]int{{2, 2, 0, 0}, {0, 0, 0, 0}, {1, 0, 0, 0}, {0, 1, 0, 0}}
	if seasonal {
		starts = [][4]int{{2, 2, 1, 1}, {0, 0, 0, 0}, {1, 0, 1, 0}, {0, 1, 0, 1}}
	}
	for _, st := range starts {
		s.try(st[0], st[1], st[2], st[3])
	}
	if s.best == nil {
		return
	}

	for iter := 0; iter < 100; iter++ {
		o := s.best.Model.Order
		p, q, sp, sq := o.P, o.Q, o.SP, o.SQ
		neighbours := [][4]int{
			{p + 1, q, sp, sq}, {p - 1, q, sp, sq},
			{p, q + 1, sp, sq}, {p, q - 1, sp, sq},
			{p + 1, q + 1, sp, sq}, {p - 1, q - 1, sp, sq},
		}
		if seasonal {
			neighbours = append(neighbours,
				[4]int{p, q, sp + 1, sq}, [4]int{p, q, sp - 1, sq},
				[4]int{p, q, sp, sq + 1}, [4]int{p, q, sp, sq - 1},
				[4]int{p, q, sp + 1, sq + 1}, [4]int{p, q, sp - 1, sq - 1},
			)
		}
		improved := false
		for _, nb := range neighbours {
			if s.try(nb[0], nb[1], nb[2], nb[3]) {
				improved = true
				break
			}
		}
		if !improved {
			return
		}
	}
}

func (s *searcher) grid() {
	maxSP, maxSQ := 0, 0
	if s.period > 1 {
		maxSP, maxSQ = min(s.opts.MaxSP, 1), min(s.opts.MaxSQ, 1)
	}
	for p := 0; p <= s.opts.MaxP; p++ {
		for q := 0; q <= s.opts.MaxQ; q++ {
			for sp := 0; sp <= maxSP; sp++ {
				for sq := 0; sq <= maxSQ; sq++ {
					s.try(p, q, sp, sq)
				}
			}
		}
	}
}
