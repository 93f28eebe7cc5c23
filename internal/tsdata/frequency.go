// Package tsdata defines the core time-series model shared by every
// analysis package: frequencies, periods, series, ARIMA orders and models,
// and seasonal decompositions.
package tsdata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Frequency is the sampling frequency of a series. Its code is the single
// letter used on the wire; PeriodsPerYear gives the seasonal period.
type Frequency string

const (
	Yearly    Frequency = "Y"
	Quarterly Frequency = "Q"
	Monthly   Frequency = "M"
	Weekly    Frequency = "W"
	Daily     Frequency = "D"
	Hourly    Frequency = "H"
)

// Frequencies lists the supported frequencies from lowest to highest.
var Frequencies = []Frequency{Yearly, Quarterly, Monthly, Weekly, Daily, Hourly}

// PeriodsPerYear returns the number of observations per year.
func (f Frequency) PeriodsPerYear() int {
	switch f {
	case Yearly:
		return 1
	case Quarterly:
		return 4
	case Monthly:
		return 12
	case Weekly:
		return 52
	case Daily:
		return 365
	case Hourly:
		return 8760
	}
	return 0
}

// Step returns the fixed spacing of weekly, daily and hourly observations.
// It reports false for frequencies tied to calendar months.
func (f Frequency) Step() (time.Duration, bool) {
	switch f {
	case Weekly:
		return 7 * 24 * time.Hour, true
	case Daily:
		return 24 * time.Hour, true
	case Hourly:
		return time.Hour, true
	}
	return 0, false
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	return f.PeriodsPerYear() > 0
}

// Name returns the long lowercase name of the frequency.
func (f Frequency) Name() string {
	switch f {
	case Yearly:
		return "yearly"
	case Quarterly:
		return "quarterly"
	case Monthly:
		return "monthly"
	case Weekly:
		return "weekly"
	case Daily:
		return "daily"
	case Hourly:
		return "hourly"
	}
	return string(f)
}

// ParseFrequency accepts the letter codes, long names (monthly, annual, ...)
// and periods-per-year integers.
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "y", "a", "yearly", "annual", "annually", "year", "1":
		return Yearly, nil
	case "q", "quarterly", "quarter", "4":
		return Quarterly, nil
	case "m", "monthly", "month", "12":
		return Monthly, nil
	case "w", "weekly", "week", "52":
		return Weekly, nil
	case "d", "daily", "day", "365":
		return Daily, nil
	case "h", "hourly", "hour", "8760":
		return Hourly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
}

// FrequencyFromPeriods maps a periods-per-year count back to a Frequency.
func FrequencyFromPeriods(n int) (Frequency, error) {
	return ParseFrequency(strconv.Itoa(n))
}

// UnmarshalJSON accepts either the letter code / name or the integer form.
func (f *Frequency) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidFrequency, string(b))
		}
		s = strconv.Itoa(n)
	}
	parsed, err := ParseFrequency(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseFrequency(value.Value)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Period identifies one observation slot: the year and the 1-based
// position within that year.
type Period struct {
	Year      int       `json:"year" yaml:"year"`
	Period    int       `json:"period" yaml:"period"`
	Frequency Frequency `json:"frequency" yaml:"frequency"`
}

// Validate checks that Period lies within 1..PeriodsPerYear.
func (p Period) Validate() error {
	if !p.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, p.Frequency)
	}
	if p.Period < 1 {
		return fmt.Errorf("%w: period must be >= 1, got %d", ErrInvalidPeriod, p.Period)
	}
	if ppy := p.Frequency.PeriodsPerYear(); p.Period > ppy {
		return fmt.Errorf("%w: period %d exceeds %d periods per year", ErrInvalidPeriod, p.Period, ppy)
	}
	return nil
}

func (p Period) String() string {
	switch p.Frequency {
	case Yearly:
		return strconv.Itoa(p.Year)
	case Quarterly:
		return fmt.Sprintf("%dQ%d", p.Year, p.Period)
	case Monthly:
		return fmt.Sprintf("%d-%02d", p.Year, p.Period)
	}
	return fmt.Sprintf("%d:%d", p.Year, p.Period)
}

// Add returns the period n steps after p (n may be negative).
func (p Period) Add(n int) Period {
	ppy := p.Frequency.PeriodsPerYear()
	if ppy <= 0 {
		return p
	}
	total := p.Year*ppy + (p.Period - 1) + n
	year := floorDiv(total, ppy)
	return Period{Year: year, Period: total - year*ppy + 1, Frequency: p.Frequency}
}

// Sub returns the number of periods from q to p.
func (p Period) Sub(q Period) int {
	ppy := p.Frequency.PeriodsPerYear()
	return (p.Year*ppy + p.Period) - (q.Year*ppy + q.Period)
}

// Time returns the first instant of the period. Weekly, daily and hourly
// periods are counted from January 1st.
func (p Period) Time() time.Time {
	start := time.Date(p.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	switch p.Frequency {
	case Yearly:
		return start
	case Quarterly:
		return time.Date(p.Year, time.Month((p.Period-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	case Monthly:
		return time.Date(p.Year, time.Month(p.Period), 1, 0, 0, 0, 0, time.UTC)
	case Weekly:
		return start.AddDate(0, 0, 7*(p.Period-1))
	case Daily:
		return start.AddDate(0, 0, p.Period-1)
	case Hourly:
		return start.Add(time.Duration(p.Period-1) * time.Hour)
	}
	return start
}

// Offset returns the instant n observations after the start of p. Weekly,
// daily and hourly observations advance by their fixed Step, so a run that
// crosses a leap day or a 53rd week keeps one instant per observation.
func (p Period) Offset(n int) time.Time {
	if step, ok := p.Frequency.Step(); ok {
		return p.Time().Add(time.Duration(n) * step)
	}
	return p.Add(n).Time()
}

// PeriodOf returns the period containing t at frequency f.
func PeriodOf(t time.Time, f Frequency) Period {
	p := Period{Year: t.Year(), Frequency: f}
	switch f {
	case Yearly:
		p.Period = 1
	case Quarterly:
		p.Period = (int(t.Month())-1)/3 + 1
	case Monthly:
		p.Period = int(t.Month())
	case Weekly:
		p.Period = min((t.YearDay()-1)/7+1, 52)
	case Daily:
		p.Period = min(t.YearDay(), 365)
	case Hourly:
		p.Period = min((t.YearDay()-1)*24+t.Hour()+1, 8760)
	}
	return p
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
