package tsdata

import (
	"fmt"
	"time"
)

// EasterSunday returns the Gregorian Easter date of year.
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// span returns the half-open interval covered by p. Calendar regressors
// are only defined for yearly, quarterly and monthly data.
func (p Period) span() (from, to time.Time, err error) {
	from = p.Time()
	switch p.Frequency {
	case Yearly:
		to = from.AddDate(1, 0, 0)
	case Quarterly:
		to = from.AddDate(0, 3, 0)
	case Monthly:
		to = from.AddDate(0, 1, 0)
	default:
		return from, from, fmt.Errorf("%w: calendar effects need yearly, quarterly or monthly data", ErrInvalidFrequency)
	}
	return from, to, nil
}

func calendarRegressor(s *Series, f func(from, to time.Time) float64) ([]float64, error) {
	out := make([]float64, s.Len())
	for i := range out {
		from, to, err := s.PeriodAt(i).span()
		if err != nil {
			return nil, err
		}
		out[i] = f(from, to)
	}
	return out, nil
}

// TradingDays is the weekday/weekend contrast #weekdays - 5/2·#weekend
// days in each period.
func TradingDays(s *Series) ([]float64, error) {
	return calendarRegressor(s, func(from, to time.Time) float64 {
		var week, weekend float64
		for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
			switch d.Weekday() {
			case time.Saturday, time.Sunday:
				weekend++
			default:
				week++
			}
		}
		return week - 2.5*weekend
	})
}

// Easter is the share of the window days before Easter Sunday that fall
// in each period.
func Easter(s *Series, window int) ([]float64, error) {
	if window < 1 {
		return nil, fmt.Errorf("easter window must be positive, got %d", window)
	}
	return calendarRegressor(s, func(from, to time.Time) float64 {
		easter := EasterSunday(from.Year())
		var in int
		for k := 1; k <= window; k++ {
			d := easter.AddDate(0, 0, -k)
			if !d.Before(from) && d.Before(to) {
				in++
			}
		}
		return float64(in) / float64(window)
	})
}

// LeapYear is 0.75 for periods holding a leap-year February, -0.25 for
// periods holding any other February and 0 elsewhere.
func LeapYear(s *Series) ([]float64, error) {
	return calendarRegressor(s, func(from, to time.Time) float64 {
		feb := time.Date(from.Year(), time.February, 1, 0, 0, 0, 0, time.UTC)
		if feb.Before(from) || !feb.Before(to) {
			return 0
		}
		if y := from.Year(); y%4 == 0 && (y%100 != 0 || y%400 == 0) {
			return 0.75
		}
		return -0.25
	})
}
