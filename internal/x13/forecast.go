package x13

import (
	"math"

	"github.com/banshee-data/demetra.report/internal/arima"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// ForecastPoint is one forecast on the original scale with a 95% interval.
type ForecastPoint struct {
	Period   tsdata.Period `json:"period"`
	Forecast float64       `json:"forecast"`
	Lower95  float64       `json:"lower_95"`
	Upper95  float64       `json:"upper_95"`
}

// Forecasts extends the linearised series with the RegARIMA model, adds
// the future regression effects back and undoes the transformation.
func Forecasts(s *tsdata.Series, ra *RegArimaResult, reg *fittedRegression, lead int) ([]ForecastPoint, error) {
	lin := s.WithValues(ra.Linearised, s.Start)
	pts, err := arima.Forecast(lin, &ra.Model, lead, 0.95)
	if err != nil {
		return nil, err
	}
	n := s.Len()
	effects, err := reg.contribution(n + lead)
	if err != nil {
		return nil, err
	}
	back := func(v float64) float64 {
		if ra.Transformation == "log" {
			return math.Exp(v)
		}
		return v
	}
	out := make([]ForecastPoint, len(pts))
	for h, p := range pts {
		e := effects[n+h]
		out[h] = ForecastPoint{
			Period:   p.Period,
			Forecast: back(p.Forecast + e),
			Lower95:  back(p.Lower + e),
			Upper95:  back(p.Upper + e),
		}
	}
	return out, nil
}
