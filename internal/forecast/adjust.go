// Package forecast projects graduation forecasts forward and drives the
// external forecaster.
package forecast

import (
	"math"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
)

const (
	// Horizon is how many months after the base month are projected.
	Horizon = 3

	upFactor   = 1.03
	downFactor = 0.97
	threshold  = 0.5
)

// Factor returns the nudge applied for a base month close value.
func Factor(baseClose float64) float64 {
	if baseClose > threshold {
		return upFactor
	}
	return downFactor
}

// Adjust nudges the months after base by the factor chosen from base's
// close, clamps to [0,1] and rounds to 4 decimals. Months missing from the
// series are skipped. series is not modified.
func Adjust(series models.ForecastSeries, base int) (map[int]models.ForecastPoint, error) {
	point, ok := series[base]
	if !ok {
		return nil, errors.NotFoundf("Forecast data for month '%d' not found.", base)
	}
	factor := Factor(point.Close)

	out := make(map[int]models.ForecastPoint, Horizon)
	for i := 1; i <= Horizon; i++ {
		month := base + i
		next, ok := series[month]
		if !ok {
			continue
		}
		out[month] = models.ForecastPoint{
			Date:  month,
			Close: round4(clamp(next.Close*factor, 0, 1)),
		}
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
