// README: Pricing service computes the dynamic fare frozen into each ride at creation.
package pricing

import (
	"time"

	"ridewise/internal/types"
)

const peakFactor = 1.2

// peakWindows are [start, end) local hours.
var peakWindows = [][2]int{{8, 10}, {18, 21}}

type Service struct {
	rates Rates
	loc   *time.Location
}

// NewService uses loc for time-of-day pricing; nil means UTC.
func NewService(rates Rates, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if rates.DemandIndex == 0 {
		rates.DemandIndex = 1
	}
	if rates.WeatherFactor == 0 {
		rates.WeatherFactor = 1
	}
	return &Service{rates: rates, loc: loc}
}

func (s *Service) Rates() Rates {
	return s.rates
}

// TimeOfDayFactor is 1.2 inside the morning and evening peaks, else 1.0.
func (s *Service) TimeOfDayFactor(t time.Time) float64 {
	h := t.In(s.loc).Hour()
	for _, w := range peakWindows {
		if h >= w[0] && h < w[1] {
			return peakFactor
		}
	}
	return 1.0
}

func (s *Service) SurgeMultiplier() float64 {
	return 1 + (s.rates.DemandIndex-1)*0.25
}

// DynamicFare prices a trip. A non-positive traffic factor is treated as 1.
func (s *Service) DynamicFare(req PricingRequest) PricingResult {
	traffic := req.TrafficFactor
	if traffic <= 0 {
		traffic = 1
	}
	r := s.rates
	surge := s.SurgeMultiplier()
	tod := s.TimeOfDayFactor(req.RequestTime)

	distanceFare := req.DistanceKm * r.PerKmRate
	timeFare := (req.DurationSeconds / 60) * r.PerMinRate * traffic
	subtotal := r.BaseFare + distanceFare + timeFare
	total := subtotal*surge*tod*r.WeatherFactor + r.Tolls
	if total < r.MinimumFare {
		total = r.MinimumFare
	}

	return PricingResult{
		Total:    types.RoundCents(total),
		Currency: r.Currency,
		Breakdown: map[string]float64{
			"base_fare":        r.BaseFare,
			"distance_fare":    types.RoundCents(distanceFare),
			"time_fare":        types.RoundCents(timeFare),
			"surge_multiplier": surge,
			"time_of_day":      tod,
			"weather_factor":   r.WeatherFactor,
			"tolls":            r.Tolls,
			"traffic_factor":   traffic,
		},
	}
}
