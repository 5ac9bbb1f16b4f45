// README: Pricing rates and request/result shapes for fare estimation.
package pricing

import "time"

// Rates holds the fare formula coefficients. DemandIndex 1 means no surge.
type Rates struct {
	BaseFare      float64
	PerKmRate     float64
	PerMinRate    float64
	MinimumFare   float64
	WeatherFactor float64
	Tolls         float64
	DemandIndex   float64
	Currency      string
}

func DefaultRates() Rates {
	return Rates{
		BaseFare:      30,
		PerKmRate:     12,
		PerMinRate:    2,
		MinimumFare:   5,
		WeatherFactor: 1.0,
		Tolls:         0,
		DemandIndex:   1,
		Currency:      "INR",
	}
}

type PricingRequest struct {
	DistanceKm      float64
	DurationSeconds float64
	TrafficFactor   float64
	RequestTime     time.Time
}

type PricingResult struct {
	Total     float64
	Currency  string
	Breakdown map[string]float64
}
