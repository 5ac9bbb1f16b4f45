package maps

import (
	"context"
	"errors"

	"googlemaps.github.io/maps"

	"ridewise/internal/modules/location"
	"ridewise/internal/types"
)

// DurationEstimate is a driving time with and without current traffic.
type DurationEstimate struct {
	BaseSeconds            float64
	TrafficAdjustedSeconds float64
	DistanceMeters         int
}

// TrafficFactor is traffic-adjusted over base duration; 1 when base is unknown.
func (d DurationEstimate) TrafficFactor() float64 {
	if d.BaseSeconds <= 0 || d.TrafficAdjustedSeconds <= 0 {
		return 1
	}
	return d.TrafficAdjustedSeconds / d.BaseSeconds
}

// RouteService handles interactions with the Google Directions API.
type RouteService struct {
	client *maps.Client
	opts   Options
}

// NewRouteService creates a new RouteService from the shared maps options.
func NewRouteService(opts Options) (*RouteService, error) {
	client, err := newClient(opts)
	if err != nil {
		return nil, err
	}
	return &RouteService{client: client, opts: opts}, nil
}

// EstimateDuration asks for a driving route departing now so the response
// carries a traffic-adjusted duration.
func (s *RouteService) EstimateDuration(ctx context.Context, origin, destination types.Point) (DurationEstimate, error) {
	r := &maps.DirectionsRequest{
		Origin:        origin.String(),
		Destination:   destination.String(),
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
		TrafficModel:  maps.TrafficModelBestGuess,
		Language:      s.opts.Language,
		Region:        s.opts.Region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return DurationEstimate{}, upstream("directions", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return DurationEstimate{}, upstream("directions", errors.New("no route found"))
	}

	leg := routes[0].Legs[0]
	est := DurationEstimate{
		BaseSeconds:            leg.Duration.Seconds(),
		TrafficAdjustedSeconds: leg.DurationInTraffic.Seconds(),
		DistanceMeters:         leg.Meters,
	}
	if est.TrafficAdjustedSeconds == 0 {
		est.TrafficAdjustedSeconds = est.BaseSeconds
	}
	return est, nil
}

// StraightLineEstimator prices routes from great-circle distance at a fixed
// speed. It stands in for the Directions API when no key is configured.
type StraightLineEstimator struct {
	SpeedKmh float64
}

func (e StraightLineEstimator) EstimateDuration(_ context.Context, origin, destination types.Point) (DurationEstimate, error) {
	speed := e.SpeedKmh
	if speed <= 0 {
		speed = 25
	}
	km := location.DistanceKm(origin, destination)
	secs := km / speed * 3600
	return DurationEstimate{BaseSeconds: secs, TrafficAdjustedSeconds: secs, DistanceMeters: int(km * 1000)}, nil
}
