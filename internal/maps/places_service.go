package maps

import (
	"context"
	"strings"

	"googlemaps.github.io/maps"

	"ridewise/internal/types"
)

// Place is a simplified geocoding result.
type Place struct {
	PlaceID string      `json:"place_id"`
	Address string      `json:"address"`
	Point   types.Point `json:"point"`
}

// Suggestion is one autocomplete prediction.
type Suggestion struct {
	PlaceID     string `json:"place_id"`
	Description string `json:"description"`
}

// PlacesService handles forward/reverse geocoding and autocomplete.
type PlacesService struct {
	client *maps.Client
	opts   Options
}

// NewPlacesService creates a new PlacesService from the shared maps options.
func NewPlacesService(opts Options) (*PlacesService, error) {
	client, err := newClient(opts)
	if err != nil {
		return nil, err
	}
	return &PlacesService{client: client, opts: opts}, nil
}

// Geocode resolves free text to coordinates and a formatted address.
func (s *PlacesService) Geocode(ctx context.Context, text string) ([]Place, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  text,
		Region:   s.opts.Region,
		Language: s.opts.Language,
	})
	if err != nil {
		return nil, upstream("geocode", err)
	}
	return toPlaces(results), nil
}

// ReverseGeocode resolves a coordinate to the nearest formatted addresses.
func (s *PlacesService) ReverseGeocode(ctx context.Context, p types.Point) ([]Place, error) {
	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
		Language: s.opts.Language,
	})
	if err != nil {
		return nil, upstream("reverse geocode", err)
	}
	return toPlaces(results), nil
}

// Autocomplete returns predictions for partially typed text.
func (s *PlacesService) Autocomplete(ctx context.Context, input string) ([]Suggestion, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	resp, err := s.client.PlaceAutocomplete(ctx, &maps.PlaceAutocompleteRequest{
		Input:    input,
		Language: s.opts.Language,
	})
	if err != nil {
		return nil, upstream("autocomplete", err)
	}
	out := make([]Suggestion, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		out = append(out, Suggestion{PlaceID: p.PlaceID, Description: p.Description})
	}
	return out, nil
}

func toPlaces(results []maps.GeocodingResult) []Place {
	out := make([]Place, 0, len(results))
	for _, r := range results {
		out = append(out, Place{
			PlaceID: r.PlaceID,
			Address: r.FormattedAddress,
			Point:   types.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
		})
	}
	return out
}
