package maps

import (
	"errors"
	"fmt"

	"googlemaps.github.io/maps"
)

// ErrUpstreamUnavailable marks routing or geocoding provider failures. Callers
// must not fall back to a guessed fare.
var ErrUpstreamUnavailable = errors.New("routing provider unavailable")

// Options configures the Google Maps client shared by the route and places services.
type Options struct {
	APIKey   string
	Region   string
	Language string
	// BaseURL overrides the API host; used by tests.
	BaseURL string
}

func newClient(opts Options) (*maps.Client, error) {
	clientOpts := []maps.ClientOption{maps.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(opts.BaseURL))
	}
	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, op, err)
}
