// README: Dispatch commands, open-request views and driver profile.
package dispatch

import (
	"fmt"

	"ridewise/internal/modules/location"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

const (
	// DefaultRadiusKm is how far from a driver open requests are surfaced.
	DefaultRadiusKm = 25.0
	// DefaultAnnounceCount caps how many nearby drivers a new request is announced to.
	DefaultAnnounceCount = 10
)

var (
	ErrAlreadyClaimed    = fmt.Errorf("ride already claimed: %w", ride.ErrConflict)
	ErrDriverUnavailable = fmt.Errorf("driver is not available for dispatch: %w", ride.ErrConflict)
	ErrInvalidProfile    = fmt.Errorf("driver profile incomplete: %w", ride.ErrValidation)
)

// DriverProfile is what a driver attaches to a ride on claim. Profile data
// itself is owned by the account system.
type DriverProfile struct {
	ID       types.ID
	Name     string
	Phone    string
	Vehicle  *ride.Vehicle
	Location *types.Point
}

type ClaimCommand struct {
	RideID types.ID
	Driver DriverProfile
}

type RejectCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type SetAvailabilityCommand struct {
	DriverID types.ID
	Status   location.AvailabilityStatus
	Position *types.Point
}

// OpenRequest is a requested ride with its pickup distance from the querying driver.
type OpenRequest struct {
	Ride             *ride.RideRequest `json:"ride"`
	PickupDistanceKm float64           `json:"pickup_distance_km"`
}
