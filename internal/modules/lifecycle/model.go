// README: Lifecycle commands, errors and route guidance.
package lifecycle

import (
	"fmt"

	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

var (
	ErrOTPMismatch      = fmt.Errorf("otp does not match: %w", ride.ErrValidation)
	ErrTooManyAttempts  = fmt.Errorf("too many otp attempts: %w", ride.ErrConflict)
	ErrInvalidRating    = fmt.Errorf("rating must be between 1 and 5: %w", ride.ErrValidation)
	ErrInvalidPlacement = fmt.Errorf("invalid coordinates: %w", ride.ErrValidation)
)

type RequestCommand struct {
	RiderID            types.ID
	RiderName          string
	Origin             types.Point
	Destination        types.Point
	OriginAddress      string
	DestinationAddress string
}

type VerifyOTPCommand struct {
	RideID   types.ID
	DriverID types.ID
	Code     string
}

type ConfirmCommand struct {
	RideID  types.ID
	RiderID types.ID
	// Rating is optional, 1 to 5.
	Rating *int
}

type CancelCommand struct {
	RideID  types.ID
	ActorID types.ID
}

type TargetKind string

const (
	TargetPickup      TargetKind = "pickup"
	TargetDestination TargetKind = "destination"
)

// RouteTarget is where the driver should navigate next.
type RouteTarget struct {
	Kind  TargetKind  `json:"kind"`
	Point types.Point `json:"point"`
	// Address may be stale relative to Point; it is what the rider typed.
	Address string `json:"address"`
}

// TargetFor switches guidance from pickup to destination once the OTP is verified.
func TargetFor(r *ride.RideRequest) RouteTarget {
	if r.OTPVerified {
		return RouteTarget{Kind: TargetDestination, Point: r.Destination, Address: r.DestinationAddress}
	}
	return RouteTarget{Kind: TargetPickup, Point: r.Origin, Address: r.OriginAddress}
}

// ViewFor hides the OTP from everyone but the rider, who reads it out at pickup.
func ViewFor(r *ride.RideRequest, actorID types.ID) *ride.RideRequest {
	v := r.Clone()
	if actorID != r.RiderID {
		v.OTP = ""
	}
	return v
}

func isParticipant(r *ride.RideRequest, actorID types.ID) bool {
	return actorID != "" && (r.RiderID == actorID || r.IsDriver(actorID))
}
