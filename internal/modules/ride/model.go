// README: Ride request aggregate, derived lifecycle stage and transition table.
package ride

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ridewise/internal/types"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusActive    Status = "active"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusActive, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type Vehicle struct {
	Make  string `json:"make" firestore:"make"`
	Model string `json:"model" firestore:"model"`
	Year  string `json:"year" firestore:"year"`
	Color string `json:"color" firestore:"color"`
	Plate string `json:"license_plate" firestore:"licensePlate"`
}

// RideRequest is the single live record shared by rider and driver.
// Distance, duration and fare are computed once at creation and never rewritten.
type RideRequest struct {
	ID                 types.ID     `json:"id"`
	RiderID            types.ID     `json:"rider_id"`
	RiderName          string       `json:"rider_name"`
	Origin             types.Point  `json:"origin"`
	Destination        types.Point  `json:"destination"`
	OriginAddress      string       `json:"origin_address"`
	DestinationAddress string       `json:"destination_address"`
	RequestedAt        time.Time    `json:"requested_at"`
	Status             Status       `json:"status"`
	DriverID           *types.ID    `json:"driver_id,omitempty"`
	DriverName         string       `json:"driver_name,omitempty"`
	DriverPhone        string       `json:"driver_phone,omitempty"`
	DriverLocation     *types.Point `json:"driver_location,omitempty"`
	Vehicle            *Vehicle     `json:"vehicle,omitempty"`
	AcceptedAt         *time.Time   `json:"accepted_at,omitempty"`
	OTP                string       `json:"otp,omitempty"`
	OTPVerified        bool         `json:"otp_verified"`
	IsRideCompleted    bool         `json:"is_ride_completed"`
	IsUserConfirmed    bool         `json:"is_user_confirmed"`
	DroppedOffAt       *time.Time   `json:"dropped_off_at,omitempty"`
	RiderRating        *int         `json:"rider_rating,omitempty"`
	DistanceKm         float64      `json:"distance_km"`
	DurationSeconds    int64        `json:"duration_seconds"`
	FareAmount         float64      `json:"fare_amount"`
	Currency           string       `json:"currency"`
	RejectedBy         *types.ID    `json:"rejected_by,omitempty"`
	RejectedAt         *time.Time   `json:"rejected_at,omitempty"`
}

func NewID() types.ID {
	return types.ID(uuid.NewString())
}

// Stage is the lifecycle position derived from status and flags.
type Stage string

const (
	StageInvalid              Stage = "invalid"
	StageRequested            Stage = "requested"
	StageRejected             Stage = "rejected"
	StageAwaitingPickup       Stage = "awaiting_pickup"
	StageInTransit            Stage = "in_transit"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageConfirmed            Stage = "confirmed"
	StageCompleted            Stage = "completed"
	StageCancelled            Stage = "cancelled"
)

func (r *RideRequest) Stage() Stage {
	switch r.Status {
	case StatusRequested:
		return StageRequested
	case StatusRejected:
		return StageRejected
	case StatusCancelled:
		return StageCancelled
	case StatusCompleted:
		return StageCompleted
	case StatusActive:
		switch {
		case r.IsUserConfirmed:
			return StageConfirmed
		case r.IsRideCompleted:
			return StageAwaitingConfirmation
		case r.OTPVerified:
			return StageInTransit
		default:
			return StageAwaitingPickup
		}
	}
	return StageInvalid
}

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Stage][]Stage{
	StageRequested:            {StageAwaitingPickup, StageRejected, StageCancelled},
	StageRejected:             {StageRequested, StageCancelled},
	StageAwaitingPickup:       {StageInTransit, StageCancelled},
	StageInTransit:            {StageAwaitingConfirmation, StageCancelled},
	StageAwaitingConfirmation: {StageConfirmed, StageCancelled},
	StageConfirmed:            {StageCompleted},
}

func CanTransition(from, to Stage) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Validate rejects records whose status and flags contradict each other.
func (r *RideRequest) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	hasDriver := r.DriverID != nil
	switch {
	case r.Status == StatusActive && !hasDriver:
		return fmt.Errorf("%w: active ride without driver", ErrInvalidRecord)
	case hasDriver && r.Status != StatusActive && r.Status != StatusCompleted && r.Status != StatusCancelled:
		return fmt.Errorf("%w: driver attached to %s ride", ErrInvalidRecord, r.Status)
	case r.OTPVerified && r.OTP == "":
		return fmt.Errorf("%w: otp verified without otp", ErrInvalidRecord)
	case r.IsRideCompleted && !r.OTPVerified:
		return fmt.Errorf("%w: drop-off before pickup", ErrInvalidRecord)
	case r.IsUserConfirmed && !r.IsRideCompleted:
		return fmt.Errorf("%w: confirmed before drop-off", ErrInvalidRecord)
	case r.RiderRating != nil && (*r.RiderRating < 1 || *r.RiderRating > 5):
		return fmt.Errorf("%w: rating out of range", ErrInvalidRecord)
	}
	return nil
}

// IsDriver reports whether id is the driver currently attached to the ride.
func (r *RideRequest) IsDriver(id types.ID) bool {
	return r.DriverID != nil && *r.DriverID == id
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *RideRequest) Clone() *RideRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.DriverID != nil {
		v := *r.DriverID
		c.DriverID = &v
	}
	if r.DriverLocation != nil {
		v := *r.DriverLocation
		c.DriverLocation = &v
	}
	if r.Vehicle != nil {
		v := *r.Vehicle
		c.Vehicle = &v
	}
	if r.AcceptedAt != nil {
		v := *r.AcceptedAt
		c.AcceptedAt = &v
	}
	if r.DroppedOffAt != nil {
		v := *r.DroppedOffAt
		c.DroppedOffAt = &v
	}
	if r.RiderRating != nil {
		v := *r.RiderRating
		c.RiderRating = &v
	}
	if r.RejectedBy != nil {
		v := *r.RejectedBy
		c.RejectedBy = &v
	}
	if r.RejectedAt != nil {
		v := *r.RejectedAt
		c.RejectedAt = &v
	}
	return &c
}
