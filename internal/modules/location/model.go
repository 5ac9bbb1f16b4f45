// README: Driver availability as published by the driver app.
package location

import (
	"errors"
	"time"

	"ridewise/internal/types"
)

type AvailabilityStatus string

const (
	StatusAvailable   AvailabilityStatus = "available"
	StatusUnavailable AvailabilityStatus = "unavailable"
)

// DriverAvailability gates which drivers may see and claim open requests.
// Verified is owned by the document-review process and only read here.
type DriverAvailability struct {
	DriverID  types.ID           `json:"driver_id"`
	Status    AvailabilityStatus `json:"status"`
	Verified  bool               `json:"verified"`
	Position  *types.Point       `json:"position,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (a *DriverAvailability) Eligible() bool {
	return a != nil && a.Status == StatusAvailable && a.Verified
}

// NearbyDriver is an available driver with its distance from a queried point.
type NearbyDriver struct {
	DriverID   types.ID
	Position   types.Point
	DistanceKm float64
}

var ErrDriverNotFound = errors.New("driver availability not found")
