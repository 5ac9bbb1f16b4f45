// README: Immutable per-party ride history records and aggregate stats.
package history

import (
	"errors"
	"fmt"
	"time"

	"ridewise/internal/types"
)

type Party string

const (
	PartyRider  Party = "rider"
	PartyDriver Party = "driver"
)

func (p Party) Valid() bool {
	return p == PartyRider || p == PartyDriver
}

type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Record is a denormalized snapshot of a finished ride for one party.
// Created once, never mutated.
type Record struct {
	ID                 string      `json:"id"`
	RideID             types.ID    `json:"ride_id"`
	Party              Party       `json:"party"`
	OwnerID            types.ID    `json:"owner_id"`
	CounterpartID      types.ID    `json:"counterpart_id,omitempty"`
	CounterpartName    string      `json:"counterpart_name,omitempty"`
	Origin             types.Point `json:"origin"`
	Destination        types.Point `json:"destination"`
	OriginAddress      string      `json:"origin_address"`
	DestinationAddress string      `json:"destination_address"`
	RequestedAt        time.Time   `json:"requested_at"`
	EndedAt            time.Time   `json:"ended_at"`
	FareAmount         float64     `json:"fare_amount"`
	Currency           string      `json:"currency"`
	DistanceKm         float64     `json:"distance_km"`
	DurationSeconds    int64       `json:"duration_seconds"`
	Status             Status      `json:"status"`
	Rating             *int        `json:"rating,omitempty"`
}

// RecordID is deterministic so a retried materialization lands on the same key.
func RecordID(rideID types.ID, party Party) string {
	return fmt.Sprintf("%s_%s", rideID, party)
}

// Stats aggregates a party's history. Amount is spend for riders and
// earnings for drivers; only completed rides count toward it.
type Stats struct {
	TotalRides      int     `json:"total_rides"`
	CompletedRides  int     `json:"completed_rides"`
	CancelledRides  int     `json:"cancelled_rides"`
	TotalAmount     float64 `json:"total_amount"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	TotalSeconds    int64   `json:"total_seconds"`
	AverageRating   float64 `json:"average_rating,omitempty"`
}

var (
	ErrAlreadyExists = errors.New("history record already exists")
	ErrInvalidParty  = errors.New("invalid history party")
)
