// Package location provides driver availability backed by Firebase RTDB.
package location

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"

	"ridewise/internal/types"
)

const driversNode = "drivers"

// ---------------------------------------------------------------------------
// RTDB data model
// ---------------------------------------------------------------------------

// rtdbDriverEntry mirrors a single driver entry stored under /drivers/{uid}.
type rtdbDriverEntry struct {
	Status    string   `json:"status"`
	Verified  bool     `json:"verified"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	UpdatedAt int64    `json:"updatedAt"`
}

func (e *rtdbDriverEntry) toAvailability(id types.ID) *DriverAvailability {
	a := &DriverAvailability{
		DriverID:  id,
		Status:    AvailabilityStatus(e.Status),
		Verified:  e.Verified,
		UpdatedAt: time.UnixMilli(e.UpdatedAt),
	}
	if e.Lat != nil && e.Lng != nil {
		a.Position = &types.Point{Lat: *e.Lat, Lng: *e.Lng}
	}
	return a
}

// FirebaseAvailabilityStore reads and writes driver availability in RTDB,
// where the driver app also listens.
type FirebaseAvailabilityStore struct {
	client *db.Client
	now    func() time.Time
}

func NewFirebaseAvailabilityStore(client *db.Client) *FirebaseAvailabilityStore {
	return &FirebaseAvailabilityStore{client: client, now: time.Now}
}

func (s *FirebaseAvailabilityStore) ref(driverID types.ID) *db.Ref {
	return s.client.NewRef(driversNode).Child(string(driverID))
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

func (s *FirebaseAvailabilityStore) Get(ctx context.Context, driverID types.ID) (*DriverAvailability, error) {
	var entry *rtdbDriverEntry
	if err := s.ref(driverID).Get(ctx, &entry); err != nil {
		return nil, fmt.Errorf("reading driver %s: %w", driverID, err)
	}
	if entry == nil {
		return nil, ErrDriverNotFound
	}
	return entry.toAvailability(driverID), nil
}

func (s *FirebaseAvailabilityStore) SetStatus(ctx context.Context, driverID types.ID, status AvailabilityStatus, pos *types.Point) error {
	fields := map[string]interface{}{
		"status":    string(status),
		"updatedAt": s.now().UnixMilli(),
	}
	if pos != nil {
		fields["lat"] = pos.Lat
		fields["lng"] = pos.Lng
	}
	if err := s.ref(driverID).Update(ctx, fields); err != nil {
		return fmt.Errorf("updating driver %s status: %w", driverID, err)
	}
	return nil
}

func (s *FirebaseAvailabilityStore) SetVerified(ctx context.Context, driverID types.ID, verified bool) error {
	if err := s.ref(driverID).Update(ctx, map[string]interface{}{"verified": verified}); err != nil {
		return fmt.Errorf("updating driver %s verification: %w", driverID, err)
	}
	return nil
}

func (s *FirebaseAvailabilityStore) UpdatePosition(ctx context.Context, driverID types.ID, pos types.Point) error {
	fields := map[string]interface{}{
		"lat":       pos.Lat,
		"lng":       pos.Lng,
		"updatedAt": s.now().UnixMilli(),
	}
	if err := s.ref(driverID).Update(ctx, fields); err != nil {
		return fmt.Errorf("updating driver %s position: %w", driverID, err)
	}
	return nil
}

// NearbyAvailable queries RTDB for available drivers within radiusKm of the
// origin, sorted by distance ascending (closest first). Unverified drivers
// are skipped.
func (s *FirebaseAvailabilityStore) NearbyAvailable(ctx context.Context, origin types.Point, radiusKm float64) ([]NearbyDriver, error) {
	var data map[string]rtdbDriverEntry
	ref := s.client.NewRef(driversNode)
	if err := ref.OrderByChild("status").EqualTo(string(StatusAvailable)).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("querying available drivers: %w", err)
	}

	var result []NearbyDriver
	for driverID, entry := range data {
		if !entry.Verified || entry.Lat == nil || entry.Lng == nil {
			continue
		}
		pos := types.Point{Lat: *entry.Lat, Lng: *entry.Lng}
		dist := DistanceKm(origin, pos)
		if dist <= radiusKm {
			result = append(result, NearbyDriver{DriverID: types.ID(driverID), Position: pos, DistanceKm: dist})
		}
	}

	SortByDistance(result, func(d NearbyDriver) float64 { return d.DistanceKm })
	return result, nil
}
