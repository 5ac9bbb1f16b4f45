// README: Driver availability stores (Firebase RTDB and in-memory).
package location

import (
	"context"
	"sync"
	"time"

	"ridewise/internal/types"
)

type AvailabilityStore interface {
	Get(ctx context.Context, driverID types.ID) (*DriverAvailability, error)
	SetStatus(ctx context.Context, driverID types.ID, status AvailabilityStatus, pos *types.Point) error
	SetVerified(ctx context.Context, driverID types.ID, verified bool) error
	UpdatePosition(ctx context.Context, driverID types.ID, pos types.Point) error
	NearbyAvailable(ctx context.Context, origin types.Point, radiusKm float64) ([]NearbyDriver, error)
}

type MemoryAvailabilityStore struct {
	mu      sync.Mutex
	drivers map[types.ID]*DriverAvailability
	now     func() time.Time
}

func NewMemoryAvailabilityStore() *MemoryAvailabilityStore {
	return &MemoryAvailabilityStore{drivers: make(map[types.ID]*DriverAvailability), now: time.Now}
}

func (s *MemoryAvailabilityStore) Get(ctx context.Context, driverID types.ID) (*DriverAvailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.drivers[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAvailabilityStore) entry(driverID types.ID) *DriverAvailability {
	a, ok := s.drivers[driverID]
	if !ok {
		a = &DriverAvailability{DriverID: driverID, Status: StatusUnavailable}
		s.drivers[driverID] = a
	}
	a.UpdatedAt = s.now()
	return a
}

func (s *MemoryAvailabilityStore) SetStatus(ctx context.Context, driverID types.ID, status AvailabilityStatus, pos *types.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.entry(driverID)
	a.Status = status
	if pos != nil {
		p := *pos
		a.Position = &p
	}
	return nil
}

func (s *MemoryAvailabilityStore) SetVerified(ctx context.Context, driverID types.ID, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(driverID).Verified = verified
	return nil
}

func (s *MemoryAvailabilityStore) UpdatePosition(ctx context.Context, driverID types.ID, pos types.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(driverID).Position = &pos
	return nil
}

func (s *MemoryAvailabilityStore) NearbyAvailable(ctx context.Context, origin types.Point, radiusKm float64) ([]NearbyDriver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []NearbyDriver
	for id, a := range s.drivers {
		if !a.Eligible() || a.Position == nil {
			continue
		}
		d := DistanceKm(origin, *a.Position)
		if d <= radiusKm {
			out = append(out, NearbyDriver{DriverID: id, Position: *a.Position, DistanceKm: d})
		}
	}
	SortByDistance(out, func(n NearbyDriver) float64 { return n.DistanceKm })
	return out, nil
}
