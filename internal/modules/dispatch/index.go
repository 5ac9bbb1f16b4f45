// README: Driver geo index backed by Redis GEO and sets, plus an in-memory variant.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ridewise/internal/modules/location"
	"ridewise/internal/types"
)

// Index tracks positions of drivers that can be announced new requests.
type Index interface {
	AddDriver(ctx context.Context, id types.ID, pos types.Point) error
	RemoveDriver(ctx context.Context, id types.ID) error
	NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64, count int) ([]types.ID, error)
	RecordDispatch(ctx context.Context, rideID types.ID, driverIDs []types.ID) error
	NotifiedDrivers(ctx context.Context, rideID types.ID) ([]types.ID, error)
}

const (
	driverGeoKey      = "dispatch:drivers"
	dispatchKeyPrefix = "dispatch:ride:%s:dispatched_at"
	notifiedKeyPrefix = "dispatch:ride:%s:notified"
	// TTL for per-ride keys (rides should resolve well within a day).
	keyTTL = 24 * time.Hour
)

type RedisIndex struct {
	redis *redis.Client
}

func NewRedisIndex(redis *redis.Client) *RedisIndex {
	return &RedisIndex{redis: redis}
}

func (s *RedisIndex) AddDriver(ctx context.Context, id types.ID, pos types.Point) error {
	return s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

func (s *RedisIndex) RemoveDriver(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, driverGeoKey, string(id)).Err()
}

func (s *RedisIndex) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64, count int) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
		Count:      count,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// RecordDispatch records the dispatch timestamp and the set of notified drivers for a ride.
func (s *RedisIndex) RecordDispatch(ctx context.Context, rideID types.ID, driverIDs []types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(dispatchKeyPrefix, rideID), time.Now().UTC().Format(time.RFC3339), keyTTL)
	if len(driverIDs) > 0 {
		members := make([]interface{}, len(driverIDs))
		for i, d := range driverIDs {
			members[i] = string(d)
		}
		notifiedKey := fmt.Sprintf(notifiedKeyPrefix, rideID)
		pipe.SAdd(ctx, notifiedKey, members...)
		pipe.Expire(ctx, notifiedKey, keyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisIndex) NotifiedDrivers(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	members, err := s.redis.SMembers(ctx, fmt.Sprintf(notifiedKeyPrefix, rideID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

// MemoryIndex is the single-process stand-in for RedisIndex.
type MemoryIndex struct {
	mu       sync.Mutex
	drivers  map[types.ID]types.Point
	notified map[types.ID][]types.ID
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		drivers:  make(map[types.ID]types.Point),
		notified: make(map[types.ID][]types.ID),
	}
}

func (m *MemoryIndex) AddDriver(ctx context.Context, id types.ID, pos types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[id] = pos
	return nil
}

func (m *MemoryIndex) RemoveDriver(ctx context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, id)
	return nil
}

func (m *MemoryIndex) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64, count int) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var near []location.NearbyDriver
	for id, pos := range m.drivers {
		if d := location.DistanceKm(p, pos); d <= radiusKm {
			near = append(near, location.NearbyDriver{DriverID: id, Position: pos, DistanceKm: d})
		}
	}
	location.SortByDistance(near, func(n location.NearbyDriver) float64 { return n.DistanceKm })
	if count > 0 && len(near) > count {
		near = near[:count]
	}
	ids := make([]types.ID, len(near))
	for i, n := range near {
		ids[i] = n.DriverID
	}
	return ids, nil
}

func (m *MemoryIndex) RecordDispatch(ctx context.Context, rideID types.ID, driverIDs []types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified[rideID] = append(m.notified[rideID], driverIDs...)
	return nil
}

func (m *MemoryIndex) NotifiedDrivers(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ID, len(m.notified[rideID]))
	copy(out, m.notified[rideID])
	return out, nil
}
