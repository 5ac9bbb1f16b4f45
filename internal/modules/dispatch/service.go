// README: Dispatch service surfaces open requests to eligible drivers and adjudicates claims.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ridewise/internal/config"
	"ridewise/internal/events"
	"ridewise/internal/modules/location"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

type Service struct {
	rides        ride.Store
	availability location.AvailabilityStore
	index        Index
	events       events.Publisher
	cfg          config.DispatchConfig
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(rides ride.Store, availability location.AvailabilityStore, index Index, publisher events.Publisher, cfg config.DispatchConfig, logger *slog.Logger) *Service {
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = DefaultRadiusKm
	}
	if cfg.AnnounceCount <= 0 {
		cfg.AnnounceCount = DefaultAnnounceCount
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		rides:        rides,
		availability: availability,
		index:        index,
		events:       publisher,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// ListOpenRequests returns requested rides whose origin lies within radiusKm
// of the driver, nearest first.
func (s *Service) ListOpenRequests(ctx context.Context, driverLocation types.Point, radiusKm float64) ([]OpenRequest, error) {
	if radiusKm <= 0 {
		radiusKm = s.cfg.RadiusKm
	}
	rides, err := s.rides.ListByStatus(ctx, ride.StatusRequested)
	if err != nil {
		return nil, err
	}
	out := make([]OpenRequest, 0, len(rides))
	for _, r := range rides {
		d := location.DistanceKm(driverLocation, r.Origin)
		if d <= radiusKm {
			out = append(out, OpenRequest{Ride: r, PickupDistanceKm: d})
		}
	}
	location.SortByDistance(out, func(o OpenRequest) float64 { return o.PickupDistanceKm })
	return out, nil
}

// OpenRequestsForDriver lists open requests for an available, verified driver.
func (s *Service) OpenRequestsForDriver(ctx context.Context, driverID types.ID, driverLocation types.Point) ([]OpenRequest, error) {
	if err := s.ensureEligible(ctx, driverID); err != nil {
		return nil, err
	}
	return s.ListOpenRequests(ctx, driverLocation, s.cfg.RadiusKm)
}

// WatchOpenRequests streams changes to requested rides within the dispatch
// radius of the driver. A change with a nil Ride means the request left the
// open pool (claimed, rejected or cancelled).
func (s *Service) WatchOpenRequests(ctx context.Context, driverID types.ID, driverLocation types.Point) (<-chan ride.Change, error) {
	if err := s.ensureEligible(ctx, driverID); err != nil {
		return nil, err
	}
	in, err := s.rides.Subscribe(ctx, ride.Query{Status: ride.StatusRequested})
	if err != nil {
		return nil, err
	}
	out := make(chan ride.Change)
	go func() {
		defer close(out)
		for c := range in {
			if c.Ride != nil && location.DistanceKm(driverLocation, c.Ride.Origin) > s.cfg.RadiusKm {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Claim attaches the driver to a requested ride. Exactly one concurrent
// claimer wins; the rest see ErrAlreadyClaimed. The OTP is generated here,
// on first entry into active, only if none exists.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*ride.RideRequest, error) {
	if cmd.RideID == "" || cmd.Driver.ID == "" {
		return nil, ride.ErrValidation
	}
	if cmd.Driver.Name == "" {
		return nil, ErrInvalidProfile
	}
	if err := s.ensureEligible(ctx, cmd.Driver.ID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	claimed, err := s.rides.Transition(ctx, cmd.RideID, func(cur *ride.RideRequest) (ride.Patch, error) {
		switch cur.Status {
		case ride.StatusRequested:
		case ride.StatusActive:
			return nil, ErrAlreadyClaimed
		default:
			return nil, ride.ErrInvalidState
		}
		if !ride.CanTransition(cur.Stage(), ride.StageAwaitingPickup) {
			return nil, ride.ErrInvalidState
		}
		p := ride.Patch{
			ride.FieldStatus:      ride.StatusActive,
			ride.FieldDriverID:    cmd.Driver.ID,
			ride.FieldDriverName:  cmd.Driver.Name,
			ride.FieldDriverPhone: cmd.Driver.Phone,
			ride.FieldAcceptedAt:  now,
		}
		if cmd.Driver.Vehicle != nil {
			p[ride.FieldVehicle] = *cmd.Driver.Vehicle
		}
		if cmd.Driver.Location != nil {
			p[ride.FieldDriverLocation] = *cmd.Driver.Location
		}
		if cur.OTP == "" {
			code, err := ride.NewOTP()
			if err != nil {
				return nil, err
			}
			p[ride.FieldOTP] = code
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	// A driver on a ride is not announced further requests.
	if err := s.index.RemoveDriver(ctx, cmd.Driver.ID); err != nil {
		s.logger.Warn("geo index remove failed", "driver_id", cmd.Driver.ID, "err", err)
	}
	s.publish(ctx, events.Event{Type: events.RideClaimed, RideID: cmd.RideID, ActorID: cmd.Driver.ID, At: now})
	return claimed, nil
}

// Reject records a driver's decline. The ride stays recoverable via ResetRejected.
func (s *Service) Reject(ctx context.Context, cmd RejectCommand) (*ride.RideRequest, error) {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return nil, ride.ErrValidation
	}
	now := s.now().UTC()
	r, err := s.rides.Transition(ctx, cmd.RideID, func(cur *ride.RideRequest) (ride.Patch, error) {
		if !ride.CanTransition(cur.Stage(), ride.StageRejected) {
			return nil, ride.ErrInvalidState
		}
		return ride.Patch{
			ride.FieldStatus:     ride.StatusRejected,
			ride.FieldRejectedBy: cmd.DriverID,
			ride.FieldRejectedAt: now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{Type: events.RideRejected, RideID: cmd.RideID, ActorID: cmd.DriverID, At: now})
	return r, nil
}

// ResetRejected returns every rejected ride to the open pool.
func (s *Service) ResetRejected(ctx context.Context) (int, error) {
	n, err := s.rides.ResetRejected(ctx)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, events.Event{Type: events.RideReset, At: s.now().UTC(), Data: map[string]any{"count": n}})
	return n, nil
}

// Announce picks the nearest indexed drivers for a new request, records who
// was notified and publishes ride.requested for the push pipeline.
func (s *Service) Announce(ctx context.Context, r *ride.RideRequest) ([]types.ID, error) {
	ids, err := s.index.NearbyDrivers(ctx, r.Origin, s.cfg.RadiusKm, s.cfg.AnnounceCount)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		// A cold index (fresh process, in-memory variant) falls back to the
		// authoritative availability store.
		if ids, err = s.nearbyFromAvailability(ctx, r.Origin); err != nil {
			return nil, err
		}
	}
	if err := s.index.RecordDispatch(ctx, r.ID, ids); err != nil {
		return nil, err
	}
	candidates := make([]string, len(ids))
	for i, id := range ids {
		candidates[i] = string(id)
	}
	s.publish(ctx, events.Event{
		Type:    events.RideRequested,
		RideID:  r.ID,
		ActorID: r.RiderID,
		At:      s.now().UTC(),
		Data: map[string]any{
			"candidates":  candidates,
			"origin":      r.Origin,
			"fare_amount": r.FareAmount,
			"currency":    r.Currency,
		},
	})
	return ids, nil
}

func (s *Service) nearbyFromAvailability(ctx context.Context, origin types.Point) ([]types.ID, error) {
	near, err := s.availability.NearbyAvailable(ctx, origin, s.cfg.RadiusKm)
	if err != nil {
		return nil, err
	}
	if len(near) == 0 {
		return nil, nil
	}
	busy, err := s.busyDrivers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, 0, len(near))
	for _, n := range near {
		if busy[n.DriverID] {
			continue
		}
		ids = append(ids, n.DriverID)
		if len(ids) == s.cfg.AnnounceCount {
			break
		}
	}
	return ids, nil
}

// NotifiedDrivers lists who was told about the ride when it was announced.
func (s *Service) NotifiedDrivers(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	if rideID == "" {
		return nil, ride.ErrValidation
	}
	return s.index.NotifiedDrivers(ctx, rideID)
}

// ReleaseDriver puts the driver back into the geo index once their ride has
// ended, provided they are still eligible.
func (s *Service) ReleaseDriver(ctx context.Context, driverID types.ID) error {
	if driverID == "" {
		return ride.ErrValidation
	}
	_, err := s.syncIndex(ctx, driverID)
	if errors.Is(err, location.ErrDriverNotFound) {
		return nil
	}
	return err
}

// SetAvailability records the driver's status and keeps the geo index in step.
func (s *Service) SetAvailability(ctx context.Context, cmd SetAvailabilityCommand) (*location.DriverAvailability, error) {
	if cmd.DriverID == "" {
		return nil, ride.ErrValidation
	}
	if cmd.Status != location.StatusAvailable && cmd.Status != location.StatusUnavailable {
		return nil, ride.ErrValidation
	}
	if cmd.Position != nil && !cmd.Position.Valid() {
		return nil, ride.ErrValidation
	}
	if err := s.availability.SetStatus(ctx, cmd.DriverID, cmd.Status, cmd.Position); err != nil {
		return nil, err
	}
	return s.syncIndex(ctx, cmd.DriverID)
}

// SetVerified is driven by the document-review process.
func (s *Service) SetVerified(ctx context.Context, driverID types.ID, verified bool) (*location.DriverAvailability, error) {
	if driverID == "" {
		return nil, ride.ErrValidation
	}
	if err := s.availability.SetVerified(ctx, driverID, verified); err != nil {
		return nil, err
	}
	return s.syncIndex(ctx, driverID)
}

func (s *Service) UpdateDriverPosition(ctx context.Context, driverID types.ID, pos types.Point) error {
	if driverID == "" || !pos.Valid() {
		return ride.ErrValidation
	}
	if err := s.availability.UpdatePosition(ctx, driverID, pos); err != nil {
		return err
	}
	_, err := s.syncIndex(ctx, driverID)
	return err
}

func (s *Service) Availability(ctx context.Context, driverID types.ID) (*location.DriverAvailability, error) {
	return s.availability.Get(ctx, driverID)
}

// syncIndex is best effort: the availability store stays authoritative.
// Drivers on an active ride stay out of the index until released.
func (s *Service) syncIndex(ctx context.Context, driverID types.ID) (*location.DriverAvailability, error) {
	a, err := s.availability.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if a.Eligible() && a.Position != nil {
		var busy map[types.ID]bool
		if busy, err = s.busyDrivers(ctx); err == nil {
			if busy[driverID] {
				err = s.index.RemoveDriver(ctx, driverID)
			} else {
				err = s.index.AddDriver(ctx, driverID, *a.Position)
			}
		}
	} else {
		err = s.index.RemoveDriver(ctx, driverID)
	}
	if err != nil {
		s.logger.Warn("geo index sync failed", "driver_id", driverID, "err", err)
	}
	return a, nil
}

func (s *Service) busyDrivers(ctx context.Context) (map[types.ID]bool, error) {
	active, err := s.rides.ListByStatus(ctx, ride.StatusActive)
	if err != nil {
		return nil, err
	}
	busy := make(map[types.ID]bool, len(active))
	for _, r := range active {
		if r.DriverID != nil {
			busy[*r.DriverID] = true
		}
	}
	return busy, nil
}

func (s *Service) ensureEligible(ctx context.Context, driverID types.ID) error {
	a, err := s.availability.Get(ctx, driverID)
	if errors.Is(err, location.ErrDriverNotFound) {
		return ErrDriverUnavailable
	}
	if err != nil {
		return err
	}
	if !a.Eligible() {
		return ErrDriverUnavailable
	}
	return nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("event publish failed", "type", e.Type, "ride_id", e.RideID, "err", err)
	}
}
