// README: Lifecycle service drives a ride from request through OTP, drop-off and confirmation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"ridewise/internal/config"
	"ridewise/internal/events"
	"ridewise/internal/maps"
	"ridewise/internal/modules/history"
	"ridewise/internal/modules/location"
	"ridewise/internal/modules/pricing"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

type Router interface {
	EstimateDuration(ctx context.Context, origin, destination types.Point) (maps.DurationEstimate, error)
}

type Pricer interface {
	DynamicFare(req pricing.PricingRequest) pricing.PricingResult
}

type HistoryWriter interface {
	Materialize(ctx context.Context, r *ride.RideRequest, st history.Status, endedAt time.Time) error
}

// Dispatcher announces new requests and returns drivers to the pool when
// their ride ends.
type Dispatcher interface {
	Announce(ctx context.Context, r *ride.RideRequest) ([]types.ID, error)
	ReleaseDriver(ctx context.Context, driverID types.ID) error
}

// Deps groups the collaborators of the lifecycle service. Attempts and
// Events may be nil.
type Deps struct {
	Rides    ride.Store
	Router   Router
	Pricing  Pricer
	History  HistoryWriter
	Dispatch Dispatcher
	Attempts AttemptLimiter
	Events   events.Publisher
	Logger   *slog.Logger
}

type Service struct {
	rides    ride.Store
	router   Router
	pricing  Pricer
	history  HistoryWriter
	dispatch Dispatcher
	attempts AttemptLimiter
	events   events.Publisher
	cfg      config.LifecycleConfig
	logger   *slog.Logger
	now      func() time.Time
}

var otpPattern = regexp.MustCompile(`^[0-9]{4}$`)

func NewService(deps Deps, cfg config.LifecycleConfig) *Service {
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = time.Minute
	}
	if cfg.CancelHistory == "" {
		cfg.CancelHistory = config.CancelHistoryNone
	}
	return &Service{
		rides:    deps.Rides,
		router:   deps.Router,
		pricing:  deps.Pricing,
		history:  deps.History,
		dispatch: deps.Dispatch,
		attempts: deps.Attempts,
		events:   deps.Events,
		cfg:      cfg,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// Request prices and stores a new ride, then announces it to nearby drivers.
// Distance, duration and fare are frozen at this point.
func (s *Service) Request(ctx context.Context, cmd RequestCommand) (*ride.RideRequest, error) {
	if cmd.RiderID == "" {
		return nil, fmt.Errorf("%w: rider id required", ride.ErrValidation)
	}
	if !cmd.Origin.Valid() || !cmd.Destination.Valid() {
		return nil, ErrInvalidPlacement
	}

	est, err := s.router.EstimateDuration(ctx, cmd.Origin, cmd.Destination)
	if err != nil {
		if !errors.Is(err, maps.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %v", maps.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}

	now := s.now().UTC()
	distanceKm := types.RoundCents(location.DistanceKm(cmd.Origin, cmd.Destination))
	fare := s.pricing.DynamicFare(pricing.PricingRequest{
		DistanceKm:      distanceKm,
		DurationSeconds: est.BaseSeconds,
		TrafficFactor:   est.TrafficFactor(),
		RequestTime:     now,
	})

	r := &ride.RideRequest{
		ID:                 ride.NewID(),
		RiderID:            cmd.RiderID,
		RiderName:          cmd.RiderName,
		Origin:             cmd.Origin,
		Destination:        cmd.Destination,
		OriginAddress:      cmd.OriginAddress,
		DestinationAddress: cmd.DestinationAddress,
		RequestedAt:        now,
		Status:             ride.StatusRequested,
		DistanceKm:         distanceKm,
		DurationSeconds:    int64(est.BaseSeconds),
		FareAmount:         fare.Total,
		Currency:           fare.Currency,
	}
	if err := s.rides.Create(ctx, r); err != nil {
		return nil, err
	}

	if s.dispatch != nil {
		if _, err := s.dispatch.Announce(ctx, r); err != nil {
			s.logger.Warn("announce ride failed", "ride_id", r.ID, "err", err)
		}
	}
	return r, nil
}

// Get returns the ride as seen by one of its participants.
func (s *Service) Get(ctx context.Context, rideID, actorID types.ID) (*ride.RideRequest, error) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(r, actorID) {
		return nil, ride.ErrForbidden
	}
	return ViewFor(r, actorID), nil
}

// Watch streams the ride to a participant until it is retired or ctx ends.
func (s *Service) Watch(ctx context.Context, rideID, actorID types.ID) (<-chan ride.Change, error) {
	if _, err := s.Get(ctx, rideID, actorID); err != nil {
		return nil, err
	}
	in, err := s.rides.Subscribe(ctx, ride.Query{ID: rideID})
	if err != nil {
		return nil, err
	}
	out := make(chan ride.Change)
	go func() {
		defer close(out)
		for c := range in {
			if c.Ride != nil {
				c.Ride = ViewFor(c.Ride, actorID)
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

// EnsureOTP returns the ride's OTP, generating it only if none exists.
func (s *Service) EnsureOTP(ctx context.Context, rideID types.ID) (string, error) {
	r, err := s.rides.Transition(ctx, rideID, func(cur *ride.RideRequest) (ride.Patch, error) {
		if cur.Status != ride.StatusActive {
			return nil, ride.ErrInvalidState
		}
		if cur.OTP != "" {
			return nil, nil
		}
		code, err := ride.NewOTP()
		if err != nil {
			return nil, err
		}
		return ride.Patch{ride.FieldOTP: code}, nil
	})
	if err != nil {
		return "", err
	}
	return r.OTP, nil
}

// RiderOTP hands the pickup code to the ride's rider only.
func (s *Service) RiderOTP(ctx context.Context, rideID, riderID types.ID) (string, error) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return "", err
	}
	if r.RiderID != riderID {
		return "", ride.ErrForbidden
	}
	return s.EnsureOTP(ctx, rideID)
}

// VerifyOTP checks the code the rider read out to the attached driver.
// A mismatch is retryable unless the attempt limit is reached.
func (s *Service) VerifyOTP(ctx context.Context, cmd VerifyOTPCommand) (*ride.RideRequest, error) {
	if !otpPattern.MatchString(cmd.Code) {
		return nil, ErrOTPMismatch
	}
	if s.attempts != nil && s.cfg.MaxOTPAttempts > 0 {
		// Only the attached driver's submissions count toward the limit.
		cur, err := s.rides.Get(ctx, cmd.RideID)
		if err != nil {
			return nil, err
		}
		if err := checkVerifier(cur, cmd.DriverID); err != nil {
			return nil, err
		}
		n, err := s.attempts.Register(ctx, cmd.RideID)
		if err != nil {
			return nil, fmt.Errorf("count otp attempts: %w", err)
		}
		if n > int64(s.cfg.MaxOTPAttempts) {
			return nil, ErrTooManyAttempts
		}
	}

	verified := false
	r, err := s.rides.Transition(ctx, cmd.RideID, func(cur *ride.RideRequest) (ride.Patch, error) {
		if err := checkVerifier(cur, cmd.DriverID); err != nil {
			return nil, err
		}
		if cur.OTP == "" || cur.OTP != cmd.Code {
			return nil, ErrOTPMismatch
		}
		if cur.OTPVerified {
			return nil, nil
		}
		if !ride.CanTransition(cur.Stage(), ride.StageInTransit) {
			return nil, ride.ErrInvalidState
		}
		verified = true
		return ride.Patch{ride.FieldOTPVerified: true}, nil
	})
	if err != nil {
		return nil, err
	}

	if s.attempts != nil && s.cfg.MaxOTPAttempts > 0 {
		if err := s.attempts.Reset(ctx, cmd.RideID); err != nil {
			s.logger.Warn("reset otp attempts failed", "ride_id", cmd.RideID, "err", err)
		}
	}
	if verified {
		s.publish(ctx, events.Event{Type: events.RideOTPVerified, RideID: cmd.RideID, ActorID: cmd.DriverID, At: s.now().UTC()})
	}
	return ViewFor(r, cmd.DriverID), nil
}

// checkVerifier accepts only the attached driver of an active ride.
func checkVerifier(cur *ride.RideRequest, driverID types.ID) error {
	if cur.Status != ride.StatusActive || cur.DriverID == nil {
		return ride.ErrInvalidState
	}
	if !cur.IsDriver(driverID) {
		return ride.ErrForbidden
	}
	return nil
}

// RouteTarget tells the attached driver where to navigate next.
func (s *Service) RouteTarget(ctx context.Context, rideID, driverID types.ID) (RouteTarget, error) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return RouteTarget{}, err
	}
	if !r.IsDriver(driverID) {
		return RouteTarget{}, ride.ErrForbidden
	}
	return TargetFor(r), nil
}

// UpdateDriverLocation is a plain field write; it never touches status.
func (s *Service) UpdateDriverLocation(ctx context.Context, rideID, driverID types.ID, pos types.Point) error {
	if !pos.Valid() {
		return ErrInvalidPlacement
	}
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if !r.IsDriver(driverID) {
		return ride.ErrForbidden
	}
	if r.Status != ride.StatusActive {
		return ride.ErrInvalidState
	}
	return s.rides.Update(ctx, rideID, ride.Patch{ride.FieldDriverLocation: pos})
}

// DeclareDropoff marks the trip finished from the driver's side and hands
// confirmation to the rider.
func (s *Service) DeclareDropoff(ctx context.Context, rideID, driverID types.ID) (*ride.RideRequest, error) {
	now := s.now().UTC()
	declared := false
	r, err := s.rides.Transition(ctx, rideID, func(cur *ride.RideRequest) (ride.Patch, error) {
		if !cur.IsDriver(driverID) {
			return nil, ride.ErrForbidden
		}
		if cur.Stage() == ride.StageAwaitingConfirmation {
			return nil, nil
		}
		if !ride.CanTransition(cur.Stage(), ride.StageAwaitingConfirmation) {
			return nil, ride.ErrInvalidState
		}
		declared = true
		return ride.Patch{
			ride.FieldIsRideCompleted: true,
			ride.FieldIsUserConfirmed: false,
			ride.FieldDroppedOffAt:    now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if declared {
		s.publish(ctx, events.Event{Type: events.RideDroppedOff, RideID: rideID, ActorID: driverID, At: now})
	}
	return ViewFor(r, driverID), nil
}

// Confirm records the rider's acknowledgement, writes both history records
// and retires the live ride, in that order. If history fails the ride stays
// confirmed and Confirm can be retried.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) (*ride.RideRequest, error) {
	if cmd.Rating != nil && (*cmd.Rating < 1 || *cmd.Rating > 5) {
		return nil, ErrInvalidRating
	}
	confirmed, err := s.rides.Transition(ctx, cmd.RideID, func(cur *ride.RideRequest) (ride.Patch, error) {
		if cur.RiderID != cmd.RiderID {
			return nil, ride.ErrForbidden
		}
		switch cur.Stage() {
		case ride.StageConfirmed:
			return nil, nil
		case ride.StageAwaitingConfirmation:
		default:
			return nil, ride.ErrInvalidState
		}
		p := ride.Patch{ride.FieldIsUserConfirmed: true}
		if cmd.Rating != nil {
			p[ride.FieldRiderRating] = *cmd.Rating
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	endedAt := s.now().UTC()
	if confirmed.DroppedOffAt != nil {
		endedAt = *confirmed.DroppedOffAt
	}
	if err := s.history.Materialize(ctx, confirmed, history.StatusCompleted, endedAt); err != nil {
		return nil, fmt.Errorf("materialize history: %w", err)
	}

	_, err = s.rides.Delete(ctx, cmd.RideID, func(cur *ride.RideRequest) error {
		if cur.Stage() != ride.StageConfirmed {
			return ride.ErrInvalidState
		}
		return nil
	})
	// A concurrent retry may have retired it already.
	if err != nil && !errors.Is(err, ride.ErrNotFound) {
		return nil, err
	}

	confirmed.Status = ride.StatusCompleted
	s.release(ctx, confirmed)
	s.publish(ctx, events.Event{Type: events.RideCompleted, RideID: cmd.RideID, ActorID: cmd.RiderID, At: s.now().UTC(),
		Data: map[string]any{"fare": confirmed.FareAmount, "currency": confirmed.Currency}})
	return confirmed, nil
}

// Cancel retires a ride that has not been confirmed. The rider or the
// attached driver may cancel.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*ride.RideRequest, error) {
	removed, err := s.rides.Delete(ctx, cmd.RideID, func(cur *ride.RideRequest) error {
		if !isParticipant(cur, cmd.ActorID) {
			return ride.ErrForbidden
		}
		if !ride.CanTransition(cur.Stage(), ride.StageCancelled) {
			return ride.ErrInvalidState
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if s.cfg.CancelHistory == config.CancelHistoryRecord {
		// The live record is gone; a failed write here cannot be retried by the caller.
		if err := s.history.Materialize(ctx, removed, history.StatusCancelled, now); err != nil {
			s.logger.Error("cancelled ride history not written", "ride_id", cmd.RideID, "err", err)
		}
	}
	removed.Status = ride.StatusCancelled
	s.release(ctx, removed)
	s.publish(ctx, events.Event{Type: events.RideCancelled, RideID: cmd.RideID, ActorID: cmd.ActorID, At: now})
	return ViewFor(removed, cmd.ActorID), nil
}

func (s *Service) release(ctx context.Context, r *ride.RideRequest) {
	if s.dispatch == nil || r.DriverID == nil {
		return
	}
	if err := s.dispatch.ReleaseDriver(ctx, *r.DriverID); err != nil {
		s.logger.Warn("release driver failed", "driver_id", *r.DriverID, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("publish event failed", "type", e.Type, "ride_id", e.RideID, "err", err)
	}
}
