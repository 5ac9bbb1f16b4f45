package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridewise/internal/config"
	"ridewise/internal/events"
	"ridewise/internal/maps"
	"ridewise/internal/modules/dispatch"
	"ridewise/internal/modules/history"
	"ridewise/internal/modules/location"
	"ridewise/internal/modules/pricing"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

var (
	pickup     = types.Point{Lat: 26.4755, Lng: 73.1149}
	dropoff    = types.Point{Lat: 26.4690, Lng: 73.1259}
	driverSpot = types.Point{Lat: 26.4800, Lng: 73.1149}
)

type stubRouter struct {
	est maps.DurationEstimate
	err error
}

func (r stubRouter) EstimateDuration(context.Context, types.Point, types.Point) (maps.DurationEstimate, error) {
	return r.est, r.err
}

// flakyHistory fails the first n Materialize calls.
type flakyHistory struct {
	mu    sync.Mutex
	fails int
	next  HistoryWriter
}

func (h *flakyHistory) Materialize(ctx context.Context, r *ride.RideRequest, st history.Status, endedAt time.Time) error {
	h.mu.Lock()
	if h.fails > 0 {
		h.fails--
		h.mu.Unlock()
		return errors.New("history backend down")
	}
	h.mu.Unlock()
	return h.next.Materialize(ctx, r, st, endedAt)
}

type fixture struct {
	ctx      context.Context
	svc      *Service
	dispatch *dispatch.Service
	index    *dispatch.MemoryIndex
	rides    *ride.MemoryStore
	history  *history.MemoryStore
	events   *events.MemoryPublisher
}

func newFixture(t *testing.T, cfg config.LifecycleConfig, wrap func(HistoryWriter) HistoryWriter) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		rides:   ride.NewMemoryStore(),
		history: history.NewMemoryStore(),
		events:  &events.MemoryPublisher{},
		index:   dispatch.NewMemoryIndex(),
	}
	f.dispatch = dispatch.NewService(f.rides, location.NewMemoryAvailabilityStore(), f.index, f.events, config.DispatchConfig{}, nil)
	var hw HistoryWriter = history.NewService(f.history, nil)
	if wrap != nil {
		hw = wrap(hw)
	}
	f.svc = NewService(Deps{
		Rides:    f.rides,
		Router:   stubRouter{est: maps.DurationEstimate{BaseSeconds: 600, TrafficAdjustedSeconds: 720, DistanceMeters: 1400}},
		Pricing:  pricing.NewService(pricing.DefaultRates(), time.UTC),
		History:  hw,
		Dispatch: f.dispatch,
		Attempts: NewMemoryAttemptLimiter(cfg.OTPAttemptWindow),
		Events:   f.events,
	}, cfg)
	return f
}

func (f *fixture) request(t *testing.T) *ride.RideRequest {
	t.Helper()
	r, err := f.svc.Request(f.ctx, RequestCommand{
		RiderID:            "rider-1",
		RiderName:          "Asha",
		Origin:             pickup,
		Destination:        dropoff,
		OriginAddress:      "Paota Circle",
		DestinationAddress: "Sardarpura",
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) claim(t *testing.T, rideID, driverID types.ID) *ride.RideRequest {
	t.Helper()
	_, err := f.dispatch.SetVerified(f.ctx, driverID, true)
	require.NoError(t, err)
	pos := driverSpot
	_, err = f.dispatch.SetAvailability(f.ctx, dispatch.SetAvailabilityCommand{DriverID: driverID, Status: location.StatusAvailable, Position: &pos})
	require.NoError(t, err)
	r, err := f.dispatch.Claim(f.ctx, dispatch.ClaimCommand{RideID: rideID, Driver: dispatch.DriverProfile{
		ID:      driverID,
		Name:    "Ravi",
		Phone:   "+91 90000 00000",
		Vehicle: &ride.Vehicle{Make: "Maruti", Model: "Dzire", Color: "White", Plate: "RJ19 AB 1234"},
	}})
	require.NoError(t, err)
	return r
}

// inTransit drives a fresh ride up to the in_transit stage.
func (f *fixture) inTransit(t *testing.T) *ride.RideRequest {
	t.Helper()
	r := f.request(t)
	claimed := f.claim(t, r.ID, "driver-1")
	_, err := f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-1", Code: claimed.OTP})
	require.NoError(t, err)
	return claimed
}

func rating(v int) *int { return &v }

func TestRequestPricesAndAnnounces(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)

	assert.Equal(t, ride.StatusRequested, r.Status)
	assert.InDelta(t, location.DistanceKm(pickup, dropoff), r.DistanceKm, 0.01)
	assert.Equal(t, int64(600), r.DurationSeconds)
	assert.GreaterOrEqual(t, r.FareAmount, pricing.DefaultRates().MinimumFare)
	assert.Equal(t, "INR", r.Currency)
	assert.Contains(t, f.events.Types(), events.RideRequested)

	stored, err := f.rides.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.FareAmount, stored.FareAmount)
}

func TestRequestBlockedWhenRoutingUnavailable(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	f.svc.router = stubRouter{err: errors.New("dial tcp: timeout")}

	_, err := f.svc.Request(f.ctx, RequestCommand{RiderID: "rider-1", Origin: pickup, Destination: dropoff})
	require.ErrorIs(t, err, maps.ErrUpstreamUnavailable)

	open, err := f.rides.ListByStatus(f.ctx, ride.StatusRequested)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRequestValidatesInput(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)

	_, err := f.svc.Request(f.ctx, RequestCommand{Origin: pickup, Destination: dropoff})
	assert.ErrorIs(t, err, ride.ErrValidation)

	_, err = f.svc.Request(f.ctx, RequestCommand{RiderID: "rider-1", Origin: types.Point{Lat: 95}, Destination: dropoff})
	assert.ErrorIs(t, err, ride.ErrValidation)
}

func TestEnsureOTPIsGeneratedOnce(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)

	_, err := f.svc.EnsureOTP(f.ctx, r.ID)
	require.ErrorIs(t, err, ride.ErrConflict)

	claimed := f.claim(t, r.ID, "driver-1")
	first, err := f.svc.EnsureOTP(f.ctx, r.ID)
	require.NoError(t, err)
	second, err := f.svc.EnsureOTP(f.ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, claimed.OTP, first)
	assert.Equal(t, first, second)
}

func TestVerifyOTP(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)
	claimed := f.claim(t, r.ID, "driver-1")

	wrong := "1000"
	if claimed.OTP == wrong {
		wrong = "1001"
	}
	_, err := f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-1", Code: wrong})
	require.ErrorIs(t, err, ErrOTPMismatch)
	assert.ErrorIs(t, err, ride.ErrValidation)

	target, err := f.svc.RouteTarget(f.ctx, r.ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, TargetPickup, target.Kind)
	assert.Equal(t, pickup, target.Point)

	_, err = f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-2", Code: claimed.OTP})
	require.ErrorIs(t, err, ride.ErrForbidden)

	got, err := f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-1", Code: claimed.OTP})
	require.NoError(t, err)
	assert.Equal(t, ride.StageInTransit, got.Stage())
	assert.Empty(t, got.OTP, "driver view must not carry the code")

	target, err = f.svc.RouteTarget(f.ctx, r.ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, TargetDestination, target.Kind)
	assert.Equal(t, "Sardarpura", target.Address)

	// Repeating the correct code is a no-op.
	_, err = f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-1", Code: claimed.OTP})
	require.NoError(t, err)
	count := 0
	for _, typ := range f.events.Types() {
		if typ == events.RideOTPVerified {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestVerifyOTPAttemptLimit(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{MaxOTPAttempts: 2, OTPAttemptWindow: time.Hour}, nil)
	r := f.request(t)
	claimed := f.claim(t, r.ID, "driver-1")

	wrong := "1000"
	if claimed.OTP == wrong {
		wrong = "1001"
	}
	for i := 0; i < 2; i++ {
		_, err := f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-1", Code: wrong})
		require.ErrorIs(t, err, ErrOTPMismatch)
	}
	_, err := f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-1", Code: claimed.OTP})
	require.ErrorIs(t, err, ErrTooManyAttempts)
	assert.ErrorIs(t, err, ride.ErrConflict)
}

func TestVerifyOTPBeforeDriverAttached(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{MaxOTPAttempts: 2, OTPAttemptWindow: time.Hour}, nil)
	r := f.request(t)

	_, err := f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-1", Code: "1234"})
	require.ErrorIs(t, err, ride.ErrConflict)
	assert.NotErrorIs(t, err, ride.ErrForbidden)

	f2 := newFixture(t, config.LifecycleConfig{}, nil)
	r2 := f2.request(t)
	_, err = f2.svc.VerifyOTP(f2.ctx, VerifyOTPCommand{RideID: r2.ID, DriverID: "driver-1", Code: "1234"})
	require.ErrorIs(t, err, ride.ErrConflict, "same class without a limiter")
}

func TestVerifyOTPStrangerDoesNotSpendAttempts(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{MaxOTPAttempts: 2, OTPAttemptWindow: time.Hour}, nil)
	r := f.request(t)
	claimed := f.claim(t, r.ID, "driver-1")

	wrong := "1000"
	if claimed.OTP == wrong {
		wrong = "1001"
	}
	for i := 0; i < 3; i++ {
		_, err := f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "stranger", Code: wrong})
		require.ErrorIs(t, err, ride.ErrForbidden)
	}

	got, err := f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: r.ID, DriverID: "driver-1", Code: claimed.OTP})
	require.NoError(t, err)
	assert.Equal(t, ride.StageInTransit, got.Stage())
}

func TestDropoffConfirmRetiresRide(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.inTransit(t)

	_, err := f.svc.Confirm(f.ctx, ConfirmCommand{RideID: r.ID, RiderID: "rider-1"})
	require.ErrorIs(t, err, ride.ErrInvalidState, "confirmation needs a drop-off first")

	dropped, err := f.svc.DeclareDropoff(f.ctx, r.ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, ride.StageAwaitingConfirmation, dropped.Stage())
	require.NotNil(t, dropped.DroppedOffAt)

	_, err = f.svc.Confirm(f.ctx, ConfirmCommand{RideID: r.ID, RiderID: "rider-2"})
	require.ErrorIs(t, err, ride.ErrForbidden)
	_, err = f.svc.Confirm(f.ctx, ConfirmCommand{RideID: r.ID, RiderID: "rider-1", Rating: rating(7)})
	require.ErrorIs(t, err, ErrInvalidRating)

	done, err := f.svc.Confirm(f.ctx, ConfirmCommand{RideID: r.ID, RiderID: "rider-1", Rating: rating(5)})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCompleted, done.Status)

	_, err = f.rides.Get(f.ctx, r.ID)
	require.ErrorIs(t, err, ride.ErrNotFound)

	riderHist, err := f.history.ListByOwner(f.ctx, history.PartyRider, "rider-1")
	require.NoError(t, err)
	driverHist, err := f.history.ListByOwner(f.ctx, history.PartyDriver, "driver-1")
	require.NoError(t, err)
	require.Len(t, riderHist, 1)
	require.Len(t, driverHist, 1)
	assert.Equal(t, history.StatusCompleted, riderHist[0].Status)
	assert.Equal(t, r.FareAmount, driverHist[0].FareAmount)
	require.NotNil(t, riderHist[0].Rating)
	assert.Equal(t, 5, *riderHist[0].Rating)
	assert.Equal(t, dropped.DroppedOffAt.UTC(), riderHist[0].EndedAt.UTC())

	assert.Equal(t, []events.Type{
		events.RideRequested,
		events.RideClaimed,
		events.RideOTPVerified,
		events.RideDroppedOff,
		events.RideCompleted,
	}, f.events.Types())
}

func TestDriverReturnsToIndexWhenRideEnds(t *testing.T) {
	indexed := func(f *fixture) []types.ID {
		ids, err := f.index.NearbyDrivers(f.ctx, driverSpot, 25, 10)
		require.NoError(t, err)
		return ids
	}

	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.inTransit(t)
	require.NoError(t, f.svc.UpdateDriverLocation(f.ctx, r.ID, "driver-1", driverSpot))
	require.NoError(t, f.dispatch.UpdateDriverPosition(f.ctx, "driver-1", driverSpot))
	assert.NotContains(t, indexed(f), types.ID("driver-1"))
	_, err := f.svc.DeclareDropoff(f.ctx, r.ID, "driver-1")
	require.NoError(t, err)
	_, err = f.svc.Confirm(f.ctx, ConfirmCommand{RideID: r.ID, RiderID: "rider-1"})
	require.NoError(t, err)
	assert.Contains(t, indexed(f), types.ID("driver-1"))

	f = newFixture(t, config.LifecycleConfig{}, nil)
	r = f.request(t)
	f.claim(t, r.ID, "driver-1")
	assert.NotContains(t, indexed(f), types.ID("driver-1"))
	_, err = f.svc.Cancel(f.ctx, CancelCommand{RideID: r.ID, ActorID: "rider-1"})
	require.NoError(t, err)
	assert.Contains(t, indexed(f), types.ID("driver-1"))
}

func TestDropoffRequiresTransitAndDriver(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)
	f.claim(t, r.ID, "driver-1")

	_, err := f.svc.DeclareDropoff(f.ctx, r.ID, "driver-1")
	require.ErrorIs(t, err, ride.ErrInvalidState)
	_, err = f.svc.DeclareDropoff(f.ctx, r.ID, "driver-9")
	require.ErrorIs(t, err, ride.ErrForbidden)
}

func TestConfirmHistoryFailureKeepsRideForRetry(t *testing.T) {
	var flaky *flakyHistory
	f := newFixture(t, config.LifecycleConfig{}, func(next HistoryWriter) HistoryWriter {
		flaky = &flakyHistory{fails: 1, next: next}
		return flaky
	})
	r := f.inTransit(t)
	_, err := f.svc.DeclareDropoff(f.ctx, r.ID, "driver-1")
	require.NoError(t, err)

	_, err = f.svc.Confirm(f.ctx, ConfirmCommand{RideID: r.ID, RiderID: "rider-1"})
	require.Error(t, err)

	kept, err := f.rides.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StageConfirmed, kept.Stage())

	// A confirmed ride can no longer be cancelled.
	_, err = f.svc.Cancel(f.ctx, CancelCommand{RideID: r.ID, ActorID: "rider-1"})
	require.ErrorIs(t, err, ride.ErrInvalidState)

	_, err = f.svc.Confirm(f.ctx, ConfirmCommand{RideID: r.ID, RiderID: "rider-1"})
	require.NoError(t, err)
	_, err = f.rides.Get(f.ctx, r.ID)
	require.ErrorIs(t, err, ride.ErrNotFound)

	recs, err := f.history.ListByOwner(f.ctx, history.PartyRider, "rider-1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCancelHistoryPolicy(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		f := newFixture(t, config.LifecycleConfig{}, nil)
		r := f.request(t)

		out, err := f.svc.Cancel(f.ctx, CancelCommand{RideID: r.ID, ActorID: "rider-1"})
		require.NoError(t, err)
		assert.Equal(t, ride.StatusCancelled, out.Status)

		_, err = f.rides.Get(f.ctx, r.ID)
		require.ErrorIs(t, err, ride.ErrNotFound)
		recs, err := f.history.ListByOwner(f.ctx, history.PartyRider, "rider-1")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("record", func(t *testing.T) {
		f := newFixture(t, config.LifecycleConfig{CancelHistory: config.CancelHistoryRecord}, nil)
		r := f.request(t)
		f.claim(t, r.ID, "driver-1")

		_, err := f.svc.Cancel(f.ctx, CancelCommand{RideID: r.ID, ActorID: "driver-1"})
		require.NoError(t, err)

		riderRecs, err := f.history.ListByOwner(f.ctx, history.PartyRider, "rider-1")
		require.NoError(t, err)
		require.Len(t, riderRecs, 1)
		assert.Equal(t, history.StatusCancelled, riderRecs[0].Status)
		driverRecs, err := f.history.ListByOwner(f.ctx, history.PartyDriver, "driver-1")
		require.NoError(t, err)
		assert.Len(t, driverRecs, 1)
	})
}

func TestCancelByStrangerIsForbidden(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)

	_, err := f.svc.Cancel(f.ctx, CancelCommand{RideID: r.ID, ActorID: "someone-else"})
	require.ErrorIs(t, err, ride.ErrForbidden)

	_, err = f.rides.Get(f.ctx, r.ID)
	require.NoError(t, err)
}

func TestCancelAfterCancelIsNotFound(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)

	_, err := f.svc.Cancel(f.ctx, CancelCommand{RideID: r.ID, ActorID: "rider-1"})
	require.NoError(t, err)
	_, err = f.svc.Cancel(f.ctx, CancelCommand{RideID: r.ID, ActorID: "rider-1"})
	require.ErrorIs(t, err, ride.ErrNotFound)
}

func TestUpdateDriverLocation(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)

	err := f.svc.UpdateDriverLocation(f.ctx, r.ID, "driver-1", driverSpot)
	require.ErrorIs(t, err, ride.ErrForbidden)

	f.claim(t, r.ID, "driver-1")
	moved := types.Point{Lat: 26.4770, Lng: 73.1150}
	require.NoError(t, f.svc.UpdateDriverLocation(f.ctx, r.ID, "driver-1", moved))

	got, err := f.svc.Get(f.ctx, r.ID, "rider-1")
	require.NoError(t, err)
	require.NotNil(t, got.DriverLocation)
	assert.Equal(t, moved, *got.DriverLocation)
	assert.Equal(t, ride.StageAwaitingPickup, got.Stage())
}

func TestViewsHideOTPFromDriver(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)
	f.claim(t, r.ID, "driver-1")

	riderView, err := f.svc.Get(f.ctx, r.ID, "rider-1")
	require.NoError(t, err)
	assert.Len(t, riderView.OTP, 4)

	driverView, err := f.svc.Get(f.ctx, r.ID, "driver-1")
	require.NoError(t, err)
	assert.Empty(t, driverView.OTP)

	_, err = f.svc.Get(f.ctx, r.ID, "driver-2")
	require.ErrorIs(t, err, ride.ErrForbidden)
}

func TestWatchStreamsUntilRetired(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.inTransit(t)

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	ch, err := f.svc.Watch(ctx, r.ID, "driver-1")
	require.NoError(t, err)

	first := next(t, ch)
	require.NotNil(t, first.Ride)
	assert.Equal(t, ride.StageInTransit, first.Ride.Stage())
	assert.Empty(t, first.Ride.OTP)

	_, err = f.svc.DeclareDropoff(f.ctx, r.ID, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, ride.StageAwaitingConfirmation, next(t, ch).Ride.Stage())

	_, err = f.svc.Confirm(f.ctx, ConfirmCommand{RideID: r.ID, RiderID: "rider-1"})
	require.NoError(t, err)
	var last ride.Change
	for c := next(t, ch); ; c = next(t, ch) {
		if c.Ride == nil {
			last = c
			break
		}
	}
	assert.Equal(t, r.ID, last.ID)
}

func next(t *testing.T, ch <-chan ride.Change) ride.Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return ride.Change{}
}

func TestSweepAutoConfirmsOverdueRides(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{ConfirmTimeout: 10 * time.Minute}, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return base }

	overdue := f.inTransit(t)
	_, err := f.svc.DeclareDropoff(f.ctx, overdue.ID, "driver-1")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return base.Add(8 * time.Minute) }
	fresh := f.request(t)
	f.claim(t, fresh.ID, "driver-2")
	freshRide, err := f.rides.Get(f.ctx, fresh.ID)
	require.NoError(t, err)
	_, err = f.svc.VerifyOTP(f.ctx, VerifyOTPCommand{RideID: fresh.ID, DriverID: "driver-2", Code: freshRide.OTP})
	require.NoError(t, err)
	_, err = f.svc.DeclareDropoff(f.ctx, fresh.ID, "driver-2")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return base.Add(11 * time.Minute) }
	n, err := f.svc.SweepOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.rides.Get(f.ctx, overdue.ID)
	require.ErrorIs(t, err, ride.ErrNotFound)
	still, err := f.rides.Get(f.ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StageAwaitingConfirmation, still.Stage())
}

func TestTimeoutMonitorDisabledReturns(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	done := make(chan struct{})
	go func() {
		f.svc.RunTimeoutMonitor(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor should return when the timeout is disabled")
	}
}

func TestRiderOTPOnlyForRider(t *testing.T) {
	f := newFixture(t, config.LifecycleConfig{}, nil)
	r := f.request(t)
	claimed := f.claim(t, r.ID, "driver-1")

	code, err := f.svc.RiderOTP(f.ctx, r.ID, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, claimed.OTP, code)

	_, err = f.svc.RiderOTP(f.ctx, r.ID, "driver-1")
	require.ErrorIs(t, err, ride.ErrForbidden)
}
