package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridewise/internal/config"
	"ridewise/internal/events"
	"ridewise/internal/modules/location"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

// Test coordinates: rider in Jodhpur district, drivers at 5 km and 40 km.
var (
	riderOrigin = types.Point{Lat: 26.4755, Lng: 73.1149}
	riderDest   = types.Point{Lat: 26.4690, Lng: 73.1259}
	driverNear  = types.Point{Lat: 26.4755 + 5.0/111.195, Lng: 73.1149}
	driverFar   = types.Point{Lat: 26.4755 + 40.0/111.195, Lng: 73.1149}
)

type fixture struct {
	svc      *Service
	rides    *ride.MemoryStore
	avail    *location.MemoryAvailabilityStore
	index    *MemoryIndex
	events   *events.MemoryPublisher
	ctx      context.Context
	sequence int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rides:  ride.NewMemoryStore(),
		avail:  location.NewMemoryAvailabilityStore(),
		index:  NewMemoryIndex(),
		events: &events.MemoryPublisher{},
		ctx:    context.Background(),
	}
	f.svc = NewService(f.rides, f.avail, f.index, f.events, config.DispatchConfig{}, nil)
	return f
}

func (f *fixture) addRide(t *testing.T, status ride.Status) *ride.RideRequest {
	t.Helper()
	f.sequence++
	r := &ride.RideRequest{
		ID:          types.ID(fmt.Sprintf("ride-%d", f.sequence)),
		RiderID:     "rider-1",
		RiderName:   "Asha",
		Origin:      riderOrigin,
		Destination: riderDest,
		RequestedAt: time.Now().UTC(),
		Status:      status,
		DistanceKm:  1.3,
		FareAmount:  95.6,
		Currency:    "INR",
	}
	require.NoError(t, f.rides.Create(f.ctx, r))
	return r
}

func (f *fixture) onlineDriver(t *testing.T, id types.ID, pos types.Point) {
	t.Helper()
	_, err := f.svc.SetVerified(f.ctx, id, true)
	require.NoError(t, err)
	_, err = f.svc.SetAvailability(f.ctx, SetAvailabilityCommand{DriverID: id, Status: location.StatusAvailable, Position: &pos})
	require.NoError(t, err)
}

func profile(id types.ID) DriverProfile {
	return DriverProfile{
		ID:      id,
		Name:    "Driver " + string(id),
		Phone:   "+91-555-0100",
		Vehicle: &ride.Vehicle{Make: "Maruti", Model: "Swift", Year: "2021", Color: "white", Plate: "RJ19 AB 1234"},
	}
}

func TestListOpenRequestsRadius(t *testing.T) {
	f := newFixture(t)
	r := f.addRide(t, ride.StatusRequested)

	near, err := f.svc.ListOpenRequests(f.ctx, driverNear, 25)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, r.ID, near[0].Ride.ID)
	assert.InDelta(t, 5.0, near[0].PickupDistanceKm, 0.05)

	far, err := f.svc.ListOpenRequests(f.ctx, driverFar, 25)
	require.NoError(t, err)
	assert.Empty(t, far)
}

func TestListOpenRequestsOnlyRequestedSortedByDistance(t *testing.T) {
	f := newFixture(t)
	f.addRide(t, ride.StatusRequested)
	rejected := f.addRide(t, ride.StatusRequested)
	_, err := f.svc.Reject(f.ctx, RejectCommand{RideID: rejected.ID, DriverID: "d9"})
	require.NoError(t, err)

	closer := &ride.RideRequest{
		ID: "closer", RiderID: "rider-2", Origin: driverNear, Destination: riderDest,
		RequestedAt: time.Now(), Status: ride.StatusRequested,
	}
	require.NoError(t, f.rides.Create(f.ctx, closer))

	got, err := f.svc.ListOpenRequests(f.ctx, driverNear, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.ID("closer"), got[0].Ride.ID)
}

func TestOpenRequestsForDriverRequiresEligibility(t *testing.T) {
	f := newFixture(t)
	f.addRide(t, ride.StatusRequested)

	_, err := f.svc.OpenRequestsForDriver(f.ctx, "ghost", driverNear)
	assert.ErrorIs(t, err, ErrDriverUnavailable)

	pos := driverNear
	_, err = f.svc.SetAvailability(f.ctx, SetAvailabilityCommand{DriverID: "d1", Status: location.StatusAvailable, Position: &pos})
	require.NoError(t, err)
	_, err = f.svc.OpenRequestsForDriver(f.ctx, "d1", driverNear)
	assert.ErrorIs(t, err, ErrDriverUnavailable, "unverified driver")

	_, err = f.svc.SetVerified(f.ctx, "d1", true)
	require.NoError(t, err)
	got, err := f.svc.OpenRequestsForDriver(f.ctx, "d1", driverNear)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestClaimAttachesDriverAndOTP(t *testing.T) {
	f := newFixture(t)
	r := f.addRide(t, ride.StatusRequested)
	f.onlineDriver(t, "d1", driverNear)

	claimed, err := f.svc.Claim(f.ctx, ClaimCommand{RideID: r.ID, Driver: profile("d1")})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusActive, claimed.Status)
	assert.Equal(t, ride.StageAwaitingPickup, claimed.Stage())
	require.NotNil(t, claimed.DriverID)
	assert.Equal(t, types.ID("d1"), *claimed.DriverID)
	require.NotNil(t, claimed.Vehicle)
	assert.Equal(t, "RJ19 AB 1234", claimed.Vehicle.Plate)
	assert.NotNil(t, claimed.AcceptedAt)
	assert.Len(t, claimed.OTP, 4)

	nearby, err := f.index.NearbyDrivers(f.ctx, riderOrigin, 25, 10)
	require.NoError(t, err)
	assert.NotContains(t, nearby, types.ID("d1"), "busy driver leaves the announce index")
	assert.Contains(t, f.events.Types(), events.RideClaimed)
}

func TestClaimSecondDriverConflicts(t *testing.T) {
	f := newFixture(t)
	r := f.addRide(t, ride.StatusRequested)
	f.onlineDriver(t, "d1", driverNear)
	f.onlineDriver(t, "d2", driverNear)

	first, err := f.svc.Claim(f.ctx, ClaimCommand{RideID: r.ID, Driver: profile("d1")})
	require.NoError(t, err)

	_, err = f.svc.Claim(f.ctx, ClaimCommand{RideID: r.ID, Driver: profile("d2")})
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.ErrorIs(t, err, ride.ErrConflict)

	got, err := f.rides.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ID("d1"), *got.DriverID)
	assert.Equal(t, first.OTP, got.OTP, "otp never regenerated")
}

func TestConcurrentClaimExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	r := f.addRide(t, ride.StatusRequested)

	const drivers = 12
	for i := 0; i < drivers; i++ {
		f.onlineDriver(t, types.ID(fmt.Sprintf("d%d", i)), driverNear)
	}

	var wg sync.WaitGroup
	errs := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := f.svc.Claim(f.ctx, ClaimCommand{RideID: r.ID, Driver: profile(id)})
			errs <- err
		}(types.ID(fmt.Sprintf("d%d", i)))
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
}

func TestClaimRequiresEligibleDriver(t *testing.T) {
	f := newFixture(t)
	r := f.addRide(t, ride.StatusRequested)

	_, err := f.svc.Claim(f.ctx, ClaimCommand{RideID: r.ID, Driver: profile("stranger")})
	assert.ErrorIs(t, err, ErrDriverUnavailable)

	got, err := f.rides.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusRequested, got.Status)
}

func TestClaimMissingRide(t *testing.T) {
	f := newFixture(t)
	f.onlineDriver(t, "d1", driverNear)
	_, err := f.svc.Claim(f.ctx, ClaimCommand{RideID: "gone", Driver: profile("d1")})
	assert.ErrorIs(t, err, ride.ErrNotFound)
}

func TestRejectKeepsRecordAndResetRestores(t *testing.T) {
	f := newFixture(t)
	var rejected []*ride.RideRequest
	for i := 0; i < 3; i++ {
		rejected = append(rejected, f.addRide(t, ride.StatusRequested))
	}
	f.addRide(t, ride.StatusRequested)
	f.addRide(t, ride.StatusRequested)

	for _, r := range rejected {
		got, err := f.svc.Reject(f.ctx, RejectCommand{RideID: r.ID, DriverID: "d1"})
		require.NoError(t, err)
		assert.Equal(t, ride.StatusRejected, got.Status)
		require.NotNil(t, got.RejectedBy)
		assert.NotNil(t, got.RejectedAt)
	}

	_, err := f.svc.Reject(f.ctx, RejectCommand{RideID: rejected[0].ID, DriverID: "d2"})
	assert.ErrorIs(t, err, ride.ErrConflict, "already rejected")

	n, err := f.svc.ResetRejected(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := f.rides.ListByStatus(f.ctx, ride.StatusRequested)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	for _, r := range all {
		assert.Nil(t, r.RejectedBy)
	}
}

func TestRejectActiveRideConflicts(t *testing.T) {
	f := newFixture(t)
	r := f.addRide(t, ride.StatusRequested)
	f.onlineDriver(t, "d1", driverNear)
	_, err := f.svc.Claim(f.ctx, ClaimCommand{RideID: r.ID, Driver: profile("d1")})
	require.NoError(t, err)

	_, err = f.svc.Reject(f.ctx, RejectCommand{RideID: r.ID, DriverID: "d2"})
	assert.ErrorIs(t, err, ride.ErrInvalidState)
}

func TestAnnounceRecordsNearestDrivers(t *testing.T) {
	f := newFixture(t)
	f.onlineDriver(t, "near", driverNear)
	f.onlineDriver(t, "far", driverFar)
	r := f.addRide(t, ride.StatusRequested)

	ids, err := f.svc.Announce(f.ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"near"}, ids)

	notified, err := f.svc.NotifiedDrivers(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"near"}, notified)

	evs := f.events.Events()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, events.RideRequested, last.Type)
	assert.Equal(t, []string{"near"}, last.Data["candidates"])
}

func TestSetAvailabilitySyncsIndex(t *testing.T) {
	f := newFixture(t)
	f.onlineDriver(t, "d1", driverNear)

	ids, err := f.index.NearbyDrivers(f.ctx, riderOrigin, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"d1"}, ids)

	_, err = f.svc.SetAvailability(f.ctx, SetAvailabilityCommand{DriverID: "d1", Status: location.StatusUnavailable})
	require.NoError(t, err)
	ids, err = f.index.NearbyDrivers(f.ctx, riderOrigin, 25, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = f.svc.SetAvailability(f.ctx, SetAvailabilityCommand{DriverID: "d1", Status: "busy"})
	assert.ErrorIs(t, err, ride.ErrValidation)
}

func TestWatchOpenRequestsFiltersByRadius(t *testing.T) {
	f := newFixture(t)
	f.onlineDriver(t, "d1", driverNear)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()

	ch, err := f.svc.WatchOpenRequests(ctx, "d1", driverNear)
	require.NoError(t, err)

	farRide := &ride.RideRequest{ID: "far", RiderID: "r2", Origin: types.Point{Lat: 28.6, Lng: 77.2}, RequestedAt: time.Now(), Status: ride.StatusRequested}
	require.NoError(t, f.rides.Create(f.ctx, farRide))
	near := f.addRide(t, ride.StatusRequested)

	select {
	case c := <-ch:
		assert.Equal(t, near.ID, c.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for open request")
	}
}

func TestAnnounceColdIndexUsesAvailability(t *testing.T) {
	f := newFixture(t)
	f.onlineDriver(t, "near", driverNear)
	f.onlineDriver(t, "busy", driverNear)
	f.onlineDriver(t, "far", driverFar)
	onRide := f.addRide(t, ride.StatusRequested)
	_, err := f.svc.Claim(f.ctx, ClaimCommand{RideID: onRide.ID, Driver: profile("busy")})
	require.NoError(t, err)

	// Same stores, empty index: what a restarted process sees.
	f.index = NewMemoryIndex()
	f.svc = NewService(f.rides, f.avail, f.index, f.events, config.DispatchConfig{}, nil)

	r := f.addRide(t, ride.StatusRequested)
	ids, err := f.svc.Announce(f.ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"near"}, ids)

	notified, err := f.svc.NotifiedDrivers(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"near"}, notified)
}

func TestClaimedDriverStaysOutOfIndexUntilReleased(t *testing.T) {
	f := newFixture(t)
	f.onlineDriver(t, "d1", driverNear)
	r := f.addRide(t, ride.StatusRequested)
	_, err := f.svc.Claim(f.ctx, ClaimCommand{RideID: r.ID, Driver: profile("d1")})
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateDriverPosition(f.ctx, "d1", riderOrigin))
	ids, err := f.index.NearbyDrivers(f.ctx, riderOrigin, 25, 10)
	require.NoError(t, err)
	assert.NotContains(t, ids, types.ID("d1"), "position updates must not re-index a driver on a ride")

	_, err = f.rides.Delete(f.ctx, r.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.ReleaseDriver(f.ctx, "d1"))
	ids, err = f.index.NearbyDrivers(f.ctx, riderOrigin, 25, 10)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"d1"}, ids)

	require.NoError(t, f.svc.ReleaseDriver(f.ctx, "unknown"), "unknown drivers are ignored")
}
