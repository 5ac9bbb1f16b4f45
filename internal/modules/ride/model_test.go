package ride

import (
	"testing"

	"ridewise/internal/types"
)

func TestStageDerivation(t *testing.T) {
	driver := types.ID("d1")
	cases := []struct {
		name string
		ride RideRequest
		want Stage
	}{
		{"requested", RideRequest{Status: StatusRequested}, StageRequested},
		{"rejected", RideRequest{Status: StatusRejected}, StageRejected},
		{"awaiting pickup", RideRequest{Status: StatusActive, DriverID: &driver, OTP: "1234"}, StageAwaitingPickup},
		{"in transit", RideRequest{Status: StatusActive, DriverID: &driver, OTP: "1234", OTPVerified: true}, StageInTransit},
		{"awaiting confirmation", RideRequest{Status: StatusActive, DriverID: &driver, OTP: "1234", OTPVerified: true, IsRideCompleted: true}, StageAwaitingConfirmation},
		{"confirmed", RideRequest{Status: StatusActive, DriverID: &driver, OTP: "1234", OTPVerified: true, IsRideCompleted: true, IsUserConfirmed: true}, StageConfirmed},
		{"unknown", RideRequest{Status: "bogus"}, StageInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ride.Stage(); got != tc.want {
				t.Fatalf("stage: got %s want %s", got, tc.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Stage
		want     bool
	}{
		{StageRequested, StageAwaitingPickup, true},
		{StageRequested, StageRejected, true},
		{StageRejected, StageRequested, true},
		{StageAwaitingPickup, StageInTransit, true},
		{StageInTransit, StageAwaitingConfirmation, true},
		{StageAwaitingConfirmation, StageConfirmed, true},
		{StageConfirmed, StageCompleted, true},
		{StageAwaitingPickup, StageRequested, false},
		{StageInTransit, StageRequested, false},
		{StageAwaitingPickup, StageAwaitingConfirmation, false},
		{StageConfirmed, StageCancelled, false},
		{StageCompleted, StageRequested, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestValidateRejectsContradictions(t *testing.T) {
	driver := types.ID("d1")
	rating := 9
	cases := []struct {
		name string
		ride RideRequest
	}{
		{"active without driver", RideRequest{Status: StatusActive}},
		{"driver on requested", RideRequest{Status: StatusRequested, DriverID: &driver}},
		{"verified without otp", RideRequest{Status: StatusActive, DriverID: &driver, OTPVerified: true}},
		{"dropped before pickup", RideRequest{Status: StatusActive, DriverID: &driver, OTP: "1234", IsRideCompleted: true}},
		{"confirmed before dropoff", RideRequest{Status: StatusActive, DriverID: &driver, OTP: "1234", OTPVerified: true, IsUserConfirmed: true}},
		{"rating out of range", RideRequest{Status: StatusRequested, RiderRating: &rating}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.ride.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	ok := RideRequest{Status: StatusActive, DriverID: &driver, OTP: "1234", OTPVerified: true}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPatchApply(t *testing.T) {
	r := &RideRequest{Status: StatusRejected, RejectedBy: ptrID("d9")}
	if err := rejectionReset().Apply(r); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if r.Status != StatusRequested || r.RejectedBy != nil || r.RejectedAt != nil {
		t.Fatalf("rejection not cleared: %+v", r)
	}

	if err := (Patch{FieldOTPVerified: "yes"}).Apply(r); err == nil {
		t.Fatalf("expected type error")
	}
	if err := (Patch{"fareAmount": 1.0}).Apply(r); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestNewOTPRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := NewOTP()
		if err != nil {
			t.Fatalf("otp: %v", err)
		}
		if len(code) != 4 || code < "1000" || code > "9999" {
			t.Fatalf("otp out of range: %q", code)
		}
	}
}

func ptrID(s string) *types.ID {
	id := types.ID(s)
	return &id
}
