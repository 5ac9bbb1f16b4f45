package pricing

import (
	"math"
	"testing"
	"time"
)

func TestDynamicFare(t *testing.T) {
	svc := NewService(DefaultRates(), time.UTC)

	// 2026-02-10 12:00 off-peak, 08:30 morning peak, 20:59 evening peak, 21:00 off-peak.
	offPeak := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	morning := time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	evening := time.Date(2026, 2, 10, 20, 59, 0, 0, time.UTC)
	afterEvening := time.Date(2026, 2, 10, 21, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		req      PricingRequest
		wantFare float64
	}{
		{
			name:     "base fare only",
			req:      PricingRequest{RequestTime: offPeak, TrafficFactor: 1},
			wantFare: 30,
		},
		{
			name:     "distance and time off-peak",
			req:      PricingRequest{DistanceKm: 2.5, DurationSeconds: 600, TrafficFactor: 1, RequestTime: offPeak},
			wantFare: 30 + 30 + 20,
		},
		{
			name:     "traffic scales time fare",
			req:      PricingRequest{DistanceKm: 2.5, DurationSeconds: 600, TrafficFactor: 1.5, RequestTime: offPeak},
			wantFare: 30 + 30 + 30,
		},
		{
			name:     "morning peak",
			req:      PricingRequest{DistanceKm: 2.5, DurationSeconds: 600, TrafficFactor: 1, RequestTime: morning},
			wantFare: 96,
		},
		{
			name:     "evening peak last minute",
			req:      PricingRequest{DistanceKm: 2.5, DurationSeconds: 600, TrafficFactor: 1, RequestTime: evening},
			wantFare: 96,
		},
		{
			name:     "evening peak is half-open",
			req:      PricingRequest{DistanceKm: 2.5, DurationSeconds: 600, TrafficFactor: 1, RequestTime: afterEvening},
			wantFare: 80,
		},
		{
			name:     "zero traffic factor treated as free-flow",
			req:      PricingRequest{DistanceKm: 1, DurationSeconds: 60, RequestTime: offPeak},
			wantFare: 44,
		},
		{
			name:     "rounded to cents",
			req:      PricingRequest{DistanceKm: 1.23456, RequestTime: offPeak, TrafficFactor: 1},
			wantFare: 44.81,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.DynamicFare(tt.req)
			if math.Abs(got.Total-tt.wantFare) > 1e-9 {
				t.Errorf("DynamicFare() = %.4f, want %.4f (breakdown %v)", got.Total, tt.wantFare, got.Breakdown)
			}
		})
	}
}

func TestDynamicFare_MonotonicInDistance(t *testing.T) {
	svc := NewService(DefaultRates(), time.UTC)
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	prev := -1.0
	for km := 0.0; km <= 50; km += 0.5 {
		got := svc.DynamicFare(PricingRequest{DistanceKm: km, DurationSeconds: 300, TrafficFactor: 1.1, RequestTime: at}).Total
		if got <= prev {
			t.Fatalf("fare not increasing at %.1f km: %.2f <= %.2f", km, got, prev)
		}
		prev = got
	}
}

func TestDynamicFare_MinimumFare(t *testing.T) {
	rates := DefaultRates()
	rates.BaseFare = 0
	rates.MinimumFare = 25
	svc := NewService(rates, time.UTC)
	got := svc.DynamicFare(PricingRequest{DistanceKm: 0.1, RequestTime: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)})
	if got.Total != 25 {
		t.Fatalf("expected minimum fare 25, got %.2f", got.Total)
	}
}

func TestTimeOfDayFactor_UsesLocalZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	svc := NewService(DefaultRates(), ist)
	// 03:00 UTC is 08:30 IST.
	at := time.Date(2026, 2, 10, 3, 0, 0, 0, time.UTC)
	if f := svc.TimeOfDayFactor(at); f != 1.2 {
		t.Fatalf("expected peak factor in local zone, got %v", f)
	}
}
