// README: History service materializes both parties' records at a terminal transition.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Materialize writes the rider record and, when a driver is attached, the
// driver record. Writes run concurrently and are create-once, so a retry
// after partial failure only fills in what is missing.
func (s *Service) Materialize(ctx context.Context, r *ride.RideRequest, st Status, endedAt time.Time) error {
	records := Snapshot(r, st, endedAt)
	g, ctx := errgroup.WithContext(ctx)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			err := s.store.Create(ctx, rec)
			if errors.Is(err, ErrAlreadyExists) {
				s.logger.Debug("history record already present", "record_id", rec.ID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("write %s history: %w", rec.Party, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Snapshot builds the per-party records for a ride without writing them.
func Snapshot(r *ride.RideRequest, st Status, endedAt time.Time) []*Record {
	base := Record{
		RideID:             r.ID,
		Origin:             r.Origin,
		Destination:        r.Destination,
		OriginAddress:      r.OriginAddress,
		DestinationAddress: r.DestinationAddress,
		RequestedAt:        r.RequestedAt,
		EndedAt:            endedAt,
		FareAmount:         r.FareAmount,
		Currency:           r.Currency,
		DistanceKm:         r.DistanceKm,
		DurationSeconds:    r.DurationSeconds,
		Status:             st,
	}
	if r.RiderRating != nil {
		v := *r.RiderRating
		base.Rating = &v
	}

	rider := base
	rider.ID = RecordID(r.ID, PartyRider)
	rider.Party = PartyRider
	rider.OwnerID = r.RiderID
	rider.CounterpartName = r.DriverName
	out := []*Record{&rider}

	if r.DriverID != nil {
		rider.CounterpartID = *r.DriverID
		driver := base
		driver.ID = RecordID(r.ID, PartyDriver)
		driver.Party = PartyDriver
		driver.OwnerID = *r.DriverID
		driver.CounterpartID = r.RiderID
		driver.CounterpartName = r.RiderName
		if base.Rating != nil {
			v := *base.Rating
			driver.Rating = &v
		}
		out = append(out, &driver)
	}
	return out
}

func (s *Service) List(ctx context.Context, party Party, ownerID types.ID) ([]*Record, error) {
	if !party.Valid() {
		return nil, ErrInvalidParty
	}
	return s.store.ListByOwner(ctx, party, ownerID)
}

func (s *Service) Stats(ctx context.Context, party Party, ownerID types.ID) (Stats, error) {
	records, err := s.List(ctx, party, ownerID)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(records), nil
}

func Summarize(records []*Record) Stats {
	var st Stats
	var ratingSum, rated int
	for _, r := range records {
		st.TotalRides++
		switch r.Status {
		case StatusCompleted:
			st.CompletedRides++
			st.TotalAmount += r.FareAmount
			st.TotalDistanceKm += r.DistanceKm
			st.TotalSeconds += r.DurationSeconds
		case StatusCancelled:
			st.CancelledRides++
		}
		if r.Rating != nil {
			ratingSum += *r.Rating
			rated++
		}
	}
	st.TotalAmount = types.RoundCents(st.TotalAmount)
	st.TotalDistanceKm = types.RoundCents(st.TotalDistanceKm)
	if rated > 0 {
		st.AverageRating = types.RoundCents(float64(ratingSum) / float64(rated))
	}
	return st
}
