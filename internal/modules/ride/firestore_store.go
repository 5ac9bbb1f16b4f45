// README: Ride store backed by Cloud Firestore (collection rideRequests).
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ridewise/internal/types"
)

const rideCollection = "rideRequests"

type geoPoint struct {
	Lat float64 `firestore:"lat"`
	Lng float64 `firestore:"lng"`
}

// rideDoc is the stored document shape; keys match Field names.
type rideDoc struct {
	RiderID            string     `firestore:"riderId"`
	RiderName          string     `firestore:"riderName"`
	Origin             geoPoint   `firestore:"originCoord"`
	Destination        geoPoint   `firestore:"destinationCoord"`
	OriginAddress      string     `firestore:"originAddress"`
	DestinationAddress string     `firestore:"destinationAddress"`
	RequestedAt        time.Time  `firestore:"requestedAt"`
	Status             string     `firestore:"status"`
	DriverID           *string    `firestore:"driverId"`
	DriverName         string     `firestore:"driverName"`
	DriverPhone        string     `firestore:"driverPhone"`
	DriverLocation     *geoPoint  `firestore:"driverLocation"`
	Vehicle            *Vehicle   `firestore:"vehicleInfo"`
	AcceptedAt         *time.Time `firestore:"acceptedAt"`
	OTP                string     `firestore:"otp"`
	OTPVerified        bool       `firestore:"otpVerified"`
	IsRideCompleted    bool       `firestore:"isRideCompleted"`
	IsUserConfirmed    bool       `firestore:"isUserConfirmed"`
	DroppedOffAt       *time.Time `firestore:"droppedOffAt"`
	RiderRating        *int64     `firestore:"riderRating"`
	DistanceKm         float64    `firestore:"distanceKm"`
	DurationSeconds    int64      `firestore:"durationSeconds"`
	FareAmount         float64    `firestore:"fareAmount"`
	Currency           string     `firestore:"currency"`
	RejectedBy         *string    `firestore:"rejectedBy"`
	RejectedAt         *time.Time `firestore:"rejectedAt"`
}

type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreStore{client: client, logger: logger}
}

func (s *FirestoreStore) doc(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(rideCollection).Doc(string(id))
}

func (s *FirestoreStore) Create(ctx context.Context, r *RideRequest) error {
	if err := validateNew(r); err != nil {
		return err
	}
	_, err := s.doc(r.ID).Create(ctx, toDoc(r))
	if status.Code(err) == codes.AlreadyExists {
		return ErrConflict
	}
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return fromSnapshot(snap)
}

func (s *FirestoreStore) Update(ctx context.Context, id types.ID, patch Patch) error {
	if err := checkUnguarded(patch); err != nil {
		return err
	}
	if err := patch.Apply(&RideRequest{}); err != nil {
		return err
	}
	// Update fails with NotFound when the document is gone, so a late
	// location write never resurrects a retired ride.
	_, err := s.doc(id).Update(ctx, firestoreUpdates(patch))
	return mapFirestoreErr(err)
}

func (s *FirestoreStore) Transition(ctx context.Context, id types.ID, fn TransitionFunc) (*RideRequest, error) {
	ref := s.doc(id)
	var result *RideRequest
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapFirestoreErr(err)
		}
		cur, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		next, patch, err := applyTransition(cur, fn)
		if err != nil {
			return err
		}
		result = next
		if patch == nil {
			return nil
		}
		return tx.Update(ref, firestoreUpdates(patch))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id types.ID, guard GuardFunc) (*RideRequest, error) {
	ref := s.doc(id)
	var deleted *RideRequest
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapFirestoreErr(err)
		}
		cur, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(cur.Clone()); err != nil {
				return err
			}
		}
		deleted = cur
		return tx.Delete(ref)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, st Status) ([]*RideRequest, error) {
	it := s.client.Collection(rideCollection).Where("status", "==", string(st)).Documents(ctx)
	defer it.Stop()
	var out []*RideRequest
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		r, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ResetRejected flips every rejected ride back to requested in one transaction.
func (s *FirestoreStore) ResetRejected(ctx context.Context) (int, error) {
	q := s.client.Collection(rideCollection).Where("status", "==", string(StatusRejected))
	count := 0
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		count = 0
		snaps, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := tx.Update(snap.Ref, firestoreUpdates(rejectionReset())); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *FirestoreStore) Subscribe(ctx context.Context, q Query) (<-chan Change, error) {
	out := make(chan Change)
	if q.ID != "" {
		it := s.doc(q.ID).Snapshots(ctx)
		go func() {
			defer close(out)
			defer it.Stop()
			for {
				snap, err := it.Next()
				if err != nil {
					s.logStreamEnd(ctx, err)
					return
				}
				c := Change{ID: q.ID}
				if snap.Exists() {
					r, err := fromSnapshot(snap)
					if err != nil {
						s.logger.Warn("ride decode failed", "ride_id", q.ID, "err", err)
						continue
					}
					c.Ride = r
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

	it := s.client.Collection(rideCollection).Where("status", "==", string(q.Status)).Snapshots(ctx)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				s.logStreamEnd(ctx, err)
				return
			}
			for _, dc := range qs.Changes {
				c := Change{ID: types.ID(dc.Doc.Ref.ID)}
				if dc.Kind != firestore.DocumentRemoved {
					r, err := fromSnapshot(dc.Doc)
					if err != nil {
						s.logger.Warn("ride decode failed", "ride_id", dc.Doc.Ref.ID, "err", err)
						continue
					}
					c.Ride = r
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *FirestoreStore) logStreamEnd(ctx context.Context, err error) {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled {
		return
	}
	s.logger.Warn("ride snapshot stream ended", "err", err)
}

func mapFirestoreErr(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func firestoreUpdates(p Patch) []firestore.Update {
	updates := make([]firestore.Update, 0, len(p))
	for _, f := range p.Fields() {
		updates = append(updates, firestore.Update{Path: string(f), Value: firestoreValue(p[f])})
	}
	return updates
}

func firestoreValue(v any) any {
	switch x := v.(type) {
	case Status:
		return string(x)
	case types.ID:
		return string(x)
	case types.Point:
		return geoPoint{Lat: x.Lat, Lng: x.Lng}
	case int:
		return int64(x)
	default:
		return v
	}
}

func toDoc(r *RideRequest) rideDoc {
	d := rideDoc{
		RiderID:            string(r.RiderID),
		RiderName:          r.RiderName,
		Origin:             geoPoint{Lat: r.Origin.Lat, Lng: r.Origin.Lng},
		Destination:        geoPoint{Lat: r.Destination.Lat, Lng: r.Destination.Lng},
		OriginAddress:      r.OriginAddress,
		DestinationAddress: r.DestinationAddress,
		RequestedAt:        r.RequestedAt,
		Status:             string(r.Status),
		DriverName:         r.DriverName,
		DriverPhone:        r.DriverPhone,
		Vehicle:            r.Vehicle,
		AcceptedAt:         r.AcceptedAt,
		OTP:                r.OTP,
		OTPVerified:        r.OTPVerified,
		IsRideCompleted:    r.IsRideCompleted,
		IsUserConfirmed:    r.IsUserConfirmed,
		DroppedOffAt:       r.DroppedOffAt,
		DistanceKm:         r.DistanceKm,
		DurationSeconds:    r.DurationSeconds,
		FareAmount:         r.FareAmount,
		Currency:           r.Currency,
		RejectedAt:         r.RejectedAt,
	}
	if r.DriverID != nil {
		v := string(*r.DriverID)
		d.DriverID = &v
	}
	if r.DriverLocation != nil {
		d.DriverLocation = &geoPoint{Lat: r.DriverLocation.Lat, Lng: r.DriverLocation.Lng}
	}
	if r.RiderRating != nil {
		v := int64(*r.RiderRating)
		d.RiderRating = &v
	}
	if r.RejectedBy != nil {
		v := string(*r.RejectedBy)
		d.RejectedBy = &v
	}
	return d
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*RideRequest, error) {
	var d rideDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode ride %s: %w", snap.Ref.ID, err)
	}
	r := &RideRequest{
		ID:                 types.ID(snap.Ref.ID),
		RiderID:            types.ID(d.RiderID),
		RiderName:          d.RiderName,
		Origin:             types.Point{Lat: d.Origin.Lat, Lng: d.Origin.Lng},
		Destination:        types.Point{Lat: d.Destination.Lat, Lng: d.Destination.Lng},
		OriginAddress:      d.OriginAddress,
		DestinationAddress: d.DestinationAddress,
		RequestedAt:        d.RequestedAt,
		Status:             Status(d.Status),
		DriverName:         d.DriverName,
		DriverPhone:        d.DriverPhone,
		Vehicle:            d.Vehicle,
		AcceptedAt:         d.AcceptedAt,
		OTP:                d.OTP,
		OTPVerified:        d.OTPVerified,
		IsRideCompleted:    d.IsRideCompleted,
		IsUserConfirmed:    d.IsUserConfirmed,
		DroppedOffAt:       d.DroppedOffAt,
		DistanceKm:         d.DistanceKm,
		DurationSeconds:    d.DurationSeconds,
		FareAmount:         d.FareAmount,
		Currency:           d.Currency,
		RejectedAt:         d.RejectedAt,
	}
	if d.DriverID != nil {
		v := types.ID(*d.DriverID)
		r.DriverID = &v
	}
	if d.DriverLocation != nil {
		r.DriverLocation = &types.Point{Lat: d.DriverLocation.Lat, Lng: d.DriverLocation.Lng}
	}
	if d.RiderRating != nil {
		v := int(*d.RiderRating)
		r.RiderRating = &v
	}
	if d.RejectedBy != nil {
		v := types.ID(*d.RejectedBy)
		r.RejectedBy = &v
	}
	return r, nil
}
