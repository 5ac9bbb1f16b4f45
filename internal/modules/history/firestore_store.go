// README: History store backed by Firestore; riders in "history", drivers in "driverHistory".
package history

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ridewise/internal/types"
)

type geoPoint struct {
	Lat float64 `firestore:"lat"`
	Lng float64 `firestore:"lng"`
}

type recordDoc struct {
	RideID             string    `firestore:"rideId"`
	Party              string    `firestore:"party"`
	OwnerID            string    `firestore:"ownerId"`
	CounterpartID      string    `firestore:"counterpartId"`
	CounterpartName    string    `firestore:"counterpartName"`
	Origin             geoPoint  `firestore:"originCoord"`
	Destination        geoPoint  `firestore:"destinationCoord"`
	OriginAddress      string    `firestore:"originAddress"`
	DestinationAddress string    `firestore:"destinationAddress"`
	RequestedAt        time.Time `firestore:"requestedAt"`
	EndedAt            time.Time `firestore:"endedAt"`
	FareAmount         float64   `firestore:"fareAmount"`
	Currency           string    `firestore:"currency"`
	DistanceKm         float64   `firestore:"distanceKm"`
	DurationSeconds    int64     `firestore:"durationSeconds"`
	Status             string    `firestore:"status"`
	Rating             *int64    `firestore:"rating"`
}

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func collectionFor(p Party) (string, error) {
	switch p {
	case PartyRider:
		return "history", nil
	case PartyDriver:
		return "driverHistory", nil
	}
	return "", ErrInvalidParty
}

func (s *FirestoreStore) Create(ctx context.Context, r *Record) error {
	coll, err := collectionFor(r.Party)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(coll).Doc(r.ID).Create(ctx, toDoc(r))
	if status.Code(err) == codes.AlreadyExists {
		return ErrAlreadyExists
	}
	return err
}

// ListByOwner sorts in memory to avoid requiring a composite index.
func (s *FirestoreStore) ListByOwner(ctx context.Context, party Party, ownerID types.ID) ([]*Record, error) {
	coll, err := collectionFor(party)
	if err != nil {
		return nil, err
	}
	it := s.client.Collection(coll).Where("ownerId", "==", string(ownerID)).Documents(ctx)
	defer it.Stop()
	var out []*Record
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var d recordDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, err
		}
		out = append(out, fromDoc(snap.Ref.ID, d))
	}
	sortNewestFirst(out)
	return out, nil
}

func toDoc(r *Record) recordDoc {
	d := recordDoc{
		RideID:             string(r.RideID),
		Party:              string(r.Party),
		OwnerID:            string(r.OwnerID),
		CounterpartID:      string(r.CounterpartID),
		CounterpartName:    r.CounterpartName,
		Origin:             geoPoint{Lat: r.Origin.Lat, Lng: r.Origin.Lng},
		Destination:        geoPoint{Lat: r.Destination.Lat, Lng: r.Destination.Lng},
		OriginAddress:      r.OriginAddress,
		DestinationAddress: r.DestinationAddress,
		RequestedAt:        r.RequestedAt,
		EndedAt:            r.EndedAt,
		FareAmount:         r.FareAmount,
		Currency:           r.Currency,
		DistanceKm:         r.DistanceKm,
		DurationSeconds:    r.DurationSeconds,
		Status:             string(r.Status),
	}
	if r.Rating != nil {
		v := int64(*r.Rating)
		d.Rating = &v
	}
	return d
}

func fromDoc(id string, d recordDoc) *Record {
	r := &Record{
		ID:                 id,
		RideID:             types.ID(d.RideID),
		Party:              Party(d.Party),
		OwnerID:            types.ID(d.OwnerID),
		CounterpartID:      types.ID(d.CounterpartID),
		CounterpartName:    d.CounterpartName,
		Origin:             types.Point{Lat: d.Origin.Lat, Lng: d.Origin.Lng},
		Destination:        types.Point{Lat: d.Destination.Lat, Lng: d.Destination.Lng},
		OriginAddress:      d.OriginAddress,
		DestinationAddress: d.DestinationAddress,
		RequestedAt:        d.RequestedAt,
		EndedAt:            d.EndedAt,
		FareAmount:         d.FareAmount,
		Currency:           d.Currency,
		DistanceKm:         d.DistanceKm,
		DurationSeconds:    d.DurationSeconds,
		Status:             Status(d.Status),
	}
	if d.Rating != nil {
		v := int(*d.Rating)
		r.Rating = &v
	}
	return r
}
