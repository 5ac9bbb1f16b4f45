// README: History store backed by PostgreSQL (ride_history table).
package history

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridewise/internal/types"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *Record) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO ride_history (
			id, ride_id, party, owner_id, counterpart_id, counterpart_name,
			origin_lat, origin_lng, destination_lat, destination_lng,
			origin_address, destination_address, requested_at, ended_at,
			fare_amount, currency, distance_km, duration_seconds, status, rating
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, string(r.RideID), string(r.Party), string(r.OwnerID), string(r.CounterpartID), r.CounterpartName,
		r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng,
		r.OriginAddress, r.DestinationAddress, r.RequestedAt, r.EndedAt,
		r.FareAmount, r.Currency, r.DistanceKm, r.DurationSeconds, string(r.Status), r.Rating,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, party Party, ownerID types.ID) ([]*Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, party, owner_id, counterpart_id, counterpart_name,
		       origin_lat, origin_lng, destination_lat, destination_lng,
		       origin_address, destination_address, requested_at, ended_at,
		       fare_amount, currency, distance_km, duration_seconds, status, rating
		FROM ride_history
		WHERE party = $1 AND owner_id = $2
		ORDER BY ended_at DESC`, string(party), string(ownerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var rideID, p, owner, counterpart, st string
		var rating *int32
		if err := rows.Scan(
			&r.ID, &rideID, &p, &owner, &counterpart, &r.CounterpartName,
			&r.Origin.Lat, &r.Origin.Lng, &r.Destination.Lat, &r.Destination.Lng,
			&r.OriginAddress, &r.DestinationAddress, &r.RequestedAt, &r.EndedAt,
			&r.FareAmount, &r.Currency, &r.DistanceKm, &r.DurationSeconds, &st, &rating,
		); err != nil {
			return nil, err
		}
		r.RideID = types.ID(rideID)
		r.Party = Party(p)
		r.OwnerID = types.ID(owner)
		r.CounterpartID = types.ID(counterpart)
		r.Status = Status(st)
		if rating != nil {
			n := int(*rating)
			r.Rating = &n
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
