// README: Ride store backed by PostgreSQL; row locks for transitions, LISTEN/NOTIFY for subscriptions.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridewise/internal/types"
)

const notifyChannel = "ride_changes"

const rideColumns = `
	id, rider_id, rider_name,
	origin_lat, origin_lng, destination_lat, destination_lng,
	origin_address, destination_address, requested_at, status,
	driver_id, driver_name, driver_phone, driver_lat, driver_lng, vehicle,
	accepted_at, otp, otp_verified, is_ride_completed, is_user_confirmed,
	dropped_off_at, rider_rating, distance_km, duration_seconds,
	fare_amount, currency, rejected_by, rejected_at`

type PostgresStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(db *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Create(ctx context.Context, r *RideRequest) error {
	if err := validateNew(r); err != nil {
		return err
	}
	vehicle, err := vehicleJSON(r.Vehicle)
	if err != nil {
		return err
	}
	var driverLat, driverLng *float64
	if r.DriverLocation != nil {
		driverLat, driverLng = &r.DriverLocation.Lat, &r.DriverLocation.Lng
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO ride_requests (`+rideColumns+`)
		VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26,
			$27, $28, $29, $30
		)`,
		string(r.ID), string(r.RiderID), r.RiderName,
		r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng,
		r.OriginAddress, r.DestinationAddress, r.RequestedAt, string(r.Status),
		idPtr(r.DriverID), r.DriverName, r.DriverPhone, driverLat, driverLng, vehicle,
		r.AcceptedAt, r.OTP, r.OTPVerified, r.IsRideCompleted, r.IsUserConfirmed,
		r.DroppedOffAt, r.RiderRating, r.DistanceKm, r.DurationSeconds,
		r.FareAmount, r.Currency, idPtr(r.RejectedBy), r.RejectedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if err := notify(ctx, tx, r.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM ride_requests WHERE id = $1`, string(id))
	return scanRide(row)
}

func (s *PostgresStore) Update(ctx context.Context, id types.ID, patch Patch) error {
	if err := checkUnguarded(patch); err != nil {
		return err
	}
	if err := patch.Apply(&RideRequest{}); err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := execPatch(ctx, tx, id, patch); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Transition(ctx context.Context, id types.ID, fn TransitionFunc) (*RideRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cur, err := scanRide(tx.QueryRow(ctx,
		`SELECT `+rideColumns+` FROM ride_requests WHERE id = $1 FOR UPDATE`, string(id)))
	if err != nil {
		return nil, err
	}
	next, patch, err := applyTransition(cur, fn)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		return cur, nil
	}
	if err := execPatch(ctx, tx, id, patch); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id types.ID, guard GuardFunc) (*RideRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cur, err := scanRide(tx.QueryRow(ctx,
		`SELECT `+rideColumns+` FROM ride_requests WHERE id = $1 FOR UPDATE`, string(id)))
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(cur.Clone()); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM ride_requests WHERE id = $1`, string(id)); err != nil {
		return nil, err
	}
	if err := notify(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, st Status) ([]*RideRequest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+rideColumns+` FROM ride_requests WHERE status = $1 ORDER BY requested_at`, string(st))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RideRequest
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResetRejected(ctx context.Context) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE ride_requests
		SET status = 'requested', rejected_by = NULL, rejected_at = NULL, updated_at = NOW()
		WHERE status = 'rejected'
		RETURNING id`)
	if err != nil {
		return 0, err
	}
	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, types.ID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := notify(ctx, tx, id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Subscribe holds a dedicated connection on LISTEN and re-reads each notified
// ride. Notifications arrive in commit order.
func (s *PostgresStore) Subscribe(ctx context.Context, q Query) (<-chan Change, error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	var initial []*RideRequest
	if q.ID != "" {
		r, err := s.Get(ctx, q.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			conn.Release()
			return nil, err
		}
		if r != nil {
			initial = append(initial, r)
		}
	} else {
		initial, err = s.ListByStatus(ctx, q.Status)
		if err != nil {
			conn.Release()
			return nil, err
		}
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer func() {
			// Drop the LISTEN before handing the connection back to the pool.
			cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(cleanup, "UNLISTEN *"); err != nil {
				conn.Conn().Close(cleanup)
			}
			conn.Release()
		}()

		send := func(c Change) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		inView := make(map[types.ID]bool)
		for _, r := range initial {
			inView[r.ID] = true
			if !send(Change{ID: r.ID, Ride: r}) {
				return
			}
		}

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("ride notification stream ended", "err", err)
				}
				return
			}
			id := types.ID(n.Payload)
			if q.ID != "" && id != q.ID {
				continue
			}
			r, err := s.Get(ctx, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Warn("ride reload failed", "ride_id", id, "err", err)
				continue
			}
			switch {
			case r != nil && q.Matches(r):
				inView[id] = true
				if !send(Change{ID: id, Ride: r}) {
					return
				}
			case inView[id] || q.ID != "":
				delete(inView, id)
				if !send(Change{ID: id}) {
					return
				}
			}
		}
	}()
	return out, nil
}

func notify(ctx context.Context, tx pgx.Tx, id types.ID) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(id))
	return err
}

var patchColumns = map[Field]string{
	FieldStatus:          "status",
	FieldDriverID:        "driver_id",
	FieldDriverName:      "driver_name",
	FieldDriverPhone:     "driver_phone",
	FieldVehicle:         "vehicle",
	FieldAcceptedAt:      "accepted_at",
	FieldOTP:             "otp",
	FieldOTPVerified:     "otp_verified",
	FieldIsRideCompleted: "is_ride_completed",
	FieldIsUserConfirmed: "is_user_confirmed",
	FieldDroppedOffAt:    "dropped_off_at",
	FieldRiderRating:     "rider_rating",
	FieldRejectedBy:      "rejected_by",
	FieldRejectedAt:      "rejected_at",
}

func execPatch(ctx context.Context, tx pgx.Tx, id types.ID, patch Patch) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, f := range patch.Fields() {
		v := patch[f]
		if f == FieldDriverLocation {
			if v == nil {
				add("driver_lat", nil)
				add("driver_lng", nil)
				continue
			}
			pt := v.(types.Point)
			add("driver_lat", pt.Lat)
			add("driver_lng", pt.Lng)
			continue
		}
		col, ok := patchColumns[f]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, f)
		}
		switch x := v.(type) {
		case Status:
			add(col, string(x))
		case types.ID:
			add(col, string(x))
		case Vehicle:
			b, err := json.Marshal(x)
			if err != nil {
				return err
			}
			add(col, b)
		default:
			add(col, v)
		}
	}
	args = append(args, string(id))
	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"UPDATE ride_requests SET %s, updated_at = NOW() WHERE id = $%d",
		strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return notify(ctx, tx, id)
}

func scanRide(row pgx.Row) (*RideRequest, error) {
	var r RideRequest
	var id, riderID, status string
	var driverID, rejectedBy *string
	var driverLat, driverLng *float64
	var vehicle []byte
	var rating *int32

	err := row.Scan(
		&id, &riderID, &r.RiderName,
		&r.Origin.Lat, &r.Origin.Lng, &r.Destination.Lat, &r.Destination.Lng,
		&r.OriginAddress, &r.DestinationAddress, &r.RequestedAt, &status,
		&driverID, &r.DriverName, &r.DriverPhone, &driverLat, &driverLng, &vehicle,
		&r.AcceptedAt, &r.OTP, &r.OTPVerified, &r.IsRideCompleted, &r.IsUserConfirmed,
		&r.DroppedOffAt, &rating, &r.DistanceKm, &r.DurationSeconds,
		&r.FareAmount, &r.Currency, &rejectedBy, &r.RejectedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.ID = types.ID(id)
	r.RiderID = types.ID(riderID)
	r.Status = Status(status)
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	if rejectedBy != nil {
		d := types.ID(*rejectedBy)
		r.RejectedBy = &d
	}
	if driverLat != nil && driverLng != nil {
		r.DriverLocation = &types.Point{Lat: *driverLat, Lng: *driverLng}
	}
	if len(vehicle) > 0 {
		var v Vehicle
		if err := json.Unmarshal(vehicle, &v); err != nil {
			return nil, fmt.Errorf("decode vehicle: %w", err)
		}
		r.Vehicle = &v
	}
	if rating != nil {
		n := int(*rating)
		r.RiderRating = &n
	}
	return &r, nil
}

func vehicleJSON(v *Vehicle) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
