// README: Field-level partial updates applied as last-writer-wins per field.
package ride

import (
	"fmt"
	"sort"
	"time"

	"ridewise/internal/types"
)

// Field names double as Firestore document keys.
type Field string

const (
	FieldStatus          Field = "status"
	FieldDriverID        Field = "driverId"
	FieldDriverName      Field = "driverName"
	FieldDriverPhone     Field = "driverPhone"
	FieldDriverLocation  Field = "driverLocation"
	FieldVehicle         Field = "vehicleInfo"
	FieldAcceptedAt      Field = "acceptedAt"
	FieldOTP             Field = "otp"
	FieldOTPVerified     Field = "otpVerified"
	FieldIsRideCompleted Field = "isRideCompleted"
	FieldIsUserConfirmed Field = "isUserConfirmed"
	FieldDroppedOffAt    Field = "droppedOffAt"
	FieldRiderRating     Field = "riderRating"
	FieldRejectedBy      Field = "rejectedBy"
	FieldRejectedAt      Field = "rejectedAt"
)

// Patch maps fields to new values. A nil value clears a nullable field.
//
// Value types: Status for status; types.ID for driverId and rejectedBy;
// string for names, phone and otp; types.Point for driverLocation;
// Vehicle for vehicleInfo; time.Time for timestamps; bool for flags;
// int for riderRating.
type Patch map[Field]any

// Fields returns the patched fields in a stable order.
func (p Patch) Fields() []Field {
	out := make([]Field, 0, len(p))
	for f := range p {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Guarded reports whether the patch touches fields that must go through Transition.
func (p Patch) Guarded() bool {
	for f := range p {
		if f != FieldDriverLocation {
			return true
		}
	}
	return false
}

// Apply writes the patch onto r. Identity, coordinates and the fare are not patchable.
func (p Patch) Apply(r *RideRequest) error {
	for _, f := range p.Fields() {
		if err := applyField(r, f, p[f]); err != nil {
			return err
		}
	}
	return nil
}

func applyField(r *RideRequest, f Field, v any) error {
	bad := func() error {
		return fmt.Errorf("%w: %s has unexpected value type %T", ErrValidation, f, v)
	}
	switch f {
	case FieldStatus:
		s, ok := v.(Status)
		if !ok {
			return bad()
		}
		r.Status = s
	case FieldDriverID, FieldRejectedBy:
		var id *types.ID
		if v != nil {
			x, ok := v.(types.ID)
			if !ok {
				return bad()
			}
			id = &x
		}
		if f == FieldDriverID {
			r.DriverID = id
		} else {
			r.RejectedBy = id
		}
	case FieldDriverName, FieldDriverPhone, FieldOTP:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		switch f {
		case FieldDriverName:
			r.DriverName = s
		case FieldDriverPhone:
			r.DriverPhone = s
		default:
			r.OTP = s
		}
	case FieldDriverLocation:
		if v == nil {
			r.DriverLocation = nil
			return nil
		}
		pt, ok := v.(types.Point)
		if !ok {
			return bad()
		}
		r.DriverLocation = &pt
	case FieldVehicle:
		if v == nil {
			r.Vehicle = nil
			return nil
		}
		veh, ok := v.(Vehicle)
		if !ok {
			return bad()
		}
		r.Vehicle = &veh
	case FieldAcceptedAt, FieldDroppedOffAt, FieldRejectedAt:
		var ts *time.Time
		if v != nil {
			t, ok := v.(time.Time)
			if !ok {
				return bad()
			}
			ts = &t
		}
		switch f {
		case FieldAcceptedAt:
			r.AcceptedAt = ts
		case FieldDroppedOffAt:
			r.DroppedOffAt = ts
		default:
			r.RejectedAt = ts
		}
	case FieldOTPVerified, FieldIsRideCompleted, FieldIsUserConfirmed:
		b, ok := v.(bool)
		if !ok {
			return bad()
		}
		switch f {
		case FieldOTPVerified:
			r.OTPVerified = b
		case FieldIsRideCompleted:
			r.IsRideCompleted = b
		default:
			r.IsUserConfirmed = b
		}
	case FieldRiderRating:
		if v == nil {
			r.RiderRating = nil
			return nil
		}
		n, ok := v.(int)
		if !ok {
			return bad()
		}
		r.RiderRating = &n
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	return nil
}
