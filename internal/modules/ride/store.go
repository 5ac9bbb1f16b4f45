// README: Ride store contract shared by the memory, Firestore and Postgres backends.
package ride

import (
	"context"

	"ridewise/internal/types"
)

// TransitionFunc inspects the current record and returns the fields to write.
// An error aborts the transition without writing; an empty patch writes nothing.
type TransitionFunc func(current *RideRequest) (Patch, error)

// GuardFunc decides whether a record may be deleted.
type GuardFunc func(current *RideRequest) error

// Query selects a single ride by ID or every ride with a given status.
type Query struct {
	ID     types.ID
	Status Status
}

func (q Query) Matches(r *RideRequest) bool {
	if q.ID != "" {
		return r.ID == q.ID
	}
	return r.Status == q.Status
}

// Change is one observed state of a ride. Ride is nil when the record was
// deleted or no longer matches the query.
type Change struct {
	ID   types.ID
	Ride *RideRequest
}

type Store interface {
	Create(ctx context.Context, r *RideRequest) error
	Get(ctx context.Context, id types.ID) (*RideRequest, error)
	// Update writes unguarded fields (driver location) last-writer-wins.
	Update(ctx context.Context, id types.ID, patch Patch) error
	// Transition is the only path for status-guarded writes.
	Transition(ctx context.Context, id types.ID, fn TransitionFunc) (*RideRequest, error)
	Delete(ctx context.Context, id types.ID, guard GuardFunc) (*RideRequest, error)
	ListByStatus(ctx context.Context, status Status) ([]*RideRequest, error)
	ResetRejected(ctx context.Context) (int, error)
	// Subscribe emits the current state first, then every change in write order.
	// The channel closes when ctx is done.
	Subscribe(ctx context.Context, q Query) (<-chan Change, error)
}

// applyTransition runs fn against current and returns the validated next record.
// A nil patch result means nothing changed.
func applyTransition(current *RideRequest, fn TransitionFunc) (*RideRequest, Patch, error) {
	patch, err := fn(current.Clone())
	if err != nil {
		return nil, nil, err
	}
	if len(patch) == 0 {
		return current, nil, nil
	}
	next := current.Clone()
	if err := patch.Apply(next); err != nil {
		return nil, nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, nil, err
	}
	return next, patch, nil
}

func checkUnguarded(patch Patch) error {
	if patch.Guarded() {
		return ErrGuardedField
	}
	return nil
}

func validateNew(r *RideRequest) error {
	if r.ID == "" || r.RiderID == "" {
		return ErrValidation
	}
	return r.Validate()
}

func rejectionReset() Patch {
	return Patch{
		FieldStatus:     StatusRequested,
		FieldRejectedBy: nil,
		FieldRejectedAt: nil,
	}
}
