// README: In-process ride store with mutex-serialized transitions and queued subscriptions.
package ride

import (
	"context"
	"sort"
	"sync"

	"ridewise/internal/types"
)

type MemoryStore struct {
	mu      sync.Mutex
	rides   map[types.ID]*RideRequest
	subs    map[int]*subscriber
	nextSub int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides: make(map[types.ID]*RideRequest),
		subs:  make(map[int]*subscriber),
	}
}

func (s *MemoryStore) Create(ctx context.Context, r *RideRequest) error {
	if err := validateNew(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return ErrConflict
	}
	stored := r.Clone()
	s.rides[r.ID] = stored
	s.publishLocked(nil, stored)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id types.ID, patch Patch) error {
	if err := checkUnguarded(patch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rides[id]
	if !ok {
		return ErrNotFound
	}
	next := cur.Clone()
	if err := patch.Apply(next); err != nil {
		return err
	}
	s.rides[id] = next
	s.publishLocked(cur, next)
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, id types.ID, fn TransitionFunc) (*RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, patch, err := applyTransition(cur, fn)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		return cur.Clone(), nil
	}
	s.rides[id] = next
	s.publishLocked(cur, next)
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id types.ID, guard GuardFunc) (*RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if guard != nil {
		if err := guard(cur.Clone()); err != nil {
			return nil, err
		}
	}
	delete(s.rides, id)
	s.publishLocked(cur, nil)
	return cur.Clone(), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]*RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RideRequest
	for _, r := range s.rides {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *MemoryStore) ResetRejected(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, cur := range s.rides {
		if cur.Status != StatusRejected {
			continue
		}
		next := cur.Clone()
		if err := rejectionReset().Apply(next); err != nil {
			return n, err
		}
		s.rides[id] = next
		s.publishLocked(cur, next)
		n++
	}
	return n, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, q Query) (<-chan Change, error) {
	sub := &subscriber{query: q, wake: make(chan struct{}, 1)}

	s.mu.Lock()
	if q.ID != "" {
		if r, ok := s.rides[q.ID]; ok {
			sub.push(Change{ID: r.ID, Ride: r.Clone()})
		}
	} else {
		for _, r := range s.rides {
			if q.Matches(r) {
				sub.push(Change{ID: r.ID, Ride: r.Clone()})
			}
		}
	}
	key := s.nextSub
	s.nextSub++
	s.subs[key] = sub
	s.mu.Unlock()

	out := make(chan Change)
	go sub.pump(ctx, out, func() {
		s.mu.Lock()
		delete(s.subs, key)
		s.mu.Unlock()
	})
	return out, nil
}

// publishLocked fans a change out to matching subscribers. Callers hold s.mu,
// which fixes the order every subscriber observes.
func (s *MemoryStore) publishLocked(prev, next *RideRequest) {
	for _, sub := range s.subs {
		wasIn := prev != nil && sub.query.Matches(prev)
		isIn := next != nil && sub.query.Matches(next)
		switch {
		case isIn:
			sub.push(Change{ID: next.ID, Ride: next.Clone()})
		case wasIn:
			sub.push(Change{ID: prev.ID})
		}
	}
}

type subscriber struct {
	query Query
	mu    sync.Mutex
	queue []Change
	wake  chan struct{}
}

func (s *subscriber) push(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump(ctx context.Context, out chan<- Change, done func()) {
	defer close(out)
	defer done()
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, c := range batch {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}
