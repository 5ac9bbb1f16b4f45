// README: History stores. Create is create-once; a duplicate returns ErrAlreadyExists.
package history

import (
	"context"
	"sort"
	"sync"

	"ridewise/internal/types"
)

type Store interface {
	Create(ctx context.Context, r *Record) error
	ListByOwner(ctx context.Context, party Party, ownerID types.ID) ([]*Record, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, party Party, ownerID types.ID) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.records {
		if r.Party == party && r.OwnerID == ownerID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].EndedAt.After(records[j].EndedAt)
	})
}
