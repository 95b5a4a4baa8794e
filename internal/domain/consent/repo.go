package consent

import (
	"context"
	"slices"
	"sync"

	"github.com/ehr/integrator/internal/domain/cachekey"
)

// Store persists consent records. There is no delete: a preference is
// withdrawn by revoking or expiring it.
type Store interface {
	Get(ctx context.Context, key cachekey.IntKey) (*Record, error)
	// Upsert creates or overwrites the record for rec.Key.
	Upsert(ctx context.Context, rec *Record) error
	ListByFacility(ctx context.Context, facilityID int) ([]*Record, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[cachekey.IntKey]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[cachekey.IntKey]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, key cachekey.IntKey) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Key] = rec.clone()
	return nil
}

func (s *MemoryStore) ListByFacility(_ context.Context, facilityID int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for k, r := range s.records {
		if k.FacilityID == facilityID {
			out = append(out, r.clone())
		}
	}
	sortByDemographic(out)
	return out, nil
}

func sortByDemographic(recs []*Record) {
	slices.SortFunc(recs, func(a, b *Record) int { return cachekey.CompareItemID(a.Key, b.Key) })
}
