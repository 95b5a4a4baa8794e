package facility

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Store persists facilities.
type Store interface {
	// Create stores d and returns the facility with its assigned id.
	// Returns ErrNameTaken if the name is already registered.
	Create(ctx context.Context, d Draft) (*Facility, error)
	GetByID(ctx context.Context, id int) (*Facility, error)
	GetByName(ctx context.Context, name string) (*Facility, error)
	List(ctx context.Context) ([]*Facility, error)
	// Update writes the listed fields of f. Other fields are left as stored.
	Update(ctx context.Context, f *Facility, fields ...Field) error
}

// MemoryStore is a thread-safe in-memory Store. Values are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[int]*Facility
	byName map[string]int
	nextID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[int]*Facility),
		byName: make(map[string]int),
		nextID: 1,
	}
}

func (s *MemoryStore) Create(_ context.Context, d Draft) (*Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[d.Name]; ok {
		return nil, ErrNameTaken
	}
	now := time.Now().UTC()
	f := &Facility{
		ID:         s.nextID,
		Name:       d.Name,
		CreatedAt:  now,
		UpdatedAt:  now,
		credential: d.credential.clone(),
	}
	s.nextID++
	s.byID[f.ID] = f
	s.byName[f.Name] = f.ID
	return f.clone(), nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int) (*Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.clone(), nil
}

func (s *MemoryStore) GetByName(_ context.Context, name string) (*Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Facility, 0, len(s.byID))
	for _, f := range s.byID {
		out = append(out, f.clone())
	}
	slices.SortFunc(out, func(a, b *Facility) int { return a.ID - b.ID })
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, f *Facility, fields ...Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[f.ID]
	if !ok {
		return ErrNotFound
	}
	// Validate before touching anything so a failed update changes nothing.
	if slices.Contains(fields, FieldName) {
		if id, taken := s.byName[f.Name]; taken && id != f.ID {
			return ErrNameTaken
		}
	}
	for _, field := range fields {
		switch field {
		case FieldName:
			delete(s.byName, stored.Name)
			stored.Name = f.Name
			s.byName[f.Name] = f.ID
		case FieldCredential:
			stored.credential = f.credential.clone()
		case FieldDisabled:
			stored.Disabled = f.Disabled
		case FieldLastLogin:
			if f.LastLogin != nil {
				t := *f.LastLogin
				stored.LastLogin = &t
			} else {
				stored.LastLogin = nil
			}
		}
	}
	stored.UpdatedAt = time.Now().UTC()
	return nil
}
