package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/metrics"
)

// Store persists cached records keyed by (kind, facility-scoped key).
// Concurrent saves of the same key are last-writer-wins.
type Store interface {
	Load(ctx context.Context, kind Kind, key cachekey.Key) (Record, error)
	Save(ctx context.Context, rec Record) error
	// Delete removes the record if present.
	Delete(ctx context.Context, kind Kind, key cachekey.Key) error
	FindByFacilityAndPatient(ctx context.Context, kind Kind, facilityID, demographicID int) ([]Record, error)
	FindByFacility(ctx context.Context, kind Kind, facilityID int) ([]Record, error)
	// ReplacePatient atomically swaps every record of kind held for the
	// patient with recs.
	ReplacePatient(ctx context.Context, kind Kind, facilityID, demographicID int, recs []Record) error
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

type memEntry struct {
	facilityID    int
	demographicID int
	payload       []byte
}

// MemoryStore keeps encoded records in maps, so callers never share state
// with stored values.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Kind]map[string]memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Kind]map[string]memEntry)}
}

func encode(rec Record) (memEntry, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return memEntry{}, fmt.Errorf("encode %s: %w", rec.Kind(), err)
	}
	return memEntry{
		facilityID:    rec.CacheKey().SourceFacility(),
		demographicID: rec.PatientID(),
		payload:       payload,
	}, nil
}

func (s *MemoryStore) Load(_ context.Context, kind Kind, key cachekey.Key) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[kind][key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(kind, e.payload)
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	e, err := encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(rec.Kind(), rec.CacheKey().String(), e)
	return nil
}

func (s *MemoryStore) put(kind Kind, key string, e memEntry) {
	m, ok := s.records[kind]
	if !ok {
		m = make(map[string]memEntry)
		s.records[kind] = m
	}
	m[key] = e
}

func (s *MemoryStore) Delete(_ context.Context, kind Kind, key cachekey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[kind], key.String())
	return nil
}

func (s *MemoryStore) find(kind Kind, match func(memEntry) bool) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, e := range s.records[kind] {
		if !match(e) {
			continue
		}
		rec, err := Decode(kind, e.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) FindByFacilityAndPatient(_ context.Context, kind Kind, facilityID, demographicID int) ([]Record, error) {
	return s.find(kind, func(e memEntry) bool {
		return e.facilityID == facilityID && e.demographicID == demographicID
	})
}

func (s *MemoryStore) FindByFacility(_ context.Context, kind Kind, facilityID int) ([]Record, error) {
	return s.find(kind, func(e memEntry) bool { return e.facilityID == facilityID })
}

func (s *MemoryStore) ReplacePatient(_ context.Context, kind Kind, facilityID, demographicID int, recs []Record) error {
	entries := make(map[string]memEntry, len(recs))
	for _, rec := range recs {
		e, err := encode(rec)
		if err != nil {
			return err
		}
		entries[rec.CacheKey().String()] = e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.records[kind] {
		if e.facilityID == facilityID && e.demographicID == demographicID {
			delete(s.records[kind], k)
		}
	}
	for k, e := range entries {
		s.put(kind, k, e)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Instrumented
// ---------------------------------------------------------------------------

// Instrumented records store latency under backend.
type Instrumented struct {
	next    Store
	backend string
	metrics *metrics.Metrics
}

func NewInstrumented(next Store, backend string, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, backend: backend, metrics: m}
}

func (s *Instrumented) observe(op string, start time.Time) {
	s.metrics.ObserveStore(s.backend, op, time.Since(start))
}

func (s *Instrumented) Load(ctx context.Context, kind Kind, key cachekey.Key) (Record, error) {
	defer s.observe("load", time.Now())
	return s.next.Load(ctx, kind, key)
}

func (s *Instrumented) Save(ctx context.Context, rec Record) error {
	defer s.observe("save", time.Now())
	return s.next.Save(ctx, rec)
}

func (s *Instrumented) Delete(ctx context.Context, kind Kind, key cachekey.Key) error {
	defer s.observe("delete", time.Now())
	return s.next.Delete(ctx, kind, key)
}

func (s *Instrumented) FindByFacilityAndPatient(ctx context.Context, kind Kind, facilityID, demographicID int) ([]Record, error) {
	defer s.observe("find_patient", time.Now())
	return s.next.FindByFacilityAndPatient(ctx, kind, facilityID, demographicID)
}

func (s *Instrumented) FindByFacility(ctx context.Context, kind Kind, facilityID int) ([]Record, error) {
	defer s.observe("find_facility", time.Now())
	return s.next.FindByFacility(ctx, kind, facilityID)
}

func (s *Instrumented) ReplacePatient(ctx context.Context, kind Kind, facilityID, demographicID int, recs []Record) error {
	defer s.observe("replace", time.Now())
	return s.next.ReplacePatient(ctx, kind, facilityID, demographicID, recs)
}
