package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/eventlog"
	"github.com/ehr/integrator/internal/platform/metrics"
)

// Preference is a patient's requested consent state at a facility.
type Preference struct {
	FacilityID              int          `json:"facility_id"`
	DemographicID           int          `json:"demographic_id"`
	Status                  Status       `json:"status"`
	Expiry                  *time.Time   `json:"expiry,omitempty"`
	ExcludeMentalHealthData bool         `json:"exclude_mental_health_data"`
	ShareOverrides          map[int]bool `json:"share_overrides,omitempty"`
}

type Service struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	events  *eventlog.Recorder
	now     func() time.Time
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "consent").Logger(),
		now:    time.Now,
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics)    { s.metrics = m }
func (s *Service) SetRecorder(r *eventlog.Recorder) { s.events = r }

// SetPreference creates the patient's consent record on first use and
// overwrites it afterwards. CreatedDate is kept from the first save.
func (s *Service) SetPreference(ctx context.Context, p Preference) (*Record, error) {
	status, err := ParseStatus(string(p.Status))
	if err != nil {
		return nil, err
	}
	key, err := cachekey.NewIntKey(p.FacilityID, p.DemographicID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &Record{Key: key, CreatedDate: s.now().UTC()}
	case err != nil:
		return nil, fmt.Errorf("load consent %s: %w", key, err)
	}

	rec.Status = status
	rec.Expiry = nil
	if p.Expiry != nil {
		t := p.Expiry.UTC()
		rec.Expiry = &t
	}
	rec.ExcludeMentalHealthData = p.ExcludeMentalHealthData
	rec.ShareOverrides = make(map[int]bool, len(p.ShareOverrides))
	for dest, allowed := range p.ShareOverrides {
		rec.ShareOverrides[dest] = allowed
	}

	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient", key.String()).Str("status", string(status)).Msg("consent preference saved")
	s.events.Record(ctx, eventlog.ActionConsentUpdated, "patient="+key.String()+" status="+string(status))
	return rec, nil
}

func (s *Service) Get(ctx context.Context, facilityID, demographicID int) (*Record, error) {
	key, err := cachekey.NewIntKey(facilityID, demographicID)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, key)
}

func (s *Service) ListByFacility(ctx context.Context, facilityID int) ([]*Record, error) {
	return s.store.ListByFacility(ctx, facilityID)
}

// Evaluate decides whether the patient's data at facilityID may be shared
// with destinationFacilityID. A patient with no consent record is denied.
// Only store failures return an error; denial never does.
func (s *Service) Evaluate(ctx context.Context, facilityID, demographicID, destinationFacilityID int) (Decision, error) {
	rec, err := s.Get(ctx, facilityID, demographicID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Decision{}, err
	}

	d := Evaluate(rec, destinationFacilityID, s.now())
	s.metrics.IncConsent(d.Allowed)
	s.logger.Debug().
		Int("facility_id", facilityID).
		Int("demographic_id", demographicID).
		Int("destination", destinationFacilityID).
		Bool("allowed", d.Allowed).
		Msg("consent evaluated")
	return d, nil
}

