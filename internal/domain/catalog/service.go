package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/eventlog"
	"github.com/ehr/integrator/internal/platform/metrics"
	"github.com/ehr/integrator/internal/platform/telemetry"
)

// Service ingests records pushed by facilities and serves them back by
// patient.
type Service struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	events  *eventlog.Recorder
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics)    { s.metrics = m }
func (s *Service) SetRecorder(r *eventlog.Recorder) { s.events = r }

// prepare normalizes rec and checks it belongs to sourceFacilityID.
func prepare(sourceFacilityID int, rec Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrUnknownKind)
	}
	if err := rec.Normalize(); err != nil {
		return err
	}
	if f := rec.CacheKey().SourceFacility(); f != sourceFacilityID {
		return fmt.Errorf("%w: key facility %d, source facility %d", ErrFacilityMismatch, f, sourceFacilityID)
	}
	return nil
}

// Ingest saves one record sent by sourceFacilityID. A later save of the same
// key replaces the earlier one.
func (s *Service) Ingest(ctx context.Context, sourceFacilityID int, rec Record) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.ingest", attribute.Int("facility.id", sourceFacilityID))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := prepare(sourceFacilityID, rec); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("record.kind", string(rec.Kind())))

	if err := s.store.Save(ctx, rec); err != nil {
		return err
	}
	s.metrics.IncRecordOp(string(rec.Kind()), "save")
	s.logger.Debug().Str("kind", string(rec.Kind())).Str("key", rec.CacheKey().String()).Msg("record saved")
	s.events.Record(ctx, eventlog.ActionRecordSaved, string(rec.Kind())+" "+rec.CacheKey().String())
	return nil
}

// Replace swaps every record of kind held for the patient with recs. Each
// record must belong to the patient at sourceFacilityID.
func (s *Service) Replace(ctx context.Context, sourceFacilityID int, kind Kind, demographicID int, recs []Record) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.replace",
		attribute.Int("facility.id", sourceFacilityID),
		attribute.String("record.kind", string(kind)),
		attribute.Int("record.count", len(recs)))
	defer func() { telemetry.EndSpan(span, err) }()

	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if !kind.PerPatient() {
		return fmt.Errorf("%w: %s", ErrNotPerPatient, kind)
	}
	if _, err := cachekey.NewIntKey(sourceFacilityID, demographicID); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := prepare(sourceFacilityID, rec); err != nil {
			return err
		}
		if rec.Kind() != kind {
			return fmt.Errorf("%w: %s record in a %s replace", ErrUnknownKind, rec.Kind(), kind)
		}
		if rec.PatientID() != demographicID {
			return fmt.Errorf("%w: record %s belongs to patient %d, not %d", ErrPatientMismatch, rec.CacheKey(), rec.PatientID(), demographicID)
		}
	}

	if err := s.store.ReplacePatient(ctx, kind, sourceFacilityID, demographicID, recs); err != nil {
		return err
	}
	s.metrics.IncRecordOp(string(kind), "replace")
	s.logger.Info().
		Str("kind", string(kind)).
		Int("facility_id", sourceFacilityID).
		Int("demographic_id", demographicID).
		Int("count", len(recs)).
		Msg("patient records replaced")
	s.events.Record(ctx, eventlog.ActionRecordsReplaced,
		fmt.Sprintf("%s patient=%d:%d count=%d", kind, sourceFacilityID, demographicID, len(recs)))
	return nil
}

// Delete removes a record owned by sourceFacilityID. Deleting a missing
// record succeeds.
func (s *Service) Delete(ctx context.Context, sourceFacilityID int, kind Kind, key cachekey.Key) error {
	if key.SourceFacility() != sourceFacilityID {
		return fmt.Errorf("%w: key facility %d, source facility %d", ErrFacilityMismatch, key.SourceFacility(), sourceFacilityID)
	}
	if err := s.store.Delete(ctx, kind, key); err != nil {
		return err
	}
	s.metrics.IncRecordOp(string(kind), "delete")
	s.events.Record(ctx, eventlog.ActionRecordDeleted, string(kind)+" "+key.String())
	return nil
}

func (s *Service) Load(ctx context.Context, kind Kind, key cachekey.Key) (Record, error) {
	return s.store.Load(ctx, kind, key)
}

// PatientRecords returns the patient's records of kind in natural order.
// Measurement extensions are found through the patient's measurements.
func (s *Service) PatientRecords(ctx context.Context, kind Kind, facilityID, demographicID int) ([]Record, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if kind == KindMeasurementExt {
		return s.measurementExts(ctx, facilityID, demographicID)
	}
	recs, err := s.store.FindByFacilityAndPatient(ctx, kind, facilityID, demographicID)
	if err != nil {
		return nil, fmt.Errorf("find %s for patient %d:%d: %w", kind, facilityID, demographicID, err)
	}
	Sort(recs)
	return recs, nil
}

func (s *Service) measurementExts(ctx context.Context, facilityID, demographicID int) ([]Record, error) {
	ms, err := s.store.FindByFacilityAndPatient(ctx, KindMeasurement, facilityID, demographicID)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, nil
	}
	ids := make(map[int]bool, len(ms))
	for _, m := range ms {
		ids[m.(*Measurement).Key.ItemID] = true
	}

	exts, err := s.store.FindByFacility(ctx, KindMeasurementExt, facilityID)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range exts {
		if ids[r.(*MeasurementExt).MeasurementID] {
			out = append(out, r)
		}
	}
	Sort(out)
	return out, nil
}

// FacilityRecords returns every record of kind held for facilityID.
func (s *Service) FacilityRecords(ctx context.Context, kind Kind, facilityID int) ([]Record, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	recs, err := s.store.FindByFacility(ctx, kind, facilityID)
	if err != nil {
		return nil, err
	}
	Sort(recs)
	return recs, nil
}
