// Package sharing answers requests from one facility for a patient's cached
// records held on behalf of another facility, subject to the patient's
// consent.
package sharing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/domain/catalog"
	"github.com/ehr/integrator/internal/domain/consent"
	"github.com/ehr/integrator/internal/platform/eventlog"
	"github.com/ehr/integrator/internal/platform/metrics"
	"github.com/ehr/integrator/internal/platform/telemetry"
)

// maxParallelKinds bounds concurrent store reads for one fetch.
const maxParallelKinds = 4

// ConsentEvaluator decides whether a patient's data may go to a facility.
type ConsentEvaluator interface {
	Evaluate(ctx context.Context, facilityID, demographicID, destinationFacilityID int) (consent.Decision, error)
}

// RecordSource returns a patient's records of one kind in natural order.
type RecordSource interface {
	PatientRecords(ctx context.Context, kind catalog.Kind, facilityID, demographicID int) ([]catalog.Record, error)
}

// Request asks for a patient's records. Requester is the authenticated
// facility the records would be shared with. An empty Kinds asks for every
// kind.
type Request struct {
	Requester        int
	SourceFacilityID int
	DemographicID    int
	Kinds            []catalog.Kind
}

// Result carries the consent decision and, when allowed, the records by
// kind. ExcludeMentalHealthData is passed through for the caller to apply.
type Result struct {
	Allowed                 bool                              `json:"allowed"`
	ExcludeMentalHealthData bool                              `json:"exclude_mental_health_data"`
	Records                 map[catalog.Kind][]catalog.Record `json:"records"`
}

type Service struct {
	consents ConsentEvaluator
	records  RecordSource
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	events   *eventlog.Recorder
}

func NewService(consents ConsentEvaluator, records RecordSource, logger zerolog.Logger) *Service {
	return &Service{
		consents: consents,
		records:  records,
		logger:   logger.With().Str("component", "sharing").Logger(),
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics)    { s.metrics = m }
func (s *Service) SetRecorder(r *eventlog.Recorder) { s.events = r }

// Fetch evaluates consent for req.Requester and loads the requested kinds
// concurrently. A denial is an empty Result with Allowed false, not an
// error.
func (s *Service) Fetch(ctx context.Context, req Request) (_ *Result, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "sharing.fetch",
		attribute.Int("requester.id", req.Requester),
		attribute.Int("source.id", req.SourceFacilityID))
	defer func() {
		telemetry.EndSpan(span, err)
		s.metrics.ObserveFetch(time.Since(start))
	}()

	patient, err := cachekey.NewIntKey(req.SourceFacilityID, req.DemographicID)
	if err != nil {
		return nil, err
	}
	if req.Requester <= 0 {
		return nil, fmt.Errorf("%w: requester id must be positive, got %d", cachekey.ErrInvalidKey, req.Requester)
	}
	kinds, err := resolveKinds(req.Kinds)
	if err != nil {
		return nil, err
	}

	decision, err := s.consents.Evaluate(ctx, patient.FacilityID, patient.ItemID, req.Requester)
	if err != nil {
		return nil, fmt.Errorf("evaluate consent for %s: %w", patient, err)
	}
	params := fmt.Sprintf("requester=%d patient=%s", req.Requester, patient)
	span.SetAttributes(attribute.Bool("consent.allowed", decision.Allowed))

	if !decision.Allowed {
		s.logger.Info().Int("requester", req.Requester).Str("patient", patient.String()).Msg("share denied")
		s.events.Record(ctx, eventlog.ActionShareDenied, params)
		return &Result{Records: map[catalog.Kind][]catalog.Record{}}, nil
	}

	lists := make([][]catalog.Record, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelKinds)
	for i, kind := range kinds {
		g.Go(func() error {
			recs, err := s.records.PatientRecords(gctx, kind, patient.FacilityID, patient.ItemID)
			if err != nil {
				return fmt.Errorf("load %s: %w", kind, err)
			}
			lists[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Allowed:                 true,
		ExcludeMentalHealthData: decision.ExcludeMentalHealthData,
		Records:                 make(map[catalog.Kind][]catalog.Record, len(kinds)),
	}
	total := 0
	for i, kind := range kinds {
		if lists[i] == nil {
			lists[i] = []catalog.Record{}
		}
		res.Records[kind] = lists[i]
		total += len(lists[i])
	}

	s.logger.Info().
		Int("requester", req.Requester).
		Str("patient", patient.String()).
		Int("records", total).
		Msg("share allowed")
	s.events.Record(ctx, eventlog.ActionShareAllowed, fmt.Sprintf("%s records=%d", params, total))
	return res, nil
}

// resolveKinds validates kinds and removes duplicates. Empty means all.
func resolveKinds(kinds []catalog.Kind) ([]catalog.Kind, error) {
	if len(kinds) == 0 {
		return catalog.Kinds(), nil
	}
	seen := make(map[catalog.Kind]bool, len(kinds))
	out := make([]catalog.Kind, 0, len(kinds))
	for _, k := range kinds {
		if _, err := catalog.ParseKind(string(k)); err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}
