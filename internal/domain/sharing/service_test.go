package sharing

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/domain/catalog"
	"github.com/ehr/integrator/internal/domain/consent"
	"github.com/ehr/integrator/internal/platform/eventlog"
)

// -- Fakes --

type fixedConsent struct {
	decision consent.Decision
	err      error
	calls    []int
}

func (f *fixedConsent) Evaluate(_ context.Context, _, _, dest int) (consent.Decision, error) {
	f.calls = append(f.calls, dest)
	return f.decision, f.err
}

type failingSource struct{ failKind catalog.Kind }

func (f failingSource) PatientRecords(_ context.Context, kind catalog.Kind, _, _ int) ([]catalog.Record, error) {
	if kind == f.failKind {
		return nil, errors.New("store offline")
	}
	return nil, nil
}

// -- Fixtures --

type fixture struct {
	svc      *Service
	consents *consent.Service
	records  *catalog.Service
	events   *eventlog.MemoryPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub := eventlog.NewMemoryPublisher()
	consents := consent.NewService(consent.NewMemoryStore(), zerolog.Nop())
	records := catalog.NewService(catalog.NewMemoryStore(), zerolog.Nop())
	svc := NewService(consents, records, zerolog.Nop())
	svc.SetRecorder(eventlog.NewRecorder(pub, "test", zerolog.Nop()))

	ctx := context.Background()
	for _, r := range []catalog.Record{
		&catalog.Admission{Key: cachekey.IntKey{FacilityID: 1, ItemID: 2}, DemographicID: 9},
		&catalog.Admission{Key: cachekey.IntKey{FacilityID: 1, ItemID: 1}, DemographicID: 9},
		&catalog.Measurement{Key: cachekey.IntKey{FacilityID: 1, ItemID: 5}, DemographicID: 9, Type: "BP"},
		&catalog.Measurement{Key: cachekey.IntKey{FacilityID: 1, ItemID: 6}, DemographicID: 10, Type: "BP"},
	} {
		if err := records.Ingest(ctx, 1, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return &fixture{svc: svc, consents: consents, records: records, events: pub}
}

func (f *fixture) consent(t *testing.T, p consent.Preference) {
	t.Helper()
	if _, err := f.consents.SetPreference(context.Background(), p); err != nil {
		t.Fatalf("set consent: %v", err)
	}
}

// -- Tests --

func TestFetch_NoConsentRecordDenies(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Fetch(context.Background(), Request{Requester: 2, SourceFacilityID: 1, DemographicID: 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed || len(res.Records) != 0 {
		t.Errorf("expected empty denial, got %+v", res)
	}
	if !slices.Equal(f.events.Actions(), []string{eventlog.ActionShareDenied}) {
		t.Errorf("unexpected events %v", f.events.Actions())
	}
}

func TestFetch_OverrideDeniesOneDestination(t *testing.T) {
	f := newFixture(t)
	f.consent(t, consent.Preference{
		FacilityID: 1, DemographicID: 9, Status: consent.StatusGiven,
		ShareOverrides: map[int]bool{2: false},
	})
	ctx := context.Background()

	denied, err := f.svc.Fetch(ctx, Request{Requester: 2, SourceFacilityID: 1, DemographicID: 9})
	if err != nil {
		t.Fatal(err)
	}
	if denied.Allowed {
		t.Error("expected facility 2 to be denied by override")
	}

	allowed, err := f.svc.Fetch(ctx, Request{Requester: 3, SourceFacilityID: 1, DemographicID: 9})
	if err != nil {
		t.Fatal(err)
	}
	if !allowed.Allowed {
		t.Fatal("expected facility 3 to be allowed")
	}
	if len(allowed.Records) != len(catalog.Kinds()) {
		t.Errorf("expected every kind in the result, got %d", len(allowed.Records))
	}
	if got := allowed.Records[catalog.KindMeasurement]; len(got) != 1 {
		t.Errorf("expected one measurement for patient 9, got %d", len(got))
	}
	if got := allowed.Records[catalog.KindNote]; got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil note list, got %v", got)
	}
}

func TestFetch_SelectedKindsAndFlag(t *testing.T) {
	f := newFixture(t)
	f.consent(t, consent.Preference{
		FacilityID: 1, DemographicID: 9, Status: consent.StatusGiven,
		ExcludeMentalHealthData: true,
	})

	res, err := f.svc.Fetch(context.Background(), Request{
		Requester: 2, SourceFacilityID: 1, DemographicID: 9,
		Kinds: []catalog.Kind{catalog.KindAdmission, catalog.KindAdmission},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || !res.ExcludeMentalHealthData {
		t.Errorf("expected allowed with mental health exclusion, got %+v", res)
	}
	if len(res.Records) != 1 {
		t.Errorf("expected only admissions, got %d kinds", len(res.Records))
	}
	adm := res.Records[catalog.KindAdmission]
	if len(adm) != 2 || adm[0].CacheKey().String() != "1:1" {
		t.Errorf("expected two admissions in key order, got %v", adm)
	}
	if !slices.Equal(f.events.Actions()[len(f.events.Actions())-1:], []string{eventlog.ActionShareAllowed}) {
		t.Errorf("expected share.allowed event, got %v", f.events.Actions())
	}
}

func TestFetch_RevokedDenies(t *testing.T) {
	f := newFixture(t)
	f.consent(t, consent.Preference{FacilityID: 1, DemographicID: 9, Status: consent.StatusRevoked})

	res, err := f.svc.Fetch(context.Background(), Request{Requester: 2, SourceFacilityID: 1, DemographicID: 9})
	if err != nil || res.Allowed {
		t.Errorf("expected denial without error, got %+v, %v", res, err)
	}
}

func TestFetch_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"no patient", Request{Requester: 2, SourceFacilityID: 1}, cachekey.ErrInvalidKey},
		{"no source", Request{Requester: 2, DemographicID: 9}, cachekey.ErrInvalidKey},
		{"no requester", Request{SourceFacilityID: 1, DemographicID: 9}, cachekey.ErrInvalidKey},
		{"unknown kind", Request{Requester: 2, SourceFacilityID: 1, DemographicID: 9, Kinds: []catalog.Kind{"x"}}, catalog.ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Fetch(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFetch_ConsentStoreError(t *testing.T) {
	c := &fixedConsent{err: errors.New("timeout")}
	svc := NewService(c, failingSource{}, zerolog.Nop())

	if _, err := svc.Fetch(context.Background(), Request{Requester: 2, SourceFacilityID: 1, DemographicID: 9}); err == nil {
		t.Fatal("expected consent store error")
	}
	if !slices.Equal(c.calls, []int{2}) {
		t.Errorf("expected consent evaluated for the requester, got %v", c.calls)
	}
}

func TestFetch_RecordLoadError(t *testing.T) {
	c := &fixedConsent{decision: consent.Decision{Allowed: true}}
	svc := NewService(c, failingSource{failKind: catalog.KindNote}, zerolog.Nop())

	_, err := svc.Fetch(context.Background(), Request{Requester: 2, SourceFacilityID: 1, DemographicID: 9})
	if err == nil {
		t.Fatal("expected load error")
	}
}

func TestFetch_RecordsSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	c := &fixedConsent{decision: consent.Decision{Allowed: false}}
	svc := NewService(c, failingSource{}, zerolog.Nop())
	if _, err := svc.Fetch(context.Background(), Request{Requester: 2, SourceFacilityID: 1, DemographicID: 9}); err != nil {
		t.Fatal(err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "sharing.fetch" {
		t.Fatalf("expected one sharing.fetch span, got %v", spans)
	}
	found := false
	for _, kv := range spans[0].Attributes {
		if kv.Key == "consent.allowed" && !kv.Value.AsBool() {
			found = true
		}
	}
	if !found {
		t.Error("expected consent.allowed=false attribute")
	}
}
