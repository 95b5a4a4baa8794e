package facility

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/integrator/internal/platform/eventlog"
	"github.com/ehr/integrator/internal/platform/metrics"
)

type Service struct {
	store   Store
	scheme  Scheme
	upgrade bool
	logger  zerolog.Logger
	metrics *metrics.Metrics
	events  *eventlog.Recorder
	now     func() time.Time
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		scheme: SchemeBcrypt,
		logger: logger.With().Str("component", "facility").Logger(),
		now:    time.Now,
	}
}

// SetScheme chooses the scheme for newly set credentials.
func (s *Service) SetScheme(scheme Scheme) { s.scheme = scheme }

// SetUpgradeOnLogin rehashes a credential stored under another scheme the
// next time the facility authenticates successfully.
func (s *Service) SetUpgradeOnLogin(v bool)         { s.upgrade = v }
func (s *Service) SetMetrics(m *metrics.Metrics)    { s.metrics = m }
func (s *Service) SetRecorder(r *eventlog.Recorder) { s.events = r }
func (s *Service) Scheme() Scheme                   { return s.scheme }

func (s *Service) Register(ctx context.Context, name, password string) (*Facility, error) {
	d, err := NewDraft(name, password, s.scheme)
	if err != nil {
		return nil, err
	}
	f, err := s.store.Create(ctx, d)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("facility_id", f.ID).Str("name", f.Name).Msg("facility registered")
	s.events.Record(ctx, eventlog.ActionFacilityRegistered, "facility="+strconv.Itoa(f.ID))
	return f, nil
}

func (s *Service) Get(ctx context.Context, id int) (*Facility, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) GetByName(ctx context.Context, name string) (*Facility, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return s.store.GetByName(ctx, n)
}

func (s *Service) List(ctx context.Context) ([]*Facility, error) {
	return s.store.List(ctx)
}

func (s *Service) SetCredential(ctx context.Context, id int, password string) error {
	f, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := f.SetCredential(password, s.scheme); err != nil {
		return err
	}
	if err := s.store.Update(ctx, f, FieldCredential); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	s.logger.Info().Int("facility_id", id).Str("scheme", string(s.scheme)).Msg("facility credential changed")
	s.events.Record(ctx, eventlog.ActionCredentialChanged, "facility="+strconv.Itoa(id))
	return nil
}

func (s *Service) Disable(ctx context.Context, id int) error {
	return s.setDisabled(ctx, id, true)
}

func (s *Service) Enable(ctx context.Context, id int) error {
	return s.setDisabled(ctx, id, false)
}

func (s *Service) setDisabled(ctx context.Context, id int, disabled bool) error {
	f, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if disabled {
		f.Disable()
	} else {
		f.Enable()
	}
	if err := s.store.Update(ctx, f, FieldDisabled); err != nil {
		return err
	}

	action := eventlog.ActionFacilityEnabled
	if disabled {
		action = eventlog.ActionFacilityDisabled
	}
	s.logger.Info().Int("facility_id", id).Bool("disabled", disabled).Msg("facility state changed")
	s.events.Record(ctx, action, "facility="+strconv.Itoa(id))
	return nil
}

// TransportCredential returns the Base64 credential hash for the handshake.
func (s *Service) TransportCredential(ctx context.Context, id int) (string, error) {
	f, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !f.HasCredential() {
		return "", fmt.Errorf("%w: facility %d has no credential", ErrInvalidCredential, id)
	}
	return f.CredentialTransportEncoding(), nil
}

var (
	dummyOnce sync.Once
	dummy     Credential
)

// dummyVerify spends roughly the time of a real bcrypt comparison so an
// unknown name is not distinguishable by latency.
func dummyVerify(password string) {
	dummyOnce.Do(func() {
		dummy, _ = NewCredential(SchemeBcrypt, "integrator-unknown-facility")
	})
	dummy.Verify(password)
}

// Authenticate returns the facility when name and password match an
// enabled facility. Every failure looks the same to the caller.
func (s *Service) Authenticate(ctx context.Context, name, password string) (*Facility, bool) {
	f, ok := s.authenticate(ctx, name, password)
	s.metrics.IncAuth(ok)
	if !ok {
		s.logger.Warn().Str("name", name).Msg("facility authentication failed")
		s.events.Record(ctx, eventlog.ActionAuthFailed, "name="+name)
		return nil, false
	}
	return f, true
}

func (s *Service) authenticate(ctx context.Context, name, password string) (*Facility, bool) {
	n, err := NormalizeName(name)
	if err != nil {
		dummyVerify(password)
		return nil, false
	}
	f, err := s.store.GetByName(ctx, n)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Str("name", n).Msg("load facility for authentication")
		}
		dummyVerify(password)
		return nil, false
	}
	if !f.VerifyCredential(password) || !f.IsEnabled() {
		return nil, false
	}

	fields := []Field{FieldLastLogin}
	f.RecordLogin(s.now())
	if s.upgrade && f.CredentialScheme() != s.scheme {
		if err := f.SetCredential(password, s.scheme); err == nil {
			fields = append(fields, FieldCredential)
		}
	}
	if err := s.store.Update(ctx, f, fields...); err != nil {
		s.logger.Error().Err(err).Int("facility_id", f.ID).Msg("record facility login")
	}
	return f, true
}
