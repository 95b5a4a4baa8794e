package eventlog

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxFieldLen bounds source, action and parameters.
const MaxFieldLen = 255

// Actions written by the integrator.
const (
	ActionFacilityRegistered = "facility.registered"
	ActionFacilityDisabled   = "facility.disabled"
	ActionFacilityEnabled    = "facility.enabled"
	ActionCredentialChanged  = "facility.credential_changed"
	ActionAuthFailed         = "facility.auth_failed"
	ActionConsentUpdated     = "consent.updated"
	ActionRecordSaved        = "record.saved"
	ActionRecordDeleted      = "record.deleted"
	ActionRecordsReplaced    = "record.replaced"
	ActionShareAllowed       = "share.allowed"
	ActionShareDenied        = "share.denied"
)

var ErrActionRequired = errors.New("event action is required")

// Event is one entry in the integrator's audit trail.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Date       time.Time `json:"date"`
	Source     string    `json:"source,omitempty"`
	Action     string    `json:"action"`
	Parameters string    `json:"parameters,omitempty"`
}

// New builds an event stamped with a fresh id and the current time. Fields
// longer than MaxFieldLen are truncated.
func New(source, action, parameters string) (Event, error) {
	if action == "" {
		return Event{}, ErrActionRequired
	}
	return Event{
		ID:         uuid.New(),
		Date:       time.Now().UTC(),
		Source:     truncate(source),
		Action:     truncate(action),
		Parameters: truncate(parameters),
	}, nil
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxFieldLen {
		return s
	}
	r := []rune(s)
	return string(r[:MaxFieldLen])
}
