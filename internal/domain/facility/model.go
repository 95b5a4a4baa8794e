package facility

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrNotFound          = errors.New("facility not found")
	ErrNameTaken         = errors.New("facility name already registered")
	ErrInvalidName       = errors.New("invalid facility name")
	ErrInvalidCredential = errors.New("invalid credential")
)

// MaxNameLen bounds a normalized facility name.
const MaxNameLen = 32

// NormalizeName trims and lower-cases name and checks it contains only
// letters, digits, '_', '.' and '-'.
func NormalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if l := utf8.RuneCountInString(n); l > MaxNameLen {
		return "", fmt.Errorf("%w: name is %d characters, max %d", ErrInvalidName, l, MaxNameLen)
	}
	for _, r := range n {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return "", fmt.Errorf("%w: character %q not allowed", ErrInvalidName, r)
		}
	}
	return n, nil
}

// Draft is a facility that has not been stored yet. It has no id, so it
// cannot be compared with or mistaken for a registered Facility.
type Draft struct {
	Name       string
	credential Credential
}

// NewDraft normalizes name and hashes plaintext with scheme.
func NewDraft(name, plaintext string, scheme Scheme) (Draft, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return Draft{}, err
	}
	cred, err := NewCredential(scheme, plaintext)
	if err != nil {
		return Draft{}, err
	}
	return Draft{Name: n, credential: cred}, nil
}

// Facility is a registered participant in the integrator network.
type Facility struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Disabled  bool       `json:"disabled"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	credential Credential
}

// SetCredential replaces the stored credential with a hash of plaintext.
// The plaintext is not retained.
func (f *Facility) SetCredential(plaintext string, scheme Scheme) error {
	cred, err := NewCredential(scheme, plaintext)
	if err != nil {
		return err
	}
	f.credential = cred
	return nil
}

// VerifyCredential does not consult Disabled; callers gate on IsEnabled
// separately.
func (f *Facility) VerifyCredential(plaintext string) bool {
	return f.credential.Verify(plaintext)
}

// CredentialTransportEncoding returns the stored hash in standard Base64
// for the inter-facility handshake.
func (f *Facility) CredentialTransportEncoding() string {
	return f.credential.TransportEncoding()
}

func (f *Facility) CredentialScheme() Scheme { return f.credential.Scheme }

func (f *Facility) HasCredential() bool { return f.credential.IsSet() }

func (f *Facility) IsEnabled() bool { return !f.Disabled }

func (f *Facility) Disable() { f.Disabled = true }

func (f *Facility) Enable() { f.Disabled = false }

func (f *Facility) RecordLogin(at time.Time) {
	t := at.UTC()
	f.LastLogin = &t
}

func (f *Facility) clone() *Facility {
	cp := *f
	cp.credential = f.credential.clone()
	if f.LastLogin != nil {
		t := *f.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}

// Field names a persisted facility attribute. Updates list the fields they
// changed and stores write only those.
type Field string

const (
	FieldName       Field = "name"
	FieldCredential Field = "credential"
	FieldDisabled   Field = "disabled"
	FieldLastLogin  Field = "last_login"
)
