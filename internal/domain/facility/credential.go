package facility

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Scheme names the algorithm a stored credential was hashed with.
type Scheme string

const (
	// SchemeSHA1 is the legacy unsalted single-pass digest. Facilities that
	// verify handshakes against the raw digest still need it.
	SchemeSHA1 Scheme = "sha1"
	// SchemeBcrypt is a salted, slow hash and the default for new credentials.
	SchemeBcrypt Scheme = "bcrypt"
)

// MaxCredentialLen is the longest plaintext accepted, in bytes. bcrypt
// ignores input beyond this length.
const MaxCredentialLen = 72

// bcryptCost is lowered by tests.
var bcryptCost = bcrypt.DefaultCost

func (s Scheme) Valid() bool {
	return s == SchemeSHA1 || s == SchemeBcrypt
}

// ParseScheme maps a configured scheme name to a Scheme.
func ParseScheme(s string) (Scheme, error) {
	sc := Scheme(s)
	if !sc.Valid() {
		return "", fmt.Errorf("%w: unknown credential scheme %q", ErrInvalidCredential, s)
	}
	return sc, nil
}

// Credential is a hashed secret tagged with the scheme that produced it.
// The zero value means no credential has been set.
type Credential struct {
	Scheme Scheme
	Hash   []byte
}

// NewCredential hashes plaintext with scheme. Empty and over-long plaintext
// are rejected.
func NewCredential(scheme Scheme, plaintext string) (Credential, error) {
	if plaintext == "" {
		return Credential{}, fmt.Errorf("%w: credential must not be empty", ErrInvalidCredential)
	}
	if len(plaintext) > MaxCredentialLen {
		return Credential{}, fmt.Errorf("%w: credential exceeds %d bytes", ErrInvalidCredential, MaxCredentialLen)
	}

	switch scheme {
	case SchemeSHA1:
		sum := sha1.Sum([]byte(plaintext))
		return Credential{Scheme: SchemeSHA1, Hash: sum[:]}, nil
	case SchemeBcrypt:
		h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
		if err != nil {
			if errors.Is(err, bcrypt.ErrPasswordTooLong) {
				return Credential{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
			}
			return Credential{}, fmt.Errorf("hash credential: %w", err)
		}
		return Credential{Scheme: SchemeBcrypt, Hash: h}, nil
	default:
		return Credential{}, fmt.Errorf("%w: unknown credential scheme %q", ErrInvalidCredential, scheme)
	}
}

func (c Credential) IsSet() bool {
	return c.Scheme != "" && len(c.Hash) > 0
}

// Verify reports whether plaintext hashes to the stored value. It never
// fails loudly: an empty plaintext, an unset credential or an unknown scheme
// all yield false.
func (c Credential) Verify(plaintext string) bool {
	if plaintext == "" || !c.IsSet() {
		return false
	}
	switch c.Scheme {
	case SchemeSHA1:
		sum := sha1.Sum([]byte(plaintext))
		return subtle.ConstantTimeCompare(sum[:], c.Hash) == 1
	case SchemeBcrypt:
		return bcrypt.CompareHashAndPassword(c.Hash, []byte(plaintext)) == nil
	default:
		return false
	}
}

// TransportEncoding is the stored hash in standard Base64, or "" when unset.
func (c Credential) TransportEncoding() string {
	if !c.IsSet() {
		return ""
	}
	return base64.StdEncoding.EncodeToString(c.Hash)
}

func (c Credential) clone() Credential {
	if c.Hash == nil {
		return c
	}
	h := make([]byte, len(c.Hash))
	copy(h, c.Hash)
	return Credential{Scheme: c.Scheme, Hash: h}
}
