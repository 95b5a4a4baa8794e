package facility

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestCredential_RoundTrip(t *testing.T) {
	for _, scheme := range []Scheme{SchemeSHA1, SchemeBcrypt} {
		t.Run(string(scheme), func(t *testing.T) {
			c, err := NewCredential(scheme, "p@ss")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !c.Verify("p@ss") {
				t.Error("expected matching password to verify")
			}
			if c.Verify("wrong") {
				t.Error("expected wrong password to fail")
			}
			if c.Verify("") {
				t.Error("expected empty password to fail")
			}
		})
	}
}

func TestCredential_TransportEncodingIsFixedLengthHash(t *testing.T) {
	tests := []struct {
		scheme Scheme
		size   int
	}{
		{SchemeSHA1, 20},
		{SchemeBcrypt, 60},
	}
	for _, tt := range tests {
		t.Run(string(tt.scheme), func(t *testing.T) {
			short, _ := NewCredential(tt.scheme, "p@ss")
			long, _ := NewCredential(tt.scheme, strings.Repeat("x", 70))

			for _, c := range []Credential{short, long} {
				raw, err := base64.StdEncoding.DecodeString(c.TransportEncoding())
				if err != nil {
					t.Fatalf("expected standard Base64, got error: %v", err)
				}
				if len(raw) != tt.size {
					t.Errorf("expected %d-byte hash, got %d", tt.size, len(raw))
				}
				if strings.Contains(string(raw), "p@ss") {
					t.Error("transport encoding must not contain the plaintext")
				}
			}
		})
	}
}

func TestCredential_LegacyDigestMatchesKnownValue(t *testing.T) {
	c, _ := NewCredential(SchemeSHA1, "password")
	// SHA-1("password")
	if got := c.TransportEncoding(); got != "W6ph5Mm5Pz8GgiULbPgzG37mj9g=" {
		t.Errorf("unexpected legacy encoding %s", got)
	}
}

func TestCredential_BcryptIsSalted(t *testing.T) {
	a, _ := NewCredential(SchemeBcrypt, "p@ss")
	b, _ := NewCredential(SchemeBcrypt, "p@ss")
	if a.TransportEncoding() == b.TransportEncoding() {
		t.Error("expected distinct salts to produce distinct hashes")
	}
}

func TestNewCredential_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		scheme    Scheme
		plaintext string
	}{
		{"empty", SchemeBcrypt, ""},
		{"too long", SchemeBcrypt, strings.Repeat("a", MaxCredentialLen+1)},
		{"unknown scheme", Scheme("md5"), "p@ss"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCredential(tt.scheme, tt.plaintext); !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}
}

func TestCredential_ZeroValue(t *testing.T) {
	var c Credential
	if c.IsSet() {
		t.Error("zero credential must not be set")
	}
	if c.Verify("anything") {
		t.Error("zero credential must not verify")
	}
	if c.TransportEncoding() != "" {
		t.Error("zero credential must have empty transport encoding")
	}
}

func TestParseScheme(t *testing.T) {
	if s, err := ParseScheme("bcrypt"); err != nil || s != SchemeBcrypt {
		t.Errorf("got %v, %v", s, err)
	}
	if _, err := ParseScheme("plain"); err == nil {
		t.Error("expected unknown scheme to be rejected")
	}
}
