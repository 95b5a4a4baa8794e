package facility

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"  Northside-Clinic ", "northside-clinic", false},
		{"st.marys_2", "st.marys_2", false},
		{strings.Repeat("a", 32), strings.Repeat("a", 32), false},
		{strings.Repeat("a", 33), "", true},
		{"", "", true},
		{"   ", "", true},
		{"has space", "", true},
		{"semi;colon", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeName(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidName) {
					t.Fatalf("expected ErrInvalidName, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewDraft(t *testing.T) {
	d, err := NewDraft("Eastside", "secret", SchemeSHA1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name != "eastside" {
		t.Errorf("expected normalized name, got %s", d.Name)
	}
	if !d.credential.Verify("secret") {
		t.Error("expected draft credential to verify")
	}

	if _, err := NewDraft("Eastside", "", SchemeSHA1); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestFacility_SetAndVerifyCredential(t *testing.T) {
	f := &Facility{ID: 1, Name: "north"}
	if f.VerifyCredential("p@ss") {
		t.Error("facility without credential must not verify")
	}
	if f.CredentialTransportEncoding() != "" {
		t.Error("expected empty encoding before a credential is set")
	}

	if err := f.SetCredential("p@ss", SchemeBcrypt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.VerifyCredential("p@ss") {
		t.Error("expected p@ss to verify")
	}
	if f.VerifyCredential("wrong") || f.VerifyCredential("") {
		t.Error("expected wrong and empty passwords to fail")
	}

	before := f.CredentialTransportEncoding()
	if err := f.SetCredential("", SchemeBcrypt); err == nil {
		t.Fatal("expected empty credential to be rejected")
	}
	if f.CredentialTransportEncoding() != before {
		t.Error("rejected credential must not overwrite the stored one")
	}
}

func TestFacility_VerifyIgnoresDisabled(t *testing.T) {
	f := &Facility{ID: 1}
	_ = f.SetCredential("p@ss", SchemeSHA1)
	f.Disable()

	if f.IsEnabled() {
		t.Error("expected disabled facility")
	}
	if !f.VerifyCredential("p@ss") {
		t.Error("verification is independent of the disabled gate")
	}
	f.Enable()
	if !f.IsEnabled() {
		t.Error("expected enabled facility")
	}
}

func TestFacility_CloneIsDeep(t *testing.T) {
	f := &Facility{ID: 1}
	_ = f.SetCredential("p@ss", SchemeSHA1)
	f.RecordLogin(time.Now())

	cp := f.clone()
	cp.credential.Hash[0] ^= 0xff
	*cp.LastLogin = cp.LastLogin.Add(time.Hour)

	if !f.VerifyCredential("p@ss") {
		t.Error("mutating the clone's hash changed the original")
	}
	if f.LastLogin.Equal(*cp.LastLogin) {
		t.Error("mutating the clone's last login changed the original")
	}
}
