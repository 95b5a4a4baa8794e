package catalog

import (
	"errors"
	"strings"
	"testing"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/validate"
)

func TestEformData_NormalizeTrimsToNull(t *testing.T) {
	r := &EformData{
		Key:          cachekey.IntKey{FacilityID: 1, ItemID: 2},
		FormName:     strp("  Intake  "),
		FormProvider: strp("   "),
		Subject:      nil,
		FormData:     strp("<html/>"),
	}
	if err := r.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.FormName == nil || *r.FormName != "Intake" {
		t.Errorf("expected trimmed form name, got %v", r.FormName)
	}
	if r.FormProvider != nil {
		t.Errorf("expected blank provider to become nil, got %q", *r.FormProvider)
	}
	if r.Subject != nil {
		t.Error("expected nil subject to stay nil")
	}
}

func TestEformValue_NormalizeTrimsToEmpty(t *testing.T) {
	r := &EformValue{
		Key:      cachekey.IntKey{FacilityID: 1, ItemID: 2},
		VarName:  "  weight ",
		VarValue: strp("  "),
	}
	if err := r.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.VarName != "weight" {
		t.Errorf("expected trimmed var name, got %q", r.VarName)
	}
	if r.VarValue != nil {
		t.Error("expected blank var value to become nil")
	}
}

func TestMeasurement_NormalizeKeepsComments(t *testing.T) {
	r := measurement(1, 5, 9)
	r.Type = " WT "
	r.Comments = strp("  after lunch  ")
	if err := r.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Type != "WT" {
		t.Errorf("expected trimmed type, got %q", r.Type)
	}
	if *r.Comments != "  after lunch  " {
		t.Errorf("expected comments untouched, got %q", *r.Comments)
	}
}

func TestAdmission_NormalizeLeavesTextVerbatim(t *testing.T) {
	r := admission(1, 1, 1)
	r.AdmissionNotes = strp("  as received ")
	if err := r.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *r.AdmissionNotes != "  as received " {
		t.Errorf("expected admission notes untouched, got %q", *r.AdmissionNotes)
	}
}

func TestAppointment_NormalizeTrims(t *testing.T) {
	r := &Appointment{
		Key:        cachekey.IntKey{FacilityID: 1, ItemID: 4},
		ProviderID: "  999 ",
		Reason:     strp("  follow up "),
		Location:   strp("   "),
		Status:     strp("t"),
	}
	if err := r.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ProviderID != "999" {
		t.Errorf("expected trimmed provider, got %q", r.ProviderID)
	}
	if r.Reason == nil || *r.Reason != "follow up" {
		t.Errorf("expected trimmed reason, got %v", r.Reason)
	}
	if r.Location != nil {
		t.Errorf("expected blank location to become nil, got %q", *r.Location)
	}
}

func TestAllergy_NormalizeTrimsToNull(t *testing.T) {
	r := &Allergy{
		Key:          cachekey.IntKey{FacilityID: 2, ItemID: 8},
		Description:  strp(" penicillin "),
		Reaction:     strp("  "),
		SeverityCode: strp("3"),
	}
	if err := r.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *r.Description != "penicillin" {
		t.Errorf("expected trimmed description, got %q", *r.Description)
	}
	if r.Reaction != nil {
		t.Error("expected blank reaction to become nil")
	}
}

func TestDrug_NormalizeLeavesTextVerbatim(t *testing.T) {
	r := &Drug{
		Key:        cachekey.IntKey{FacilityID: 1, ItemID: 6},
		ProviderID: "999",
		BrandName:  strp(" Metformin "),
		TakeMin:    1,
		TakeMax:    2,
		Special:    strp("  take with food "),
		ScriptNo:   11,
		LongTerm:   boolp(true),
	}
	if err := r.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *r.BrandName != " Metformin " || *r.Special != "  take with food " {
		t.Errorf("expected drug text untouched, got %q and %q", *r.BrandName, *r.Special)
	}
}

func TestNormalize_RejectsInvalidKey(t *testing.T) {
	recs := []Record{
		admission(0, 1, 1),
		admission(1, 0, 1),
		&Drug{Key: cachekey.IntKey{FacilityID: 1}},
		&Allergy{Key: cachekey.IntKey{ItemID: 1}},
		&LabResult{Key: cachekey.LabResultKey{FacilityID: 1, LabResultID: "  "}},
		note(1, "", 3, nil),
		&Issue{Key: cachekey.IssueKey{FacilityID: 1, DemographicID: 2, CodeType: "BOGUS", IssueCode: "x"}},
	}
	for _, r := range recs {
		if err := r.Normalize(); !errors.Is(err, cachekey.ErrInvalidKey) {
			t.Errorf("%s: expected ErrInvalidKey, got %v", r.Kind(), err)
		}
	}
}

func TestNormalize_RejectsOverlongFields(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"dx status", &DxResearch{Key: cachekey.IntKey{FacilityID: 1, ItemID: 1}, Status: strp("AB")}},
		{"eform value var name", &EformValue{Key: cachekey.IntKey{FacilityID: 1, ItemID: 1}, VarName: strings.Repeat("v", 31)}},
		{"measurement provider", &Measurement{Key: cachekey.IntKey{FacilityID: 1, ItemID: 1}, ProviderID: strings.Repeat("p", 17)}},
		{"issue description", &Issue{
			Key:              cachekey.IssueKey{FacilityID: 1, DemographicID: 2, CodeType: cachekey.CodeICD10, IssueCode: "E11"},
			IssueDescription: strp(strings.Repeat("d", 129)),
		}},
		{"lab type", &LabResult{Key: cachekey.LabResultKey{FacilityID: 1, LabResultID: "L1"}, Type: strings.Repeat("t", 65)}},
		{"appointment status", &Appointment{Key: cachekey.IntKey{FacilityID: 1, ItemID: 1}, Status: strp("ABC")}},
		{"appointment provider", &Appointment{Key: cachekey.IntKey{FacilityID: 1, ItemID: 1}, ProviderID: strings.Repeat("p", 17)}},
		{"drug atc", &Drug{Key: cachekey.IntKey{FacilityID: 1, ItemID: 1}, ATC: strp(strings.Repeat("a", 65))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rec.Normalize(); !errors.Is(err, validate.ErrInvalid) {
				t.Errorf("expected validate.ErrInvalid, got %v", err)
			}
		})
	}
}

func TestNormalize_TrimsKeyText(t *testing.T) {
	r := &LabResult{Key: cachekey.LabResultKey{FacilityID: 3, LabResultID: "  L-77 "}}
	if err := r.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Key.LabResultID != "L-77" {
		t.Errorf("expected trimmed lab result id, got %q", r.Key.LabResultID)
	}
}

func TestPatientID(t *testing.T) {
	issue := &Issue{Key: cachekey.IssueKey{FacilityID: 1, DemographicID: 42, CodeType: cachekey.CodeICD9, IssueCode: "250"}}
	if issue.PatientID() != 42 {
		t.Errorf("expected issue patient from key, got %d", issue.PatientID())
	}
	if measurementExt(1, 1, 1).PatientID() != 0 {
		t.Error("expected measurement extension to carry no patient")
	}
}
