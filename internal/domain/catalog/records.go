package catalog

import (
	"strings"
	"time"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/validate"
)

// Record is a clinical record cached from a source facility.
type Record interface {
	Kind() Kind
	CacheKey() cachekey.Key
	// PatientID is the patient's demographic id at the source facility, or
	// 0 for records that are not attached to a patient directly.
	PatientID() int
	// Normalize applies the record's string trim policy and checks field
	// bounds. It must run before a record is saved.
	Normalize() error
}

// trimToNull trims s and maps an empty result to nil.
func trimToNull(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func trimToEmpty(s string) string {
	return strings.TrimSpace(s)
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

// Admission records a patient's admission to and discharge from a program.
// Text fields are stored as received.
type Admission struct {
	Key            cachekey.IntKey `json:"key"`
	DemographicID  int             `json:"demographic_id"`
	ProgramID      int             `json:"program_id"`
	AdmissionDate  *time.Time      `json:"admission_date,omitempty"`
	DischargeDate  *time.Time      `json:"discharge_date,omitempty"`
	AdmissionNotes *string         `json:"admission_notes,omitempty"`
	DischargeNotes *string         `json:"discharge_notes,omitempty"`
}

func (r *Admission) Kind() Kind             { return KindAdmission }
func (r *Admission) CacheKey() cachekey.Key { return r.Key }
func (r *Admission) PatientID() int         { return r.DemographicID }

func (r *Admission) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// LabResult
// ---------------------------------------------------------------------------

type LabResult struct {
	Key           cachekey.LabResultKey `json:"key"`
	DemographicID int                   `json:"demographic_id"`
	Type          string                `json:"type" validate:"max=64"`
	Data          string                `json:"data"`
}

func (r *LabResult) Kind() Kind             { return KindLabResult }
func (r *LabResult) CacheKey() cachekey.Key { return r.Key }
func (r *LabResult) PatientID() int         { return r.DemographicID }

func (r *LabResult) Normalize() error {
	k, err := cachekey.NewLabResultKey(r.Key.FacilityID, r.Key.LabResultID)
	if err != nil {
		return err
	}
	r.Key = k
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// EformData
// ---------------------------------------------------------------------------

// EformData is one submitted electronic form.
type EformData struct {
	Key           cachekey.IntKey `json:"key"`
	FormID        int             `json:"form_id"`
	DemographicID int             `json:"demographic_id"`
	Status        bool            `json:"status"`
	FormDate      *time.Time      `json:"form_date,omitempty"`
	FormTime      *time.Time      `json:"form_time,omitempty"`
	FormName      *string         `json:"form_name,omitempty" validate:"omitempty,max=255"`
	FormProvider  *string         `json:"form_provider,omitempty" validate:"omitempty,max=255"`
	Subject       *string         `json:"subject,omitempty" validate:"omitempty,max=255"`
	FormData      *string         `json:"form_data,omitempty"`
}

func (r *EformData) Kind() Kind               { return KindEformData }
func (r *EformData) CacheKey() cachekey.Key   { return r.Key }
func (r *EformData) PatientID() int           { return r.DemographicID }
func (r *EformData) itemKey() cachekey.IntKey { return r.Key }

func (r *EformData) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	r.FormName = trimToNull(r.FormName)
	r.FormProvider = trimToNull(r.FormProvider)
	r.Subject = trimToNull(r.Subject)
	r.FormData = trimToNull(r.FormData)
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// EformValue
// ---------------------------------------------------------------------------

// EformValue is a single named value captured on a form.
type EformValue struct {
	Key           cachekey.IntKey `json:"key"`
	FormDataID    int             `json:"form_data_id"`
	FormID        int             `json:"form_id"`
	DemographicID int             `json:"demographic_id"`
	VarName       string          `json:"var_name" validate:"max=30"`
	VarValue      *string         `json:"var_value,omitempty"`
}

func (r *EformValue) Kind() Kind               { return KindEformValue }
func (r *EformValue) CacheKey() cachekey.Key   { return r.Key }
func (r *EformValue) PatientID() int           { return r.DemographicID }
func (r *EformValue) itemKey() cachekey.IntKey { return r.Key }

func (r *EformValue) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	r.VarName = trimToEmpty(r.VarName)
	r.VarValue = trimToNull(r.VarValue)
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// DxResearch
// ---------------------------------------------------------------------------

// DxResearch is a diagnosis entry on a patient's disease registry.
type DxResearch struct {
	Key            cachekey.IntKey `json:"key"`
	DemographicID  int             `json:"demographic_id"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	UpdateDate     *time.Time      `json:"update_date,omitempty"`
	Status         *string         `json:"status,omitempty" validate:"omitempty,max=1"`
	DxResearchCode *string         `json:"dxresearch_code,omitempty" validate:"omitempty,max=10"`
	CodingSystem   *string         `json:"coding_system,omitempty" validate:"omitempty,max=20"`
}

func (r *DxResearch) Kind() Kind               { return KindDxResearch }
func (r *DxResearch) CacheKey() cachekey.Key   { return r.Key }
func (r *DxResearch) PatientID() int           { return r.DemographicID }
func (r *DxResearch) itemKey() cachekey.IntKey { return r.Key }

func (r *DxResearch) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	r.Status = trimToNull(r.Status)
	r.DxResearchCode = trimToNull(r.DxResearchCode)
	r.CodingSystem = trimToNull(r.CodingSystem)
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// Measurement
// ---------------------------------------------------------------------------

type Measurement struct {
	Key                  cachekey.IntKey `json:"key"`
	DemographicID        int             `json:"demographic_id"`
	ProviderID           string          `json:"provider_id" validate:"max=16"`
	Type                 string          `json:"type" validate:"max=50"`
	DataField            string          `json:"data_field"`
	MeasuringInstruction string          `json:"measuring_instruction"`
	Comments             *string         `json:"comments,omitempty"`
	DateObserved         *time.Time      `json:"date_observed,omitempty"`
	DateEntered          *time.Time      `json:"date_entered,omitempty"`
}

func (r *Measurement) Kind() Kind               { return KindMeasurement }
func (r *Measurement) CacheKey() cachekey.Key   { return r.Key }
func (r *Measurement) PatientID() int           { return r.DemographicID }
func (r *Measurement) itemKey() cachekey.IntKey { return r.Key }

// Normalize trims the coded fields to empty. Comments are kept verbatim.
func (r *Measurement) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	r.ProviderID = trimToEmpty(r.ProviderID)
	r.Type = trimToEmpty(r.Type)
	r.DataField = trimToEmpty(r.DataField)
	r.MeasuringInstruction = trimToEmpty(r.MeasuringInstruction)
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// MeasurementExt
// ---------------------------------------------------------------------------

// MeasurementExt is a key/value extension of a Measurement. It refers to its
// measurement by id and carries no patient id of its own.
type MeasurementExt struct {
	Key           cachekey.IntKey `json:"key"`
	MeasurementID int             `json:"measurement_id"`
	KeyVal        string          `json:"keyval" validate:"max=20"`
	Val           string          `json:"val"`
}

func (r *MeasurementExt) Kind() Kind               { return KindMeasurementExt }
func (r *MeasurementExt) CacheKey() cachekey.Key   { return r.Key }
func (r *MeasurementExt) PatientID() int           { return 0 }
func (r *MeasurementExt) itemKey() cachekey.IntKey { return r.Key }

func (r *MeasurementExt) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	r.KeyVal = trimToEmpty(r.KeyVal)
	r.Val = trimToEmpty(r.Val)
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// Note
// ---------------------------------------------------------------------------

// NoteIssue links a note to a coded issue.
type NoteIssue struct {
	CodeType  cachekey.CodeType `json:"code_type"`
	IssueCode string            `json:"issue_code"`
}

// Note is a clinical encounter note. Notes sort by observation date.
type Note struct {
	Key                   cachekey.NoteKey `json:"key"`
	DemographicID         int              `json:"demographic_id"`
	UpdateDate            *time.Time       `json:"update_date,omitempty"`
	ObservationDate       *time.Time       `json:"observation_date,omitempty"`
	ObservationProviderID *string          `json:"observation_provider_id,omitempty" validate:"omitempty,max=16"`
	SigningProviderID     *string          `json:"signing_provider_id,omitempty" validate:"omitempty,max=16"`
	EncounterType         *string          `json:"encounter_type,omitempty" validate:"omitempty,max=100"`
	ProgramID             int              `json:"program_id"`
	Note                  *string          `json:"note,omitempty"`
	Role                  *string          `json:"role,omitempty" validate:"omitempty,max=64"`
	Issues                []NoteIssue      `json:"issues,omitempty"`
}

func (r *Note) Kind() Kind             { return KindNote }
func (r *Note) CacheKey() cachekey.Key { return r.Key }
func (r *Note) PatientID() int         { return r.DemographicID }

func (r *Note) Normalize() error {
	k, err := cachekey.NewNoteKey(r.Key.FacilityID, r.Key.UUID)
	if err != nil {
		return err
	}
	r.Key = k
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// Issue
// ---------------------------------------------------------------------------

// Issue is a coded problem on a patient's chart. The patient id is part of
// the key.
type Issue struct {
	Key              cachekey.IssueKey `json:"key"`
	IssueDescription *string           `json:"issue_description,omitempty" validate:"omitempty,max=128"`
	IssueRole        *string           `json:"issue_role,omitempty"`
	Acute            *bool             `json:"acute,omitempty"`
	Certain          *bool             `json:"certain,omitempty"`
	Major            *bool             `json:"major,omitempty"`
	Resolved         *bool             `json:"resolved,omitempty"`
}

func (r *Issue) Kind() Kind             { return KindIssue }
func (r *Issue) CacheKey() cachekey.Key { return r.Key }
func (r *Issue) PatientID() int         { return r.Key.DemographicID }

func (r *Issue) Normalize() error {
	k, err := cachekey.NewIssueKey(r.Key.FacilityID, r.Key.DemographicID, r.Key.CodeType, r.Key.IssueCode)
	if err != nil {
		return err
	}
	r.Key = k
	r.IssueDescription = trimToNull(r.IssueDescription)
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// Prevention
// ---------------------------------------------------------------------------

// Prevention is an immunization or screening event.
type Prevention struct {
	Key            cachekey.IntKey `json:"key"`
	DemographicID  int             `json:"demographic_id"`
	PreventionDate *time.Time      `json:"prevention_date,omitempty"`
	ProviderID     *string         `json:"provider_id,omitempty" validate:"omitempty,max=16"`
	PreventionType *string         `json:"prevention_type,omitempty" validate:"omitempty,max=32"`
	NextDate       *time.Time      `json:"next_date,omitempty"`
	Refused        bool            `json:"refused"`
	Never          bool            `json:"never"`
	Attributes     *string         `json:"attributes,omitempty"`
}

func (r *Prevention) Kind() Kind             { return KindPrevention }
func (r *Prevention) CacheKey() cachekey.Key { return r.Key }
func (r *Prevention) PatientID() int         { return r.DemographicID }

func (r *Prevention) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// Appointment
// ---------------------------------------------------------------------------

// Appointment is a scheduled visit. The provider id is never null; the
// other text fields collapse to null when blank.
type Appointment struct {
	Key             cachekey.IntKey `json:"key"`
	DemographicID   int             `json:"demographic_id"`
	ProviderID      string          `json:"provider_id" validate:"max=16"`
	AppointmentDate *time.Time      `json:"appointment_date,omitempty"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	Notes           *string         `json:"notes,omitempty" validate:"omitempty,max=80"`
	Reason          *string         `json:"reason,omitempty" validate:"omitempty,max=80"`
	Location        *string         `json:"location,omitempty" validate:"omitempty,max=30"`
	Resources       *string         `json:"resources,omitempty" validate:"omitempty,max=255"`
	Type            *string         `json:"type,omitempty" validate:"omitempty,max=10"`
	Style           *string         `json:"style,omitempty" validate:"omitempty,max=10"`
	Status          *string         `json:"status,omitempty" validate:"omitempty,max=2"`
	Remarks         *string         `json:"remarks,omitempty" validate:"omitempty,max=50"`
	CreatedAt       *time.Time      `json:"created_at,omitempty"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

func (r *Appointment) Kind() Kind               { return KindAppointment }
func (r *Appointment) CacheKey() cachekey.Key   { return r.Key }
func (r *Appointment) PatientID() int           { return r.DemographicID }
func (r *Appointment) itemKey() cachekey.IntKey { return r.Key }

func (r *Appointment) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	r.ProviderID = trimToEmpty(r.ProviderID)
	r.Notes = trimToNull(r.Notes)
	r.Reason = trimToNull(r.Reason)
	r.Location = trimToNull(r.Location)
	r.Resources = trimToNull(r.Resources)
	r.Type = trimToNull(r.Type)
	r.Style = trimToNull(r.Style)
	r.Status = trimToNull(r.Status)
	r.Remarks = trimToNull(r.Remarks)
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// Allergy
// ---------------------------------------------------------------------------

// Allergy is a recorded allergy or adverse reaction. The numeric fields are
// drug database codes carried from the source facility.
type Allergy struct {
	Key                cachekey.IntKey `json:"key"`
	DemographicID      int             `json:"demographic_id"`
	EntryDate          *time.Time      `json:"entry_date,omitempty"`
	PickID             int             `json:"pick_id"`
	Description        *string         `json:"description,omitempty"`
	HICLSeqNo          int             `json:"hicl_seq_no"`
	HICSeqNo           int             `json:"hic_seq_no"`
	AGCSP              int             `json:"agcsp"`
	AGCCS              int             `json:"agccs"`
	TypeCode           int             `json:"type_code"`
	Reaction           *string         `json:"reaction,omitempty"`
	StartDate          *time.Time      `json:"start_date,omitempty"`
	AgeOfOnset         *string         `json:"age_of_onset,omitempty"`
	SeverityCode       *string         `json:"severity_code,omitempty"`
	OnsetCode          *string         `json:"onset_code,omitempty"`
	RegionalIdentifier *string         `json:"regional_identifier,omitempty"`
	LifeStage          *string         `json:"life_stage,omitempty"`
}

func (r *Allergy) Kind() Kind               { return KindAllergy }
func (r *Allergy) CacheKey() cachekey.Key   { return r.Key }
func (r *Allergy) PatientID() int           { return r.DemographicID }
func (r *Allergy) itemKey() cachekey.IntKey { return r.Key }

func (r *Allergy) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	r.Description = trimToNull(r.Description)
	r.Reaction = trimToNull(r.Reaction)
	r.AgeOfOnset = trimToNull(r.AgeOfOnset)
	r.SeverityCode = trimToNull(r.SeverityCode)
	r.OnsetCode = trimToNull(r.OnsetCode)
	r.RegionalIdentifier = trimToNull(r.RegionalIdentifier)
	r.LifeStage = trimToNull(r.LifeStage)
	return validate.Struct(r)
}

// ---------------------------------------------------------------------------
// Drug
// ---------------------------------------------------------------------------

// Drug is a prescription. Text fields are stored as received.
type Drug struct {
	Key                cachekey.IntKey `json:"key"`
	DemographicID      int             `json:"demographic_id"`
	ProviderID         string          `json:"provider_id" validate:"max=16"`
	RxDate             *time.Time      `json:"rx_date,omitempty"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	BrandName          *string         `json:"brand_name,omitempty" validate:"omitempty,max=255"`
	CustomName         *string         `json:"custom_name,omitempty" validate:"omitempty,max=255"`
	GenericName        *string         `json:"generic_name,omitempty" validate:"omitempty,max=255"`
	TakeMin            float32         `json:"take_min"`
	TakeMax            float32         `json:"take_max"`
	FreqCode           *string         `json:"freq_code,omitempty" validate:"omitempty,max=64"`
	Duration           *string         `json:"duration,omitempty" validate:"omitempty,max=64"`
	DurUnit            *string         `json:"dur_unit,omitempty" validate:"omitempty,max=64"`
	Quantity           *string         `json:"quantity,omitempty" validate:"omitempty,max=64"`
	Repeats            int             `json:"repeats"`
	LastRefillDate     *time.Time      `json:"last_refill_date,omitempty"`
	NoSubs             bool            `json:"no_subs"`
	PRN                bool            `json:"prn"`
	Special            *string         `json:"special,omitempty"`
	Archived           bool            `json:"archived"`
	ArchivedReason     *string         `json:"archived_reason,omitempty" validate:"omitempty,max=100"`
	ArchivedDate       *time.Time      `json:"archived_date,omitempty"`
	ATC                *string         `json:"atc,omitempty" validate:"omitempty,max=64"`
	ScriptNo           int             `json:"script_no"`
	RegionalIdentifier *string         `json:"regional_identifier,omitempty" validate:"omitempty,max=64"`
	Unit               *string         `json:"unit,omitempty" validate:"omitempty,max=64"`
	Method             *string         `json:"method,omitempty" validate:"omitempty,max=64"`
	Route              *string         `json:"route,omitempty" validate:"omitempty,max=64"`
	DrugForm           *string         `json:"drug_form,omitempty" validate:"omitempty,max=64"`
	CreateDate         *time.Time      `json:"create_date,omitempty"`
	Dosage             *string         `json:"dosage,omitempty"`
	CustomInstructions bool            `json:"custom_instructions"`
	UnitName           *string         `json:"unit_name,omitempty" validate:"omitempty,max=50"`
	LongTerm           *bool           `json:"long_term,omitempty"`
	PastMed            *bool           `json:"past_med,omitempty"`
	PatientCompliance  *bool           `json:"patient_compliance,omitempty"`
}

func (r *Drug) Kind() Kind               { return KindDrug }
func (r *Drug) CacheKey() cachekey.Key   { return r.Key }
func (r *Drug) PatientID() int           { return r.DemographicID }
func (r *Drug) itemKey() cachekey.IntKey { return r.Key }

func (r *Drug) Normalize() error {
	k, err := cachekey.NewIntKey(r.Key.FacilityID, r.Key.ItemID)
	if err != nil {
		return err
	}
	r.Key = k
	return validate.Struct(r)
}
