package catalog

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ehr/integrator/internal/domain/cachekey"
)

var (
	ErrNotFound         = errors.New("cached record not found")
	ErrUnknownKind      = errors.New("unknown record kind")
	ErrFacilityMismatch = errors.New("record does not belong to the source facility")
	ErrPatientMismatch  = errors.New("record does not belong to the patient")
	ErrNotPerPatient    = errors.New("record kind is not held per patient")
)

// Kind names a cached record type.
type Kind string

const (
	KindAdmission      Kind = "admission"
	KindLabResult      Kind = "lab_result"
	KindEformData      Kind = "eform_data"
	KindEformValue     Kind = "eform_value"
	KindDxResearch     Kind = "dx_research"
	KindMeasurement    Kind = "measurement"
	KindMeasurementExt Kind = "measurement_ext"
	KindNote           Kind = "note"
	KindIssue          Kind = "issue"
	KindPrevention     Kind = "prevention"
	KindAppointment    Kind = "appointment"
	KindAllergy        Kind = "allergy"
	KindDrug           Kind = "drug"
)

type kindInfo struct {
	newRecord func() Record
	parseKey  func(string) (cachekey.Key, error)
}

func intKey(s string) (cachekey.Key, error) { return cachekey.ParseIntKey(s) }

var kinds = map[Kind]kindInfo{
	KindAdmission:      {func() Record { return &Admission{} }, intKey},
	KindEformData:      {func() Record { return &EformData{} }, intKey},
	KindEformValue:     {func() Record { return &EformValue{} }, intKey},
	KindDxResearch:     {func() Record { return &DxResearch{} }, intKey},
	KindMeasurement:    {func() Record { return &Measurement{} }, intKey},
	KindMeasurementExt: {func() Record { return &MeasurementExt{} }, intKey},
	KindPrevention:     {func() Record { return &Prevention{} }, intKey},
	KindAppointment:    {func() Record { return &Appointment{} }, intKey},
	KindAllergy:        {func() Record { return &Allergy{} }, intKey},
	KindDrug:           {func() Record { return &Drug{} }, intKey},
	KindLabResult: {func() Record { return &LabResult{} }, func(s string) (cachekey.Key, error) {
		return cachekey.ParseLabResultKey(s)
	}},
	KindNote: {func() Record { return &Note{} }, func(s string) (cachekey.Key, error) {
		return cachekey.ParseNoteKey(s)
	}},
	KindIssue: {func() Record { return &Issue{} }, func(s string) (cachekey.Key, error) {
		return cachekey.ParseIssueKey(s)
	}},
}

// unattached kinds carry no demographic id of their own, so they cannot be
// replaced as one patient's set.
var unattached = map[Kind]bool{KindMeasurementExt: true}

// PerPatient reports whether records of k are indexed by patient.
func (k Kind) PerPatient() bool { return !unattached[k] }

// Kinds lists every registered kind in name order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// ParseKey parses a key string in the shape used by kind.
func (k Kind) ParseKey(s string) (cachekey.Key, error) {
	info, ok := kinds[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return info.parseKey(s)
}

// Decode unmarshals a JSON payload into a record of kind. The record is not
// normalized.
func Decode(kind Kind, data []byte) (Record, error) {
	info, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	rec := info.newRecord()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return rec, nil
}

// itemOrdered is implemented by kinds with a natural order by local item id.
type itemOrdered interface {
	itemKey() cachekey.IntKey
}

// Sort orders records of one kind: by local item id where the kind has a
// natural order, notes by observation date, anything else by key string.
func Sort(recs []Record) {
	slices.SortStableFunc(recs, compareRecords)
}

func compareRecords(a, b Record) int {
	if ai, ok := a.(itemOrdered); ok {
		if bi, ok := b.(itemOrdered); ok {
			return cachekey.CompareItemID(ai.itemKey(), bi.itemKey())
		}
	}
	if an, ok := a.(*Note); ok {
		if bn, ok := b.(*Note); ok {
			return compareTimes(an.ObservationDate, bn.ObservationDate)
		}
	}
	return cmp.Compare(a.CacheKey().String(), b.CacheKey().String())
}

// compareTimes puts nil first.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}
