package cachekey

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrInvalidKey is returned when a key component is absent or out of bounds.
var ErrInvalidKey = errors.New("invalid cache key")

const (
	MaxStringItemIDLen = 16
	MaxLabResultIDLen  = 64
	MaxNoteUUIDLen     = 50
	MaxIssueCodeLen    = 64
)

// Key identifies a record cached from a contributing facility. Every key
// carries the facility that owns the record, so ids minted independently by
// different facilities never collide.
//
// All implementations are comparable structs and can be used as map keys.
type Key interface {
	SourceFacility() int
	String() string
}

// Equal reports whether a and b are the same key. Keys of different shapes
// are never equal.
func Equal(a, b Key) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// Hash returns a stable hash over every component of k. Equal keys hash
// equally.
func Hash(k Key) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	writeInt := func(v int) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeStr := func(s string) {
		writeInt(len(s))
		h.Write([]byte(s))
	}

	switch v := k.(type) {
	case IntKey:
		writeStr("int")
		writeInt(v.FacilityID)
		writeInt(v.ItemID)
	case StringKey:
		writeStr("string")
		writeInt(v.FacilityID)
		writeStr(v.ItemID)
	case LabResultKey:
		writeStr("lab")
		writeInt(v.FacilityID)
		writeStr(v.LabResultID)
	case NoteKey:
		writeStr("note")
		writeInt(v.FacilityID)
		writeStr(v.UUID)
	case IssueKey:
		writeStr("issue")
		writeInt(v.FacilityID)
		writeInt(v.DemographicID)
		writeStr(string(v.CodeType))
		writeStr(v.IssueCode)
	case nil:
		return 0
	default:
		writeStr(k.String())
	}
	return h.Sum64()
}

// ---------------------------------------------------------------------------
// IntKey
// ---------------------------------------------------------------------------

// IntKey pairs a facility with an integer item id local to that facility.
type IntKey struct {
	FacilityID int `json:"facility_id" validate:"gt=0"`
	ItemID     int `json:"item_id" validate:"gt=0"`
}

// NewIntKey builds an IntKey. Both ids must be positive.
func NewIntKey(facilityID, itemID int) (IntKey, error) {
	if err := checkFacility(facilityID); err != nil {
		return IntKey{}, err
	}
	if itemID <= 0 {
		return IntKey{}, fmt.Errorf("%w: item id must be positive, got %d", ErrInvalidKey, itemID)
	}
	return IntKey{FacilityID: facilityID, ItemID: itemID}, nil
}

func (k IntKey) SourceFacility() int { return k.FacilityID }

func (k IntKey) String() string {
	return strconv.Itoa(k.FacilityID) + ":" + strconv.Itoa(k.ItemID)
}

// CompareItemID orders two IntKeys by item id alone. Keys from different
// facilities with the same item id compare as 0 even though they are not
// Equal.
func CompareItemID(a, b IntKey) int {
	return cmp.Compare(a.ItemID, b.ItemID)
}

// ParseIntKey parses the "{facility}:{item}" form produced by String.
func ParseIntKey(s string) (IntKey, error) {
	f, rest, err := splitFacility(s)
	if err != nil {
		return IntKey{}, err
	}
	item, err := strconv.Atoi(rest)
	if err != nil {
		return IntKey{}, fmt.Errorf("%w: item id %q is not an integer", ErrInvalidKey, rest)
	}
	return NewIntKey(f, item)
}

// ---------------------------------------------------------------------------
// StringKey
// ---------------------------------------------------------------------------

// StringKey pairs a facility with a short textual item id.
type StringKey struct {
	FacilityID int    `json:"facility_id" validate:"gt=0"`
	ItemID     string `json:"item_id" validate:"required,max=16"`
}

// NewStringKey trims itemID and requires 1..16 characters.
func NewStringKey(facilityID int, itemID string) (StringKey, error) {
	if err := checkFacility(facilityID); err != nil {
		return StringKey{}, err
	}
	id, err := boundedText("item id", itemID, MaxStringItemIDLen)
	if err != nil {
		return StringKey{}, err
	}
	return StringKey{FacilityID: facilityID, ItemID: id}, nil
}

func (k StringKey) SourceFacility() int { return k.FacilityID }

func (k StringKey) String() string {
	return strconv.Itoa(k.FacilityID) + ":" + k.ItemID
}

func ParseStringKey(s string) (StringKey, error) {
	f, rest, err := splitFacility(s)
	if err != nil {
		return StringKey{}, err
	}
	return NewStringKey(f, rest)
}

// ---------------------------------------------------------------------------
// LabResultKey
// ---------------------------------------------------------------------------

// LabResultKey identifies a lab result by the facility's lab result id.
type LabResultKey struct {
	FacilityID  int    `json:"facility_id" validate:"gt=0"`
	LabResultID string `json:"lab_result_id" validate:"required,max=64"`
}

func NewLabResultKey(facilityID int, labResultID string) (LabResultKey, error) {
	if err := checkFacility(facilityID); err != nil {
		return LabResultKey{}, err
	}
	id, err := boundedText("lab result id", labResultID, MaxLabResultIDLen)
	if err != nil {
		return LabResultKey{}, err
	}
	return LabResultKey{FacilityID: facilityID, LabResultID: id}, nil
}

func (k LabResultKey) SourceFacility() int { return k.FacilityID }

func (k LabResultKey) String() string {
	return strconv.Itoa(k.FacilityID) + ":" + k.LabResultID
}

func ParseLabResultKey(s string) (LabResultKey, error) {
	f, rest, err := splitFacility(s)
	if err != nil {
		return LabResultKey{}, err
	}
	return NewLabResultKey(f, rest)
}

// ---------------------------------------------------------------------------
// NoteKey
// ---------------------------------------------------------------------------

// NoteKey identifies a clinical note by the uuid the facility assigned it.
type NoteKey struct {
	FacilityID int    `json:"facility_id" validate:"gt=0"`
	UUID       string `json:"uuid" validate:"required,max=50"`
}

func NewNoteKey(facilityID int, uuid string) (NoteKey, error) {
	if err := checkFacility(facilityID); err != nil {
		return NoteKey{}, err
	}
	id, err := boundedText("note uuid", uuid, MaxNoteUUIDLen)
	if err != nil {
		return NoteKey{}, err
	}
	return NoteKey{FacilityID: facilityID, UUID: id}, nil
}

func (k NoteKey) SourceFacility() int { return k.FacilityID }

func (k NoteKey) String() string {
	return strconv.Itoa(k.FacilityID) + ":" + k.UUID
}

func ParseNoteKey(s string) (NoteKey, error) {
	f, rest, err := splitFacility(s)
	if err != nil {
		return NoteKey{}, err
	}
	return NewNoteKey(f, rest)
}

// ---------------------------------------------------------------------------
// IssueKey
// ---------------------------------------------------------------------------

// IssueKey identifies a coded issue attached to a patient at a facility.
type IssueKey struct {
	FacilityID    int      `json:"facility_id" validate:"gt=0"`
	DemographicID int      `json:"demographic_id" validate:"gt=0"`
	CodeType      CodeType `json:"code_type" validate:"required"`
	IssueCode     string   `json:"issue_code" validate:"required,max=64"`
}

func NewIssueKey(facilityID, demographicID int, codeType CodeType, issueCode string) (IssueKey, error) {
	if err := checkFacility(facilityID); err != nil {
		return IssueKey{}, err
	}
	if demographicID <= 0 {
		return IssueKey{}, fmt.Errorf("%w: demographic id must be positive, got %d", ErrInvalidKey, demographicID)
	}
	if !codeType.Valid() {
		return IssueKey{}, fmt.Errorf("%w: unknown code type %q", ErrInvalidKey, codeType)
	}
	code, err := boundedText("issue code", issueCode, MaxIssueCodeLen)
	if err != nil {
		return IssueKey{}, err
	}
	return IssueKey{
		FacilityID:    facilityID,
		DemographicID: demographicID,
		CodeType:      codeType,
		IssueCode:     code,
	}, nil
}

func (k IssueKey) SourceFacility() int { return k.FacilityID }

func (k IssueKey) String() string {
	return strconv.Itoa(k.FacilityID) + ":" + strconv.Itoa(k.DemographicID) + ":" +
		string(k.CodeType) + ":" + k.IssueCode
}

// ParseIssueKey parses "{facility}:{demographic}:{codeType}:{issueCode}".
// The issue code may itself contain colons.
func ParseIssueKey(s string) (IssueKey, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return IssueKey{}, fmt.Errorf("%w: %q is not an issue key", ErrInvalidKey, s)
	}
	f, err := strconv.Atoi(parts[0])
	if err != nil {
		return IssueKey{}, fmt.Errorf("%w: facility id %q is not an integer", ErrInvalidKey, parts[0])
	}
	demo, err := strconv.Atoi(parts[1])
	if err != nil {
		return IssueKey{}, fmt.Errorf("%w: demographic id %q is not an integer", ErrInvalidKey, parts[1])
	}
	return NewIssueKey(f, demo, CodeType(parts[2]), parts[3])
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func checkFacility(id int) error {
	if id <= 0 {
		return fmt.Errorf("%w: facility id must be positive, got %d", ErrInvalidKey, id)
	}
	return nil
}

func boundedText(field, v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidKey, field)
	}
	if n := utf8.RuneCountInString(v); n > max {
		return "", fmt.Errorf("%w: %s is %d characters, max %d", ErrInvalidKey, field, n, max)
	}
	return v, nil
}

func splitFacility(s string) (int, string, error) {
	head, rest, ok := strings.Cut(s, ":")
	if !ok {
		return 0, "", fmt.Errorf("%w: %q has no facility prefix", ErrInvalidKey, s)
	}
	f, err := strconv.Atoi(head)
	if err != nil {
		return 0, "", fmt.Errorf("%w: facility id %q is not an integer", ErrInvalidKey, head)
	}
	return f, rest, nil
}
