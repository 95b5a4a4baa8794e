package consent

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehr/integrator/internal/domain/cachekey"
)

var (
	ErrNotFound      = errors.New("consent record not found")
	ErrInvalidStatus = errors.New("invalid consent status")
)

// Status is the patient's standing consent. The zero value means no
// preference has been recorded and is treated as not given.
type Status string

const (
	StatusUnset   Status = ""
	StatusGiven   Status = "GIVEN"
	StatusRevoked Status = "REVOKED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusUnset, StatusGiven, StatusRevoked:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Record is one patient's sharing preference at one facility. Key.ItemID
// holds the patient's demographic id at Key.FacilityID.
type Record struct {
	Key                     cachekey.IntKey `json:"key"`
	CreatedDate             time.Time       `json:"created_date"`
	Status                  Status          `json:"status"`
	Expiry                  *time.Time      `json:"expiry,omitempty"`
	ExcludeMentalHealthData bool            `json:"exclude_mental_health_data"`
	// ShareOverrides maps destination facility id to an explicit decision.
	// A missing entry means share.
	ShareOverrides map[int]bool `json:"share_overrides,omitempty"`
}

// NewRecord returns an empty preference for a patient at a facility.
func NewRecord(facilityID, demographicID int) (*Record, error) {
	key, err := cachekey.NewIntKey(facilityID, demographicID)
	if err != nil {
		return nil, err
	}
	return &Record{Key: key, ShareOverrides: map[int]bool{}}, nil
}

func (r *Record) FacilityID() int    { return r.Key.FacilityID }
func (r *Record) DemographicID() int { return r.Key.ItemID }

// SetOverride records an explicit decision for one destination facility.
func (r *Record) SetOverride(destinationFacilityID int, allowed bool) {
	if r.ShareOverrides == nil {
		r.ShareOverrides = map[int]bool{}
	}
	r.ShareOverrides[destinationFacilityID] = allowed
}

// ClearOverride restores the default for one destination facility.
func (r *Record) ClearOverride(destinationFacilityID int) {
	delete(r.ShareOverrides, destinationFacilityID)
}

func (r *Record) clone() *Record {
	cp := *r
	if r.Expiry != nil {
		t := *r.Expiry
		cp.Expiry = &t
	}
	cp.ShareOverrides = make(map[int]bool, len(r.ShareOverrides))
	for k, v := range r.ShareOverrides {
		cp.ShareOverrides[k] = v
	}
	return &cp
}

// AllowedToShare reports whether rec permits forwarding the patient's data
// to destinationFacilityID at now. The checks run in order and stop at the
// first that decides:
//
//  1. status other than GIVEN denies;
//  2. an expiry strictly before now denies;
//  3. an override for the destination decides; no override allows.
//
// ExcludeMentalHealthData is not consulted.
func AllowedToShare(rec *Record, destinationFacilityID int, now time.Time) bool {
	if rec == nil || rec.Status != StatusGiven {
		return false
	}
	if rec.Expiry != nil && rec.Expiry.Before(now) {
		return false
	}
	allowed, ok := rec.ShareOverrides[destinationFacilityID]
	if !ok {
		return true
	}
	return allowed
}

// Decision is the outcome of evaluating a patient's consent for one
// destination. ExcludeMentalHealthData is a content filter for the caller
// to apply to whatever is shared.
type Decision struct {
	Allowed                 bool `json:"allowed"`
	ExcludeMentalHealthData bool `json:"exclude_mental_health_data"`
}

// Evaluate pairs AllowedToShare with the record's mental health flag.
func Evaluate(rec *Record, destinationFacilityID int, now time.Time) Decision {
	if rec == nil {
		return Decision{}
	}
	return Decision{
		Allowed:                 AllowedToShare(rec, destinationFacilityID, now),
		ExcludeMentalHealthData: rec.ExcludeMentalHealthData,
	}
}
