package catalog

import (
	"time"

	"github.com/ehr/integrator/internal/domain/cachekey"
)

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func timep(t time.Time) *time.Time { return &t }

func admission(facilityID, itemID, demographicID int) *Admission {
	return &Admission{
		Key:           cachekey.IntKey{FacilityID: facilityID, ItemID: itemID},
		DemographicID: demographicID,
		ProgramID:     10,
	}
}

func measurement(facilityID, itemID, demographicID int) *Measurement {
	return &Measurement{
		Key:           cachekey.IntKey{FacilityID: facilityID, ItemID: itemID},
		DemographicID: demographicID,
		Type:          "BP",
		DataField:     "120/80",
	}
}

func measurementExt(facilityID, itemID, measurementID int) *MeasurementExt {
	return &MeasurementExt{
		Key:           cachekey.IntKey{FacilityID: facilityID, ItemID: itemID},
		MeasurementID: measurementID,
		KeyVal:        "units",
		Val:           "mmHg",
	}
}

func note(facilityID int, uuid string, demographicID int, observed *time.Time) *Note {
	return &Note{
		Key:             cachekey.NoteKey{FacilityID: facilityID, UUID: uuid},
		DemographicID:   demographicID,
		ObservationDate: observed,
		Note:            strp("seen today"),
	}
}

func keysOf(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.CacheKey().String()
	}
	return out
}
