package matching

import (
	"time"

	"github.com/ldp-health/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// Patient is an MPI entry. Directly identifying columns hold deterministic
// pseudonym tokens; date of birth, postcode and sex stay clear as matching
// signal.
type Patient struct {
	PatientID   string            `gorm:"primaryKey;column:patient_id"`
	NHSNumber   string            `gorm:"column:nhs_number;index"`
	GivenName   string            `gorm:"column:given_name"`
	FamilyName  string            `gorm:"column:family_name"`
	DateOfBirth string            `gorm:"column:date_of_birth"`
	Postcode    string            `gorm:"column:postcode"`
	Sex         string            `gorm:"column:sex"`
	Verified    string            `gorm:"column:verified;index"`
	Attributes  datatypes.JSONMap `gorm:"column:attributes"`
	CreatedAt   time.Time         `gorm:"column:created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at"`
}

func (Patient) TableName() string {
	return "patients"
}

// Record converts a stored patient back to the batch row shape.
func (p Patient) Record() models.PatientRecord {
	return models.PatientRecord{
		NHSNumber:   p.NHSNumber,
		FirstName:   p.GivenName,
		LastName:    p.FamilyName,
		DateOfBirth: p.DateOfBirth,
		Postcode:    p.Postcode,
		Sex:         p.Sex,
		PatientIDs:  []string{p.PatientID},
	}
}

func fromRecord(rec models.PatientRecord, verified string) Patient {
	return Patient{
		NHSNumber:   rec.NHSNumber,
		GivenName:   rec.FirstName,
		FamilyName:  rec.LastName,
		DateOfBirth: rec.DateOfBirth,
		Postcode:    rec.Postcode,
		Sex:         rec.Sex,
		Verified:    verified,
	}
}

// Row outcomes for the batch report.
const (
	OutcomeUnsearchable = "unsearchable"
	OutcomeMatched      = "matched"
	OutcomeCreated      = "created"
)

type RowResult struct {
	Outcome     string   `json:"outcome"`
	PatientIDs  []string `json:"patient_ids"`
	OutOfCohort bool     `json:"out_of_cohort,omitempty"`
}

// Report lets callers distinguish "no identifying data" from "no match"
// instead of both collapsing into an empty id list.
type Report struct {
	Rows            []RowResult        `json:"rows"`
	Counts          models.MatchCounts `json:"counts"`
	MissingRequired int                `json:"missing_required"`
	OutOfCohort     int                `json:"out_of_cohort"`
}
