package matching

import (
	"time"

	"github.com/ldp-health/platform/pkg/common/models"
	"github.com/ldp-health/platform/pkg/feed"
	"github.com/ldp-health/platform/pkg/validate"
)

// Normaliser standardises a feed batch ahead of matching. Invalid identifiers
// are cleared, never rejected; partial rows are legitimate candidates.
type Normaliser struct {
	feed feed.Config
	now  func() time.Time
}

func NewNormaliser(cfg feed.Config) *Normaliser {
	return &Normaliser{feed: cfg, now: time.Now}
}

// Normalise returns a cleaned copy of the batch. The input slice and its rows
// are never mutated.
func (n *Normaliser) Normalise(batch []models.PatientRecord) []models.PatientRecord {
	out := make([]models.PatientRecord, len(batch))
	for i, rec := range batch {
		out[i] = n.normaliseRecord(rec)
	}
	return out
}

func (n *Normaliser) normaliseRecord(rec models.PatientRecord) models.PatientRecord {
	cleaned := rec
	cleaned.NHSNumber = validate.CleanNHSNumber(rec.NHSNumber)
	cleaned.Postcode = validate.CleanPostcode(rec.Postcode)
	cleaned.FirstName = validate.CleanName(rec.FirstName)
	cleaned.LastName = validate.CleanName(rec.LastName)
	cleaned.DateOfBirth = validate.CleanDateOfBirth(rec.DateOfBirth, n.feed.DateLayout, n.now())

	sex := validate.CleanSex(rec.Sex)
	if !validate.IsValidGender(sex, n.feed.SexValues) {
		sex = ""
	}
	cleaned.Sex = sex

	if rec.PatientIDs != nil {
		cleaned.PatientIDs = append([]string(nil), rec.PatientIDs...)
	}
	return cleaned
}

// RequiredFieldsPresent reports whether every field the feed marks required
// survived cleaning. Used for logging only.
func (n *Normaliser) RequiredFieldsPresent(rec models.PatientRecord) bool {
	for _, field := range n.feed.RequiredFields {
		switch field {
		case "nhs_number":
			if rec.NHSNumber == "" {
				return false
			}
		case "dob":
			if rec.DateOfBirth == "" {
				return false
			}
		case "postcode":
			if rec.Postcode == "" {
				return false
			}
		case "first_name":
			if rec.FirstName == "" {
				return false
			}
		case "last_name":
			if rec.LastName == "" {
				return false
			}
		case "sex":
			if rec.Sex == "" {
				return false
			}
		}
	}
	return true
}
