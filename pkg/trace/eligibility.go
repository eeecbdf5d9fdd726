package trace

import "github.com/ldp-health/platform/pkg/common/models"

// Eligible reports whether a record carries enough demographics for the
// external lookup service to attempt a trace: either an NHS number with a
// date of birth, or a full demographic set without one.
func Eligible(rec models.TraceRecord) bool {
	if rec.NHSNumber != "" && rec.DateOfBirth != "" {
		return true
	}
	return rec.DateOfBirth != "" && rec.Postcode != "" &&
		rec.GivenName != "" && rec.FamilyName != "" && rec.Gender != ""
}
