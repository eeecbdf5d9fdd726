package matching

import (
	"testing"
	"time"

	"github.com/ldp-health/platform/pkg/common/models"
	"github.com/ldp-health/platform/pkg/feed"
)

func testNormaliser() *Normaliser {
	n := NewNormaliser(feed.Config{
		Name:           "test",
		DateLayout:     "02/01/2006",
		SexValues:      []string{"male", "female", "other", "unknown"},
		RequiredFields: []string{"nhs_number", "dob"},
	})
	n.now = func() time.Time { return time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC) }
	return n
}

func TestNormaliseCleansFields(t *testing.T) {
	n := testNormaliser()
	batch := []models.PatientRecord{{
		NHSNumber:   "943 476 5919",
		FirstName:   "  jane ",
		LastName:    "DOE",
		DateOfBirth: "15/01/1980",
		Postcode:    "sw1a1aa",
		Sex:         " Female ",
	}}

	out := n.Normalise(batch)
	rec := out[0]
	if rec.NHSNumber != "9434765919" {
		t.Fatalf("unexpected nhs number %q", rec.NHSNumber)
	}
	if rec.FirstName != "Jane" || rec.LastName != "Doe" {
		t.Fatalf("unexpected names %q %q", rec.FirstName, rec.LastName)
	}
	if rec.DateOfBirth != "1980-01-15" {
		t.Fatalf("unexpected dob %q", rec.DateOfBirth)
	}
	if rec.Postcode != "SW1A 1AA" {
		t.Fatalf("unexpected postcode %q", rec.Postcode)
	}
	if rec.Sex != "female" {
		t.Fatalf("unexpected sex %q", rec.Sex)
	}
}

func TestNormaliseClearsInvalidIdentifiers(t *testing.T) {
	n := testNormaliser()
	batch := []models.PatientRecord{{
		NHSNumber:   "9434765918", // wrong check digit
		DateOfBirth: "1980-01-15", // wrong layout for this feed
		Postcode:    "not-a-postcode",
		Sex:         "banana",
	}}

	rec := n.Normalise(batch)[0]
	if rec.NHSNumber != "" || rec.DateOfBirth != "" || rec.Postcode != "" || rec.Sex != "" {
		t.Fatalf("expected invalid fields cleared, got %+v", rec)
	}
}

func TestNormaliseDoesNotAliasInput(t *testing.T) {
	n := testNormaliser()
	batch := []models.PatientRecord{{NHSNumber: "943 476 5919", PatientIDs: []string{"keep"}}}

	out := n.Normalise(batch)
	out[0].NHSNumber = "changed"
	out[0].PatientIDs[0] = "changed"

	if batch[0].NHSNumber != "943 476 5919" {
		t.Fatal("input record was mutated")
	}
	if batch[0].PatientIDs[0] != "keep" {
		t.Fatal("input patient ids were aliased")
	}
}

func TestRequiredFieldsPresent(t *testing.T) {
	n := testNormaliser()
	complete := models.PatientRecord{NHSNumber: "9434765919", DateOfBirth: "1980-01-15"}
	if !n.RequiredFieldsPresent(complete) {
		t.Fatal("expected required fields present")
	}
	partial := models.PatientRecord{DateOfBirth: "1980-01-15", Postcode: "SW1A 1AA"}
	if n.RequiredFieldsPresent(partial) {
		t.Fatal("expected missing nhs_number to be reported")
	}
}
