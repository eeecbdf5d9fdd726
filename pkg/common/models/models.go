package models

import "time"

// Verification states of an MPI patient entry.
const (
	VerificationUnverified = "unverified"
	VerificationVerified   = "verified"
	VerificationRejected   = "rejected"
)

// Trace result statuses as reported by the external lookup service.
const (
	TraceConfirmed = "confirmed"
	TraceNoMatch   = "no_match"
	TraceAmbiguous = "ambiguous"
)

// PatientRecord is one row of an incoming feed batch. Fields are empty when
// the feed did not supply them. PatientIDs is nil before matching, empty when
// the row could not be matched or searched, and non-empty otherwise.
type PatientRecord struct {
	NHSNumber   string `json:"nhs_number,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DateOfBirth string `json:"dob,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	Sex         string `json:"sex,omitempty"`

	PatientIDs []string `json:"patient_ids"`
}

// HasDemographics reports whether any searchable demographic field is set.
func (r PatientRecord) HasDemographics() bool {
	return r.NHSNumber != "" || r.FirstName != "" || r.LastName != "" ||
		r.DateOfBirth != "" || r.Postcode != "" || r.Sex != ""
}

// MatchRequest is the body of POST /api/v1/match.
type MatchRequest struct {
	Patients []PatientRecord `json:"patients"`
}

// MatchCounts summarises match multiplicity across a batch.
type MatchCounts struct {
	Total    int `json:"total"`
	Single   int `json:"single"`
	Multiple int `json:"multiple"`
	Zero     int `json:"zero"`
}

// MatchResponse echoes the batch back with patient_ids resolved per row.
type MatchResponse struct {
	Message   string          `json:"message"`
	RequestID string          `json:"request_id,omitempty"`
	Counts    MatchCounts     `json:"counts"`
	Data      []PatientRecord `json:"data"`
}

// TraceRecord is one row of a batch submitted to the external demographics
// lookup service. Column names follow the lookup service's data dictionary;
// UniqueReference carries our patient id so responses can be correlated.
type TraceRecord struct {
	UniqueReference string `json:"unique_reference"`
	NHSNumber       string `json:"nhs_no,omitempty"`
	FamilyName      string `json:"family_name,omitempty"`
	GivenName       string `json:"given_name,omitempty"`
	Gender          string `json:"gender,omitempty"`
	DateOfBirth     string `json:"date_of_birth,omitempty"`
	Postcode        string `json:"postcode,omitempty"`
}

// TraceResult is the outcome for a single submitted record.
type TraceResult struct {
	UniqueReference string `json:"unique_reference"`
	Status          string `json:"status"`
	NHSNumber       string `json:"nhs_no,omitempty"`
}

// TraceSubmission reports what a submission cycle sent. SubmissionTime is nil
// when there was nothing to submit and no external call was made.
type TraceSubmission struct {
	BatchID        string     `json:"batch_id,omitempty"`
	PatientIDs     []string   `json:"patient_ids"`
	SubmissionTime *time.Time `json:"submission_time"`
}

// TraceCompletion is the payload of a trace-completed event.
type TraceCompletion struct {
	TraceID     string        `json:"trace_id"`
	PatientIDs  []string      `json:"patient_ids"`
	Results     []TraceResult `json:"results"`
	CompletedAt time.Time     `json:"completed_at"`
}

// VerificationResult is returned after a trace-completed event is applied.
type VerificationResult struct {
	ProcessedTrace string `json:"processed_trace"`
	Verified       int    `json:"verified"`
	Rejected       int    `json:"rejected"`
	Skipped        int    `json:"skipped"`
}

// Event is the envelope for all bus messages.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // trace-submitted, trace-completed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
