// Package trace drives the asynchronous external demographics lookup:
// submitting unverified patients in batches and collecting completed
// responses back into the platform.
package trace

import (
	"time"

	"github.com/ldp-health/platform/pkg/common/models"
)

// TraceStatus records the lookup lifecycle of a single patient. A row exists
// once the patient has been submitted; CompletionDate stays nil until a
// response arrives.
type TraceStatus struct {
	PatientID      string     `gorm:"primaryKey;column:patient_id"`
	SubmittedAt    time.Time  `gorm:"column:submitted_at"`
	CompletionDate *time.Time `gorm:"column:completion_date"`
}

func (TraceStatus) TableName() string {
	return "trace_status"
}

// CompletedTrace is one finished batch collected from the lookup service's
// response inbox.
type CompletedTrace struct {
	TraceID string               `json:"trace_id"`
	Results []models.TraceResult `json:"results"`
}
