package trace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/common/models"
	"github.com/ldp-health/platform/pkg/matching"
)

// PatientSource supplies the patients still awaiting external confirmation.
type PatientSource interface {
	FindUnverifiedPatients(ctx context.Context) ([]matching.Patient, error)
}

// StatusStore is the slice of the trace status table the request side needs.
type StatusStore interface {
	FindUntraced(ctx context.Context, patientIDs []string) ([]string, error)
	MarkSubmitted(ctx context.Context, patientIDs []string, submittedAt time.Time) error
}

// Submitter hands a batch of records to the external lookup service.
type Submitter interface {
	AddToBatch(ctx context.Context, records []models.TraceRecord) (string, error)
}

// Reidentifier resolves pseudonym tokens back to their clear values so the
// lookup service receives real demographics.
type Reidentifier interface {
	Reidentify(ctx context.Context, token string) (string, error)
}

// BatchCache correlates a lookup batch id with the patient ids it carried.
type BatchCache interface {
	RememberBatch(ctx context.Context, batchID string, patientIDs []string) error
	BatchPatients(ctx context.Context, batchID string) ([]string, error)
}

// RequestService runs the periodic submission cycle: every unverified patient
// not yet submitted gets sent to the external lookup, exactly once.
type RequestService struct {
	patients  PatientSource
	status    StatusStore
	submitter Submitter
	reid      Reidentifier
	cache     BatchCache
	now       func() time.Time
}

func NewRequestService(patients PatientSource, status StatusStore, submitter Submitter, reid Reidentifier, cache BatchCache) *RequestService {
	return &RequestService{
		patients:  patients,
		status:    status,
		submitter: submitter,
		reid:      reid,
		cache:     cache,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit runs one submission cycle. When nothing qualifies, no external call
// and no status write happens and the returned SubmissionTime is nil. Replays
// are safe: patients already submitted are filtered out by the status table.
func (s *RequestService) Submit(ctx context.Context) (models.TraceSubmission, error) {
	unverified, err := s.patients.FindUnverifiedPatients(ctx)
	if err != nil {
		return models.TraceSubmission{}, fmt.Errorf("loading unverified patients: %w", err)
	}

	unverified = dropDuplicateIDs(unverified)

	ids := make([]string, len(unverified))
	byID := make(map[string]matching.Patient, len(unverified))
	for i, p := range unverified {
		ids[i] = p.PatientID
		byID[p.PatientID] = p
	}

	untraced, err := s.status.FindUntraced(ctx, ids)
	if err != nil {
		return models.TraceSubmission{}, fmt.Errorf("finding untraced patients: %w", err)
	}

	var records []models.TraceRecord
	var submitted []string
	for _, id := range untraced {
		record, err := s.clearRecord(ctx, byID[id])
		if err != nil {
			logger.Log.WithError(err).WithField("patient_id", id).Warn("skipping patient, re-identification failed")
			continue
		}
		if !Eligible(record) {
			continue
		}
		records = append(records, record)
		submitted = append(submitted, id)
	}

	if len(records) == 0 {
		logger.Log.Debug("no patients eligible for tracing this cycle")
		return models.TraceSubmission{PatientIDs: []string{}}, nil
	}

	batchID, err := s.submitter.AddToBatch(ctx, records)
	if err != nil {
		return models.TraceSubmission{}, fmt.Errorf("submitting trace batch: %w", err)
	}

	submissionTime := s.now()
	if err := s.status.MarkSubmitted(ctx, submitted, submissionTime); err != nil {
		return models.TraceSubmission{}, fmt.Errorf("recording submission: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.RememberBatch(ctx, batchID, submitted); err != nil {
			// Correlation falls back to the unique references carried in the
			// response itself.
			logger.Log.WithError(err).WithField("batch_id", batchID).Warn("failed to cache batch correlation")
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"batch_id": batchID,
		"patients": len(submitted),
	}).Info("submitted trace batch")

	return models.TraceSubmission{
		BatchID:        batchID,
		PatientIDs:     submitted,
		SubmissionTime: &submissionTime,
	}, nil
}

// clearRecord builds the lookup-facing record for a patient, resolving any
// pseudonym tokens back to clear values.
func (s *RequestService) clearRecord(ctx context.Context, p matching.Patient) (models.TraceRecord, error) {
	nhsNumber, err := s.clearValue(ctx, p.NHSNumber)
	if err != nil {
		return models.TraceRecord{}, err
	}
	givenName, err := s.clearValue(ctx, p.GivenName)
	if err != nil {
		return models.TraceRecord{}, err
	}
	familyName, err := s.clearValue(ctx, p.FamilyName)
	if err != nil {
		return models.TraceRecord{}, err
	}

	return models.TraceRecord{
		UniqueReference: p.PatientID,
		NHSNumber:       nhsNumber,
		FamilyName:      familyName,
		GivenName:       givenName,
		Gender:          p.Sex,
		DateOfBirth:     p.DateOfBirth,
		Postcode:        p.Postcode,
	}, nil
}

func (s *RequestService) clearValue(ctx context.Context, value string) (string, error) {
	if s.reid == nil || !strings.HasPrefix(value, "p_") {
		return value, nil
	}
	return s.reid.Reidentify(ctx, value)
}

// dropDuplicateIDs removes every patient whose id appears more than once in
// the source. A duplicated id means the source is inconsistent and tracing it
// would double-submit, so the whole id is excluded.
func dropDuplicateIDs(patients []matching.Patient) []matching.Patient {
	counts := make(map[string]int, len(patients))
	for _, p := range patients {
		counts[p.PatientID]++
	}

	out := patients[:0:0]
	for _, p := range patients {
		if counts[p.PatientID] > 1 {
			continue
		}
		out = append(out, p)
	}
	if len(out) != len(patients) {
		logger.Log.WithField("dropped", len(patients)-len(out)).Warn("dropped patients with duplicated ids from trace cycle")
	}
	return out
}
