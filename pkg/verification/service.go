// Package verification applies completed trace results to the master patient
// index, promoting or rejecting unverified entries.
package verification

import (
	"context"
	"fmt"

	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/common/models"
)

// PatientStore is the slice of the MPI the verifier needs. Both transitions
// are monotone: they only apply to unverified patients, so replayed events
// change nothing.
type PatientStore interface {
	MarkVerified(ctx context.Context, patientID, tracedNHSNumber string) (bool, error)
	MarkRejected(ctx context.Context, patientIDs []string) (int64, error)
}

// ReplayGuard remembers processed trace ids so a redelivered event is dropped
// before touching the store at all.
type ReplayGuard interface {
	Seen(ctx context.Context, traceID string) (bool, error)
	Record(ctx context.Context, traceID string) error
}

type Service struct {
	store PatientStore
	guard ReplayGuard
}

func NewService(store PatientStore, guard ReplayGuard) *Service {
	return &Service{store: store, guard: guard}
}

// Verify applies one trace-completed event. Confirmed results promote the
// patient to verified, no_match results reject it, anything else is left
// untouched for manual review. The store's monotone transitions make the
// whole operation safe to replay even without the guard.
func (s *Service) Verify(ctx context.Context, completion models.TraceCompletion) (models.VerificationResult, error) {
	result := models.VerificationResult{ProcessedTrace: completion.TraceID}

	if s.guard != nil {
		seen, err := s.guard.Seen(ctx, completion.TraceID)
		if err != nil {
			return result, fmt.Errorf("checking replay guard: %w", err)
		}
		if seen {
			logger.Log.WithField("trace_id", completion.TraceID).Info("skipping already processed trace")
			result.Skipped = len(completion.Results)
			return result, nil
		}
	}

	var toReject []string
	for _, trace := range completion.Results {
		if trace.UniqueReference == "" {
			logger.Log.WithField("trace_id", completion.TraceID).Warn("result without unique reference, skipping")
			result.Skipped++
			continue
		}

		switch trace.Status {
		case models.TraceConfirmed:
			applied, err := s.store.MarkVerified(ctx, trace.UniqueReference, trace.NHSNumber)
			if err != nil {
				return result, fmt.Errorf("verifying patient %s: %w", trace.UniqueReference, err)
			}
			if applied {
				result.Verified++
			} else {
				result.Skipped++
			}
		case models.TraceNoMatch:
			toReject = append(toReject, trace.UniqueReference)
		default:
			// Ambiguous or unknown statuses stay unverified.
			result.Skipped++
		}
	}

	if len(toReject) > 0 {
		rejected, err := s.store.MarkRejected(ctx, toReject)
		if err != nil {
			return result, fmt.Errorf("rejecting patients: %w", err)
		}
		result.Rejected = int(rejected)
		result.Skipped += len(toReject) - int(rejected)
	}

	if s.guard != nil {
		if err := s.guard.Record(ctx, completion.TraceID); err != nil {
			// The monotone store transitions cover a redelivery, so a guard
			// write failure is not worth failing the event over.
			logger.Log.WithError(err).WithField("trace_id", completion.TraceID).Warn("failed to record processed trace")
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"trace_id": completion.TraceID,
		"verified": result.Verified,
		"rejected": result.Rejected,
		"skipped":  result.Skipped,
	}).Info("applied trace completion")

	return result, nil
}
