package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/common/models"
)

// Inbox is the collection side of the lookup service's async protocol.
type Inbox interface {
	CollectResponses(ctx context.Context) ([]CompletedTrace, error)
	Acknowledge(ctx context.Context, traceID string) error
}

// CompletionStore is the slice of the trace status table the response side
// needs.
type CompletionStore interface {
	MarkCompleted(ctx context.Context, patientIDs []string, completedAt time.Time) (int64, error)
}

// Publisher emits platform events. The concrete producer handles dead-letter
// fallback itself.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

const (
	EventTraceCompleted = "trace-completed"
	eventSource         = "trace-response-service"
)

// ResponseService runs the periodic collection cycle: completed batches are
// pulled from the inbox, stamped complete and published for verification.
type ResponseService struct {
	inbox     Inbox
	status    CompletionStore
	publisher Publisher
	cache     BatchCache
	now       func() time.Time
}

func NewResponseService(inbox Inbox, status CompletionStore, publisher Publisher, cache BatchCache) *ResponseService {
	return &ResponseService{
		inbox:     inbox,
		status:    status,
		publisher: publisher,
		cache:     cache,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Poll runs one collection cycle and returns the completions it processed.
// Each response is published before its status is stamped and the inbox
// acknowledged, so a failure at any point leaves the response in the inbox
// for the next cycle. Downstream consumers dedupe on trace id.
func (s *ResponseService) Poll(ctx context.Context) ([]models.TraceCompletion, error) {
	responses, err := s.inbox.CollectResponses(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting responses: %w", err)
	}

	var processed []models.TraceCompletion
	for _, response := range responses {
		completion, err := s.process(ctx, response)
		if err != nil {
			return processed, fmt.Errorf("processing trace %s: %w", response.TraceID, err)
		}
		processed = append(processed, completion)
	}

	if len(processed) > 0 {
		logger.Log.WithField("completions", len(processed)).Info("processed trace responses")
	}
	return processed, nil
}

func (s *ResponseService) process(ctx context.Context, response CompletedTrace) (models.TraceCompletion, error) {
	ids, err := s.resolvePatients(ctx, response)
	if err != nil {
		return models.TraceCompletion{}, err
	}

	completion := models.TraceCompletion{
		TraceID:     response.TraceID,
		PatientIDs:  ids,
		Results:     response.Results,
		CompletedAt: s.now(),
	}

	data, err := eventData(completion)
	if err != nil {
		return models.TraceCompletion{}, err
	}
	if err := s.publisher.PublishEvent(ctx, EventTraceCompleted, eventSource, data); err != nil {
		return models.TraceCompletion{}, fmt.Errorf("publishing completion: %w", err)
	}

	updated, err := s.status.MarkCompleted(ctx, ids, completion.CompletedAt)
	if err != nil {
		return models.TraceCompletion{}, fmt.Errorf("marking completion: %w", err)
	}
	if updated < int64(len(ids)) {
		logger.Log.WithFields(map[string]interface{}{
			"trace_id": response.TraceID,
			"expected": len(ids),
			"updated":  updated,
		}).Warn("some patients were already marked complete")
	}

	if err := s.inbox.Acknowledge(ctx, response.TraceID); err != nil {
		return models.TraceCompletion{}, fmt.Errorf("acknowledging response: %w", err)
	}

	return completion, nil
}

// resolvePatients maps a response back to patient ids, preferring the unique
// references carried on each result and falling back to the cached batch
// membership when the lookup service omitted them.
func (s *ResponseService) resolvePatients(ctx context.Context, response CompletedTrace) ([]string, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, result := range response.Results {
		if result.UniqueReference == "" || seen[result.UniqueReference] {
			continue
		}
		seen[result.UniqueReference] = true
		ids = append(ids, result.UniqueReference)
	}
	if len(ids) > 0 {
		return ids, nil
	}

	if s.cache == nil {
		return nil, fmt.Errorf("response carries no references and no batch cache is configured")
	}
	cached, err := s.cache.BatchPatients(ctx, response.TraceID)
	if err != nil {
		return nil, fmt.Errorf("resolving batch membership: %w", err)
	}
	if len(cached) == 0 {
		return nil, fmt.Errorf("no cached membership for batch %s", response.TraceID)
	}
	return cached, nil
}

func eventData(completion models.TraceCompletion) (map[string]interface{}, error) {
	raw, err := json.Marshal(completion)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
