package verification

import (
	"context"
	"testing"
	"time"

	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/common/models"
)

func init() {
	logger.Init()
}

// memoryStore mimics the MPI's monotone transitions.
type memoryStore struct {
	states    map[string]string
	tracedNHS map[string]string
}

func newMemoryStore(ids ...string) *memoryStore {
	s := &memoryStore{states: map[string]string{}, tracedNHS: map[string]string{}}
	for _, id := range ids {
		s.states[id] = models.VerificationUnverified
	}
	return s
}

func (s *memoryStore) MarkVerified(_ context.Context, patientID, tracedNHSNumber string) (bool, error) {
	if s.states[patientID] != models.VerificationUnverified {
		return false, nil
	}
	s.states[patientID] = models.VerificationVerified
	if tracedNHSNumber != "" {
		s.tracedNHS[patientID] = tracedNHSNumber
	}
	return true, nil
}

func (s *memoryStore) MarkRejected(_ context.Context, patientIDs []string) (int64, error) {
	var n int64
	for _, id := range patientIDs {
		if s.states[id] == models.VerificationUnverified {
			s.states[id] = models.VerificationRejected
			n++
		}
	}
	return n, nil
}

type memoryGuard struct {
	seen map[string]bool
}

func (g *memoryGuard) Seen(_ context.Context, traceID string) (bool, error) {
	return g.seen[traceID], nil
}

func (g *memoryGuard) Record(_ context.Context, traceID string) error {
	g.seen[traceID] = true
	return nil
}

func completion(results ...models.TraceResult) models.TraceCompletion {
	return models.TraceCompletion{
		TraceID:     "batch-1",
		Results:     results,
		CompletedAt: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
}

func TestVerifyAppliesStatuses(t *testing.T) {
	store := newMemoryStore("a", "b", "c")
	svc := NewService(store, nil)

	result, err := svc.Verify(context.Background(), completion(
		models.TraceResult{UniqueReference: "a", Status: models.TraceConfirmed, NHSNumber: "9434765919"},
		models.TraceResult{UniqueReference: "b", Status: models.TraceNoMatch},
		models.TraceResult{UniqueReference: "c", Status: models.TraceAmbiguous},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Verified != 1 || result.Rejected != 1 || result.Skipped != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if store.states["a"] != models.VerificationVerified {
		t.Fatalf("expected a verified, got %q", store.states["a"])
	}
	if store.tracedNHS["a"] != "9434765919" {
		t.Fatalf("expected traced nhs number recorded, got %q", store.tracedNHS["a"])
	}
	if store.states["b"] != models.VerificationRejected {
		t.Fatalf("expected b rejected, got %q", store.states["b"])
	}
	if store.states["c"] != models.VerificationUnverified {
		t.Fatalf("ambiguous result must leave c unverified, got %q", store.states["c"])
	}
}

func TestVerifyIsMonotone(t *testing.T) {
	store := newMemoryStore("a")
	store.states["a"] = models.VerificationVerified
	svc := NewService(store, nil)

	result, err := svc.Verify(context.Background(), completion(
		models.TraceResult{UniqueReference: "a", Status: models.TraceNoMatch},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rejected != 0 || result.Skipped != 1 {
		t.Fatalf("verified patient must not be rejected, got %+v", result)
	}
	if store.states["a"] != models.VerificationVerified {
		t.Fatalf("state regressed to %q", store.states["a"])
	}
}

func TestVerifyReplayedEventIsDropped(t *testing.T) {
	store := newMemoryStore("a")
	guard := &memoryGuard{seen: map[string]bool{}}
	svc := NewService(store, guard)

	event := completion(models.TraceResult{UniqueReference: "a", Status: models.TraceConfirmed})
	if _, err := svc.Verify(context.Background(), event); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	replay, err := svc.Verify(context.Background(), event)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.Verified != 0 || replay.Skipped != 1 {
		t.Fatalf("replay must apply nothing, got %+v", replay)
	}
}

func TestVerifySkipsResultsWithoutReference(t *testing.T) {
	store := newMemoryStore("a")
	svc := NewService(store, nil)

	result, err := svc.Verify(context.Background(), completion(
		models.TraceResult{Status: models.TraceConfirmed},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 || result.Verified != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}
