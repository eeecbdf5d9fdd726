package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ldp-health/platform/pkg/common/models"
)

type fakeInbox struct {
	responses []CompletedTrace
	acked     []string
	ackErr    error
}

func (f *fakeInbox) CollectResponses(_ context.Context) ([]CompletedTrace, error) {
	return f.responses, nil
}

func (f *fakeInbox) Acknowledge(_ context.Context, traceID string) error {
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acked = append(f.acked, traceID)
	return nil
}

type fakePublisher struct {
	events []map[string]interface{}
	types  []string
	err    error
}

func (f *fakePublisher) PublishEvent(_ context.Context, eventType, _ string, data map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.types = append(f.types, eventType)
	f.events = append(f.events, data)
	return nil
}

func completedResponse() CompletedTrace {
	return CompletedTrace{
		TraceID: "batch-1",
		Results: []models.TraceResult{
			{UniqueReference: "a", Status: models.TraceConfirmed, NHSNumber: "9434765919"},
			{UniqueReference: "b", Status: models.TraceNoMatch},
		},
	}
}

func TestPollPublishesAndCompletes(t *testing.T) {
	inbox := &fakeInbox{responses: []CompletedTrace{completedResponse()}}
	status := newFakeStatus()
	publisher := &fakePublisher{}
	svc := NewResponseService(inbox, status, publisher, nil)
	svc.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	completions, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(completions) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(completions))
	}
	c := completions[0]
	if c.TraceID != "batch-1" || len(c.PatientIDs) != 2 {
		t.Fatalf("unexpected completion %+v", c)
	}
	if len(publisher.types) != 1 || publisher.types[0] != EventTraceCompleted {
		t.Fatalf("expected one %s event, got %v", EventTraceCompleted, publisher.types)
	}
	if _, done := status.completed["a"]; !done {
		t.Fatal("patient a was not marked complete")
	}
	if len(inbox.acked) != 1 || inbox.acked[0] != "batch-1" {
		t.Fatalf("expected batch-1 acknowledged, got %v", inbox.acked)
	}
}

func TestPollPublishFailureLeavesStateUntouched(t *testing.T) {
	inbox := &fakeInbox{responses: []CompletedTrace{completedResponse()}}
	status := newFakeStatus()
	publisher := &fakePublisher{err: errors.New("broker down")}
	svc := NewResponseService(inbox, status, publisher, nil)

	_, err := svc.Poll(context.Background())
	if err == nil {
		t.Fatal("expected poll to fail")
	}
	if len(status.completed) != 0 {
		t.Fatal("completion must not be recorded when publishing fails")
	}
	if len(inbox.acked) != 0 {
		t.Fatal("response must stay in the inbox when publishing fails")
	}
}

func TestPollResolvesPatientsFromCache(t *testing.T) {
	// Responses without per-result references fall back to the batch cache.
	inbox := &fakeInbox{responses: []CompletedTrace{{
		TraceID: "batch-1",
		Results: []models.TraceResult{{Status: models.TraceAmbiguous}},
	}}}
	cache := newMemoryCache()
	_ = cache.RememberBatch(context.Background(), "batch-1", []string{"a", "b"})
	svc := NewResponseService(inbox, newFakeStatus(), &fakePublisher{}, cache)

	completions, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(completions[0].PatientIDs) != 2 {
		t.Fatalf("expected ids from cache, got %v", completions[0].PatientIDs)
	}
}

func TestPollFailsWhenResponseCannotBeCorrelated(t *testing.T) {
	inbox := &fakeInbox{responses: []CompletedTrace{{
		TraceID: "batch-unknown",
		Results: []models.TraceResult{{Status: models.TraceConfirmed}},
	}}}
	svc := NewResponseService(inbox, newFakeStatus(), &fakePublisher{}, newMemoryCache())

	if _, err := svc.Poll(context.Background()); err == nil {
		t.Fatal("expected an error for an uncorrelatable response")
	}
	if len(inbox.acked) != 0 {
		t.Fatal("uncorrelatable response must stay in the inbox")
	}
}

func TestEligible(t *testing.T) {
	cases := []struct {
		name string
		rec  models.TraceRecord
		want bool
	}{
		{"nhs and dob", models.TraceRecord{NHSNumber: "9434765919", DateOfBirth: "1980-01-15"}, true},
		{"nhs without dob", models.TraceRecord{NHSNumber: "9434765919"}, false},
		{"full demographics without nhs", models.TraceRecord{
			GivenName: "Jane", FamilyName: "Doe", Gender: "female",
			DateOfBirth: "1980-01-15", Postcode: "SW1A 1AA",
		}, true},
		{"partial demographics", models.TraceRecord{
			GivenName: "Jane", DateOfBirth: "1980-01-15", Postcode: "SW1A 1AA",
		}, false},
		{"empty", models.TraceRecord{}, false},
	}
	for _, tc := range cases {
		if got := Eligible(tc.rec); got != tc.want {
			t.Errorf("%s: Eligible = %v, want %v", tc.name, got, tc.want)
		}
	}
}
