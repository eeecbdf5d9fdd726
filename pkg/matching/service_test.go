package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/common/models"
	"github.com/ldp-health/platform/pkg/feed"
)

func init() {
	logger.Init()
}

type fakeStore struct {
	saved   [][]Patient
	nextID  int
	saveErr error
}

func (f *fakeStore) Save(_ context.Context, patients []Patient) ([]string, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = append(f.saved, patients)
	ids := make([]string, len(patients))
	for i := range patients {
		f.nextID++
		ids[i] = fmt.Sprintf("%d", f.nextID+98) // 99, 100, ...
	}
	return ids, nil
}

type fakeStrategy struct {
	results  [][]string
	err      error
	received []models.PatientRecord
}

func (f *fakeStrategy) FindPatients(_ context.Context, records []models.PatientRecord) ([][]string, error) {
	f.received = records
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeBatch struct {
	calls [][]models.TraceRecord
	err   error
}

func (f *fakeBatch) AddToBatch(_ context.Context, records []models.TraceRecord) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, records)
	return "batch-1", nil
}

type prefixPseudo struct{}

func (prefixPseudo) PseudonymiseRecord(_ context.Context, rec models.PatientRecord) (models.PatientRecord, error) {
	out := rec
	if out.NHSNumber != "" {
		out.NHSNumber = "tok_" + out.NHSNumber
	}
	if out.FirstName != "" {
		out.FirstName = "tok_" + out.FirstName
	}
	if out.LastName != "" {
		out.LastName = "tok_" + out.LastName
	}
	return out, nil
}

func newTestService(store Store, strategy Strategy, pseudo Pseudonymiser, batch BatchSubmitter) *Service {
	n := NewNormaliser(feed.Config{
		Name:           "test",
		DateLayout:     "2006-01-02",
		SexValues:      []string{"male", "female", "other", "unknown"},
		RequiredFields: []string{"nhs_number", "dob"},
	})
	n.now = func() time.Time { return time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC) }
	return NewService(store, strategy, n, pseudo, batch, nil)
}

func TestMatchRejectsEmptyBatch(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeStrategy{}, nil, &fakeBatch{})
	if _, _, err := svc.Match(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestMatchExistingPatient(t *testing.T) {
	store := &fakeStore{}
	strategy := &fakeStrategy{results: [][]string{{"42"}}}
	batch := &fakeBatch{}
	svc := newTestService(store, strategy, nil, batch)

	rows, report, err := svc.Match(context.Background(), []models.PatientRecord{
		{NHSNumber: "9434765919", DateOfBirth: "1980-01-15"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows[0].PatientIDs) != 1 || rows[0].PatientIDs[0] != "42" {
		t.Fatalf("expected match [42], got %v", rows[0].PatientIDs)
	}
	if len(store.saved) != 0 {
		t.Fatal("matched row must not be saved")
	}
	if len(batch.calls) != 0 {
		t.Fatal("matched row must not be queued for tracing")
	}
	if report.Counts.Single != 1 || report.Counts.Total != 1 {
		t.Fatalf("unexpected counts %+v", report.Counts)
	}
	if report.Rows[0].Outcome != OutcomeMatched {
		t.Fatalf("unexpected outcome %q", report.Rows[0].Outcome)
	}
}

func TestMatchCreatesUnverifiedForUnmatched(t *testing.T) {
	store := &fakeStore{}
	strategy := &fakeStrategy{results: [][]string{{}}}
	batch := &fakeBatch{}
	svc := newTestService(store, strategy, nil, batch)

	rows, report, err := svc.Match(context.Background(), []models.PatientRecord{
		{NHSNumber: "9434765919", DateOfBirth: "1980-01-15", Postcode: "SW1A 1AA"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows[0].PatientIDs) != 1 || rows[0].PatientIDs[0] != "99" {
		t.Fatalf("expected created id [99], got %v", rows[0].PatientIDs)
	}
	if len(store.saved) != 1 || len(store.saved[0]) != 1 {
		t.Fatalf("expected one save of one patient, got %v", store.saved)
	}
	if store.saved[0][0].Verified != models.VerificationUnverified {
		t.Fatalf("created patient must be unverified, got %q", store.saved[0][0].Verified)
	}
	if len(batch.calls) != 1 || len(batch.calls[0]) != 1 {
		t.Fatalf("expected one trace submission of one record, got %v", batch.calls)
	}
	if batch.calls[0][0].UniqueReference != "99" {
		t.Fatalf("trace record must reference the new patient id, got %q", batch.calls[0][0].UniqueReference)
	}
	if batch.calls[0][0].NHSNumber != "9434765919" {
		t.Fatalf("trace record must carry clear demographics, got %q", batch.calls[0][0].NHSNumber)
	}
	if report.Rows[0].Outcome != OutcomeCreated {
		t.Fatalf("unexpected outcome %q", report.Rows[0].Outcome)
	}
}

func TestMatchMixedBatch(t *testing.T) {
	store := &fakeStore{}
	strategy := &fakeStrategy{results: [][]string{{"42"}, {}}}
	batch := &fakeBatch{}
	svc := newTestService(store, strategy, nil, batch)

	rows, report, err := svc.Match(context.Background(), []models.PatientRecord{
		{},                          // unsearchable
		{NHSNumber: "9434765919"},   // matched
		{DateOfBirth: "1980-01-15"}, // unmatched
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rows[0].PatientIDs) != 0 || rows[0].PatientIDs == nil {
		t.Fatalf("unsearchable row must resolve to empty ids, got %v", rows[0].PatientIDs)
	}
	if len(rows[1].PatientIDs) != 1 || rows[1].PatientIDs[0] != "42" {
		t.Fatalf("expected matched row [42], got %v", rows[1].PatientIDs)
	}
	if len(rows[2].PatientIDs) != 1 || rows[2].PatientIDs[0] != "99" {
		t.Fatalf("expected created row [99], got %v", rows[2].PatientIDs)
	}

	// Only searchable rows reach the strategy; only the unmatched one is traced.
	if len(strategy.received) != 2 {
		t.Fatalf("expected 2 searchable rows at the strategy, got %d", len(strategy.received))
	}
	if len(batch.calls) != 1 || len(batch.calls[0]) != 1 {
		t.Fatalf("expected one traced record, got %v", batch.calls)
	}
	if batch.calls[0][0].UniqueReference != "99" {
		t.Fatalf("unexpected traced reference %q", batch.calls[0][0].UniqueReference)
	}

	if report.Counts.Zero != 1 || report.Counts.Single != 2 {
		t.Fatalf("unexpected counts %+v", report.Counts)
	}
	if report.Rows[0].Outcome != OutcomeUnsearchable {
		t.Fatalf("unexpected outcome %q", report.Rows[0].Outcome)
	}
}

func TestMatchSurfacesStoreFailure(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("connection refused")}
	strategy := &fakeStrategy{results: [][]string{{}}}
	svc := newTestService(store, strategy, nil, &fakeBatch{})

	_, _, err := svc.Match(context.Background(), []models.PatientRecord{
		{NHSNumber: "9434765919"},
	})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected store error to surface, got %v", err)
	}
}

func TestMatchFailsLoudlyOnMisalignedStrategy(t *testing.T) {
	strategy := &fakeStrategy{results: [][]string{{"42"}, {"43"}}} // two results, one row
	svc := newTestService(&fakeStore{}, strategy, nil, &fakeBatch{})

	_, _, err := svc.Match(context.Background(), []models.PatientRecord{
		{NHSNumber: "9434765919"},
	})
	if !errors.Is(err, ErrMisalignedResults) {
		t.Fatalf("expected ErrMisalignedResults, got %v", err)
	}
}

func TestMatchPseudonymisesStoredFormOnly(t *testing.T) {
	store := &fakeStore{}
	strategy := &fakeStrategy{results: [][]string{{}}}
	batch := &fakeBatch{}
	svc := newTestService(store, strategy, prefixPseudo{}, batch)

	rows, _, err := svc.Match(context.Background(), []models.PatientRecord{
		{NHSNumber: "9434765919", FirstName: "jane", LastName: "doe"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Strategy queries and saved patients see tokens.
	if !strings.HasPrefix(strategy.received[0].NHSNumber, "tok_") {
		t.Fatalf("strategy must receive tokenised query, got %q", strategy.received[0].NHSNumber)
	}
	if !strings.HasPrefix(store.saved[0][0].NHSNumber, "tok_") {
		t.Fatalf("store must receive tokenised patient, got %q", store.saved[0][0].NHSNumber)
	}
	// The caller's rows and the trace submission stay clear.
	if rows[0].NHSNumber != "9434765919" {
		t.Fatalf("output row must stay clear, got %q", rows[0].NHSNumber)
	}
	if batch.calls[0][0].NHSNumber != "9434765919" {
		t.Fatalf("trace record must stay clear, got %q", batch.calls[0][0].NHSNumber)
	}
}

func TestMatchTraceFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{}
	strategy := &fakeStrategy{results: [][]string{{}}}
	batch := &fakeBatch{err: errors.New("lookup unavailable")}
	svc := newTestService(store, strategy, nil, batch)

	rows, _, err := svc.Match(context.Background(), []models.PatientRecord{
		{NHSNumber: "9434765919"},
	})
	if err != nil {
		t.Fatalf("trace submission failure must not fail the batch: %v", err)
	}
	if len(rows[0].PatientIDs) != 1 {
		t.Fatalf("created id must still be assigned, got %v", rows[0].PatientIDs)
	}
}
