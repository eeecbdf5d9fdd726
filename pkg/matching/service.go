package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/ldp-health/platform/pkg/common/logger"
	"github.com/ldp-health/platform/pkg/common/models"
	"github.com/ldp-health/platform/pkg/feed"
)

var (
	ErrEmptyBatch = errors.New("batch is empty")
	// ErrMisalignedResults means a strategy broke its length contract. That is
	// a programming error and must fail loudly, never be papered over.
	ErrMisalignedResults = errors.New("matching strategy returned misaligned results")
)

// Store is the slice of the MPI port the matching service needs.
type Store interface {
	Save(ctx context.Context, patients []Patient) ([]string, error)
}

// Pseudonymiser tokenises identifying fields ahead of storage and lookup.
type Pseudonymiser interface {
	PseudonymiseRecord(ctx context.Context, rec models.PatientRecord) (models.PatientRecord, error)
}

// BatchSubmitter queues records for asynchronous external tracing and
// returns a correlation handle.
type BatchSubmitter interface {
	AddToBatch(ctx context.Context, records []models.TraceRecord) (string, error)
}

// Service orchestrates one batch through normalise, search, create-unverified
// and trace hand-off.
type Service struct {
	store      Store
	strategy   Strategy
	normaliser *Normaliser
	pseudo     Pseudonymiser
	batch      BatchSubmitter
	cohort     *feed.Cohort
}

func NewService(store Store, strategy Strategy, normaliser *Normaliser, pseudo Pseudonymiser, batch BatchSubmitter, cohort *feed.Cohort) *Service {
	return &Service{
		store:      store,
		strategy:   strategy,
		normaliser: normaliser,
		pseudo:     pseudo,
		batch:      batch,
		cohort:     cohort,
	}
}

// Match resolves patient_ids for every row of the batch. On return every row
// has a non-nil PatientIDs: empty for unsearchable rows, matched ids or a
// freshly created unverified id otherwise. Any store failure aborts the whole
// invocation with no ids assigned.
func (s *Service) Match(ctx context.Context, batch []models.PatientRecord) ([]models.PatientRecord, *Report, error) {
	if len(batch) == 0 {
		return nil, nil, ErrEmptyBatch
	}

	rows := s.normaliser.Normalise(batch)
	report := &Report{Rows: make([]RowResult, len(rows))}

	var searchable []int
	for i, rec := range rows {
		if !s.normaliser.RequiredFieldsPresent(rec) {
			report.MissingRequired++
		}
		if s.cohort != nil && rec.NHSNumber != "" && !s.cohort.Contains(rec.NHSNumber) {
			report.Rows[i].OutOfCohort = true
			report.OutOfCohort++
		}
		if rec.HasDemographics() {
			searchable = append(searchable, i)
		} else {
			rows[i].PatientIDs = []string{}
			report.Rows[i].Outcome = OutcomeUnsearchable
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"total":      len(rows),
		"searchable": len(searchable),
	}).Debug("computed searchable rows")

	if len(searchable) > 0 {
		if err := s.search(ctx, rows, searchable, report); err != nil {
			return nil, nil, err
		}
	}

	var unmatched []int
	for _, i := range searchable {
		if len(rows[i].PatientIDs) == 0 {
			unmatched = append(unmatched, i)
		} else {
			report.Rows[i].Outcome = OutcomeMatched
		}
	}

	if len(unmatched) > 0 {
		if err := s.createUnverified(ctx, rows, unmatched, report); err != nil {
			return nil, nil, err
		}
	}

	for i, rec := range rows {
		report.Rows[i].PatientIDs = rec.PatientIDs
		switch len(rec.PatientIDs) {
		case 0:
			report.Counts.Zero++
		case 1:
			report.Counts.Single++
		default:
			report.Counts.Multiple++
		}
	}
	report.Counts.Total = len(rows)

	return rows, report, nil
}

// search runs the strategy once over the searchable subset and writes the
// aligned results back.
func (s *Service) search(ctx context.Context, rows []models.PatientRecord, searchable []int, report *Report) error {
	queries := make([]models.PatientRecord, len(searchable))
	for j, i := range searchable {
		query, err := s.storedForm(ctx, rows[i])
		if err != nil {
			return err
		}
		queries[j] = query
	}

	results, err := s.strategy.FindPatients(ctx, queries)
	if err != nil {
		return fmt.Errorf("strategy lookup: %w", err)
	}
	if len(results) != len(queries) {
		return fmt.Errorf("%w: got %d results for %d rows", ErrMisalignedResults, len(results), len(queries))
	}

	for j, i := range searchable {
		ids := results[j]
		if ids == nil {
			ids = []string{}
		}
		rows[i].PatientIDs = ids
	}
	return nil
}

// createUnverified persists the unmatched subset as unverified patients and
// queues them for external tracing. Persistence is all-or-nothing; the trace
// hand-off is fire-and-forget because the request service re-submits any
// unverified, untraced patient on its next cycle anyway.
func (s *Service) createUnverified(ctx context.Context, rows []models.PatientRecord, unmatched []int, report *Report) error {
	patients := make([]Patient, len(unmatched))
	for j, i := range unmatched {
		stored, err := s.storedForm(ctx, rows[i])
		if err != nil {
			return err
		}
		patients[j] = fromRecord(stored, models.VerificationUnverified)
	}

	ids, err := s.store.Save(ctx, patients)
	if err != nil {
		return err
	}
	if len(ids) != len(unmatched) {
		return fmt.Errorf("%w: store returned %d ids for %d rows", ErrMisalignedResults, len(ids), len(unmatched))
	}

	traceRecords := make([]models.TraceRecord, len(unmatched))
	for j, i := range unmatched {
		rows[i].PatientIDs = []string{ids[j]}
		report.Rows[i].Outcome = OutcomeCreated
		traceRecords[j] = models.TraceRecord{
			UniqueReference: ids[j],
			NHSNumber:       rows[i].NHSNumber,
			FamilyName:      rows[i].LastName,
			GivenName:       rows[i].FirstName,
			Gender:          rows[i].Sex,
			DateOfBirth:     rows[i].DateOfBirth,
			Postcode:        rows[i].Postcode,
		}
	}

	logger.Log.WithField("created", len(ids)).Debug("created unverified patients")

	if s.batch != nil {
		batchID, err := s.batch.AddToBatch(ctx, traceRecords)
		if err != nil {
			// Not fatal: the trace request service picks these patients up as
			// unverified and untraced on its next submission cycle.
			logger.Log.WithError(err).Warn("failed to queue unmatched rows for tracing")
		} else {
			logger.Log.WithFields(map[string]interface{}{
				"batch_id": batchID,
				"records":  len(traceRecords),
			}).Debug("queued unmatched rows for tracing")
		}
	}

	return nil
}

// storedForm is the shape a record takes in the MPI: identifying fields
// tokenised when a pseudonymiser is configured. Deterministic tokens keep
// exact-match equality intact.
func (s *Service) storedForm(ctx context.Context, rec models.PatientRecord) (models.PatientRecord, error) {
	if s.pseudo == nil {
		return rec, nil
	}
	stored, err := s.pseudo.PseudonymiseRecord(ctx, rec)
	if err != nil {
		return models.PatientRecord{}, fmt.Errorf("pseudonymising record: %w", err)
	}
	return stored, nil
}
