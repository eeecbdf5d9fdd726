package trace

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusRepository persists per-patient trace lifecycle state in postgres.
type StatusRepository struct {
	db *gorm.DB
}

func NewStatusRepository(db *gorm.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

func (r *StatusRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&TraceStatus{})
}

// FindUntraced returns the subset of ids that have never been submitted,
// preserving input order.
func (r *StatusRepository) FindUntraced(ctx context.Context, patientIDs []string) ([]string, error) {
	if len(patientIDs) == 0 {
		return nil, nil
	}

	var traced []string
	result := r.db.WithContext(ctx).Model(&TraceStatus{}).
		Where("patient_id IN ?", patientIDs).
		Pluck("patient_id", &traced)
	if result.Error != nil {
		return nil, result.Error
	}

	seen := make(map[string]bool, len(traced))
	for _, id := range traced {
		seen[id] = true
	}

	var untraced []string
	for _, id := range patientIDs {
		if !seen[id] {
			untraced = append(untraced, id)
		}
	}
	return untraced, nil
}

// MarkSubmitted records a submission for each patient. Replays for already
// submitted patients are ignored, keeping the first submission time.
func (r *StatusRepository) MarkSubmitted(ctx context.Context, patientIDs []string, submittedAt time.Time) error {
	if len(patientIDs) == 0 {
		return nil
	}

	records := make([]TraceStatus, len(patientIDs))
	for i, id := range patientIDs {
		records[i] = TraceStatus{PatientID: id, SubmittedAt: submittedAt}
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records).Error
}

// MarkCompleted stamps the completion date on submitted patients. Only the
// first completion wins; replays affect zero rows.
func (r *StatusRepository) MarkCompleted(ctx context.Context, patientIDs []string, completedAt time.Time) (int64, error) {
	if len(patientIDs) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Model(&TraceStatus{}).
		Where("patient_id IN ? AND completion_date IS NULL", patientIDs).
		Update("completion_date", completedAt)
	return result.RowsAffected, result.Error
}
