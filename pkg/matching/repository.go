package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ldp-health/platform/pkg/common/models"
	"gorm.io/gorm"
)

// Repository is the concrete MPI store over postgres.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Patient{})
}

// Save persists new patients atomically and returns their ids, one per input
// row in order. Missing ids are assigned here. A failure rolls the whole
// batch back.
func (r *Repository) Save(ctx context.Context, patients []Patient) ([]string, error) {
	if len(patients) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	ids := make([]string, len(patients))
	for i := range patients {
		if patients[i].PatientID == "" {
			patients[i].PatientID = uuid.New().String()
		}
		if patients[i].Verified == "" {
			patients[i].Verified = models.VerificationUnverified
		}
		patients[i].CreatedAt = now
		patients[i].UpdatedAt = now
		ids[i] = patients[i].PatientID
	}

	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&patients).Error
	}); err != nil {
		return nil, fmt.Errorf("saving patients: %w", err)
	}

	return ids, nil
}

// FindUnverifiedPatients returns every patient still awaiting external
// confirmation.
func (r *Repository) FindUnverifiedPatients(ctx context.Context) ([]Patient, error) {
	var patients []Patient
	result := r.db.WithContext(ctx).
		Where("verified = ?", models.VerificationUnverified).
		Order("created_at").
		Find(&patients)
	return patients, result.Error
}

// Candidates returns the most recent patients as a probabilistic comparison
// pool.
func (r *Repository) Candidates(ctx context.Context, limit int) ([]Patient, error) {
	if limit <= 0 {
		limit = 500
	}
	var patients []Patient
	result := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&patients)
	return patients, result.Error
}

// MarkVerified confirms a patient's identity. The transition only applies to
// unverified rows, so replays are no-ops. A traced NHS number, when present,
// is merged into the attributes for later reconciliation.
func (r *Repository) MarkVerified(ctx context.Context, patientID, tracedNHSNumber string) (bool, error) {
	updates := map[string]interface{}{
		"verified":   models.VerificationVerified,
		"updated_at": time.Now().UTC(),
	}
	if tracedNHSNumber != "" {
		payload, err := json.Marshal(map[string]string{"traced_nhs_number": tracedNHSNumber})
		if err != nil {
			return false, err
		}
		updates["attributes"] = gorm.Expr("COALESCE(attributes, '{}'::jsonb) || ?::jsonb", string(payload))
	}

	result := r.db.WithContext(ctx).Model(&Patient{}).
		Where("patient_id = ? AND verified = ?", patientID, models.VerificationUnverified).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkRejected flags patients the external lookup could not confirm. Also
// monotone from unverified.
func (r *Repository) MarkRejected(ctx context.Context, patientIDs []string) (int64, error) {
	if len(patientIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&Patient{}).
		Where("patient_id IN ? AND verified = ?", patientIDs, models.VerificationUnverified).
		Updates(map[string]interface{}{
			"verified":   models.VerificationRejected,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}
