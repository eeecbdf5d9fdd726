package pseudonym

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&VaultRecord{})
}

func (r *Repository) Save(ctx context.Context, record VaultRecord) error {
	record.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
}

func (r *Repository) Lookup(ctx context.Context, token string) (VaultRecord, error) {
	var record VaultRecord
	if err := r.db.WithContext(ctx).First(&record, "token = ?", token).Error; err != nil {
		return VaultRecord{}, err
	}
	return record, nil
}
