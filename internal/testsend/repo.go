package testsend

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
)

// Repository persists per-business test-send counters.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// LockForUpdate returns the business's counter row locked for the enclosing
// transaction, creating it on first use.
func (r *Repository) LockForUpdate(tx *gorm.DB, businessID uuid.UUID, today string) (*models.TestSendQuota, error) {
	seed := models.TestSendQuota{BusinessID: businessID, ResetOn: today}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var quota models.TestSendQuota
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessID).
		First(&quota).Error
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

// Save writes the counter and its reset date.
func (r *Repository) Save(tx *gorm.DB, quota *models.TestSendQuota) error {
	return tx.Model(&models.TestSendQuota{}).
		Where("business_id = ?", quota.BusinessID).
		Updates(map[string]any{
			"sent_count": quota.SentCount,
			"reset_on":   quota.ResetOn,
			"updated_at": time.Now().UTC(),
		}).Error
}

// Find returns the stored counter or nil when the business never sent a test.
func (r *Repository) Find(ctx context.Context, businessID uuid.UUID) (*models.TestSendQuota, error) {
	var quota models.TestSendQuota
	err := r.db.WithContext(ctx).Where("business_id = ?", businessID).First(&quota).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &quota, nil
}
