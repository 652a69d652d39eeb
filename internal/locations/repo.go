package locations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

// Repository persists provider locations.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to location operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// ListByIntegration returns an integration's locations ordered by display name.
func (r *Repository) ListByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.Location, error) {
	var out []models.Location
	if err := r.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Order("display_name ASC, external_location_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindByExternalID loads a location by its provider id.
func (r *Repository) FindByExternalID(ctx context.Context, integrationID uuid.UUID, externalID string) (*models.Location, error) {
	var loc models.Location
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND external_location_id = ?", integrationID, externalID).
		First(&loc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "location not found")
		}
		return nil, err
	}
	return &loc, nil
}

// FindByID loads a location by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	var loc models.Location
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&loc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "location not found")
		}
		return nil, err
	}
	return &loc, nil
}

// CreateIfAbsent inserts loc unless the integration already has a row for
// its external id. It reports whether a row was written.
func (r *Repository) CreateIfAbsent(ctx context.Context, loc *models.Location) (bool, error) {
	if loc == nil {
		return false, fmt.Errorf("location is required")
	}
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(loc)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateDetails rewrites the provider-owned columns, leaving enabled untouched.
func (r *Repository) UpdateDetails(ctx context.Context, id uuid.UUID, name, address string) error {
	return r.db.WithContext(ctx).
		Model(&models.Location{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"display_name": name,
			"address":      address,
		}).Error
}

// DeleteByIDs removes locations that disappeared from the provider.
func (r *Repository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.Location{}).Error
}

// SetEnabled makes exactly the given external ids enabled for the integration.
func (r *Repository) SetEnabled(ctx context.Context, integrationID uuid.UUID, externalIDs []string) error {
	disable := r.db.WithContext(ctx).
		Model(&models.Location{}).
		Where("integration_id = ? AND enabled = ?", integrationID, true)
	if len(externalIDs) > 0 {
		disable = disable.Where("external_location_id NOT IN ?", externalIDs)
	}
	if err := disable.Update("enabled", false).Error; err != nil {
		return err
	}
	if len(externalIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Location{}).
		Where("integration_id = ? AND external_location_id IN ? AND enabled = ?", integrationID, externalIDs, false).
		Update("enabled", true).Error
}
