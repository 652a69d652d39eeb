package integrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

// Repository handles integration persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to integration operations.
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

// Create persists a new integration row.
func (r *Repository) Create(ctx context.Context, integ *models.Integration) error {
	if integ == nil {
		return fmt.Errorf("integration is required")
	}
	if integ.ID == uuid.Nil {
		integ.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(integ).Error
}

// FindByID loads an integration by id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	var integ models.Integration
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&integ).Error; err != nil {
		return nil, notFound(err)
	}
	return &integ, nil
}

// FindByBusinessAndProvider loads the business's integration for provider.
func (r *Repository) FindByBusinessAndProvider(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*models.Integration, error) {
	var integ models.Integration
	if err := r.db.WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessID, provider).
		First(&integ).Error; err != nil {
		return nil, notFound(err)
	}
	return &integ, nil
}

// FindActiveByAccount resolves an app-level webhook to its integration.
func (r *Repository) FindActiveByAccount(ctx context.Context, provider enums.Provider, accountID string) (*models.Integration, error) {
	var integ models.Integration
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND external_account_id = ? AND is_active = ?", provider, accountID, true).
		Order("connected_at DESC").
		First(&integ).Error; err != nil {
		return nil, notFound(err)
	}
	return &integ, nil
}

// FindByInboundToken resolves a tokenized webhook URL to its integration.
func (r *Repository) FindByInboundToken(ctx context.Context, provider enums.Provider, token string) (*models.Integration, error) {
	var integ models.Integration
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND inbound_token = ?", provider, token).
		First(&integ).Error; err != nil {
		return nil, notFound(err)
	}
	return &integ, nil
}

// ListByBusiness returns every integration the business owns.
func (r *Repository) ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]models.Integration, error) {
	var out []models.Integration
	if err := r.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListExpiring returns active integrations whose token expires before cutoff.
func (r *Repository) ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]models.Integration, error) {
	var out []models.Integration
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND token_expires_at IS NOT NULL AND token_expires_at < ?", true, cutoff).
		Order("token_expires_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListActive pages through active integrations ordered by id.
func (r *Repository) ListActive(ctx context.Context, after uuid.UUID, limit int) ([]models.Integration, error) {
	var out []models.Integration
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	if err := query.Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// TokenUpdate is the new token state written by a refresh.
type TokenUpdate struct {
	AccessTokenCiphertext  []byte
	RefreshTokenCiphertext []byte
	TokenExpiresAt         *time.Time
}

// UpdateIfVersion writes fields only if nobody else has changed the row
// since expectedVersion was read. The version is bumped with the write.
func (r *Repository) UpdateIfVersion(ctx context.Context, id uuid.UUID, expectedVersion int, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		return false, fmt.Errorf("no fields to update")
	}
	values := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		values[k] = v
	}
	values["version"] = expectedVersion + 1
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Integration{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateTokensIfVersion writes the refreshed tokens only if nobody else has
// changed the row since expectedVersion was read.
func (r *Repository) UpdateTokensIfVersion(ctx context.Context, id uuid.UUID, expectedVersion int, update TokenUpdate) (bool, error) {
	return r.UpdateIfVersion(ctx, id, expectedVersion, map[string]any{
		"access_token_ciphertext":  update.AccessTokenCiphertext,
		"refresh_token_ciphertext": update.RefreshTokenCiphertext,
		"token_expires_at":         update.TokenExpiresAt,
	})
}

// Revoke deactivates the integration and purges every credential column.
// It applies whatever the current version is, so a refresh or edit that
// read the row earlier misses its version check afterwards.
func (r *Repository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Integration{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":                    enums.IntegrationStatusRevoked,
			"is_active":                 false,
			"access_token_ciphertext":   nil,
			"refresh_token_ciphertext":  nil,
			"token_expires_at":          nil,
			"api_key_ciphertext":        nil,
			"webhook_secret_ciphertext": nil,
			"inbound_key_hash":          nil,
			"disconnected_at":           at,
			"version":                   gorm.Expr("version + 1"),
			"updated_at":                time.Now().UTC(),
		}).Error
}

// MarkExpired deactivates an integration whose credentials can no longer be refreshed.
func (r *Repository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Integration{}).
		Where("id = ? AND status = ?", id, enums.IntegrationStatusLinked).
		Updates(map[string]any{
			"status":     enums.IntegrationStatusExpired,
			"is_active":  false,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "integration not found")
	}
	return err
}
