package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
)

// Integration is a business's link to one provider. Credential columns hold
// vault ciphertext only.
type Integration struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID uuid.UUID               `gorm:"column:business_id;type:uuid;not null"`
	Provider   enums.Provider          `gorm:"column:provider;type:integration_provider;not null"`
	Status     enums.IntegrationStatus `gorm:"column:status;type:integration_status;not null"`
	IsActive   bool                    `gorm:"column:is_active;not null;default:false"`

	TestMode           bool       `gorm:"column:test_mode;not null;default:false"`
	TestPhone          *string    `gorm:"column:test_phone;type:text"`
	ConsentConfirmed   bool       `gorm:"column:consent_confirmed;not null;default:false"`
	ConsentConfirmedAt *time.Time `gorm:"column:consent_confirmed_at"`

	AccessTokenCiphertext   []byte     `gorm:"column:access_token_ciphertext;type:bytea"`
	RefreshTokenCiphertext  []byte     `gorm:"column:refresh_token_ciphertext;type:bytea"`
	TokenExpiresAt          *time.Time `gorm:"column:token_expires_at"`
	APIKeyCiphertext        []byte     `gorm:"column:api_key_ciphertext;type:bytea"`
	WebhookSecretCiphertext []byte     `gorm:"column:webhook_secret_ciphertext;type:bytea"`
	InboundKeyHash          *string    `gorm:"column:inbound_key_hash;type:text"`
	InboundToken            string     `gorm:"column:inbound_token;type:text;not null"`

	ExternalAccountID *string `gorm:"column:external_account_id;type:text"`
	Version           int     `gorm:"column:version;not null;default:0"`

	ConnectedAt    *time.Time `gorm:"column:connected_at"`
	DisconnectedAt *time.Time `gorm:"column:disconnected_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Integration) TableName() string { return "integrations" }

// Usable reports whether the integration may act on the business's behalf at now.
func (i Integration) Usable(now time.Time) bool {
	if !i.IsActive || i.Status != enums.IntegrationStatusLinked {
		return false
	}
	if i.TokenExpiresAt != nil && !i.TokenExpiresAt.After(now) {
		return false
	}
	return true
}
