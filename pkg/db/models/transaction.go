package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
)

// Transaction is the append-only record of one ingested purchase and its
// dispatch outcome. Rows are never deleted and outlive their integration.
type Transaction struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BusinessID      uuid.UUID            `gorm:"column:business_id;type:uuid;not null"`
	IntegrationID   uuid.UUID            `gorm:"column:integration_id;type:uuid;not null"`
	LocationID      *uuid.UUID           `gorm:"column:location_id;type:uuid"`
	Provider        enums.Provider       `gorm:"column:provider;type:integration_provider;not null"`
	ProviderEventID *string              `gorm:"column:provider_event_id;type:text"`
	CustomerName    string               `gorm:"column:customer_name;type:text;not null;default:''"`
	CustomerPhone   string               `gorm:"column:customer_phone;type:text;not null;default:''"`
	RecipientPhone  *string              `gorm:"column:recipient_phone;type:text"`
	PurchaseAmount  decimal.Decimal      `gorm:"column:purchase_amount;type:numeric(12,2);not null;default:0"`
	Currency        string               `gorm:"column:currency;type:text;not null;default:'USD'"`
	DispatchStatus  enums.DispatchStatus `gorm:"column:dispatch_status;type:dispatch_status;not null"`
	TestMode        bool                 `gorm:"column:test_mode;not null;default:false"`
	SendAttemptedAt *time.Time           `gorm:"column:send_attempted_at"`
	MessageID       *string              `gorm:"column:message_id;type:text"`
	FailureReason   *string              `gorm:"column:failure_reason;type:text"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	CompletedAt     *time.Time           `gorm:"column:completed_at"`
}

func (Transaction) TableName() string { return "transactions" }
