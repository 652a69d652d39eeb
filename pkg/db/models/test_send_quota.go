package models

import (
	"time"

	"github.com/google/uuid"
)

// TestSendQuota tracks how many test messages a business sent on ResetOn's day.
type TestSendQuota struct {
	BusinessID uuid.UUID `gorm:"column:business_id;type:uuid;primaryKey"`
	SentCount  int       `gorm:"column:sent_count;not null;default:0"`
	ResetOn    string    `gorm:"column:reset_on;type:text;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (TestSendQuota) TableName() string { return "test_send_quotas" }
