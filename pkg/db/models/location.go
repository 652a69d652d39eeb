package models

import (
	"time"

	"github.com/google/uuid"
)

// Location is a provider-side store/venue mirrored locally.
type Location struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntegrationID      uuid.UUID `gorm:"column:integration_id;type:uuid;not null"`
	ExternalLocationID string    `gorm:"column:external_location_id;type:text;not null"`
	DisplayName        string    `gorm:"column:display_name;type:text;not null"`
	Address            string    `gorm:"column:address;type:text;not null;default:''"`
	Enabled            bool      `gorm:"column:enabled;not null;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Location) TableName() string { return "locations" }
