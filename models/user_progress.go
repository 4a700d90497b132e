package models

import (
	"time"

	"gorm.io/gorm"
)

// ProgressRow persists a visitor's serialized ProgressRecord under its
// storage key (denormalized: the record is stored whole)
type ProgressRow struct {
	Key  string `gorm:"primaryKey;type:varchar(255)" json:"key"` // passport-{passportId}:{visitorId}
	Data string `gorm:"type:jsonb;not null" json:"data"`

	Timestamps
}

func (ProgressRow) TableName() string {
	return "passport_progress"
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
