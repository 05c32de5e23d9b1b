package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records a security or domain relevant action.
type AuditLog struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID *uint          `gorm:"index" json:"account_id"`
	Actor     string         `gorm:"size:254" json:"actor"`
	Action    string         `gorm:"size:64;not null;index" json:"action"`
	Resource  string         `gorm:"size:128;index" json:"resource"`
	Result    string         `gorm:"size:16;not null" json:"result"`
	IPAddress string         `gorm:"size:64" json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
