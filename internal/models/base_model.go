package models

import "time"

// BaseModel provides shared fields for persistent domain models. Identifiers are
// assigned by the store.
type BaseModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
