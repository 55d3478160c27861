package model

import (
	"time"
)

// BaseModel is embedded by every persisted record, providing the
// integer primary key and create/update timestamps gorm maintains.
type BaseModel struct {
	ID        int       `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
