package dbmysql

import (
	"time"

	"filehub/internal/common"
)

type Notification struct {
	ID            string                      `gorm:"primaryKey;size:36"`
	UserID        string                      `gorm:"not null;index;size:36"`
	Header        string                      `gorm:"not null;size:255"`
	Content       string                      `gorm:"not null;type:text"`
	Type          string                      `gorm:"not null;size:50"`
	Status        string                      `gorm:"default:'pending';size:50"`
	TriggerUserID *string                     `gorm:"size:36"`
	Metadata      common.NotificationMetadata `gorm:"serializer:json"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt     time.Time                   `gorm:"autoUpdateTime"`
}

type Device struct {
	DeviceToken  string    `gorm:"primaryKey;size:255"`
	UserID       string    `gorm:"not null;index;size:36"`
	Platform     string    `gorm:"not null;size:10"`
	IsActive     bool      `gorm:"default:true"`
	RegisteredAt time.Time `gorm:"autoCreateTime"`
	LastActive   time.Time `gorm:"autoUpdateTime"`
}

func (Device) TableName() string {
	return "devices"
}
