package dbmysql

import "time"

// RoomMember grants a user access to a collaboration room.
type RoomMember struct {
	RoomID   string    `gorm:"primaryKey;size:80"`
	UserID   string    `gorm:"primaryKey;size:36"`
	Role     string    `gorm:"not null;size:16;default:'member'"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

func (RoomMember) TableName() string {
	return "room_members"
}
