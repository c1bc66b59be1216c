package dbmysql

import (
	"time"

	"filehub/internal/common"
)

type Message struct {
	ID             string  `gorm:"primaryKey;size:26"`
	RoomID         string  `gorm:"not null;index;size:80"`
	SenderID       string  `gorm:"not null;size:36"`
	Body           string  `gorm:"type:text"`
	Kind           string  `gorm:"not null;size:20"`
	ParentID       *string `gorm:"index;size:26"`
	AttachmentID   *string `gorm:"size:24"`
	AttachmentName *string `gorm:"size:255"`
	AttachmentType *string `gorm:"size:20"`
	AttachmentSize int64   `gorm:"default:0"`
	Edited         bool    `gorm:"default:false"`
	EditedAt       *time.Time
	Pinned         bool      `gorm:"default:false"`
	Revision       uint64    `gorm:"default:0"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (Message) TableName() string {
	return "messages"
}

// Reaction is one user's emoji on one message.
type Reaction struct {
	MessageID string    `gorm:"primaryKey;size:26"`
	UserID    string    `gorm:"primaryKey;size:36"`
	Emoji     string    `gorm:"primaryKey;size:64"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Reaction) TableName() string {
	return "message_reactions"
}

func MessageFromDomain(m common.Message) *Message {
	row := &Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		Kind:      string(m.Kind),
		ParentID:  m.ParentID,
		Edited:    m.Edited,
		EditedAt:  m.EditedAt,
		Pinned:    m.Pinned,
		Revision:  m.Revision,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if a := m.Attachment; a != nil {
		fileType := a.FileType.String()
		row.AttachmentID = &a.FileID
		row.AttachmentName = &a.FileName
		row.AttachmentType = &fileType
		row.AttachmentSize = a.Size
	}
	return row
}

func (m *Message) ToDomain() common.Message {
	out := common.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		Kind:      common.MessageKind(m.Kind),
		ParentID:  m.ParentID,
		Edited:    m.Edited,
		EditedAt:  m.EditedAt,
		Pinned:    m.Pinned,
		Revision:  m.Revision,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.AttachmentID != nil {
		out.Attachment = &common.Attachment{FileID: *m.AttachmentID, Size: m.AttachmentSize}
		if m.AttachmentName != nil {
			out.Attachment.FileName = *m.AttachmentName
		}
		if m.AttachmentType != nil {
			out.Attachment.FileType = common.MediaFileType(*m.AttachmentType)
		}
	}
	return out
}
