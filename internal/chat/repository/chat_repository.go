package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"filehub/internal/common"
	"filehub/internal/dbmysql"
)

//go:generate mockgen -destination=../service/mocks/mock_chat_repository.go -package=mocks filehub/internal/chat/repository ChatRepository

type ChatRepository interface {
	SaveMessage(ctx context.Context, msg common.Message) error
	UpdateMessage(ctx context.Context, msg common.Message) error
	// DeleteMessage removes the message and its reactions. Replies are kept.
	DeleteMessage(ctx context.Context, messageID string) error
	AddReaction(ctx context.Context, messageID, userID, emoji string, revision uint64, at time.Time) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string, revision uint64, at time.Time) error
	LoadRoom(ctx context.Context, roomID string) ([]common.Message, map[string]common.Reactions, error)
	RoomOf(ctx context.Context, messageID string) (string, error)
}

type chatRepo struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepo{db: db}
}

func (r *chatRepo) SaveMessage(ctx context.Context, msg common.Message) error {
	if err := r.db.WithContext(ctx).Create(dbmysql.MessageFromDomain(msg)).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *chatRepo) UpdateMessage(ctx context.Context, msg common.Message) error {
	result := r.db.WithContext(ctx).
		Model(&dbmysql.Message{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"body":       msg.Body,
			"edited":     msg.Edited,
			"edited_at":  msg.EditedAt,
			"pinned":     msg.Pinned,
			"revision":   msg.Revision,
			"updated_at": msg.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, common.ErrNotFound)
	}
	return nil
}

func (r *chatRepo) DeleteMessage(ctx context.Context, messageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", messageID).Delete(&dbmysql.Reaction{}).Error; err != nil {
			return fmt.Errorf("failed to delete reactions: %w", err)
		}
		result := tx.Where("id = ?", messageID).Delete(&dbmysql.Message{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete message: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("message %s: %w", messageID, common.ErrNotFound)
		}
		return nil
	})
}

func (r *chatRepo) AddReaction(ctx context.Context, messageID, userID, emoji string, revision uint64, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &dbmysql.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: at}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to add reaction: %w", err)
		}
		return bumpRevision(tx, messageID, revision, at)
	})
}

func (r *chatRepo) RemoveReaction(ctx context.Context, messageID, userID, emoji string, revision uint64, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
			Delete(&dbmysql.Reaction{}).Error
		if err != nil {
			return fmt.Errorf("failed to remove reaction: %w", err)
		}
		return bumpRevision(tx, messageID, revision, at)
	})
}

func bumpRevision(tx *gorm.DB, messageID string, revision uint64, at time.Time) error {
	result := tx.Model(&dbmysql.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{"revision": revision, "updated_at": at})
	if result.Error != nil {
		return fmt.Errorf("failed to update message revision: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", messageID, common.ErrNotFound)
	}
	return nil
}

func (r *chatRepo) LoadRoom(ctx context.Context, roomID string) ([]common.Message, map[string]common.Reactions, error) {
	var rows []dbmysql.Message
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	messages := make([]common.Message, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].ToDomain())
		ids = append(ids, rows[i].ID)
	}

	reactions := make(map[string]common.Reactions)
	if len(ids) == 0 {
		return messages, reactions, nil
	}

	var rx []dbmysql.Reaction
	if err := r.db.WithContext(ctx).Where("message_id IN ?", ids).Find(&rx).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load reactions for room %s: %w", roomID, err)
	}
	for _, row := range rx {
		set, ok := reactions[row.MessageID]
		if !ok {
			set = common.Reactions{}
			reactions[row.MessageID] = set
		}
		set.Toggle(row.Emoji, row.UserID)
	}
	return messages, reactions, nil
}

func (r *chatRepo) RoomOf(ctx context.Context, messageID string) (string, error) {
	var row dbmysql.Message
	err := r.db.WithContext(ctx).Select("room_id").Where("id = ?", messageID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("message %s: %w", messageID, common.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to locate message: %w", err)
	}
	return row.RoomID, nil
}
