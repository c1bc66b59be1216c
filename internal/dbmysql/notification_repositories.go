package dbmysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"filehub/internal/common"
)

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) common.NotificationRepository {
	return &notificationRepository{
		db: db,
	}
}

func (r *notificationRepository) Create(ctx context.Context, event common.NotificationEvent) error {
	notif := &Notification{
		ID:            event.ID,
		UserID:        event.UserID,
		Header:        event.Header,
		Content:       event.Content,
		Type:          string(event.Type),
		Status:        string(common.StatusSent),
		TriggerUserID: event.TriggerUserID,
		Metadata:      event.Metadata,
		CreatedAt:     event.CreatedAt,
	}

	if err := r.db.WithContext(ctx).Create(notif).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) UpdateStatus(ctx context.Context, id string, status common.NotificationStatus) error {
	result := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update notification status: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", id, common.ErrNotFound)
	}

	return nil
}

type deviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) common.DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) CreateOrUpdate(ctx context.Context, userID, deviceToken, platform string) error {
	device := &Device{
		DeviceToken:  deviceToken,
		UserID:       userID,
		Platform:     platform,
		IsActive:     true,
		RegisteredAt: time.Now(),
		LastActive:   time.Now(),
	}

	if err := r.db.WithContext(ctx).Save(device).Error; err != nil {
		return fmt.Errorf("failed to create/update device: %w", err)
	}
	return nil
}

func (r *deviceRepository) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := r.db.WithContext(ctx).
		Model(&Device{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("last_active DESC").
		Pluck("device_token", &tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}
	return tokens, nil
}

func (r *deviceRepository) UpdateTokenStatus(ctx context.Context, token string, isActive bool) error {
	err := r.db.WithContext(ctx).
		Model(&Device{}).
		Where("device_token = ?", token).
		Update("is_active", isActive).Error
	if err != nil {
		return fmt.Errorf("failed to update token status: %w", err)
	}
	return nil
}
