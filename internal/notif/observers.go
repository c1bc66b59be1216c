package notif

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"

	"filehub/internal/common"
	"filehub/internal/realtime"
)

const observerTimeout = 10 * time.Second

// RoomObserver pushes notifications to the recipient's user room.
type RoomObserver struct {
	publisher realtime.Publisher
}

func NewRoomObserver(publisher realtime.Publisher) *RoomObserver {
	return &RoomObserver{publisher: publisher}
}

func (o *RoomObserver) Name() string {
	return "room_observer"
}

func (o *RoomObserver) Update(event common.NotificationEvent) error {
	return o.publisher.Publish(realtime.UserRoom(event.UserID), realtime.Notification{
		ID:        event.ID,
		Type:      event.Type,
		Header:    event.Header,
		Content:   event.Content,
		Metadata:  event.Metadata,
		CreatedAt: event.CreatedAt,
	})
}

// DatabaseNotificationObserver archives every notification.
type DatabaseNotificationObserver struct {
	repo common.NotificationRepository
}

func NewDatabaseNotificationObserver(repo common.NotificationRepository) *DatabaseNotificationObserver {
	return &DatabaseNotificationObserver{
		repo: repo,
	}
}

func (d *DatabaseNotificationObserver) Name() string {
	return "database_observer"
}

func (d *DatabaseNotificationObserver) Update(event common.NotificationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()

	if err := d.repo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

// MulticastSender is the part of the FCM client used for push delivery.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMNotificationObserver pushes notifications to the recipient's registered devices.
type FCMNotificationObserver struct {
	fcmClient  MulticastSender
	deviceRepo common.DeviceRepository
	logger     *slog.Logger
}

func NewFCMNotificationObserver(fcmClient MulticastSender, deviceRepo common.DeviceRepository, logger *slog.Logger) *FCMNotificationObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMNotificationObserver{
		fcmClient:  fcmClient,
		deviceRepo: deviceRepo,
		logger:     logger,
	}
}

func (f *FCMNotificationObserver) Name() string {
	return "fcm_observer"
}

func (f *FCMNotificationObserver) Update(event common.NotificationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()

	tokens, err := f.deviceRepo.ActiveTokens(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to get devices: %w", err)
	}
	if len(tokens) == 0 {
		f.logger.Debug("no active devices", "user", event.UserID)
		return nil
	}

	fcmMessage := &messaging.MulticastMessage{
		Notification: &messaging.Notification{
			Title: event.Header,
			Body:  event.Content,
		},
		Data: map[string]string{
			"type":            string(event.Type),
			"user_id":         event.UserID,
			"notification_id": event.ID,
		},
		Tokens: tokens,
	}
	for key, value := range event.Metadata {
		if strValue, ok := value.(string); ok {
			fcmMessage.Data[key] = strValue
		}
	}

	response, err := f.fcmClient.SendEachForMulticast(ctx, fcmMessage)
	if err != nil {
		return fmt.Errorf("failed to send FCM: %w", err)
	}

	f.handleFailedTokens(ctx, response, tokens)
	f.logger.Info("fcm notification sent",
		"user", event.UserID, "success", response.SuccessCount, "failure", response.FailureCount)
	return nil
}

func (f *FCMNotificationObserver) handleFailedTokens(ctx context.Context, response *messaging.BatchResponse, tokens []string) {
	for i, result := range response.Responses {
		if result.Success || i >= len(tokens) {
			continue
		}
		if !messaging.IsRegistrationTokenNotRegistered(result.Error) && !messaging.IsInvalidArgument(result.Error) {
			continue
		}
		if err := f.deviceRepo.UpdateTokenStatus(ctx, tokens[i], false); err != nil {
			f.logger.Warn("failed to update token status", "token", tokens[i], "error", err)
			continue
		}
		f.logger.Info("marked invalid token as inactive", "token", tokens[i])
	}
}
