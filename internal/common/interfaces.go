package common

import (
	"context"
)

type Observer interface {
	Update(event NotificationEvent) error
	Name() string
}

type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	Notify(event NotificationEvent)
	NotifyAsync(event NotificationEvent)
}

type NotificationRepository interface {
	Create(ctx context.Context, event NotificationEvent) error
	UpdateStatus(ctx context.Context, id string, status NotificationStatus) error
}

type DeviceRepository interface {
	CreateOrUpdate(ctx context.Context, userID, deviceToken, platform string) error
	ActiveTokens(ctx context.Context, userID string) ([]string, error)
	UpdateTokenStatus(ctx context.Context, token string, isActive bool) error
}

// RoomAccess answers membership questions for the command layer.
type RoomAccess interface {
	CanJoin(ctx context.Context, userID, roomID string) (bool, error)
	Role(ctx context.Context, userID, roomID string) (RoomRole, error)
}
