package notif

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"filehub/internal/common"
	"filehub/internal/config"
)

type FileSharedInput struct {
	RecipientID string `json:"recipient_id"`
	SharerID    string `json:"sharer_id"`
	SharerName  string `json:"sharer_name"`
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
}

type FileAccessedInput struct {
	OwnerID      string `json:"owner_id"`
	AccessorID   string `json:"accessor_id"`
	AccessorName string `json:"accessor_name"`
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name"`
	Action       string `json:"action"` // viewed, downloaded, commented
}

type GroupInvitationInput struct {
	InviteeID   string `json:"invitee_id"`
	InviterID   string `json:"inviter_id"`
	InviterName string `json:"inviter_name"`
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name"`
}

// NotificationService builds cross-feature notifications and hands them to
// the observers: the user room, the archive and, when configured, FCM.
type NotificationService struct {
	manager    *NotificationManager
	deviceRepo common.DeviceRepository
	logger     *slog.Logger
	now        func() time.Time
}

func NewNotificationService(
	cfg *config.Config,
	room *RoomObserver,
	repo common.NotificationRepository,
	deviceRepo common.DeviceRepository,
	fcmClient MulticastSender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	manager := NewNotificationManager(cfg.Notification.Workers, cfg.Notification.ChannelBufferSize, logger)

	manager.Subscribe(room)
	if cfg.Notification.Archive && repo != nil {
		manager.Subscribe(NewDatabaseNotificationObserver(repo))
	}
	if fcmClient != nil && deviceRepo != nil {
		manager.Subscribe(NewFCMNotificationObserver(fcmClient, deviceRepo, logger))
	}

	return &NotificationService{
		manager:    manager,
		deviceRepo: deviceRepo,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SendNotification delivers event to every observer before returning.
func (s *NotificationService) SendNotification(ctx context.Context, event common.NotificationEvent) (common.NotificationEvent, error) {
	event, err := s.prepare(event)
	if err != nil {
		return event, err
	}
	s.manager.Notify(event)
	s.logger.Info("notification sent", "type", event.Type, "user", event.UserID, "id", event.ID)
	return event, nil
}

// SendNotificationAsync queues event for the worker pool.
func (s *NotificationService) SendNotificationAsync(ctx context.Context, event common.NotificationEvent) (common.NotificationEvent, error) {
	event, err := s.prepare(event)
	if err != nil {
		return event, err
	}
	s.manager.NotifyAsync(event)
	return event, nil
}

func (s *NotificationService) SendFileShared(ctx context.Context, in FileSharedInput) (common.NotificationEvent, error) {
	if in.FileID == "" {
		return common.NotificationEvent{}, fmt.Errorf("file_id is required: %w", common.ErrInvalidInput)
	}
	name := displayName(in.SharerName, in.SharerID)
	return s.SendNotification(ctx, common.NotificationEvent{
		Type:          common.FileSharedType,
		UserID:        in.RecipientID,
		TriggerUserID: optional(in.SharerID),
		Header:        "File shared with you",
		Content:       fmt.Sprintf("%s shared %s with you", name, fileLabel(in.FileName)),
		Metadata: common.NotificationMetadata{
			"file_id":   in.FileID,
			"file_name": in.FileName,
			"shared_by": in.SharerID,
		},
	})
}

// SendSharedFileAccessed is high volume, so it goes through the worker pool.
func (s *NotificationService) SendSharedFileAccessed(ctx context.Context, in FileAccessedInput) (common.NotificationEvent, error) {
	if in.FileID == "" {
		return common.NotificationEvent{}, fmt.Errorf("file_id is required: %w", common.ErrInvalidInput)
	}
	if in.OwnerID != "" && in.OwnerID == in.AccessorID {
		return common.NotificationEvent{}, fmt.Errorf("owner accessed own file: %w", common.ErrInvalidInput)
	}
	action := in.Action
	if action == "" {
		action = "opened"
	}
	name := displayName(in.AccessorName, in.AccessorID)
	return s.SendNotificationAsync(ctx, common.NotificationEvent{
		Type:          common.SharedFileAccessedType,
		UserID:        in.OwnerID,
		TriggerUserID: optional(in.AccessorID),
		Header:        "Shared file activity",
		Content:       fmt.Sprintf("%s %s %s", name, action, fileLabel(in.FileName)),
		Metadata: common.NotificationMetadata{
			"file_id":     in.FileID,
			"file_name":   in.FileName,
			"accessed_by": in.AccessorID,
			"action":      action,
		},
	})
}

func (s *NotificationService) SendGroupInvitation(ctx context.Context, in GroupInvitationInput) (common.NotificationEvent, error) {
	if in.GroupID == "" {
		return common.NotificationEvent{}, fmt.Errorf("group_id is required: %w", common.ErrInvalidInput)
	}
	group := in.GroupName
	if group == "" {
		group = "a study group"
	}
	return s.SendNotification(ctx, common.NotificationEvent{
		Type:          common.GroupInvitationType,
		UserID:        in.InviteeID,
		TriggerUserID: optional(in.InviterID),
		Header:        "Study group invitation",
		Content:       fmt.Sprintf("%s invited you to join %s", displayName(in.InviterName, in.InviterID), group),
		Metadata: common.NotificationMetadata{
			"group_id":   in.GroupID,
			"group_name": in.GroupName,
			"invited_by": in.InviterID,
		},
	})
}

func (s *NotificationService) RegisterDeviceToken(ctx context.Context, userID, token, platform string) error {
	if s.deviceRepo == nil {
		return fmt.Errorf("push delivery is not configured: %w", common.ErrNotFound)
	}
	if token == "" {
		return fmt.Errorf("device token is required: %w", common.ErrInvalidInput)
	}
	switch platform {
	case "ios", "android", "web":
	default:
		return fmt.Errorf("unknown platform %q: %w", platform, common.ErrInvalidInput)
	}
	return s.deviceRepo.CreateOrUpdate(ctx, userID, token, platform)
}

func (s *NotificationService) Shutdown() {
	s.manager.Shutdown()
}

func (s *NotificationService) prepare(event common.NotificationEvent) (common.NotificationEvent, error) {
	if err := validateEvent(event); err != nil {
		return event, fmt.Errorf("invalid notification event: %w", err)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	return event, nil
}

func validateEvent(event common.NotificationEvent) error {
	if event.UserID == "" {
		return fmt.Errorf("user ID is required: %w", common.ErrInvalidInput)
	}
	if strings.TrimSpace(event.Header) == "" || strings.TrimSpace(event.Content) == "" {
		return fmt.Errorf("header and content are required: %w", common.ErrInvalidInput)
	}
	switch event.Type {
	case common.FileSharedType, common.SharedFileAccessedType, common.GroupInvitationType:
		return nil
	}
	return fmt.Errorf("unknown notification type %q: %w", event.Type, common.ErrInvalidInput)
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	if id != "" {
		return id
	}
	return "Someone"
}

func fileLabel(name string) string {
	if name == "" {
		return "a file"
	}
	return name
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
