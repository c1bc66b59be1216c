package notif

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"filehub/internal/common"
	"filehub/internal/config"
	"filehub/internal/realtime"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Notification.Workers = 2
	cfg.Notification.ChannelBufferSize = 16
	cfg.Notification.Archive = true
	return cfg
}

// liveRoom wires a real registry with one session joined to user:<userID>.
func liveRoom(t *testing.T, userID string) (*realtime.Bus, *realtime.Session) {
	registry := realtime.NewRegistry(nil)
	bus := realtime.NewBus(registry, nil)
	s := realtime.NewSession(userID, 32)
	registry.Register(s)
	require.NoError(t, registry.Join(s.ID, realtime.UserRoom(userID)))
	return bus, s
}

func nextNotification(t *testing.T, s *realtime.Session) realtime.Notification {
	t.Helper()
	select {
	case f := <-s.Outbox():
		ev, err := realtime.DecodeEvent(f)
		require.NoError(t, err)
		n, ok := ev.(realtime.Notification)
		require.True(t, ok, "got %T", ev)
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
		return realtime.Notification{}
	}
}

func TestNotificationService_FileShared(t *testing.T) {
	bus, session := liveRoom(t, "u2")
	repo := new(MockNotificationRepository)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(e common.NotificationEvent) bool {
		return e.Type == common.FileSharedType && e.UserID == "u2" && e.ID != ""
	})).Return(nil).Once()

	svc := NewNotificationService(testConfig(), NewRoomObserver(bus), repo, nil, nil, nil)
	defer svc.Shutdown()

	event, err := svc.SendFileShared(context.Background(), FileSharedInput{
		RecipientID: "u2", SharerID: "u1", SharerName: "Alice", FileID: "f1", FileName: "report.pdf",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	require.NotNil(t, event.TriggerUserID)
	assert.Equal(t, "u1", *event.TriggerUserID)

	n := nextNotification(t, session)
	assert.Equal(t, event.ID, n.ID)
	assert.Equal(t, common.FileSharedType, n.Type)
	assert.Equal(t, "Alice shared report.pdf with you", n.Content)
	assert.Equal(t, "f1", n.Metadata["file_id"])
	repo.AssertExpectations(t)
}

func TestNotificationService_SharedFileAccessedIsAsync(t *testing.T) {
	bus, session := liveRoom(t, "owner")
	svc := NewNotificationService(testConfig(), NewRoomObserver(bus), nil, nil, nil, nil)
	defer svc.Shutdown()

	_, err := svc.SendSharedFileAccessed(context.Background(), FileAccessedInput{
		OwnerID: "owner", AccessorID: "u5", FileID: "f9", FileName: "notes.md", Action: "downloaded",
	})
	require.NoError(t, err)

	n := nextNotification(t, session)
	assert.Equal(t, common.SharedFileAccessedType, n.Type)
	assert.Equal(t, "u5 downloaded notes.md", n.Content)
}

func TestNotificationService_GroupInvitation(t *testing.T) {
	bus, session := liveRoom(t, "u3")
	svc := NewNotificationService(testConfig(), NewRoomObserver(bus), nil, nil, nil, nil)
	defer svc.Shutdown()

	_, err := svc.SendGroupInvitation(context.Background(), GroupInvitationInput{
		InviteeID: "u3", InviterID: "u1", InviterName: "Alice", GroupID: "g1", GroupName: "Algorithms",
	})
	require.NoError(t, err)

	n := nextNotification(t, session)
	assert.Equal(t, common.GroupInvitationType, n.Type)
	assert.Equal(t, "Alice invited you to join Algorithms", n.Content)
}

func TestNotificationService_Validation(t *testing.T) {
	bus, _ := liveRoom(t, "u1")
	svc := NewNotificationService(testConfig(), NewRoomObserver(bus), nil, nil, nil, nil)
	defer svc.Shutdown()
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"share without recipient", func() error {
			_, err := svc.SendFileShared(ctx, FileSharedInput{FileID: "f1"})
			return err
		}},
		{"share without file", func() error {
			_, err := svc.SendFileShared(ctx, FileSharedInput{RecipientID: "u1"})
			return err
		}},
		{"owner accessing own file", func() error {
			_, err := svc.SendSharedFileAccessed(ctx, FileAccessedInput{OwnerID: "u1", AccessorID: "u1", FileID: "f1"})
			return err
		}},
		{"invitation without group", func() error {
			_, err := svc.SendGroupInvitation(ctx, GroupInvitationInput{InviteeID: "u1"})
			return err
		}},
		{"unknown type", func() error {
			_, err := svc.SendNotification(ctx, common.NotificationEvent{
				Type: "birthday", UserID: "u1", Header: "h", Content: "c",
			})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), common.ErrInvalidInput)
		})
	}
}

func TestNotificationService_RegisterDeviceToken(t *testing.T) {
	bus, _ := liveRoom(t, "u1")
	devices := new(MockDeviceRepository)
	devices.On("CreateOrUpdate", mock.Anything, "u1", "tok", "android").Return(nil).Once()

	svc := NewNotificationService(testConfig(), NewRoomObserver(bus), nil, devices, nil, nil)
	defer svc.Shutdown()
	ctx := context.Background()

	require.NoError(t, svc.RegisterDeviceToken(ctx, "u1", "tok", "android"))
	assert.ErrorIs(t, svc.RegisterDeviceToken(ctx, "u1", "", "android"), common.ErrInvalidInput)
	assert.ErrorIs(t, svc.RegisterDeviceToken(ctx, "u1", "tok", "symbian"), common.ErrInvalidInput)
	devices.AssertExpectations(t)
}
