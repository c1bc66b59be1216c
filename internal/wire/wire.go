//go:build wireinject
// +build wireinject

package wire

import (
	"log/slog"

	"github.com/google/wire"

	"filehub/internal/chat/handler"
	"filehub/internal/chat/repository"
	"filehub/internal/chat/service"
	"filehub/internal/chat/store"
	"filehub/internal/common"
	"filehub/internal/config"
	"filehub/internal/dbmysql"
	"filehub/internal/notif"
	"filehub/internal/realtime"
	"filehub/internal/rooms"
)

var storageSet = wire.NewSet(
	ProvideDatabase,
	ProvideMongo,
	ProvideAttachmentResolver,
	ProvideMediaServer,
	repository.NewChatRepository,
	dbmysql.NewNotificationRepository,
	dbmysql.NewDeviceRepository,
	rooms.NewAccess,
	wire.Bind(new(common.RoomAccess), new(*rooms.Access)),
)

var realtimeSet = wire.NewSet(
	realtime.NewRegistry,
	ProvideMetricsRegistry,
	ProvideRealtimeMetrics,
	ProvideBus,
	wire.Bind(new(realtime.Publisher), new(*realtime.Bus)),
	store.New,
	service.NewChatService,
	ProvideDispatcher,
	ProvideWSHandler,
	handler.NewHTTPHandler,
	handler.NewGRPCHandler,
	ProvideGRPCServer,
)

var notificationSet = wire.NewSet(
	ProvideFirebaseApp,
	ProvideMulticastSender,
	notif.NewRoomObserver,
	ProvideNotificationService,
	ProvideNotificationHandler,
)

func InitializeApplication(cfg *config.Config, logger *slog.Logger) (*Application, func(), error) {
	wire.Build(
		storageSet,
		realtimeSet,
		notificationSet,
		ProvideTokenManager,
		ProvideRouter,
		wire.Struct(new(Application), "*"),
	)
	return nil, nil, nil
}
