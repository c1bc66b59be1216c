package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	"filehub/internal/chat/handler"
	"filehub/internal/chat/service"
	"filehub/internal/common"
	"filehub/internal/config"
	"filehub/internal/dbmongo"
	"filehub/internal/dbmysql"
	"filehub/internal/media"
	"filehub/internal/notif"
	"filehub/internal/realtime"
)

// Application holds everything main needs to serve and shut down.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Registry      *realtime.Registry
	Router        *mux.Router
	GRPCServer    *grpc.Server
	Notifications *notif.NotificationService
}

func ProvideDatabase(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := dbmysql.NewDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

// ProvideMongo connects to the attachment store. It returns a nil client when
// Mongo is disabled.
func ProvideMongo(cfg *config.Config, logger *slog.Logger) (*dbmongo.MongoClient, func(), error) {
	if !cfg.MongoDB.Enabled {
		logger.Info("mongodb disabled, attachments are stored as references only")
		return nil, func() {}, nil
	}
	client, err := dbmongo.NewMongoConnection(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("mongodb connected", "database", cfg.MongoDB.Database, "bucket", cfg.MongoDB.Bucket)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			logger.Warn("mongodb disconnect", "error", err)
		}
	}
	return client, cleanup, nil
}

func ProvideAttachmentResolver(client *dbmongo.MongoClient) service.AttachmentResolver {
	if client == nil {
		return service.RefOnly{}
	}
	return dbmongo.NewAttachmentStore(client)
}

// ProvideMediaServer returns nil when there is no file store to download from.
func ProvideMediaServer(client *dbmongo.MongoClient, access common.RoomAccess, tokens *common.TokenManager, logger *slog.Logger) *media.HTTPServer {
	if client == nil {
		return nil
	}
	return media.NewHTTPServer(dbmongo.NewAttachmentStore(client), access, tokens, logger)
}

func ProvideTokenManager(cfg *config.Config) *common.TokenManager {
	return common.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
}

func ProvideMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideRealtimeMetrics(reg *prometheus.Registry, registry *realtime.Registry) *realtime.Metrics {
	return realtime.NewMetrics(reg, registry)
}

func ProvideBus(registry *realtime.Registry, metrics *realtime.Metrics, logger *slog.Logger) *realtime.Bus {
	return realtime.NewBus(registry, logger).WithMetrics(metrics)
}

func ProvideDispatcher(cfg *config.Config, chat *service.ChatService, registry *realtime.Registry, bus *realtime.Bus, logger *slog.Logger) *handler.Dispatcher {
	return handler.NewDispatcher(chat, registry, bus, cfg.Realtime.OutboxSize, logger).
		WithRateLimit(cfg.Realtime.CommandRate, cfg.Realtime.CommandBurst)
}

func ProvideWSHandler(cfg *config.Config, dispatcher *handler.Dispatcher, tokens *common.TokenManager, logger *slog.Logger) *handler.WSHandler {
	return handler.NewWSHandler(dispatcher, tokens, cfg.Realtime, logger)
}

func ProvideFirebaseApp(cfg *config.Config, logger *slog.Logger) (*firebase.App, error) {
	if !cfg.Firebase.Enabled {
		logger.Info("firebase disabled")
		return nil, nil
	}
	if cfg.Firebase.CredentialsFilePath == "" {
		logger.Warn("firebase enabled without credentials, push delivery off")
		return nil, nil
	}

	opt := option.WithCredentialsFile(cfg.Firebase.CredentialsFilePath)
	app, err := firebase.NewApp(context.Background(), &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	return app, nil
}

// ProvideMulticastSender returns a nil interface, not a typed nil, when push
// delivery is off.
func ProvideMulticastSender(app *firebase.App) (notif.MulticastSender, error) {
	if app == nil {
		return nil, nil
	}
	client, err := app.Messaging(context.Background())
	if err != nil {
		return nil, fmt.Errorf("fcm client: %w", err)
	}
	return client, nil
}

func ProvideNotificationService(
	cfg *config.Config,
	room *notif.RoomObserver,
	repo common.NotificationRepository,
	deviceRepo common.DeviceRepository,
	fcm notif.MulticastSender,
	logger *slog.Logger,
) (*notif.NotificationService, func()) {
	svc := notif.NewNotificationService(cfg, room, repo, deviceRepo, fcm, logger)
	return svc, svc.Shutdown
}

func ProvideNotificationHandler(cfg *config.Config, svc *notif.NotificationService, tokens *common.TokenManager, logger *slog.Logger) *notif.NotificationHandler {
	return notif.NewNotificationHandler(svc, tokens, cfg.Server.InternalToken, logger)
}

func ProvideRouter(
	httpHandler *handler.HTTPHandler,
	ws *handler.WSHandler,
	notifications *notif.NotificationHandler,
	files *media.HTTPServer,
	reg *prometheus.Registry,
	logger *slog.Logger,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLogger(logger))
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	notifications.RegisterRoutes(router)
	if files != nil {
		files.RegisterRoutes(router)
	}
	httpHandler.RegisterRoutes(router, ws)
	return router
}

func ProvideGRPCServer(tokens *common.TokenManager, syncHandler *handler.GRPCHandler) *grpc.Server {
	server := grpc.NewServer(
		grpc.UnaryInterceptor(tokens.AuthInterceptor()),
		grpc.StreamInterceptor(tokens.StreamAuthInterceptor()),
	)
	handler.RegisterSyncServer(server, syncHandler)
	return server
}

func requestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
