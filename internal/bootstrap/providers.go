package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/auth"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	appgrpc "gitlab.com/timkado/api/edumate-realtime/internal/adapters/grpc"
	apphttp "gitlab.com/timkado/api/edumate-realtime/internal/adapters/http"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/logger"
	appnats "gitlab.com/timkado/api/edumate-realtime/internal/adapters/nats"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/polling"
	appredis "gitlab.com/timkado/api/edumate-realtime/internal/adapters/redis"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/simulated"
	wsadapter "gitlab.com/timkado/api/edumate-realtime/internal/adapters/websocket"
	"gitlab.com/timkado/api/edumate-realtime/internal/application"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// InitialZapLoggerProvider provides a basic *zap.Logger instance, primarily for config initialization.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger (production and development failed, falling back to example): %v\n", err)
		}
	}

	cleanup := func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return logger, cleanup, nil
}

// App is the messaging client daemon.
type App struct {
	configProvider    config.Provider
	logger            domain.Logger
	httpServeMux      *http.ServeMux
	httpServer        *http.Server
	grpcServer        *appgrpc.Server
	connectionManager *application.ConnectionManager
	authProvider      domain.AuthProvider
	authEvents        domain.AuthEventSubscriber // nil unless auth.source is redis
	readinessChecks   []apphttp.DependencyCheck
}

// NewApp is the constructor for App, also for Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	grpcSrv *appgrpc.Server,
	connManager *application.ConnectionManager,
	authProvider domain.AuthProvider,
	authEvents domain.AuthEventSubscriber,
	checks []apphttp.DependencyCheck,
) (*App, func(), error) {
	app := &App{
		configProvider:    cfgProvider,
		logger:            appLogger,
		httpServeMux:      mux,
		httpServer:        server,
		grpcServer:        grpcSrv,
		connectionManager: connManager,
		authProvider:      authProvider,
		authEvents:        authEvents,
		readinessChecks:   checks,
	}

	cleanup := func() {
		app.logger.Info(context.Background(), "Running app cleanup...")
		app.connectionManager.Disconnect()
		if app.authEvents != nil {
			_ = app.authEvents.Close()
		}
		app.grpcServer.GracefulStop()
	}
	return app, cleanup, nil
}

// ConfigProvider provides the application configuration.
func ConfigProvider(appCtx context.Context, logger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger)
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides the HTTP server for the local endpoints.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	appCfg := cfgProvider.Get()
	// /reconnect may wait for a full connect timeout.
	writeTimeout := appCfg.Messaging.ConnectTimeout() + 5*time.Second

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// RedisClientProvider provides a Redis client when auth.source is redis, and nil otherwise.
func RedisClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (*redis.Client, func(), error) {
	appCfg := cfgProvider.Get()
	if appCfg.Auth.Source != "redis" {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     appCfg.Redis.Address,
		Password: appCfg.Redis.Password,
		DB:       appCfg.Redis.DB,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		appLogger.Error(context.Background(), "Failed to connect to Redis", "error", err.Error(), "address", appCfg.Redis.Address)
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", appCfg.Redis.Address, err)
	}
	cleanup := func() {
		client.Close()
		appLogger.Info(context.Background(), "Redis connection closed")
	}
	appLogger.Info(context.Background(), "Successfully connected to Redis", "address", appCfg.Redis.Address)
	return client, cleanup, nil
}

// AuthProviderProvider selects the token source named by auth.source.
func AuthProviderProvider(cfgProvider config.Provider, logger domain.Logger, redisClient *redis.Client) domain.AuthProvider {
	if redisClient != nil {
		return appredis.NewTokenStore(redisClient, logger, cfgProvider.Get().Auth.Profile)
	}
	return auth.NewStaticProvider(cfgProvider, logger)
}

// AuthEventSubscriberProvider provides the login/logout feed, which only exists for the Redis token store.
func AuthEventSubscriberProvider(cfgProvider config.Provider, logger domain.Logger, redisClient *redis.Client) domain.AuthEventSubscriber {
	if redisClient == nil {
		return nil
	}
	return appredis.NewAuthEventsSubscriber(redisClient, logger, cfgProvider.Get().Auth.Profile)
}

// NatsNotificationHostProvider connects the notification bridge when nats.url is set.
func NatsNotificationHostProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*appnats.NotificationHost, func(), error) {
	if cfgProvider.Get().NATS.URL == "" {
		appLogger.Info(ctx, "nats.url not set; system notifications are disabled")
		return nil, func() {}, nil
	}
	return appnats.NewNotificationHost(ctx, cfgProvider, appLogger)
}

// NotificationHostProvider exposes the bridge as a domain.NotificationHost, keeping
// an absent bridge a nil interface.
func NotificationHostProvider(h *appnats.NotificationHost) domain.NotificationHost {
	if h == nil {
		return nil
	}
	return h
}

// DialerProvider builds the live dialer chain from messaging.transports.
func DialerProvider(cfgProvider config.Provider, logger domain.Logger) (domain.Dialer, error) {
	var dialers []domain.Dialer
	for _, name := range cfgProvider.Get().Messaging.Transports {
		switch name {
		case "websocket":
			dialers = append(dialers, wsadapter.NewDialer(logger, cfgProvider))
		case "polling":
			dialers = append(dialers, polling.NewDialer(logger, cfgProvider, nil))
		default:
			return nil, fmt.Errorf("unknown messaging transport %q", name)
		}
	}
	if len(dialers) == 0 {
		return nil, fmt.Errorf("messaging.transports is empty")
	}
	return application.NewFallbackDialer(logger, dialers...), nil
}

// MessagingTransportProvider picks the live or simulated transport from messaging.mode.
func MessagingTransportProvider(cfgProvider config.Provider, logger domain.Logger, authProvider domain.AuthProvider, dialer domain.Dialer) domain.MessagingTransport {
	cfg := cfgProvider.Get().Messaging
	if domain.Mode(cfg.Mode) == domain.ModeSimulated {
		logger.Info(context.Background(), "Messaging runs in simulated mode; no network connection is made")
		return simulated.NewTransport(logger, cfg.SimulatedSocketID)
	}
	return application.NewLiveTransport(logger, authProvider, dialer, application.ReconnectPolicyFromConfig(cfg), cfg.AckTimeout())
}

// ConnectionManagerProvider provides the ConnectionManager.
func ConnectionManagerProvider(
	logger domain.Logger,
	cfgProvider config.Provider,
	transport domain.MessagingTransport,
	authProvider domain.AuthProvider,
	host domain.NotificationHost,
) *application.ConnectionManager {
	return application.NewConnectionManager(logger, cfgProvider, transport, authProvider, host)
}

// GRPCServerProvider provides the gRPC health server.
func GRPCServerProvider(appCtx context.Context, logger domain.Logger, cfgProvider config.Provider) *appgrpc.Server {
	return appgrpc.NewServer(appCtx, logger, cfgProvider)
}

// ReadinessChecksProvider collects the dependency checks behind GET /ready.
func ReadinessChecksProvider(redisClient *redis.Client, host *appnats.NotificationHost) []apphttp.DependencyCheck {
	var checks []apphttp.DependencyCheck
	if redisClient != nil {
		checks = append(checks, apphttp.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if host != nil {
		checks = append(checks, apphttp.DependencyCheck{Name: "nats", Check: host.Ping})
	}
	return checks
}

// ProviderSet is the Wire provider set for the entire application.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,

	// Infrastructure Adapters
	RedisClientProvider,
	AuthProviderProvider,
	AuthEventSubscriberProvider,
	NatsNotificationHostProvider,
	NotificationHostProvider,
	DialerProvider,
	MessagingTransportProvider,

	// Application Services
	ConnectionManagerProvider,
	GRPCServerProvider,
	ReadinessChecksProvider,
	NewApp,
)
