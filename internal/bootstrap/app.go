package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	appgrpc "gitlab.com/timkado/api/edumate-realtime/internal/adapters/grpc"
	apphttp "gitlab.com/timkado/api/edumate-realtime/internal/adapters/http"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/middleware"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/safego"
)

// NOTE: The App struct and NewApp function are defined in providers.go for Wire.

// Run registers the local endpoints, connects when an identity is present and
// serves until SIGINT/SIGTERM or ctx cancellation, then disconnects.
func (a *App) Run(ctx context.Context) error {
	cfg := a.configProvider.Get()
	a.logger.Info(ctx, "Starting application",
		"service_name", cfg.App.ServiceName,
		"version", cfg.App.Version,
		"mode", string(a.connectionManager.Mode()),
	)

	a.registerRoutes(ctx)

	a.connectionManager.OnConnection(func(ev domain.ConnectionEvent) {
		a.grpcServer.SetConnected(ev.Connected)
	})
	if err := a.grpcServer.Start(); err != nil {
		if !errors.Is(err, appgrpc.ErrDisabled) {
			return err
		}
		a.logger.Info(ctx, "gRPC health server disabled (server.grpc_port is 0)")
	}

	if a.authEvents != nil {
		if err := a.authEvents.SubscribeAuthEvents(ctx, a.handleAuthEvent); err != nil {
			a.logger.Error(ctx, "Failed to subscribe to auth events; login/logout will not be followed", "error", err.Error())
		}
	}

	safego.Execute(ctx, a.logger, "NotificationPermissionRequest", func() {
		granted := a.connectionManager.RequestNotificationPermission(ctx)
		a.logger.Info(ctx, "Notification permission resolved", "granted", granted)
	})

	if cfg.App.AutoConnect {
		if a.connectionManager.Mode() == domain.ModeSimulated || a.authProvider.IsAuthenticated(ctx) {
			a.connectInBackground(ctx, "InitialConnect")
		} else {
			a.logger.Info(ctx, "No authenticated identity; waiting for login before connecting")
		}
	}

	safego.Execute(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}

		shutdownTimeout := 10 * time.Second
		if s := a.configProvider.Get().App.ShutdownTimeoutSeconds; s > 0 {
			shutdownTimeout = time.Duration(s) * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.logger.Info(context.Background(), "Disconnecting from the messaging backend...")
		a.connectionManager.Disconnect()
		if a.authEvents != nil {
			_ = a.authEvents.Close()
		}
		a.grpcServer.GracefulStop()

		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "HTTP server graceful shutdown failed", "error", err.Error())
		}
		a.logger.Info(context.Background(), "HTTP server shut down.")
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", cfg.Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}

func (a *App) registerRoutes(ctx context.Context) {
	wrap := func(h http.Handler) http.Handler {
		return middleware.RequestIDMiddleware(middleware.AccessLogMiddleware(a.logger)(h))
	}
	cm := a.connectionManager

	a.httpServeMux.Handle("GET /health", wrap(apphttp.HealthHandler(a.logger)))
	a.httpServeMux.Handle("GET /ready", wrap(apphttp.ReadyHandler(cm, a.logger, a.readinessChecks...)))
	a.httpServeMux.Handle("GET /status", wrap(apphttp.StatusHandler(cm, a.logger)))
	a.httpServeMux.Handle("GET /metrics", wrap(promhttp.Handler()))

	reconnectTimeout := a.configProvider.Get().Messaging.ConnectTimeout()
	apiKeyAuth := middleware.APIKeyAuthMiddleware(a.configProvider, a.logger)
	a.httpServeMux.Handle("POST /reconnect", wrap(apiKeyAuth(apphttp.ReconnectHandler(cm, a.logger, reconnectTimeout))))

	a.logger.Info(ctx, "HTTP endpoints registered", "routes", "/health,/ready,/status,/metrics,/reconnect")
}

// handleAuthEvent follows login and logout performed by the rest of the platform.
func (a *App) handleAuthEvent(ctx context.Context, ev domain.AuthEvent) {
	switch ev.Type {
	case domain.AuthEventLogin:
		a.connectInBackground(ctx, "ConnectAfterLogin")
	case domain.AuthEventLogout:
		a.logger.Info(ctx, "Logout received; disconnecting")
		a.connectionManager.Disconnect()
	default:
		a.logger.Warn(ctx, "Ignoring unknown auth event", "type", string(ev.Type))
	}
}

func (a *App) connectInBackground(ctx context.Context, name string) {
	safego.Execute(ctx, a.logger, name, func() {
		if err := a.connectionManager.Connect(ctx); err != nil {
			a.logger.Error(ctx, "Connect failed", "error", err.Error())
			return
		}
		a.logger.Info(ctx, "Connected to the messaging backend", "socket_id", a.connectionManager.SocketID())
	})
}
