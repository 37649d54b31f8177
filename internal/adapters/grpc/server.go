// Package grpc exposes the standard gRPC health service for the messaging client.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/safego"
)

// MessagingService is the health service name that follows the connection state.
// The empty service name reports the process itself.
const MessagingService = "edumate.realtime.Messaging"

// ErrDisabled is returned by Start when server.grpc_port is 0.
var ErrDisabled = errors.New("gRPC port not configured")

// Server wraps the gRPC server and its health service.
type Server struct {
	gsrv        *grpc.Server
	health      *health.Server
	logger      domain.Logger
	cfgProvider config.Provider
	appCtx      context.Context
	cancelCtx   context.CancelFunc
}

// NewServer creates the gRPC server. The messaging service starts NOT_SERVING.
func NewServer(appCtx context.Context, logger domain.Logger, cfgProvider config.Provider) *Server {
	gsrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gsrv, hs)
	reflection.Register(gsrv)
	hs.SetServingStatus(MessagingService, healthpb.HealthCheckResponse_NOT_SERVING)

	serverLifecycleCtx, serverLifecycleCancel := context.WithCancel(appCtx)
	return &Server{
		gsrv:        gsrv,
		health:      hs,
		logger:      logger,
		cfgProvider: cfgProvider,
		appCtx:      serverLifecycleCtx,
		cancelCtx:   serverLifecycleCancel,
	}
}

// SetConnected updates the messaging service status. It is wired to the
// connection listeners.
func (s *Server) SetConnected(connected bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(MessagingService, status)
}

// Start listens on server.grpc_port and serves in a new goroutine.
func (s *Server) Start() error {
	grpcPort := s.cfgProvider.Get().Server.GRPCPort
	if grpcPort == 0 {
		return ErrDisabled
	}
	addr := fmt.Sprintf(":%d", grpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error(s.appCtx, "Failed to listen for gRPC", "address", addr, "error", err)
		return fmt.Errorf("failed to listen for gRPC on %s: %w", addr, err)
	}
	s.serve(lis)
	return nil
}

func (s *Server) serve(lis net.Listener) {
	s.logger.Info(s.appCtx, "gRPC server starting", "address", lis.Addr().String())

	safego.Execute(s.appCtx, s.logger, "GRPCServerServe", func() {
		if err := s.gsrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error(s.appCtx, "gRPC server failed to serve", "error", err)
		}
		s.cancelCtx()
	})

	safego.Execute(s.appCtx, s.logger, "GRPCServerContextWatcher", func() {
		<-s.appCtx.Done()
		s.health.Shutdown()
		s.gsrv.GracefulStop()
		s.logger.Info(context.Background(), "gRPC server gracefully stopped")
	})
}

// GracefulStop cancels the server's lifecycle context, which stops it.
func (s *Server) GracefulStop() {
	s.cancelCtx()
}
