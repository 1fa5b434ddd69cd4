// Package healthsrv serves the standard gRPC health protocol.  The overall
// service ("") is SERVING while the process runs; AuditService follows the
// outcome of the periodic audit chain verification.
package healthsrv

import (
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// AuditService is the health service name tracking audit chain integrity.
const AuditService = "argus.audit.v1"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	// Not serving until the first verification passes.
	s.health.SetServingStatus(AuditService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// ObserveIntegrity implements service.IntegrityObserver.
func (s *Server) ObserveIntegrity(valid bool) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !valid {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(AuditService, status)
}

// Serve blocks until Shutdown is called or lis fails.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc health listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
