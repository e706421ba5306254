// Package grpcapi serves the standard gRPC health protocol so load
// balancers and probes can see whether a capture run is in flight.
package grpcapi

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CaptureService is the health service name that reports NOT_SERVING
// while the trigger gate is held.
const CaptureService = "vigil.capture"

type Server struct {
	addr   string
	logger *log.Logger
	grpc   *grpc.Server
	health *health.Server
}

func NewServer(addr string, logger *log.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(CaptureService, healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{addr: addr, logger: logger, grpc: gs, health: hs}
}

// SetCaptureBusy is wired to the gate's OnChange hook.
func (s *Server) SetCaptureBusy(busy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if busy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(CaptureService, status)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and serves.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Printf("grpc health listening on %s", lis.Addr())
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
