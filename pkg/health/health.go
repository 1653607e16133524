package health

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server exposes the standard gRPC health service. It reports NOT_SERVING
// until SetServing(true) is called.
type Server struct {
	log *slog.Logger
	gs  *grpc.Server
	hs  *health.Server
	lis net.Listener
}

func Run(log *slog.Logger, addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	go func() {
		if err := gs.Serve(lis); err != nil {
			log.Error("grpc health server stopped", "err", err)
		}
	}()
	log.Info("grpc health listening", "addr", lis.Addr().String())
	return &Server{log: log, gs: gs, hs: hs, lis: lis}, nil
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
}

// Stop flips every service to NOT_SERVING and drains open calls.
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.gs.GracefulStop()
}
