// Package grpc provides the gRPC health endpoint served beside background
// processes.
package grpc

import (
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves grpc.health.v1 for the overall server ("") and a set of
// named services that share one status.
type HealthServer struct {
	server   *gogrpc.Server
	health   *health.Server
	services []string
}

// NewHealthServer creates a health server reporting NOT_SERVING until
// SetServing is called.
func NewHealthServer(services ...string) *HealthServer {
	s := &HealthServer{
		server:   gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler())),
		health:   health.NewServer(),
		services: append([]string{""}, services...),
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	s.SetServing(false)
	return s
}

// SetServing updates the status of every registered service.
func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	for _, service := range s.services {
		s.health.SetServingStatus(service, status)
	}
}

// Serve accepts connections on lis until Stop is called. It returns nil after
// a Stop.
func (s *HealthServer) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("serve gRPC health: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs, forcing the
// server closed after timeout.
func (s *HealthServer) Stop(timeout time.Duration) {
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		s.server.Stop()
		<-stopped
	}
}
