// Package server wraps a gRPC server with ordered interceptors, the standard
// health service and graceful shutdown, and serves Prometheus metrics.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server is a gRPC server with a registered health service. Services are
// registered on GRPC() before Serve is called.
type Server struct {
	grpcServer      *grpc.Server
	health          *health.Server
	middlewares     []string
	shutdownTimeout time.Duration
}

// NewServer builds the interceptor chain from opts and creates the server.
func NewServer(opts ...Option) *Server {
	cfg := config{shutdownTimeout: 10 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Server{
		grpcServer:      grpc.NewServer(cfg.middlewares.ServerOptions()...),
		health:          health.NewServer(),
		middlewares:     cfg.middlewares.Names(),
		shutdownTimeout: cfg.shutdownTimeout,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s
}

// GRPC returns the underlying *grpc.Server so callers can register services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// SetServing marks service (or the whole server, for "") as serving or not
// in the health service.
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// Middlewares returns the names of the installed interceptors in execution
// order.
func (s *Server) Middlewares() []string {
	return s.middlewares
}

// Serve accepts connections on lis until ctx is done, then drains in-flight
// calls for up to the shutdown timeout. It returns nil after a shutdown
// triggered by ctx.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		s.health.Shutdown()

		drained := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(s.shutdownTimeout):
			s.grpcServer.Stop()
		}
	}()

	err := s.grpcServer.Serve(lis)
	close(done)
	<-stopped
	return err
}

// MetricsHandler serves the metrics gathered by g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
