// Package api exposes the status of long-running optimizer and harvest
// processes: a gRPC health service and a Prometheus metrics endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"emagrid/internal/config"
)

// SearchService is the health service name that turns SERVING once a grid
// search has completed.
const SearchService = "emagrid.search"

// Server hosts the optional gRPC health and HTTP metrics listeners. A zero
// port or empty address disables the corresponding listener.
type Server struct {
	grpcPort    int
	metricsAddr string
	linger      time.Duration

	health  *health.Server
	metrics *Metrics
	gs      *grpc.Server
	hs      *http.Server
	grpcLis net.Listener
	httpLis net.Listener
	log     *slog.Logger
}

// NewServer creates a Server from the server section of the config. The
// search service starts NOT_SERVING.
func NewServer(cfg config.Server, m *Metrics) *Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(SearchService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{
		grpcPort:    cfg.GRPCPort,
		metricsAddr: cfg.MetricsAddr,
		linger:      cfg.Linger,
		health:      h,
		metrics:     m,
		log:         slog.Default().With("component", "api"),
	}
}

// Health returns the health service, for in-process checks.
func (s *Server) Health() *health.Server { return s.health }

// SetSearchDone flips the search service to SERVING (done) or NOT_SERVING.
func (s *Server) SetSearchDone(done bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if done {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(SearchService, st)
}

// Start binds the enabled listeners and serves them in the background.
// Bind errors are returned; serve errors are logged.
func (s *Server) Start(_ context.Context) error {
	if s.grpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.grpcPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		s.grpcLis = lis
		s.gs = grpc.NewServer()
		healthpb.RegisterHealthServer(s.gs, s.health)
		go func() {
			if err := s.gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.log.Error("grpc serve failed", "err", err)
			}
		}()
		s.log.Info("grpc health listening", "addr", lis.Addr().String())
	}

	if s.metricsAddr != "" && s.metrics != nil {
		lis, err := net.Listen("tcp", s.metricsAddr)
		if err != nil {
			s.stopGRPC()
			return fmt.Errorf("metrics listen: %w", err)
		}
		s.httpLis = lis
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		s.hs = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := s.hs.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics serve failed", "err", err)
			}
		}()
		s.log.Info("metrics listening", "addr", lis.Addr().String())
	}
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s.httpLis == nil {
		return ""
	}
	return s.httpLis.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// Linger blocks for the configured linger period while a listener is up,
// returning early when ctx is done. It returns at once when nothing listens.
func (s *Server) Linger(ctx context.Context) {
	if s.linger <= 0 || (s.grpcLis == nil && s.httpLis == nil) {
		return
	}
	s.log.Info("lingering before shutdown", "for", s.linger)
	t := time.NewTimer(s.linger)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Shutdown stops both listeners, waiting for in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	s.stopGRPC()
	if s.hs != nil {
		return s.hs.Shutdown(ctx)
	}
	return nil
}

func (s *Server) stopGRPC() {
	if s.gs != nil {
		s.gs.GracefulStop()
	}
}
