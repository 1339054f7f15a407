// Package grpcserver exposes the pipeline's liveness over gRPC.
//
// It serves the standard grpc.health.v1 service with one entry per queue
// ("pipeline.queue.<name>") plus the overall "" entry, and registers server
// reflection so grpcurl and grpc_health_probe work without protos.
package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"jobmate/pipeline-service/internal/queue"
)

// DefaultRefresh is how often queue health is re-read from the broker.
const DefaultRefresh = 15 * time.Second

// ServicePrefix prefixes the per-queue health service names.
const ServicePrefix = "pipeline.queue."

// StatusSource reports queue status. *queue.Manager implements it.
type StatusSource interface {
	Status(ctx context.Context) []queue.QueueStatus
}

// Server wraps a grpc.Server with the health service kept in sync with the
// queues.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	queues  StatusSource
	refresh time.Duration
	log     *slog.Logger
}

// NewServer constructs the server. A refresh <= 0 selects DefaultRefresh.
func NewServer(queues StatusSource, refresh time.Duration) *Server {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	s := &Server{
		health:  health.NewServer(),
		queues:  queues,
		refresh: refresh,
		log:     slog.With("component", "grpc"),
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoverUnary, s.logUnary))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	return s
}

// Refresh re-reads queue status and updates every health entry. A queue
// whose broker cannot be reached is NOT_SERVING, and so is the overall
// entry. Backlogged or failing queues stay SERVING.
func (s *Server) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, st := range s.queues.Status(ctx) {
		state := healthpb.HealthCheckResponse_SERVING
		if st.Error != "" {
			state = healthpb.HealthCheckResponse_NOT_SERVING
			overall = state
			s.log.Warn("queue unreachable", "queue", st.Name, "err", st.Error)
		}
		s.health.SetServingStatus(ServicePrefix+st.Name, state)
	}
	s.health.SetServingStatus("", overall)
}

// Serve refreshes health once, keeps it refreshed until ctx ends, and
// serves on lis until Stop.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)
	go func() {
		t := time.NewTicker(s.refresh)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Refresh(ctx)
			}
		}
	}()
	return s.grpc.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// ─── Interceptors ─────────────────────────────────────────────────────────────

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("rpc", "method", info.FullMethod, "code", status.Code(err).String(), "dur_ms", time.Since(start).Milliseconds())
	return resp, err
}

func (s *Server) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic", "method", info.FullMethod, "err", rec)
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}
