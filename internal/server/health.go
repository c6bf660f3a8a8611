package server

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the name the extractor reports under, besides "".
const HealthService = "csf.Extractor"

// ServeHealth runs a gRPC server exposing only the standard health service
// until ctx is done. Probes that speak gRPC (Kubernetes, grpcurl) use it.
func ServeHealth(ctx context.Context, lis net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("grpc health serving", "addr", lis.Addr().String())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("grpc health shutting down")
	hs.Shutdown()
	grpcServer.GracefulStop()
	return nil
}
