package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "virtual-avatar-service/internal/api/grpc"
	"virtual-avatar-service/internal/app"
	"virtual-avatar-service/internal/config"
	apihttp "virtual-avatar-service/internal/http"
	"virtual-avatar-service/internal/observability"
	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/service/audio"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation service with its HTTP and gRPC endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), loadConfig())
		},
	}
}

func runServe(ctx context.Context, cfg *config.Configuration) error {
	application := app.New(cfg)
	if err := application.Start(ctx); err != nil {
		return multierr.Append(err, application.Shutdown())
	}

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return multierr.Append(fmt.Errorf("listen on gRPC port: %w", err), application.Shutdown())
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	grpcapi.Register(grpcServer, application.AudioSink, audio.StreamLimits{
		MaxAudioBytes: cfg.Ingest.MaxAudioBytes,
		MaxDuration:   cfg.Ingest.MaxDuration,
		MaxFrameBytes: cfg.Ingest.MaxFrameBytes,
	}, metrics.DefaultMetrics)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	httpServer := observability.NewServer(":"+cfg.Service.HTTPPort, apihttp.NewRouter(application))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Director.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("HTTP server started")
		return httpServer.Serve()
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC server started")
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down servers")
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	return multierr.Append(err, application.Shutdown())
}
