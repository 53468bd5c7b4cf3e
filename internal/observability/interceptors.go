package observability

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"virtual-avatar-service/internal/observability/logging"
	"virtual-avatar-service/internal/observability/metrics"
)

// UnaryServerInterceptor logs unary calls (health checks, reflection).
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		st, _ := status.FromError(err)
		l := logging.WithComponent("grpc")
		l.Debug().
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC unary call")

		return resp, err
	}
}

// StreamServerInterceptor records ingest stream metrics and logs completion.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RecordStreamStart()

		err := handler(srv, ss)

		duration := time.Since(start)
		success := err == nil
		m.RecordStreamEnd(success, duration.Seconds())

		st, _ := status.FromError(err)
		l := logging.WithComponent("grpc")
		l.Info().
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", duration).
			Bool("success", success).
			Msg("gRPC stream completed")

		return err
	}
}
