package grpcapi

import (
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/service/audio"
	"virtual-avatar-service/internal/service/speech"
)

// Server pushes streamed audio into the recognizer.
type Server struct {
	sink    speech.AudioSink
	limits  audio.StreamLimits
	metrics *metrics.Metrics
}

// Register adds AudioIngress to g. A nil sink means the configured
// recognizer does not take pushed audio; streams are then refused.
func Register(g *grpc.Server, sink speech.AudioSink, limits audio.StreamLimits, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	s := &Server{sink: sink, limits: limits, metrics: m}
	g.RegisterService(&ServiceDesc, s)
	return s
}

// StreamAudio forwards frames until the client closes the stream.
func (s *Server) StreamAudio(stream AudioIngress_StreamAudioServer) error {
	if s.sink == nil {
		return status.Error(codes.FailedPrecondition, "configured recognizer does not accept pushed audio")
	}

	ctx := stream.Context()
	addr := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	streamId := uuid.NewString()
	h := audio.NewHandler(s.sink, streamId, addr, s.limits, s.metrics)
	defer h.Close()

	log.Info().Str("streamId", streamId).Str("peer", addr).Msg("Audio stream opened")

	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&emptypb.Empty{})
		}
		if err != nil {
			return err
		}

		if err := h.SendAudio(ctx, frame.GetValue()); err != nil {
			if errors.Is(err, audio.ErrLimitExceeded) {
				return status.Error(codes.ResourceExhausted, err.Error())
			}
			return status.Error(codes.Unavailable, err.Error())
		}
	}
}
