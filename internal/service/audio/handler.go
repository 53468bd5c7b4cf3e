// Package audio forwards pushed microphone audio to the active recognizer
// while enforcing per-stream limits.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"virtual-avatar-service/internal/observability/logging"
	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/service/speech"
)

// ErrLimitExceeded is returned once a stream breaks one of its limits. The
// stream is finished at that point; further frames are refused.
var ErrLimitExceeded = errors.New("stream limit exceeded")

// StreamLimits bounds one ingest stream.
type StreamLimits struct {
	MaxAudioBytes int64         // Max audio accepted per stream
	MaxDuration   time.Duration // Max stream duration
	MaxFrameBytes int           // Max size of a single frame
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() StreamLimits {
	return StreamLimits{
		MaxAudioBytes: 5 * 1024 * 1024, // 5MB (~160 seconds at 16kHz 16-bit mono)
		MaxDuration:   5 * time.Minute,
		MaxFrameBytes: 64 * 1024,
	}
}

// Stats holds usage of one stream.
type Stats struct {
	AudioBytes int64
	Frames     int
	// Dropped counts frames that arrived while no listen window was open.
	Dropped  int
	Duration time.Duration
}

// Handler accounts for one ingest stream.
type Handler struct {
	sink     speech.AudioSink
	limits   StreamLimits
	streamId string
	started  time.Time
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu         sync.Mutex
	audioBytes int64
	frames     int
	dropped    int
	exceeded   string
}

// NewHandler creates a handler feeding sink. A nil metrics uses the
// default registry.
func NewHandler(sink speech.AudioSink, streamId, peer string, limits StreamLimits, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		sink:     sink,
		limits:   limits,
		streamId: streamId,
		started:  time.Now(),
		metrics:  m,
		log:      logging.WithStream(streamId, peer),
	}
}

// SendAudio forwards one frame. Frames that arrive while the avatar is not
// listening are discarded without error.
func (h *Handler) SendAudio(ctx context.Context, audio []byte) error {
	if err := h.admit(len(audio)); err != nil {
		return err
	}
	h.metrics.RecordAudioReceived(len(audio))

	err := h.sink.SendAudio(ctx, audio)
	if errors.Is(err, speech.ErrNotStreaming) {
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		return nil
	}
	return err
}

func (h *Handler) admit(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.exceeded != "" {
		return fmt.Errorf("%w: %s", ErrLimitExceeded, h.exceeded)
	}

	var reason, limitType string
	switch {
	case h.limits.MaxFrameBytes > 0 && n > h.limits.MaxFrameBytes:
		limitType = "frame_bytes"
		reason = fmt.Sprintf("frame too large: %d > %d", n, h.limits.MaxFrameBytes)
	case h.limits.MaxAudioBytes > 0 && h.audioBytes+int64(n) > h.limits.MaxAudioBytes:
		limitType = "audio_bytes"
		reason = fmt.Sprintf("max audio bytes exceeded: %d > %d", h.audioBytes+int64(n), h.limits.MaxAudioBytes)
	case h.limits.MaxDuration > 0 && time.Since(h.started) > h.limits.MaxDuration:
		limitType = "duration"
		reason = fmt.Sprintf("max duration exceeded: %v > %v", time.Since(h.started).Round(time.Millisecond), h.limits.MaxDuration)
	}
	if reason != "" {
		h.exceeded = reason
		h.metrics.RecordLimitExceeded(limitType)
		h.log.Warn().Str("limit", limitType).Msg(reason)
		return fmt.Errorf("%w: %s", ErrLimitExceeded, reason)
	}

	h.audioBytes += int64(n)
	h.frames++
	return nil
}

// Stats returns current stream usage.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		AudioBytes: h.audioBytes,
		Frames:     h.frames,
		Dropped:    h.dropped,
		Duration:   time.Since(h.started),
	}
}

// Close logs the stream summary.
func (h *Handler) Close() {
	s := h.Stats()
	h.log.Info().
		Int64("audioBytes", s.AudioBytes).
		Int("frames", s.Frames).
		Int("dropped", s.Dropped).
		Dur("duration", s.Duration.Round(time.Millisecond)).
		Msg("Audio stream closed")
}
