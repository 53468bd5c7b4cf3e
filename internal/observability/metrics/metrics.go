// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "virtual_avatar"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Conversation metrics
	TransitionsTotal     *prometheus.CounterVec
	ConversationsStarted prometheus.Counter
	ConversationsEnded   prometheus.Counter
	CurrentState         *prometheus.GaugeVec

	// Crossfade metrics
	CrossfadesTotal   *prometheus.CounterVec
	PlaybackFailures  prometheus.Counter
	CrossfadeDuration prometheus.Histogram
	ClipsFinished     prometheus.Counter

	// Speech metrics
	ListenWindowsOpened   prometheus.Counter
	ListenWindowsResolved *prometheus.CounterVec
	TranscriptsInterim    prometheus.Counter
	TranscriptsFinal      *prometheus.CounterVec
	RecognizerErrors      *prometheus.CounterVec

	// Audio ingest metrics
	StreamsTotal        prometheus.Counter
	StreamsActive       prometheus.Gauge
	StreamsSuccess      prometheus.Counter
	StreamsFailed       prometheus.Counter
	StreamDuration      prometheus.Histogram
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	StreamLimitExceeded *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Remote player metrics
	PlayerConnections prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Conversation metrics
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of conversation state transitions",
		}, []string{"from", "to", "reason"}),
		ConversationsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_started_total",
			Help:      "Total number of chats started",
		}),
		ConversationsEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_ended_total",
			Help:      "Total number of chats that returned to IDLE after GOODBYE",
		}),
		CurrentState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_state",
			Help:      "1 for the current conversation state, 0 otherwise",
		}, []string{"state"}),

		// Crossfade metrics
		CrossfadesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crossfades_total",
			Help:      "Total number of clip transitions by outcome",
		}, []string{"result"}),
		PlaybackFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_start_failures_total",
			Help:      "Total number of clips that failed to start playing",
		}),
		CrossfadeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crossfade_duration_seconds",
			Help:      "Time from transition request to slot swap",
			Buckets:   []float64{0.1, 0.25, 0.4, 0.5, 0.75, 1, 2, 5},
		}),
		ClipsFinished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_finished_total",
			Help:      "Total number of non-looping clips that reached their end",
		}),

		// Speech metrics
		ListenWindowsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_windows_opened_total",
			Help:      "Total number of listen windows opened",
		}),
		ListenWindowsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_windows_resolved_total",
			Help:      "Total number of listen windows by outcome",
		}, []string{"outcome"}),
		TranscriptsInterim: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total number of interim transcripts received",
		}),
		TranscriptsFinal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts by classification",
		}, []string{"category"}),
		RecognizerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_errors_total",
			Help:      "Total number of speech recognizer errors",
		}, []string{"provider", "error_type"}),

		// Audio ingest metrics
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_streams_total",
			Help:      "Total number of audio ingest streams started",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_streams_active",
			Help:      "Number of currently active audio ingest streams",
		}),
		StreamsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_streams_success_total",
			Help:      "Total number of successfully completed audio streams",
		}),
		StreamsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_streams_failed_total",
			Help:      "Total number of failed audio streams",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_stream_duration_seconds",
			Help:      "Duration of audio ingest streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		StreamLimitExceeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_stream_limit_exceeded_total",
			Help:      "Total number of times audio stream limits were exceeded",
		}, []string{"limit_type"}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		PlayerConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "player_connections",
			Help:      "Number of connected remote players",
		}),
	}
}

// RecordTransition records a conversation state change.
func (m *Metrics) RecordTransition(from, to, reason string) {
	m.TransitionsTotal.WithLabelValues(from, to, reason).Inc()
	m.CurrentState.WithLabelValues(from).Set(0)
	m.CurrentState.WithLabelValues(to).Set(1)
}

// RecordConversationStarted records a chat being started.
func (m *Metrics) RecordConversationStarted() {
	m.ConversationsStarted.Inc()
}

// RecordConversationEnded records a chat ending.
func (m *Metrics) RecordConversationEnded() {
	m.ConversationsEnded.Inc()
}

// RecordCrossfade records the outcome of a clip transition.
// result is one of completed, superseded, failed.
func (m *Metrics) RecordCrossfade(result string, durationSeconds float64) {
	m.CrossfadesTotal.WithLabelValues(result).Inc()
	if result == "completed" {
		m.CrossfadeDuration.Observe(durationSeconds)
	}
}

// RecordPlaybackFailure records a clip failing to start.
func (m *Metrics) RecordPlaybackFailure() {
	m.PlaybackFailures.Inc()
}

// RecordClipFinished records a non-looping clip reaching its end.
func (m *Metrics) RecordClipFinished() {
	m.ClipsFinished.Inc()
}

// RecordWindowOpened records a new listen window.
func (m *Metrics) RecordWindowOpened() {
	m.ListenWindowsOpened.Inc()
}

// RecordWindowResolved records how a listen window ended.
func (m *Metrics) RecordWindowResolved(outcome string) {
	m.ListenWindowsResolved.WithLabelValues(outcome).Inc()
}

// RecordInterimTranscript records an interim transcript received.
func (m *Metrics) RecordInterimTranscript() {
	m.TranscriptsInterim.Inc()
}

// RecordFinalTranscript records a final transcript and its classification.
func (m *Metrics) RecordFinalTranscript(category string) {
	m.TranscriptsFinal.WithLabelValues(category).Inc()
}

// RecordRecognizerError records a speech recognizer error.
func (m *Metrics) RecordRecognizerError(provider, errorType string) {
	m.RecognizerErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordStreamStart records a new audio stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records an audio stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordLimitExceeded records when an audio stream limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.StreamLimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordPlayerConnected records a remote player attaching.
func (m *Metrics) RecordPlayerConnected() {
	m.PlayerConnections.Inc()
}

// RecordPlayerDisconnected records a remote player detaching.
func (m *Metrics) RecordPlayerDisconnected() {
	m.PlayerConnections.Dec()
}
