// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	Speech        SpeechConfig
	Playback      PlaybackConfig
	Assets        AssetsConfig
	Kafka         KafkaConfig
	Ingest        IngestConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process identity and listen ports.
type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPPort  string
}

// STTConfig selects and configures the speech recognizer.
type STTConfig struct {
	Provider       string // google, mock, none
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	Continuous     bool
	AudioEncoding  string
	Model          string
}

// SpeechConfig holds listen window timings.
type SpeechConfig struct {
	SilenceTimeout time.Duration
	RestartDelay   time.Duration
}

// PlaybackConfig selects the playback elements and crossfade timings.
type PlaybackConfig struct {
	Mode          string // virtual, remote
	SettleDelay   time.Duration
	CrossfadeHold time.Duration
	PlayTimeout   time.Duration
	// ClipDuration is the simulated length of virtual clips.
	ClipDuration time.Duration
}

// AssetsConfig locates the clip table.
type AssetsConfig struct {
	BaseURL string
	// TableFile is an optional YAML asset table that replaces the defaults.
	TableFile string
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicState      string
	TopicTranscript string
	Principal       string
	Async           bool
}

// IngestConfig bounds a single audio ingest stream.
type IngestConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
	MaxFrameBytes int
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from environment variables. Values that fail
// to parse fall back to their defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-avatar-conversation")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			Continuous:     envOrDefaultBool("STT_CONTINUOUS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:          envOrDefault("STT_MODEL", ""),
		},
		Speech: SpeechConfig{
			SilenceTimeout: envOrDefaultDuration("SPEECH_SILENCE_TIMEOUT", 8*time.Second),
			RestartDelay:   envOrDefaultDuration("SPEECH_RESTART_DELAY", 500*time.Millisecond),
		},
		Playback: PlaybackConfig{
			Mode:          envOrDefault("PLAYBACK_MODE", "virtual"),
			SettleDelay:   envOrDefaultDuration("PLAYBACK_SETTLE_DELAY", 100*time.Millisecond),
			CrossfadeHold: envOrDefaultDuration("PLAYBACK_CROSSFADE_HOLD", 300*time.Millisecond),
			PlayTimeout:   envOrDefaultDuration("PLAYBACK_PLAY_TIMEOUT", 5*time.Second),
			ClipDuration:  envOrDefaultDuration("PLAYBACK_CLIP_DURATION", 4*time.Second),
		},
		Assets: AssetsConfig{
			BaseURL:   envOrDefault("ASSET_BASE_URL", "https://virtual-video-chat.netlify.app/videos"),
			TableFile: envOrDefault("ASSET_TABLE_FILE", ""),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicState:      envOrDefault("KAFKA_TOPIC_STATE", "avatar.conversation.state"),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "avatar.conversation.transcript"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
			Async:           envOrDefaultBool("KAFKA_ASYNC", true),
		},
		Ingest: IngestConfig{
			MaxAudioBytes: envOrDefaultInt64("INGEST_MAX_AUDIO_BYTES", 5*1024*1024),
			MaxDuration:   envOrDefaultDuration("INGEST_MAX_DURATION", 5*time.Minute),
			MaxFrameBytes: envOrDefaultInt("INGEST_MAX_FRAME_BYTES", 64*1024),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
