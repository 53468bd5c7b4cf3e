package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

var managedVars = []string{
	"SERVICE_PRINCIPAL", "GRPC_PORT", "HTTP_PORT", "LOG_LEVEL", "LOG_FORMAT",
	"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ",
	"STT_INTERIM_RESULTS", "STT_CONTINUOUS", "STT_AUDIO_ENCODING",
	"SPEECH_SILENCE_TIMEOUT", "SPEECH_RESTART_DELAY",
	"PLAYBACK_MODE", "PLAYBACK_SETTLE_DELAY", "PLAYBACK_CROSSFADE_HOLD",
	"PLAYBACK_PLAY_TIMEOUT", "PLAYBACK_CLIP_DURATION",
	"ASSET_BASE_URL", "ASSET_TABLE_FILE",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_STATE", "KAFKA_TOPIC_TRANSCRIPT", "KAFKA_PRINCIPAL",
	"INGEST_MAX_AUDIO_BYTES", "INGEST_MAX_DURATION",
}

func clearEnv() {
	for _, v := range managedVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	// Service defaults
	if cfg.Service.Principal != "svc-avatar-conversation" {
		t.Errorf("expected default principal 'svc-avatar-conversation', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default port '50051', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default HTTP port '8080', got %s", cfg.Service.HTTPPort)
	}

	// STT defaults
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.STT.LanguageCode)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults || !cfg.STT.Continuous {
		t.Errorf("expected interim and continuous recognition by default, got %+v", cfg.STT)
	}

	// Conversation timings
	if cfg.Speech.SilenceTimeout != 8*time.Second {
		t.Errorf("expected default silence timeout 8s, got %v", cfg.Speech.SilenceTimeout)
	}
	if cfg.Speech.RestartDelay != 500*time.Millisecond {
		t.Errorf("expected default restart delay 500ms, got %v", cfg.Speech.RestartDelay)
	}
	if cfg.Playback.Mode != "virtual" {
		t.Errorf("expected default playback mode 'virtual', got %s", cfg.Playback.Mode)
	}
	if cfg.Playback.SettleDelay != 100*time.Millisecond || cfg.Playback.CrossfadeHold != 300*time.Millisecond {
		t.Errorf("unexpected crossfade timings %+v", cfg.Playback)
	}
	if cfg.Assets.BaseURL != "https://virtual-video-chat.netlify.app/videos" {
		t.Errorf("unexpected asset base URL %s", cfg.Assets.BaseURL)
	}

	// Kafka defaults
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"localhost:9092"}) {
		t.Errorf("expected default brokers [localhost:9092], got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.TopicState != "avatar.conversation.state" {
		t.Errorf("unexpected state topic %s", cfg.Kafka.TopicState)
	}

	// Ingest limits defaults
	if cfg.Ingest.MaxAudioBytes != 5*1024*1024 {
		t.Errorf("expected default max audio bytes 5MB, got %d", cfg.Ingest.MaxAudioBytes)
	}
	if cfg.Ingest.MaxDuration != 5*time.Minute {
		t.Errorf("expected default max duration 5m, got %v", cfg.Ingest.MaxDuration)
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("GRPC_PORT", "9999")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("STT_PROVIDER", "google")
	os.Setenv("STT_LANGUAGE_CODE", "es-ES")
	os.Setenv("STT_CONTINUOUS", "false")
	os.Setenv("SPEECH_SILENCE_TIMEOUT", "3s")
	os.Setenv("PLAYBACK_MODE", "remote")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	os.Setenv("INGEST_MAX_AUDIO_BYTES", "10485760")
	defer clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "google" {
		t.Errorf("expected STT provider 'google', got %s", cfg.STT.Provider)
	}
	if cfg.STT.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.STT.LanguageCode)
	}
	if cfg.STT.Continuous {
		t.Error("expected continuous recognition disabled")
	}
	if cfg.Speech.SilenceTimeout != 3*time.Second {
		t.Errorf("expected silence timeout 3s, got %v", cfg.Speech.SilenceTimeout)
	}
	if cfg.Playback.Mode != "remote" {
		t.Errorf("expected playback mode 'remote', got %s", cfg.Playback.Mode)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("expected brokers [k1:9092 k2:9092], got %v", cfg.Kafka.Brokers)
	}
	if cfg.Ingest.MaxAudioBytes != 10485760 {
		t.Errorf("expected max audio bytes 10485760, got %d", cfg.Ingest.MaxAudioBytes)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	os.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("STT_INTERIM_RESULTS", "invalid")
	os.Setenv("SPEECH_SILENCE_TIMEOUT", "soon")
	os.Setenv("INGEST_MAX_AUDIO_BYTES", "invalid")
	os.Setenv("INGEST_MAX_DURATION", "invalid")
	defer clearEnv()

	cfg := Load()

	// Should fall back to defaults on parse errors
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults != true {
		t.Errorf("expected default interim results on invalid input, got %v", cfg.STT.InterimResults)
	}
	if cfg.Speech.SilenceTimeout != 8*time.Second {
		t.Errorf("expected default silence timeout on invalid input, got %v", cfg.Speech.SilenceTimeout)
	}
	if cfg.Ingest.MaxAudioBytes != 5*1024*1024 {
		t.Errorf("expected default max audio bytes on invalid input, got %d", cfg.Ingest.MaxAudioBytes)
	}
	if cfg.Ingest.MaxDuration != 5*time.Minute {
		t.Errorf("expected default max duration on invalid input, got %v", cfg.Ingest.MaxDuration)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	defer clearEnv()

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected []string
	}{
		{"single", "a:1", []string{"a:1"}},
		{"spaces", " a:1 , b:2 ", []string{"a:1", "b:2"}},
		{"only commas", ",,", []string{"def"}},
		{"empty", "", []string{"def"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_LIST_VAR"
			os.Setenv(key, tt.envValue)
			defer os.Unsetenv(key)

			got := envOrDefaultList(key, []string{"def"})
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("envOrDefaultList(%q) = %v, want %v", tt.envValue, got, tt.expected)
			}
		})
	}
}
