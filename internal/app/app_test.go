package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtual-avatar-service/internal/config"
	"virtual-avatar-service/internal/service/director"
)

func testConfig() *config.Configuration {
	return &config.Configuration{
		STT: config.STTConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			InterimResults: true,
			Continuous:     true,
		},
		Speech: config.SpeechConfig{
			SilenceTimeout: time.Second,
			RestartDelay:   10 * time.Millisecond,
		},
		Playback: config.PlaybackConfig{
			Mode:          "virtual",
			SettleDelay:   time.Millisecond,
			CrossfadeHold: time.Millisecond,
			PlayTimeout:   time.Second,
			ClipDuration:  time.Second,
		},
		Assets: config.AssetsConfig{BaseURL: "https://cdn.example.com/clips"},
	}
}

func TestApplication_StartVirtualMock(t *testing.T) {
	snaps := make(chan director.Snapshot, 16)
	a := New(testConfig())
	a.OnChange = func(s director.Snapshot) {
		select {
		case snaps <- s:
		default:
		}
	}
	require.NoError(t, a.Start(context.Background()))

	assert.NotNil(t, a.Director)
	assert.NotNil(t, a.AudioSink, "mock recognizer takes pushed audio")
	assert.Nil(t, a.Hub)
	assert.False(t, a.Publisher.Enabled())
	assert.Contains(t, a.Validator.EventTypes(), "conversation.state_changed")
	assert.False(t, a.StartupTime.IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Director.Run(ctx)
	}()

	select {
	case s := <-snaps:
		assert.Equal(t, "IDLE", s.State)
		assert.Equal(t, "https://cdn.example.com/clips/idle.mp4", s.Locator)
	case <-time.After(time.Second):
		t.Fatal("expected the IDLE clip to be shown")
	}

	cancel()
	<-done
	assert.NoError(t, a.Shutdown())
}

func TestApplication_RemotePlayback(t *testing.T) {
	cfg := testConfig()
	cfg.Playback.Mode = "remote"
	cfg.STT.Provider = "none"

	a := New(cfg)
	require.NoError(t, a.Start(context.Background()))
	assert.NotNil(t, a.Hub)
	assert.Nil(t, a.AudioSink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Director.Run(ctx)
	}()
	cancel()
	<-done
	assert.NoError(t, a.Shutdown())
}

func TestApplication_InvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Configuration)
	}{
		{"unknown provider", func(c *config.Configuration) { c.STT.Provider = "whisper" }},
		{"unknown playback mode", func(c *config.Configuration) { c.Playback.Mode = "canvas" }},
		{"missing asset file", func(c *config.Configuration) {
			c.Assets.TableFile = filepath.Join(os.TempDir(), "no-such-asset-table.yaml")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(cfg)
			a := New(cfg)
			assert.Error(t, a.Start(context.Background()))
			assert.Nil(t, a.Director)
		})
	}
}
