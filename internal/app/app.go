// Package app assembles the conversation service from its configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"virtual-avatar-service/internal/config"
	"virtual-avatar-service/internal/events"
	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/schema"
	"virtual-avatar-service/internal/service/crossfade"
	"virtual-avatar-service/internal/service/director"
	"virtual-avatar-service/internal/service/media"
	"virtual-avatar-service/internal/service/playback"
	"virtual-avatar-service/internal/service/playback/remote"
	"virtual-avatar-service/internal/service/playback/virtual"
	"virtual-avatar-service/internal/service/speech"
	"virtual-avatar-service/internal/service/speech/google"
	"virtual-avatar-service/internal/service/speech/mock"
)

const serviceName = "virtual-avatar-service"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Director  *director.Director
	Publisher *events.Publisher
	Validator *schema.Validator
	// Hub is set in remote playback mode.
	Hub *remote.Hub
	// AudioSink receives pushed audio; nil when the recognizer does not
	// take any.
	AudioSink speech.AudioSink

	recognizer speech.Recognizer
	// OnChange is passed to the director. Set it before Start.
	OnChange func(director.Snapshot)
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Virtual avatar service application created")
	return a
}

// setupLogger configures the service-level logger.
func (a *Application) setupLogger() {
	if envLevel := os.Getenv("ZEROLOG_LOG_LEVEL"); envLevel != "" {
		if parsedLevel, err := zerolog.ParseLevel(strings.ToLower(envLevel)); err == nil {
			zerolog.SetGlobalLevel(parsedLevel)
		}
	}

	if os.Getenv("ENV") == "dev" {
		a.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Str("service", serviceName).
			Str("component", "application").
			Logger()
	} else {
		a.Logger = log.With().
			Str("service", serviceName).
			Str("component", "application").
			Logger()
	}

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start builds the conversation components. The director is ready to Run
// once Start returns.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	cfg := a.Cfg

	assets, err := a.loadAssets()
	if err != nil {
		return err
	}

	rec, sink, err := a.newRecognizer(ctx)
	if err != nil {
		return err
	}
	a.recognizer = rec
	a.AudioSink = sink

	elements, err := a.newElements()
	if err != nil {
		return err
	}

	a.Validator = schema.New()
	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicState:      cfg.Kafka.TopicState,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		Principal:       cfg.Kafka.Principal,
		Async:           cfg.Kafka.Async,
		Validator:       a.Validator,
		Metrics:         metrics.DefaultMetrics,
	})

	d, err := director.New(director.Options{
		Config: director.Config{
			RestartDelay:   cfg.Speech.RestartDelay,
			SilenceTimeout: cfg.Speech.SilenceTimeout,
			Recognition: speech.Config{
				Continuous:     cfg.STT.Continuous,
				InterimResults: cfg.STT.InterimResults,
				Locale:         cfg.STT.LanguageCode,
			},
			Crossfade: crossfade.Config{
				SettleDelay: cfg.Playback.SettleDelay,
				Hold:        cfg.Playback.CrossfadeHold,
				PlayTimeout: cfg.Playback.PlayTimeout,
			},
		},
		Assets:     assets,
		Recognizer: rec,
		Elements:   elements,
		Publisher:  a.Publisher,
		OnChange:   a.OnChange,
		Metrics:    metrics.DefaultMetrics,
	})
	if err != nil {
		return fmt.Errorf("create director: %w", err)
	}
	a.Director = d

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sessionId", d.SessionID()).
		Str("sttProvider", cfg.STT.Provider).
		Str("playbackMode", cfg.Playback.Mode).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("Virtual avatar service starting")
	return nil
}

func (a *Application) loadAssets() (*media.AssetTable, error) {
	if path := a.Cfg.Assets.TableFile; path != "" {
		t, err := media.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load asset table: %w", err)
		}
		a.Logger.Info().Str("file", path).Msg("Asset table loaded")
		return t, nil
	}
	return media.DefaultAssetTable(a.Cfg.Assets.BaseURL), nil
}

// newRecognizer returns the configured recognizer and, when it takes pushed
// audio, the sink for the gRPC ingest.
func (a *Application) newRecognizer(ctx context.Context) (speech.Recognizer, speech.AudioSink, error) {
	stt := a.Cfg.STT
	switch stt.Provider {
	case "google":
		r, err := google.New(ctx, google.Config{
			SampleRateHz:  int32(stt.SampleRateHz),
			AudioEncoding: stt.AudioEncoding,
			LanguageCode:  stt.LanguageCode,
			Model:         stt.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case "mock":
		r := mock.New(mock.Options{Repeat: true})
		return r, r, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown STT provider %q", stt.Provider)
	}
}

func (a *Application) newElements() ([2]playback.Element, error) {
	switch a.Cfg.Playback.Mode {
	case "virtual":
		opts := virtual.Options{DefaultDuration: a.Cfg.Playback.ClipDuration}
		return [2]playback.Element{virtual.New("slot-0", opts), virtual.New("slot-1", opts)}, nil
	case "remote":
		a.Hub = remote.NewHub(remote.Options{Metrics: metrics.DefaultMetrics})
		slots := a.Hub.Elements()
		return [2]playback.Element{slots[0], slots[1]}, nil
	default:
		return [2]playback.Element{}, fmt.Errorf("unknown playback mode %q", a.Cfg.Playback.Mode)
	}
}

// Shutdown releases every component, collecting errors.
func (a *Application) Shutdown() error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Virtual avatar service shutting down")

	if a.Director != nil {
		a.Director.Close()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}

	var err error
	if c, ok := a.recognizer.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if a.Publisher != nil {
		err = multierr.Append(err, a.Publisher.Close())
	}
	return err
}
