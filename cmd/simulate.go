package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"virtual-avatar-service/internal/app"
	"virtual-avatar-service/internal/service/director"
)

type simulateOptions struct {
	clipDuration   time.Duration
	silenceTimeout time.Duration
	limit          time.Duration
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one scripted conversation with the mock recognizer and virtual playback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), opts)
		},
	}
	cmd.Flags().DurationVar(&opts.clipDuration, "clip-duration", 1500*time.Millisecond, "simulated length of each clip")
	cmd.Flags().DurationVar(&opts.silenceTimeout, "silence-timeout", 3*time.Second, "listen window silence timeout")
	cmd.Flags().DurationVar(&opts.limit, "limit", 2*time.Minute, "give up after this long")
	return cmd
}

func runSimulate(ctx context.Context, opts simulateOptions) error {
	cfg := loadConfig()
	cfg.STT.Provider = "mock"
	cfg.Playback.Mode = "virtual"
	cfg.Playback.ClipDuration = opts.clipDuration
	cfg.Speech.SilenceTimeout = opts.silenceTimeout

	ctx, cancel := context.WithTimeout(ctx, opts.limit)
	defer cancel()

	// The chat is over once it falls back to IDLE after having started.
	finished := make(chan struct{})
	var last string
	var saidGoodbye bool
	application := app.New(cfg)
	application.OnChange = func(s director.Snapshot) {
		if cur := s.String(); cur != last {
			log.Info().
				Str("from", last).
				Str("to", cur).
				Str("locator", s.Locator).
				Bool("listening", s.Listening).
				Strs("log", s.Log).
				Msg("Transition")
			last = cur
		}
		if s.State == "GOODBYE" {
			saidGoodbye = true
		}
		if saidGoodbye && !s.ChatStarted {
			select {
			case <-finished:
			default:
				close(finished)
			}
		}
	}
	if err := application.Start(ctx); err != nil {
		return multierr.Append(err, application.Shutdown())
	}

	d := application.Director
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = d.Run(ctx)
	}()

	var err error
	if err = d.Begin(ctx); err == nil {
		select {
		case <-finished:
			log.Info().Msg("Simulated conversation finished")
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = ctx.Err()
			}
		}
	}

	cancel()
	<-runDone
	return multierr.Append(err, application.Shutdown())
}
