package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"virtual-avatar-service/internal/config"
	"virtual-avatar-service/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "avatar",
		Short:         "Virtual avatar conversation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), loadConfig())
		},
	}
	root.AddCommand(newServeCmd(), newSimulateCmd())
	return root
}

// loadConfig reads an optional .env file, then the environment, and sets up
// the global logger.
func loadConfig() *config.Configuration {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}
	cfg := config.Load()
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	return cfg
}
