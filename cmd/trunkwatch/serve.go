package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/loykin/trunkwatch"
	"github.com/loykin/trunkwatch/internal/coordinator"
	"github.com/loykin/trunkwatch/internal/logger"
	"github.com/spf13/cobra"
)

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the trunkwatch daemon",
		Long: `Supervise the decoder, poll its telemetry and expose the control API.

Without a config file the defaults apply and TRUNKWATCH_* environment
variables override them (TRUNKWATCH_DECODER_EXECUTABLE, TRUNKWATCH_TELEMETRY_URL, ...).

Examples:
  trunkwatch serve --config=trunkwatch.toml
  trunkwatch serve trunkwatch.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path)
		},
	}
}

func runServe(ctx context.Context, path string) error {
	cfg, err := trunkwatch.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log := cfg.LoggerConfig().NewSlogger()
	if cfg.Log.Level != logger.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := trunkwatch.New(cfg, trunkwatch.WithLogger(log))
	if err != nil {
		return err
	}
	// the signal context only ends the wait; Shutdown stops the decoder
	if err := svc.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	log.Info("trunkwatch running", "config", path, "launcher", cfg.Decoder.Launcher, "telemetry", cfg.Telemetry.URL)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-svc.Done():
		log.Info("decoder supervisor stopped, shutting down")
	}
	return svc.Shutdown(coordinator.DefaultShutdownTimeout)
}
