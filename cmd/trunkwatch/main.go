package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds the daemon connection flags shared by client commands
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Token      string
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags, apiFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(apiFlags),
		createFrameCommand(apiFlags),
		createLifecycleCommand(apiFlags, "start", "Start the decoder"),
		createLifecycleCommand(apiFlags, "stop", "Stop the decoder"),
		createLifecycleCommand(apiFlags, "restart", "Stop and start the decoder"),
		createLifecycleCommand(apiFlags, "reset", "Clear the restart budget after the decoder has failed"),
		createLifecycleCommand(apiFlags, "shutdown", "Stop the decoder and refuse further commands"),
		createKillOrphansCommand(apiFlags),
		createMockDecoderCommand(),
		createTokenCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags, api *APIFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "trunkwatch",
		Short: "Trunked-radio decoder supervisor",
		Long: `Trunkwatch keeps an external trunked-radio decoder running and
polls it for what the radio is hearing.

Examples:
  trunkwatch serve --config=trunkwatch.toml   # Start the daemon
  trunkwatch status --watch                   # Live status
  trunkwatch restart                          # Restart the decoder
  trunkwatch mock-decoder --listen=:8080      # Stand-in decoder for testing`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&api.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:9180/api)")
	root.PersistentFlags().DurationVar(&api.APITimeout, "api-timeout", 60*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&api.Token, "token", "", "bearer token for commands (or TRUNKWATCH_TOKEN)")
	return root
}
