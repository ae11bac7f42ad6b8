package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/trunkwatch/internal/logger"
	"github.com/loykin/trunkwatch/internal/simulator"
	"github.com/spf13/cobra"
)

// createMockDecoderCommand creates the mock-decoder subcommand
func createMockDecoderCommand() *cobra.Command {
	var (
		listen string
		seed   uint64
		fault  string
		level  string
	)
	cmd := &cobra.Command{
		Use:   "mock-decoder",
		Short: "Serve synthetic decoder telemetry",
		Long: `Run a stand-in decoder that answers both telemetry protocols
(GET for json, POST update for op25) with generated traffic.

Faults can be injected at start or changed at runtime:
  curl -X PUT 'http://127.0.0.1:8080/_sim/fault?mode=hang'

Examples:
  trunkwatch mock-decoder --listen=127.0.0.1:8080
  trunkwatch mock-decoder --fault=garbage`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := simulator.ParseFault(fault)
			if err != nil {
				return err
			}
			lvl, err := logger.ParseLevel(level)
			if err != nil {
				return err
			}
			log := logger.Config{Slog: logger.SlogConfig{Level: lvl, Format: logger.FormatText, TimeStamps: true}}.NewSlogger()
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			srv := simulator.NewServer(simulator.NewTraffic(seed), log)
			srv.SetFault(f)
			if err := srv.Listen(listen); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "mock decoder on http://%s/ (seed %d, fault %s)\n", srv.Addr(), seed, f)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "address to serve on")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "traffic seed (0 picks one)")
	cmd.Flags().StringVar(&fault, "fault", "none", "initial fault: none, hang, error, garbage")
	cmd.Flags().StringVar(&level, "log-level", "info", "log level")
	return cmd
}
