package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/loykin/trunkwatch/pkg/client"
	"github.com/spf13/cobra"
)

const tokenEnv = "TRUNKWATCH_TOKEN"

func newClient(f *APIFlags) *client.Client {
	token := f.Token
	if token == "" {
		token = os.Getenv(tokenEnv)
	}
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout, Token: token})
}

// createStatusCommand creates the status subcommand
func createStatusCommand(api *APIFlags) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show decoder and telemetry status",
		Long: `Show the daemon's status snapshot.

Examples:
  trunkwatch status
  trunkwatch status --json
  trunkwatch status --watch --interval=500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(api)
			out := cmd.OutOrStdout()
			if !watch {
				return showStatus(cmd.Context(), c, out, asJSON)
			}
			return watchStatus(cmd.Context(), c, out, interval)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "refresh until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "refresh interval for --watch")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw snapshot as JSON")
	return cmd
}

func showStatus(ctx context.Context, c *client.Client, out io.Writer, asJSON bool) error {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(out, st)
	}
	_, err = fmt.Fprintln(out, renderStatus(st))
	return err
}

func watchStatus(ctx context.Context, c *client.Client, out io.Writer, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var view string
		if st, err := c.Status(ctx); err != nil {
			view = errStyle.Render("daemon unreachable: " + err.Error())
		} else {
			view = renderStatus(st)
		}
		// clear screen and home the cursor
		_, _ = fmt.Fprint(out, "\033[H\033[2J", view, "\n")
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// createFrameCommand creates the frame subcommand
func createFrameCommand(api *APIFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Show the latest decoded frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := newClient(api).Frame(cmd.Context())
			if errors.Is(err, client.ErrNoFrame) {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("no frame received yet"))
				return err
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), f)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderFrame(f))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the frame as JSON")
	return cmd
}

// createLifecycleCommand creates one of start, stop, restart, reset, shutdown
func createLifecycleCommand(api *APIFlags, name, short string) *cobra.Command {
	var (
		noWait  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient(api).Command(cmd.Context(), name, !noWait, timeout)
			if err != nil {
				return err
			}
			return printCommandResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the command is queued")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long the daemon waits for the command (default 30s)")
	return cmd
}

func printCommandResult(out io.Writer, res client.CommandResult) error {
	verb := "done"
	if res.Queued {
		verb = "queued"
	}
	_, err := fmt.Fprintf(out, "%s %s, decoder %s\n", res.Command, verb, stateStyle(res.State).Render(res.State))
	return err
}

// createKillOrphansCommand creates the kill-orphans subcommand
func createKillOrphansCommand(api *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kill-orphans",
		Short: "Terminate decoder processes the daemon does not own",
		RunE: func(cmd *cobra.Command, args []string) error {
			killed, err := newClient(api).KillOrphans(cmd.Context())
			if err != nil {
				return err
			}
			if len(killed) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no orphaned decoder processes")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "killed %d process(es): %v\n", len(killed), killed)
			return err
		},
	}
}
