package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/loykin/trunkwatch"
	"github.com/loykin/trunkwatch/internal/auth"
	"github.com/spf13/cobra"
)

// createTokenCommand creates the token subcommand
func createTokenCommand(globalFlags *GlobalFlags) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
		secret  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Sign a bearer token with the daemon's jwt_secret. Roles: admin,
operator (decoder commands), viewer (read only).

Examples:
  trunkwatch token --config=trunkwatch.toml --subject=ops --role=operator
  TRUNKWATCH_TOKEN=$(trunkwatch token --secret=... ) trunkwatch restart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := auth.Config{JWTSecret: secret, TokenTTL: ttl}
			if cfg.JWTSecret == "" {
				if globalFlags.ConfigPath == "" {
					return errors.New("a jwt secret is required: use --secret or --config")
				}
				c, err := trunkwatch.LoadConfig(globalFlags.ConfigPath)
				if err != nil {
					return fmt.Errorf("error loading config: %w", err)
				}
				ac := c.AuthConfig()
				if ac == nil {
					return errors.New("server.jwt_secret is not set in the config")
				}
				cfg.JWTSecret = ac.JWTSecret
				if cfg.TokenTTL <= 0 {
					cfg.TokenTTL = ac.TokenTTL
				}
			}
			svc, err := auth.NewService(cfg)
			if err != nil {
				return err
			}
			tok, err := svc.Issue(subject, roles)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok.Value)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "trunkwatch-cli", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"operator"}, "role to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config or 24h)")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (overrides the config)")
	return cmd
}
