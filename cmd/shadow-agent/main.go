// Shadow Agent - edge-device shadow synchronisation
//
// This is the main entry point for the shadow agent. The agent subscribes to
// a cloud device shadow over MQTT, keeps a local copy of the device state,
// drives an alert output, reverse-geocodes position fixes and publishes
// telemetry. A small HTTP API serves the current state to dashboards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/shadow-agent/internal/auth"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the CLI: the root command runs the agent, with
// version, token and migrate subcommands.
func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "shadow-agent",
		Short: "Run the device shadow agent.",
		Long: `Connects to the MQTT broker, follows the device shadow and alert topics,
keeps the local device state, drives the alert output and publishes telemetry.

The configuration path is taken from --config, then SHADOWAGENT_CONFIG,
then configs/config.yaml.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, resolveConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	root.AddCommand(newVersionCommand(), newTokenCommand(&configPath), newMigrateCommand(&configPath))
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "shadow-agent %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// newTokenCommand mints an API bearer token with the configured JWT secret.
func newTokenCommand(configPath *string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API.",
		Long: `Signs a JWT with security.jwt.secret from the configuration.
Viewer tokens can read state and subscribe to events; operator tokens can
also read the event journal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := auth.GenerateToken(subject, auth.Role(role), cfg.Device.ThingName, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dashboard", "caller identity recorded in the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "token role (viewer or operator)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl minutes)")
	return cmd
}

// resolveConfigPath returns the configuration file path.
// The flag wins, then SHADOWAGENT_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("SHADOWAGENT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
