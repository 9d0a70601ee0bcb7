package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/shadow-agent/internal/infrastructure/config"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/database"
	"github.com/nerrad567/shadow-agent/migrations"
)

// migrateTimeout bounds a single migrate invocation.
const migrateTimeout = 30 * time.Second

// newMigrateCommand manages the journal schema outside of a normal run.
// The agent applies pending migrations on startup; this is for inspecting
// a device and rolling back during development.
func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the journal database schema.",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withJournalDB(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
					applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
					if err != nil {
						return err
					}
					return printMigrationStatus(cmd.OutOrStdout(), applied, pending)
				})
			},
		},
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withJournalDB(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
					return db.Migrate(ctx, migrations.FS)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withJournalDB(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
					return db.MigrateDown(ctx, migrations.FS)
				})
			},
		},
	)
	return cmd
}

// withJournalDB opens the configured journal database, runs fn and closes it.
func withJournalDB(ctx context.Context, configPath string, fn func(context.Context, *database.DB) error) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(cfg.Database)
	if errors.Is(err, database.ErrDisabled) {
		return fmt.Errorf("journal database is disabled (database.enabled=false)")
	}
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI path

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	return fn(ctx, db)
}

func printMigrationStatus(w io.Writer, applied []database.MigrationRecord, pending []database.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT")
	for _, rec := range applied {
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", rec.Version, rec.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\tpending\t-\n", m.Version)
	}
	return tw.Flush()
}
