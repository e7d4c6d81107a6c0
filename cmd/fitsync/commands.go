package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"example.com/fitsync/internal/app"
	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/config"
	"example.com/fitsync/internal/migration"
	"example.com/fitsync/internal/platform/logger"
)

type rootOptions struct {
	token   string
	owner   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "fitsync",
		Short:         "Move locally stored fitness data into the remote document store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("FITSYNC_TOKEN"), "bearer token identifying the owner (defaults to $FITSYNC_TOKEN)")
	root.PersistentFlags().StringVar(&opts.owner, "owner", "", "owner id to act as without a token (local development only)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall deadline for the command")

	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Back up local data, copy it to the remote store and verify the result",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, func(ctx context.Context, m *migration.Orchestrator) (any, error) {
					report, err := m.MigrateAllData(ctx)
					if err != nil {
						_ = writeJSON(cmd.OutOrStdout(), report)
						return nil, err
					}
					return report, nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether a migration has completed and whether a backup exists",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, func(ctx context.Context, m *migration.Orchestrator) (any, error) {
					return m.GetMigrationStatus(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Check that every migrated data type has at least one remote record",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, func(ctx context.Context, m *migration.Orchestrator) (any, error) {
					v, err := m.VerifyMigration(ctx)
					if err != nil {
						return nil, err
					}
					if !v.Passed {
						_ = writeJSON(cmd.OutOrStdout(), v)
						return nil, errors.New("verification failed")
					}
					return v, nil
				})
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Restore local data from the migration backup",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.run(cmd, func(ctx context.Context, m *migration.Orchestrator) (any, error) {
					if err := m.RollbackMigration(ctx); err != nil {
						return nil, err
					}
					return m.GetMigrationStatus(ctx)
				})
			},
		},
	)
	return root
}

// run opens the stores, resolves the caller and prints fn's result as JSON.
func (o *rootOptions) run(cmd *cobra.Command, fn func(context.Context, *migration.Orchestrator) (any, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	claims, err := o.claims(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	ctx = auth.WithClaims(ctx, claims)

	a, err := app.Open(ctx, cfg, auth.OwnerFromContext, log)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a.Migrator)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func (o *rootOptions) claims(cfg config.Config) (*auth.Claims, error) {
	switch {
	case o.token != "":
		return auth.Parse(o.token, auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	case o.owner != "":
		return &auth.Claims{Subject: o.owner}, nil
	}
	return nil, fmt.Errorf("either --token or --owner is required")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
