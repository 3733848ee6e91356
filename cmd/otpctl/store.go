package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalix/phoneauth/internal/app"
	"github.com/signalix/phoneauth/internal/config"
	"github.com/signalix/phoneauth/internal/db"
	"github.com/signalix/phoneauth/internal/otp"
)

// withSweeper opens the configured code store and hands a sweeper to fn.
func withSweeper(ctx context.Context, opts *RootOptions, fn func(*otp.Sweeper) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.CodeStore == config.StoreMemory {
		return fmt.Errorf("CODE_STORE=memory lives inside the server process, use the /admin/otp routes instead")
	}

	var database *sql.DB
	if cfg.CodeStore == config.StorePostgres {
		database, err = db.Open(ctx, cfg.DatabaseURL, opts.logger)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	store, closeStore, err := app.OpenCodeStore(ctx, cfg, database, opts.logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	publisher := app.NewPublisher(cfg, opts.logger)
	defer func() { _ = publisher.Close() }()

	return fn(otp.NewSweeper(store, publisher, opts.logger))
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired codes once and report counts",
		Long: `Run the expiry sweeper once against the configured CODE_STORE.

Examples:
  otpctl sweep
  otpctl sweep --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSweeper(cmd.Context(), opts, func(s *otp.Sweeper) error {
				report, err := s.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSON {
					return printJSON(out, report)
				}
				fmt.Fprintf(out, "deleted %d expired codes in %s\n", report.Deleted, report.Duration)
				fmt.Fprintf(out, "before: total=%d active=%d expired=%d verified=%d\n",
					report.Before.Total, report.Before.Active, report.Before.Expired, report.Before.Verified)
				fmt.Fprintf(out, "after:  total=%d active=%d expired=%d verified=%d\n",
					report.After.Total, report.After.Active, report.After.Expired, report.After.Verified)
				return nil
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show code counts by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSweeper(cmd.Context(), opts, func(s *otp.Sweeper) error {
				stats, err := s.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSON {
					return printJSON(out, stats)
				}
				fmt.Fprintf(out, "total=%d active=%d expired=%d verified=%d\n",
					stats.Total, stats.Active, stats.Expired, stats.Verified)
				return nil
			})
		},
	}
}
