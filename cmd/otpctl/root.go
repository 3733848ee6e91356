package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Verbose bool
	JSON    bool

	logger *zap.Logger
}

// NewRootCommand creates the otpctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "otpctl",
		Short:         "Operate the phone OTP service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.EnvFile != "" {
				// A missing file is fine, env vars still apply.
				_ = godotenv.Load(opts.EnvFile)
			}
			level := "warn"
			if opts.Verbose {
				level = "debug"
			}
			logger, err := logging.New("development", level, "console")
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print results as JSON")

	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
