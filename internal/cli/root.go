// Package cli implements the insight command line: the HTTP server plus
// offline dataset management and querying against the same data directory.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basekick-labs/insight/internal/config"
)

// RootOptions holds global flags and the loaded configuration.
type RootOptions struct {
	LogLevel string
	Config   *config.Config
}

// NewRootCommand creates the insight root command. Without a subcommand
// it runs the server.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "insight",
		Short:         "Structured queries over sections and rooms datasets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = opts.LogLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			opts.Config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, version)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts, version))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewDatasetsCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))

	return cmd
}
