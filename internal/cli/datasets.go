package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basekick-labs/insight/internal/schema"
)

// NewDatasetsCommand creates the datasets listing command.
func NewDatasetsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the persisted datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupOfflineLogging(opts.Config, cmd.ErrOrStderr())

			rt, err := openRuntime(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer rt.Close()

			return writeJSON(cmd.OutOrStdout(), rt.svc.ListDatasets(cmd.Context()), false)
		},
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <id> <sections|rooms> <archive.zip>",
		Short: "Ingest a zip archive as a new dataset",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupOfflineLogging(opts.Config, cmd.ErrOrStderr())

			kind, err := schema.ParseKind(args[1])
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[2])
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}

			rt, err := openRuntime(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer rt.Close()

			ids, err := rt.svc.AddDataset(cmd.Context(), args[0], kind, content)
			if err != nil {
				return err
			}
			log.Info().
				Str("dataset", args[0]).
				Str("kind", string(kind)).
				Int("datasets", len(ids)).
				Msg("Dataset added")
			return writeJSON(cmd.OutOrStdout(), ids, false)
		},
	}
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a persisted dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupOfflineLogging(opts.Config, cmd.ErrOrStderr())

			rt, err := openRuntime(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer rt.Close()

			removed, err := rt.svc.RemoveDataset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), removed, false)
		},
	}
}
