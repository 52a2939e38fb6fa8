package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/basekick-labs/insight/internal/query"
)

// NewQueryCommand creates the query command.
func NewQueryCommand(opts *RootOptions) *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "query <file>",
		Short: "Run a query document against the persisted datasets",
		Long: `Run a JSON query document against the datasets in the data directory.

The file may contain // and /* */ comments and trailing commas.
Use "-" to read the query from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0], compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print rows without indentation")
	return cmd
}

func runQuery(cmd *cobra.Command, opts *RootOptions, path string, compact bool) error {
	setupOfflineLogging(opts.Config, cmd.ErrOrStderr())

	raw, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	doc, err := decodeQueryDocument(raw)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	rt, err := openRuntime(cmd.Context(), opts.Config)
	if err != nil {
		return err
	}
	defer rt.Close()

	rows, err := rt.svc.PerformQuery(cmd.Context(), doc)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), rows, compact)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// decodeQueryDocument strips JSONC comments and trailing commas before
// decoding.
func decodeQueryDocument(raw []byte) (map[string]any, error) {
	return query.Decode(jsonc.ToJSON(raw))
}

func writeJSON(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
