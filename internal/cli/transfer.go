package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/kvsql/internal/cache"
	"github.com/roach88/kvsql/internal/record"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export <table>",
		Short: "Write every row of a table as a JSON array",
		Example: `  kvsql export book > books.json
  kvsql export book -o books.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				return runExport(ctx, reg, f, args[0], opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to a file instead of stdout")

	return cmd
}

func runExport(ctx context.Context, reg *record.Registry, f *OutputFormatter, table string, opts *ExportOptions) error {
	data, err := reg.Table(table).ExportJSON(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBackend, err)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, append(data, '\n'), 0o644); err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, fmt.Errorf("write %s: %w", opts.Output, err))
		}
		f.VerboseLog("Wrote %d bytes to %s", len(data)+1, opts.Output)
		return f.Result(map[string]string{"output": opts.Output}, fmt.Sprintf("exported %s to %s\n", table, opts.Output))
	}
	return f.Result(json.RawMessage(data), string(data)+"\n")
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <table> <file>",
		Short: "Store every object of a JSON array as a row",
		Long: `Import rows from a JSON array, as written by export.

Objects carrying an id keep it; the others get the next free id.
Use "-" to read from stdin.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				data, err := readInput(cmd, args[1])
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
				}
				n, err := reg.Table(args[0]).ImportJSON(ctx, data)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
				}
				return f.Result(map[string]int{"imported": n}, fmt.Sprintf("imported %d record(s)\n", n))
			})
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage per-table query caches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "flush <table>",
		Short:         "Remove every cache entry of a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				n, err := cache.New(reg.Table(args[0]), 0).Flush(ctx)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeBackend, err)
				}
				return f.Result(map[string]int64{"flushed": n}, fmt.Sprintf("flushed %d cache entries\n", n))
			})
		},
	})

	return cmd
}
