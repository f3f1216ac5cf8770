package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kvsql/internal/config"
	"github.com/roach88/kvsql/internal/record"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // config file; falls back to KVSQL_CONFIG, then kvsql.yaml

	now    func() time.Time    // clock override for tests
	getenv func(string) string // environment lookup, os.Getenv by default
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the kvsql CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kvsql",
		Short: "kvsql - records over key-value stores",
		Long: `Inspect and edit kvsql tables stored in memory, file, Redis or SQLite
backends. The backend layout comes from a YAML or CUE config file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default $KVSQL_CONFIG or ./kvsql.yaml)")

	// Add subcommands
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))
	cmd.AddCommand(NewKVCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openRegistry loads the configured registry. Without a config file the
// registry lives in memory for the duration of the command.
func openRegistry(ctx context.Context, opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*record.Registry, error) {
	getenv := opts.getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := config.Default()
	if path := config.Resolve(opts.Config, getenv); path != "" {
		loaded, err := config.Load(path, getenv)
		if err != nil {
			return nil, f.Fail(ExitCommandError, ErrCodeConfig, err)
		}
		cfg = loaded
		f.VerboseLog("Using config %s (%s backend)", path, cfg.Backend.Kind)
	} else {
		f.VerboseLog("No config file, using an in-memory backend")
	}

	openOpts := []config.OpenOption{
		config.WithLogger(cfg.NewLogger(cmd.ErrOrStderr(), opts.Verbose)),
	}
	if opts.now != nil {
		openOpts = append(openOpts, config.WithClock(opts.now))
	}
	reg, err := config.Open(ctx, cfg, openOpts...)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	return reg, nil
}

// withRegistry opens the registry, runs fn and closes it again.
func withRegistry(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts, cmd)
	reg, err := openRegistry(ctx, opts, cmd, f)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := reg.Close(); closeErr != nil {
			f.VerboseLog("error closing backends: %v", closeErr)
		}
	}()
	return fn(ctx, reg, f)
}

func parseID(f *OutputFormatter, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, f.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Errorf("invalid id %q", raw))
	}
	return id, nil
}
