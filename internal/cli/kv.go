package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kvsql/internal/kvstore"
	"github.com/roach88/kvsql/internal/query"
	"github.com/roach88/kvsql/internal/record"
)

// KVOptions holds flags shared by the kv subcommands.
type KVOptions struct {
	Namespace string
	TTL       time.Duration
}

// NewKVCommand creates the kv command group over the namespaced
// key-value store.
func NewKVCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KVOptions{}

	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and write the namespaced key-value store",
		Long: `The key-value store keeps one row per key in the cachestore table,
scoped by namespace. Entries may expire.`,
	}
	cmd.PersistentFlags().StringVarP(&opts.Namespace, "namespace", "n", kvstore.DefaultNamespace, "store namespace")

	run := func(fn func(ctx context.Context, s *kvstore.Store, f *OutputFormatter, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				return fn(ctx, kvstore.New(reg, opts.Namespace), f, args)
			})
		}
	}

	get := &cobra.Command{
		Use:           "get <key>",
		Short:         "Print the value stored under a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run(runKVGet),
	}

	put := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a value under a key",
		Long: `Store a value under a key. The value is read as JSON when it parses
as JSON and as a string otherwise.`,
		Example:       `  kvsql kv put greeting '"bonjour"' --ttl 1h`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(func(ctx context.Context, s *kvstore.Store, f *OutputFormatter, args []string) error {
			if opts.TTL < 0 {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Errorf("negative ttl %s", opts.TTL))
			}
			if err := s.Put(ctx, args[0], query.ParseValue(args[1]), opts.TTL); err != nil {
				return f.Fail(ExitCommandError, ErrCodeBackend, err)
			}
			return f.Result(map[string]string{"stored": args[0]}, fmt.Sprintf("stored %s\n", args[0]))
		}),
	}
	put.Flags().DurationVar(&opts.TTL, "ttl", 0, "expire after this long (0 keeps the entry)")

	keys := &cobra.Command{
		Use:           "keys [pattern]",
		Short:         "List live keys, optionally filtered by a like pattern",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(func(ctx context.Context, s *kvstore.Store, f *OutputFormatter, args []string) error {
			pattern := "%"
			if len(args) == 1 {
				pattern = args[0]
			}
			found, err := s.Keys(ctx, pattern)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeBackend, err)
			}
			if found == nil {
				found = []string{}
			}
			text := ""
			if len(found) > 0 {
				text = strings.Join(found, "\n") + "\n"
			}
			return f.Result(found, text)
		}),
	}

	forget := &cobra.Command{
		Use:           "forget <key>",
		Short:         "Remove a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(func(ctx context.Context, s *kvstore.Store, f *OutputFormatter, args []string) error {
			ok, err := s.Forget(ctx, args[0])
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeBackend, err)
			}
			if !ok {
				return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Errorf("key %q not found", args[0]))
			}
			return f.Result(map[string]string{"forgotten": args[0]}, fmt.Sprintf("forgot %s\n", args[0]))
		}),
	}

	clean := &cobra.Command{
		Use:           "clean",
		Short:         "Remove expired entries of every namespace",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(func(ctx context.Context, s *kvstore.Store, f *OutputFormatter, _ []string) error {
			n, err := s.Clean(ctx)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeBackend, err)
			}
			return f.Result(map[string]int{"removed": n}, fmt.Sprintf("removed %d expired entries\n", n))
		}),
	}

	cmd.AddCommand(get, put, keys, forget, clean)
	return cmd
}

func runKVGet(ctx context.Context, s *kvstore.Store, f *OutputFormatter, args []string) error {
	var value any
	ok, err := s.Get(ctx, args[0], &value)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBackend, err)
	}
	if !ok {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Errorf("key %q not found", args[0]))
	}
	text, err := json.Marshal(value)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err)
	}
	return f.Result(map[string]any{"key": args[0], "value": value}, string(text)+"\n")
}
