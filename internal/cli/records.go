package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kvsql/internal/query"
	"github.com/roach88/kvsql/internal/record"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	Where  []string
	Order  []string
	Limit  int
	Offset int
	Select []string
	Count  bool
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find <table> <id>",
		Short: "Print one record",
		Example: `  kvsql find book 1
  kvsql find author 3 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				return runFind(ctx, reg, f, args[0], args[1])
			})
		},
	}
}

func runFind(ctx context.Context, reg *record.Registry, f *OutputFormatter, table, rawID string) error {
	id, err := parseID(f, rawID)
	if err != nil {
		return err
	}
	rec, err := reg.Table(table).FindOrFail(ctx, id)
	if errors.Is(err, record.ErrNotFound) {
		return f.Fail(ExitFailure, ErrCodeNotFound, err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBackend, err)
	}
	return f.Result(rec, recordLine(rec))
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "List records matching a query",
		Long: `List the records of a table.

Each --where clause has the form "field operator value" and all clauses
must hold. Values are read as JSON when they parse as JSON.`,
		Example: `  kvsql list book --where "pages > 900" --order -pages
  kvsql list book --where "title like Les%" --select title,pages --limit 2
  kvsql list author --order "name natural" --count`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				return runList(ctx, reg, f, args[0], opts)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, `filter clause "field op value" (repeatable)`)
	cmd.Flags().StringArrayVar(&opts.Order, "order", nil, `sort key "field [asc|desc|natural]" or "-field" (repeatable)`)
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records (0 for all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of records to skip")
	cmd.Flags().StringSliceVar(&opts.Select, "select", nil, "attributes to keep (id is always kept)")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of matches only")

	return cmd
}

func runList(ctx context.Context, reg *record.Registry, f *OutputFormatter, table string, opts *ListOptions) error {
	q, err := query.Parse(table, opts.Where, opts.Order)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidQuery, err)
	}
	q.Limit, q.Offset, q.Select = opts.Limit, opts.Offset, opts.Select
	f.VerboseLog("Query: %s", describe(q))

	c, err := query.Apply(reg, q)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidQuery, err)
	}

	if opts.Count {
		n, err := c.Count(ctx)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeBackend, err)
		}
		return f.Result(map[string]int{"count": n}, fmt.Sprintf("%d\n", n))
	}

	recs, err := c.All(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBackend, err)
	}
	if recs == nil {
		recs = []*record.Record{}
	}
	var b strings.Builder
	for _, rec := range recs {
		b.WriteString(recordLine(rec))
	}
	fmt.Fprintf(&b, "(%d records)\n", len(recs))
	return f.Result(recs, b.String())
}

func describe(q query.Query) string {
	parts := []string{q.Table}
	if q.Filter != nil {
		parts = append(parts, "where "+q.Filter.String())
	}
	for _, o := range q.Order {
		parts = append(parts, "order "+o.String())
	}
	return strings.Join(parts, " ")
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <table> <field=value>...",
		Short: "Create a record",
		Long: `Create a record from field=value pairs.

Values are read as JSON when they parse as JSON, so pages=940 stores a
number and tags='["a","b"]' an array. An empty value stores null.`,
		Example:       `  kvsql create book title="Les Misérables" pages=1463 author_id=1`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				return runCreate(ctx, reg, f, args[0], args[1:])
			})
		},
	}
}

func runCreate(ctx context.Context, reg *record.Registry, f *OutputFormatter, table string, pairs []string) error {
	data, err := parseAssignments(pairs)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
	}
	rec, err := reg.Table(table).Create(ctx, data)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBackend, err)
	}
	f.VerboseLog("Created %s", rec)
	return f.Result(rec, recordLine(rec))
}

func parseAssignments(pairs []string) (map[string]any, error) {
	data := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		field, raw, ok := strings.Cut(pair, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("expected field=value, got %q", pair)
		}
		if field == "id" {
			return nil, fmt.Errorf("id is assigned by the store")
		}
		data[field] = query.ParseValue(raw)
	}
	return data, nil
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <table> <id>...",
		Short:         "Delete records by id",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				ids := make([]any, 0, len(args)-1)
				for _, raw := range args[1:] {
					id, err := parseID(f, raw)
					if err != nil {
						return err
					}
					ids = append(ids, id)
				}
				n, err := reg.Table(args[0]).Destroy(ctx, ids...)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeBackend, err)
				}
				return f.Result(map[string]int{"deleted": n}, fmt.Sprintf("deleted %d record(s)\n", n))
			})
		},
	}
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "drop <table>",
		Short:         "Remove every row, counter and cache entry of a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(rootOpts, cmd, func(ctx context.Context, reg *record.Registry, f *OutputFormatter) error {
				if err := reg.Table(args[0]).Drop(ctx); err != nil {
					return f.Fail(ExitCommandError, ErrCodeBackend, err)
				}
				return f.Result(map[string]string{"dropped": args[0]}, fmt.Sprintf("dropped %s\n", args[0]))
			})
		},
	}
}

// recordLine renders a record as "table#id {attributes}".
func recordLine(r *record.Record) string {
	data, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%s <%v>\n", r, err)
	}
	return fmt.Sprintf("%s %s\n", r, data)
}
