package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
	"github.com/roach88/pcx/internal/session"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Where    string
	Fetch    []string // join-fetched associations
	Follow   []string // associations traversed on every row after the query
	Bind     []string // name=value pairs for bound.name
	Distinct bool
}

// QueryResult is the query's rows and the round trips they took.
type QueryResult struct {
	Query string       `json:"query"`
	Rows  []RecordView `json:"rows"`
	FetchReport
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query [schema-dir] <type>",
		Short: "Run a query and show its fetch plan at work",
		Long: `Run a query in a fresh session and print the rows and every store round trip.

An EAGER TO_ONE fetched one key at a time shows up as one fetch_key per
row (the N+1 pattern). --batch-size collapses those into "in" queries and
--fetch loads an association inline from the result rows. --follow walks
an association on every row afterwards, which is how lazy N+1 appears.

Examples:
  pcx query --db team.db ./schema Member
  pcx query --db team.db ./schema Member --batch-size 10
  pcx query --db team.db ./schema Team --fetch members --distinct
  pcx query --db team.db ./schema Member --where "team_id == bound.team" --bind team=1
  pcx query --db team.db ./schema Member --follow team`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			schemaDir, rest, err := schemaArgs(rootOpts, args, 1)
			if err != nil {
				return outputOpError(formatter, err)
			}
			return runQuery(cmd.Context(), opts, formatter, schemaDir, rest[0])
		},
	}

	cmd.Flags().StringVar(&opts.Where, "where", "", `filter, e.g. "name == 'Ann'" or "id in [1, 2]"`)
	cmd.Flags().StringArrayVar(&opts.Fetch, "fetch", nil, "join-fetch an association (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Follow, "follow", nil, "traverse an association on every row (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Bind, "bind", nil, "bound variable as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Distinct, "distinct", false, "collapse repeated owners")

	return cmd
}

func runQuery(ctx context.Context, opts *QueryOptions, formatter *OutputFormatter, schemaDir, typeID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q, bound, err := buildQuery(opts, typeID)
	if err != nil {
		return outputOpError(formatter, WrapExitError(ExitCommandError, ErrCodeInput, err))
	}

	ws, err := openWorkspace(opts.RootOptions, schemaDir)
	if err != nil {
		return outputOpError(formatter, err)
	}
	defer ws.Close()

	formatter.VerboseLog("Query: %s (batch size %d)", q, opts.BatchSize)
	rows, err := ws.session.ExecuteQuery(ctx, q, bound)
	if err != nil {
		return ws.fail(formatter, err)
	}
	for _, e := range rows {
		for _, name := range opts.Follow {
			if err := follow(ctx, e, name); err != nil {
				return ws.fail(formatter, err)
			}
		}
	}

	result := QueryResult{Query: q.String(), Rows: make([]RecordView, 0, len(rows))}
	for _, e := range rows {
		v, err := ws.view(ctx, e)
		if err != nil {
			return ws.fail(formatter, err)
		}
		result.Rows = append(result.Rows, v)
	}
	result.FetchReport = ws.report()

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "%s: %d row(s)\n\n", result.Query, len(result.Rows))
	for _, v := range result.Rows {
		printRecord(w, v)
	}
	printReport(w, result.FetchReport)
	return nil
}

// buildQuery turns the flags into a Select and its bound variables.
func buildQuery(opts *QueryOptions, typeID string) (queryir.Select, ir.IRObject, error) {
	q := queryir.Select{From: typeID, Distinct: opts.Distinct}
	if opts.Where != "" {
		filter, err := queryir.ParseFilter(opts.Where)
		if err != nil {
			return q, nil, err
		}
		q.Filter = filter
	}
	for _, name := range opts.Fetch {
		q.Fetch = append(q.Fetch, queryir.JoinFetch{Association: name})
	}

	bound := ir.IRObject{}
	for _, pair := range opts.Bind {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return q, nil, fmt.Errorf("invalid --bind %q: want name=value", pair)
		}
		bound[name] = parseID(raw)
	}
	return q, bound, nil
}

// follow traverses one association of e and initializes what it reaches.
func follow(ctx context.Context, e *session.Entity, name string) error {
	et := e.TypeID()
	target, err := e.Ref(ctx, name)
	if err == nil {
		if target == nil {
			return nil
		}
		_, err = target.Fields(ctx)
		return err
	}
	if session.ErrorCodeOf(err) != session.ErrCodeUnknownAssociation {
		return err
	}
	if _, err := e.Collection(ctx, name); err != nil {
		return fmt.Errorf("follow %s.%s: %w", et, name, err)
	}
	return nil
}
