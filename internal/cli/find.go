package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/pcx/internal/ir"
)

// FindResult is a found record and the round trips it took.
type FindResult struct {
	Record RecordView `json:"record"`
	FetchReport
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find [schema-dir] <type> <id>",
		Short: "Find one record by primary key",
		Long: `Find one record by primary key in a fresh session.

EAGER associations are loaded with it; LAZY ones are shown as references
that were not fetched. The id is read as JSON when it parses (1, "A-1"),
otherwise as a string.

Examples:
  pcx find --db team.db ./schema Member 1
  pcx find --db team.db --format json ./schema Team 2`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			schemaDir, rest, err := schemaArgs(rootOpts, args, 2)
			if err != nil {
				return outputOpError(formatter, err)
			}
			return runFind(cmd.Context(), rootOpts, formatter, schemaDir, rest[0], rest[1])
		},
	}
	return cmd
}

func runFind(ctx context.Context, opts *RootOptions, formatter *OutputFormatter, schemaDir, typeID, rawID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := openWorkspace(opts, schemaDir)
	if err != nil {
		return outputOpError(formatter, err)
	}
	defer ws.Close()

	e, err := ws.session.FindByKey(ctx, typeID, parseID(rawID))
	if err != nil {
		return ws.fail(formatter, err)
	}
	view, err := ws.view(ctx, e)
	if err != nil {
		return ws.fail(formatter, err)
	}

	result := FindResult{Record: view, FetchReport: ws.report()}
	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	printRecord(formatter.Writer, result.Record)
	printReport(formatter.Writer, result.FetchReport)
	return nil
}

// parseID reads a command-line primary key: JSON when valid, else a string.
func parseID(raw string) ir.IRValue {
	if v, err := ir.ParseValue([]byte(raw)); err == nil {
		return v
	}
	return ir.IRString(raw)
}
