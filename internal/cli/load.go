package cli

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/pcx/internal/harness"
	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/session"
)

// Fixtures is the load file: records persisted in order. Links name the
// "as" handle of an earlier record.
//
//	records:
//	  - persist: Team
//	    as: red
//	    fields: {name: Red}
//	  - persist: Member
//	    fields: {name: Ann}
//	    links: {team: red}
type Fixtures struct {
	Records []harness.PersistStep `yaml:"records"`
}

// LoadSummary reports what a load wrote.
type LoadSummary struct {
	Keys   []string       `json:"keys"`
	ByType map[string]int `json:"by_type"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [schema-dir] <fixtures.yaml>",
		Short: "Persist fixture records into a database",
		Long: `Persist the records of a YAML fixtures file in one transaction.

Either every record is written or none is. The database is created if it
does not exist.

Examples:
  pcx load --db team.db ./schema fixtures.yaml
  PCX_SCHEMA=./schema pcx load --db team.db fixtures.yaml`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			schemaDir, rest, err := schemaArgs(rootOpts, args, 1)
			if err != nil {
				return outputOpError(formatter, err)
			}
			return runLoad(cmd.Context(), rootOpts, formatter, schemaDir, rest[0])
		},
	}
	return cmd
}

func runLoad(ctx context.Context, opts *RootOptions, formatter *OutputFormatter, schemaDir, fixturesPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fixtures, err := ReadFixtures(fixturesPath)
	if err != nil {
		return outputOpError(formatter, WrapExitError(ExitCommandError, ErrCodeInput, err))
	}

	ws, err := openWorkspace(opts, schemaDir)
	if err != nil {
		return outputOpError(formatter, err)
	}
	defer ws.Close()

	summary, err := persistFixtures(ctx, ws.session, fixtures)
	if err != nil {
		return outputOpError(formatter, err)
	}
	opts.Logger().Info("fixtures loaded", "records", len(summary.Keys), "db", opts.DB)

	if formatter.IsJSON() {
		return formatter.Success(summary)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Loaded %d record(s) into %s\n", len(summary.Keys), opts.DB)
	for _, typeID := range slices.Sorted(maps.Keys(summary.ByType)) {
		fmt.Fprintf(w, "  %s: %d\n", typeID, summary.ByType[typeID])
	}
	formatter.VerboseLog("Keys: %v", summary.Keys)
	return nil
}

// ReadFixtures decodes a fixtures file. Unknown keys are rejected and
// every link must name an earlier handle.
func ReadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}
	var fixtures Fixtures
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fixtures); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures %s: %w", path, err)
	}
	if len(fixtures.Records) == 0 {
		return nil, fmt.Errorf("fixtures %s: records list is required and must be non-empty", path)
	}

	handles := make(map[string]bool)
	for i, r := range fixtures.Records {
		if r.Persist == "" {
			return nil, fmt.Errorf("records[%d]: persist is required", i)
		}
		for assoc, h := range r.Links {
			if !handles[h] {
				return nil, fmt.Errorf("records[%d].links.%s: unknown handle %q", i, assoc, h)
			}
		}
		if r.As != "" {
			if handles[r.As] {
				return nil, fmt.Errorf("records[%d]: duplicate handle %q", i, r.As)
			}
			handles[r.As] = true
		}
	}
	return &fixtures, nil
}

// persistFixtures writes every record in one transaction. On failure the
// transaction is rolled back and nothing is kept.
func persistFixtures(ctx context.Context, s *session.Session, fixtures *Fixtures) (LoadSummary, error) {
	summary := LoadSummary{Keys: []string{}, ByType: map[string]int{}}
	if err := s.Begin(ctx); err != nil {
		return summary, err
	}

	handles := make(map[string]*session.Entity)
	var entities []*session.Entity
	for i, r := range fixtures.Records {
		fields, err := ir.ObjectFromMap(r.Fields)
		if err != nil {
			_ = s.Rollback()
			return summary, WrapExitError(ExitCommandError, ErrCodeInput, fmt.Errorf("records[%d]: %w", i, err))
		}
		links := make(map[string]*session.Entity, len(r.Links))
		for assoc, h := range r.Links {
			links[assoc] = handles[h]
		}
		e, err := s.Persist(ctx, r.Persist, fields, links)
		if err != nil {
			_ = s.Rollback()
			return summary, fmt.Errorf("records[%d]: %w", i, err)
		}
		if r.As != "" {
			handles[r.As] = e
		}
		entities = append(entities, e)
	}

	if err := s.Commit(ctx); err != nil {
		_ = s.Rollback()
		return summary, err
	}
	// Keys are read after commit: assigned ids are final from persist on,
	// identity ids from the insert.
	for _, e := range entities {
		summary.Keys = append(summary.Keys, e.Key().String())
		summary.ByType[e.TypeID()]++
	}
	return summary, nil
}
