package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/pcx/internal/compiler"
	"github.com/roach88/pcx/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <schema-dir>",
		Short: "Compile a CUE entity mapping to JSON",
		Long: `Compile the CUE entity mapping in a directory to its resolved JSON form.

Defaults are applied (id field, identity ids, TO_ONE columns and fetch
strategies) and the result is validated before it is written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, err := LoadSchema(schemaDir)
	if err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			loadErr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
		return outputCompileError(formatter, loadErr.Code, loadErr.Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, schemaDir)
	schema := loadResult.Schema

	if errs := compiler.Validate(schema); len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}

	if opts.Output != "" {
		if err := writeSchemaToFile(schema, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
		formatter.VerboseLog("Wrote %s", opts.Output)
	}

	return outputCompileSuccess(formatter, schema, opts.Output)
}

// outputCompileSuccess prints the schema: JSON in json mode, a summary
// line per entity otherwise.
func outputCompileSuccess(formatter *OutputFormatter, schema *ir.Schema, outputFile string) error {
	if formatter.IsJSON() {
		return formatter.Success(schema)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d entities\n\n", len(schema.Entities))
	for _, et := range schema.Entities {
		fmt.Fprintf(w, "  %s (id %s, %s): %d field(s)\n", et.Name, et.IDField, et.IDStrategy, len(et.Fields))
		for _, a := range et.Associations {
			fmt.Fprintf(w, "    %s → %s %s %s\n", a.Name, a.Target, a.Cardinality, a.Fetch)
		}
	}
	if outputFile != "" {
		fmt.Fprintf(w, "\nWrote schema to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs validation errors found after compiling.
func outputCompileErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	failed := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	if formatter.IsJSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			cliErrors[i] = CLIError{Code: err.Code, Message: err.Message, Details: err.Field}
		}
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return failed
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Compilation failed")
	fmt.Fprintln(w)
	for _, err := range errs {
		fmt.Fprintf(w, "  %s: %s: %s\n", err.Code, err.Field, err.Message)
	}
	return failed
}

// writeSchemaToFile writes the compiled schema as indented JSON.
func writeSchemaToFile(schema *ir.Schema, filename string) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
