package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/pcx/internal/session"
)

// RootOptions holds global flags for all commands. After the root
// command's pre-run, flag values are merged with the config file and
// PCX_* environment variables; flags win.
type RootOptions struct {
	Config    string
	Verbose   bool
	Format    string // "json" | "text"
	DB        string
	Schema    string // default schema directory
	BatchSize int

	logger *slog.Logger
}

// Config is the file and environment form of the global options.
type Config struct {
	DB        string `mapstructure:"db"`
	Schema    string `mapstructure:"schema"`
	BatchSize int    `mapstructure:"batch_size"`
	Format    string `mapstructure:"format"`
	Verbose   bool   `mapstructure:"verbose"`
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the pcx CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "pcx",
		Short: "pcx - persistence context explorer",
		Long: `Compile entity mappings, load records and watch a persistence context fetch them.

Every find and query prints the store round trips it caused, so lazy
references, eager loading and the N+1 pattern are visible.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, cmd, opts); err != nil {
				return err
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.BatchSize < 0 {
				return fmt.Errorf("invalid batch size %d: must be non-negative", opts.BatchSize)
			}
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Config, "config", "", "config file (yaml, json or toml)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.DB, "db", "", "SQLite database path")
	flags.StringVar(&opts.Schema, "schema", "", "default schema directory")
	flags.IntVar(&opts.BatchSize, "batch-size", 0, "owners per batched eager fetch (0 disables batching)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig merges --config and PCX_* environment variables into opts.
// Explicitly set flags keep their values.
func loadConfig(v *viper.Viper, cmd *cobra.Command, opts *RootOptions) error {
	v.SetEnvPrefix("PCX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"db":         "db",
		"schema":     "schema",
		"batch_size": "batch-size",
		"format":     "format",
		"verbose":    "verbose",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if opts.Config != "" {
		v.SetConfigFile(opts.Config)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", opts.Config, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	opts.DB = cfg.DB
	opts.Schema = cfg.Schema
	opts.BatchSize = cfg.BatchSize
	opts.Format = cfg.Format
	opts.Verbose = cfg.Verbose
	return nil
}

// newLogger writes tinted logs to w. Colors are used only on a terminal.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}

// Logger returns the configured logger, or a discarding one when the
// command runs without the root pre-run.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.logger
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// schemaArgs splits positional args into a schema directory and the rest.
// The schema directory may be omitted when --schema or the config names one.
func schemaArgs(opts *RootOptions, args []string, rest int) (string, []string, error) {
	switch {
	case len(args) == rest+1:
		return args[0], args[1:], nil
	case len(args) == rest && opts.Schema != "":
		return opts.Schema, args, nil
	case len(args) == rest:
		return "", nil, WrapExitError(ExitCommandError, ErrCodeInput,
			errors.New("schema directory required: pass it as the first argument or set --schema"))
	default:
		return "", nil, WrapExitError(ExitCommandError, ErrCodeInput,
			fmt.Errorf("expected %d or %d args, got %d", rest, rest+1, len(args)))
	}
}

// requireDB returns the database path or a command error.
func requireDB(opts *RootOptions) (string, error) {
	if opts.DB == "" {
		return "", WrapExitError(ExitCommandError, ErrCodeInput,
			errors.New("database path required: set --db, PCX_DB or db in the config file"))
	}
	return opts.DB, nil
}

// outputOpError reports a failed load, find or query. Command errors keep
// their code; session errors use the session code, and a missing record
// is a failure rather than a command error.
func outputOpError(formatter *OutputFormatter, err error) error {
	return reportOpError(formatter, err, nil)
}

func reportOpError(formatter *OutputFormatter, err error, details any) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		message := exitErr.Message
		if exitErr.Err != nil {
			message = exitErr.Err.Error()
		}
		_ = formatter.Error(exitErr.Message, message, nil)
		return exitErr
	}

	code := string(session.ErrorCodeOf(err))
	exit := ExitCommandError
	switch {
	case code == "":
		code = ErrCodeGeneric
	case session.IsRecordNotFound(err):
		exit = ExitFailure
	}
	_ = formatter.Error(code, err.Error(), details)
	return WrapExitError(exit, code, err)
}
