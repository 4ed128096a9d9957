package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pcx/internal/compiler"
	"github.com/roach88/pcx/internal/ir"
)

// LoadResult is a compiled but not yet validated schema.
type LoadResult struct {
	Schema    *ir.Schema
	CUEValue  cue.Value
	FileCount int
}

// LoadError represents an error that occurred while loading a schema.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchema evaluates the CUE package in dir and compiles its entities.
// Every failure is a *LoadError. The result still needs compiler.Validate.
func LoadSchema(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	value, err := compiler.BuildDir(dir)
	if err != nil {
		return nil, convertCompileError(err, ErrCodeLoadFailed)
	}

	schema, err := compiler.CompileSchema(value)
	if err != nil {
		return nil, convertCompileError(err, ErrCodeGeneric)
	}

	return &LoadResult{Schema: schema, CUEValue: value, FileCount: len(cueFiles)}, nil
}

// LoadValidSchema is LoadSchema followed by compiler.Validate. Validation
// failures come back as one *LoadError carrying the first code.
func LoadValidSchema(dir string) (*ir.Schema, error) {
	result, err := LoadSchema(dir)
	if err != nil {
		return nil, err
	}
	if errs := compiler.Validate(result.Schema); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, &LoadError{Code: errs[0].Code, Message: "invalid schema: " + strings.Join(msgs, "; ")}
	}
	return result.Schema, nil
}

// FindCUEFiles returns the .cue files directly inside dir. Subdirectories
// are separate CUE packages and are not loaded.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// convertCompileError converts a compiler error to a LoadError with
// position info. fallback is used when the error carries no field.
func convertCompileError(err error, fallback string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		code := MapFieldToErrorCode(compileErr.Field)
		if code == compiler.ErrInvalidFieldType && strings.Contains(compileErr.Message, "float") {
			code = compiler.ErrFloatTypeForbidden
		}
		if code == ErrCodeGeneric {
			code = fallback
		}
		return &LoadError{Code: code, Message: compileErr.Message, Pos: compileErr.Pos}
	}
	return &LoadError{Code: fallback, Message: err.Error()}
}

// Error code constants shared by all commands. Schema validation codes
// (E100-E109) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE evaluation failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeStore       = "E008" // Database open or write failed
	ErrCodeInput       = "E009" // Bad fixtures file, id or filter
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case field == "entity":
		return compiler.ErrNoEntities
	case field == "type":
		return compiler.ErrInvalidFieldType
	case field == "id.field":
		return compiler.ErrInvalidIDField
	case field == "id.strategy",
		strings.HasSuffix(field, ".target"),
		strings.HasSuffix(field, ".cardinality"),
		strings.HasSuffix(field, ".fetch"):
		return compiler.ErrInvalidEnum
	case strings.HasSuffix(field, ".column"):
		return compiler.ErrInvalidColumn
	case strings.HasSuffix(field, ".mapped_by"):
		return compiler.ErrInvalidMappedBy
	default:
		return ErrCodeGeneric
	}
}
