package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/pcx/internal/ir"
)

// BuildDir loads the CUE package in dir and evaluates it.
func BuildDir(dir string) (cue.Value, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("load %s: no CUE instances", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("load %s: %w", dir, formatCUEError(inst.Err))
	}

	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("build %s: %w", dir, formatCUEError(err))
	}
	return v, nil
}

// LoadDir compiles and validates the schema defined by the CUE files in dir.
// Eager cycles are not errors; callers that care run AnalyzeEagerCycles.
func LoadDir(dir string) (*ir.Schema, error) {
	v, err := BuildDir(dir)
	if err != nil {
		return nil, err
	}
	schema, err := CompileSchema(v)
	if err != nil {
		return nil, err
	}
	if errs := Validate(schema); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid schema in %s:\n  %s", dir, strings.Join(msgs, "\n  "))
	}
	return schema, nil
}
