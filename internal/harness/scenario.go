package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one behavior test: a seeded store, a sequence of session
// operations with per-step expectations, and final assertions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the directory holding the CUE mapping files.
	// Relative paths resolve against the scenario file's directory.
	Schema string `yaml:"schema"`

	// BatchSize enables batched eager fetching when positive.
	BatchSize int `yaml:"batch_size,omitempty"`

	// Setup persists records before the steps run. The setup session is
	// flushed and cleared afterwards, so steps start from an empty
	// identity map over a populated store.
	Setup []PersistStep `yaml:"setup,omitempty"`

	// Steps are the session operations under test.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated once every step has run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// PersistStep creates one record during setup.
type PersistStep struct {
	// Persist is the entity type name.
	Persist string `yaml:"persist"`

	// As names the new instance so steps and later setup links can use it.
	As string `yaml:"as,omitempty"`

	// Fields holds the plain field values.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Links maps TO_ONE association names to handles of earlier setup steps.
	Links map[string]string `yaml:"links,omitempty"`
}

// Step is one session operation. Exactly one operation key must be set.
//
//	- find: Member        # FindByKey(Member, id)
//	  id: 1
//	  as: ann
//	- reference: Team     # GetReference(Team, id)
//	- get: ann            # ann.Get(field)
//	  field: name
//	- ref: ann            # ann.Ref(association)
//	  association: team
//	- collection: red     # red.Collection(association)
//	- query: Member       # ExecuteQuery
//	  where: "team_id == bound.team"
//	  bind: {team: 1}
//	  fetch: [team]
//	  distinct: true
//	- detach: ann
//	- clear: true
//	- close: true
//	- flush: true
type Step struct {
	Find       string `yaml:"find,omitempty"`
	Reference  string `yaml:"reference,omitempty"`
	Get        string `yaml:"get,omitempty"`
	Ref        string `yaml:"ref,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	Query      string `yaml:"query,omitempty"`
	Detach     string `yaml:"detach,omitempty"`
	Clear      bool   `yaml:"clear,omitempty"`
	Close      bool   `yaml:"close,omitempty"`
	Flush      bool   `yaml:"flush,omitempty"`

	// ID is the primary key for find and reference.
	ID any `yaml:"id,omitempty"`

	// Field is read by get.
	Field string `yaml:"field,omitempty"`

	// Association is traversed by ref and collection.
	Association string `yaml:"association,omitempty"`

	// Where, Bind, Fetch and Distinct shape a query.
	Where    string         `yaml:"where,omitempty"`
	Bind     map[string]any `yaml:"bind,omitempty"`
	Fetch    []string       `yaml:"fetch,omitempty"`
	Distinct bool           `yaml:"distinct,omitempty"`

	// As names the step's result: an instance for find, reference and ref;
	// a list for collection and query. List items are addressed as name[i].
	As string `yaml:"as,omitempty"`

	// Expect checks the step's outcome.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step operation names.
const (
	OpFind       = "find"
	OpReference  = "reference"
	OpGet        = "get"
	OpRef        = "ref"
	OpCollection = "collection"
	OpQuery      = "query"
	OpDetach     = "detach"
	OpClear      = "clear"
	OpClose      = "close"
	OpFlush      = "flush"
)

// Op returns the step's operation name and its argument. It returns an
// empty name when no operation or more than one is set.
func (s Step) Op() (string, string) {
	var name, arg string
	n := 0
	set := func(op, v string) {
		n++
		name, arg = op, v
	}
	if s.Find != "" {
		set(OpFind, s.Find)
	}
	if s.Reference != "" {
		set(OpReference, s.Reference)
	}
	if s.Get != "" {
		set(OpGet, s.Get)
	}
	if s.Ref != "" {
		set(OpRef, s.Ref)
	}
	if s.Collection != "" {
		set(OpCollection, s.Collection)
	}
	if s.Query != "" {
		set(OpQuery, s.Query)
	}
	if s.Detach != "" {
		set(OpDetach, s.Detach)
	}
	if s.Clear {
		set(OpClear, "")
	}
	if s.Close {
		set(OpClose, "")
	}
	if s.Flush {
		set(OpFlush, "")
	}
	if n != 1 {
		return "", ""
	}
	return name, arg
}

// Expect describes the outcome of one step. Unset fields are not checked.
type Expect struct {
	// Error is the expected session error code, e.g. RECORD_NOT_FOUND.
	Error string `yaml:"error,omitempty"`

	// Reason is the expected INVALID_REFERENCE_ACCESS reason.
	Reason string `yaml:"reason,omitempty"`

	// Value is the value a get step returns. An explicit null is checked;
	// a zero Kind means no value was given.
	Value yaml.Node `yaml:"value,omitempty"`

	// Loaded and Proxy describe the step's instance afterwards.
	Loaded *bool `yaml:"loaded,omitempty"`
	Proxy  *bool `yaml:"proxy,omitempty"`

	// Fetches is the number of store reads the step performed.
	Fetches *int `yaml:"fetches,omitempty"`

	// Count is the length of a collection or query result.
	Count *int `yaml:"count,omitempty"`

	// SameAs names a handle the step's instance must be identical to.
	SameAs string `yaml:"same_as,omitempty"`
}

// Assertion checks the state reached after the last step.
type Assertion struct {
	// Type is one of fetch_count, same_instance, loaded, managed,
	// result_count.
	Type string `yaml:"type"`

	// Kind narrows fetch_count to "key" or "query" reads.
	Kind string `yaml:"kind,omitempty"`

	// Handle names the instance or list under test.
	Handle string `yaml:"handle,omitempty"`

	// Handles lists instances that must be one object (same_instance).
	Handles []string `yaml:"handles,omitempty"`

	// Association makes loaded check an association instead of fields.
	Association string `yaml:"association,omitempty"`

	// Count is the expected number for fetch_count and result_count.
	Count *int `yaml:"count,omitempty"`

	// Expect is the expected answer for loaded and managed.
	Expect *bool `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertFetchCount   = "fetch_count"
	AssertSameInstance = "same_instance"
	AssertLoaded       = "loaded"
	AssertManaged      = "managed"
	AssertResultCount  = "result_count"
)

// LoadScenario reads a scenario file. The schema path resolves against
// the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads a scenario file, resolving a relative
// schema path against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && basePath != "" {
		scenario.Schema = filepath.Join(basePath, scenario.Schema)
	}
	if info, err := os.Stat(scenario.Schema); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("invalid scenario: schema directory not found: %s", scenario.Schema)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Unknown keys are
// rejected so typos fail loudly.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks structure only; type and association names are
// checked against the schema when the scenario runs.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	handles := make(map[string]bool)
	for i, p := range s.Setup {
		if p.Persist == "" {
			return fmt.Errorf("setup[%d]: persist is required", i)
		}
		for assoc, h := range p.Links {
			if !handles[h] {
				return fmt.Errorf("setup[%d].links.%s: unknown handle %q", i, assoc, h)
			}
		}
		if p.As != "" {
			handles[p.As] = true
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	op, _ := s.Op()
	switch op {
	case "":
		return fmt.Errorf("steps[%d]: exactly one operation is required", index)
	case OpFind, OpReference:
		if s.ID == nil {
			return fmt.Errorf("steps[%d]: id is required for %s", index, op)
		}
	case OpGet:
		if s.Field == "" {
			return fmt.Errorf("steps[%d]: field is required for get", index)
		}
	case OpRef, OpCollection:
		if s.Association == "" {
			return fmt.Errorf("steps[%d]: association is required for %s", index, op)
		}
	}
	if s.Expect != nil && s.Expect.Reason != "" && s.Expect.Error == "" {
		return fmt.Errorf("steps[%d].expect: reason requires error", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFetchCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for fetch_count", index)
		}
		if a.Kind != "" && a.Kind != "key" && a.Kind != "query" {
			return fmt.Errorf("assertions[%d]: kind must be key or query", index)
		}
	case AssertSameInstance:
		if len(a.Handles) < 2 {
			return fmt.Errorf("assertions[%d]: at least two handles are required for same_instance", index)
		}
	case AssertLoaded, AssertManaged:
		if a.Handle == "" {
			return fmt.Errorf("assertions[%d]: handle is required for %s", index, a.Type)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertResultCount:
		if a.Handle == "" {
			return fmt.Errorf("assertions[%d]: handle is required for result_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for result_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
