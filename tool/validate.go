package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/flow/errs"
)

// FieldIssue is one structured validation failure for a tool call's
// arguments, letting UI/governance tooling report validation detail without
// parsing error strings. Constraint mirrors jsonschema's own vocabulary.
type FieldIssue struct {
	Field      string
	Constraint string
	Allowed    []string
	Pattern    string
}

var schemaCache sync.Map

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := name + ":" + string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("tool %s: decode schema: %w", name, err)
	}
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("tool %s: add schema resource: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateArgs validates args against t.Schema, returning a *errs.Error of
// Kind ToolFatal on failure. A schema violation carries a RetryHint listing
// the missing required fields; malformed JSON and an invalid schema carry
// none.
func ValidateArgs(t *Tool, args json.RawMessage) error {
	if len(t.Schema) == 0 {
		return nil
	}
	compiled, err := compileSchema(t.Name, t.Schema)
	if err != nil {
		return errs.Wrap(errs.ToolFatal, "tool "+t.Name+": invalid schema", err)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return errs.Wrap(errs.ToolFatal, "tool "+t.Name+": malformed arguments", err).WithCall(t.Name)
	}
	if err := compiled.Validate(decoded); err != nil {
		ve := errs.Wrap(errs.ToolFatal, "tool "+t.Name+": invalid arguments", err)
		ve.Hint = &errs.RetryHint{
			Reason:        errs.RetryReasonInvalidArguments,
			MissingFields: missingFields(err),
		}
		return ve
	}
	return nil
}

// missingFields extracts field names from a jsonschema validation error's
// causes, best-effort; an empty result still leaves the underlying error
// message available via errors.Unwrap.
func missingFields(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if rk, ok := e.ErrorKind.(*jsonschema.Required); ok {
			out = append(out, rk.Missing...)
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
