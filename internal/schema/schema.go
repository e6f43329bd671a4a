// Package schema implements the evidence schema registry and validator:
// pure functions over workflow definitions and agent evidence submissions,
// with no side effects, per §4.3. Grounded on the teacher's
// internal/workflows/schema_checker.go structural-checking style.
package schema

import (
	"fmt"
	"sort"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// SchemaEntry is one evidence-gated agent state's declared schema.
type SchemaEntry struct {
	Workflow string
	State    string
	Schema   map[string]string
}

// CollectSchemas walks every loaded definition and returns one entry per
// agent state with an evidence gate, in a stable order (workflow then
// declaration order of states).
func CollectSchemas(definitions map[string]*workflow.Definition) []SchemaEntry {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)

	var entries []SchemaEntry
	for _, name := range names {
		def := definitions[name]
		for _, stateName := range def.StateOrder {
			st := def.States[stateName]
			if st.Kind != workflow.StateKindAgent || st.Agent.Gate == nil {
				continue
			}
			if st.Agent.Gate.Kind != workflow.GateKindEvidence {
				continue
			}
			entries = append(entries, SchemaEntry{
				Workflow: name,
				State:    stateName,
				Schema:   st.Agent.Gate.Schema,
			})
		}
	}
	return entries
}

// Result is the outcome of validating one evidence submission against a
// schema.
type Result struct {
	State  string   `json:"state"`
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

// schemaKeyOrder returns the schema's keys sorted lexically, a stable,
// reproducible order. A gate schema is a map, so the order in which its
// keys were declared in the definition document is not kept and is not
// what this order follows.
func schemaKeyOrder(schema map[string]string) []string {
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks evidence against schema, emitting one error per
// mismatched or missing key, in lexical key order (see schemaKeyOrder).
func Validate(state string, schema map[string]string, evidence map[string]interface{}) Result {
	result := Result{State: state, OK: true}

	for _, key := range schemaKeyOrder(schema) {
		typeName := schema[key]
		value, present := evidence[key]
		if !present {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("missing key: %s", key))
			continue
		}

		if ok, actual := matchesType(value, typeName); !ok {
			result.OK = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("type mismatch for %s: expected %s, got %s", key, typeName, actual))
		}
	}

	return result
}

// matchesType reports whether value satisfies typeName, and the observed
// kind when it doesn't. Unrecognized type names (e.g. "string[]") pass
// through as opaque, per the open question recorded in the specification.
func matchesType(value interface{}, typeName string) (bool, string) {
	switch typeName {
	case "string":
		_, ok := value.(string)
		return ok, kindOf(value)
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true, kindOf(value)
		default:
			return false, kindOf(value)
		}
	case "boolean":
		_, ok := value.(bool)
		return ok, kindOf(value)
	case "array":
		_, ok := value.([]interface{})
		return ok, kindOf(value)
	case "object":
		if value == nil {
			return false, kindOf(value)
		}
		_, isArray := value.([]interface{})
		if isArray {
			return false, kindOf(value)
		}
		_, ok := value.(map[string]interface{})
		return ok, kindOf(value)
	default:
		// Opaque/reserved type name: pass through.
		return true, kindOf(value)
	}
}

func kindOf(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		_ = v
		return "unknown"
	}
}

// BuildDiagnostics recovers one Result per history entry, pulling
// validation_errors back out of persisted evidence when present, per
// §4.3's buildDiagnostics.
func BuildDiagnostics(history []workflow.HistoryEntry, evidence map[string]interface{}) []Result {
	diagnostics := make([]Result, 0, len(history))
	for _, entry := range history {
		diag := Result{State: entry.State, OK: true}

		raw, ok := evidence[entry.State]
		if ok {
			if m, ok := raw.(map[string]interface{}); ok {
				if errs, ok := m["validation_errors"].([]interface{}); ok {
					for _, e := range errs {
						if s, ok := e.(string); ok {
							diag.Errors = append(diag.Errors, s)
						}
					}
					if len(diag.Errors) > 0 {
						diag.OK = false
					}
				}
			}
		}

		diagnostics = append(diagnostics, diag)
	}
	return diagnostics
}
