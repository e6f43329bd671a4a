// Package registry loads WorkflowDefinition documents from a search path
// and indexes them by name, for the lifetime of the process. Grounded on
// the teacher's internal/workflows.Loader (glob-by-suffix, one definition
// per file) generalized from a single directory to an ordered search path
// so project definitions can override built-ins, per §8's "later-loaded
// (project) wins" boundary behavior.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/orchestra-dev/orchestra/internal/logging"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// ValidationIssue is a structured diagnostic for workflow-authoring
// tooling, grounded on the teacher's workflows.ValidationIssue.
type ValidationIssue struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// LoadError records a single file that failed to load, without aborting
// the rest of the scan.
type LoadError struct {
	FilePath string
	Err      error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.FilePath, e.Err)
}

// LoadResult summarizes one LoadAll pass.
type LoadResult struct {
	Loaded []string
	Errors []LoadError
}

// Registry holds every loaded WorkflowDefinition, indexed by name.
// Read-only once LoadAll has returned, per §3 ownership rules.
type Registry struct {
	definitions map[string]*workflow.Definition
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{definitions: map[string]*workflow.Definition{}}
}

var definitionSuffixes = []string{".workflow.yaml", ".workflow.yml", ".workflow.json"}

var registryLog = logging.Component("registry")

// LoadAll scans each directory in searchPath in order, parsing every
// *.workflow.{yaml,yml,json} file found. A workflow name loaded from a
// later directory overwrites one loaded from an earlier directory, which
// is how a project's workflows/ directory overrides the built-in catalog.
func (r *Registry) LoadAll(searchPath ...string) (*LoadResult, error) {
	result := &LoadResult{}

	for _, dir := range searchPath {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return result, fmt.Errorf("scan workflow directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !hasDefinitionSuffix(name) {
				continue
			}

			path := filepath.Join(dir, name)
			def, err := r.loadFile(path)
			if err != nil {
				result.Errors = append(result.Errors, LoadError{FilePath: path, Err: err})
				continue
			}

			if _, exists := r.definitions[def.Name]; exists {
				registryLog.Debug("%s overrides earlier definition for %q", path, def.Name)
			}
			r.definitions[def.Name] = def
			result.Loaded = append(result.Loaded, def.Name)
		}
	}

	return result, nil
}

// Diagnose runs every check Validate runs, but collects every issue found
// instead of stopping at the first one, for workflow-authoring tooling
// (SPEC_FULL.md §9.3's supplemented diagnostics feature). An empty result
// means def passes the same checks Validate enforces.
func Diagnose(def *workflow.Definition) []ValidationIssue {
	var issues []ValidationIssue

	if len(def.States) == 0 {
		issues = append(issues, ValidationIssue{
			Code:    "no_states",
			Path:    def.Name,
			Message: "workflow has no states",
			Hint:    "add at least one state to the workflow's states list",
		})
		return issues
	}

	for name, st := range def.States {
		for result, target := range st.Transitions() {
			if _, ok := def.States[target]; !ok {
				issues = append(issues, ValidationIssue{
					Code:    "dangling_transition",
					Path:    fmt.Sprintf("states.%s.transitions.%s", name, result),
					Message: fmt.Sprintf("transition target %q does not name a known state", target),
					Hint:    "add the missing state, or fix the typo in the transition target",
				})
			}
		}
		if st.Kind == workflow.StateKindAgent {
			if _, ok := def.Roles[st.Agent.Assign]; !ok {
				issues = append(issues, ValidationIssue{
					Code:    "role_undefined",
					Path:    fmt.Sprintf("states.%s.assign", name),
					Message: fmt.Sprintf("role %q is not declared in roles", st.Agent.Assign),
					Hint:    "add a roles entry for this name, or assign an existing role",
				})
			}
		}
	}

	return issues
}

func hasDefinitionSuffix(name string) bool {
	for _, suffix := range definitionSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func (r *Registry) loadFile(path string) (*workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var def *workflow.Definition
	if strings.HasSuffix(path, ".json") {
		def, err = workflow.ParseJSON(data)
	} else {
		def, err = workflow.ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}

// Get returns the named definition, or (nil, false) if unknown.
func (r *Registry) Get(name string) (*workflow.Definition, bool) {
	def, ok := r.definitions[name]
	return def, ok
}

// Names returns every loaded workflow name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	return names
}

// Put registers a definition directly, bypassing the filesystem — used by
// tests and by programmatic embedding of workflow catalogs.
func (r *Registry) Put(def *workflow.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.definitions[def.Name] = def
	return nil
}
