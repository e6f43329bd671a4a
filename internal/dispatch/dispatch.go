// Package dispatch builds the runtime artifacts an agent process needs
// (a scope program, a prompt, an initial task) and hands launch requests
// to an external pane-supervisor collaborator. Grounded on the teacher's
// internal/lattice/work/dispatcher.go for the "build artifact, hand off
// to a collaborator, track pending work" shape, generalized from a NATS
// publish to a pane-supervisor Spawn call since this engine has no
// message broker.
package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// PaneSupervisor is the out-of-scope terminal-multiplexer collaborator.
// The engine only ever triggers lifecycle through this interface; it
// never inspects pane output. Grounded on the "pane-supervisor
// collaborator" design note.
type PaneSupervisor interface {
	Spawn(spec LaunchSpec) error
	List() ([]string, error)
	Focus(idOrName string) error
	Close(idOrName string) error
	Reconcile(expected []string) error
}

// LaunchSpec is everything the pane supervisor needs to start one agent
// process.
type LaunchSpec struct {
	AgentID    string
	WorkflowID string
	Role       string
	Tools      []string
	ScopePath  string
	PromptPath string
	TaskPath   string
}

// AgentID is deterministic so repeated dispatches of the same role in the
// same workflow reuse the same artifact directory, per §4.5.
func AgentID(workflowID, role string) string {
	return workflowID + "-" + role
}

// Context carries everything BuildArtifacts needs about the workflow and
// state being dispatched, beyond the role definition itself.
type Context struct {
	WorkflowID     string
	WorkflowType   string
	RoleName       string
	StateName      string
	Params         map[string]interface{}
	Evidence       map[string]interface{}
	RetryCount     int
	Persona        string
	PersonaText    string
	AgentDocText   string
	ProjectSummary string
	Gate           *workflow.Gate
}

// Artifacts is where BuildArtifacts wrote the three files: each path is
// the scratch directory passed in joined with the file name.
type Artifacts struct {
	ScopePath  string
	PromptPath string
	TaskPath   string
}

const scopeTemplate = `// generated scope for {{.AgentID}}
// Blocks any write whose target does not glob-match the writable fileScope.
const WRITABLE = {{.Writable}};
const BUS_SOCKET = {{.BusSocket}};

function assertWritable(path) {
  const ok = WRITABLE.some((pattern) => globMatch(pattern, path));
  if (!ok) {
    throw new Error("path not in writable scope: " + path);
  }
}

const tools = {
  send_message(to, type, payload) {
    return busRequest("POST", "/messages", { from: "{{.AgentID}}", to, type, payload });
  },
  check_inbox() {
    return busRequest("GET", "/inbox/{{.AgentID}}");
  },
  submit_evidence(state, result, evidence) {
    return busRequest("POST", "/evidence/{{.WorkflowID}}", { state, result, evidence });
  },
};

module.exports = { tools, assertWritable };
`

const promptTemplate = `# Agent prompt

{{if .PersonaText}}## Persona

{{.PersonaText}}

{{end}}{{if .AgentDocText}}## Agent

{{.AgentDocText}}

{{end}}{{if .ProjectSummary}}## Project context

{{.ProjectSummary}}

{{end}}## Workflow context

- workflow_id: {{.WorkflowID}}
- workflow_type: {{.WorkflowType}}
- current_state: {{.StateName}}
{{if .SchemaLines}}
### Gate schema

{{range .SchemaLines}}- {{.}}
{{end}}{{end}}
## Tools

- send_message(to, type, payload)
- check_inbox()
- submit_evidence(state, result, evidence)

Example:

` + "```" + `
submit_evidence("{{.StateName}}", "pass", { ` + "{{.ExampleField}}" + `: ... })
` + "```" + `
`

const taskTemplate = `# Task: {{.StateName}}

{{.Guidance}}
{{if .RetryContext}}
## Retry

{{.RetryContext}}
{{end}}
## Prior evidence

{{.EvidenceJSON}}

## Gate schema

{{.SchemaJSON}}

## Params

{{.ParamsJSON}}
`

// stateGuidance maps a state-name prefix to default task prose, per §4.5's
// "patterns keyed on state-name prefixes" note.
var stateGuidance = []struct {
	prefix   string
	guidance string
}{
	{"RED", "Write a failing test that captures the scenario before any implementation exists."},
	{"GREEN", "Make the failing test pass with the minimal implementation that satisfies it."},
	{"REFACTOR", "Improve the implementation's structure without changing its observable behavior."},
	{"REVIEW", "Evaluate the submitted work against the stated acceptance criteria."},
	{"SETUP", "Prepare the scenario and supporting fixtures this workflow will operate on."},
}

func guidanceFor(stateName string) string {
	upper := strings.ToUpper(stateName)
	for _, g := range stateGuidance {
		if strings.HasPrefix(upper, g.prefix) {
			return g.guidance
		}
	}
	return "Complete the work for this state and submit evidence through submit_evidence."
}

func globList(patterns []string) string {
	quoted := make([]string, len(patterns))
	for i, p := range patterns {
		quoted[i] = `"` + p + `"`
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func schemaLines(gate *workflow.Gate) []string {
	if gate == nil || gate.Kind != workflow.GateKindEvidence {
		return nil
	}
	keys := make([]string, 0, len(gate.Schema))
	for k := range gate.Schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, gate.Schema[k]))
	}
	return lines
}

func exampleField(gate *workflow.Gate) string {
	if gate == nil || len(gate.Schema) == 0 {
		return "field"
	}
	keys := make([]string, 0, len(gate.Schema))
	for k := range gate.Schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

var (
	scopeTpl  = template.Must(template.New("scope").Parse(scopeTemplate))
	promptTpl = template.Must(template.New("prompt").Parse(promptTemplate))
	taskTpl   = template.Must(template.New("task").Parse(taskTemplate))
)
