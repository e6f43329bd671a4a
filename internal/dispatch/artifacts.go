package dispatch

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// MatchesScope reports whether path satisfies any of the glob patterns in
// scope, using path/filepath.Match. Grounded on the absence of any
// third-party glob library in the retrieval pack (see DESIGN.md) — stdlib
// is the direct, not a fallback, choice here.
func MatchesScope(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// agentDocDir and personaDocDir sit alongside runtime/ under the engine
// root, per spec.md:154's ".orchestra/agents.d/<agent>.md" convention.
const (
	agentDocDir   = "agents.d"
	personaDocDir = "personas.d"
)

// defaultAgentDoc is the packaged fallback prompt.md falls back to when a
// project has not authored its own agents.d/<agent>.md, the second half of
// spec.md:154's two-step lookup.
const defaultAgentDoc = `No project-specific agent definition is on file for this capability. Work from the persona and workflow context above, and submit evidence through the tools below.`

// LookupAgentDoc resolves agent-definition text for agent: first under
// <root>/agents.d/<agent>.md, falling back to a packaged default when no
// such file exists. Grounded on the teacher's agent_file_sync.go
// filesystem-first os.ReadFile lookup, narrowed from a directory scan to
// one deterministic path since a dispatch only ever needs one agent's doc.
func LookupAgentDoc(root, agent string) string {
	data, err := os.ReadFile(filepath.Join(root, agentDocDir, agent+".md"))
	if err != nil {
		return defaultAgentDoc
	}
	return strings.TrimSpace(string(data))
}

// LookupPersonaText resolves persona text for persona: <root>/personas.d/
// <persona>.md if a project has authored one, else the bare persona
// identifier itself — the only "text" a persona has when nothing richer
// was ever written down for it. Empty persona resolves to "" so the
// prompt template's "if resolvable" section is skipped entirely.
func LookupPersonaText(root, persona string) string {
	if persona == "" {
		return ""
	}
	if data, err := os.ReadFile(filepath.Join(root, personaDocDir, persona+".md")); err == nil {
		return strings.TrimSpace(string(data))
	}
	return persona
}

// BuildArtifacts renders scope.js, prompt.md and initial-task.md into dir
// (the agent's scratch directory, <root>/runtime/<agentID>/) and returns
// their paths.
func BuildArtifacts(dir string, role workflow.RoleDefinition, ctx Context) (Artifacts, error) {
	scopePath := filepath.Join(dir, "scope.js")
	promptPath := filepath.Join(dir, "prompt.md")
	taskPath := filepath.Join(dir, "initial-task.md")

	if err := renderScope(scopePath, role, ctx); err != nil {
		return Artifacts{}, err
	}
	if err := renderPrompt(promptPath, ctx); err != nil {
		return Artifacts{}, err
	}
	if err := renderTask(taskPath, ctx); err != nil {
		return Artifacts{}, err
	}

	return Artifacts{ScopePath: scopePath, PromptPath: promptPath, TaskPath: taskPath}, nil
}

func renderScope(path string, role workflow.RoleDefinition, ctx Context) error {
	agentID := AgentID(ctx.WorkflowID, ctx.RoleName)
	data := struct {
		AgentID    string
		WorkflowID string
		Writable   string
		BusSocket  string
	}{
		AgentID:    agentID,
		WorkflowID: ctx.WorkflowID,
		Writable:   globList(role.FileScope.Writable),
		BusSocket:  `"` + "bus.sock" + `"`,
	}

	var buf bytes.Buffer
	if err := scopeTpl.Execute(&buf, data); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func renderPrompt(path string, ctx Context) error {
	data := struct {
		PersonaText    string
		AgentDocText   string
		ProjectSummary string
		WorkflowID     string
		WorkflowType   string
		StateName      string
		SchemaLines    []string
		ExampleField   string
	}{
		PersonaText:    ctx.PersonaText,
		AgentDocText:   ctx.AgentDocText,
		ProjectSummary: ctx.ProjectSummary,
		WorkflowID:     ctx.WorkflowID,
		WorkflowType:   ctx.WorkflowType,
		StateName:      ctx.StateName,
		SchemaLines:    schemaLines(ctx.Gate),
		ExampleField:   exampleField(ctx.Gate),
	}

	var buf bytes.Buffer
	if err := promptTpl.Execute(&buf, data); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func renderTask(path string, ctx Context) error {
	evidenceJSON, err := json.MarshalIndent(ctx.Evidence, "", "  ")
	if err != nil {
		return err
	}
	paramsJSON, err := json.MarshalIndent(ctx.Params, "", "  ")
	if err != nil {
		return err
	}
	var schema map[string]string
	if ctx.Gate != nil {
		schema = ctx.Gate.Schema
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}

	retryContext := ""
	if ctx.RetryCount > 0 {
		retryContext = "This state has already failed its gate. Review the prior evidence before resubmitting."
	}

	data := struct {
		StateName    string
		Guidance     string
		RetryContext string
		EvidenceJSON string
		SchemaJSON   string
		ParamsJSON   string
	}{
		StateName:    ctx.StateName,
		Guidance:     guidanceFor(ctx.StateName),
		RetryContext: retryContext,
		EvidenceJSON: string(evidenceJSON),
		SchemaJSON:   string(schemaJSON),
		ParamsJSON:   string(paramsJSON),
	}

	var buf bytes.Buffer
	if err := taskTpl.Execute(&buf, data); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
