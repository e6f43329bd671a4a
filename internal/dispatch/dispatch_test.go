package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

func TestAgentID_IsDeterministic(t *testing.T) {
	assert.Equal(t, "wf-1-tester", AgentID("wf-1", "tester"))
	assert.Equal(t, AgentID("wf-1", "tester"), AgentID("wf-1", "tester"))
}

func TestMatchesScope(t *testing.T) {
	patterns := []string{"internal/**", "cmd/*.go"}
	assert.True(t, MatchesScope([]string{"internal/*"}, "internal/foo"))
	assert.False(t, MatchesScope(patterns, "pkg/bar.go"))
}

func TestBuildArtifacts_WritesThreeFiles(t *testing.T) {
	dir := t.TempDir()
	role := workflow.RoleDefinition{
		Agent: "claude",
		FileScope: workflow.RoleFileScope{
			Writable: []string{"internal/*"},
		},
	}
	gate := &workflow.Gate{
		Kind:   workflow.GateKindEvidence,
		Schema: map[string]string{"out": "string"},
	}

	ctx := Context{
		WorkflowID:   "tdd-ping-pong-ab12cd34",
		WorkflowType: "tdd-ping-pong",
		RoleName:     "tester",
		StateName:    "RED",
		Params:       map[string]interface{}{"scenario": "x"},
		Evidence:     map[string]interface{}{},
		Gate:         gate,
	}

	artifacts, err := BuildArtifacts(dir, role, ctx)
	require.NoError(t, err)

	for _, p := range []string{artifacts.ScopePath, artifacts.PromptPath, artifacts.TaskPath} {
		_, err := os.Stat(p)
		require.NoError(t, err)
	}

	scope, err := os.ReadFile(artifacts.ScopePath)
	require.NoError(t, err)
	assert.Contains(t, string(scope), "tdd-ping-pong-ab12cd34-tester")

	task, err := os.ReadFile(artifacts.TaskPath)
	require.NoError(t, err)
	assert.Contains(t, string(task), "failing test")

	assert.Equal(t, filepath.Join(dir, "scope.js"), artifacts.ScopePath)
}

func TestLookupAgentDoc_PrefersProjectFileOverDefault(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, defaultAgentDoc, LookupAgentDoc(root, "claude"))

	require.NoError(t, os.MkdirAll(filepath.Join(root, agentDocDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, agentDocDir, "claude.md"), []byte(" custom agent doc \n"), 0o644))

	assert.Equal(t, "custom agent doc", LookupAgentDoc(root, "claude"))
	assert.Equal(t, defaultAgentDoc, LookupAgentDoc(root, "other"))
}

func TestLookupPersonaText_FallsBackToBareIdentifier(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, "", LookupPersonaText(root, ""))
	assert.Equal(t, "alice", LookupPersonaText(root, "alice"))

	require.NoError(t, os.MkdirAll(filepath.Join(root, personaDocDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, personaDocDir, "alice.md"), []byte("Alice: careful reviewer, prefers small diffs."), 0o644))

	assert.Equal(t, "Alice: careful reviewer, prefers small diffs.", LookupPersonaText(root, "alice"))
}
