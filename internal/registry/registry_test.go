package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

const verdictWorkflow = `
name: review-flow
description: simple verdict workflow
states:
  - name: REVIEW
    assign: reviewer
    gate:
      options: [approved, flagged]
    transitions:
      approved: DONE
      flagged: ESC
  - name: DONE
    type: terminal
    result: success
  - name: ESC
    type: terminal
    result: failure
roles:
  reviewer:
    agent: claude
    tools: [submit_evidence]
`

func TestRegistry_LoadAllParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.workflow.yaml"), []byte(verdictWorkflow), 0o644))

	r := New()
	result, err := r.LoadAll(dir)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Contains(t, result.Loaded, "review-flow")

	def, ok := r.Get("review-flow")
	require.True(t, ok)
	assert.Equal(t, "REVIEW", def.StateOrder[0])
}

func TestRegistry_LaterDirectoryOverridesEarlier(t *testing.T) {
	builtin := t.TempDir()
	project := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(builtin, "review.workflow.yaml"), []byte(verdictWorkflow), 0o644))

	overridden := `
name: review-flow
description: project override
states:
  - name: ONLY
    type: terminal
    result: success
`
	require.NoError(t, os.WriteFile(filepath.Join(project, "review.workflow.yaml"), []byte(overridden), 0o644))

	r := New()
	_, err := r.LoadAll(builtin, project)
	require.NoError(t, err)

	def, ok := r.Get("review-flow")
	require.True(t, ok)
	assert.Equal(t, "project override", def.Description)
}

func TestDiagnose_CollectsEveryIssueInsteadOfFailingFast(t *testing.T) {
	bad := `
name: broken-flow
states:
  - name: ONLY
    assign: ghost
    gate:
      options: [approved]
    transitions:
      approved: NOWHERE
roles: {}
`
	def, err := workflow.ParseYAML([]byte(bad))
	require.NoError(t, err)

	issues := Diagnose(def)
	require.Len(t, issues, 2)

	codes := []string{issues[0].Code, issues[1].Code}
	assert.Contains(t, codes, "dangling_transition")
	assert.Contains(t, codes, "role_undefined")
}

func TestDiagnose_NoIssuesOnValidDefinition(t *testing.T) {
	def, err := workflow.ParseYAML([]byte(verdictWorkflow))
	require.NoError(t, err)

	assert.Empty(t, Diagnose(def))
}

func TestDiagnose_NoStatesIsReportedAlone(t *testing.T) {
	def, err := workflow.ParseYAML([]byte("name: empty-flow\nstates: []\n"))
	require.NoError(t, err)

	issues := Diagnose(def)
	require.Len(t, issues, 1)
	assert.Equal(t, "no_states", issues[0].Code)
}

func TestRegistry_DanglingTransitionIsReportedNotFatal(t *testing.T) {
	dir := t.TempDir()
	bad := `
name: broken-flow
states:
  - name: ONLY
    assign: reviewer
    gate:
      options: [approved]
    transitions:
      approved: NOWHERE
roles:
  reviewer:
    agent: claude
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.workflow.yaml"), []byte(bad), 0o644))

	r := New()
	result, err := r.LoadAll(dir)
	require.NoError(t, err)
	assert.Empty(t, result.Loaded)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "broken.workflow.yaml")
}
