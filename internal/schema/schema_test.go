package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

func TestCollectSchemas_OnlyEvidenceGatedAgentStates(t *testing.T) {
	def, err := workflow.ParseYAML([]byte(`
name: tdd-ping-pong
states:
  - name: RED
    assign: tester
    gate:
      schema:
        test_file: string
        failing: boolean
    transitions:
      pass: GREEN
  - name: GREEN
    assign: coder
    gate:
      options: [done]
    transitions:
      done: DONE
  - name: DONE
    type: terminal
    result: success
roles:
  tester:
    agent: claude
  coder:
    agent: claude
`))
	assert.NoError(t, err)

	entries := CollectSchemas(map[string]*workflow.Definition{"tdd-ping-pong": def})
	assert.Len(t, entries, 1)
	assert.Equal(t, "RED", entries[0].State)
	assert.Equal(t, "string", entries[0].Schema["test_file"])
}

func TestValidate_FullMatchPasses(t *testing.T) {
	schema := map[string]string{"test_file": "string", "failing": "boolean"}
	evidence := map[string]interface{}{"test_file": "pkg/foo_test.go", "failing": true}

	result := Validate("RED", schema, evidence)
	assert.True(t, result.OK)
	assert.Empty(t, result.Errors)
}

func TestValidate_MissingKeyReportsAtDeclaredPosition(t *testing.T) {
	schema := map[string]string{"failing": "boolean", "test_file": "string"}
	evidence := map[string]interface{}{"failing": true}

	result := Validate("RED", schema, evidence)
	assert.False(t, result.OK)
	require := []string{"missing key: test_file"}
	assert.Equal(t, require, result.Errors)
}

func TestValidate_TypeMismatchReported(t *testing.T) {
	schema := map[string]string{"count": "number"}
	evidence := map[string]interface{}{"count": "three"}

	result := Validate("STATE", schema, evidence)
	assert.False(t, result.OK)
	assert.Contains(t, result.Errors[0], "expected number, got string")
}

func TestValidate_UnrecognizedTypeNamePassesThrough(t *testing.T) {
	schema := map[string]string{"tags": "string[]"}
	evidence := map[string]interface{}{"tags": []interface{}{"a", "b"}}

	result := Validate("STATE", schema, evidence)
	assert.True(t, result.OK)
}

func TestBuildDiagnostics_RecoversValidationErrors(t *testing.T) {
	history := []workflow.HistoryEntry{
		{State: "RED"},
		{State: "GREEN"},
	}
	evidence := map[string]interface{}{
		"RED": map[string]interface{}{
			"validation_errors": []interface{}{"missing key: test_file"},
		},
	}

	diags := BuildDiagnostics(history, evidence)
	require_ := assert.New(t)
	require_.Len(diags, 2)
	require_.False(diags[0].OK)
	require_.Equal([]string{"missing key: test_file"}, diags[0].Errors)
	require_.True(diags[1].OK)
}
