// Package engine implements the WorkflowEngine: the state-machine
// interpreter that drives a WorkflowRuntimeState through its Definition,
// evaluating gates, resolving personas, and propagating subworkflow
// completion. Grounded on the teacher's internal/workflows/runtime
// executor shape for its sentinel-error taxonomy.
package engine

import "errors"

var (
	ErrUnknownWorkflow        = errors.New("unknown workflow type")
	ErrUnknownInstance        = errors.New("unknown workflow instance")
	ErrUnknownState           = errors.New("unknown state")
	ErrNoStates               = errors.New("workflow definition has no states")
	ErrNoTransition           = errors.New("no matching transition for result")
	ErrMissingDefinition      = errors.New("workflow type has no loaded definition")
	ErrUnrecognizedStateKind  = errors.New("unrecognized state kind")
	ErrSubworkflowSlotMissing = errors.New("subworkflow slot not found in params.slots")
	ErrRoleUndefined          = errors.New("role undefined")
)
