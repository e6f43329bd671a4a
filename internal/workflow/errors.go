package workflow

import "errors"

// Structural error sentinels for malformed requests or definitions,
// grounded on the sentinel-error block in the teacher's workflow step
// executors. The engine does not return these: internal/engine declares
// and returns its own sentinels of the same names.
var (
	ErrUnknownWorkflow        = errors.New("unknown workflow type")
	ErrUnknownInstance        = errors.New("unknown workflow instance")
	ErrUnknownState           = errors.New("unknown state")
	ErrNoTransition           = errors.New("no matching transition for result")
	ErrMissingDefinition      = errors.New("workflow type has no loaded definition")
	ErrSubworkflowSlotMissing = errors.New("subworkflow slot not found in params.slots")
)
