package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// dispatchSubworkflow implements §4.2's Subworkflow dispatch branch:
// resolve the child's workflow type (literal or $slot), build its params
// from inputMap, start it, cross-link parent/child, and recursively
// dispatch the child's initial state — synchronously, per §5's ordering
// guarantee.
func (e *Engine) dispatchSubworkflow(ctx context.Context, parent *workflow.RuntimeState, stateDef workflow.StateDefinition, seen held) (*DispatchResult, error) {
	sub := stateDef.Subworkflow

	childType := sub.Workflow
	if sub.IsSlotReference() {
		resolved, ok := resolveSlot(parent.Params, sub.SlotName())
		if !ok {
			return nil, fmt.Errorf("dispatch %q: slot %q: %w", parent.WorkflowID, sub.SlotName(), ErrSubworkflowSlotMissing)
		}
		childType = resolved
	}

	childParams := map[string]interface{}{}
	for childKey, path := range sub.InputMap {
		value, ok := resolveDottedPath(parent, path)
		if ok {
			childParams[childKey] = value
		}
	}

	child, err := e.Start(childType, childParams)
	if err != nil {
		return nil, err
	}
	child.Parent = &workflow.ParentRef{WorkflowID: parent.WorkflowID, State: parent.CurrentState}

	if parent.Children == nil {
		parent.Children = map[string]string{}
	}
	parent.Children[parent.CurrentState] = child.WorkflowID
	parent.UpdatedAt = e.now()

	if err := e.store.Save(child); err != nil {
		return nil, err
	}
	if err := e.store.Save(parent); err != nil {
		return nil, err
	}

	seen[child.WorkflowID] = true
	if _, err := e.dispatchWithHeld(ctx, child.WorkflowID, seen); err != nil {
		return nil, err
	}

	return &DispatchResult{Dispatched: true, Details: "subworkflow: started " + child.WorkflowID}, nil
}

// propagateCompletion implements §4.2's subworkflow completion
// propagation: when a terminal state with a parent link is dispatched,
// fold the child's result into the parent's evidence and drive the
// parent's own transition, cascading further dispatch if that lands the
// parent on another terminal/subworkflow state.
func (e *Engine) propagateCompletion(ctx context.Context, child *workflow.RuntimeState, childStateDef workflow.StateDefinition, seen held) error {
	parentID := child.Parent.WorkflowID
	return e.withLock(parentID, seen, func() error {
		parent, err := e.store.Load(parentID)
		if err != nil {
			return err
		}
		parentDef, ok := e.definitions.Get(parent.WorkflowType)
		if !ok {
			return fmt.Errorf("propagate completion %q: %w", parentID, ErrMissingDefinition)
		}
		parentStateDef, ok := parentDef.States[child.Parent.State]
		if !ok || parentStateDef.Kind != workflow.StateKindSubworkflow {
			return nil
		}

		childResult := childStateDef.Terminal.Result
		if childResult == "" {
			childResult = "failure"
		}

		parent.Evidence[child.Parent.State] = map[string]interface{}{
			"child_workflow_id":   child.WorkflowID,
			"child_workflow_type": child.WorkflowType,
			"child_result":        childResult,
			"child_evidence":      child.Evidence,
		}

		transitions := parentStateDef.Transitions()
		next, ok := transitions[childResult]
		if !ok {
			next, ok = transitions["pass"]
		}
		if !ok {
			return fmt.Errorf("propagate completion %q: %w", parentID, ErrNoTransition)
		}

		parent.RetryCount = 0
		parent.MoveState(next, childResult, e.now())
		if err := e.store.Save(parent); err != nil {
			return err
		}

		seen[parentID] = true
		_, err = e.dispatchWithHeld(ctx, parentID, seen)
		return err
	})
}

func resolveSlot(params map[string]interface{}, slotName string) (string, bool) {
	raw, ok := params["slots"]
	if !ok {
		return "", false
	}
	slots, ok := raw.(map[string]interface{})
	if !ok {
		return "", false
	}
	value, ok := slots[slotName]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// resolveDottedPath extracts a value from the parent runtime state along a
// dotted path whose root is "params" or "evidence" (§4.2's supported
// roots), e.g. "evidence.SETUP.slice" or "params.scenario".
func resolveDottedPath(state *workflow.RuntimeState, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}

	var current interface{}
	switch segments[0] {
	case "params":
		current = state.Params
	case "evidence":
		current = state.Evidence
	default:
		return nil, false
	}

	for _, seg := range segments[1:] {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
