package engine

import (
	"context"
	"fmt"

	"github.com/orchestra-dev/orchestra/internal/config"
	"github.com/orchestra-dev/orchestra/internal/dispatch"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// dispatchAgent implements §4.2's Agent dispatch branch: resolve the
// effective role and persona, render the agent's runtime artifacts, and
// ask the pane supervisor to launch it.
func (e *Engine) dispatchAgent(ctx context.Context, st *workflow.RuntimeState, def *workflow.Definition, stateDef workflow.StateDefinition) (*DispatchResult, error) {
	roleName := stateDef.Agent.Assign

	roleOverride := e.roleOverride(roleName)
	prior := priorDispatchCount(def, st.History, roleName)
	effectiveRole, persona, err := resolvePersona(def, roleName, roleOverride, e.project.TeamRoster, st.Params, prior)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", st.WorkflowID, err)
	}

	agentID := dispatch.AgentID(st.WorkflowID, roleName)
	scratchDir, err := e.store.RuntimeScratchDir(agentID)
	if err != nil {
		return nil, err
	}

	root := e.store.Root()
	dispatchCtx := dispatch.Context{
		WorkflowID:   st.WorkflowID,
		WorkflowType: st.WorkflowType,
		RoleName:     roleName,
		StateName:    st.CurrentState,
		Params:       st.Params,
		Evidence:     st.Evidence,
		RetryCount:   st.RetryCount,
		Persona:      persona,
		PersonaText:  dispatch.LookupPersonaText(root, persona),
		AgentDocText: dispatch.LookupAgentDoc(root, effectiveRole.Agent),
		Gate:         stateDef.GateOf(),
	}

	artifacts, err := dispatch.BuildArtifacts(scratchDir, effectiveRole, dispatchCtx)
	if err != nil {
		return nil, err
	}

	spec := dispatch.LaunchSpec{
		AgentID:    agentID,
		WorkflowID: st.WorkflowID,
		Role:       roleName,
		Tools:      effectiveRole.Tools,
		ScopePath:  artifacts.ScopePath,
		PromptPath: artifacts.PromptPath,
		TaskPath:   artifacts.TaskPath,
	}

	if e.supervisor != nil {
		if err := e.supervisor.Spawn(spec); err != nil {
			return nil, fmt.Errorf("dispatch %q: spawn agent: %w", st.WorkflowID, err)
		}
	}

	return &DispatchResult{Dispatched: true, Details: "agent: launched " + agentID}, nil
}

// roleOverride is a small indirection point: project config is optional,
// and most workflows never need an override for a given role.
func (e *Engine) roleOverride(roleName string) *config.RoleOverride {
	if e.project == nil || e.project.RoleOverrides == nil {
		return nil
	}
	if o, ok := e.project.RoleOverrides[roleName]; ok {
		return &o
	}
	return nil
}
