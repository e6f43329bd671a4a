package engine

import (
	"github.com/orchestra-dev/orchestra/internal/config"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// resolvePersona implements the §4.2 persona resolution policy: role
// override merge, personaTags roster pooling, personaFrom param lookup,
// then round-robin pool selection keyed by prior dispatch history. Pure
// function; the caller supplies priorCount rather than the whole runtime
// state so this stays easy to test in isolation.
func resolvePersona(
	def *workflow.Definition,
	roleName string,
	override *config.RoleOverride,
	roster []config.TeamMember,
	params map[string]interface{},
	priorCount int,
) (workflow.RoleDefinition, string, error) {
	base, ok := def.Roles[roleName]
	if !ok {
		return workflow.RoleDefinition{}, "", ErrRoleUndefined
	}

	effective := base

	if override != nil {
		if override.Agent != "" {
			effective.Agent = override.Agent
		}
		if override.Persona != "" {
			effective.Persona = override.Persona
		}
		if len(override.PersonaPool) > 0 {
			effective.PersonaPool = override.PersonaPool
		}
		if override.PersonaFrom != "" {
			effective.PersonaFrom = override.PersonaFrom
		}
		if len(override.Tools) > 0 {
			effective.Tools = override.Tools
		}
		if override.FileScope != nil {
			effective.FileScope = *override.FileScope
		}

		if len(override.PersonaTags) > 0 && len(roster) > 0 {
			pool := poolFromRoster(roster, override.PersonaTags)
			if len(pool) > 0 {
				effective.PersonaPool = pool
				effective.Persona = ""
			}
		}
	}

	if effective.PersonaFrom != "" {
		if raw, ok := params[effective.PersonaFrom]; ok {
			if s, ok := raw.(string); ok && s != "" {
				effective.Persona = s
				effective.PersonaPool = nil
				return effective, s, nil
			}
		}
	}

	if len(effective.PersonaPool) > 0 {
		idx := priorCount % len(effective.PersonaPool)
		persona := effective.PersonaPool[idx]
		return effective, persona, nil
	}

	return effective, effective.Persona, nil
}

func poolFromRoster(roster []config.TeamMember, tags []string) []string {
	wanted := map[string]bool{}
	for _, t := range tags {
		wanted[t] = true
	}

	var pool []string
	for _, member := range roster {
		for _, tag := range member.Tags {
			if wanted[tag] {
				pool = append(pool, member.Persona)
				break
			}
		}
	}
	return pool
}

// priorDispatchCount counts history entries (excluding the last, which is
// the entry currently being dispatched) whose state is assigned to
// roleName in the definition, per §4.2 step 5's round-robin key.
func priorDispatchCount(def *workflow.Definition, history []workflow.HistoryEntry, roleName string) int {
	if len(history) == 0 {
		return 0
	}
	count := 0
	for _, entry := range history[:len(history)-1] {
		st, ok := def.States[entry.State]
		if !ok || st.Kind != workflow.StateKindAgent {
			continue
		}
		if st.Agent.Assign == roleName {
			count++
		}
	}
	return count
}
