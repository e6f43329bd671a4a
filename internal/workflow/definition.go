// Package workflow holds the declarative shape of a workflow definition and
// the mutable runtime state an engine drives through it. Nothing in this
// package talks to disk, a socket, or a subprocess — it is the pure data
// model the rest of the engine operates on.
package workflow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StateKind discriminates the four state variants a StateDefinition may be.
type StateKind string

const (
	StateKindAgent       StateKind = "agent"
	StateKindAction      StateKind = "action"
	StateKindTerminal    StateKind = "terminal"
	StateKindSubworkflow StateKind = "subworkflow"
)

// CommandSpec describes a shell command run for gate verification or action
// execution, and the exit code that counts as success.
type CommandSpec struct {
	Command        string `yaml:"command" json:"command"`
	ExpectExitCode *int   `yaml:"expectExitCode,omitempty" json:"expectExitCode,omitempty"`
}

// ExpectedExitCode returns the configured exit code, defaulting to 0.
func (c CommandSpec) ExpectedExitCode() int {
	if c.ExpectExitCode == nil {
		return 0
	}
	return *c.ExpectExitCode
}

// GateKind discriminates the three gate variants.
type GateKind string

const (
	GateKindEvidence GateKind = "evidence"
	GateKindVerdict  GateKind = "verdict"
	GateKindCommand  GateKind = "command"
)

// Gate is the predicate a state's submitted result must satisfy before the
// engine transitions out of that state.
type Gate struct {
	Kind GateKind `yaml:"-" json:"kind"`

	// Evidence gate fields.
	Schema map[string]string `yaml:"schema,omitempty" json:"schema,omitempty"`
	Verify *CommandSpec      `yaml:"verify,omitempty" json:"verify,omitempty"`

	// Verdict gate fields.
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`
}

// inferKind derives the gate kind from which fields were populated, used
// when a gate is parsed from a document that omits the explicit "kind" tag.
func (g *Gate) inferKind() {
	if g.Kind != "" {
		return
	}
	switch {
	case len(g.Options) > 0:
		g.Kind = GateKindVerdict
	case len(g.Schema) > 0:
		g.Kind = GateKindEvidence
	case g.Verify != nil:
		g.Kind = GateKindCommand
	}
}

// UnmarshalYAML infers the gate kind after the raw fields decode.
func (g *Gate) UnmarshalYAML(value *yaml.Node) error {
	type plain Gate
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*g = Gate(p)
	g.inferKind()
	return nil
}

func (g *Gate) UnmarshalJSON(data []byte) error {
	type plain Gate
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*g = Gate(p)
	g.inferKind()
	return nil
}

// AgentState dispatches work to an external agent process under a role and
// gates its submitted evidence before transitioning.
type AgentState struct {
	Assign      string            `yaml:"assign" json:"assign"`
	Gate        *Gate             `yaml:"gate,omitempty" json:"gate,omitempty"`
	Transitions map[string]string `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	MaxRetries  *int              `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	InputFrom   string            `yaml:"inputFrom,omitempty" json:"inputFrom,omitempty"`
}

// EffectiveMaxRetries applies the "0 means 1" boundary rule from §8.
func (a AgentState) EffectiveMaxRetries() int {
	if a.MaxRetries == nil {
		return 1
	}
	if *a.MaxRetries <= 0 {
		return 1
	}
	return *a.MaxRetries
}

// ActionState runs a sequence of shell commands synchronously on dispatch.
type ActionState struct {
	Commands    []string          `yaml:"commands,omitempty" json:"commands,omitempty"`
	Transitions map[string]string `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	Gate        *Gate             `yaml:"gate,omitempty" json:"gate,omitempty"`
}

// TerminalState ends a workflow (or subworkflow) run.
type TerminalState struct {
	Result string `yaml:"result" json:"result"`
	Action string `yaml:"action,omitempty" json:"action,omitempty"`
}

// SubworkflowState delegates to a child workflow whose terminal result
// drives this state's transition.
type SubworkflowState struct {
	Workflow    string            `yaml:"workflow" json:"workflow"`
	InputMap    map[string]string `yaml:"inputMap,omitempty" json:"inputMap,omitempty"`
	Transitions map[string]string `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	MaxRetries  *int              `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
}

// IsSlotReference reports whether Workflow is a "$slot" indirection to be
// resolved against params.slots at dispatch time.
func (s SubworkflowState) IsSlotReference() bool {
	return len(s.Workflow) > 0 && s.Workflow[0] == '$'
}

// SlotName strips the leading "$" from a slot reference.
func (s SubworkflowState) SlotName() string {
	if s.IsSlotReference() {
		return s.Workflow[1:]
	}
	return ""
}

// StateDefinition is the closed sum of the four state variants. Exactly one
// of Agent/Action/Terminal/Subworkflow is populated; Kind says which.
type StateDefinition struct {
	Name        string
	Kind        StateKind
	Agent       *AgentState
	Action      *ActionState
	Terminal    *TerminalState
	Subworkflow *SubworkflowState
}

// rawState is the wire shape states decode from: a flat document whose
// fields are discriminated structurally (presence of "assign" means Agent;
// otherwise an explicit "type" tag names the variant), per the design note
// in the specification.
type rawState struct {
	Name        string            `yaml:"name,omitempty" json:"name,omitempty"`
	Type        string            `yaml:"type,omitempty" json:"type,omitempty"`
	Assign      string            `yaml:"assign,omitempty" json:"assign,omitempty"`
	Gate        *Gate             `yaml:"gate,omitempty" json:"gate,omitempty"`
	Transitions map[string]string `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	MaxRetries  *int              `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	InputFrom   string            `yaml:"inputFrom,omitempty" json:"inputFrom,omitempty"`
	Commands    []string          `yaml:"commands,omitempty" json:"commands,omitempty"`
	Result      string            `yaml:"result,omitempty" json:"result,omitempty"`
	Action      string            `yaml:"action,omitempty" json:"action,omitempty"`
	Workflow    string            `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	InputMap    map[string]string `yaml:"inputMap,omitempty" json:"inputMap,omitempty"`
}

// ErrUnrecognizedStateKind is returned when a state document has neither an
// "assign" field nor a recognized "type" tag.
var ErrUnrecognizedStateKind = fmt.Errorf("unrecognized state kind")

func stateFromRaw(name string, r rawState) (StateDefinition, error) {
	sd := StateDefinition{Name: name}

	switch {
	case r.Assign != "":
		sd.Kind = StateKindAgent
		sd.Agent = &AgentState{
			Assign:      r.Assign,
			Gate:        r.Gate,
			Transitions: r.Transitions,
			MaxRetries:  r.MaxRetries,
			InputFrom:   r.InputFrom,
		}
	case r.Type == string(StateKindAction):
		sd.Kind = StateKindAction
		sd.Action = &ActionState{
			Commands:    r.Commands,
			Transitions: r.Transitions,
			Gate:        r.Gate,
		}
	case r.Type == string(StateKindTerminal):
		sd.Kind = StateKindTerminal
		sd.Terminal = &TerminalState{
			Result: r.Result,
			Action: r.Action,
		}
	case r.Type == string(StateKindSubworkflow):
		sd.Kind = StateKindSubworkflow
		sd.Subworkflow = &SubworkflowState{
			Workflow:    r.Workflow,
			InputMap:    r.InputMap,
			Transitions: r.Transitions,
			MaxRetries:  r.MaxRetries,
		}
	default:
		return StateDefinition{}, fmt.Errorf("state %q: %w", name, ErrUnrecognizedStateKind)
	}

	return sd, nil
}

// GateOf returns the state's Gate, or nil for variants that have none
// (Terminal, Subworkflow) or that simply didn't declare one.
func (s StateDefinition) GateOf() *Gate {
	switch s.Kind {
	case StateKindAgent:
		return s.Agent.Gate
	case StateKindAction:
		return s.Action.Gate
	default:
		return nil
	}
}

// EffectiveMaxRetries returns the state's configured retry budget (the
// "0 means 1" boundary rule from §8), defaulting to 1 for variants with no
// retry configuration of their own.
func (s StateDefinition) EffectiveMaxRetries() int {
	switch s.Kind {
	case StateKindAgent:
		return s.Agent.EffectiveMaxRetries()
	case StateKindSubworkflow:
		if s.Subworkflow.MaxRetries != nil && *s.Subworkflow.MaxRetries > 0 {
			return *s.Subworkflow.MaxRetries
		}
		return 1
	default:
		return 1
	}
}

// Transitions returns the state's result->nextState map regardless of
// variant (Terminal states have none).
func (s StateDefinition) Transitions() map[string]string {
	switch s.Kind {
	case StateKindAgent:
		return s.Agent.Transitions
	case StateKindAction:
		return s.Action.Transitions
	case StateKindSubworkflow:
		return s.Subworkflow.Transitions
	default:
		return nil
	}
}

// ParamDef describes one declared workflow parameter.
type ParamDef struct {
	Name     string      `yaml:"name" json:"name"`
	Type     string      `yaml:"type" json:"type"`
	Required bool        `yaml:"required,omitempty" json:"required,omitempty"`
	Default  interface{} `yaml:"default,omitempty" json:"default,omitempty"`
}

// RoleFileScope constrains which paths an agent's tools may touch.
type RoleFileScope struct {
	Writable []string `yaml:"writable,omitempty" json:"writable,omitempty"`
	Readable []string `yaml:"readable,omitempty" json:"readable,omitempty"`
}

// RoleDefinition maps a role name to the agent capability, persona, tools,
// and file scope used to dispatch it.
type RoleDefinition struct {
	Agent         string        `yaml:"agent" json:"agent"`
	Persona       string        `yaml:"persona,omitempty" json:"persona,omitempty"`
	PersonaPool   []string      `yaml:"personaPool,omitempty" json:"personaPool,omitempty"`
	PersonaFrom   string        `yaml:"personaFrom,omitempty" json:"personaFrom,omitempty"`
	Tools         []string      `yaml:"tools,omitempty" json:"tools,omitempty"`
	FileScope     RoleFileScope `yaml:"fileScope,omitempty" json:"fileScope,omitempty"`
	FreshPerState bool          `yaml:"freshPerState,omitempty" json:"freshPerState,omitempty"`
}

// rawDefinition is the on-disk YAML/JSON shape: states and params are
// ordered lists so declaration order survives parsing, matching the
// "first state in declaration order" invariant. Gate schemas decode into
// maps, so their key declaration order is not kept.
type rawDefinition struct {
	Name         string                    `yaml:"name" json:"name"`
	Description  string                    `yaml:"description,omitempty" json:"description,omitempty"`
	InitialState string                    `yaml:"initialState,omitempty" json:"initialState,omitempty"`
	Params       []ParamDef                `yaml:"params,omitempty" json:"params,omitempty"`
	Roles        map[string]RoleDefinition `yaml:"roles,omitempty" json:"roles,omitempty"`
	States       []rawState                `yaml:"states" json:"states"`
}

// Definition is an immutable, fully-resolved workflow definition.
type Definition struct {
	Name         string
	Description  string
	InitialState string
	Params       []ParamDef
	Roles        map[string]RoleDefinition
	States       map[string]StateDefinition
	StateOrder   []string
}

// ParamMap indexes Params by name for lookup convenience.
func (d *Definition) ParamMap() map[string]ParamDef {
	m := make(map[string]ParamDef, len(d.Params))
	for _, p := range d.Params {
		m[p.Name] = p
	}
	return m
}

// EffectiveInitialState resolves InitialState, falling back to the first
// state in declaration order.
func (d *Definition) EffectiveInitialState() (string, error) {
	if d.InitialState != "" {
		return d.InitialState, nil
	}
	if len(d.StateOrder) == 0 {
		return "", ErrNoStates
	}
	return d.StateOrder[0], nil
}

// ErrNoStates is returned when a definition has no states at all.
var ErrNoStates = fmt.Errorf("workflow definition has no states")

// ErrDanglingTransition is returned when a transition target does not name
// a state in the same definition.
var ErrDanglingTransition = fmt.Errorf("transition target does not resolve to a known state")

// Validate checks the "every transition target resolves to an existing
// state" invariant.
func (d *Definition) Validate() error {
	if len(d.States) == 0 {
		return fmt.Errorf("workflow %q: %w", d.Name, ErrNoStates)
	}
	for name, st := range d.States {
		for result, target := range st.Transitions() {
			if _, ok := d.States[target]; !ok {
				return fmt.Errorf("workflow %q state %q transition %q -> %q: %w",
					d.Name, name, result, target, ErrDanglingTransition)
			}
		}
		if st.Kind == StateKindAgent {
			if _, ok := d.Roles[st.Agent.Assign]; !ok {
				return fmt.Errorf("workflow %q state %q: %w", d.Name, name, ErrRoleUndefined)
			}
		}
	}
	return nil
}

// ErrRoleUndefined is returned when an agent state assigns a role the
// definition never declares.
var ErrRoleUndefined = fmt.Errorf("role undefined")

// FromRawDefinition builds a Definition from the ordered wire format,
// resolving each state's tagged-union variant.
func FromRawDefinition(raw rawDefinition) (*Definition, error) {
	def := &Definition{
		Name:         raw.Name,
		Description:  raw.Description,
		InitialState: raw.InitialState,
		Params:       raw.Params,
		Roles:        raw.Roles,
		States:       make(map[string]StateDefinition, len(raw.States)),
		StateOrder:   make([]string, 0, len(raw.States)),
	}
	if def.Roles == nil {
		def.Roles = map[string]RoleDefinition{}
	}
	for _, entry := range raw.States {
		st, err := stateFromRaw(entry.Name, entry)
		if err != nil {
			return nil, err
		}
		def.States[entry.Name] = st
		def.StateOrder = append(def.StateOrder, entry.Name)
	}
	return def, nil
}
