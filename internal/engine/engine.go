package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orchestra-dev/orchestra/internal/config"
	"github.com/orchestra-dev/orchestra/internal/dispatch"
	"github.com/orchestra-dev/orchestra/internal/idgen"
	"github.com/orchestra-dev/orchestra/internal/logging"
	"github.com/orchestra-dev/orchestra/internal/schema"
	"github.com/orchestra-dev/orchestra/internal/store"
	"github.com/orchestra-dev/orchestra/internal/telemetry"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

var engineLog = logging.Component("engine")

// Store is the subset of store.FileStore the engine depends on, named for
// the StateStore component in the specification.
type Store interface {
	Save(*workflow.RuntimeState) error
	Load(workflowID string) (*workflow.RuntimeState, error)
	List() ([]*workflow.RuntimeState, error)
	RuntimeScratchDir(agentID string) (string, error)
	Root() string
}

// Definitions is the subset of registry.Registry the engine depends on.
type Definitions interface {
	Get(name string) (*workflow.Definition, bool)
}

// Submission is the payload an agent submits for the state it was working
// on, per §3's Message/evidence-submission shape.
type Submission struct {
	State       string                 `json:"state"`
	Result      string                 `json:"result"`
	Evidence    map[string]interface{} `json:"evidence"`
	SubmittedBy string                 `json:"submitted_by,omitempty"`
}

// Outcome is submitEvidence's response, serialized as-is by the bus.
type Outcome struct {
	WorkflowID  string          `json:"workflowId"`
	Status      string          `json:"status"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	Result      string          `json:"result,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	State       string          `json:"state,omitempty"`
	Retries     int             `json:"retries,omitempty"`
	Diagnostics []schema.Result `json:"diagnostics,omitempty"`
}

// DispatchResult is dispatchCurrentState's response.
type DispatchResult struct {
	Dispatched bool
	Details    string
}

// Engine is the workflow state-machine interpreter.
type Engine struct {
	store       Store
	definitions Definitions
	supervisor  dispatch.PaneSupervisor
	project     *config.ProjectConfig
	now         func() time.Time

	locks sync.Map // workflow_id -> *sync.Mutex

	commandTimeout time.Duration
	telemetry      *telemetry.Telemetry
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithProjectConfig attaches the role-override/team-roster data persona
// resolution consults.
func WithProjectConfig(p *config.ProjectConfig) Option {
	return func(e *Engine) { e.project = p }
}

// WithClock overrides the engine's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCommandTimeout bounds gate-verification and action commands.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Engine) { e.commandTimeout = d }
}

// WithTelemetry attaches the tracer/meter wrapper instrumenting every
// engine operation, per SPEC_FULL.md §4.2. Engines constructed without
// this option still get one backed by the global (default no-op) otel
// providers, so instrumentation is never nil.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Engine) { e.telemetry = t }
}

// New constructs an Engine. supervisor may be nil in tests that never
// dispatch an agent state.
func New(st Store, definitions Definitions, supervisor dispatch.PaneSupervisor, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		definitions:    definitions,
		supervisor:     supervisor,
		project:        &config.ProjectConfig{},
		now:            func() time.Time { return time.Now().UTC() },
		commandTimeout: 5 * time.Minute,
		telemetry:      telemetry.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(workflowID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(workflowID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// held tracks, within one logical call chain (Start/SubmitEvidence/
// DispatchCurrentState/Override and any subworkflow cascade they trigger),
// which workflow ids this goroutine already holds the lock for — so
// completion propagation back up to an already-locked parent never
// re-locks the same mutex. Grounded on the "per-workflow mutual
// exclusion... cross-workflow parallelism allowed" rule in §5.
type held map[string]bool

func (e *Engine) withLock(id string, seen held, fn func() error) error {
	if seen[id] {
		return fn()
	}
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	seen[id] = true
	return fn()
}

// Start creates and persists a fresh runtime state for workflowType.
func (e *Engine) Start(workflowType string, params map[string]interface{}) (st *workflow.RuntimeState, err error) {
	_, span := e.telemetry.StartOperationSpan(context.Background(), "start", "")
	begin := e.now()
	defer func() { e.telemetry.EndOperationSpan(span, "start", begin, err) }()

	def, ok := e.definitions.Get(workflowType)
	if !ok {
		return nil, fmt.Errorf("start %q: %w", workflowType, ErrUnknownWorkflow)
	}

	initial, err := def.EffectiveInitialState()
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", workflowType, ErrNoStates)
	}

	id := idgen.WorkflowID(workflowType)
	now := e.now()
	st = workflow.New(id, workflowType, initial, params, now)

	if err := e.store.Save(st); err != nil {
		return nil, fmt.Errorf("start %q: %w", workflowType, err)
	}
	return st, nil
}

// Get returns one workflow's runtime state.
func (e *Engine) Get(workflowID string) (*workflow.RuntimeState, error) {
	st, err := e.store.Load(workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get %q: %w", workflowID, ErrUnknownInstance)
		}
		return nil, err
	}
	return st, nil
}

// List returns every workflow's runtime state.
func (e *Engine) List() ([]*workflow.RuntimeState, error) {
	return e.store.List()
}

// Pause flips paused=true for a workflow.
func (e *Engine) Pause(workflowID string) (*workflow.RuntimeState, error) {
	return e.flipPaused(workflowID, true)
}

// Resume flips paused=false for a workflow.
func (e *Engine) Resume(workflowID string) (*workflow.RuntimeState, error) {
	return e.flipPaused(workflowID, false)
}

func (e *Engine) flipPaused(workflowID string, paused bool) (*workflow.RuntimeState, error) {
	var result *workflow.RuntimeState
	err := e.withLock(workflowID, held{}, func() error {
		st, err := e.store.Load(workflowID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("pause/resume %q: %w", workflowID, ErrUnknownInstance)
			}
			return err
		}
		st.Paused = paused
		st.UpdatedAt = e.now()
		if err := e.store.Save(st); err != nil {
			return err
		}
		result = st
		return nil
	})
	return result, err
}

// Override forces a transition to nextState, bypassing gates entirely.
func (e *Engine) Override(workflowID, nextState, reason string) (result *workflow.RuntimeState, err error) {
	_, span := e.telemetry.StartOperationSpan(context.Background(), "override", workflowID)
	begin := e.now()
	defer func() { e.telemetry.EndOperationSpan(span, "override", begin, err) }()

	err = e.withLock(workflowID, held{}, func() error {
		st, err := e.store.Load(workflowID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("override %q: %w", workflowID, ErrUnknownInstance)
			}
			return err
		}
		st.MoveState(nextState, "override:"+reason, e.now())
		st.RetryCount = 0
		if err := e.store.Save(st); err != nil {
			return err
		}
		result = st
		return nil
	})
	return result, err
}

// SubmitEvidence is the gate-evaluation entrypoint: §4.2's submitEvidence.
func (e *Engine) SubmitEvidence(workflowID string, sub Submission) (outcome *Outcome, err error) {
	_, span := e.telemetry.StartOperationSpan(context.Background(), "submitEvidence", workflowID)
	begin := e.now()
	defer func() { e.telemetry.EndOperationSpan(span, "submitEvidence", begin, err) }()

	err = e.withLock(workflowID, held{}, func() error {
		out, err := e.submitEvidenceLocked(workflowID, sub)
		outcome = out
		return err
	})
	return outcome, err
}

func (e *Engine) submitEvidenceLocked(workflowID string, sub Submission) (*Outcome, error) {
	st, err := e.store.Load(workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("submit evidence %q: %w", workflowID, ErrUnknownInstance)
		}
		return nil, err
	}

	if st.Paused {
		return &Outcome{WorkflowID: workflowID, Status: "paused"}, nil
	}

	if sub.State != st.CurrentState {
		return &Outcome{WorkflowID: workflowID, Status: "rejected", Reason: "state mismatch"}, nil
	}

	def, ok := e.definitions.Get(st.WorkflowType)
	if !ok {
		return nil, fmt.Errorf("submit evidence %q: %w", workflowID, ErrMissingDefinition)
	}
	stateDef, ok := def.States[st.CurrentState]
	if !ok {
		return nil, fmt.Errorf("submit evidence %q: %w", workflowID, ErrUnknownState)
	}

	gate := stateDef.GateOf()
	if gate == nil {
		return &Outcome{WorkflowID: workflowID, Status: "rejected", Reason: "no gate"}, nil
	}

	ctx := context.Background()
	verified := false
	var diagnostics []schema.Result

	switch gate.Kind {
	case workflow.GateKindEvidence:
		result := schema.Validate(st.CurrentState, gate.Schema, sub.Evidence)
		if !result.OK {
			st.Evidence[st.CurrentState] = mergeEvidence(sub.Evidence, map[string]interface{}{
				"verified":          false,
				"validation_errors": result.Errors,
			})
			if err := e.store.Save(st); err != nil {
				return nil, err
			}
			return &Outcome{
				WorkflowID:  workflowID,
				Status:      "rejected",
				Reason:      "schema validation failed",
				Diagnostics: []schema.Result{result},
			}, nil
		}
		verified = true
		if gate.Verify != nil {
			code, err := runCommand(ctx, e.commandTimeout, gate.Verify.Command)
			if err != nil {
				return nil, err
			}
			verified = code == gate.Verify.ExpectedExitCode()
		}
	case workflow.GateKindCommand:
		code, err := runCommand(ctx, e.commandTimeout, gate.Verify.Command)
		if err != nil {
			return nil, err
		}
		verified = code == gate.Verify.ExpectedExitCode()
	case workflow.GateKindVerdict:
		verified = containsString(gate.Options, sub.Result)
	}

	if !verified {
		return e.handleGateFailure(st, stateDef, sub)
	}
	return e.handleGateSuccess(st, stateDef, sub)
}

func (e *Engine) handleGateFailure(st *workflow.RuntimeState, stateDef workflow.StateDefinition, sub Submission) (*Outcome, error) {
	from := st.CurrentState
	st.RetryCount++
	if last := st.LastHistoryEntry(); last != nil {
		last.Retries = st.RetryCount
		last.LastFailure = "gate verification failed"
	}

	if st.RetryCount >= stateDef.EffectiveMaxRetries() {
		target := stateDef.Transitions()["fail"]
		if target == "" {
			target = "ESCALATE"
		}
		if !e.stateExists(st.WorkflowType, target) {
			return nil, fmt.Errorf("submit evidence %q: escalate %q: %w", st.WorkflowID, target, ErrNoTransition)
		}
		st.Evidence[from] = mergeEvidence(sub.Evidence, map[string]interface{}{"verified": false})
		st.MoveState(target, "fail", e.now())
		st.RetryCount = 0
		if err := e.store.Save(st); err != nil {
			return nil, err
		}
		e.telemetry.RecordGateOutcome("escalate")
		return &Outcome{WorkflowID: st.WorkflowID, Status: "failed", State: from, Retries: stateDef.EffectiveMaxRetries()}, nil
	}

	st.Evidence[from] = mergeEvidence(sub.Evidence, map[string]interface{}{"verified": false})
	st.UpdatedAt = e.now()
	if err := e.store.Save(st); err != nil {
		return nil, err
	}
	e.telemetry.RecordGateOutcome("fail")
	return &Outcome{WorkflowID: st.WorkflowID, Status: "failed", State: from, Retries: st.RetryCount}, nil
}

func (e *Engine) handleGateSuccess(st *workflow.RuntimeState, stateDef workflow.StateDefinition, sub Submission) (*Outcome, error) {
	from := st.CurrentState
	transitions := stateDef.Transitions()
	next, ok := transitions[sub.Result]
	if !ok {
		next, ok = transitions["pass"]
	}
	if !ok {
		return nil, fmt.Errorf("submit evidence %q: %w", st.WorkflowID, ErrNoTransition)
	}

	now := e.now()
	st.Evidence[from] = mergeEvidence(sub.Evidence, map[string]interface{}{
		"result":       sub.Result,
		"verified":     true,
		"submitted_by": sub.SubmittedBy,
		"submitted_at": now.Format(time.RFC3339Nano),
	})
	st.RetryCount = 0
	st.MoveState(next, sub.Result, now)

	if err := e.store.Save(st); err != nil {
		return nil, err
	}
	e.telemetry.RecordGateOutcome("pass")
	return &Outcome{WorkflowID: st.WorkflowID, Status: "advanced", From: from, To: next, Result: sub.Result}, nil
}

func (e *Engine) stateExists(workflowType, stateName string) bool {
	def, ok := e.definitions.Get(workflowType)
	if !ok {
		return false
	}
	_, ok = def.States[stateName]
	return ok
}

func mergeEvidence(submission map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(submission)+len(extra))
	for k, v := range submission {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func containsString(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}

// DispatchCurrentState is §4.2's dispatchCurrentState entrypoint.
func (e *Engine) DispatchCurrentState(ctx context.Context, workflowID string) (result *DispatchResult, err error) {
	spanCtx, span := e.telemetry.StartOperationSpan(ctx, "dispatchCurrentState", workflowID)
	begin := e.now()
	defer func() { e.telemetry.EndOperationSpan(span, "dispatchCurrentState", begin, err) }()

	err = e.withLock(workflowID, held{}, func() error {
		r, err := e.dispatchWithHeld(spanCtx, workflowID, held{workflowID: true})
		result = r
		return err
	})
	return result, err
}

func (e *Engine) dispatchWithHeld(ctx context.Context, workflowID string, seen held) (*DispatchResult, error) {
	st, err := e.store.Load(workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("dispatch %q: %w", workflowID, ErrUnknownInstance)
		}
		return nil, err
	}
	def, ok := e.definitions.Get(st.WorkflowType)
	if !ok {
		return nil, fmt.Errorf("dispatch %q: %w", workflowID, ErrMissingDefinition)
	}
	stateDef, ok := def.States[st.CurrentState]
	if !ok {
		return nil, fmt.Errorf("dispatch %q: %w", workflowID, ErrUnknownState)
	}

	e.telemetry.RecordDispatchOutcome(string(stateDef.Kind))

	switch stateDef.Kind {
	case workflow.StateKindAgent:
		return e.dispatchAgent(ctx, st, def, stateDef)
	case workflow.StateKindAction:
		return e.dispatchAction(ctx, st, stateDef)
	case workflow.StateKindTerminal:
		return e.dispatchTerminal(ctx, st, stateDef, seen)
	case workflow.StateKindSubworkflow:
		return e.dispatchSubworkflow(ctx, st, stateDef, seen)
	default:
		return nil, fmt.Errorf("dispatch %q: %w", workflowID, ErrUnrecognizedStateKind)
	}
}

func (e *Engine) dispatchAction(ctx context.Context, st *workflow.RuntimeState, stateDef workflow.StateDefinition) (*DispatchResult, error) {
	for _, command := range stateDef.Action.Commands {
		code, err := runCommand(ctx, e.commandTimeout, command)
		if err != nil {
			return nil, err
		}
		engineLog.Debug("%s ran %q, exit %d", st.WorkflowID, command, code)
	}
	return &DispatchResult{Dispatched: false, Details: "action: ran " + fmt.Sprint(len(stateDef.Action.Commands)) + " commands"}, nil
}

func (e *Engine) dispatchTerminal(ctx context.Context, st *workflow.RuntimeState, stateDef workflow.StateDefinition, seen held) (*DispatchResult, error) {
	details := "terminal: " + stateDef.Terminal.Result
	if st.Parent != nil {
		if err := e.propagateCompletion(ctx, st, stateDef, seen); err != nil {
			return nil, err
		}
	}
	return &DispatchResult{Dispatched: false, Details: details}, nil
}
