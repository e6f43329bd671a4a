package workflow

import (
	"encoding/json"
	"time"
)

// HistoryEntry records one visit to a state: when it was entered, when (and
// with what result) it was left, and the retry/failure bookkeeping the
// engine accumulates while the workflow sits on that state.
type HistoryEntry struct {
	State       string          `json:"state"`
	EnteredAt   time.Time       `json:"entered_at"`
	ExitedAt    *time.Time      `json:"exited_at,omitempty"`
	Result      string          `json:"result,omitempty"`
	Retries     int             `json:"retries"`
	LastFailure string          `json:"last_failure,omitempty"`
}

// ParentRef points a subworkflow's runtime state back at the parent state
// that spawned it.
type ParentRef struct {
	WorkflowID string `json:"workflow_id"`
	State      string `json:"state"`
}

// RuntimeState is the mutable, persisted record of one workflow's
// progression through its Definition. The StateStore owns it on disk; the
// engine holds it only for the duration of a single operation.
type RuntimeState struct {
	WorkflowID   string                     `json:"workflow_id"`
	WorkflowType string                     `json:"workflow_type"`
	CurrentState string                     `json:"current_state"`
	RetryCount   int                        `json:"retry_count"`
	Paused       bool                       `json:"paused"`
	Params       map[string]interface{}     `json:"params"`
	Evidence     map[string]interface{}     `json:"evidence"`
	Metrics      map[string]interface{}     `json:"metrics,omitempty"`
	History      []HistoryEntry             `json:"history"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
	Parent       *ParentRef                 `json:"parent,omitempty"`
	Children     map[string]string          `json:"children,omitempty"`

	// Extra preserves any fields a future engine version wrote that this
	// one doesn't know about, so round-tripping through save/load never
	// silently drops data (§6: "unknown extra fields must be preserved").
	Extra map[string]json.RawMessage `json:"-"`
}

// New constructs a fresh RuntimeState for a just-started workflow, with a
// single history entry for its initial state and created_at == updated_at.
func New(workflowID, workflowType, initialState string, params map[string]interface{}, now time.Time) *RuntimeState {
	if params == nil {
		params = map[string]interface{}{}
	}
	return &RuntimeState{
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		CurrentState: initialState,
		Params:       params,
		Evidence:     map[string]interface{}{},
		Children:     map[string]string{},
		History: []HistoryEntry{
			{State: initialState, EnteredAt: now, Retries: 0},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastHistoryEntry returns a pointer to the entry currently in progress
// (the one for CurrentState), or nil if history is empty.
func (s *RuntimeState) LastHistoryEntry() *HistoryEntry {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

// MoveState finalizes the current history entry and appends a fresh one for
// next, per the moveState primitive in §4.2.
func (s *RuntimeState) MoveState(next, result string, now time.Time) {
	if last := s.LastHistoryEntry(); last != nil {
		last.ExitedAt = &now
		last.Result = result
	}
	s.CurrentState = next
	s.History = append(s.History, HistoryEntry{State: next, EnteredAt: now, Retries: 0})
	s.UpdatedAt = now
}

// marshaledState is the JSON wire shape: Extra's keys are lifted to the
// top level so unknown fields survive a save/load round-trip untouched.
type marshaledState RuntimeState

// MarshalJSON flattens Extra alongside the known fields.
func (s *RuntimeState) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal((*marshaledState)(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return known, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields, then stashes whatever else was
// present into Extra.
func (s *RuntimeState) UnmarshalJSON(data []byte) error {
	var known marshaledState
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	*s = RuntimeState(known)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	knownFields, err := json.Marshal(&known)
	if err != nil {
		return err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(knownFields, &knownKeys); err != nil {
		return err
	}
	extra := map[string]json.RawMessage{}
	for k, v := range all {
		if _, ok := knownKeys[k]; !ok {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		s.Extra = extra
	}
	return nil
}
