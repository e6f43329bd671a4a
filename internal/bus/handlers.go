package bus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orchestra-dev/orchestra/internal/dispatch"
	"github.com/orchestra-dev/orchestra/internal/engine"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// statusWorkflow is one entry of GET /status's response: a workflow's
// runtime state plus the supplemented heartbeat-derived liveness from
// SPEC_FULL.md §9.3 (an agent's heartbeat was already tracked but never
// surfaced back to callers).
//
// RuntimeState is held in an unexported field, not embedded, so its
// MarshalJSON isn't promoted -
// *workflow.RuntimeState already implements json.Marshaler, and a
// promoted MarshalJSON would silently win over field-based marshaling,
// dropping LastHeartbeat from the response.
type statusWorkflow struct {
	state         *workflow.RuntimeState
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

func (s statusWorkflow) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(s.state)
	if err != nil {
		return nil, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	if s.LastHeartbeat != nil {
		hb, err := json.Marshal(s.LastHeartbeat)
		if err != nil {
			return nil, err
		}
		merged["last_heartbeat"] = hb
	}
	return json.Marshal(merged)
}

func (b *Bus) handleStatus(c *gin.Context) {
	states, err := b.engine.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]statusWorkflow, 0, len(states))
	for _, st := range states {
		entry := statusWorkflow{state: st}
		if role := b.assignedRole(st); role != "" {
			agentID := dispatch.AgentID(st.WorkflowID, role)
			if at, ok := b.heartbeatAt(agentID); ok {
				entry.LastHeartbeat = &at
			}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"workflows": out})
}

// assignedRole returns the role name assigned to st's current state, or
// "" when the current state has no assign (non-Agent variants).
func (b *Bus) assignedRole(st *workflow.RuntimeState) string {
	if b.definitions == nil {
		return ""
	}
	def, ok := b.definitions.Get(st.WorkflowType)
	if !ok {
		return ""
	}
	stateDef, ok := def.States[st.CurrentState]
	if !ok || stateDef.Kind != workflow.StateKindAgent {
		return ""
	}
	return stateDef.Agent.Assign
}

func (b *Bus) handleGetWorkflow(c *gin.Context) {
	st, err := b.engine.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": ErrUnknownWorkflow.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (b *Bus) handleSubmitEvidence(c *gin.Context) {
	var body engine.Submission
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	workflowID := c.Param("id")

	var outcome *engine.Outcome
	var subErr error
	b.submit(func() {
		outcome, subErr = b.engine.SubmitEvidence(workflowID, body)
	})
	if subErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": subErr.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (b *Bus) handleHeartbeat(c *gin.Context) {
	agent := c.Param("agent")
	at := b.now()

	b.heartbeatsMu.Lock()
	b.heartbeats[agent] = at
	b.heartbeatsMu.Unlock()

	c.JSON(http.StatusOK, gin.H{"ok": true, "agentId": agent, "at": at.Format(time.RFC3339Nano)})
}

type sendMessageRequest struct {
	From        string      `json:"from"`
	To          string      `json:"to"`
	Type        string      `json:"type"`
	WorkflowID  string      `json:"workflow_id,omitempty"`
	Phase       string      `json:"phase,omitempty"`
	Payload     interface{} `json:"payload,omitempty"`
	RequiresAck bool        `json:"requires_ack,omitempty"`
}

func (b *Bus) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := &workflow.Message{
		ID:          newMessageID(),
		From:        req.From,
		To:          req.To,
		Type:        req.Type,
		WorkflowID:  req.WorkflowID,
		Phase:       req.Phase,
		Timestamp:   b.now(),
		Payload:     req.Payload,
		RequiresAck: req.RequiresAck,
	}

	if err := b.wal.appendEnqueue(msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	b.inboxe.get(msg.To).push(msg)
	busLog.Debug("enqueued message %s %s->%s (%s)", msg.ID, msg.From, msg.To, msg.Type)

	c.JSON(http.StatusOK, gin.H{"id": msg.ID})
}

func (b *Bus) handleInbox(c *gin.Context) {
	agent := c.Param("agent")
	box := b.inboxe.get(agent)

	if box.hasPending() {
		c.JSON(http.StatusOK, b.drainAndTombstone(box))
		return
	}

	select {
	case <-box.waitChan():
		c.JSON(http.StatusOK, b.drainAndTombstone(box))
	case <-time.After(b.inboxTimeout):
		c.JSON(http.StatusOK, []*workflow.Message{})
	case <-c.Request.Context().Done():
	}
}

// drainAndTombstone drains box and WAL-tombstones every RequiresAck=false
// message it returns. Those messages are removed from the in-memory inbox
// by drain() itself, but without this the WAL still carries their enqueue
// record — a crash before the next Compact() would replay and redeliver an
// already-consumed no-ack message. WAL append failures are logged, not
// returned, since the delivery itself already succeeded from the caller's
// point of view.
func (b *Bus) drainAndTombstone(box *agentInbox) []*workflow.Message {
	msgs := box.drain()
	for _, m := range msgs {
		if m.RequiresAck {
			continue
		}
		if err := b.wal.appendAck(m.ID); err != nil {
			busLog.Error("wal: tombstone no-ack message %s: %v", m.ID, err)
		}
	}
	return msgs
}

type ackRequest struct {
	ID string `json:"id"`
}

func (b *Bus) handleAck(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !b.inboxe.ackAny(req.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrMessageNotFound.Error()})
		return
	}
	if err := b.wal.appendAck(req.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	busLog.Debug("acked message %s", req.ID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
