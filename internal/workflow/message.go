package workflow

import "time"

// Message is the bus payload exchanged between agents: created on send,
// enqueued in the recipient's inbox, removed on ack.
type Message struct {
	ID          string      `json:"id"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Type        string      `json:"type"`
	WorkflowID  string      `json:"workflow_id,omitempty"`
	Phase       string      `json:"phase,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload,omitempty"`
	RequiresAck bool        `json:"requires_ack"`
	TraceID     string      `json:"trace_id,omitempty"`
	SpanID      string      `json:"span_id,omitempty"`
}
