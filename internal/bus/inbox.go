package bus

import (
	"sync"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// agentInbox holds one agent's pending messages plus a notify channel a
// long-poll GET /inbox/<agent> waits on, grounded on the teacher's
// Dispatcher.AwaitWork select-over-channels shape
// (internal/lattice/work/dispatcher.go), adapted from a single
// result-channel-per-work-item to a FIFO queue-per-agent since a bus inbox
// can hold many pending messages at once.
type agentInbox struct {
	mu       sync.Mutex
	messages []*workflow.Message
	notify   chan struct{}
}

func newAgentInbox() *agentInbox {
	return &agentInbox{notify: make(chan struct{})}
}

// push appends msg to the tail of the queue and wakes any waiting poller.
func (b *agentInbox) push(msg *workflow.Message) {
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

// drain returns every pending message, per "up to N pending messages"
// (this bus has no configured cap, so N is unbounded). Messages with
// RequiresAck=false are removed immediately; the rest remain until acked.
func (b *agentInbox) drain() []*workflow.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*workflow.Message, len(b.messages))
	copy(out, b.messages)

	kept := b.messages[:0]
	for _, m := range b.messages {
		if m.RequiresAck {
			kept = append(kept, m)
		}
	}
	b.messages = kept
	return out
}

// waitChan returns the channel drain's caller should select on to be woken
// by the next push.
func (b *agentInbox) waitChan() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notify
}

// hasPending reports whether the queue is currently non-empty.
func (b *agentInbox) hasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages) > 0
}

// ack removes the first queued message with the given id, used for
// RequiresAck=true messages a recipient has finished processing.
func (b *agentInbox) ack(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.messages {
		if m.ID == id {
			b.messages = append(b.messages[:i], b.messages[i+1:]...)
			return true
		}
	}
	return false
}

// inboxSet is the bus-wide collection of per-agent inboxes.
type inboxSet struct {
	mu   sync.Mutex
	byID map[string]*agentInbox
}

func newInboxSet() *inboxSet {
	return &inboxSet{byID: map[string]*agentInbox{}}
}

func (s *inboxSet) get(agentID string) *agentInbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, ok := s.byID[agentID]
	if !ok {
		box = newAgentInbox()
		s.byID[agentID] = box
	}
	return box
}

// ackAny removes a message with the given id from whichever inbox holds
// it, since POST /ack's body carries only the message id.
func (s *inboxSet) ackAny(id string) bool {
	s.mu.Lock()
	boxes := make([]*agentInbox, 0, len(s.byID))
	for _, box := range s.byID {
		boxes = append(boxes, box)
	}
	s.mu.Unlock()

	for _, box := range boxes {
		if box.ack(id) {
			return true
		}
	}
	return false
}

// allPending flattens every inbox's queue, used by compact().
func (s *inboxSet) allPending() []*workflow.Message {
	s.mu.Lock()
	boxes := make([]*agentInbox, 0, len(s.byID))
	for _, box := range s.byID {
		boxes = append(boxes, box)
	}
	s.mu.Unlock()

	var all []*workflow.Message
	for _, box := range boxes {
		box.mu.Lock()
		all = append(all, box.messages...)
		box.mu.Unlock()
	}
	return all
}
