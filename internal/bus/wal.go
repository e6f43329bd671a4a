package bus

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// walOp discriminates the two event kinds the WAL records, per §4.4's
// "append on enqueue, tombstone on ack, compact at idle".
type walOp string

const (
	walOpEnqueue walOp = "enqueue"
	walOpAck     walOp = "ack"
)

// walRecord is one line of the append-only log.
type walRecord struct {
	Op      walOp             `json:"op"`
	Message *workflow.Message `json:"message,omitempty"`
	ID      string            `json:"id,omitempty"`
}

// wal is the append-only JSON-lines write-ahead log backing message
// delivery, grounded on the teacher's WorkStore KV-history pattern
// (internal/lattice/work/store.go), adapted from a JetStream KV bucket to
// a flat local file since there is no broker here.
type wal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func openWAL(path string) (*wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &wal{path: path, file: f}, nil
}

func (w *wal) appendEnqueue(msg *workflow.Message) error {
	return w.append(walRecord{Op: walOpEnqueue, Message: msg})
}

func (w *wal) appendAck(id string) error {
	return w.append(walRecord{Op: walOpAck, ID: id})
}

func (w *wal) append(rec walRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync()
}

// replay reads every record in order and reconstructs the set of messages
// still pending (enqueued, not yet acked), grouped by recipient.
func (w *wal) replay() (map[string][]*workflow.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}

	pending := map[string]*workflow.Message{}
	scanner := bufio.NewScanner(w.file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec walRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			busLog.Error("wal: skipping corrupt record: %v", err)
			continue
		}
		switch rec.Op {
		case walOpEnqueue:
			if rec.Message != nil {
				pending[rec.Message.ID] = rec.Message
			}
		case walOpAck:
			delete(pending, rec.ID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if _, err := w.file.Seek(0, 2); err != nil {
		return nil, err
	}

	byRecipient := map[string][]*workflow.Message{}
	for _, msg := range pending {
		byRecipient[msg.To] = append(byRecipient[msg.To], msg)
	}
	return byRecipient, nil
}

// compact rewrites the WAL to contain only enqueue records for messages
// still pending, collapsing the enqueue/ack history accumulated since the
// last compaction. Runs only when Bus.Compact is called; the bus never
// calls it on its own.
func (w *wal) compact(pending []*workflow.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tmpPath := w.path + ".compact.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	for _, msg := range pending {
		data, err := json.Marshal(walRecord{Op: walOpEnqueue, Message: msg})
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := tmp.Write(append(data, '\n')); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}

func (w *wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
