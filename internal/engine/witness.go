package engine

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-dev/orchestra/internal/config"
	"github.com/orchestra-dev/orchestra/internal/logging"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// fingerprint is the (current_state, entered_at, retries) triple the
// autopilot design note keys dispatch de-duplication on: dispatch once
// per fingerprint change, never twice for the same stable state.
type fingerprint struct {
	state     string
	enteredAt time.Time
	retries   int
}

// Witness is the autopilot: a ticker-driven loop that dispatches any
// workflow whose fingerprint has changed since it was last observed, and
// separately escalates workflows stuck on one fingerprint past a
// threshold. Grounded on the teacher's internal/lattice/work/witness.go
// (ticker loop, per-item stuck tracking, escalate-after-threshold),
// adapted from NATS work records to local workflow runtime states.
type Witness struct {
	engine *Engine
	config config.WitnessConfig

	mu      sync.Mutex
	seen    map[string]fingerprint
	stuckAt map[string]time.Time

	cancel  context.CancelFunc
	running bool
}

var witnessLog = logging.Component("witness")

// NewWitness constructs a Witness bound to engine.
func NewWitness(e *Engine, cfg config.WitnessConfig) *Witness {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 5 * time.Minute
	}
	return &Witness{
		engine:  e,
		config:  cfg,
		seen:    map[string]fingerprint{},
		stuckAt: map[string]time.Time{},
	}
}

// Start begins the autopilot loop. It is a no-op if disabled or already
// running.
func (w *Witness) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running || !w.config.Enabled {
		w.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	go w.loop(loopCtx)
}

// Stop cancels the autopilot loop and its in-flight timers.
func (w *Witness) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.cancel()
	w.running = false
}

func (w *Witness) loop(ctx context.Context) {
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Witness) tick(ctx context.Context) {
	states, err := w.engine.List()
	if err != nil {
		witnessLog.Error("list workflows: %v", err)
		return
	}

	now := time.Now()
	active := map[string]bool{}
	for _, st := range states {
		active[st.WorkflowID] = true
		fp := currentFingerprint(st)

		w.mu.Lock()
		prev, tracked := w.seen[st.WorkflowID]
		changed := !tracked || prev != fp
		w.seen[st.WorkflowID] = fp
		if changed {
			delete(w.stuckAt, st.WorkflowID)
		} else if _, stuckTracked := w.stuckAt[st.WorkflowID]; !stuckTracked {
			w.stuckAt[st.WorkflowID] = now
		}
		stuckSince, isStuck := w.stuckAt[st.WorkflowID]
		w.mu.Unlock()

		if changed {
			if _, err := w.engine.DispatchCurrentState(ctx, st.WorkflowID); err != nil {
				witnessLog.Error("dispatch %s: %v", st.WorkflowID, err)
			}
			continue
		}

		if isStuck && now.Sub(stuckSince) > w.config.StuckThreshold {
			witnessLog.Info("%s stuck on %s since %s, re-dispatching", st.WorkflowID, fp.state, stuckSince)
			if _, err := w.engine.DispatchCurrentState(ctx, st.WorkflowID); err != nil {
				witnessLog.Error("redispatch %s: %v", st.WorkflowID, err)
			}
			w.mu.Lock()
			w.stuckAt[st.WorkflowID] = now
			w.mu.Unlock()
		}
	}

	w.mu.Lock()
	for id := range w.seen {
		if !active[id] {
			delete(w.seen, id)
			delete(w.stuckAt, id)
		}
	}
	w.mu.Unlock()
}

func currentFingerprint(st *workflow.RuntimeState) fingerprint {
	last := st.LastHistoryEntry()
	if last == nil {
		return fingerprint{state: st.CurrentState}
	}
	return fingerprint{state: st.CurrentState, enteredAt: last.EnteredAt, retries: last.Retries}
}
