// Package store implements the durable on-disk StateStore: crash-safe
// persistence of workflow runtime state under a root directory, laid out
// as <root>/workflows/<workflow_id>/state.json with sibling runtime/ and
// evidence/ scratch directories. Grounded on the teacher's file-store
// conventions (internal/storage/file_store.go, errors.go) adapted from
// object-store semantics to local write-temp-then-rename file semantics,
// since there is no broker backing this store.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/orchestra-dev/orchestra/internal/logging"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

const (
	dirWorkflows = "workflows"
	dirRuntime   = "runtime"
	dirEvidence  = "evidence"
	stateFile    = "state.json"
)

var storeLog = logging.Component("store")

// FileStore is the StateStore implementation: one JSON file per workflow,
// no in-memory cache, every read a fresh deserialization per §4.1.
type FileStore struct {
	root string
}

// New constructs a FileStore rooted at root. Call Ensure before first use.
func New(root string) *FileStore {
	return &FileStore{root: root}
}

// Root returns the store's root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Ensure creates workflows/, runtime/, and evidence/ under root, idempotently.
func (s *FileStore) Ensure() error {
	for _, dir := range []string{dirWorkflows, dirRuntime, dirEvidence} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return newStoreError("ensure", "", err)
		}
	}
	return nil
}

func (s *FileStore) workflowDir(id string) string {
	return filepath.Join(s.root, dirWorkflows, id)
}

func (s *FileStore) statePath(id string) string {
	return filepath.Join(s.workflowDir(id), stateFile)
}

// Save atomically writes state.json for one workflow: write to a temp file
// in the same directory, fsync, then rename over the target so a crash
// never leaves a half-written file.
func (s *FileStore) Save(st *workflow.RuntimeState) error {
	dir := s.workflowDir(st.WorkflowID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newStoreError("save", st.WorkflowID, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return newStoreError("save", st.WorkflowID, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return newStoreError("save", st.WorkflowID, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return newStoreError("save", st.WorkflowID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return newStoreError("save", st.WorkflowID, err)
	}
	if err := tmp.Close(); err != nil {
		return newStoreError("save", st.WorkflowID, err)
	}

	if err := os.Rename(tmpPath, s.statePath(st.WorkflowID)); err != nil {
		return newStoreError("save", st.WorkflowID, err)
	}
	return nil
}

// Load reads one workflow's state, returning ErrNotFound when the file is
// absent.
func (s *FileStore) Load(workflowID string) (*workflow.RuntimeState, error) {
	data, err := os.ReadFile(s.statePath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, newStoreError("load", workflowID, err)
	}

	var st workflow.RuntimeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, newStoreError("load", workflowID, err)
	}
	return &st, nil
}

// List returns every saved workflow, sorted by created_at ascending.
// Directories without a state.json are silently skipped (tolerance for
// partial creates).
func (s *FileStore) List() ([]*workflow.RuntimeState, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dirWorkflows))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newStoreError("list", "", err)
	}

	start := time.Now()
	var states []*workflow.RuntimeState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		st, err := s.Load(entry.Name())
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			storeLog.Error("skipping %s: %v", entry.Name(), err)
			continue
		}
		states = append(states, st)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})

	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		storeLog.Debug("list scanned %d workflows in %s", len(states), elapsed)
	}

	return states, nil
}

// RuntimeScratchDir returns the per-agent scratch directory under
// <root>/runtime/<agentID>, creating it if necessary.
func (s *FileStore) RuntimeScratchDir(agentID string) (string, error) {
	dir := filepath.Join(s.root, dirRuntime, agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", newStoreError("runtime_scratch", agentID, err)
	}
	return dir, nil
}
