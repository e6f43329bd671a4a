package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestra-dev/orchestra/internal/workflow"
)

func TestFileStore_EnsureCreatesLayout(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.Ensure())

	for _, dir := range []string{"workflows", "runtime", "evidence"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.Ensure())

	now := time.Now().UTC().Truncate(time.Millisecond)
	st := workflow.New("wf-abc123", "tdd-ping-pong", "RED", map[string]interface{}{"scenario": "x"}, now)

	require.NoError(t, s.Save(st))

	loaded, err := s.Load("wf-abc123")
	require.NoError(t, err)

	assert.Equal(t, st.WorkflowID, loaded.WorkflowID)
	assert.Equal(t, st.WorkflowType, loaded.WorkflowType)
	assert.Equal(t, st.CurrentState, loaded.CurrentState)
	assert.Equal(t, st.Params, loaded.Params)
	assert.WithinDuration(t, st.CreatedAt, loaded.CreatedAt, time.Millisecond)
	assert.Len(t, loaded.History, 1)
	assert.Equal(t, "RED", loaded.History[0].State)
}

func TestFileStore_LoadMissingReturnsNotFound(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.Ensure())

	_, err := s.Load("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_ListSortsByCreatedAtAndSkipsPartialDirs(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.Ensure())

	base := time.Now().UTC().Truncate(time.Millisecond)
	older := workflow.New("wf-older", "t", "A", nil, base.Add(-time.Hour))
	newer := workflow.New("wf-newer", "t", "A", nil, base)
	require.NoError(t, s.Save(newer))
	require.NoError(t, s.Save(older))

	// A directory with no state.json must be tolerated, not surfaced.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "workflows", "wf-partial"), 0o755))

	states, err := s.List()
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "wf-older", states[0].WorkflowID)
	assert.Equal(t, "wf-newer", states[1].WorkflowID)
}

func TestFileStore_PreservesUnknownFieldsOnRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.Ensure())

	now := time.Now().UTC().Truncate(time.Millisecond)
	st := workflow.New("wf-extra", "t", "A", nil, now)
	require.NoError(t, s.Save(st))

	// Simulate a newer engine version having written a field this one
	// doesn't know about.
	path := filepath.Join(root, "workflows", "wf-extra", "state.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	data = append(data[:len(data)-1], []byte(`,"future_field":{"x":1}}`)...)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := s.Load("wf-extra")
	require.NoError(t, err)
	require.NoError(t, s.Save(loaded))

	roundTripped, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(roundTripped), "future_field")
}
