package engine

import (
	"sync"

	"github.com/orchestra-dev/orchestra/internal/dispatch"
)

// fakeSupervisor records every launch spec handed to it, standing in for
// the out-of-scope pane-multiplexer collaborator.
type fakeSupervisor struct {
	mu      sync.Mutex
	spawned []dispatch.LaunchSpec
}

func (f *fakeSupervisor) Spawn(spec dispatch.LaunchSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, spec)
	return nil
}

func (f *fakeSupervisor) List() ([]string, error)           { return nil, nil }
func (f *fakeSupervisor) Focus(idOrName string) error       { return nil }
func (f *fakeSupervisor) Close(idOrName string) error       { return nil }
func (f *fakeSupervisor) Reconcile(expected []string) error { return nil }

func (f *fakeSupervisor) calls() []dispatch.LaunchSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dispatch.LaunchSpec, len(f.spawned))
	copy(out, f.spawned)
	return out
}
