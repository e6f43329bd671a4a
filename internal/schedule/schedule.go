// Package schedule is the supplemented cron-triggered workflow start
// feature (SPEC_FULL.md §9.3): a thin robfig/cron/v3 wrapper that calls
// engine.Start for each config.ScheduledWorkflow it is given, grounded on the
// teacher's internal/services/scheduler.go SchedulerService (a cron.Cron
// plus an id->cron.EntryID tracking map, started/stopped alongside the
// rest of the process).
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/orchestra-dev/orchestra/internal/config"
	"github.com/orchestra-dev/orchestra/internal/logging"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

var scheduleLog = logging.Component("schedule")

// Engine is the subset of engine.Engine the scheduler depends on.
type Engine interface {
	Start(workflowType string, params map[string]interface{}) (*workflow.RuntimeState, error)
}

// Scheduler runs cron-triggered workflow starts.
type Scheduler struct {
	cron    *cron.Cron
	engine  Engine
	entries map[string]cron.EntryID
}

// New builds a Scheduler that starts workflows on engine whenever one of
// schedules' cron expressions fires. Invalid expressions are logged and
// skipped rather than failing the whole scheduler, so one bad entry in
// project config doesn't take down every other schedule.
func New(eng Engine, schedules []config.ScheduledWorkflow) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		engine:  eng,
		entries: make(map[string]cron.EntryID, len(schedules)),
	}

	for _, sched := range schedules {
		sched := sched
		entryID, err := s.cron.AddFunc(sched.Cron, func() { s.run(sched) })
		if err != nil {
			scheduleLog.Error("invalid cron expression %q for %q: %v", sched.Cron, sched.Name, err)
			continue
		}
		s.entries[sched.Name] = entryID
		scheduleLog.Info("registered %q (%s) on %q", sched.Name, sched.WorkflowType, sched.Cron)
	}

	return s
}

// Start begins running scheduled entries in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for in-flight cron jobs to finish, up to timeout.
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
	}
}

// Entries reports the currently scheduled names, for status/debugging.
func (s *Scheduler) Entries() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) run(sched config.ScheduledWorkflow) {
	st, err := s.engine.Start(sched.WorkflowType, sched.Params)
	if err != nil {
		scheduleLog.Error("failed to start %q (%s): %v", sched.Name, sched.WorkflowType, err)
		return
	}
	scheduleLog.Info("started %q -> workflow %s", sched.Name, st.WorkflowID)
}
