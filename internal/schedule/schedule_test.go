package schedule_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestra-dev/orchestra/internal/config"
	"github.com/orchestra-dev/orchestra/internal/schedule"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEngine) Start(workflowType string, params map[string]interface{}) (*workflow.RuntimeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, workflowType)
	return workflow.New("wf-1", workflowType, "START", params, time.Now().UTC()), nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestScheduler_RunsOnCron(t *testing.T) {
	eng := &fakeEngine{}
	s := schedule.New(eng, []config.ScheduledWorkflow{
		{Name: "nightly", WorkflowType: "review", Cron: "* * * * * *"},
	})
	require.ElementsMatch(t, []string{"nightly"}, s.Entries())

	s.Start()
	defer s.Stop(time.Second)

	require.Eventually(t, func() bool {
		return eng.callCount() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_SkipsInvalidCronExpression(t *testing.T) {
	eng := &fakeEngine{}
	s := schedule.New(eng, []config.ScheduledWorkflow{
		{Name: "bad", WorkflowType: "review", Cron: "not-a-cron-expression"},
	})
	assert.Empty(t, s.Entries())
}
