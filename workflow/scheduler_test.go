package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskflow/testutil"
	"github.com/BaSui01/taskflow/types"
)

func fastSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      5 * time.Millisecond,
		MaxConcurrent: 10,
		MaxPending:    64,
		Seed:          1,
	}
}

func noRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, Jitter: 0}
}

func fastRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2, Jitter: 0}
}

func newTestScheduler(t *testing.T, cfg SchedulerConfig, runner StepRunner) *Scheduler {
	t.Helper()
	s := NewScheduler(cfg, NewExecutor(runner, nil), nil)
	s.Start(testutil.TestContext(t))
	t.Cleanup(s.Stop)
	return s
}

func singleStepDef(action string) *Definition {
	return &Definition{Name: "job", Steps: []Step{{Name: "work", Action: action}}}
}

func TestSchedulerRejectsDuplicate(t *testing.T) {
	s := NewScheduler(fastSchedulerConfig(), NewExecutor(NewActionMux(), nil), nil)

	def := singleStepDef("noop")
	inst := newInstance("inst-1", def.Name, nil)

	require.NoError(t, s.Schedule(inst, def, time.Now().Add(time.Hour), noRetryPolicy()))

	err := s.Schedule(inst, def, time.Now().Add(time.Hour), noRetryPolicy())
	require.Error(t, err)
	assert.True(t, types.IsDuplicate(err))
}

func TestSchedulerCapacityExceeded(t *testing.T) {
	cfg := fastSchedulerConfig()
	cfg.MaxPending = 2
	s := NewScheduler(cfg, NewExecutor(NewActionMux(), nil), nil)

	def := singleStepDef("noop")
	later := time.Now().Add(time.Hour)

	require.NoError(t, s.Schedule(newInstance("a", def.Name, nil), def, later, noRetryPolicy()))
	require.NoError(t, s.Schedule(newInstance("b", def.Name, nil), def, later, noRetryPolicy()))

	err := s.Schedule(newInstance("c", def.Name, nil), def, later, noRetryPolicy())
	require.Error(t, err)
	assert.True(t, types.IsCapacityExceeded(err))
	assert.True(t, types.IsRetryable(err), "queue pressure is transient")
}

func TestSchedulerRunsDueInstance(t *testing.T) {
	runner := testutil.NewScriptedRunner()
	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := singleStepDef("work")
	inst := newInstance("inst-1", def.Name, nil)
	require.NoError(t, s.Schedule(inst, def, time.Now(), noRetryPolicy()))

	testutil.AssertEventuallyTrue(t, func() bool {
		return inst.GetState() == StateCompleted
	}, 3*time.Second)

	testutil.AssertEventuallyTrue(t, func() bool {
		return !s.HasEntry(inst.ID)
	}, time.Second)
	assert.Equal(t, 1, runner.Calls("work"))
}

func TestSchedulerDelayedFire(t *testing.T) {
	runner := testutil.NewScriptedRunner()
	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := singleStepDef("work")
	inst := newInstance("inst-1", def.Name, nil)
	require.NoError(t, s.Schedule(inst, def, time.Now().Add(150*time.Millisecond), noRetryPolicy()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, runner.Calls("work"), "not due yet")
	assert.Equal(t, StateReady, inst.GetState())

	testutil.AssertEventuallyTrue(t, func() bool {
		return inst.GetState() == StateCompleted
	}, 3*time.Second)
}

func TestSchedulerWorkflowRetryThenSuccess(t *testing.T) {
	runner := testutil.NewScriptedRunner()
	runner.FailTimes("work", 1, errors.New("transient"))
	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := singleStepDef("work")
	inst := newInstance("inst-1", def.Name, nil)
	require.NoError(t, s.Schedule(inst, def, time.Now(), fastRetryPolicy(3)))

	testutil.AssertEventuallyTrue(t, func() bool {
		return inst.GetState() == StateCompleted
	}, 3*time.Second)

	assert.Equal(t, 2, runner.Calls("work"), "one failure, one retry success")
	// 历史跨越两次执行：失败一次 + 成功一次
	history := inst.historyCopy()
	require.Len(t, history, 2)
	assert.Equal(t, HistoryFailed, history[0].Status)
	assert.Equal(t, HistoryCompleted, history[1].Status)
}

func TestSchedulerRetryExhaustion(t *testing.T) {
	runner := testutil.NewScriptedRunner()
	runner.FailTimes("work", 100, errors.New("permanently down"))
	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := singleStepDef("work")
	inst := newInstance("inst-1", def.Name, nil)
	require.NoError(t, s.Schedule(inst, def, time.Now(), fastRetryPolicy(2)))

	testutil.AssertEventuallyTrue(t, func() bool {
		return !s.HasEntry(inst.ID) && inst.GetState() == StateFailed
	}, 3*time.Second)

	assert.Equal(t, 3, runner.Calls("work"), "initial run plus two workflow retries")
	require.Error(t, inst.terminalError())
	assert.True(t, types.HasCode(inst.terminalError(), types.ErrStepExecution))
}

func TestSchedulerFatalFailureNotRetried(t *testing.T) {
	runner := testutil.NewScriptedRunner()
	runner.FailTimes("work", 100,
		types.NewError(types.ErrStepExecution, "unknown action").WithRetryable(false))
	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := singleStepDef("work")
	inst := newInstance("inst-1", def.Name, nil)
	require.NoError(t, s.Schedule(inst, def, time.Now(), fastRetryPolicy(5)))

	testutil.AssertEventuallyTrue(t, func() bool {
		return inst.GetState() == StateFailed && !s.HasEntry(inst.ID)
	}, 3*time.Second)

	assert.Equal(t, 1, runner.Calls("work"), "fatal failures bypass workflow retry")
}

func TestSchedulerConcurrencyBound(t *testing.T) {
	const total = 6

	cfg := fastSchedulerConfig()
	cfg.MaxConcurrent = 2
	runner := testutil.NewScriptedRunner().WithDelay(50 * time.Millisecond)
	s := newTestScheduler(t, cfg, runner)

	def := singleStepDef("work")
	instances := make([]*Instance, 0, total)
	for i := 0; i < total; i++ {
		inst := newInstance(fmt.Sprintf("inst-%d", i), def.Name, nil)
		instances = append(instances, inst)
		require.NoError(t, s.Schedule(inst, def, time.Now(), noRetryPolicy()))
	}

	testutil.AssertEventuallyTrue(t, func() bool {
		for _, inst := range instances {
			if inst.GetState() != StateCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second)

	assert.LessOrEqual(t, runner.MaxConcurrent(), 2,
		"no more than MaxConcurrent instances may run at once")
	assert.Equal(t, total, runner.Calls("work"))
}

func TestSchedulerCancelPending(t *testing.T) {
	runner := testutil.NewScriptedRunner()
	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := singleStepDef("work")
	inst := newInstance("inst-1", def.Name, nil)
	require.NoError(t, s.Schedule(inst, def, time.Now().Add(time.Hour), noRetryPolicy()))

	require.NoError(t, s.Cancel(inst.ID))

	assert.False(t, s.HasEntry(inst.ID))
	assert.Equal(t, StateCancelled, inst.GetState())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, runner.Calls("work"), "cancelled entries never fire")
}

func TestSchedulerCancelActive(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := testutil.NewScriptedRunner()
	runner.OnAction("gate", func(ctx context.Context, stepName string, inputs map[string]any) (map[string]any, error) {
		close(started)
		<-release
		return nil, nil
	})

	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := &Definition{Name: "job", Steps: []Step{
		{Name: "first", Action: "gate"},
		{Name: "second", Action: "more"},
	}}
	inst := newInstance("inst-1", def.Name, nil)
	require.NoError(t, s.Schedule(inst, def, time.Now(), noRetryPolicy()))

	<-started
	require.NoError(t, s.Cancel(inst.ID))
	close(release)

	testutil.AssertEventuallyTrue(t, func() bool {
		return inst.GetState() == StateCancelled && !s.HasEntry(inst.ID)
	}, 3*time.Second)
	assert.Equal(t, 0, runner.Calls("more"), "cancellation observed at the step boundary")
}

func TestSchedulerCancelUnknown(t *testing.T) {
	s := NewScheduler(fastSchedulerConfig(), NewExecutor(NewActionMux(), nil), nil)
	err := s.Cancel("ghost")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestSchedulerPanicRecovery(t *testing.T) {
	runner := testutil.NewScriptedRunner()
	runner.OnAction("work", func(ctx context.Context, stepName string, inputs map[string]any) (map[string]any, error) {
		panic("handler exploded")
	})
	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := singleStepDef("work")
	inst := newInstance("inst-1", def.Name, nil)
	require.NoError(t, s.Schedule(inst, def, time.Now(), noRetryPolicy()))

	testutil.AssertEventuallyTrue(t, func() bool {
		return inst.GetState() == StateFailed && !s.HasEntry(inst.ID)
	}, 3*time.Second)

	require.Error(t, inst.terminalError())
	assert.True(t, types.HasCode(inst.terminalError(), types.ErrInternalError))
}

func TestSchedulerRestore(t *testing.T) {
	runner := testutil.NewScriptedRunner()
	s := newTestScheduler(t, fastSchedulerConfig(), runner)

	def := singleStepDef("work")
	inst := newInstance("inst-1", def.Name, nil)

	entry := ScheduledEntry{
		InstanceID:   inst.ID,
		ScheduleTime: time.Now(),
		RetryCount:   1,
		LastError:    "previous run failed",
	}
	require.NoError(t, s.Restore(entry, inst, def, fastRetryPolicy(3)))

	testutil.AssertEventuallyTrue(t, func() bool {
		return inst.GetState() == StateCompleted
	}, 3*time.Second)
}

func TestSchedulerPendingEntriesSorted(t *testing.T) {
	s := NewScheduler(fastSchedulerConfig(), NewExecutor(NewActionMux(), nil), nil)

	def := singleStepDef("noop")
	base := time.Now().Add(time.Hour)
	require.NoError(t, s.Schedule(newInstance("late", def.Name, nil), def, base.Add(2*time.Minute), noRetryPolicy()))
	require.NoError(t, s.Schedule(newInstance("early", def.Name, nil), def, base, noRetryPolicy()))
	require.NoError(t, s.Schedule(newInstance("mid", def.Name, nil), def, base.Add(time.Minute), noRetryPolicy()))

	entries := s.PendingEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "early", entries[0].InstanceID)
	assert.Equal(t, "mid", entries[1].InstanceID)
	assert.Equal(t, "late", entries[2].InstanceID)
}
