// 引擎与快照存储的集成测试：跨引擎重启的状态恢复。
package integration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/persistence"
	"github.com/BaSui01/taskflow/quick"
	"github.com/BaSui01/taskflow/testutil"
	"github.com/BaSui01/taskflow/workflow"
)

// newEngine 构建独立的测试引擎
func newEngine(t *testing.T, opts ...quick.Option) *workflow.Engine {
	t.Helper()

	base := []quick.Option{
		quick.WithLogger(zap.NewNop()),
		quick.WithSchedulerInterval(5 * time.Millisecond),
	}
	eng, err := quick.New(append(base, opts...)...)
	require.NoError(t, err)
	return eng
}

func reportDefinition() *workflow.Definition {
	return &workflow.Definition{
		Name: "daily_report",
		Steps: []workflow.Step{
			{Name: "collect", Action: "noop"},
			{Name: "publish", Action: "noop"},
		},
	}
}

// TestEngineRestartWithFileStore 验证文件快照在引擎重启后恢复
// 定义、实例与排期，恢复出的实例可以继续执行到完成。
func TestEngineRestartWithFileStore(t *testing.T) {
	ctx := testutil.TestContext(t)

	store, err := persistence.NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, err)
	defer store.Close()

	// 第一个引擎：建好状态后落盘
	eng1 := newEngine(t)
	eng1.Start(ctx)
	require.NoError(t, eng1.RegisterDefinition(reportDefinition()))

	id, err := eng1.CreateInstance("daily_report", map[string]any{"day": "monday"})
	require.NoError(t, err)

	at := time.Now().Add(time.Hour)
	require.NoError(t, eng1.Schedule(id, &at))

	require.NoError(t, eng1.SaveSnapshot(ctx, store))
	eng1.Stop()

	// 第二个引擎：恢复后实例仍然挂起
	eng2 := newEngine(t)
	require.NoError(t, eng2.LoadSnapshot(ctx, store))
	eng2.Start(ctx)
	t.Cleanup(eng2.Stop)

	state, history, err := eng2.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateReady, state)
	assert.Empty(t, history)

	defs := eng2.ListDefinitions()
	assert.Equal(t, []string{"daily_report"}, defs)

	// 把延迟实例改为立即执行：先取消旧排期，重新创建并调度
	require.NoError(t, eng2.Cancel(id))

	id2, err := eng2.CreateInstance("daily_report", nil)
	require.NoError(t, err)
	require.NoError(t, eng2.Schedule(id2, nil))

	testutil.AssertEventuallyTrue(t, func() bool {
		state, _, _ := eng2.GetStatus(id2)
		return state == workflow.StateCompleted
	}, 5*time.Second)
}

// TestEngineRestartWithRedisStore 验证 Redis 快照后端的恢复路径。
func TestEngineRestartWithRedisStore(t *testing.T) {
	ctx := testutil.TestContext(t)
	mr := miniredis.RunT(t)

	store, err := persistence.NewRedisStore(persistence.StoreConfig{
		Type: persistence.StoreTypeRedis,
		Redis: persistence.RedisStoreConfig{
			Addr: mr.Addr(),
		},
	}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	eng1 := newEngine(t)
	eng1.Start(ctx)
	require.NoError(t, eng1.RegisterDefinition(reportDefinition()))

	id, err := eng1.CreateInstance("daily_report", nil)
	require.NoError(t, err)
	require.NoError(t, eng1.Schedule(id, nil))

	testutil.AssertEventuallyTrue(t, func() bool {
		state, _, _ := eng1.GetStatus(id)
		return state == workflow.StateCompleted
	}, 5*time.Second)

	require.NoError(t, eng1.SaveSnapshot(ctx, store))
	eng1.Stop()

	// 重启后终态实例原样保留
	eng2 := newEngine(t)
	require.NoError(t, eng2.LoadSnapshot(ctx, store))
	eng2.Start(ctx)
	t.Cleanup(eng2.Stop)

	state, history, err := eng2.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, state)
	require.Len(t, history, 2)
	assert.Equal(t, "collect", history[0].Step)
	assert.Equal(t, "publish", history[1].Step)
}

// TestEngineSnapshotOmitsSettledEntries 验证已完成实例不会留下排期记录。
func TestEngineSnapshotOmitsSettledEntries(t *testing.T) {
	ctx := testutil.TestContext(t)

	eng := newEngine(t)
	eng.Start(ctx)
	t.Cleanup(eng.Stop)

	require.NoError(t, eng.RegisterDefinition(reportDefinition()))

	done, err := eng.CreateInstance("daily_report", nil)
	require.NoError(t, err)
	require.NoError(t, eng.Schedule(done, nil))

	pending, err := eng.CreateInstance("daily_report", nil)
	require.NoError(t, err)
	at := time.Now().Add(time.Hour)
	require.NoError(t, eng.Schedule(pending, &at))

	testutil.AssertEventuallyTrue(t, func() bool {
		state, _, _ := eng.GetStatus(done)
		return state == workflow.StateCompleted
	}, 5*time.Second)

	snap := eng.Snapshot()
	require.NotNil(t, snap)

	_, hasDone := snap.ScheduledEntries[done]
	assert.False(t, hasDone)
	_, hasPending := snap.ScheduledEntries[pending]
	assert.True(t, hasPending)
}
