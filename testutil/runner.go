// =============================================================================
// 🎭 ScriptedRunner - 步骤执行器模拟实现
// =============================================================================
// 用于测试的 StepRunner 模拟，支持按动作编排失败次数与自定义行为
//
// 使用方法:
//
//	runner := testutil.NewScriptedRunner()
//	runner.FailTimes("flaky", 2, errors.New("transient"))
//	runner.OnAction("compute", func(ctx context.Context, step string, in map[string]any) (map[string]any, error) {
//	    return map[string]any{"sum": 42}, nil
//	})
// =============================================================================
package testutil

import (
	"context"
	"sync"
	"time"
)

// ActionFunc 是单个动作的自定义处理函数
type ActionFunc func(ctx context.Context, stepName string, inputs map[string]any) (map[string]any, error)

// failurePlan 记录某动作剩余的注入失败次数
type failurePlan struct {
	remaining int
	err       error
}

// ScriptedRunner 是可编排的 StepRunner 模拟实现
type ScriptedRunner struct {
	mu sync.Mutex

	// 行为编排
	failures map[string]*failurePlan
	handlers map[string]ActionFunc
	delay    time.Duration

	// 调用记录
	calls      map[string]int
	totalCalls int

	// 并发统计
	inFlight      int
	maxConcurrent int
}

// NewScriptedRunner 创建新的 ScriptedRunner
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{
		failures: map[string]*failurePlan{},
		handlers: map[string]ActionFunc{},
		calls:    map[string]int{},
	}
}

// =============================================================================
// 🔧 Builder 方法
// =============================================================================

// FailTimes 令指定动作的前 n 次调用返回 err，之后恢复成功
func (r *ScriptedRunner) FailTimes(action string, n int, err error) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[action] = &failurePlan{remaining: n, err: err}
	return r
}

// OnAction 为指定动作注册自定义处理函数
func (r *ScriptedRunner) OnAction(action string, fn ActionFunc) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = fn
	return r
}

// WithDelay 为每次执行注入固定延迟，可配合超时与并发测试
func (r *ScriptedRunner) WithDelay(d time.Duration) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
	return r
}

// =============================================================================
// 🚀 StepRunner 实现
// =============================================================================

// Execute 按编排的脚本执行动作
func (r *ScriptedRunner) Execute(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error) {
	r.mu.Lock()
	r.calls[action]++
	r.totalCalls++
	r.inFlight++
	if r.inFlight > r.maxConcurrent {
		r.maxConcurrent = r.inFlight
	}
	delay := r.delay
	handler := r.handlers[action]
	var failErr error
	if plan, ok := r.failures[action]; ok && plan.remaining > 0 {
		plan.remaining--
		failErr = plan.err
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failErr != nil {
		return nil, failErr
	}
	if handler != nil {
		return handler(ctx, stepName, inputs)
	}
	return map[string]any{"action": action, "step": stepName}, nil
}

// =============================================================================
// 📊 调用统计
// =============================================================================

// Calls 返回指定动作的调用次数
func (r *ScriptedRunner) Calls(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[action]
}

// TotalCalls 返回全部动作的调用总数
func (r *ScriptedRunner) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalCalls
}

// MaxConcurrent 返回执行期间观察到的最大并发数
func (r *ScriptedRunner) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxConcurrent
}
