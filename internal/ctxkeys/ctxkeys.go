// Package ctxkeys 统一管理 context 中的追踪键，避免各包自定义键类型冲突。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	workflowIDKey contextKey = "workflow_id"
	stepNameKey   contextKey = "step_name"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithWorkflowID 设置当前工作流实例 ID
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WorkflowID 获取当前工作流实例 ID
func WorkflowID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(workflowIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithStepName 设置当前执行的步骤名
func WithStepName(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepNameKey, step)
}

// StepName 获取当前执行的步骤名
func StepName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(stepNameKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
