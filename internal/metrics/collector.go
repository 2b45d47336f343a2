// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// 工作流指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec

	// 步骤指标
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// 调度器指标
	activeWorkflows  prometheus.Gauge
	pendingWorkflows prometheus.Gauge
	scheduledTotal   prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"definition", "status"},
	)

	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"definition"},
	)

	c.retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_retries_total",
			Help:      "Total number of retries by level (step or workflow)",
		},
		[]string{"definition", "level"},
	)

	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of step outcomes",
		},
		[]string{"definition", "status"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Step dispatch duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"definition", "action"},
	)

	c.activeWorkflows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_active",
			Help:      "Number of workflow instances currently executing",
		},
	)

	c.pendingWorkflows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_pending",
			Help:      "Number of scheduled entries waiting to fire",
		},
	)

	c.scheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_scheduled_total",
			Help:      "Total number of accepted schedule requests",
		},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordExecution 记录一次工作流执行结果
func (c *Collector) RecordExecution(definition, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(definition, status).Inc()
	c.executionDuration.WithLabelValues(definition).Observe(duration.Seconds())
}

// RecordStep 记录一次步骤结果
func (c *Collector) RecordStep(definition, action, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(definition, status).Inc()
	c.stepDuration.WithLabelValues(definition, action).Observe(duration.Seconds())
}

// RecordRetry 记录一次重试（level 为 step 或 workflow）
func (c *Collector) RecordRetry(definition, level string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(definition, level).Inc()
}

// RecordScheduled 记录一次成功的调度请求
func (c *Collector) RecordScheduled() {
	if c == nil {
		return
	}
	c.scheduledTotal.Inc()
}

// SetActive 更新活跃实例数
func (c *Collector) SetActive(n int) {
	if c == nil {
		return
	}
	c.activeWorkflows.Set(float64(n))
}

// SetPending 更新等待触发的条目数
func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pendingWorkflows.Set(float64(n))
}
