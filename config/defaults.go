package config

import (
	"time"

	"github.com/BaSui01/taskflow/persistence"
	"github.com/BaSui01/taskflow/workflow"
)

// DefaultConfig 返回带默认值的完整配置
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrentWorkflows: 10,
			MaxPendingWorkflows:    1024,
			SchedulerInterval:      100 * time.Millisecond,
			DispatchRate:           0,
			Retention:              0,
			MetricsNamespace:       "taskflow",
			Retry:                  workflow.DefaultRetryPolicy(),
		},
		Store: persistence.StoreConfig{
			Type: persistence.StoreTypeMemory,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
	}
}
