// =============================================================================
// 📦 TaskFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("TASKFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/taskflow/persistence"
	"github.com/BaSui01/taskflow/workflow"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 TaskFlow 的完整配置结构
type Config struct {
	// Engine 引擎配置
	Engine EngineConfig `yaml:"engine"`

	// Store 快照存储配置
	Store persistence.StoreConfig `yaml:"store"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`
}

// EngineConfig 引擎配置
type EngineConfig struct {
	// 最大并发工作流数
	MaxConcurrentWorkflows int `yaml:"max_concurrent_workflows"`

	// 调度队列容量（pending + active）
	MaxPendingWorkflows int `yaml:"max_pending_workflows"`

	// 调度循环扫描间隔
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`

	// 每秒最多触发的工作流数（0 表示不限制）
	DispatchRate float64 `yaml:"dispatch_rate"`

	// 终态实例保留时长（0 表示永久保留）
	Retention time.Duration `yaml:"retention"`

	// Prometheus 指标命名空间（留空则禁用）
	MetricsNamespace string `yaml:"metrics_namespace"`

	// 工作流级重试策略
	Retry workflow.RetryPolicy `yaml:"retry"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level"`

	// 输出格式: json, console
	Format string `yaml:"format"`

	// 输出路径
	OutputPaths []string `yaml:"output_paths"`
}

// ToEngine 将配置映射为 workflow.EngineConfig
func (c EngineConfig) ToEngine() workflow.EngineConfig {
	return workflow.EngineConfig{
		Scheduler: workflow.SchedulerConfig{
			Interval:      c.SchedulerInterval,
			MaxConcurrent: c.MaxConcurrentWorkflows,
			MaxPending:    c.MaxPendingWorkflows,
			DispatchRate:  c.DispatchRate,
		},
		DefaultRetry:     c.Retry,
		Retention:        c.Retention,
		MetricsNamespace: c.MetricsNamespace,
	}
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "TASKFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv 从环境变量覆盖配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	prefix := l.envPrefix + "_"

	if v, ok := lookupInt(prefix + "MAX_CONCURRENT_WORKFLOWS"); ok {
		cfg.Engine.MaxConcurrentWorkflows = v
	}
	if v, ok := lookupInt(prefix + "MAX_PENDING_WORKFLOWS"); ok {
		cfg.Engine.MaxPendingWorkflows = v
	}
	if v, ok := lookupDuration(prefix + "SCHEDULER_INTERVAL"); ok {
		cfg.Engine.SchedulerInterval = v
	}
	if v, ok := lookupFloat(prefix + "DISPATCH_RATE"); ok {
		cfg.Engine.DispatchRate = v
	}
	if v, ok := lookupDuration(prefix + "RETENTION"); ok {
		cfg.Engine.Retention = v
	}
	if v, ok := os.LookupEnv(prefix + "METRICS_NAMESPACE"); ok {
		cfg.Engine.MetricsNamespace = v
	}
	if v, ok := lookupInt(prefix + "RETRY_MAX_RETRIES"); ok {
		cfg.Engine.Retry.MaxRetries = v
	}
	if v, ok := lookupDuration(prefix + "RETRY_INITIAL_DELAY"); ok {
		cfg.Engine.Retry.InitialDelay = v
	}
	if v, ok := lookupDuration(prefix + "RETRY_MAX_DELAY"); ok {
		cfg.Engine.Retry.MaxDelay = v
	}

	if v, ok := os.LookupEnv(prefix + "STORE_TYPE"); ok {
		cfg.Store.Type = persistence.StoreType(v)
	}
	if v, ok := os.LookupEnv(prefix + "STORE_PATH"); ok {
		cfg.Store.Path = v
	}
	if v, ok := os.LookupEnv(prefix + "REDIS_ADDR"); ok {
		cfg.Store.Redis.Addr = v
	}
	if v, ok := os.LookupEnv(prefix + "REDIS_PASSWORD"); ok {
		cfg.Store.Redis.Password = v
	}
	if v, ok := lookupInt(prefix + "REDIS_DB"); ok {
		cfg.Store.Redis.DB = v
	}

	if v, ok := os.LookupEnv(prefix + "LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := os.LookupEnv(prefix + "LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	return nil
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrentWorkflows < 0 {
		return fmt.Errorf("engine.max_concurrent_workflows must be >= 0")
	}
	if c.Engine.SchedulerInterval < 0 {
		return fmt.Errorf("engine.scheduler_interval must be >= 0")
	}
	if c.Engine.DispatchRate < 0 {
		return fmt.Errorf("engine.dispatch_rate must be >= 0")
	}
	if c.Engine.Retry.MaxRetries < 0 {
		return fmt.Errorf("engine.retry.max_retries must be >= 0")
	}
	switch c.Store.Type {
	case persistence.StoreTypeMemory, persistence.StoreTypeFile, persistence.StoreTypeRedis, "":
	default:
		return fmt.Errorf("store.type %q is not supported", c.Store.Type)
	}
	if c.Store.Type == persistence.StoreTypeFile && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the file store")
	}
	if c.Store.Type == persistence.StoreTypeRedis && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store.redis.addr is required for the redis store")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format %q is not supported", c.Log.Format)
	}
	return nil
}

// --- 环境变量解析辅助 ---

func lookupInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func lookupFloat(key string) (float64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func lookupDuration(key string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
