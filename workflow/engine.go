package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/types"
)

// EngineConfig configures the engine façade.
type EngineConfig struct {
	// Scheduler configures the background scheduling loop
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`

	// DefaultRetry is the workflow-level retry policy applied on Schedule
	DefaultRetry RetryPolicy `json:"default_retry" yaml:"default_retry"`

	// Retention evicts terminal instances this long after completion
	// (0 = keep until explicitly deleted)
	Retention time.Duration `json:"retention" yaml:"retention"`

	// MetricsNamespace enables the prometheus collector when non-empty
	MetricsNamespace string `json:"metrics_namespace" yaml:"metrics_namespace"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Scheduler:    DefaultSchedulerConfig(),
		DefaultRetry: DefaultRetryPolicy(),
	}
}

// Engine is the workflow orchestration façade: a registry of definitions,
// a factory for instances, and the entry point for scheduling, querying,
// and cancelling executions. All timing and concurrency is delegated to the
// scheduler, all per-instance execution to the executor.
//
// An Engine is constructed once by the process entry point and passed by
// handle to its callers; there is no hidden global instance.
type Engine struct {
	cfg       EngineConfig
	logger    *zap.Logger
	executor  *Executor
	scheduler *Scheduler
	metrics   *metrics.Collector

	mu          sync.RWMutex
	definitions map[string]*Definition
	instances   map[string]*Instance

	lifecycleMu sync.Mutex
	cancelSweep context.CancelFunc
	sweepDone   chan struct{}
	started     bool
}

// NewEngine creates an engine dispatching step actions to runner.
// A nil runner falls back to the builtin ActionMux.
func NewEngine(cfg EngineConfig, runner StepRunner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = NewActionMux()
	}
	cfg.DefaultRetry = cfg.DefaultRetry.Normalize()

	var collector *metrics.Collector
	if cfg.MetricsNamespace != "" {
		collector = metrics.NewCollector(cfg.MetricsNamespace, logger)
	}

	executor := NewExecutor(runner, logger)
	executor.metrics = collector
	scheduler := NewScheduler(cfg.Scheduler, executor, logger)
	scheduler.metrics = collector

	return &Engine{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "engine")),
		executor:    executor,
		scheduler:   scheduler,
		metrics:     collector,
		definitions: make(map[string]*Definition),
		instances:   make(map[string]*Instance),
	}
}

// Start launches the scheduling loop and the retention sweeper.
func (e *Engine) Start(ctx context.Context) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if e.started {
		return
	}
	e.started = true

	e.scheduler.Start(ctx)

	if e.cfg.Retention > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		e.cancelSweep = cancel
		e.sweepDone = make(chan struct{})
		go e.sweepLoop(sweepCtx)
	}
	e.logger.Info("engine started")
}

// Stop halts the scheduler and the sweeper, waiting for in-flight
// executions to settle.
func (e *Engine) Stop() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if !e.started {
		return
	}
	e.started = false

	if e.cancelSweep != nil {
		e.cancelSweep()
		<-e.sweepDone
		e.cancelSweep = nil
	}
	e.scheduler.Stop()
	e.logger.Info("engine stopped")
}

// RegisterDefinition validates and registers a workflow definition.
// Registering the same name twice fails with a DUPLICATE error; definitions
// are immutable once registered.
func (e *Engine) RegisterDefinition(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.definitions[def.Name]; dup {
		return types.NewErrorf(types.ErrDuplicate,
			"definition %q is already registered", def.Name)
	}
	e.definitions[def.Name] = def.clone()

	e.logger.Info("definition registered",
		zap.String("definition", def.Name),
		zap.Int("steps", len(def.Steps)),
	)
	return nil
}

// GetDefinition returns a registered definition by name.
func (e *Engine) GetDefinition(name string) (*Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "definition %q is not registered", name)
	}
	return def, nil
}

// ListDefinitions returns the registered definition names, sorted.
func (e *Engine) ListDefinitions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.definitions))
	for name := range e.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateInstance creates a new Ready instance of a registered definition,
// seeding its variables with the given initial inputs.
func (e *Engine) CreateInstance(definitionName string, inputs map[string]any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.definitions[definitionName]; !ok {
		return "", types.NewErrorf(types.ErrNotFound,
			"definition %q is not registered", definitionName)
	}

	inst := newInstance(uuid.New().String(), definitionName, inputs)
	e.instances[inst.ID] = inst

	e.logger.Debug("instance created",
		zap.String("instance_id", inst.ID),
		zap.String("definition", definitionName),
	)
	return inst.ID, nil
}

// Schedule queues the instance for execution at the given time; a nil time
// means immediately. Only Ready instances may be scheduled.
func (e *Engine) Schedule(instanceID string, at *time.Time) error {
	e.mu.RLock()
	inst, ok := e.instances[instanceID]
	var def *Definition
	if ok {
		def = e.definitions[inst.DefinitionRef]
	}
	e.mu.RUnlock()

	if !ok {
		return types.NewErrorf(types.ErrNotFound, "instance %s not found", instanceID)
	}
	if def == nil {
		return types.NewErrorf(types.ErrNotFound,
			"definition %q is not registered", inst.DefinitionRef)
	}
	if st := inst.GetState(); st != StateReady {
		return types.NewErrorf(types.ErrInvalidState,
			"instance %s is %s, only ready instances can be scheduled", instanceID, st)
	}

	when := time.Now()
	if at != nil {
		when = *at
	}
	return e.scheduler.Schedule(inst, def, when, e.cfg.DefaultRetry)
}

// GetStatus returns the instance state and its full step history. For a
// failed instance the returned error is the terminating error, so callers
// can post-mortem without external logs; for an unknown id it is NOT_FOUND.
func (e *Engine) GetStatus(instanceID string) (State, []HistoryEntry, error) {
	e.mu.RLock()
	inst, ok := e.instances[instanceID]
	e.mu.RUnlock()

	if !ok {
		return "", nil, types.NewErrorf(types.ErrNotFound, "instance %s not found", instanceID)
	}

	state := inst.GetState()
	history := inst.historyCopy()
	if state == StateFailed {
		return state, history, inst.terminalError()
	}
	return state, history, nil
}

// Cancel cancels a pending or running instance cooperatively.
func (e *Engine) Cancel(instanceID string) error {
	e.mu.RLock()
	inst, ok := e.instances[instanceID]
	e.mu.RUnlock()

	if !ok {
		return types.NewErrorf(types.ErrNotFound, "instance %s not found", instanceID)
	}
	if e.scheduler.HasEntry(instanceID) {
		return e.scheduler.Cancel(instanceID)
	}
	return inst.requestCancel()
}

// Pause stops new step dispatch for a running instance. The in-flight step,
// if any, is not interrupted.
func (e *Engine) Pause(instanceID string) error {
	e.mu.RLock()
	inst, ok := e.instances[instanceID]
	e.mu.RUnlock()

	if !ok {
		return types.NewErrorf(types.ErrNotFound, "instance %s not found", instanceID)
	}
	return inst.transition(StatePaused)
}

// Resume lets a paused instance continue with its next step.
func (e *Engine) Resume(instanceID string) error {
	e.mu.RLock()
	inst, ok := e.instances[instanceID]
	e.mu.RUnlock()

	if !ok {
		return types.NewErrorf(types.ErrNotFound, "instance %s not found", instanceID)
	}
	return inst.resume()
}

// ListInstances returns summaries of all instances, optionally filtered by
// state, ordered by start time.
func (e *Engine) ListInstances(stateFilter *State) []InstanceSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]InstanceSummary, 0, len(e.instances))
	for _, inst := range e.instances {
		s := inst.summary()
		if stateFilter != nil && s.State != *stateFilter {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// DeleteInstance removes an instance and any pending scheduled entry.
// A non-terminal instance is cancelled first.
func (e *Engine) DeleteInstance(instanceID string) error {
	e.mu.RLock()
	inst, ok := e.instances[instanceID]
	e.mu.RUnlock()

	if !ok {
		return types.NewErrorf(types.ErrNotFound, "instance %s not found", instanceID)
	}

	if !inst.GetState().IsTerminal() {
		if err := e.Cancel(instanceID); err != nil && !types.IsNotFound(err) {
			return err
		}
	}
	e.scheduler.Remove(instanceID)

	e.mu.Lock()
	delete(e.instances, instanceID)
	e.mu.Unlock()

	e.logger.Debug("instance deleted", zap.String("instance_id", instanceID))
	return nil
}

// sweepLoop periodically evicts terminal instances older than Retention.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer close(e.sweepDone)

	interval := e.cfg.Retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.evictExpired(); n > 0 {
				e.logger.Info("evicted terminal instances", zap.Int("count", n))
			}
		}
	}
}

func (e *Engine) evictExpired() int {
	cutoff := time.Now().Add(-e.cfg.Retention)

	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for id, inst := range e.instances {
		s := inst.summary()
		if s.State.IsTerminal() && s.CompletedAt != nil && s.CompletedAt.Before(cutoff) {
			delete(e.instances, id)
			evicted++
		}
	}
	return evicted
}
