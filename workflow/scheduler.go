package workflow

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/types"
)

// SchedulerConfig configures the scheduling loop.
type SchedulerConfig struct {
	// Interval is the scan period of the background loop
	Interval time.Duration `json:"interval" yaml:"interval"`

	// MaxConcurrent bounds simultaneously executing instances
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// MaxPending caps pending + active entries; Schedule rejects beyond it
	// with a CAPACITY_EXCEEDED error (0 picks the default)
	MaxPending int `json:"max_pending" yaml:"max_pending"`

	// DispatchRate limits workflow firings per second (0 = unlimited)
	DispatchRate float64 `json:"dispatch_rate" yaml:"dispatch_rate"`

	// Seed fixes the backoff jitter source for deterministic tests
	// (0 = time-based)
	Seed int64 `json:"-" yaml:"-"`
}

// DefaultSchedulerConfig returns sensible defaults for in-process use.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      100 * time.Millisecond,
		MaxConcurrent: 10,
		MaxPending:    1024,
	}
}

func (c SchedulerConfig) normalize() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	if c.DispatchRate < 0 {
		c.DispatchRate = 0
	}
	return c
}

// ScheduledEntry is the scheduler's bookkeeping record for a pending or
// retrying instance. It exists only while the instance is pending or
// retrying and is removed on terminal success or once RetryCount exceeds
// the policy's MaxRetries.
type ScheduledEntry struct {
	InstanceID   string    `json:"instanceID"`
	ScheduleTime time.Time `json:"scheduleTime"`
	RetryCount   int       `json:"retryCount"`
	LastError    string    `json:"lastError,omitempty"`

	active bool
	policy RetryPolicy
	inst   *Instance
	def    *Definition
}

// Scheduler owns the set of scheduled entries, fires due ones from a single
// background loop, applies whole-workflow retry with exponential backoff,
// and bounds total concurrent executions.
//
// The entries map and the active count are the only shared mutable state;
// both live under one mutex. Backoff computation is pure and the jitter
// source is only touched under the same mutex.
type Scheduler struct {
	cfg      SchedulerConfig
	executor *Executor
	logger   *zap.Logger
	metrics  *metrics.Collector
	limiter  *rate.Limiter

	mu          sync.Mutex
	entries     map[string]*ScheduledEntry
	activeCount int
	rng         *rand.Rand

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler dispatching executions to executor.
func NewScheduler(cfg SchedulerConfig, executor *Executor, logger *zap.Logger) *Scheduler {
	cfg = cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Scheduler{
		cfg:      cfg,
		executor: executor,
		logger:   logger.With(zap.String("component", "scheduler")),
		entries:  make(map[string]*ScheduledEntry),
		rng:      rand.New(rand.NewSource(seed)),
	}
	if cfg.DispatchRate > 0 {
		burst := int(cfg.DispatchRate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
	}
	return s
}

// Start launches the background scan loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
	)
}

// Stop halts the loop and waits for in-flight executions to settle.
// In-flight instances observe the context cancellation at their next step
// boundary and end up Cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Schedule registers the instance for execution at the given time.
// Rejects duplicate schedules for the same instance with a DUPLICATE error
// and queue overflow with a CAPACITY_EXCEEDED error; both are synchronous
// and never retried by the engine.
func (s *Scheduler) Schedule(inst *Instance, def *Definition, when time.Time, policy RetryPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[inst.ID]; dup {
		return types.NewErrorf(types.ErrDuplicate,
			"instance %s is already scheduled", inst.ID)
	}
	if len(s.entries) >= s.cfg.MaxPending {
		return types.NewErrorf(types.ErrCapacityExceeded,
			"scheduler queue is full (%d entries)", len(s.entries)).WithRetryable(true)
	}

	s.entries[inst.ID] = &ScheduledEntry{
		InstanceID:   inst.ID,
		ScheduleTime: when,
		policy:       policy.Normalize(),
		inst:         inst,
		def:          def,
	}
	s.metrics.RecordScheduled()
	s.updateGaugesLocked()

	s.logger.Debug("instance scheduled",
		zap.String("instance_id", inst.ID),
		zap.String("definition", def.Name),
		zap.Time("schedule_time", when),
	)
	return nil
}

// Cancel removes a pending entry immediately, or requests cooperative
// cancellation of an active one. The executor stops dispatching new steps
// but never aborts an in-flight external call.
func (s *Scheduler) Cancel(instanceID string) error {
	s.mu.Lock()
	entry, ok := s.entries[instanceID]
	if !ok {
		s.mu.Unlock()
		return types.NewErrorf(types.ErrNotFound,
			"instance %s has no scheduled entry", instanceID)
	}
	if !entry.active {
		delete(s.entries, instanceID)
		s.updateGaugesLocked()
		s.mu.Unlock()
		err := entry.inst.requestCancel()
		s.logger.Info("pending schedule cancelled", zap.String("instance_id", instanceID))
		return err
	}
	s.mu.Unlock()

	s.logger.Info("cancellation requested for active instance",
		zap.String("instance_id", instanceID))
	return entry.inst.requestCancel()
}

// HasEntry reports whether the instance has a pending or active entry.
func (s *Scheduler) HasEntry(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[instanceID]
	return ok
}

// Remove drops an entry without touching the instance. Used by instance
// deletion; no-op when absent.
func (s *Scheduler) Remove(instanceID string) {
	s.mu.Lock()
	delete(s.entries, instanceID)
	s.updateGaugesLocked()
	s.mu.Unlock()
}

// ActiveCount returns the number of currently executing instances.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

// PendingEntries returns detached copies of all entries, for snapshots.
func (s *Scheduler) PendingEntries() []ScheduledEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, ScheduledEntry{
			InstanceID:   e.InstanceID,
			ScheduleTime: e.ScheduleTime,
			RetryCount:   e.RetryCount,
			LastError:    e.LastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleTime.Before(out[j].ScheduleTime) })
	return out
}

// Restore re-creates an entry from a snapshot. The entry starts inactive;
// the loop fires it once due.
func (s *Scheduler) Restore(entry ScheduledEntry, inst *Instance, def *Definition, policy RetryPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[entry.InstanceID]; dup {
		return types.NewErrorf(types.ErrDuplicate,
			"instance %s is already scheduled", entry.InstanceID)
	}
	s.entries[entry.InstanceID] = &ScheduledEntry{
		InstanceID:   entry.InstanceID,
		ScheduleTime: entry.ScheduleTime,
		RetryCount:   entry.RetryCount,
		LastError:    entry.LastError,
		policy:       policy.Normalize(),
		inst:         inst,
		def:          def,
	}
	s.updateGaugesLocked()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue dispatches every due entry, oldest schedule time first, while
// slots remain under the concurrency bound. Dispatch is asynchronous: one
// slow workflow never delays firing of others. Entries that do not fit keep
// their schedule time and win the next free slot in FIFO order.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*ScheduledEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.active && !e.ScheduleTime.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduleTime.Before(due[j].ScheduleTime) })

	for _, entry := range due {
		if s.activeCount >= s.cfg.MaxConcurrent {
			break
		}
		if s.limiter != nil && !s.limiter.Allow() {
			break
		}
		entry.active = true
		s.activeCount++
		s.wg.Add(1)
		go s.run(ctx, entry)
	}
	s.updateGaugesLocked()
}

func (s *Scheduler) run(ctx context.Context, entry *ScheduledEntry) {
	defer s.wg.Done()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = types.NewErrorf(types.ErrInternalError,
					"panic during workflow execution: %v", r).WithRetryable(true)
				entry.inst.markFailed(err)
				s.logger.Error("workflow execution panicked",
					zap.String("instance_id", entry.InstanceID),
					zap.Any("panic", r),
				)
			}
		}()
		err = s.executor.RunInstance(ctx, entry.inst, entry.def)
	}()

	s.complete(entry, err)
}

// complete settles an execution outcome: remove on success or cancellation,
// otherwise apply the workflow-level retry policy.
func (s *Scheduler) complete(entry *ScheduledEntry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeCount--
	defer s.updateGaugesLocked()

	switch {
	case err == nil:
		delete(s.entries, entry.InstanceID)
		s.logger.Debug("instance completed",
			zap.String("instance_id", entry.InstanceID))

	case types.HasCode(err, types.ErrCancelled) || entry.inst.GetState() == StateCancelled:
		delete(s.entries, entry.InstanceID)
		s.logger.Debug("instance cancelled, entry removed",
			zap.String("instance_id", entry.InstanceID))

	default:
		entry.RetryCount++
		entry.LastError = err.Error()

		if types.IsRetryable(err) && entry.RetryCount <= entry.policy.MaxRetries {
			delay := entry.policy.NextDelayRand(entry.RetryCount, s.rng)
			entry.ScheduleTime = time.Now().Add(delay)
			entry.active = false
			entry.inst.resetForRetry()
			s.metrics.RecordRetry(entry.def.Name, "workflow")
			s.logger.Info("workflow retry scheduled",
				zap.String("instance_id", entry.InstanceID),
				zap.Int("retry", entry.RetryCount),
				zap.Int("max_retries", entry.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		} else {
			delete(s.entries, entry.InstanceID)
			s.logger.Warn("workflow retries exhausted, instance failed permanently",
				zap.String("instance_id", entry.InstanceID),
				zap.Int("retries", entry.RetryCount-1),
				zap.Error(err),
			)
		}
	}
}

func (s *Scheduler) updateGaugesLocked() {
	s.metrics.SetActive(s.activeCount)
	s.metrics.SetPending(len(s.entries) - s.activeCount)
}
