package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/types"
)

// Snapshot is a JSON-serializable capture of the engine's state, sufficient
// for crash recovery: the definition registry, every instance keyed by ID,
// and the scheduler's pending entries.
type Snapshot struct {
	Definitions      map[string]*Definition     `json:"definitions"`
	Instances        map[string]*Instance       `json:"instances"`
	ScheduledEntries map[string]*ScheduledEntry `json:"scheduledEntries"`
	TakenAt          time.Time                  `json:"takenAt"`
}

// SnapshotStore is the persistence hook the engine writes snapshots to.
// Implementations live in the persistence package; the interface is defined
// here so the engine never depends on a concrete backend.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// Snapshot captures the current engine state. Instances are detached
// copies; mutating the snapshot never affects live executions.
func (e *Engine) Snapshot() *Snapshot {
	snap := &Snapshot{
		Definitions:      make(map[string]*Definition),
		Instances:        make(map[string]*Instance),
		ScheduledEntries: make(map[string]*ScheduledEntry),
		TakenAt:          time.Now(),
	}

	e.mu.RLock()
	for name, def := range e.definitions {
		snap.Definitions[name] = def.clone()
	}
	for id, inst := range e.instances {
		snap.Instances[id] = inst.snapshotCopy()
	}
	e.mu.RUnlock()

	for _, entry := range e.scheduler.PendingEntries() {
		cp := entry
		snap.ScheduledEntries[entry.InstanceID] = &cp
	}
	return snap
}

// SaveSnapshot persists the current state to the given store.
func (e *Engine) SaveSnapshot(ctx context.Context, store SnapshotStore) error {
	snap := e.Snapshot()
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		return types.NewError(types.ErrInternalError, "snapshot save failed").WithCause(err)
	}
	e.logger.Info("snapshot saved",
		zap.Int("definitions", len(snap.Definitions)),
		zap.Int("instances", len(snap.Instances)),
		zap.Int("entries", len(snap.ScheduledEntries)),
	)
	return nil
}

// LoadSnapshot restores engine state from the store. Meant to run before
// Start: instances that were running when the snapshot was taken are
// demoted to Ready and re-fire from their first step once the scheduler
// picks their entry up again.
func (e *Engine) LoadSnapshot(ctx context.Context, store SnapshotStore) error {
	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		return types.NewError(types.ErrInternalError, "snapshot load failed").WithCause(err)
	}
	if snap == nil {
		return nil
	}

	e.mu.Lock()
	for name, def := range snap.Definitions {
		if err := def.Validate(); err != nil {
			e.mu.Unlock()
			return err
		}
		e.definitions[name] = def
	}
	for id, inst := range snap.Instances {
		restoreInstance(inst)
		e.instances[id] = inst
	}
	e.mu.Unlock()

	restored := 0
	for id, entry := range snap.ScheduledEntries {
		e.mu.RLock()
		inst := e.instances[id]
		var def *Definition
		if inst != nil {
			def = e.definitions[inst.DefinitionRef]
		}
		e.mu.RUnlock()

		if inst == nil || def == nil {
			e.logger.Warn("dropping orphaned scheduled entry", zap.String("instance_id", id))
			continue
		}
		if err := e.scheduler.Restore(*entry, inst, def, e.cfg.DefaultRetry); err != nil {
			return err
		}
		restored++
	}

	e.logger.Info("snapshot loaded",
		zap.Int("definitions", len(snap.Definitions)),
		zap.Int("instances", len(snap.Instances)),
		zap.Int("entries", restored),
	)
	return nil
}

// restoreInstance fixes up the unexported runtime fields after JSON decode.
func restoreInstance(inst *Instance) {
	if inst.Variables == nil {
		inst.Variables = make(map[string]any)
	}
	if inst.History == nil {
		inst.History = make([]HistoryEntry, 0)
	}
	if inst.InitialInputs == nil {
		// snapshots written before initialInputs was serialized
		inst.InitialInputs = copyMap(inst.Variables)
	}

	switch inst.State {
	case StateRunning, StatePaused:
		// The process died mid-run; the entry re-fires the workflow from its
		// first step, so variables revert to the initial inputs. History is
		// kept as the audit trail of the interrupted attempt.
		inst.State = StateReady
		inst.CurrentStep = ""
		inst.Variables = copyMap(inst.InitialInputs)
		if inst.Variables == nil {
			inst.Variables = make(map[string]any)
		}
	case StateFailed:
		if inst.Error != "" {
			inst.termErr = types.NewError(types.ErrStepExecution, inst.Error).
				WithWorkflow(inst.DefinitionRef)
		}
	}
}
