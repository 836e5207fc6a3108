// Package store provides Execution Store implementations for the task
// graph engine: an in-memory reference implementation plus SQLite and
// MySQL backends for durable deployments.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

// ErrNotFound is returned when a requested execution or task id does not
// exist.
var ErrNotFound = errors.New("store: not found")

// Memory is an in-process, mutex-guarded Execution Store. It satisfies
// taskgraph.Store and is suitable for tests and single-process
// deployments that don't need to survive a restart.
type Memory struct {
	mu         sync.RWMutex
	executions map[string]taskgraph.ExecutionRecord
	tasks      map[string]taskgraph.TaskRecord
	byExec     map[string][]string // executionID -> task ids, insertion order
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		executions: make(map[string]taskgraph.ExecutionRecord),
		tasks:      make(map[string]taskgraph.TaskRecord),
		byExec:     make(map[string][]string),
	}
}

func (m *Memory) CreateExecution(_ context.Context, rec taskgraph.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[rec.ID] = rec
	return nil
}

func (m *Memory) UpdateExecution(_ context.Context, rec taskgraph.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[rec.ID]; !ok {
		return ErrNotFound
	}
	m.executions[rec.ID] = rec
	return nil
}

func (m *Memory) GetExecution(_ context.Context, id string) (taskgraph.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[id]
	if !ok {
		return taskgraph.ExecutionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) CreateTask(_ context.Context, rec taskgraph.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[rec.ID]; !exists {
		m.byExec[rec.ExecutionID] = append(m.byExec[rec.ExecutionID], rec.ID)
	}
	m.tasks[rec.ID] = rec
	return nil
}

func (m *Memory) UpdateTask(_ context.Context, rec taskgraph.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[rec.ID]
	if !ok {
		return ErrNotFound
	}
	merged := mergeTaskRecord(existing, rec)
	m.tasks[rec.ID] = merged
	return nil
}

// mergeTaskRecord applies the non-zero fields of patch onto base, the
// convention UpdateTask callers rely on when they only set the fields
// that changed.
func mergeTaskRecord(base, patch taskgraph.TaskRecord) taskgraph.TaskRecord {
	if patch.Status != "" {
		base.Status = patch.Status
	}
	if patch.AttemptsCount != 0 {
		base.AttemptsCount = patch.AttemptsCount
	}
	if !patch.DueAt.IsZero() {
		base.DueAt = patch.DueAt
	}
	if !patch.StartedAt.IsZero() {
		base.StartedAt = patch.StartedAt
	}
	if !patch.EndedAt.IsZero() {
		base.EndedAt = patch.EndedAt
	}
	if patch.ActorID != "" {
		base.ActorID = patch.ActorID
	}
	if patch.FunctionPath != "" {
		base.FunctionPath = patch.FunctionPath
	}
	if patch.Arguments != nil {
		base.Arguments = patch.Arguments
	}
	if patch.MaxAttempts != 0 {
		base.MaxAttempts = patch.MaxAttempts
	}
	if patch.RetryInterval != 0 {
		base.RetryInterval = patch.RetryInterval
	}
	return base
}

func (m *Memory) GetTask(_ context.Context, id string) (taskgraph.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	if !ok {
		return taskgraph.TaskRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListTasks(_ context.Context, executionID string) ([]taskgraph.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byExec[executionID]
	out := make([]taskgraph.TaskRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.tasks[id])
	}
	return out, nil
}
