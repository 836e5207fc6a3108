package taskgraph

import (
	"context"
	"time"
)

// ExecutionStatus is the persisted, stable status enumeration for an
// Execution Record.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "PENDING"
	ExecutionStarted    ExecutionStatus = "STARTED"
	ExecutionTerminated ExecutionStatus = "TERMINATED"
	ExecutionFailed     ExecutionStatus = "FAILED"
	ExecutionCancelled  ExecutionStatus = "CANCELLED"
)

// TaskStatus is the persisted status enumeration for a Task Record.
type TaskStatus string

const (
	TaskPending  TaskStatus = "PENDING"
	TaskRetrying TaskStatus = "RETRYING"
	TaskStarted  TaskStatus = "STARTED"
	TaskSuccess  TaskStatus = "SUCCESS"
	TaskFailed   TaskStatus = "FAILED"
)

// ExecutionRecord is the durable record of one workflow run.
type ExecutionRecord struct {
	ID                string
	ServiceInstanceID string
	WorkflowName      string
	Parameters        map[string]interface{}
	Status            ExecutionStatus
	CreatedAt         time.Time
	StartedAt         time.Time
	EndedAt           time.Time
	Error             string
}

// TaskRecord is the durable, per-Operation record of attempts and
// status. Status, timestamps, and attempt counts are set only by engine
// transitions.
type TaskRecord struct {
	ID            string
	ExecutionID   string
	ActorID       string
	FunctionPath  string
	Arguments     map[string]interface{}
	Status        TaskStatus
	AttemptsCount int
	MaxAttempts   int
	RetryInterval time.Duration
	DueAt         time.Time
	StartedAt     time.Time
	EndedAt       time.Time
}

// Store is the transactional, key-addressable Execution Store the engine
// updates on every Execution/Task state transition.
type Store interface {
	CreateExecution(ctx context.Context, rec ExecutionRecord) error
	UpdateExecution(ctx context.Context, rec ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (ExecutionRecord, error)

	CreateTask(ctx context.Context, rec TaskRecord) error
	UpdateTask(ctx context.Context, rec TaskRecord) error
	GetTask(ctx context.Context, id string) (TaskRecord, error)
	ListTasks(ctx context.Context, executionID string) ([]TaskRecord, error)
}

// TaskHandle is what the engine submits to an Executor: enough to look up
// and invoke the bound implementation, plus the identifiers the executor
// echoes back on notification.
type TaskHandle struct {
	TaskID         string
	ExecutionID    string
	Implementation string
	Arguments      map[string]interface{}
	Context        *OperationContext
}

// ExecutorNotifications is how an Executor reports back to the engine.
// Implementations call Started at most once, then exactly one of
// Succeeded/Failed, per submitted handle.
type ExecutorNotifications interface {
	Started(handle TaskHandle)
	Succeeded(handle TaskHandle)
	Failed(handle TaskHandle, err error, traceback string)
}

// Executor accepts ready tasks and runs their bound implementation,
// reporting outcomes through ExecutorNotifications. Submit may block
// briefly for backpressure but must not block arbitrarily; Close drains
// or stops workers and is safe to call repeatedly.
type Executor interface {
	Submit(ctx context.Context, handle TaskHandle) error
	Close() error
}

// ImplementationRegistry looks up a Go function bound to an
// implementation path, the executor-side half of the model store's
// implementation resolution.
type ImplementationRegistry interface {
	Lookup(path string) (OperationFunc, bool)
}

// OperationFunc is the shape every operation implementation satisfies:
// the operation context plus its declared inputs as a flat map.
type OperationFunc func(ctx *OperationContext, inputs map[string]interface{}) error
