package taskgraph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Engine drives one or more concurrent executions of an API Task Graph.
// Concurrency limiting is the Executor's concern (worker-pool size); the
// engine itself submits every eligible ExecOperation task as soon as its
// predecessors complete and never queues work of its own.
type Engine struct {
	store    Store
	executor Executor
	signals  *Signals
	metrics  *EngineMetrics

	defaultTaskTimeout time.Duration
	runWallClockBudget time.Duration
	pluginWorkdirBase  string

	mu         sync.Mutex
	executions map[string]*execution
}

// New builds an Engine. Store and an ExecutorFactory are required.
func New(opts ...Option) (*Engine, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Store == nil {
		return nil, ErrStoreRequired
	}
	if o.ExecutorFactory == nil {
		return nil, ErrExecutorRequired
	}
	if o.Signals == nil {
		o.Signals = NewSignals()
	}
	if o.PluginWorkdirBase == "" {
		o.PluginWorkdirBase = os.TempDir()
	}

	e := &Engine{
		store:              o.Store,
		signals:            o.Signals,
		metrics:            o.Metrics,
		defaultTaskTimeout: o.DefaultTaskTimeout,
		runWallClockBudget: o.RunWallClockBudget,
		pluginWorkdirBase:  o.PluginWorkdirBase,
		executions:         make(map[string]*execution),
	}
	e.executor = o.ExecutorFactory(e)
	return e, nil
}

// execution is the engine's in-memory bookkeeping for one running
// workflow, matched by ExecutionID to the durable ExecutionRecord.
type execution struct {
	mu sync.Mutex

	eg    *ExecutionGraph
	wfCtx *WorkflowContext

	completed  map[string]bool
	inflight   map[string]bool
	dueAt       map[string]time.Time // operation task id -> earliest next submission time
	attempts    map[string]int       // operation task id -> attempts recorded so far
	submittedAt map[string]time.Time // operation task id -> last submit time, for latency metrics
	failedWith  error

	notify chan struct{}
}

func newExecution(eg *ExecutionGraph, wfCtx *WorkflowContext) *execution {
	return &execution{
		eg:          eg,
		wfCtx:       wfCtx,
		completed:   make(map[string]bool),
		inflight:    make(map[string]bool),
		dueAt:       make(map[string]time.Time),
		attempts:    make(map[string]int),
		submittedAt: make(map[string]time.Time),
		notify:      make(chan struct{}, 1),
	}
}

func (ex *execution) attemptLatency(taskID string) time.Duration {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	started, ok := ex.submittedAt[taskID]
	if !ok {
		return 0
	}
	return time.Since(started)
}

func (ex *execution) wake() {
	select {
	case ex.notify <- struct{}{}:
	default:
	}
}

// Execute translates g into an execution graph and runs it to completion,
// blocking until the workflow terminates, fails, or is cancelled. The
// final status is also the ExecutionRecord's persisted status.
func (e *Engine) Execute(ctx context.Context, g *Graph, wfCtx *WorkflowContext) (ExecutionStatus, error) {
	eg, err := Translate(g)
	if err != nil {
		return ExecutionFailed, err
	}

	rec := ExecutionRecord{
		ID:                wfCtx.ExecutionID,
		ServiceInstanceID: wfCtx.ServiceInstanceID,
		WorkflowName:      wfCtx.WorkflowName,
		Parameters:        wfCtx.Parameters,
		Status:            ExecutionPending,
		CreatedAt:         time.Now(),
	}
	if err := e.store.CreateExecution(ctx, rec); err != nil {
		return ExecutionFailed, &StorageError{Op: "CreateExecution", Cause: err}
	}

	if wfCtx.Cancelled() {
		rec.Status = ExecutionCancelled
		rec.EndedAt = time.Now()
		_ = e.store.UpdateExecution(ctx, rec)
		e.signals.Send(SignalCancelledWorkflow, SignalPayload{ExecutionID: wfCtx.ExecutionID})
		return ExecutionCancelled, nil
	}

	if e.runWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runWallClockBudget)
		defer cancel()
	}

	rec.Status = ExecutionStarted
	rec.StartedAt = time.Now()
	if err := e.store.UpdateExecution(ctx, rec); err != nil {
		return ExecutionFailed, &StorageError{Op: "UpdateExecution", Cause: err}
	}
	e.signals.Send(SignalStartWorkflow, SignalPayload{ExecutionID: wfCtx.ExecutionID})

	ex := newExecution(eg, wfCtx)
	e.mu.Lock()
	e.executions[wfCtx.ExecutionID] = ex
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.executions, wfCtx.ExecutionID)
		e.mu.Unlock()
	}()

	status, runErr := e.run(ctx, ex)

	rec.Status = status
	rec.EndedAt = time.Now()
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := e.store.UpdateExecution(ctx, rec); err != nil {
		return status, &StorageError{Op: "UpdateExecution", Cause: err}
	}

	switch status {
	case ExecutionTerminated:
		e.signals.Send(SignalSuccessWorkflow, SignalPayload{ExecutionID: wfCtx.ExecutionID})
	case ExecutionFailed:
		e.signals.Send(SignalFailureWorkflow, SignalPayload{ExecutionID: wfCtx.ExecutionID, Err: runErr})
	case ExecutionCancelled:
		e.signals.Send(SignalCancelledWorkflow, SignalPayload{ExecutionID: wfCtx.ExecutionID})
	}
	return status, runErr
}

// run is the dispatch loop: on every wake it dispatches everything
// eligible, then blocks until something changes (a notification, a
// retry's due_at, or ctx.Done()). Once cancellation, a task failure, or
// ctx.Done() is observed, it stops dispatching new work and drains: it
// waits for every already-inflight task to reach a terminal
// notification before returning, so no Task Record is left stuck at
// STARTED after the execution is removed from the engine's registry.
func (e *Engine) run(ctx context.Context, ex *execution) (ExecutionStatus, error) {
	for {
		ex.mu.Lock()
		if ex.wfCtx.Cancelled() {
			ex.mu.Unlock()
			e.drain(ex)
			return ExecutionCancelled, nil
		}
		if ex.failedWith != nil {
			err := ex.failedWith
			ex.mu.Unlock()
			e.drain(ex)
			return ExecutionFailed, err
		}
		if len(ex.completed) == len(ex.eg.Tasks()) {
			ex.mu.Unlock()
			return ExecutionTerminated, nil
		}

		eligible := ex.eligibleLocked()
		for _, t := range eligible {
			ex.inflight[t.ID] = true
		}
		ex.mu.Unlock()

		for _, t := range eligible {
			e.dispatch(ctx, ex, t)
		}

		select {
		case <-ctx.Done():
			e.drain(ex)
			return ExecutionFailed, ctx.Err()
		case <-ex.notify:
		case <-time.After(ex.nextWake()):
		}
	}
}

// drain blocks until ex has no inflight tasks left. Running operations
// are expected to observe the cancelled/failed WorkflowContext and
// report a terminal notification promptly; those notifications still
// reach the engine through Succeeded/Failed while the execution remains
// registered, since Execute only deregisters it after run returns.
func (e *Engine) drain(ex *execution) {
	const pollInterval = 100 * time.Millisecond
	for {
		ex.mu.Lock()
		n := len(ex.inflight)
		ex.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-ex.notify:
		case <-time.After(pollInterval):
		}
	}
}

// eligibleLocked returns the execution tasks ready to dispatch: every
// predecessor is completed, the task itself is neither completed nor
// already in flight, and (for retries) its due_at has passed. Callers
// must hold ex.mu.
func (ex *execution) eligibleLocked() []*ExecTask {
	now := time.Now()
	var out []*ExecTask
	for _, t := range ex.eg.Tasks() {
		if ex.completed[t.ID] || ex.inflight[t.ID] {
			continue
		}
		ready := true
		for _, pred := range ex.eg.Predecessors(t.ID) {
			if !ex.completed[pred] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if due, ok := ex.dueAt[t.ID]; ok && due.After(now) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// nextWake bounds how long run() blocks when nothing is eligible right
// now but a retry is scheduled in the future.
func (ex *execution) nextWake() time.Duration {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	const fallback = time.Minute
	best := time.Duration(-1)
	now := time.Now()
	for _, due := range ex.dueAt {
		if due.Before(now) {
			return time.Millisecond
		}
		if d := due.Sub(now); best < 0 || d < best {
			best = d
		}
	}
	if best < 0 {
		return fallback
	}
	return best
}

// dispatch runs sentinel/stub tasks synchronously (they have no side
// effect and never touch the executor) and submits operation tasks to
// the configured Executor.
func (e *Engine) dispatch(ctx context.Context, ex *execution, t *ExecTask) {
	switch t.Kind {
	case ExecOperation:
		e.submitOperation(ctx, ex, t)
	default:
		ex.mu.Lock()
		delete(ex.inflight, t.ID)
		ex.completed[t.ID] = true
		ex.mu.Unlock()
		ex.wake()
	}
}

func (e *Engine) submitOperation(ctx context.Context, ex *execution, t *ExecTask) {
	op := t.Operation

	ex.mu.Lock()
	attempt := ex.attempts[t.ID] + 1
	ex.attempts[t.ID] = attempt
	ex.submittedAt[t.ID] = time.Now()
	ex.mu.Unlock()

	opCtx := e.newOperationContext(ex.wfCtx, op, t.ID, attempt)

	if attempt == 1 {
		if err := e.store.CreateTask(ctx, TaskRecord{
			ID:            t.ID,
			ExecutionID:   ex.wfCtx.ExecutionID,
			ActorID:       op.Actor.ActorID(),
			FunctionPath:  op.Implementation,
			Arguments:     op.Inputs,
			Status:        TaskStarted,
			AttemptsCount: attempt,
			MaxAttempts:   op.Retry.MaxAttempts,
			RetryInterval: op.Retry.RetryInterval,
			StartedAt:     time.Now(),
		}); err != nil {
			e.fail(ex, t.ID, &StorageError{Op: "CreateTask", Cause: err})
			return
		}
	} else {
		_ = e.store.UpdateTask(ctx, TaskRecord{
			ID:            t.ID,
			ExecutionID:   ex.wfCtx.ExecutionID,
			Status:        TaskStarted,
			AttemptsCount: attempt,
		})
	}

	e.signals.Send(SignalSentTask, SignalPayload{ExecutionID: ex.wfCtx.ExecutionID, Task: t})
	if e.metrics != nil {
		e.metrics.TaskSent(ex.wfCtx.WorkflowName, op.InterfaceName, op.OperationName)
	}

	handle := TaskHandle{
		TaskID:         t.ID,
		ExecutionID:    ex.wfCtx.ExecutionID,
		Implementation: op.Implementation,
		Arguments:      op.Inputs,
		Context:        opCtx,
	}
	if err := e.executor.Submit(ctx, handle); err != nil {
		e.Failed(handle, err, "")
	}
}

func (e *Engine) newOperationContext(wfCtx *WorkflowContext, op *OperationTask, taskID string, attempt int) *OperationContext {
	opCtx := &OperationContext{
		WorkflowContext: wfCtx,
		TaskID:          taskID,
		ActorID:         op.Actor.ActorID(),
		ActorType:       op.ActorType,
		RunsOn:          op.RunsOn,
		Attempt:         attempt,
	}
	if rel, ok := op.Actor.(Relationship); ok {
		opCtx.SourceNodeID = rel.SourceNodeID()
		opCtx.TargetNodeID = rel.TargetNodeID()
	}
	if op.PluginID != "" {
		opCtx.workdirFn = func(pluginID string) (string, error) {
			dir := filepath.Join(e.pluginWorkdirBase, wfCtx.ExecutionID, pluginID)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", err
			}
			return dir, nil
		}
	}
	return opCtx
}

// Started implements ExecutorNotifications. The engine does not persist
// a distinct STARTED-vs-submitted distinction beyond the Task Record
// created at submit time, so this only forwards to metrics.
func (e *Engine) Started(handle TaskHandle) {
	if e.metrics != nil {
		e.metrics.TaskStarted()
	}
}

// Succeeded implements ExecutorNotifications.
func (e *Engine) Succeeded(handle TaskHandle) {
	ex := e.lookup(handle.ExecutionID)
	if ex == nil {
		return
	}
	t, ok := ex.eg.Get(handle.TaskID)
	if !ok {
		return
	}

	ctx := context.Background()
	_ = e.store.UpdateTask(ctx, TaskRecord{
		ID:          handle.TaskID,
		ExecutionID: handle.ExecutionID,
		Status:      TaskSuccess,
		EndedAt:     time.Now(),
	})
	e.signals.Send(SignalSuccessTask, SignalPayload{ExecutionID: handle.ExecutionID, Task: t})
	if e.metrics != nil {
		e.metrics.TaskSucceeded()
		e.metrics.ObserveLatency(ex.attemptLatency(handle.TaskID))
	}

	ex.mu.Lock()
	delete(ex.inflight, handle.TaskID)
	ex.completed[handle.TaskID] = true
	ex.mu.Unlock()
	ex.wake()
}

// Failed implements ExecutorNotifications: it applies the operation's
// retry policy and either reschedules the attempt, treats the failure as
// success (IgnoreFailure), or fails the whole execution.
func (e *Engine) Failed(handle TaskHandle, err error, traceback string) {
	ex := e.lookup(handle.ExecutionID)
	if ex == nil {
		return
	}
	t, ok := ex.eg.Get(handle.TaskID)
	if !ok || t.Operation == nil {
		return
	}
	op := t.Operation

	e.signals.Send(SignalFailureTask, SignalPayload{ExecutionID: handle.ExecutionID, Task: t, Err: err})
	if e.metrics != nil {
		e.metrics.TaskFailed()
		e.metrics.ObserveLatency(ex.attemptLatency(handle.TaskID))
	}

	ctx := context.Background()

	ex.mu.Lock()
	attempt := ex.attempts[handle.TaskID]
	ex.mu.Unlock()

	if op.Retry.IgnoreFailure {
		_ = e.store.UpdateTask(ctx, TaskRecord{ID: handle.TaskID, ExecutionID: handle.ExecutionID, Status: TaskSuccess, EndedAt: time.Now()})
		ex.mu.Lock()
		delete(ex.inflight, handle.TaskID)
		ex.completed[handle.TaskID] = true
		ex.mu.Unlock()
		ex.wake()
		return
	}

	canRetry := op.Retry.MaxAttempts == -1 || attempt < op.Retry.MaxAttempts
	if canRetry {
		due := time.Now().Add(op.Retry.RetryInterval)
		_ = e.store.UpdateTask(ctx, TaskRecord{
			ID: handle.TaskID, ExecutionID: handle.ExecutionID,
			Status: TaskRetrying, AttemptsCount: attempt, DueAt: due,
		})
		ex.mu.Lock()
		delete(ex.inflight, handle.TaskID)
		ex.dueAt[handle.TaskID] = due
		ex.mu.Unlock()
		ex.wake()
		return
	}

	_ = e.store.UpdateTask(ctx, TaskRecord{ID: handle.TaskID, ExecutionID: handle.ExecutionID, Status: TaskFailed, EndedAt: time.Now()})
	e.fail(ex, handle.TaskID, &ExecutorException{
		TaskID:    handle.TaskID,
		Message:   err.Error(),
		Traceback: traceback,
		Cause:     fmt.Errorf("%w: %v", ErrMaxAttemptsExceeded, err),
	})
}

func (e *Engine) fail(ex *execution, taskID string, err error) {
	ex.mu.Lock()
	delete(ex.inflight, taskID)
	if ex.failedWith == nil {
		ex.failedWith = err
	}
	ex.mu.Unlock()
	ex.wake()
}

func (e *Engine) lookup(executionID string) *execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executions[executionID]
}

// CancelExecution requests cooperative cancellation of a running
// execution. If the execution is not currently running on this engine it
// changes nothing and returns an error.
func (e *Engine) CancelExecution(executionID string) error {
	ex := e.lookup(executionID)
	if ex == nil {
		return fmt.Errorf("taskgraph: execution %q is not running", executionID)
	}
	ex.wfCtx.requestCancel()
	ex.wake()
	return nil
}

// Close releases the engine's executor.
func (e *Engine) Close() error {
	return e.executor.Close()
}
