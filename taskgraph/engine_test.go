package taskgraph_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskgraphio/orchestrator/taskgraph"
	"github.com/taskgraphio/orchestrator/taskgraph/model"
	"github.com/taskgraphio/orchestrator/taskgraph/store"
)

// fakeOp is one scripted implementation behavior: given the 1-indexed
// attempt number, return nil for success or an error for failure.
type fakeOp func(attempt int) error

// fakeExecutor is a minimal in-process Executor for engine tests: it
// looks up handle.Implementation in a registered map and runs it
// synchronously on its own goroutine, reporting the outcome back through
// the notifications sink exactly like a real executor would.
type fakeExecutor struct {
	notify taskgraph.ExecutorNotifications

	mu       sync.Mutex
	ops      map[string]fakeOp
	attempts map[string]int
	invoked  []time.Time
}

func newFakeExecutor(n taskgraph.ExecutorNotifications) *fakeExecutor {
	return &fakeExecutor{
		notify:   n,
		ops:      make(map[string]fakeOp),
		attempts: make(map[string]int),
	}
}

func (f *fakeExecutor) register(impl string, op fakeOp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops[impl] = op
}

func (f *fakeExecutor) Submit(_ context.Context, handle taskgraph.TaskHandle) error {
	go func() {
		f.notify.Started(handle)

		f.mu.Lock()
		f.attempts[handle.TaskID]++
		attempt := f.attempts[handle.TaskID]
		op, ok := f.ops[handle.Implementation]
		f.invoked = append(f.invoked, time.Now())
		f.mu.Unlock()

		if !ok {
			f.notify.Succeeded(handle)
			return
		}
		if err := op(attempt); err != nil {
			f.notify.Failed(handle, err, "")
			return
		}
		f.notify.Succeeded(handle)
	}()
	return nil
}

func (f *fakeExecutor) Close() error { return nil }

// signalLog records the order of workflow-level signals and counts
// sent_task deliveries, the shape every scenario below asserts against.
type signalLog struct {
	mu      sync.Mutex
	order   []taskgraph.SignalName
	sentCnt int
}

func attachSignalLog(bus *taskgraph.Signals) *signalLog {
	log := &signalLog{}
	for _, name := range []taskgraph.SignalName{
		taskgraph.SignalStartWorkflow, taskgraph.SignalSuccessWorkflow,
		taskgraph.SignalFailureWorkflow, taskgraph.SignalCancelledWorkflow,
	} {
		name := name
		bus.Connect(name, func(taskgraph.SignalPayload) {
			log.mu.Lock()
			log.order = append(log.order, name)
			log.mu.Unlock()
		})
	}
	bus.Connect(taskgraph.SignalSentTask, func(taskgraph.SignalPayload) {
		log.mu.Lock()
		log.sentCnt++
		log.mu.Unlock()
	})
	return log
}

func (l *signalLog) snapshot() ([]taskgraph.SignalName, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]taskgraph.SignalName, len(l.order))
	copy(out, l.order)
	return out, l.sentCnt
}

func testNode(id, implementation string) *model.Node {
	return &model.Node{
		ID:   id,
		Name: id,
		Interfaces: map[string]*model.Interface{
			"Test": {
				Name: "Test",
				Operations: map[string]taskgraph.OperationSpec{
					"run": {Implementation: implementation},
				},
			},
		},
	}
}

func newTestEngine(t *testing.T) (*taskgraph.Engine, *fakeExecutor, *signalLog) {
	t.Helper()
	signals := taskgraph.NewSignals()
	log := attachSignalLog(signals)

	var exec *fakeExecutor
	engine, err := taskgraph.New(
		taskgraph.WithStore(store.NewMemory()),
		taskgraph.WithSignals(signals),
		taskgraph.WithExecutorFactory(func(n taskgraph.ExecutorNotifications) taskgraph.Executor {
			exec = newFakeExecutor(n)
			return exec
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine, exec, log
}

func newWorkflowContext(execID string) *taskgraph.WorkflowContext {
	return taskgraph.NewWorkflowContext(execID, "test-workflow", "instance-1", "template-1", nil, nil, nil, nil, nil)
}

func TestEngine_EmptyGraph(t *testing.T) {
	engine, _, log := newTestEngine(t)
	wfCtx := newWorkflowContext("exec-empty")
	g := taskgraph.NewGraph("empty")

	status, err := engine.Execute(context.Background(), g, wfCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != taskgraph.ExecutionTerminated {
		t.Fatalf("status = %v, want Terminated", status)
	}

	order, sent := log.snapshot()
	want := []taskgraph.SignalName{taskgraph.SignalStartWorkflow, taskgraph.SignalSuccessWorkflow}
	if !equalSignals(order, want) {
		t.Fatalf("signal order = %v, want %v", order, want)
	}
	if sent != 0 {
		t.Fatalf("sent_task count = %d, want 0", sent)
	}
}

func TestEngine_SingleSuccess(t *testing.T) {
	engine, exec, log := newTestEngine(t)
	wfCtx := newWorkflowContext("exec-single")
	exec.register("test.success", func(int) error { return nil })

	node := testNode("n1", "test.success")
	task, err := taskgraph.NewOperationTaskForNode(node, "Test", "run", taskgraph.WithContext(wfCtx))
	if err != nil {
		t.Fatalf("NewOperationTaskForNode: %v", err)
	}
	g := taskgraph.NewGraph("single")
	g.AddTasks(task)

	status, err := engine.Execute(context.Background(), g, wfCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != taskgraph.ExecutionTerminated {
		t.Fatalf("status = %v, want Terminated", status)
	}
	_, sent := log.snapshot()
	if sent != 1 {
		t.Fatalf("sent_task count = %d, want 1", sent)
	}
}

func TestEngine_OrderedPair(t *testing.T) {
	engine, exec, log := newTestEngine(t)
	wfCtx := newWorkflowContext("exec-pair")

	var mu sync.Mutex
	var seen []int
	exec.register("test.append1", func(int) error { mu.Lock(); seen = append(seen, 1); mu.Unlock(); return nil })
	exec.register("test.append2", func(int) error { mu.Lock(); seen = append(seen, 2); mu.Unlock(); return nil })

	node1 := testNode("n1", "test.append1")
	node2 := testNode("n2", "test.append2")
	op1, err := taskgraph.NewOperationTaskForNode(node1, "Test", "run", taskgraph.WithContext(wfCtx))
	if err != nil {
		t.Fatalf("op1: %v", err)
	}
	op2, err := taskgraph.NewOperationTaskForNode(node2, "Test", "run", taskgraph.WithContext(wfCtx))
	if err != nil {
		t.Fatalf("op2: %v", err)
	}

	g := taskgraph.NewGraph("pair")
	if err := g.Sequence(op1, op2); err != nil {
		t.Fatalf("Sequence: %v", err)
	}

	status, err := engine.Execute(context.Background(), g, wfCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != taskgraph.ExecutionTerminated {
		t.Fatalf("status = %v, want Terminated", status)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("seen = %v, want [1 2]", seen)
	}
	_, sent := log.snapshot()
	if sent != 2 {
		t.Fatalf("sent_task count = %d, want 2", sent)
	}
}

func TestEngine_FailThenRetrySucceeds(t *testing.T) {
	engine, exec, _ := newTestEngine(t)
	wfCtx := newWorkflowContext("exec-retry-success")
	exec.register("test.flaky", func(attempt int) error {
		if attempt == 1 {
			return errors.New("boom")
		}
		return nil
	})

	node := testNode("n1", "test.flaky")
	task, err := taskgraph.NewOperationTaskForNode(node, "Test", "run",
		taskgraph.WithContext(wfCtx),
		taskgraph.WithRetryPolicy(taskgraph.RetryPolicy{MaxAttempts: 2, RetryInterval: 5 * time.Millisecond}))
	if err != nil {
		t.Fatalf("NewOperationTaskForNode: %v", err)
	}
	g := taskgraph.NewGraph("retry")
	g.AddTasks(task)

	status, err := engine.Execute(context.Background(), g, wfCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != taskgraph.ExecutionTerminated {
		t.Fatalf("status = %v, want Terminated", status)
	}

	exec.mu.Lock()
	attempts := exec.attempts[task.ID()]
	exec.mu.Unlock()
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestEngine_FailExhaustsRetries(t *testing.T) {
	engine, exec, log := newTestEngine(t)
	wfCtx := newWorkflowContext("exec-retry-exhaust")
	wantErr := errors.New("always fails")
	exec.register("test.alwaysFail", func(int) error { return wantErr })

	node := testNode("n1", "test.alwaysFail")
	task, err := taskgraph.NewOperationTaskForNode(node, "Test", "run",
		taskgraph.WithContext(wfCtx),
		taskgraph.WithRetryPolicy(taskgraph.RetryPolicy{MaxAttempts: 2, RetryInterval: time.Millisecond}))
	if err != nil {
		t.Fatalf("NewOperationTaskForNode: %v", err)
	}
	g := taskgraph.NewGraph("exhaust")
	g.AddTasks(task)

	status, err := engine.Execute(context.Background(), g, wfCtx)
	if status != taskgraph.ExecutionFailed {
		t.Fatalf("status = %v, want Failed", status)
	}
	var execErr *taskgraph.ExecutorException
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *ExecutorException", err)
	}
	if !errors.Is(err, taskgraph.ErrMaxAttemptsExceeded) {
		t.Fatalf("err = %v, want it to wrap ErrMaxAttemptsExceeded", err)
	}

	order, _ := log.snapshot()
	if len(order) == 0 || order[len(order)-1] != taskgraph.SignalFailureWorkflow {
		t.Fatalf("signal order = %v, want to end with on_failure_workflow", order)
	}
}

func TestEngine_IgnoreFailureTreatedAsSuccess(t *testing.T) {
	engine, exec, log := newTestEngine(t)
	wfCtx := newWorkflowContext("exec-ignore-failure")
	exec.register("test.ignored", func(int) error { return errors.New("irrelevant") })

	node := testNode("n1", "test.ignored")
	task, err := taskgraph.NewOperationTaskForNode(node, "Test", "run",
		taskgraph.WithContext(wfCtx),
		taskgraph.WithRetryPolicy(taskgraph.RetryPolicy{MaxAttempts: 1, IgnoreFailure: true}))
	if err != nil {
		t.Fatalf("NewOperationTaskForNode: %v", err)
	}
	g := taskgraph.NewGraph("ignore")
	g.AddTasks(task)

	status, err := engine.Execute(context.Background(), g, wfCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != taskgraph.ExecutionTerminated {
		t.Fatalf("status = %v, want Terminated", status)
	}
	order, _ := log.snapshot()
	for _, name := range order {
		if name == taskgraph.SignalFailureWorkflow {
			t.Fatalf("on_failure_workflow fired despite ignore_failure")
		}
	}
}

func TestEngine_RetryIntervalRespected(t *testing.T) {
	engine, exec, _ := newTestEngine(t)
	wfCtx := newWorkflowContext("exec-retry-interval")
	const interval = 60 * time.Millisecond
	exec.register("test.onceFailing", func(attempt int) error {
		if attempt == 1 {
			return errors.New("boom")
		}
		return nil
	})

	node := testNode("n1", "test.onceFailing")
	task, err := taskgraph.NewOperationTaskForNode(node, "Test", "run",
		taskgraph.WithContext(wfCtx),
		taskgraph.WithRetryPolicy(taskgraph.RetryPolicy{MaxAttempts: 2, RetryInterval: interval}))
	if err != nil {
		t.Fatalf("NewOperationTaskForNode: %v", err)
	}
	g := taskgraph.NewGraph("interval")
	g.AddTasks(task)

	status, err := engine.Execute(context.Background(), g, wfCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != taskgraph.ExecutionTerminated {
		t.Fatalf("status = %v, want Terminated", status)
	}

	exec.mu.Lock()
	invoked := append([]time.Time(nil), exec.invoked...)
	exec.mu.Unlock()
	if len(invoked) != 2 {
		t.Fatalf("invocations = %d, want 2", len(invoked))
	}
	if gap := invoked[1].Sub(invoked[0]); gap < interval {
		t.Fatalf("gap between attempts = %v, want >= %v", gap, interval)
	}
}

func TestEngine_CancelMidFlight(t *testing.T) {
	engine, exec, log := newTestEngine(t)
	wfCtx := newWorkflowContext("exec-cancel")
	exec.register("test.sleep", func(int) error { time.Sleep(10 * time.Millisecond); return nil })

	const steps = 100
	tasks := make([]taskgraph.Task, steps)
	for i := 0; i < steps; i++ {
		node := testNode("n", "test.sleep")
		task, err := taskgraph.NewOperationTaskForNode(node, "Test", "run", taskgraph.WithContext(wfCtx))
		if err != nil {
			t.Fatalf("NewOperationTaskForNode: %v", err)
		}
		tasks[i] = task
	}
	g := taskgraph.NewGraph("cancel")
	if err := g.Sequence(tasks...); err != nil {
		t.Fatalf("Sequence: %v", err)
	}

	done := make(chan struct{})
	var status taskgraph.ExecutionStatus
	go func() {
		status, _ = engine.Execute(context.Background(), g, wfCtx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if err := engine.CancelExecution("exec-cancel"); err != nil {
		t.Fatalf("CancelExecution: %v", err)
	}
	<-done

	if status != taskgraph.ExecutionCancelled {
		t.Fatalf("status = %v, want Cancelled", status)
	}

	exec.mu.Lock()
	invoked := len(exec.invoked)
	exec.mu.Unlock()
	if invoked == 0 || invoked >= steps {
		t.Fatalf("invoked = %d, want strictly between 0 and %d", invoked, steps)
	}

	order, _ := log.snapshot()
	want := []taskgraph.SignalName{taskgraph.SignalStartWorkflow, taskgraph.SignalCancelledWorkflow}
	if !equalSignals(order, want) {
		t.Fatalf("signal order = %v, want %v", order, want)
	}
}

func equalSignals(got, want []taskgraph.SignalName) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
