// Package executor provides Executor implementations for the task graph
// engine: an in-process worker pool and a subprocess executor that
// shells out to an external plugin runtime.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

// Thread is a bounded worker-pool Executor. It looks up each submitted
// handle's Implementation in a Registry and runs it on one of Workers
// goroutines, recovering panics as failures so one broken operation
// cannot take the pool down.
type Thread struct {
	registry      taskgraph.ImplementationRegistry
	notifications taskgraph.ExecutorNotifications

	queue chan taskgraph.TaskHandle
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// NewThread starts a worker pool of the given size. workers <= 0 default
// to 1.
func NewThread(notifications taskgraph.ExecutorNotifications, registry taskgraph.ImplementationRegistry, workers int) *Thread {
	if workers <= 0 {
		workers = 1
	}
	t := &Thread{
		registry:      registry,
		notifications: notifications,
		queue:         make(chan taskgraph.TaskHandle, workers*4),
		closed:        make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	return t
}

func (t *Thread) worker() {
	defer t.wg.Done()
	for handle := range t.queue {
		t.run(handle)
	}
}

func (t *Thread) run(handle taskgraph.TaskHandle) {
	fn, ok := t.registry.Lookup(handle.Implementation)
	if !ok {
		t.notifications.Failed(handle, fmt.Errorf("executor: no implementation registered for %q", handle.Implementation), "")
		return
	}

	t.notifications.Started(handle)

	var runErr error
	var traceback string
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
				traceback = string(debug.Stack())
			}
		}()
		runErr = fn(handle.Context, handle.Arguments)
	}()

	if runErr != nil {
		t.notifications.Failed(handle, runErr, traceback)
		return
	}
	t.notifications.Succeeded(handle)
}

// Submit enqueues handle for execution by the next free worker. It
// blocks only as long as the queue is full, providing backpressure
// without an unbounded buffer.
func (t *Thread) Submit(ctx context.Context, handle taskgraph.TaskHandle) error {
	select {
	case <-t.closed:
		return fmt.Errorf("executor: closed")
	default:
	}
	select {
	case t.queue <- handle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work and waits for in-flight operations to
// finish. Safe to call once; subsequent calls are no-ops.
func (t *Thread) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		close(t.queue)
	})
	t.wg.Wait()
	return nil
}
