package taskgraph

import "sync"

// SignalName identifies one of the lifecycle events the engine publishes.
type SignalName string

const (
	SignalStartWorkflow     SignalName = "start_workflow"
	SignalSuccessWorkflow   SignalName = "on_success_workflow"
	SignalFailureWorkflow   SignalName = "on_failure_workflow"
	SignalCancelledWorkflow SignalName = "on_cancelled_workflow"
	SignalSentTask          SignalName = "sent_task"
	SignalSuccessTask       SignalName = "on_success_task"
	SignalFailureTask       SignalName = "on_failure_task"
)

// SignalPayload carries whatever a handler needs. Task is nil for
// workflow-level signals; Err is set only for the two failure signals.
type SignalPayload struct {
	ExecutionID string
	Task        *ExecTask
	Err         error
}

// SignalHandler observes one signal.
type SignalHandler func(SignalPayload)

// Signals is a small publish/subscribe registry keyed by signal name.
// Delivery is synchronous and isolated: a handler that panics is
// recovered and never reaches the engine's own call stack.
type Signals struct {
	mu       sync.RWMutex
	handlers map[SignalName][]SignalHandler
	onPanic  func(SignalName, interface{})
}

// NewSignals creates an empty registry.
func NewSignals() *Signals {
	return &Signals{handlers: make(map[SignalName][]SignalHandler)}
}

// Connect registers h to observe every future Send of name.
func (s *Signals) Connect(name SignalName, h SignalHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = append(s.handlers[name], h)
}

// OnPanic installs a callback invoked when a handler panics. Intended for
// logging; the default is to swallow silently.
func (s *Signals) OnPanic(f func(SignalName, interface{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPanic = f
}

// Send delivers payload to every handler registered for name, in
// registration order.
func (s *Signals) Send(name SignalName, payload SignalPayload) {
	s.mu.RLock()
	handlers := append([]SignalHandler(nil), s.handlers[name]...)
	onPanic := s.onPanic
	s.mu.RUnlock()
	for _, h := range handlers {
		dispatch(name, h, payload, onPanic)
	}
}

func dispatch(name SignalName, h SignalHandler, payload SignalPayload, onPanic func(SignalName, interface{})) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(name, r)
		}
	}()
	h(payload)
}
