package taskgraph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogSignalSink writes every signal as a structured log line. Connect it
// to a Signals bus to get text or JSONL output of the lifecycle events.
type LogSignalSink struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogSignalSink creates a sink writing to w. A nil w defaults to
// os.Stdout.
func NewLogSignalSink(w io.Writer, jsonMode bool) *LogSignalSink {
	if w == nil {
		w = os.Stdout
	}
	return &LogSignalSink{writer: w, jsonMode: jsonMode}
}

// Attach registers this sink's handler on every signal name.
func (s *LogSignalSink) Attach(bus *Signals) {
	for _, name := range []SignalName{
		SignalStartWorkflow, SignalSuccessWorkflow, SignalFailureWorkflow, SignalCancelledWorkflow,
		SignalSentTask, SignalSuccessTask, SignalFailureTask,
	} {
		name := name
		bus.Connect(name, func(p SignalPayload) { s.emit(name, p) })
	}
}

func (s *LogSignalSink) emit(name SignalName, p SignalPayload) {
	if s.jsonMode {
		s.emitJSON(name, p)
		return
	}
	s.emitText(name, p)
}

func (s *LogSignalSink) emitText(name SignalName, p SignalPayload) {
	taskID := ""
	if p.Task != nil {
		taskID = p.Task.ID
	}
	errText := ""
	if p.Err != nil {
		errText = " err=" + p.Err.Error()
	}
	_, _ = fmt.Fprintf(s.writer, "[%s] executionID=%s taskID=%s%s\n", name, p.ExecutionID, taskID, errText)
}

func (s *LogSignalSink) emitJSON(name SignalName, p SignalPayload) {
	taskID := ""
	if p.Task != nil {
		taskID = p.Task.ID
	}
	errText := ""
	if p.Err != nil {
		errText = p.Err.Error()
	}
	data, err := json.Marshal(struct {
		Signal      string `json:"signal"`
		ExecutionID string `json:"executionID"`
		TaskID      string `json:"taskID,omitempty"`
		Err         string `json:"err,omitempty"`
	}{string(name), p.ExecutionID, taskID, errText})
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(s.writer, "%s\n", data)
}

// NullSignalSink attaches handlers that discard every signal. Useful for
// satisfying the "always have a sink wired" convention without any
// observability overhead.
type NullSignalSink struct{}

// Attach registers no-op handlers on every signal name.
func (NullSignalSink) Attach(bus *Signals) {
	noop := func(SignalPayload) {}
	for _, name := range []SignalName{
		SignalStartWorkflow, SignalSuccessWorkflow, SignalFailureWorkflow, SignalCancelledWorkflow,
		SignalSentTask, SignalSuccessTask, SignalFailureTask,
	} {
		bus.Connect(name, noop)
	}
}
