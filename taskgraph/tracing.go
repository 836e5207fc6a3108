package taskgraph

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSignalSink wraps a Signals bus so that every workflow-level signal
// opens or closes a span, and every task-level signal is recorded as an
// event on the execution's active span. Construct it after the Signals
// it wraps and Connect its handlers before Execute runs.
type OTelSignalSink struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]spanEntry
}

type spanEntry struct {
	ctx  context.Context
	span trace.Span
}

// NewOTelSignalSink attaches span lifecycle handlers to bus for every
// signal name. tracerName identifies the tracer in exported spans, e.g.
// "taskgraph/engine".
func NewOTelSignalSink(bus *Signals, tracerName string) *OTelSignalSink {
	sink := &OTelSignalSink{
		tracer: otel.Tracer(tracerName),
		spans:  make(map[string]spanEntry),
	}

	bus.Connect(SignalStartWorkflow, func(p SignalPayload) {
		ctx, span := sink.tracer.Start(context.Background(), "workflow",
			trace.WithAttributes(attribute.String("taskgraph.execution_id", p.ExecutionID)))
		sink.mu.Lock()
		sink.spans[p.ExecutionID] = spanEntry{ctx: ctx, span: span}
		sink.mu.Unlock()
	})

	bus.Connect(SignalSuccessWorkflow, func(p SignalPayload) {
		sink.end(p.ExecutionID, nil)
	})
	bus.Connect(SignalFailureWorkflow, func(p SignalPayload) {
		sink.end(p.ExecutionID, p.Err)
	})
	bus.Connect(SignalCancelledWorkflow, func(p SignalPayload) {
		sink.end(p.ExecutionID, ErrExecutionCancelled)
	})

	bus.Connect(SignalSentTask, func(p SignalPayload) { sink.event(p, "sent_task") })
	bus.Connect(SignalSuccessTask, func(p SignalPayload) { sink.event(p, "task_succeeded") })
	bus.Connect(SignalFailureTask, func(p SignalPayload) { sink.event(p, "task_failed") })

	return sink
}

func (s *OTelSignalSink) event(p SignalPayload, name string) {
	s.mu.Lock()
	entry, ok := s.spans[p.ExecutionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{}
	if p.Task != nil {
		attrs = append(attrs, attribute.String("taskgraph.task_id", p.Task.ID), attribute.String("taskgraph.task_kind", p.Task.Kind.String()))
	}
	entry.span.AddEvent(name, trace.WithAttributes(attrs...))
	if p.Err != nil {
		entry.span.RecordError(p.Err)
	}
}

func (s *OTelSignalSink) end(executionID string, err error) {
	s.mu.Lock()
	entry, ok := s.spans[executionID]
	delete(s.spans, executionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		entry.span.RecordError(err)
		entry.span.SetStatus(codes.Error, err.Error())
	} else {
		entry.span.SetStatus(codes.Ok, "")
	}
	entry.span.End()
}
