package taskgraph

import (
	"fmt"

	"github.com/google/uuid"
)

// Task is the closed, tagged set of API task variants: OperationTask,
// StubTask, WorkflowTask. It is not implementable outside this package.
type Task interface {
	ID() string
	Name() string
	taskVariant()
}

type taskBase struct {
	id   string
	name string
}

func (t taskBase) ID() string   { return t.id }
func (t taskBase) Name() string { return t.name }

// StubTask is a placeholder task with no side effect. It occupies a place
// in the dependency order without binding to any operation.
type StubTask struct{ taskBase }

func (*StubTask) taskVariant() {}

// NewStubTask creates a fresh, uniquely identified stub.
func NewStubTask() *StubTask {
	return &StubTask{taskBase{id: uuid.NewString(), name: "stub"}}
}

// WorkflowTask owns a nested API graph built by another workflow function,
// embedded as a single composable unit within a parent graph.
type WorkflowTask struct {
	taskBase
	Graph *Graph
}

func (*WorkflowTask) taskVariant() {}

// NewWorkflowTask wraps an already-populated sub-graph as a single task.
func NewWorkflowTask(name string, graph *Graph) *WorkflowTask {
	return &WorkflowTask{taskBase{id: uuid.NewString(), name: name}, graph}
}

// OperationTask is bound to an actor's interface/operation, with a
// resolved implementation path, an optional plugin, and a retry policy.
type OperationTask struct {
	taskBase
	Actor               Actor
	ActorType           ActorType
	InterfaceName       string
	OperationName       string
	RunsOn              RunsOn
	Implementation      string
	PluginSpecification string
	PluginID            string
	Inputs              map[string]interface{}
	Retry               RetryPolicy
}

func (*OperationTask) taskVariant() {}

// OperationTaskOption customizes an OperationTask at construction time.
type OperationTaskOption func(*operationTaskConfig)

type operationTaskConfig struct {
	inputs map[string]interface{}
	retry  RetryPolicy
	runsOn RunsOn
	ctx    *WorkflowContext
}

// WithInputs supplies explicit operation inputs that override the
// operation's declared defaults on a per-key basis.
func WithInputs(inputs map[string]interface{}) OperationTaskOption {
	return func(c *operationTaskConfig) { c.inputs = inputs }
}

// WithRetryPolicy overrides the default (no-retry) policy.
func WithRetryPolicy(p RetryPolicy) OperationTaskOption {
	return func(c *operationTaskConfig) { c.retry = p }
}

// WithRunsOn overrides the default runs-on side for a relationship
// operation. Ignored for node operations.
func WithRunsOn(r RunsOn) OperationTaskOption {
	return func(c *operationTaskConfig) { c.runsOn = r }
}

// WithContext bypasses the scoped current-context stack. Use this when a
// workflow builds its graph across goroutines, where the implicit stack
// cannot be trusted to hold the right context.
func WithContext(ctx *WorkflowContext) OperationTaskOption {
	return func(c *operationTaskConfig) { c.ctx = ctx }
}

func resolveContext(explicit *WorkflowContext) (*WorkflowContext, error) {
	if explicit != nil {
		return explicit, nil
	}
	return CurrentContext()
}

// NewOperationTaskForNode builds an OperationTask bound to a node actor.
func NewOperationTaskForNode(node Actor, interfaceName, operationName string, opts ...OperationTaskOption) (*OperationTask, error) {
	return newOperationTask(node, ActorTypeNode, RunsOnNode, interfaceName, operationName, opts...)
}

// NewOperationTaskForRelationship builds an OperationTask bound to a
// relationship actor. RunsOn defaults to the source side, matching the
// convention that relationship lifecycle operations execute from the
// consuming node unless told otherwise.
func NewOperationTaskForRelationship(rel Relationship, interfaceName, operationName string, opts ...OperationTaskOption) (*OperationTask, error) {
	return newOperationTask(rel, ActorTypeRelationship, RunsOnSource, interfaceName, operationName, opts...)
}

func newOperationTask(actor Actor, actorType ActorType, defaultRunsOn RunsOn, interfaceName, operationName string, opts ...OperationTaskOption) (*OperationTask, error) {
	cfg := operationTaskConfig{runsOn: defaultRunsOn, retry: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.retry.Validate(); err != nil {
		return nil, err
	}
	wfCtx, err := resolveContext(cfg.ctx)
	if err != nil {
		return nil, err
	}

	iface, ok := actor.Interface(interfaceName)
	if !ok {
		return nil, &OperationNotFoundError{Actor: actor.ActorName(), Interface: interfaceName, Operation: operationName}
	}
	spec, ok := iface.Operation(operationName)
	if !ok {
		return nil, &OperationNotFoundError{Actor: actor.ActorName(), Interface: interfaceName, Operation: operationName}
	}

	pluginID := ""
	if spec.PluginSpecification != "" {
		if wfCtx.Plugins == nil {
			return nil, &PluginNotFoundError{Spec: spec.PluginSpecification}
		}
		id, found := wfCtx.Plugins.FindPlugin(spec.PluginSpecification)
		if !found {
			return nil, &PluginNotFoundError{Spec: spec.PluginSpecification}
		}
		pluginID = id
	}

	name := fmt.Sprintf("%s:%s@%s:%s", interfaceName, operationName, actorType, actor.ActorName())
	return &OperationTask{
		taskBase:            taskBase{id: uuid.NewString(), name: name},
		Actor:               actor,
		ActorType:           actorType,
		InterfaceName:       interfaceName,
		OperationName:       operationName,
		RunsOn:              cfg.runsOn,
		Implementation:      spec.Implementation,
		PluginSpecification: spec.PluginSpecification,
		PluginID:            pluginID,
		Inputs:              mergeInputs(spec.Inputs, cfg.inputs),
		Retry:               cfg.retry,
	}, nil
}

// IsEmpty reports whether this operation has no bound implementation, the
// convention builtin workflows use to substitute a StubTask instead.
func (t *OperationTask) IsEmpty() bool { return t.Implementation == "" }

func mergeInputs(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
