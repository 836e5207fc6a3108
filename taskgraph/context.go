package taskgraph

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ModelStore is the abstract service-model catalog the core reads entity
// identifiers, interface/operation names, and plugin bindings through.
type ModelStore interface {
	GetNode(id string) (Actor, bool)
	GetRelationship(id string) (Relationship, bool)
}

const (
	ResourceBucketBlueprint  = "blueprint"
	ResourceBucketDeployment = "deployment"
)

// ResourceStore is the abstract blob-like resource collaborator,
// addressed by service-instance or template identifier.
type ResourceStore interface {
	Download(bucket, entryID, destination, path string) error
	Read(bucket, entryID, path string) ([]byte, error)
}

// LogSink receives structured log lines from workflow/operation
// functions.
type LogSink interface {
	Log(level, msg string, fields map[string]interface{})
}

// WorkflowContext is created on workflow entry; its id is the execution
// id. It is passed through unchanged into sub-workflow calls.
type WorkflowContext struct {
	ExecutionID       string
	WorkflowName      string
	ServiceInstanceID string
	ServiceTemplateID string
	Parameters        map[string]interface{}
	Model             ModelStore
	Resources         ResourceStore
	Plugins           PluginResolver
	Log               LogSink

	cancelled atomic.Bool
}

// NewWorkflowContext builds the per-execution context handed to a
// workflow function. serviceTemplateID addresses the blueprint bucket
// resource fall-through used by GetResource/DownloadResource; it may be
// empty if the deployment was not instantiated from a stored blueprint.
func NewWorkflowContext(executionID, workflowName, serviceInstanceID, serviceTemplateID string, parameters map[string]interface{}, model ModelStore, resources ResourceStore, plugins PluginResolver, log LogSink) *WorkflowContext {
	return &WorkflowContext{
		ExecutionID:       executionID,
		WorkflowName:      workflowName,
		ServiceInstanceID: serviceInstanceID,
		ServiceTemplateID: serviceTemplateID,
		Parameters:        parameters,
		Model:             model,
		Resources:         resources,
		Plugins:           plugins,
		Log:               log,
	}
}

// Cancelled reports whether the owning execution has been asked to
// cancel.
func (c *WorkflowContext) Cancelled() bool { return c.cancelled.Load() }

func (c *WorkflowContext) requestCancel() { c.cancelled.Store(true) }

// GetResource reads path from the deployment bucket, scoped to
// ServiceInstanceID, first. If that lookup fails with a *StorageError it
// falls through to the blueprint bucket, scoped to ServiceTemplateID, the
// same deployment-then-template precedence the resource fall-through
// contract names. Any other error is returned immediately.
func (c *WorkflowContext) GetResource(path string) ([]byte, error) {
	content, err := c.Resources.Read(ResourceBucketDeployment, c.ServiceInstanceID, path)
	if err == nil {
		return content, nil
	}
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		return nil, err
	}
	return c.Resources.Read(ResourceBucketBlueprint, c.ServiceTemplateID, path)
}

// DownloadResource mirrors GetResource, writing the resolved resource to
// destination instead of returning its bytes.
func (c *WorkflowContext) DownloadResource(destination, path string) error {
	err := c.Resources.Download(ResourceBucketDeployment, c.ServiceInstanceID, destination, path)
	if err == nil {
		return nil
	}
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		return err
	}
	return c.Resources.Download(ResourceBucketBlueprint, c.ServiceTemplateID, destination, path)
}

// OperationContext is constructed per attempt. It carries the Task Record
// id, the actor id, a per-plugin working directory created on demand, and,
// for relationship operations, the source/target node identifiers.
type OperationContext struct {
	*WorkflowContext
	TaskID       string
	ActorID      string
	ActorType    ActorType
	RunsOn       RunsOn
	SourceNodeID string // set only for relationship operations
	TargetNodeID string // set only for relationship operations
	Attempt      int

	workdirMu sync.Mutex
	workdir   string
	workdirFn func(pluginID string) (string, error)
}

// PluginWorkdir returns this operation's plugin working directory,
// creating it on first access.
func (c *OperationContext) PluginWorkdir(pluginID string) (string, error) {
	c.workdirMu.Lock()
	defer c.workdirMu.Unlock()
	if c.workdir != "" {
		return c.workdir, nil
	}
	if c.workdirFn == nil {
		return "", nil
	}
	dir, err := c.workdirFn(pluginID)
	if err != nil {
		return "", err
	}
	c.workdir = dir
	return dir, nil
}

// LoggingID mirrors the node-id / "source->target" display convention
// used for relationship operations.
func (c *OperationContext) LoggingID() string {
	if c.ActorType == ActorTypeRelationship {
		return c.SourceNodeID + "->" + c.TargetNodeID
	}
	return c.ActorID
}

// contextStack is the explicit scoped-acquisition primitive called out by
// the source's thread-local current-context: push(ctx) returns a handle;
// closing it restores whatever was on top before.
//
// Go has no clean thread-local equivalent, so this stack is process-wide
// and mutex-guarded rather than goroutine-local. It is correct as long as
// at most one workflow function builds its graph at a time per process;
// concurrent graph construction across goroutines should use WithContext
// to bypass the stack entirely.
type contextStack struct {
	mu    sync.Mutex
	stack []*WorkflowContext
}

var currentCtxStack contextStack

// Scope is the handle returned by PushContext.
type Scope struct {
	closed bool
}

// Close restores the context that was active before the matching
// PushContext call. Safe to call via defer; a second call is a no-op.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	currentCtxStack.mu.Lock()
	defer currentCtxStack.mu.Unlock()
	if n := len(currentCtxStack.stack); n > 0 {
		currentCtxStack.stack = currentCtxStack.stack[:n-1]
	}
}

// PushContext makes ctx the active workflow context until the returned
// scope is closed.
func PushContext(ctx *WorkflowContext) *Scope {
	currentCtxStack.mu.Lock()
	currentCtxStack.stack = append(currentCtxStack.stack, ctx)
	currentCtxStack.mu.Unlock()
	return &Scope{}
}

// CurrentContext returns the active workflow context, or ErrContextMissing
// if no scope is open.
func CurrentContext() (*WorkflowContext, error) {
	currentCtxStack.mu.Lock()
	defer currentCtxStack.mu.Unlock()
	n := len(currentCtxStack.stack)
	if n == 0 {
		return nil, ErrContextMissing
	}
	return currentCtxStack.stack[n-1], nil
}
