package taskgraph

// ActorType distinguishes the kind of entity an operation is bound to.
type ActorType string

const (
	ActorTypeNode         ActorType = "node"
	ActorTypeRelationship ActorType = "relationship"
)

// RunsOn selects which side of a relationship hosts an operation's plugin
// working directory and execution locality. Node operations always run on
// RunsOnNode.
type RunsOn string

const (
	RunsOnNode   RunsOn = "node"
	RunsOnSource RunsOn = "source"
	RunsOnTarget RunsOn = "target"
)

// OperationSpec is the metadata a model store returns for one bound
// interface/operation pair.
type OperationSpec struct {
	Implementation      string
	PluginSpecification string
	Inputs              map[string]interface{}
}

// ActorInterface exposes the operations declared under one interface name,
// e.g. "Standard" or "Configure".
type ActorInterface interface {
	Operation(name string) (OperationSpec, bool)
}

// Actor is the node or relationship an OperationTask acts upon. Model
// store implementations (taskgraph/model) satisfy this for their node and
// relationship types.
type Actor interface {
	ActorID() string
	ActorName() string
	ActorType() ActorType
	Interface(name string) (ActorInterface, bool)
}

// Relationship narrows Actor with the source/target node identifiers an
// OperationTask needs when RunsOn is source or target.
type Relationship interface {
	Actor
	SourceNodeID() string
	TargetNodeID() string
}

// PluginResolver resolves a plugin specification declared on an operation
// to an installed plugin id.
type PluginResolver interface {
	FindPlugin(spec string) (pluginID string, ok bool)
}
