// Package builtin implements the reserved lifecycle workflows
// (install, uninstall, start, stop, heal, execute_operation) purely
// against the Task Graph Builder API: every workflow here only calls
// taskgraph.Graph methods and the taskgraph task constructors
// (NewGraph, NewOperationTaskFor*, NewStubTask, NewWorkflowTask), the same
// surface a user-authored workflow function would use.
package builtin

import (
	"github.com/taskgraphio/orchestrator/taskgraph"
)

// Normative interface and operation names, matching the TOSCA lifecycle
// this package's workflows are built against.
const (
	StandardInterface  = "Standard"
	ConfigureInterface = "Configure"

	OpCreate    = "create"
	OpConfigure = "configure"
	OpStart     = "start"
	OpStop      = "stop"
	OpDelete    = "delete"

	OpPreConfigureSource  = "pre_configure_source"
	OpPreConfigureTarget  = "pre_configure_target"
	OpPostConfigureSource = "post_configure_source"
	OpPostConfigureTarget = "post_configure_target"

	OpAddSource    = "add_source"
	OpAddTarget    = "add_target"
	OpRemoveSource = "remove_source"
	OpRemoveTarget = "remove_target"
)

// Deployment is the flat collection of nodes and relationships a builtin
// workflow operates over: a resolved view of a service instance, not a
// store. Callers typically build one by resolving ids through a
// taskgraph.ModelStore before invoking a workflow.
type Deployment struct {
	Nodes         []taskgraph.Actor
	Relationships []taskgraph.Relationship
}

// Outbound returns the relationships whose source is nodeID.
func (d Deployment) Outbound(nodeID string) []taskgraph.Relationship {
	var out []taskgraph.Relationship
	for _, r := range d.Relationships {
		if r.SourceNodeID() == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// nodeTask builds one node lifecycle task, substituting a StubTask when
// the operation is declared but unbound, and skipping entirely (nil)
// when the operation is not declared on the node at all.
func nodeTask(node taskgraph.Actor, interfaceName, operationName string) taskgraph.Task {
	t, err := taskgraph.NewOperationTaskForNode(node, interfaceName, operationName)
	if err != nil {
		return nil
	}
	if t.IsEmpty() {
		return taskgraph.NewStubTask()
	}
	return t
}

// relationshipTasks builds the source- and target-side tasks for one
// relationship operation pair, in that order, skipping operations the
// relationship does not declare.
func relationshipTasks(rel taskgraph.Relationship, interfaceName, sourceOp, targetOp string) []taskgraph.Task {
	var out []taskgraph.Task
	if sourceOp != "" {
		if t, err := taskgraph.NewOperationTaskForRelationship(rel, interfaceName, sourceOp); err == nil {
			if t.IsEmpty() {
				out = append(out, taskgraph.NewStubTask())
			} else {
				out = append(out, t)
			}
		}
	}
	if targetOp != "" {
		if t, err := taskgraph.NewOperationTaskForRelationship(rel, interfaceName, targetOp, taskgraph.WithRunsOn(taskgraph.RunsOnTarget)); err == nil {
			if t.IsEmpty() {
				out = append(out, taskgraph.NewStubTask())
			} else {
				out = append(out, t)
			}
		}
	}
	return out
}

// buildNodeSequence builds one node's full lifecycle sequence for the given
// operation list and chains it into g, returning its first and last
// task so the caller can wire cross-node ordering.
func buildNodeSequence(g *taskgraph.Graph, node taskgraph.Actor, dep Deployment, ops []string) (entry, exit taskgraph.Task, err error) {
	var seq []taskgraph.Task
	for _, op := range ops {
		switch op {
		case OpCreate, OpConfigure, OpStart, OpStop, OpDelete:
			if t := nodeTask(node, StandardInterface, op); t != nil {
				seq = append(seq, t)
			}
		case OpPreConfigureSource + "/" + OpPreConfigureTarget:
			for _, rel := range dep.Outbound(node.ActorID()) {
				seq = append(seq, relationshipTasks(rel, ConfigureInterface, OpPreConfigureSource, OpPreConfigureTarget)...)
			}
		case OpPostConfigureSource + "/" + OpPostConfigureTarget:
			for _, rel := range dep.Outbound(node.ActorID()) {
				seq = append(seq, relationshipTasks(rel, ConfigureInterface, OpPostConfigureSource, OpPostConfigureTarget)...)
			}
		case OpAddSource + "/" + OpAddTarget:
			for _, rel := range dep.Outbound(node.ActorID()) {
				seq = append(seq, relationshipTasks(rel, ConfigureInterface, OpAddSource, OpAddTarget)...)
			}
		case OpRemoveSource + "/" + OpRemoveTarget:
			for _, rel := range dep.Outbound(node.ActorID()) {
				seq = append(seq, relationshipTasks(rel, ConfigureInterface, OpRemoveSource, OpRemoveTarget)...)
			}
		}
	}
	if len(seq) == 0 {
		stub := taskgraph.NewStubTask()
		seq = []taskgraph.Task{stub}
	}
	if err := g.Sequence(seq...); err != nil {
		return nil, nil, err
	}
	return seq[0], seq[len(seq)-1], nil
}

// Install builds the install workflow graph for an entire deployment:
// per node, create -> pre_configure relationships -> configure ->
// post_configure relationships -> start -> add_source/add_target
// relationships, with nodes ordered so a
// relationship's target node finishes installing before its source node
// starts.
func Install(g *taskgraph.Graph, dep Deployment) error {
	entries := make(map[string]taskgraph.Task, len(dep.Nodes))
	exits := make(map[string]taskgraph.Task, len(dep.Nodes))

	installOps := []string{
		OpCreate,
		OpPreConfigureSource + "/" + OpPreConfigureTarget,
		OpConfigure,
		OpPostConfigureSource + "/" + OpPostConfigureTarget,
		OpStart,
		OpAddSource + "/" + OpAddTarget,
	}

	for _, node := range dep.Nodes {
		entry, exit, err := buildNodeSequence(g, node, dep, installOps)
		if err != nil {
			return err
		}
		entries[node.ActorID()] = entry
		exits[node.ActorID()] = exit
	}

	for _, node := range dep.Nodes {
		for _, rel := range dep.Outbound(node.ActorID()) {
			targetExit, ok := exits[rel.TargetNodeID()]
			if !ok {
				continue
			}
			if _, err := g.AddDependency(entries[node.ActorID()], targetExit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Uninstall builds the uninstall workflow graph: per node, stop ->
// remove_source/remove_target relationships -> delete, with the
// dependency order reversed relative to Install so dependents tear down
// before what they depend on.
func Uninstall(g *taskgraph.Graph, dep Deployment) error {
	entries := make(map[string]taskgraph.Task, len(dep.Nodes))
	exits := make(map[string]taskgraph.Task, len(dep.Nodes))

	uninstallOps := []string{
		OpStop,
		OpRemoveSource + "/" + OpRemoveTarget,
		OpDelete,
	}

	for _, node := range dep.Nodes {
		entry, exit, err := buildNodeSequence(g, node, dep, uninstallOps)
		if err != nil {
			return err
		}
		entries[node.ActorID()] = entry
		exits[node.ActorID()] = exit
	}

	for _, node := range dep.Nodes {
		for _, rel := range dep.Outbound(node.ActorID()) {
			targetEntry, ok := entries[rel.TargetNodeID()]
			if !ok {
				continue
			}
			if _, err := g.AddDependency(targetEntry, exits[node.ActorID()]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start builds the start workflow graph for a deployment: per node,
// start -> add_source/add_target, target nodes starting before their
// dependents.
func Start(g *taskgraph.Graph, dep Deployment) error {
	return buildSingleStage(g, dep, []string{OpStart, OpAddSource + "/" + OpAddTarget}, false)
}

// Stop builds the stop workflow graph for a deployment: per node,
// remove_source/remove_target -> stop, dependents stopping before what
// they depend on.
func Stop(g *taskgraph.Graph, dep Deployment) error {
	return buildSingleStage(g, dep, []string{OpRemoveSource + "/" + OpRemoveTarget, OpStop}, true)
}

func buildSingleStage(g *taskgraph.Graph, dep Deployment, ops []string, reverse bool) error {
	entries := make(map[string]taskgraph.Task, len(dep.Nodes))
	exits := make(map[string]taskgraph.Task, len(dep.Nodes))

	for _, node := range dep.Nodes {
		entry, exit, err := buildNodeSequence(g, node, dep, ops)
		if err != nil {
			return err
		}
		entries[node.ActorID()] = entry
		exits[node.ActorID()] = exit
	}

	for _, node := range dep.Nodes {
		for _, rel := range dep.Outbound(node.ActorID()) {
			if reverse {
				targetEntry, ok := entries[rel.TargetNodeID()]
				if !ok {
					continue
				}
				if _, err := g.AddDependency(targetEntry, exits[node.ActorID()]); err != nil {
					return err
				}
				continue
			}
			targetExit, ok := exits[rel.TargetNodeID()]
			if !ok {
				continue
			}
			if _, err := g.AddDependency(entries[node.ActorID()], targetExit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Heal builds the heal workflow for a single failing node: uninstall it
// (stop, remove relationships, delete), then install it again (create,
// configure, start, re-add relationships). Other nodes in the deployment
// are left untouched. Both halves only process relationships whose source
// is the failing node; relationships from other nodes to it get no tasks.
func Heal(g *taskgraph.Graph, dep Deployment, failingNodeID string) error {
	var failing taskgraph.Actor
	for _, n := range dep.Nodes {
		if n.ActorID() == failingNodeID {
			failing = n
			break
		}
	}
	if failing == nil {
		return &taskgraph.TaskNotInGraphError{TaskID: failingNodeID}
	}

	solo := Deployment{Nodes: []taskgraph.Actor{failing}, Relationships: dep.Relationships}

	uninstallGraph := taskgraph.NewGraph("heal-uninstall:" + failing.ActorName())
	if err := Uninstall(uninstallGraph, solo); err != nil {
		return err
	}
	installGraph := taskgraph.NewGraph("heal-install:" + failing.ActorName())
	if err := Install(installGraph, solo); err != nil {
		return err
	}

	uninstallTask := taskgraph.NewWorkflowTask("uninstall:"+failing.ActorName(), uninstallGraph)
	installTask := taskgraph.NewWorkflowTask("install:"+failing.ActorName(), installGraph)
	return g.Sequence(uninstallTask, installTask)
}

// ExecuteOperation builds the execute_operation workflow: a single task
// running one interface/operation pair against one actor.
func ExecuteOperation(g *taskgraph.Graph, actor taskgraph.Actor, interfaceName, operationName string, opts ...taskgraph.OperationTaskOption) error {
	var t *taskgraph.OperationTask
	var err error
	if rel, ok := actor.(taskgraph.Relationship); ok {
		t, err = taskgraph.NewOperationTaskForRelationship(rel, interfaceName, operationName, opts...)
	} else {
		t, err = taskgraph.NewOperationTaskForNode(actor, interfaceName, operationName, opts...)
	}
	if err != nil {
		return err
	}
	g.AddTasks(t)
	return nil
}
