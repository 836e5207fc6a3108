package taskgraph

import "sort"

// ExecTaskKind is the closed set of execution-graph task variants the
// translator produces.
type ExecTaskKind int

const (
	ExecStartWorkflow ExecTaskKind = iota
	ExecEndWorkflow
	ExecStartSubWorkflow
	ExecEndSubWorkflow
	ExecOperation
	ExecStub
)

func (k ExecTaskKind) String() string {
	switch k {
	case ExecStartWorkflow:
		return "StartWorkflow"
	case ExecEndWorkflow:
		return "EndWorkflow"
	case ExecStartSubWorkflow:
		return "StartSubWorkflow"
	case ExecEndSubWorkflow:
		return "EndSubWorkflow"
	case ExecOperation:
		return "Operation"
	case ExecStub:
		return "Stub"
	default:
		return "Unknown"
	}
}

// ExecTask is one node of the execution graph the translator builds from
// an API Graph. Sentinel kinds (everything but Operation) have no side
// effect; they exist to scope a graph or sub-graph uniformly.
type ExecTask struct {
	ID        string
	Kind      ExecTaskKind
	Operation *OperationTask // set only when Kind == ExecOperation
	GraphID   string         // the API graph (root or nested) this task scopes or belongs to
}

// ExecutionGraph is the translator's output: a DAG of ExecTask nodes
// consumed by the Engine.
type ExecutionGraph struct {
	RootGraphID string

	tasks map[string]*ExecTask
	deps  map[string]map[string]struct{} // deps[id] = predecessors of id
	order []string
}

func newExecutionGraph(rootGraphID string) *ExecutionGraph {
	return &ExecutionGraph{
		RootGraphID: rootGraphID,
		tasks:       make(map[string]*ExecTask),
		deps:        make(map[string]map[string]struct{}),
	}
}

func (e *ExecutionGraph) addTask(t *ExecTask, predecessors ...string) {
	e.tasks[t.ID] = t
	preds := make(map[string]struct{}, len(predecessors))
	for _, p := range predecessors {
		preds[p] = struct{}{}
	}
	e.deps[t.ID] = preds
	e.order = append(e.order, t.ID)
}

// Predecessors returns the ids of tasks that must complete before id is
// eligible for dispatch.
func (e *ExecutionGraph) Predecessors(id string) []string {
	out := make([]string, 0, len(e.deps[id]))
	for p := range e.deps[id] {
		out = append(out, p)
	}
	return out
}

// Get looks up an execution task by id.
func (e *ExecutionGraph) Get(id string) (*ExecTask, bool) {
	t, ok := e.tasks[id]
	return t, ok
}

// Tasks returns every execution task, in the order the translator created
// them.
func (e *ExecutionGraph) Tasks() []*ExecTask {
	out := make([]*ExecTask, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.tasks[id])
	}
	return out
}

// TopologicalOrder returns a permutation of the execution graph's tasks
// respecting every predecessor edge. Ties are broken by id for
// determinism.
func (e *ExecutionGraph) TopologicalOrder() ([]*ExecTask, error) {
	indegree := make(map[string]int, len(e.tasks))
	adjacency := make(map[string][]string, len(e.tasks))
	for id, preds := range e.deps {
		indegree[id] = len(preds)
		for p := range preds {
			adjacency[p] = append(adjacency[p], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]*ExecTask, 0, len(e.tasks))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		out = append(out, e.tasks[id])
		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(out) != len(e.tasks) {
		return nil, ErrCyclicDependency
	}
	return out, nil
}
