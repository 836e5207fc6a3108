package taskgraph

import (
	"sort"

	"github.com/google/uuid"
)

// Graph is the API-level task graph a workflow function populates: nodes
// are tasks, edges encode "dependent depends on dependency". A dependent
// may only start, once translated, after its dependencies have terminated
// successfully or been skipped.
type Graph struct {
	ID   string
	Name string

	tasks map[string]Task
	deps  map[string]map[string]struct{}
}

// NewGraph creates an empty graph. Workflow functions receive one of
// these on entry and populate it by side effect.
func NewGraph(name string) *Graph {
	return &Graph{
		ID:    uuid.NewString(),
		Name:  name,
		tasks: make(map[string]Task),
		deps:  make(map[string]map[string]struct{}),
	}
}

// AddTasks adds one or more tasks to the graph. Arguments that are slices
// are recursively flattened; nil entries are skipped. Adding a task that
// is already a member is a no-op for that task.
func (g *Graph) AddTasks(items ...interface{}) {
	for _, t := range flattenTasks(items) {
		if _, ok := g.tasks[t.ID()]; !ok {
			g.deps[t.ID()] = make(map[string]struct{})
		}
		g.tasks[t.ID()] = t
	}
}

// RemoveTasks removes tasks and all edges incident to them.
func (g *Graph) RemoveTasks(items ...interface{}) {
	for _, t := range flattenTasks(items) {
		delete(g.tasks, t.ID())
		delete(g.deps, t.ID())
		for dependent := range g.deps {
			delete(g.deps[dependent], t.ID())
		}
	}
}

// HasTasks reports whether every given task is a member of the graph.
func (g *Graph) HasTasks(items ...interface{}) bool {
	for _, t := range flattenTasks(items) {
		if _, ok := g.tasks[t.ID()]; !ok {
			return false
		}
	}
	return true
}

// GetTask looks up a task by id.
func (g *Graph) GetTask(id string) (Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// AllTasks returns every task currently in the graph, in no particular
// order.
func (g *Graph) AllTasks() []Task {
	out := make([]Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	return out
}

// AddDependency records that dependent depends on dependency. Returns
// false with no error if the pair is already linked. A self-edge or a
// reference to a non-member task is an error; an edge that would close a
// cycle is rejected without being added.
func (g *Graph) AddDependency(dependent, dependency Task) (bool, error) {
	if dependent.ID() == dependency.ID() {
		return false, ErrSelfDependency
	}
	if _, ok := g.tasks[dependent.ID()]; !ok {
		return false, &TaskNotInGraphError{TaskID: dependent.ID()}
	}
	if _, ok := g.tasks[dependency.ID()]; !ok {
		return false, &TaskNotInGraphError{TaskID: dependency.ID()}
	}
	if _, linked := g.deps[dependent.ID()][dependency.ID()]; linked {
		return false, nil
	}
	if g.reaches(dependency.ID(), dependent.ID()) {
		return false, ErrCyclicDependency
	}
	g.deps[dependent.ID()][dependency.ID()] = struct{}{}
	return true, nil
}

// reaches reports whether there is a dependency path from -> to.
func (g *Graph) reaches(from, to string) bool {
	visited := make(map[string]bool)
	var walk func(id string) bool
	walk = func(id string) bool {
		if id == to {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for dep := range g.deps[id] {
			if walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// HasDependency reports whether dependent directly depends on dependency.
func (g *Graph) HasDependency(dependent, dependency Task) (bool, error) {
	if _, ok := g.tasks[dependent.ID()]; !ok {
		return false, &TaskNotInGraphError{TaskID: dependent.ID()}
	}
	if _, ok := g.tasks[dependency.ID()]; !ok {
		return false, &TaskNotInGraphError{TaskID: dependency.ID()}
	}
	_, linked := g.deps[dependent.ID()][dependency.ID()]
	return linked, nil
}

// RemoveDependency drops a direct dependency edge, if present.
func (g *Graph) RemoveDependency(dependent, dependency Task) error {
	if _, ok := g.tasks[dependent.ID()]; !ok {
		return &TaskNotInGraphError{TaskID: dependent.ID()}
	}
	delete(g.deps[dependent.ID()], dependency.ID())
	return nil
}

// GetDependencies returns the tasks t directly depends on.
func (g *Graph) GetDependencies(t Task) ([]Task, error) {
	if _, ok := g.tasks[t.ID()]; !ok {
		return nil, &TaskNotInGraphError{TaskID: t.ID()}
	}
	out := make([]Task, 0, len(g.deps[t.ID()]))
	for id := range g.deps[t.ID()] {
		out = append(out, g.tasks[id])
	}
	return out, nil
}

// GetDependents returns the tasks that directly depend on t.
func (g *Graph) GetDependents(t Task) ([]Task, error) {
	if _, ok := g.tasks[t.ID()]; !ok {
		return nil, &TaskNotInGraphError{TaskID: t.ID()}
	}
	var out []Task
	for dependent, deps := range g.deps {
		if _, ok := deps[t.ID()]; ok {
			out = append(out, g.tasks[dependent])
		}
	}
	return out, nil
}

// Sequence adds every task and chains them t[i] depends on t[i-1], in
// order. Nil entries are skipped before chaining.
func (g *Graph) Sequence(tasks ...Task) error {
	flat := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t != nil {
			flat = append(flat, t)
		}
	}
	g.AddTasks(toInterfaceSlice(flat)...)
	for i := 1; i < len(flat); i++ {
		if _, err := g.AddDependency(flat[i], flat[i-1]); err != nil {
			return err
		}
	}
	return nil
}

// TopologicalOrder returns a permutation of the graph's tasks respecting
// every dependency edge, dependencies before dependents. reverse flips
// that to dependents before dependencies. Ties are broken by task id for
// determinism.
func (g *Graph) TopologicalOrder(reverse bool) ([]Task, error) {
	indegree := make(map[string]int, len(g.tasks))
	adjacency := make(map[string][]string, len(g.tasks))
	for id := range g.tasks {
		indegree[id] = len(g.deps[id])
	}
	for dependent, dependencies := range g.deps {
		for dep := range dependencies {
			adjacency[dep] = append(adjacency[dep], dependent)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]Task, 0, len(g.tasks))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, g.tasks[id])
		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(g.tasks) {
		return nil, ErrCyclicDependency
	}
	if reverse {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return order, nil
}

func toInterfaceSlice(tasks []Task) []interface{} {
	out := make([]interface{}, len(tasks))
	for i, t := range tasks {
		out[i] = t
	}
	return out
}

func flattenTasks(items []interface{}) []Task {
	var out []Task
	for _, item := range items {
		switch v := item.(type) {
		case nil:
			continue
		case Task:
			if v != nil {
				out = append(out, v)
			}
		case []Task:
			out = append(out, flattenTaskSlice(v)...)
		case []interface{}:
			out = append(out, flattenTasks(v)...)
		}
	}
	return out
}

func flattenTaskSlice(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}
