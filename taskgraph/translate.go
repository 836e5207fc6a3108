package taskgraph

import "fmt"

// Translate produces an execution graph from the root API graph: it wraps
// the graph with Start/End sentinels and recursively inlines any nested
// WorkflowTask sub-graphs with their own Start/End sentinels, preserving
// every dependency relationship from the source graph.
func Translate(g *Graph) (*ExecutionGraph, error) {
	eg := newExecutionGraph(g.ID)
	rootStart := sentinelID(g.ID, "start")
	eg.addTask(&ExecTask{ID: rootStart, Kind: ExecStartWorkflow, GraphID: g.ID})

	memo := make(map[string][]string)
	leaves, err := translateInto(eg, g, rootStart, memo)
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		leaves = []string{rootStart}
	}

	rootEnd := sentinelID(g.ID, "end")
	eg.addTask(&ExecTask{ID: rootEnd, Kind: ExecEndWorkflow, GraphID: g.ID}, leaves...)
	return eg, nil
}

// translateInto translates every task of g into eg. startID substitutes
// for tasks whose API-level dependency set is empty. memo is shared
// across the whole Translate call since task ids are unique even across
// nested graphs, which lets sub-workflow recursion reuse it safely. It
// returns the execution-task ids standing in for g's leaves (API tasks
// with no dependents within g).
func translateInto(eg *ExecutionGraph, g *Graph, startID string, memo map[string][]string) ([]string, error) {
	var translate func(t Task) ([]string, error)
	translate = func(t Task) ([]string, error) {
		if ids, ok := memo[t.ID()]; ok {
			return ids, nil
		}

		apiDeps, err := g.GetDependencies(t)
		if err != nil {
			return nil, err
		}
		var deps []string
		for _, d := range apiDeps {
			out, err := translate(d)
			if err != nil {
				return nil, err
			}
			deps = append(deps, out...)
		}
		if len(deps) == 0 {
			deps = []string{startID}
		}

		switch v := t.(type) {
		case *OperationTask:
			eg.addTask(&ExecTask{ID: v.ID(), Kind: ExecOperation, Operation: v, GraphID: g.ID}, deps...)
			memo[t.ID()] = []string{v.ID()}

		case *StubTask:
			eg.addTask(&ExecTask{ID: v.ID(), Kind: ExecStub, GraphID: g.ID}, deps...)
			memo[t.ID()] = []string{v.ID()}

		case *WorkflowTask:
			subStart := sentinelID(v.ID(), "start")
			subEnd := sentinelID(v.ID(), "end")
			eg.addTask(&ExecTask{ID: subStart, Kind: ExecStartSubWorkflow, GraphID: v.Graph.ID}, deps...)
			subLeaves, err := translateInto(eg, v.Graph, subStart, memo)
			if err != nil {
				return nil, err
			}
			if len(subLeaves) == 0 {
				subLeaves = []string{subStart}
			}
			eg.addTask(&ExecTask{ID: subEnd, Kind: ExecEndSubWorkflow, GraphID: v.Graph.ID}, subLeaves...)
			memo[t.ID()] = []string{subEnd}

		default:
			return nil, fmt.Errorf("taskgraph: unknown task variant %T", t)
		}
		return memo[t.ID()], nil
	}

	var leaves []string
	for _, t := range g.AllTasks() {
		if _, err := translate(t); err != nil {
			return nil, err
		}
		dependents, err := g.GetDependents(t)
		if err != nil {
			return nil, err
		}
		if len(dependents) == 0 {
			leaves = append(leaves, memo[t.ID()]...)
		}
	}
	return leaves, nil
}

func sentinelID(baseID, suffix string) string {
	return baseID + "-" + suffix
}
