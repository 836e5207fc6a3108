package taskgraph_test

import (
	"testing"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

func TestTranslate_SubWorkflowExpansion(t *testing.T) {
	before := taskgraph.NewStubTask()
	after := taskgraph.NewStubTask()

	sub := taskgraph.NewGraph("sub")
	op1 := taskgraph.NewStubTask()
	stub := taskgraph.NewStubTask()
	op2 := taskgraph.NewStubTask()
	if err := sub.Sequence(op1, stub, op2); err != nil {
		t.Fatalf("sub.Sequence: %v", err)
	}
	wfTask := taskgraph.NewWorkflowTask("nested", sub)

	root := taskgraph.NewGraph("root")
	if err := root.Sequence(before, wfTask, after); err != nil {
		t.Fatalf("root.Sequence: %v", err)
	}

	eg, err := taskgraph.Translate(root)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	order, err := eg.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}

	if len(order) != 9 {
		t.Fatalf("len(order) = %d, want 9: %v", len(order), kindNames(order))
	}

	wantSeq := []string{
		"StartWorkflow",
		"Stub", // before
		"StartSubWorkflow",
		"Stub", // op1
		"Stub", // stub
		"Stub", // op2
		"EndSubWorkflow",
		"Stub", // after
		"EndWorkflow",
	}
	got := kindNames(order)
	for i := range wantSeq {
		if got[i] != wantSeq[i] {
			t.Fatalf("order[%d] = %s, want %s (full: %v)", i, got[i], wantSeq[i], got)
		}
	}

	// The IDs confirm which stub is which, beyond the kind name alone.
	if order[1].ID != before.ID() {
		t.Fatalf("order[1] = %s, want before task %s", order[1].ID, before.ID())
	}
	if order[3].ID != op1.ID() {
		t.Fatalf("order[3] = %s, want op1 %s", order[3].ID, op1.ID())
	}
	if order[4].ID != stub.ID() {
		t.Fatalf("order[4] = %s, want stub %s", order[4].ID, stub.ID())
	}
	if order[5].ID != op2.ID() {
		t.Fatalf("order[5] = %s, want op2 %s", order[5].ID, op2.ID())
	}
	if order[7].ID != after.ID() {
		t.Fatalf("order[7] = %s, want after task %s", order[7].ID, after.ID())
	}
}

func kindNames(order []*taskgraph.ExecTask) []string {
	out := make([]string, len(order))
	for i, t := range order {
		out[i] = t.Kind.String()
	}
	return out
}
