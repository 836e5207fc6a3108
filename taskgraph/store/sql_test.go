package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskgraphio/orchestrator/taskgraph"
	"github.com/taskgraphio/orchestrator/taskgraph/store"
)

func openSQLite(t *testing.T) *store.SQL {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQL_ExecutionLifecycle(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	created := time.Now()
	err := s.CreateExecution(ctx, taskgraph.ExecutionRecord{
		ID:                "e1",
		ServiceInstanceID: "instance-1",
		WorkflowName:      "install",
		Parameters:        map[string]interface{}{"replicas": float64(3)},
		Status:            taskgraph.ExecutionPending,
		CreatedAt:         created,
	})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	err = s.UpdateExecution(ctx, taskgraph.ExecutionRecord{
		ID:                "e1",
		ServiceInstanceID: "instance-1",
		WorkflowName:      "install",
		Parameters:        map[string]interface{}{"replicas": float64(3)},
		Status:            taskgraph.ExecutionTerminated,
	})
	if err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	rec, err := s.GetExecution(ctx, "e1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if rec.Status != taskgraph.ExecutionTerminated {
		t.Fatalf("Status = %v, want Terminated", rec.Status)
	}
	if n, ok := rec.Parameters["replicas"].(float64); !ok || n != 3 {
		t.Fatalf("Parameters[replicas] = %v, want float64 3", rec.Parameters["replicas"])
	}

	if err := s.UpdateExecution(ctx, taskgraph.ExecutionRecord{ID: "missing"}); err == nil {
		t.Fatalf("UpdateExecution(missing) = nil error, want error")
	}
	if _, err := s.GetExecution(ctx, "missing"); err == nil {
		t.Fatalf("GetExecution(missing) = nil error, want error")
	}
}

func TestSQL_UpdateTaskMergesNonZeroFields(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, taskgraph.TaskRecord{
		ID:          "t1",
		ExecutionID: "e1",
		ActorID:     "node-1",
		Status:      taskgraph.TaskStarted,
		MaxAttempts: 3,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.UpdateTask(ctx, taskgraph.TaskRecord{ID: "t1", ExecutionID: "e1", AttemptsCount: 1}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	rec, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if rec.Status != taskgraph.TaskStarted {
		t.Fatalf("Status = %v, want preserved Started", rec.Status)
	}
	if rec.ActorID != "node-1" {
		t.Fatalf("ActorID = %q, want preserved node-1", rec.ActorID)
	}
	if rec.AttemptsCount != 1 {
		t.Fatalf("AttemptsCount = %d, want 1", rec.AttemptsCount)
	}
	if rec.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want preserved 3", rec.MaxAttempts)
	}
}

func TestSQL_UpdateTaskMissingFails(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	err := s.UpdateTask(ctx, taskgraph.TaskRecord{ID: "missing", ExecutionID: "e1"})
	if err == nil {
		t.Fatalf("UpdateTask(missing) = nil error, want error")
	}
	var storageErr *taskgraph.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("err = %v, want *taskgraph.StorageError", err)
	}
}

func TestSQL_ListTasksPreservesOrder(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"t1", "t2", "t3"} {
		if err := s.CreateTask(ctx, taskgraph.TaskRecord{
			ID:          id,
			ExecutionID: "e1",
			StartedAt:   base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("CreateTask(%s): %v", id, err)
		}
	}
	recs, err := s.ListTasks(ctx, "e1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len(recs) = %d, want 3", len(recs))
	}
	for i, want := range []string{"t1", "t2", "t3"} {
		if recs[i].ID != want {
			t.Fatalf("recs[%d].ID = %s, want %s", i, recs[i].ID, want)
		}
	}
}
