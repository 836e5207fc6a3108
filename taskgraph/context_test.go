package taskgraph_test

import (
	"errors"
	"testing"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

type stubResourceStore struct {
	blobs map[string][]byte
}

func (s *stubResourceStore) Read(bucket, entryID, path string) ([]byte, error) {
	content, ok := s.blobs[bucket+"/"+entryID+"/"+path]
	if !ok {
		return nil, &taskgraph.StorageError{Op: "read", Cause: errors.New("no such entry")}
	}
	return content, nil
}

func (s *stubResourceStore) Download(bucket, entryID, destination, path string) error {
	_, err := s.Read(bucket, entryID, path)
	return err
}

func TestWorkflowContext_GetResourceFallsThroughToBlueprint(t *testing.T) {
	store := &stubResourceStore{blobs: map[string][]byte{
		taskgraph.ResourceBucketBlueprint + "/template-1/script.sh": []byte("from blueprint"),
	}}
	wfCtx := taskgraph.NewWorkflowContext("exec-1", "install", "instance-1", "template-1", nil, nil, store, nil, nil)

	content, err := wfCtx.GetResource("script.sh")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if string(content) != "from blueprint" {
		t.Fatalf("content = %q, want %q", content, "from blueprint")
	}
}

func TestWorkflowContext_GetResourcePrefersDeployment(t *testing.T) {
	store := &stubResourceStore{blobs: map[string][]byte{
		taskgraph.ResourceBucketDeployment + "/instance-1/script.sh": []byte("from deployment"),
		taskgraph.ResourceBucketBlueprint + "/template-1/script.sh":  []byte("from blueprint"),
	}}
	wfCtx := taskgraph.NewWorkflowContext("exec-1", "install", "instance-1", "template-1", nil, nil, store, nil, nil)

	content, err := wfCtx.GetResource("script.sh")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if string(content) != "from deployment" {
		t.Fatalf("content = %q, want %q", content, "from deployment")
	}
}

func TestWorkflowContext_GetResourceMissingEverywhere(t *testing.T) {
	store := &stubResourceStore{blobs: map[string][]byte{}}
	wfCtx := taskgraph.NewWorkflowContext("exec-1", "install", "instance-1", "template-1", nil, nil, store, nil, nil)

	_, err := wfCtx.GetResource("script.sh")
	if err == nil {
		t.Fatalf("GetResource = nil error, want error")
	}
	var storageErr *taskgraph.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("GetResource error = %v, want *taskgraph.StorageError", err)
	}
}
