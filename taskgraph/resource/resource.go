// Package resource is a reference taskgraph.ResourceStore: an in-memory,
// bucket-scoped blob store standing in for a blueprint/deployment
// artifact archive in a real deployment.
package resource

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

// Memory is an in-memory ResourceStore. Entries are addressed by
// (bucket, entryID, path); bucket is taskgraph.ResourceBucketBlueprint or
// taskgraph.ResourceBucketDeployment.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte // key: bucket + "/" + entryID + "/" + path
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put seeds one resource, overwriting any existing content at the same
// address. Test and setup code use this to populate a store before a
// workflow runs.
func (m *Memory) Put(bucket, entryID, path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key(bucket, entryID, path)] = content
}

// Download writes the resource at (bucket, entryID, path) to destination
// on the local filesystem, creating parent directories as needed.
func (m *Memory) Download(bucket, entryID, destination, path string) error {
	content, err := m.Read(bucket, entryID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("resource: mkdir %s: %w", filepath.Dir(destination), err)
	}
	f, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("resource: create %s: %w", destination, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("resource: write %s: %w", destination, err)
	}
	return nil
}

// Read returns the raw bytes of the resource at (bucket, entryID, path). A
// missing entry is reported as a *taskgraph.StorageError so callers such as
// WorkflowContext.GetResource can detect it and fall through to another
// bucket.
func (m *Memory) Read(bucket, entryID, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.blobs[key(bucket, entryID, path)]
	if !ok {
		return nil, &taskgraph.StorageError{
			Op:    "read",
			Cause: fmt.Errorf("resource: no entry for bucket=%s id=%s path=%s", bucket, entryID, path),
		}
	}
	return content, nil
}

func key(bucket, entryID, path string) string {
	return bucket + "/" + entryID + "/" + path
}
