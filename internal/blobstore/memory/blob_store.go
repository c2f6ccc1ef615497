// Package memory contains an in-memory blob store for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Object captures one stored artifact.
type Object struct {
	Path        string
	ContentType string
	Data        []byte
}

// BlobStore stores objects in a map for inspection.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// New returns an empty memory blob store.
func New() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject records the object and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{Path: path, ContentType: contentType, Data: append([]byte(nil), data...)}
	return "mem://" + path, nil
}

// Object returns the stored object at path.
func (s *BlobStore) Object(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
