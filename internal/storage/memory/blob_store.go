package memory

import (
	"context"
	"fmt"
	"sync"
)

// Blob captures one uploaded object.
type Blob struct {
	ObjectName  string
	ContentType string
	Data        []byte
}

// BlobStore records uploads in memory and hands back mem:// URLs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
	// FailWith, when set, makes every Upload return this error. Used by
	// tests exercising the drop-on-downstream-failure path.
	FailWith error
}

// NewBlobStore constructs a BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

// Upload stores the bytes and returns a synthetic URL.
func (s *BlobStore) Upload(_ context.Context, objectName, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return "", s.FailWith
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[objectName] = Blob{ObjectName: objectName, ContentType: contentType, Data: cp}
	return fmt.Sprintf("mem://%s", objectName), nil
}

// Get returns a stored blob for inspection in tests.
func (s *BlobStore) Get(objectName string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[objectName]
	return b, ok
}

// Len reports the number of stored blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
