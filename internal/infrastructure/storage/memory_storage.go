package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	financeapp "github.com/erp/fiscal/internal/application/finance"
)

// Ensure MemoryArtifactStore implements ArtifactStore
var _ financeapp.ArtifactStore = (*MemoryArtifactStore)(nil)

// MemoryArtifactStore keeps artifacts in process memory.
// Use it for development and tests; contents are lost on restart.
type MemoryArtifactStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryArtifactStore creates an empty MemoryArtifactStore
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{objects: make(map[string]memoryObject)}
}

func memoryKey(bucket, key string) string {
	return bucket + "::" + key
}

// Upload stores a copy of data under a new ObjectKey
func (s *MemoryArtifactStore) Upload(ctx context.Context, bucket, scopeID, filename string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := ObjectKey(scopeID, filename)
	if err != nil {
		return "", err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[memoryKey(bucket, key)] = memoryObject{data: buf, contentType: contentType}
	s.mu.Unlock()
	return key, nil
}

// Delete removes an object. Deleting a missing key succeeds.
func (s *MemoryArtifactStore) Delete(ctx context.Context, bucket, key string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	s.mu.Lock()
	delete(s.objects, memoryKey(bucket, key))
	s.mu.Unlock()
	return nil
}

// Get returns the stored bytes and content type
func (s *MemoryArtifactStore) Get(bucket, key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[memoryKey(bucket, key)]
	return obj.data, obj.contentType, ok
}

// Keys lists the stored keys of a bucket in sorted order
func (s *MemoryArtifactStore) Keys(bucket string) []string {
	prefix := memoryKey(bucket, "")
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			keys = append(keys, rest)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
