// Package memstore is an in-memory storage.Operate fake used by tests; it
// never touches the network.
package memstore

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Store holds remote file contents keyed by resolved path.
type Store struct {
	mu    sync.Mutex
	files map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{files: make(map[string][]byte)}
}

// Put seeds content for a (tenantCode, fullName) pair, as if it had already
// been uploaded to the object store.
func (s *Store) Put(tenantCode, fullName string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[s.ResolveResourcePath(tenantCode, fullName)] = content
}

func (s *Store) ResolveResourcePath(tenantCode, fullName string) string {
	return fmt.Sprintf("/%s/resources/%s", tenantCode, fullName)
}

func (s *Store) Download(_ context.Context, tenantCode, remotePath, localPath string, _, overwrite bool) error {
	s.mu.Lock()
	content, ok := s.files[remotePath]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("memstore: no such object %s (tenant %s)", remotePath, tenantCode)
	}

	if !overwrite {
		if _, err := os.Stat(localPath); err == nil {
			return fmt.Errorf("memstore: %s already exists and overwrite=false", localPath)
		}
	}

	return os.WriteFile(localPath, content, 0o644)
}
