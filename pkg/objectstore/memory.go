package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"os"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and by any caller that
// wants to exercise the upload/backfill/ACS pipelines without a live GCS
// bucket. The CLI's buildStore also returns one when GCS is disabled.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[remotePath] = data
	return nil
}

func (m *MemoryStore) Head(_ context.Context, remotePath string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[remotePath]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	sum := md5.Sum(data)
	return ObjectInfo{MD5: base64.StdEncoding.EncodeToString(sum[:]), Size: int64(len(data))}, nil
}

func (m *MemoryStore) Move(_ context.Context, srcPath, dstPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcPath]
	if !ok {
		return ErrNotFound
	}
	m.objects[dstPath] = data
	delete(m.objects, srcPath)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Delete(_ context.Context, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[remotePath]; !ok {
		return ErrNotFound
	}
	delete(m.objects, remotePath)
	return nil
}
