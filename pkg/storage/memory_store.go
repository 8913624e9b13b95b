package storage

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryObjectStore keeps blobs in-process. It backs local development and
// the test suites that would otherwise need a MinIO instance.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string

	statCalls int
}

// NewMemoryObjectStore initializes an empty in-memory object store.
func NewMemoryObjectStore(baseURL string) *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (m *MemoryObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (m *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", ErrObjectNotFound
	}
	return obj.data, obj.contentType, nil
}

func (m *MemoryObjectStore) Stat(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statCalls++
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryObjectStore) List(_ context.Context, prefix string, max int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if max > 0 && len(keys) > max {
		keys = keys[:max]
	}
	return keys, nil
}

func (m *MemoryObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return m.PublicURL(key) + "?signed=1", nil
}

func (m *MemoryObjectStore) PublicURL(key string) string {
	return m.baseURL + "/" + key
}

// StatCalls reports how many existence probes were issued. Tests use it to
// bound the resolver's probe cost.
func (m *MemoryObjectStore) StatCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statCalls
}
