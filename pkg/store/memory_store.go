package store

import (
	"encoding/json"
	"sort"
	"sync"

	"promptvault/pkg/domain"
)

// MemoryStore keeps records in-process. It backs local development and the
// test suites that would otherwise need a Postgres instance.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.Record
	order   []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.Record)}
}

// SaveRecord stores a record and tracks insertion order.
func (m *MemoryStore) SaveRecord(rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; !exists {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = rec
	return nil
}

// GetRecord retrieves a record by ID.
func (m *MemoryStore) GetRecord(id string) (domain.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

// ListRecords returns records ordered by creation time, newest first.
// Insertion order breaks ties the same way the SQL store leaves them.
func (m *MemoryStore) ListRecords() ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Record, 0, len(m.order))
	for _, id := range m.order {
		if rec, ok := m.records[id]; ok {
			res = append(res, rec)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// UpdateRecord applies whitelisted column values.
func (m *MemoryStore) UpdateRecord(id string, fields map[string]any) (domain.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.Record{}, false, nil
	}
	for col, value := range fields {
		switch col {
		case "prompt":
			if s, ok := value.(string); ok {
				rec.Prompt = s
			}
		case "result":
			if raw, ok := value.(json.RawMessage); ok {
				rec.Result = raw
			}
		}
	}
	m.records[id] = rec
	return rec, true, nil
}

// DeleteRecord removes a record, reporting whether it existed.
func (m *MemoryStore) DeleteRecord(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return true, nil
}
