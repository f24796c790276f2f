package store

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used in development and tests. A
// single RWMutex guards the data; Update callbacks write into an overlay
// that is merged only when the callback succeeds, so a failed multi-write
// leaves nothing behind.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Get(collection, key string, dest interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[collection][key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

func (s *MemoryStore) Put(collection, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[collection] == nil {
		s.data[collection] = make(map[string][]byte)
	}
	s.data[collection][key] = raw
	return nil
}

func (s *MemoryStore) Delete(collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], key)
	return nil
}

func (s *MemoryStore) List(collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data[collection]))
	for k := range s.data[collection] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStore) Update(fn func(txn Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &memoryTxn{
		base:    s.data,
		writes:  make(map[string]map[string][]byte),
		deletes: make(map[string]map[string]bool),
	}
	if err := fn(txn); err != nil {
		return err
	}

	// Commit the overlay.
	for collection, keys := range txn.deletes {
		for key := range keys {
			delete(s.data[collection], key)
		}
	}
	for collection, keys := range txn.writes {
		if s.data[collection] == nil {
			s.data[collection] = make(map[string][]byte)
		}
		for key, raw := range keys {
			s.data[collection][key] = raw
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// memoryTxn overlays pending writes on the base map. The store lock is held
// for the whole Update call, so reads through the txn are consistent.
type memoryTxn struct {
	base    map[string]map[string][]byte
	writes  map[string]map[string][]byte
	deletes map[string]map[string]bool
}

func (t *memoryTxn) Get(collection, key string, dest interface{}) error {
	if t.deletes[collection][key] {
		return ErrNotFound
	}
	if raw, ok := t.writes[collection][key]; ok {
		return json.Unmarshal(raw, dest)
	}
	raw, ok := t.base[collection][key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

func (t *memoryTxn) Put(collection, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, key, err)
	}
	if t.writes[collection] == nil {
		t.writes[collection] = make(map[string][]byte)
	}
	t.writes[collection][key] = raw
	if t.deletes[collection] != nil {
		delete(t.deletes[collection], key)
	}
	return nil
}

func (t *memoryTxn) Delete(collection, key string) error {
	if t.deletes[collection] == nil {
		t.deletes[collection] = make(map[string]bool)
	}
	t.deletes[collection][key] = true
	if t.writes[collection] != nil {
		delete(t.writes[collection], key)
	}
	return nil
}
