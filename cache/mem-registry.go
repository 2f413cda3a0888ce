package cache

import (
	"context"
	"sort"
	"sync"
)

// MemRegistry is a Registry kept in process memory.
// Nothing survives a restart; useful for tests and ephemeral deployments.
type MemRegistry struct {
	mutex  *sync.RWMutex
	stores map[string]map[string]Entry
}

var _ Registry = MemRegistry{}

func NewMemRegistry() MemRegistry {
	return MemRegistry{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]map[string]Entry),
	}
}

func (m MemRegistry) Open(_ context.Context, store string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.open(store)
	return nil
}

func (m MemRegistry) open(store string) map[string]Entry {
	s, ok := m.stores[store]
	if !ok {
		s = make(map[string]Entry)
		m.stores[store] = s
	}
	return s
}

func (m MemRegistry) Names(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemRegistry) Match(_ context.Context, store, key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.stores[store][key]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(entry), true, nil
}

func (m MemRegistry) Put(ctx context.Context, store string, entry Entry) error {
	return m.PutAll(ctx, store, []Entry{entry})
}

func (m MemRegistry) PutAll(_ context.Context, store string, entries []Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s := m.open(store)
	for _, e := range entries {
		s[e.Key] = copyEntry(e)
	}
	return nil
}

func (m MemRegistry) Keys(_ context.Context, store string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.stores[store]))
	for key := range m.stores[store] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemRegistry) Len(_ context.Context, store string) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.stores[store]), nil
}

func (m MemRegistry) Delete(_ context.Context, store string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.stores[store]
	delete(m.stores, store)
	return ok, nil
}

func (m MemRegistry) Close() error {
	return nil
}

func copyEntry(e Entry) Entry {
	e.Bytes = append([]byte(nil), e.Bytes...)
	return e
}
