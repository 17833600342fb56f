package records

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development.
// It is strongly consistent, unlike the redis-backed store in production.
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[string]DeviceRecord
	legacy    map[string]DeviceRecord
	legacyMap map[string]string
	customers map[string]string
	revoked   map[string]time.Time

	clock func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   map[string]DeviceRecord{},
		legacy:    map[string]DeviceRecord{},
		legacyMap: map[string]string{},
		customers: map[string]string{},
		revoked:   map[string]time.Time{},
		clock:     time.Now,
	}
}

func (m *MemoryStore) GetDevice(_ context.Context, hash string) (*DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.devices[hash]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (m *MemoryStore) PutDevice(_ context.Context, hash string, rec DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[hash] = rec
	return nil
}

func (m *MemoryStore) DeleteDevice(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, hash)
	return nil
}

func (m *MemoryStore) ListDevices(_ context.Context, _ uint64, _ int64) ([]string, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.devices))
	for k := range m.devices {
		keys = append(keys, k)
	}
	return keys, 0, nil
}

func (m *MemoryStore) GetLegacy(_ context.Context, id string) (*DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.legacy[id]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

// SeedLegacy installs a legacy-keyed record, mimicking data written by the
// pre-device-hash generation of the service.
func (m *MemoryStore) SeedLegacy(id string, rec DeviceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacy[id] = rec
}

func (m *MemoryStore) GetLegacyMapping(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.legacyMap[id], nil
}

func (m *MemoryStore) PutLegacyMapping(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacyMap[id] = hash
	return nil
}

func (m *MemoryStore) GetCustomerMapping(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.customers[id], nil
}

func (m *MemoryStore) PutCustomerMapping(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[id] = hash
	return nil
}

func (m *MemoryStore) MarkRevoked(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = m.clock().Add(ttl)
	return nil
}

func (m *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.revoked[jti]
	return ok && m.clock().Before(until), nil
}
