package records

import (
	"context"
	"time"
)

// fakeStore is an in-memory Store for coordinator and resolver tests.
type fakeStore struct {
	devices   map[string]DeviceRecord
	legacy    map[string]DeviceRecord
	legacyMap map[string]string
	customers map[string]string
	revoked   map[string]bool

	putDeviceCalls int
	failGet        error
	failPut        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:   map[string]DeviceRecord{},
		legacy:    map[string]DeviceRecord{},
		legacyMap: map[string]string{},
		customers: map[string]string{},
		revoked:   map[string]bool{},
	}
}

func (f *fakeStore) GetDevice(_ context.Context, hash string) (*DeviceRecord, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	rec, ok := f.devices[hash]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (f *fakeStore) PutDevice(_ context.Context, hash string, rec DeviceRecord) error {
	if f.failPut != nil {
		return f.failPut
	}
	f.putDeviceCalls++
	f.devices[hash] = rec
	return nil
}

func (f *fakeStore) DeleteDevice(_ context.Context, hash string) error {
	delete(f.devices, hash)
	return nil
}

func (f *fakeStore) ListDevices(_ context.Context, _ uint64, _ int64) ([]string, uint64, error) {
	keys := make([]string, 0, len(f.devices))
	for k := range f.devices {
		keys = append(keys, k)
	}
	return keys, 0, nil
}

func (f *fakeStore) GetLegacy(_ context.Context, id string) (*DeviceRecord, error) {
	rec, ok := f.legacy[id]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (f *fakeStore) GetLegacyMapping(_ context.Context, id string) (string, error) {
	return f.legacyMap[id], nil
}

func (f *fakeStore) PutLegacyMapping(_ context.Context, id, hash string) error {
	f.legacyMap[id] = hash
	return nil
}

func (f *fakeStore) GetCustomerMapping(_ context.Context, id string) (string, error) {
	return f.customers[id], nil
}

func (f *fakeStore) PutCustomerMapping(_ context.Context, id, hash string) error {
	f.customers[id] = hash
	return nil
}

func (f *fakeStore) MarkRevoked(_ context.Context, jti string, _ time.Duration) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}
