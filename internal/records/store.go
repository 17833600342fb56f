package records

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
	"github.com/pulsarhq/licensing-backend/pkg/redis"
)

// Store is the typed persistence surface over the key-value backend. A
// missing record is (nil, nil), not an error. The backend is eventually
// consistent: a write is not guaranteed visible to an immediately
// following read.
type Store interface {
	GetDevice(ctx context.Context, deviceHash string) (*DeviceRecord, error)
	PutDevice(ctx context.Context, deviceHash string, record DeviceRecord) error
	DeleteDevice(ctx context.Context, deviceHash string) error
	ListDevices(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error)

	GetLegacy(ctx context.Context, userID string) (*DeviceRecord, error)
	GetLegacyMapping(ctx context.Context, userID string) (string, error)
	PutLegacyMapping(ctx context.Context, userID, deviceHash string) error

	GetCustomerMapping(ctx context.Context, customerID string) (string, error)
	PutCustomerMapping(ctx context.Context, customerID, deviceHash string) error

	MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type redisStore struct {
	client *redis.Client
}

// NewStore builds the redis-backed record store.
func NewStore(client *redis.Client) (Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &redisStore{client: client}, nil
}

func (s *redisStore) GetDevice(ctx context.Context, deviceHash string) (*DeviceRecord, error) {
	return s.getRecord(ctx, s.client.DeviceKey(deviceHash))
}

func (s *redisStore) PutDevice(ctx context.Context, deviceHash string, record DeviceRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode device record")
	}
	if err := s.client.Set(ctx, s.client.DeviceKey(deviceHash), payload, 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "write device record")
	}
	return nil
}

func (s *redisStore) DeleteDevice(ctx context.Context, deviceHash string) error {
	if err := s.client.Del(ctx, s.client.DeviceKey(deviceHash)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "delete device record")
	}
	return nil
}

func (s *redisStore) ListDevices(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	keys, next, err := s.client.Scan(ctx, cursor, s.client.DevicePattern(), count)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "scan device records")
	}
	return keys, next, nil
}

func (s *redisStore) GetLegacy(ctx context.Context, userID string) (*DeviceRecord, error) {
	return s.getRecord(ctx, s.client.LegacyUserKey(userID))
}

func (s *redisStore) GetLegacyMapping(ctx context.Context, userID string) (string, error) {
	return s.getMapping(ctx, s.client.LegacyMappingKey(userID))
}

func (s *redisStore) PutLegacyMapping(ctx context.Context, userID, deviceHash string) error {
	if err := s.client.Set(ctx, s.client.LegacyMappingKey(userID), deviceHash, 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "write legacy mapping")
	}
	return nil
}

func (s *redisStore) GetCustomerMapping(ctx context.Context, customerID string) (string, error) {
	return s.getMapping(ctx, s.client.CustomerMappingKey(customerID))
}

func (s *redisStore) PutCustomerMapping(ctx context.Context, customerID, deviceHash string) error {
	if err := s.client.Set(ctx, s.client.CustomerMappingKey(customerID), deviceHash, 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "write customer mapping")
	}
	return nil
}

func (s *redisStore) MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Token is already past its expiry; nothing worth storing.
		return nil
	}
	if err := s.client.Set(ctx, s.client.RevokedTokenKey(jti), "1", ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "write revocation entry")
	}
	return nil
}

func (s *redisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	revoked, err := s.client.Exists(ctx, s.client.RevokedTokenKey(jti))
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "check revocation entry")
	}
	return revoked, nil
}

// getRecord normalizes stored JSON into the canonical record shape;
// unknown fields are dropped, missing sub-objects stay nil.
func (s *redisStore) getRecord(ctx context.Context, key string) (*DeviceRecord, error) {
	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "read record")
	}
	var record DeviceRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode record")
	}
	return &record, nil
}

func (s *redisStore) getMapping(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeKVUnavailable, err, "read mapping")
	}
	return value, nil
}
