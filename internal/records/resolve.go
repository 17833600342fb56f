package records

import (
	"context"
	"errors"
	"strings"
)

// Resolution is the outcome of mapping an inbound identity to a canonical
// device record. A nil Record with an empty DeviceHash means no identity
// was supplied at all; callers must treat that as "identity required"
// rather than "not found" so existing identifiers are not leaked.
type Resolution struct {
	DeviceHash       string
	Record           *DeviceRecord
	MappedFromLegacy bool
}

// Resolver maps device hashes and legacy user ids to canonical records,
// migrating legacy-keyed records into the device-keyed scheme on read.
type Resolver struct {
	store Store
}

// NewResolver builds an identity resolver over the given store.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	return &Resolver{store: store}, nil
}

// Resolve finds the canonical record for the supplied identifiers.
func (r *Resolver) Resolve(ctx context.Context, deviceHash, legacyUserID string) (Resolution, error) {
	deviceHash = strings.TrimSpace(deviceHash)
	legacyUserID = strings.TrimSpace(legacyUserID)

	if deviceHash != "" {
		record, err := r.store.GetDevice(ctx, deviceHash)
		if err != nil {
			return Resolution{}, err
		}
		if legacyUserID != "" {
			// Opportunistic link so future legacy-only lookups resolve
			// directly; failure here must not fail the request.
			_ = r.store.PutLegacyMapping(ctx, legacyUserID, deviceHash)
		}
		return Resolution{DeviceHash: deviceHash, Record: record}, nil
	}

	if legacyUserID == "" {
		return Resolution{}, nil
	}

	mapped, err := r.store.GetLegacyMapping(ctx, legacyUserID)
	if err != nil {
		return Resolution{}, err
	}
	if mapped != "" {
		record, err := r.store.GetDevice(ctx, mapped)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{DeviceHash: mapped, Record: record, MappedFromLegacy: true}, nil
	}

	legacy, err := r.store.GetLegacy(ctx, legacyUserID)
	if err != nil {
		return Resolution{}, err
	}
	if legacy == nil {
		return Resolution{DeviceHash: "", Record: nil, MappedFromLegacy: true}, nil
	}

	// Migrate the legacy record into the device-keyed scheme so future
	// reads hit the canonical key.
	hash := legacy.DeviceHash
	if hash == "" {
		hash = legacyUserID
		legacy.DeviceHash = hash
	}
	if err := r.store.PutDevice(ctx, hash, *legacy); err != nil {
		return Resolution{}, err
	}
	if err := r.store.PutLegacyMapping(ctx, legacyUserID, hash); err != nil {
		return Resolution{}, err
	}
	return Resolution{DeviceHash: hash, Record: legacy, MappedFromLegacy: true}, nil
}
