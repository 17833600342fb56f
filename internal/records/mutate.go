package records

import (
	"context"
	"errors"
	"reflect"
	"time"
)

// Outcome is the tagged result of a mutation function: leave the record
// alone, apply a partial update, or reject with a business-rule error.
type Outcome struct {
	update *RecordUpdate
	err    error
}

// NoChange leaves the record untouched.
func NoChange() Outcome {
	return Outcome{}
}

// Update applies the partial update through the merge engine.
func Update(update RecordUpdate) Outcome {
	return Outcome{update: &update}
}

// Reject aborts the mutation with the given error.
func Reject(err error) Outcome {
	return Outcome{err: err}
}

// MutationFunc computes a partial update from the current record. When no
// record exists yet, current is the zero value and exists is false.
type MutationFunc func(current DeviceRecord, exists bool, now time.Time) Outcome

// Coordinator wraps read -> compute -> merge -> write as a single retry
// unit. It is deliberately not a compare-and-swap: two concurrent
// mutations can both read the pre-update state and one delta can be lost.
// Monotonic fields (epoch, exhausted trial counters) are shaped so a lost
// write fails toward lower entitlement, never higher.
type Coordinator struct {
	store Store
	clock func() time.Time
}

// CoordinatorOption tweaks coordinator construction.
type CoordinatorOption func(*Coordinator)

// WithClock replaces the wall clock; tests use it to pin time.
func WithClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// NewCoordinator builds a mutation coordinator over the given store.
func NewCoordinator(store Store, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	coord := &Coordinator{store: store, clock: time.Now}
	for _, opt := range opts {
		opt(coord)
	}
	return coord, nil
}

// MutateOption tweaks a single Mutate call.
type MutateOption func(*mutateOptions)

type mutateOptions struct {
	eventTime int64
}

// WithEventTime folds an upstream event timestamp (unix seconds) into the
// updated_at normalization, so replayed webhook deliveries cannot move
// updated_at backwards.
func WithEventTime(unix int64) MutateOption {
	return func(o *mutateOptions) { o.eventTime = unix }
}

// Mutate loads the device record, runs fn, and persists the merged result
// when it differs from what was read. The merged record is returned in
// every non-error case, including NoChange.
func (c *Coordinator) Mutate(ctx context.Context, deviceHash string, fn MutationFunc, opts ...MutateOption) (DeviceRecord, error) {
	var options mutateOptions
	for _, opt := range opts {
		opt(&options)
	}

	current, err := c.store.GetDevice(ctx, deviceHash)
	if err != nil {
		return DeviceRecord{}, err
	}

	existing := DeviceRecord{DeviceHash: deviceHash}
	exists := current != nil
	if exists {
		existing = *current
	}

	now := c.clock().UTC()
	outcome := fn(existing, exists, now)
	if outcome.err != nil {
		return DeviceRecord{}, outcome.err
	}
	if outcome.update == nil {
		return existing, nil
	}

	update := *outcome.update
	nowUnix := now.Unix()
	updatedAt := maxInt64(nowUnix, existing.UpdatedAt, options.eventTime)
	if update.UpdatedAt != nil {
		updatedAt = maxInt64(updatedAt, *update.UpdatedAt)
	}
	update.UpdatedAt = Ptr(updatedAt)
	if update.Epoch != nil && *update.Epoch < existing.Epoch {
		update.Epoch = Ptr(existing.Epoch)
	}

	merged := Merge(existing, update)
	if merged.DeviceHash == "" {
		merged.DeviceHash = deviceHash
	}

	// Compare with updated_at held still so an update that changes nothing
	// else never produces a write; replayed events stay idempotent.
	compare := merged
	compare.UpdatedAt = existing.UpdatedAt
	if reflect.DeepEqual(compare, existing) {
		return existing, nil
	}
	if err := c.store.PutDevice(ctx, deviceHash, merged); err != nil {
		return DeviceRecord{}, err
	}
	return merged, nil
}

// Store exposes the underlying record store for callers that need direct
// reads or the revocation surface.
func (c *Coordinator) Store() Store {
	return c.store
}

func maxInt64(values ...int64) int64 {
	var max int64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}
