package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsarhq/licensing-backend/internal/records"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

// TrialServiceParams wires the trial engine dependencies.
type TrialServiceParams struct {
	Coordinator      *records.Coordinator
	DefaultAllowance int
	ClaimTokenTTL    time.Duration
}

// TrialService runs the trial state machine. Every step goes through the
// mutation coordinator so concurrent subscription updates merge safely.
type TrialService struct {
	coordinator      *records.Coordinator
	defaultAllowance int
	claimTokenTTL    time.Duration
}

// NewTrialService validates the params and builds the trial engine.
func NewTrialService(params TrialServiceParams) (*TrialService, error) {
	if params.Coordinator == nil {
		return nil, fmt.Errorf("mutation coordinator is required")
	}
	if params.DefaultAllowance < 0 {
		return nil, fmt.Errorf("default allowance must not be negative")
	}
	if params.ClaimTokenTTL <= 0 {
		return nil, fmt.Errorf("claim token ttl must be positive")
	}
	return &TrialService{
		coordinator:      params.Coordinator,
		defaultAllowance: params.DefaultAllowance,
		claimTokenTTL:    params.ClaimTokenTTL,
	}, nil
}

// Start materializes a fresh trial for the device if none exists. It is
// idempotent: an existing trial is returned as-is, never extended.
func (s *TrialService) Start(ctx context.Context, deviceHash string) (records.TrialState, error) {
	if deviceHash == "" {
		return records.TrialState{}, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device hash is required")
	}

	merged, err := s.coordinator.Mutate(ctx, deviceHash, func(current records.DeviceRecord, _ bool, now time.Time) records.Outcome {
		if current.Trial != nil {
			return records.NoChange()
		}
		return records.Update(records.RecordUpdate{
			Trial: s.freshTrial(now),
		})
	})
	if err != nil {
		return records.TrialState{}, err
	}
	return derefTrial(merged.Trial), nil
}

// Claim reserves a single trial run and returns a short-lived one-time
// redemption token. The trial is pinned to the claiming device.
func (s *TrialService) Claim(ctx context.Context, deviceHash string) (string, records.TrialState, error) {
	if deviceHash == "" {
		return "", records.TrialState{}, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device hash is required")
	}

	merged, err := s.coordinator.Mutate(ctx, deviceHash, func(current records.DeviceRecord, _ bool, now time.Time) records.Outcome {
		if IsEntitled(current.Status, current.CurrentPeriodEnd, now) {
			return records.Reject(pkgerrors.New(pkgerrors.CodeDeviceConflict, "device is already entitled through a subscription"))
		}

		trial := current.Trial
		if trial == nil {
			if current.HasSubscriptionHistory() {
				return records.Reject(pkgerrors.New(pkgerrors.CodeTrialExhausted, "trial foreclosed by subscription history"))
			}
			trial = s.freshTrial(now)
		}
		if trial.DeviceHash != "" && trial.DeviceHash != deviceHash {
			return records.Reject(pkgerrors.New(pkgerrors.CodeDeviceConflict, "trial is pinned to a different device"))
		}
		if trial.Allowed <= 0 || trial.Remaining <= 0 {
			return records.Reject(pkgerrors.New(pkgerrors.CodeTrialExhausted, "no trial runs remaining"))
		}

		next := *trial
		next.JTI = uuid.NewString()
		next.Exp = now.Add(s.claimTokenTTL).Unix()
		next.DeviceHash = deviceHash
		if next.Started == nil {
			next.Started = records.Ptr(now.Unix())
		}
		return records.Update(records.RecordUpdate{Trial: &next})
	})
	if err != nil {
		return "", records.TrialState{}, err
	}

	state := derefTrial(merged.Trial)
	token, err := EncodeClaimToken(state.JTI, state.Exp)
	if err != nil {
		return "", records.TrialState{}, err
	}
	return token, state, nil
}

// Consume redeems a claim token, decrementing the trial counter exactly
// once. The stored jti/exp are cleared so a retried consume with the same
// token fails instead of double-decrementing.
func (s *TrialService) Consume(ctx context.Context, deviceHash, encoded string) (records.TrialState, error) {
	if deviceHash == "" {
		return records.TrialState{}, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device hash is required")
	}
	token, err := DecodeClaimToken(encoded)
	if err != nil {
		return records.TrialState{}, err
	}

	merged, err := s.coordinator.Mutate(ctx, deviceHash, func(current records.DeviceRecord, _ bool, now time.Time) records.Outcome {
		if IsEntitled(current.Status, current.CurrentPeriodEnd, now) {
			return records.Reject(pkgerrors.New(pkgerrors.CodeDeviceConflict, "device is already entitled through a subscription"))
		}

		trial := current.Trial
		if trial == nil {
			return records.Reject(pkgerrors.New(pkgerrors.CodeInvalidToken, "no trial exists for this device"))
		}
		if trial.DeviceHash != "" && trial.DeviceHash != deviceHash {
			return records.Reject(pkgerrors.New(pkgerrors.CodeDeviceConflict, "trial is pinned to a different device"))
		}
		if trial.JTI == "" || trial.JTI != token.JTI || trial.Exp != token.Exp {
			return records.Reject(pkgerrors.New(pkgerrors.CodeInvalidToken, "claim token does not match the pending claim"))
		}
		if trial.Exp <= now.Unix() {
			return records.Reject(pkgerrors.New(pkgerrors.CodeTokenExpired, "claim token has expired"))
		}
		if trial.Remaining <= 0 {
			return records.Reject(pkgerrors.New(pkgerrors.CodeTrialExhausted, "no trial runs remaining"))
		}

		next := *trial
		next.Remaining--
		next.UsedAt = records.Ptr(now.Unix())
		next.JTI = ""
		next.Exp = 0
		return records.Update(records.RecordUpdate{Trial: &next})
	})
	if err != nil {
		return records.TrialState{}, err
	}
	return derefTrial(merged.Trial), nil
}

func (s *TrialService) freshTrial(now time.Time) *records.TrialState {
	return &records.TrialState{
		Allowed:   s.defaultAllowance,
		Total:     s.defaultAllowance,
		Remaining: s.defaultAllowance,
		Started:   records.Ptr(now.Unix()),
	}
}

func derefTrial(trial *records.TrialState) records.TrialState {
	if trial == nil {
		return records.TrialState{}
	}
	return *trial
}
