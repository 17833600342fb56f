package license

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsarhq/licensing-backend/internal/entitlement"
	"github.com/pulsarhq/licensing-backend/internal/records"
	"github.com/pulsarhq/licensing-backend/internal/signing"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

const (
	TierTrial = "trial"
	TierPro   = "pro"
)

// IssueResult is the outcome of minting a license token.
type IssueResult struct {
	Token      string `json:"token"`
	ExpiresAt  int64  `json:"expires_at"`
	Tier       string `json:"tier"`
	DeviceHash string `json:"device_hash"`
	Epoch      int64  `json:"epoch"`
}

// ValidationResult is returned by Validate for a token that passed every
// check.
type ValidationResult struct {
	Valid   bool            `json:"valid"`
	License *signing.Claims `json:"license"`
}

// ServiceParams wires the license service dependencies.
type ServiceParams struct {
	Resolver *records.Resolver
	Store    records.Store
	Tokens   *signing.Service
	TokenTTL time.Duration
}

// Service issues and validates device-bound license tokens.
type Service struct {
	resolver *records.Resolver
	store    records.Store
	tokens   *signing.Service
	tokenTTL time.Duration
	clock    func() time.Time
}

// NewService validates the params and builds the license service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Resolver == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if params.TokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &Service{
		resolver: params.Resolver,
		store:    params.Store,
		tokens:   params.Tokens,
		tokenTTL: params.TokenTTL,
		clock:    time.Now,
	}, nil
}

// Issue resolves the identity, checks entitlement, and mints a short-lived
// token carrying the record's current epoch.
func (s *Service) Issue(ctx context.Context, deviceHash, legacyUserID string) (*IssueResult, error) {
	if deviceHash == "" && legacyUserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash or user_id is required")
	}

	res, err := s.resolver.Resolve(ctx, deviceHash, legacyUserID)
	if err != nil {
		return nil, err
	}
	if res.Record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotEntitled, "no entitlement found for this device")
	}

	now := s.clock()
	tier, ok := tierFor(*res.Record, now)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotEntitled, "device has neither an active subscription nor trial runs")
	}

	token, claims, err := s.tokens.Issue(signing.IssueParams{
		Email:      res.Record.Email,
		Tier:       tier,
		DeviceHash: res.DeviceHash,
		Epoch:      res.Record.Epoch,
		TTL:        s.tokenTTL,
	})
	if err != nil {
		return nil, err
	}

	return &IssueResult{
		Token:      token,
		ExpiresAt:  claims.ExpiresAt.Unix(),
		Tier:       tier,
		DeviceHash: res.DeviceHash,
		Epoch:      claims.Epoch,
	}, nil
}

// Validate verifies the token cryptographically, then re-checks the record
// it was issued against: a bumped epoch or lapsed entitlement rejects the
// token even though its signature and expiry are still good.
func (s *Service) Validate(ctx context.Context, token string) (*ValidationResult, error) {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	record, err := s.loadRecord(ctx, claims)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDeviceNotFound, "no record for the token's device")
	}

	if claims.Epoch < record.Epoch {
		return nil, pkgerrors.New(pkgerrors.CodeStaleEpoch, "token was issued before a security-relevant reassignment")
	}

	now := s.clock()
	if _, ok := tierFor(*record, now); !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotEntitled, "entitlement has lapsed since the token was issued")
	}

	return &ValidationResult{Valid: true, License: claims}, nil
}

// RevokeToken persists the token's jti so subsequent validations reject it.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

func (s *Service) loadRecord(ctx context.Context, claims *signing.Claims) (*records.DeviceRecord, error) {
	hash := claims.DeviceHash
	if hash == "" {
		hash = claims.Subject
	}
	record, err := s.store.GetDevice(ctx, hash)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	// Tokens minted against a legacy id before migration carry that id in
	// sub; resolve it the long way.
	if claims.Subject != "" && claims.Subject != hash {
		res, err := s.resolver.Resolve(ctx, "", claims.Subject)
		if err != nil {
			return nil, err
		}
		return res.Record, nil
	}
	res, err := s.resolver.Resolve(ctx, "", hash)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// tierFor derives the claim tier from the record. A live subscription wins
// over the trial counter.
func tierFor(record records.DeviceRecord, now time.Time) (string, bool) {
	if entitlement.IsEntitled(record.Status, record.CurrentPeriodEnd, now) {
		return TierPro, true
	}
	if record.Trial != nil && record.Trial.Remaining > 0 {
		return TierTrial, true
	}
	return "", false
}
