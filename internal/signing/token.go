package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

var jwtSigningMethod = jwt.SigningMethodEdDSA

// Claims is the typed payload of an issued license token.
type Claims struct {
	Email      string `json:"email,omitempty"`
	Tier       string `json:"tier"`
	DeviceHash string `json:"device_hash"`
	Epoch      int64  `json:"epoch"`
	jwt.RegisteredClaims
}

// RevocationStore persists revoked token ids until they would have expired.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// IssueParams captures the data available when minting a license token.
type IssueParams struct {
	Email      string
	Tier       string
	DeviceHash string
	Epoch      int64
	TTL        time.Duration
}

// ServiceParams wires the token service dependencies.
type ServiceParams struct {
	Keys       *KeyStore
	Revocation RevocationStore
	Issuer     string
}

// Service mints and verifies Ed25519 license tokens.
type Service struct {
	keys       *KeyStore
	revocation RevocationStore
	issuer     string
	clock      func() time.Time
}

// NewService validates the params and builds the token service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Keys == nil {
		return nil, fmt.Errorf("key store is required")
	}
	if params.Revocation == nil {
		return nil, fmt.Errorf("revocation store is required")
	}
	if params.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	return &Service{
		keys:       params.Keys,
		revocation: params.Revocation,
		issuer:     params.Issuer,
		clock:      time.Now,
	}, nil
}

// Issue mints a signed token bound to the given device and epoch.
func (s *Service) Issue(params IssueParams) (string, *Claims, error) {
	if params.DeviceHash == "" {
		return "", nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device hash is required")
	}
	if params.Tier == "" {
		return "", nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "tier is required")
	}
	if params.TTL <= 0 {
		return "", nil, pkgerrors.New(pkgerrors.CodeSigningUnavailable, "token ttl must be positive")
	}

	now := s.clock()
	claims := &Claims{
		Email:      params.Email,
		Tier:       params.Tier,
		DeviceHash: params.DeviceHash,
		Epoch:      params.Epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   params.DeviceHash,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(params.TTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	token.Header["kid"] = s.keys.ActiveKid()
	signed, err := token.SignedString(s.keys.Signer())
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeSigningUnavailable, err, "signing license token")
	}
	return signed, claims, nil
}

// Verify checks the signature, expiry, and revocation state of a token.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		s.keyfunc,
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	if claims.ID != "" {
		revoked, err := s.revocation.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, pkgerrors.New(pkgerrors.CodeTokenRevoked, "token has been revoked")
		}
	}
	return claims, nil
}

// Revoke records the token id so later Verify calls reject it. Tokens
// already past expiry are dropped without touching the store.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithoutClaimsValidation(),
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
	)
	if _, err := parser.ParseWithClaims(tokenString, claims, s.keyfunc); err != nil {
		return classifyParseError(err)
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return pkgerrors.New(pkgerrors.CodeInvalidToken, "token has no id or expiry")
	}

	remaining := claims.ExpiresAt.Time.Sub(s.clock())
	if remaining <= 0 {
		return nil
	}
	return s.revocation.MarkRevoked(ctx, claims.ID, remaining)
}

func (s *Service) keyfunc(token *jwt.Token) (interface{}, error) {
	if token.Method != jwtSigningMethod {
		return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		kid = s.keys.ActiveKid()
	}
	public, ok := s.keys.Public(kid)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnknownKey, fmt.Sprintf("no key registered for kid %q", kid))
	}
	return public, nil
}

func classifyParseError(err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return pkgerrors.Wrap(pkgerrors.CodeTokenExpired, err, "token has expired")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInvalidToken, err, "token is invalid")
}
