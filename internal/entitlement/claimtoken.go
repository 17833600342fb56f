package entitlement

import (
	"encoding/base64"
	"encoding/json"

	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

// ClaimToken is the opaque redemption token handed out by Claim. It is
// base64url-encoded JSON, not signed: the stored jti/exp pair on the trial
// record is the integrity check when the token is redeemed.
type ClaimToken struct {
	Trial bool   `json:"trial"`
	JTI   string `json:"jti"`
	Exp   int64  `json:"exp"`
}

// EncodeClaimToken serializes a trial claim token.
func EncodeClaimToken(jti string, exp int64) (string, error) {
	raw, err := json.Marshal(ClaimToken{Trial: true, JTI: jti, Exp: exp})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding claim token")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeClaimToken parses a claim token, rejecting anything that is not a
// well-formed trial token.
func DecodeClaimToken(encoded string) (ClaimToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ClaimToken{}, pkgerrors.Wrap(pkgerrors.CodeInvalidToken, err, "decoding claim token")
	}
	var token ClaimToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return ClaimToken{}, pkgerrors.Wrap(pkgerrors.CodeInvalidToken, err, "parsing claim token")
	}
	if !token.Trial || token.JTI == "" {
		return ClaimToken{}, pkgerrors.New(pkgerrors.CodeInvalidToken, "not a trial claim token")
	}
	return token, nil
}
