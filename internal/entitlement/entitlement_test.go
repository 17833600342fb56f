package entitlement

import (
	"testing"
	"time"

	"github.com/pulsarhq/licensing-backend/internal/records"
)

func TestIsEntitled(t *testing.T) {
	now := time.Unix(10000, 0)

	tests := []struct {
		name      string
		status    string
		periodEnd *int64
		want      bool
	}{
		{"active with future period end", "active", records.Ptr(int64(13600)), true},
		{"active with past period end", "active", records.Ptr(int64(9940)), false},
		{"active without period end", "active", nil, false},
		{"canceled with future period end", "canceled", records.Ptr(int64(13600)), false},
		{"trialing without period end", "trialing", nil, true},
		{"trialing with future period end", "trialing", records.Ptr(int64(13600)), true},
		{"trialing with past period end", "trialing", records.Ptr(int64(9940)), false},
		{"mixed case status", "Active", records.Ptr(int64(13600)), true},
		{"empty status", "", nil, false},
		{"past due", "past_due", records.Ptr(int64(13600)), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsEntitled(tc.status, tc.periodEnd, now); got != tc.want {
				t.Fatalf("IsEntitled(%q, %v) = %v, want %v", tc.status, tc.periodEnd, got, tc.want)
			}
		})
	}
}

func TestClaimTokenRoundTrip(t *testing.T) {
	encoded, err := EncodeClaimToken("jti-1", 9999)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	token, err := DecodeClaimToken(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !token.Trial || token.JTI != "jti-1" || token.Exp != 9999 {
		t.Fatalf("unexpected token: %+v", token)
	}
}

func TestDecodeClaimTokenRejectsGarbage(t *testing.T) {
	for _, encoded := range []string{"", "not-base64!", "bm90IGpzb24", "e30"} {
		if _, err := DecodeClaimToken(encoded); err == nil {
			t.Fatalf("expected decode failure for %q", encoded)
		}
	}
}
