package config

import (
	"testing"
	"time"
)

func TestSigningConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     SigningConfig
		wantErr bool
	}{
		{"single key", SigningConfig{Key: "c2VlZA==", ActiveKid: "primary"}, false},
		{"key map", SigningConfig{Keys: `{"k1":"c2VlZA=="}`, ActiveKid: "k1"}, false},
		{"no material", SigningConfig{ActiveKid: "primary"}, true},
		{"blank kid", SigningConfig{Key: "c2VlZA==", ActiveKid: "  "}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLicenseTokenTTLDefaultsWhenNonPositive(t *testing.T) {
	l := LicenseConfig{ExpirationMinutes: 0}
	if l.TokenTTL() != 10*time.Minute {
		t.Fatalf("expected 10m default, got %s", l.TokenTTL())
	}
	l.ExpirationMinutes = 3
	if l.TokenTTL() != 3*time.Minute {
		t.Fatalf("expected 3m, got %s", l.TokenTTL())
	}
}

func TestStripeEnvironmentNormalizes(t *testing.T) {
	if (StripeConfig{Env: " LIVE "}).Environment() != "live" {
		t.Fatalf("expected live")
	}
	if (StripeConfig{}).Environment() != "test" {
		t.Fatalf("expected test default")
	}
}
