package stripe

import (
	"context"
	"testing"

	"github.com/pulsarhq/licensing-backend/pkg/config"
)

func TestNewClientRejectsMismatchedKey(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{
		APIKey: "sk_live_abc",
		Secret: "whsec_x",
		Env:    "test",
	}, nil)
	if err == nil {
		t.Fatalf("expected error for live key in test env")
	}
}

func TestNewClientRequiresWebhookSecret(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{
		APIKey: "sk_test_abc",
		Env:    "test",
	}, nil)
	if err != errSecretRequired {
		t.Fatalf("expected secret required error, got %v", err)
	}
}

func TestNewClientHappyPath(t *testing.T) {
	c, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:              "sk_test_abc",
		Secret:              "whsec_x",
		Env:                 "test",
		SubscriptionPriceID: "price_1",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Environment() != "test" || c.SigningSecret() != "whsec_x" || c.SubscriptionPriceID() != "price_1" {
		t.Fatalf("client fields not populated")
	}
}
