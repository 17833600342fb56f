package redis

import (
	"testing"

	"github.com/pulsarhq/licensing-backend/pkg/config"
)

func TestKeyBuilders(t *testing.T) {
	c := &Client{}
	cases := []struct {
		got  string
		want string
	}{
		{c.DeviceKey("abc123"), "lic:device:abc123"},
		{c.LegacyUserKey("u-9"), "lic:user:u-9"},
		{c.LegacyMappingKey("u-9"), "lic:legacy:u-9"},
		{c.CustomerMappingKey("cus_42"), "lic:customer:cus_42"},
		{c.RevokedTokenKey("jti-1"), "lic:revoked:jti-1"},
		{c.IdempotencyKey("stripe", "evt_1"), "lic:idempotency:stripe:evt_1"},
		{c.DevicePattern(), "lic:device:*"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, tc.got)
		}
	}
}

func TestKeyBuilderSkipsEmptyParts(t *testing.T) {
	c := &Client{}
	if got := c.buildKey(devicePrefix, ""); got != "lic:device" {
		t.Fatalf("expected empty part skipped, got %q", got)
	}
}

func TestOptionsFromConfigRequiresTarget(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error for missing url and address")
	}
}

func TestOptionsFromConfigUsesAddress(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 2, PoolSize: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 2 || opts.PoolSize != 5 {
		t.Fatalf("options not populated from config: %+v", opts)
	}
}
