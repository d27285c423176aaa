package securenote

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidateDefaultsPass(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }, "session TTL"},
		{"huge leeway", func(c *Config) { c.Session.Leeway = 5 * time.Minute }, "leeway"},
		{"bad signing method", func(c *Config) { c.Session.SigningMethod = "none" }, "signing method"},
		{"missing signing key", func(c *Config) { c.Session.PrivateKey = nil }, "signing key"},
		{"zero pending ttl", func(c *Config) { c.PendingToken.TTL = 0 }, "pending token TTL"},
		{"huge pending ttl", func(c *Config) { c.PendingToken.TTL = time.Hour }, "pending token TTL"},
		{"empty pending prefix", func(c *Config) { c.PendingToken.RedisPrefix = "" }, "prefix"},
		{"too few digits", func(c *Config) { c.TOTP.Digits = 4 }, "digits"},
		{"zero period", func(c *Config) { c.TOTP.Period = 0 }, "period"},
		{"wild skew", func(c *Config) { c.TOTP.Skew = 5 }, "skew"},
		{"zero confirm ttl", func(c *Config) { c.Verification.ConfirmTTL = 0 }, "confirm TTL"},
		{"weak rsa", func(c *Config) { c.Envelope.RSABits = 1024 }, "RSA"},
		{"bad audit buffer", func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 }, "audit buffer"},
		{"bad mail buffer", func(c *Config) { c.Mail.BufferSize = 0 }, "mail buffer"},
	}

	for _, tc := range cases {
		cfg := testConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected Build to fail without collaborators")
	}

	cfg := testConfig()
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected Build to fail without redis and providers")
	}
}

func TestConfigCloneIsolatesKeyMaterial(t *testing.T) {
	cfg := testConfig()
	clone := cloneConfig(cfg)
	clone.Session.PrivateKey[0] ^= 0xff
	if cfg.Session.PrivateKey[0] == clone.Session.PrivateKey[0] {
		t.Fatal("expected cloned key material to be independent")
	}
}
