package securenote

import (
	"errors"
	"time"
)

// Config groups every tunable of the engine. Zero values are filled from
// defaultConfig by the Builder; Validate runs once at Build time.
type Config struct {
	Session      SessionTokenConfig
	PendingToken PendingTokenConfig
	TOTP         TOTPConfig
	Password     PasswordConfig
	Verification VerificationConfig
	Envelope     EnvelopeConfig
	Audit        AuditConfig
	Mail         MailConfig
	Metrics      MetricsConfig
}

/*
====================================
SESSION TOKEN CONFIG
====================================
*/

// SessionTokenConfig controls the signed bearer credential issued at the end
// of a successful login. Tokens are stateless: revocation before expiry only
// happens through account-version advancement (password or role change)
// checked in strict validation.
type SessionTokenConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
PENDING TOKEN CONFIG
====================================
*/

// PendingTokenConfig controls the short-lived single-use token bridging
// password validation and second-factor completion.
type PendingTokenConfig struct {
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls the time-based second factor.
type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Skew                    int // accepted step drift on each side
	Algorithm               string
	EnforceReplayProtection bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries argon2id parameters. Memory is in KB.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig controls the identity-verification workflow and its
// one-time email confirmation tokens.
type VerificationConfig struct {
	ConfirmTTL  time.Duration
	RedisPrefix string
}

/*
====================================
ENVELOPE CONFIG
====================================
*/

// EnvelopeConfig controls per-identity keypair generation at registration.
type EnvelopeConfig struct {
	RSABits int
}

/*
====================================
AUDIT / MAIL / METRICS CONFIG
====================================
*/

// AuditConfig controls the security-log dispatcher. When DropIfFull is set,
// events beyond BufferSize are counted and discarded instead of blocking the
// calling operation.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MailConfig controls the asynchronous mailer dispatcher. Delivery is
// best-effort: a send failure never rolls back the state transition that
// triggered it.
type MailConfig struct {
	Enabled    bool
	BufferSize int
}

// MetricsConfig enables the in-process counter registry.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Session: SessionTokenConfig{
			TTL:           1 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "securenote",
			Leeway:        30 * time.Second,
		},
		PendingToken: PendingTokenConfig{
			TTL:         5 * time.Minute,
			RedisPrefix: "snp",
		},
		TOTP: TOTPConfig{
			Issuer:                  "SecureNote",
			Digits:                  6,
			Period:                  30,
			Skew:                    1,
			Algorithm:               "SHA1",
			EnforceReplayProtection: true,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Verification: VerificationConfig{
			ConfirmTTL:  24 * time.Hour,
			RedisPrefix: "snv",
		},
		Envelope: EnvelopeConfig{
			RSABits: 2048,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Mail: MailConfig{
			Enabled:    true,
			BufferSize: 64,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Validate rejects configurations the engine cannot run safely with. Called
// by Builder.Build before any collaborator is touched.
func (c *Config) Validate() error {
	if c.Session.TTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("session leeway out of range")
	}
	switch c.Session.SigningMethod {
	case "hs256", "ed25519":
	default:
		return errors.New("unsupported session signing method")
	}
	if len(c.Session.PrivateKey) == 0 {
		return errors.New("session signing key is required")
	}
	if c.PendingToken.TTL <= 0 || c.PendingToken.TTL > 30*time.Minute {
		return errors.New("pending token TTL must be within (0s, 30m]")
	}
	if c.PendingToken.RedisPrefix == "" {
		return errors.New("pending token redis prefix is required")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("totp digits must be within [6, 10]")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp skew must be within [0, 2]")
	}
	if c.Verification.ConfirmTTL <= 0 {
		return errors.New("verification confirm TTL must be positive")
	}
	if c.Verification.RedisPrefix == "" {
		return errors.New("verification redis prefix is required")
	}
	if c.Envelope.RSABits != 0 && c.Envelope.RSABits < 2048 {
		return errors.New("envelope RSA key size must be >= 2048 bits")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}
	if c.Mail.Enabled && c.Mail.BufferSize <= 0 {
		return errors.New("mail buffer size must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = append([]byte(nil), cfg.Session.PrivateKey...)
	out.Session.PublicKey = append([]byte(nil), cfg.Session.PublicKey...)
	return out
}
