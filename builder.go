package securenote

import (
	"errors"

	"github.com/StealthMoud/securenote/jwt"
	"github.com/StealthMoud/securenote/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Construction is allocation-only: no I/O
// happens until the first Engine method call after Build.
type Builder struct {
	config Config
	redis  *redis.Client

	identities IdentityProvider
	documents  DocumentStore
	auditSink  AuditSink
	mailer     Mailer

	built bool
}

// New returns a Builder preloaded with defaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration. Unset signing material still
// fails validation at Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSessionSigningKey sets the HS256 secret (or Ed25519 private key,
// depending on the configured method) without replacing the whole config.
func (b *Builder) WithSessionSigningKey(key []byte) *Builder {
	b.config.Session.PrivateKey = append([]byte(nil), key...)
	return b
}

// WithRedis supplies the client backing the pending-token and
// confirmation-token stores.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithIdentityProvider supplies the credential store.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identities = p
	return b
}

// WithDocumentStore supplies the document persistence layer.
func (b *Builder) WithDocumentStore(s DocumentStore) *Builder {
	b.documents = s
	return b
}

// WithAuditSink supplies the security-log sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMailer supplies the workflow mailer. Without one, verification
// approvals still transition state; the confirmation token is simply not
// delivered anywhere.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithMetricsEnabled toggles the counter registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires the stores, and returns the
// Engine. A Builder is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.identities == nil {
		return nil, errors.New("identity provider is required")
	}
	if b.documents == nil {
		return nil, errors.New("document store is required")
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		TTL:           b.config.Session.TTL,
		SigningMethod: jwt.SigningMethod(b.config.Session.SigningMethod),
		PrivateKey:    b.config.Session.PrivateKey,
		PublicKey:     b.config.Session.PublicKey,
		Issuer:        b.config.Session.Issuer,
		Audience:      b.config.Session.Audience,
		Leeway:        b.config.Session.Leeway,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       b.config,
		passwordHash: hasher,
		totp:         newTOTPManager(b.config.TOTP),
		jwtManager:   jwtManager,
		pendingStore: newPendingTokenStore(b.redis, b.config.PendingToken.RedisPrefix),
		confirmStore: newConfirmTokenStore(b.redis, b.config.Verification.RedisPrefix),
		identities:   b.identities,
		documents:    b.documents,
		audit:        newAuditDispatcher(b.config.Audit, b.auditSink),
		mail:         newMailDispatcher(b.config.Mail, b.mailer),
		metrics:      NewMetrics(b.config.Metrics.Enabled),
	}

	b.built = true
	return engine, nil
}
