package securenote

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/StealthMoud/securenote/envelope"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Register creates a new identity: validates the username and email formats,
// hashes the password, and generates the identity's envelope keypair. New
// identities start unverified with role user.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	if e == nil || e.identities == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !usernamePattern.MatchString(username) {
		return nil, ErrIdentityInvalid
	}
	if !emailPattern.MatchString(email) {
		return nil, ErrIdentityInvalid
	}

	hash, err := e.passwordHash.Hash(input.Password)
	if err != nil {
		return nil, ErrIdentityInvalid
	}

	keyPair, err := envelope.GenerateKeyPair(e.config.Envelope.RSABits)
	if err != nil {
		return nil, err
	}
	publicPEM, err := keyPair.EncodePublicPEM()
	if err != nil {
		return nil, err
	}
	privatePEM, err := keyPair.EncodePrivatePEM()
	if err != nil {
		return nil, err
	}

	record, err := e.identities.CreateIdentity(ctx, CreateIdentityInput{
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		Role:          RoleUser,
		Status:        StatusUnverified,
		PublicKeyPEM:  publicPEM,
		PrivateKeyPEM: privatePEM,
	})
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return nil, ErrIdentityExists
		}
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(ctx, auditEventRegistered, true, record.IdentityID, nil, func() map[string]string {
		return map[string]string{
			"username": username,
		}
	})

	return &RegisterResult{
		IdentityID: record.IdentityID,
		Username:   record.Username,
		Role:       record.Role,
	}, nil
}
