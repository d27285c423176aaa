package securenote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/StealthMoud/securenote/internal"
)

// Login validates a credential pair. Identities without a second factor get a
// session token directly; identities with TOTP enabled get a short-lived
// single-use pending token that must be redeemed through
// [Engine.ConfirmSecondFactor].
//
// Unknown identifiers and wrong passwords are indistinguishable to the
// caller: both fail with ErrInvalidCredentials after equal password-hash
// work.
func (e *Engine) Login(ctx context.Context, identifier, pass string) (*LoginResult, error) {
	if e == nil || e.identities == nil {
		return nil, ErrEngineNotReady
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || pass == "" {
		return nil, ErrInvalidCredentials
	}

	identity, err := e.identities.GetIdentityByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// Burn the same argon2 work as a real verify so response
			// timing does not leak which identifiers exist.
			e.passwordHash.DummyVerify(pass)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"reason": "unknown_identifier"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, ErrBackendUnavailable
	}

	ok, err := e.passwordHash.Verify(pass, identity.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.IdentityID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "bad_password"}
		})
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		identity = e.maybeUpgradeHash(ctx, identity, pass)
	}

	if identity.TOTPEnabled {
		pendingToken, err := e.issuePendingToken(ctx, identity.IdentityID)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricSecondFactorRequired)
		e.emitAudit(ctx, auditEventSecondFactorRequired, true, identity.IdentityID, nil, nil)
		return &LoginResult{
			SecondFactorRequired: true,
			PendingToken:         pendingToken,
		}, nil
	}

	sessionToken, err := e.issueSessionToken(identity)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.IdentityID, nil, nil)

	return &LoginResult{SessionToken: sessionToken}, nil
}

// maybeUpgradeHash silently re-hashes the password when the stored encoding
// uses weaker parameters than currently configured. Best-effort: a failure
// leaves the old hash in place and the login still succeeds. The refreshed
// record is returned so the session carries the advanced account version.
func (e *Engine) maybeUpgradeHash(ctx context.Context, identity IdentityRecord, pass string) IdentityRecord {
	stale, err := e.passwordHash.NeedsRehash(identity.PasswordHash)
	if err != nil || !stale {
		return identity
	}
	newHash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return identity
	}
	if err := e.identities.UpdatePasswordHash(ctx, identity.IdentityID, newHash); err != nil {
		return identity
	}
	refreshed, err := e.identities.GetIdentityByID(ctx, identity.IdentityID)
	if err != nil {
		return identity
	}
	return refreshed
}

func (e *Engine) issuePendingToken(ctx context.Context, identityID string) (string, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", err
	}
	token := id.String()

	now := time.Now()
	record := &pendingTokenRecord{
		IdentityID: identityID,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(e.config.PendingToken.TTL).Unix(),
	}
	if err := e.pendingStore.Save(ctx, token, record, e.config.PendingToken.TTL); err != nil {
		return "", ErrBackendUnavailable
	}
	return token, nil
}
