package securenote

import (
	"context"
	"errors"
)

func (e *Engine) issueSessionToken(identity IdentityRecord) (string, error) {
	token, err := e.jwtManager.CreateSession(identity.IdentityID, identity.Role.String(), identity.AccountVersion)
	if err != nil {
		return "", ErrCryptoFailure
	}
	e.metricInc(MetricSessionIssued)
	return token, nil
}

// ValidateSession checks signature, expiry, issuer, and audience and returns
// the caller's session view. Pure token work, no store round trip; a token
// stays valid for its full lifetime even after a password or role change.
// Use [Engine.ValidateSessionStrict] where that window is unacceptable.
func (e *Engine) ValidateSession(token string) (Session, error) {
	if e == nil || e.jwtManager == nil {
		return Session{}, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseSession(token)
	if err != nil {
		e.metricInc(MetricSessionRejected)
		return Session{}, ErrTokenInvalid
	}
	role, err := ParseRole(claims.Rol)
	if err != nil {
		e.metricInc(MetricSessionRejected)
		return Session{}, ErrTokenInvalid
	}

	return Session{
		IdentityID:     claims.UID,
		Role:           role,
		AccountVersion: claims.AV,
		ExpiresAt:      claims.ExpiresAt.Time,
	}, nil
}

// ValidateSessionStrict additionally fetches the identity and rejects tokens
// minted before the most recent password or role change with ErrSessionStale.
// One provider lookup per call.
func (e *Engine) ValidateSessionStrict(ctx context.Context, token string) (Session, error) {
	session, err := e.ValidateSession(token)
	if err != nil {
		return Session{}, err
	}

	identity, err := e.identities.GetIdentityByID(ctx, session.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metricInc(MetricSessionRejected)
			return Session{}, ErrTokenInvalid
		}
		return Session{}, ErrBackendUnavailable
	}
	if identity.AccountVersion != session.AccountVersion {
		e.metricInc(MetricSessionRejected)
		return Session{}, ErrSessionStale
	}

	// The stored record is authoritative for role, not the token claim.
	session.Role = identity.Role
	return session, nil
}

// ChangePassword re-proves the current password, stores a fresh hash, and
// advances the account version so outstanding sessions fail strict
// validation.
func (e *Engine) ChangePassword(ctx context.Context, caller Session, current, next string) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}

	identity, err := e.identities.GetIdentityByID(ctx, caller.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return ErrBackendUnavailable
	}

	ok, err := e.passwordHash.Verify(current, identity.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChanged, false, identity.IdentityID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	newHash, err := e.passwordHash.Hash(next)
	if err != nil {
		return ErrIdentityInvalid
	}
	if err := e.identities.UpdatePasswordHash(ctx, identity.IdentityID, newHash); err != nil {
		return ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventPasswordChanged, true, identity.IdentityID, nil, nil)
	return nil
}

// SetRole assigns a role to another identity. Superadmin only; the target's
// account version advances so its outstanding sessions fail strict
// validation.
func (e *Engine) SetRole(ctx context.Context, caller Session, identityID string, role Role) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	if caller.Role != RoleSuperadmin {
		e.metricInc(MetricAccessDenied)
		e.emitAudit(ctx, auditEventRoleChanged, false, caller.IdentityID, ErrNotAuthorized, func() map[string]string {
			return map[string]string{"target": identityID}
		})
		return ErrNotAuthorized
	}
	switch role {
	case RoleUser, RoleAdmin, RoleSuperadmin:
	default:
		return ErrRoleInvalid
	}

	if _, err := e.identities.GetIdentityByID(ctx, identityID); err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return ErrBackendUnavailable
	}
	if err := e.identities.UpdateRole(ctx, identityID, role); err != nil {
		return ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventRoleChanged, true, caller.IdentityID, nil, func() map[string]string {
		return map[string]string{
			"target": identityID,
			"role":   role.String(),
		}
	})
	return nil
}
