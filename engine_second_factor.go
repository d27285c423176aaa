package securenote

import (
	"context"
	"errors"
	"time"
)

// ConfirmSecondFactor redeems a pending token against a TOTP code and
// completes the login. The pending token is consumed atomically before the
// code is checked, so each login round allows exactly one guess: a wrong code
// burns the token and the caller must start over at [Engine.Login].
func (e *Engine) ConfirmSecondFactor(ctx context.Context, pendingToken, code string) (*LoginResult, error) {
	if e == nil || e.identities == nil {
		return nil, ErrEngineNotReady
	}
	if pendingToken == "" {
		return nil, ErrPendingTokenInvalid
	}

	record, err := e.pendingStore.Consume(ctx, pendingToken)
	if err != nil {
		switch {
		case errors.Is(err, errPendingNotFound), errors.Is(err, errPendingExpired):
			e.metricInc(MetricSecondFactorFailure)
			e.emitAudit(ctx, auditEventSecondFactorFailure, false, "", ErrPendingTokenInvalid, func() map[string]string {
				return map[string]string{"reason": "pending_token"}
			})
			return nil, ErrPendingTokenInvalid
		default:
			return nil, ErrBackendUnavailable
		}
	}

	identity, err := e.identities.GetIdentityByID(ctx, record.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrPendingTokenInvalid
		}
		return nil, ErrBackendUnavailable
	}

	totp, err := e.identities.GetTOTPSecret(ctx, identity.IdentityID)
	if err != nil || totp == nil || !totp.Enabled {
		return nil, ErrSecondFactorNotConfigured
	}

	ok, counter, err := e.totp.VerifyCode(totp.Secret, code, time.Now())
	if err != nil {
		return nil, ErrCryptoFailure
	}
	if !ok {
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, identity.IdentityID, ErrSecondFactorInvalid, nil)
		return nil, ErrSecondFactorInvalid
	}

	if e.config.TOTP.EnforceReplayProtection {
		if counter <= totp.LastUsedCounter {
			e.metricInc(MetricSecondFactorReplay)
			e.emitAudit(ctx, auditEventSecondFactorFailure, false, identity.IdentityID, ErrSecondFactorReplay, func() map[string]string {
				return map[string]string{"reason": "code_replay"}
			})
			return nil, ErrSecondFactorReplay
		}
		if err := e.identities.UpdateTOTPLastUsedCounter(ctx, identity.IdentityID, counter); err != nil {
			return nil, ErrBackendUnavailable
		}
	}

	sessionToken, err := e.issueSessionToken(identity)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, identity.IdentityID, nil, nil)

	return &LoginResult{SessionToken: sessionToken}, nil
}

// ProvisionTOTP generates and stores a fresh TOTP secret in the disabled
// state and returns the enrollment material. The factor only activates once
// the identity proves possession through [Engine.ConfirmTOTPSetup].
func (e *Engine) ProvisionTOTP(ctx context.Context, caller Session) (*SecondFactorSetup, error) {
	if e == nil || e.identities == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.identities.GetIdentityByID(ctx, caller.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, ErrBackendUnavailable
	}
	if identity.TOTPEnabled {
		return nil, ErrSecondFactorAlreadyEnabled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, ErrCryptoFailure
	}
	if err := e.identities.SetTOTPSecret(ctx, identity.IdentityID, secret); err != nil {
		return nil, ErrBackendUnavailable
	}

	return &SecondFactorSetup{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, identity.Username),
	}, nil
}

// ConfirmTOTPSetup enables the provisioned second factor after the identity
// presents one valid code from it.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, caller Session, code string) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}

	totp, err := e.identities.GetTOTPSecret(ctx, caller.IdentityID)
	if err != nil || totp == nil || len(totp.Secret) == 0 {
		return ErrSecondFactorNotConfigured
	}
	if totp.Enabled {
		return ErrSecondFactorAlreadyEnabled
	}

	ok, counter, err := e.totp.VerifyCode(totp.Secret, code, time.Now())
	if err != nil {
		return ErrCryptoFailure
	}
	if !ok {
		return ErrSecondFactorInvalid
	}

	if err := e.identities.EnableTOTP(ctx, caller.IdentityID); err != nil {
		return ErrBackendUnavailable
	}
	if e.config.TOTP.EnforceReplayProtection {
		// The enrollment code counts as used.
		if err := e.identities.UpdateTOTPLastUsedCounter(ctx, caller.IdentityID, counter); err != nil {
			return ErrBackendUnavailable
		}
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactorEnabled, true, caller.IdentityID, nil, nil)
	return nil
}

// DisableTOTP turns the second factor off after re-proving the password.
func (e *Engine) DisableTOTP(ctx context.Context, caller Session, pass string) error {
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
	if !identity.TOTPEnabled {
		return ErrSecondFactorNotConfigured
	}

	ok, err := e.passwordHash.Verify(pass, identity.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if err := e.identities.DisableTOTP(ctx, identity.IdentityID); err != nil {
		return ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventSecondFactorDisabled, true, identity.IdentityID, nil, nil)
	return nil
}
