package securenote

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RequestVerification opens an identity-verification request. At most one
// non-terminal request may exist per identity, and verified identities cannot
// re-enter the workflow; both cases fail with ErrVerificationConflict.
// Re-requesting after a rejection is allowed, as is re-requesting after an
// approval whose confirmation token lapsed unconsumed: the lapsed request is
// marked RequestExpired and the new one supersedes it.
func (e *Engine) RequestVerification(ctx context.Context, identityID string) (*VerificationRequest, error) {
	if e == nil || e.identities == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.identities.GetIdentityByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, ErrBackendUnavailable
	}
	if identity.Status == StatusVerified {
		return nil, ErrVerificationConflict
	}

	active, err := e.identities.ActiveVerificationRequest(ctx, identityID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	if active != nil {
		if !e.confirmLapsed(active) {
			return nil, ErrVerificationConflict
		}
		active.Status = RequestExpired
		if err := e.identities.UpdateVerificationRequest(ctx, active); err != nil {
			return nil, ErrBackendUnavailable
		}
	}

	request := &VerificationRequest{
		RequestID:  uuid.NewString(),
		IdentityID: identityID,
		Status:     RequestPending,
		CreatedAt:  time.Now(),
	}
	if err := e.identities.CreateVerificationRequest(ctx, request); err != nil {
		return nil, ErrBackendUnavailable
	}
	if err := e.identities.SetVerificationStatus(ctx, identityID, StatusPending); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricVerificationRequested)
	e.emitAudit(ctx, auditEventVerificationRequest, true, identityID, nil, func() map[string]string {
		return map[string]string{"request_id": request.RequestID}
	})

	return request, nil
}

// DecideVerification records an admin verdict on a pending request.
//
// Approval moves the request to the token-issued state and dispatches a
// one-time confirmation token to the identity's email. The dispatch is
// fire-and-forget: mail delivery failure never rolls the decision back.
// Rejection stores the reason and lets the identity request again.
func (e *Engine) DecideVerification(ctx context.Context, caller Session, requestID string, decision Decision, reason string) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	if caller.Role != RoleAdmin && caller.Role != RoleSuperadmin {
		e.metricInc(MetricAccessDenied)
		return ErrNotAuthorized
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return ErrDecisionInvalid
	}

	request, err := e.identities.GetVerificationRequest(ctx, requestID)
	if err != nil {
		return ErrBackendUnavailable
	}
	if request == nil {
		return ErrVerificationRequestNotFound
	}
	if request.Status != RequestPending {
		return ErrVerificationConflict
	}

	identity, err := e.identities.GetIdentityByID(ctx, request.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return ErrBackendUnavailable
	}

	now := time.Now()
	switch decision {
	case DecisionApprove:
		request.Status = RequestApproved
		request.DecidedAt = now
		if err := e.identities.UpdateVerificationRequest(ctx, request); err != nil {
			return ErrBackendUnavailable
		}
		if err := e.identities.SetVerificationStatus(ctx, request.IdentityID, StatusApproved); err != nil {
			return ErrBackendUnavailable
		}

		token, err := e.confirmStore.Issue(ctx, request.RequestID, request.IdentityID, e.config.Verification.ConfirmTTL)
		if err != nil {
			return ErrBackendUnavailable
		}
		if e.mail != nil {
			e.mail.Dispatch(identity.Email, MailVerificationApproved, token)
		}

		e.metricInc(MetricVerificationDecided)
		e.emitAudit(ctx, auditEventVerificationApproved, true, request.IdentityID, nil, func() map[string]string {
			return map[string]string{
				"request_id": request.RequestID,
				"decided_by": caller.IdentityID,
			}
		})

	case DecisionReject:
		request.Status = RequestRejected
		request.Reason = reason
		request.DecidedAt = now
		if err := e.identities.UpdateVerificationRequest(ctx, request); err != nil {
			return ErrBackendUnavailable
		}
		if err := e.identities.SetVerificationStatus(ctx, request.IdentityID, StatusRejected); err != nil {
			return ErrBackendUnavailable
		}
		if e.mail != nil {
			e.mail.Dispatch(identity.Email, MailVerificationRejected, "")
		}

		e.metricInc(MetricVerificationDecided)
		e.emitAudit(ctx, auditEventVerificationRejected, true, request.IdentityID, nil, func() map[string]string {
			return map[string]string{
				"request_id": request.RequestID,
				"decided_by": caller.IdentityID,
				"reason":     reason,
			}
		})
	}

	return nil
}

// confirmLapsed reports whether the request's confirmation token window has
// closed without the token being consumed.
func (e *Engine) confirmLapsed(request *VerificationRequest) bool {
	return request.Status == RequestApproved &&
		time.Now().After(request.DecidedAt.Add(e.config.Verification.ConfirmTTL))
}

// ConfirmVerification redeems a confirmation token and marks the identity
// verified. The token is single-use; unknown, expired, and already-consumed
// tokens all fail with ErrConfirmationInvalid. When the provider fails after
// the token was consumed, the token is put back so the caller can retry.
func (e *Engine) ConfirmVerification(ctx context.Context, token string) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}

	record, err := e.confirmStore.Consume(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, errConfirmNotFound),
			errors.Is(err, errConfirmExpired),
			errors.Is(err, errConfirmMismatch):
			return ErrConfirmationInvalid
		default:
			return ErrBackendUnavailable
		}
	}

	request, err := e.identities.GetVerificationRequest(ctx, record.RequestID)
	if err != nil {
		e.confirmStore.Restore(ctx, token, record)
		return ErrBackendUnavailable
	}
	if request == nil || request.Status != RequestApproved {
		return ErrConfirmationInvalid
	}

	// Verify the identity before settling the request: if either write
	// fails the restored token replays cleanly against the still-approved
	// request, and SetVerificationStatus is idempotent on retry.
	if err := e.identities.SetVerificationStatus(ctx, request.IdentityID, StatusVerified); err != nil {
		e.confirmStore.Restore(ctx, token, record)
		return ErrBackendUnavailable
	}
	request.Status = RequestConfirmed
	if err := e.identities.UpdateVerificationRequest(ctx, request); err != nil {
		e.confirmStore.Restore(ctx, token, record)
		return ErrBackendUnavailable
	}

	e.metricInc(MetricVerificationConfirmed)
	e.emitAudit(ctx, auditEventVerificationConfirm, true, request.IdentityID, nil, func() map[string]string {
		return map[string]string{"request_id": request.RequestID}
	})

	return nil
}
