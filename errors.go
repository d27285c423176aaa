package securenote

import "errors"

var (
	// ErrInvalidCredentials is returned for any credential mismatch during
	// login. The message is deliberately generic: unknown identifier and
	// wrong password are indistinguishable to resist account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSecondFactorRequired signals that password validation succeeded but
	// the login is incomplete until ConfirmSecondFactor is called.
	ErrSecondFactorRequired = errors.New("second factor required")
	// ErrSecondFactorInvalid is returned when a second-factor code does not
	// validate. The pending token is burned regardless.
	ErrSecondFactorInvalid = errors.New("invalid second factor code")
	// ErrPendingTokenInvalid covers unknown, expired, and already-consumed
	// pending second-factor tokens.
	ErrPendingTokenInvalid = errors.New("pending token invalid or expired")
	// ErrSecondFactorReplay is returned when a TOTP code at or below the
	// last-used counter is presented again.
	ErrSecondFactorReplay = errors.New("second factor code replay detected")
	// ErrSecondFactorNotConfigured is returned by second-factor management
	// operations when no secret is enrolled.
	ErrSecondFactorNotConfigured = errors.New("second factor not configured")
	// ErrSecondFactorAlreadyEnabled rejects re-provisioning an active factor.
	ErrSecondFactorAlreadyEnabled = errors.New("second factor already enabled")

	// ErrTokenInvalid is returned by ValidateSession for any tampered,
	// malformed, mis-signed, or expired session token.
	ErrTokenInvalid = errors.New("invalid session token")
	// ErrSessionStale is returned by ValidateSessionStrict when the token's
	// account version no longer matches the identity record.
	ErrSessionStale = errors.New("session superseded by credential change")

	// ErrIdentityNotFound is an internal lookup failure. Login paths map it
	// to ErrInvalidCredentials before it reaches a caller.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityExists rejects registration with a taken username or email.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrIdentityInvalid rejects malformed registration input.
	ErrIdentityInvalid = errors.New("invalid identity input")
	// ErrRoleInvalid rejects an unknown role name.
	ErrRoleInvalid = errors.New("invalid role")

	// ErrVerificationConflict is the state-machine violation error: a
	// non-terminal request already exists, or the identity is already
	// verified.
	ErrVerificationConflict = errors.New("verification request conflict")
	// ErrVerificationRequestNotFound is returned by DecideVerification for an
	// unknown or terminal request ID.
	ErrVerificationRequestNotFound = errors.New("verification request not found")
	// ErrConfirmationInvalid covers unknown, expired, and already-consumed
	// verification confirmation tokens.
	ErrConfirmationInvalid = errors.New("confirmation token invalid or expired")
	// ErrDecisionInvalid rejects a decision other than approve or reject.
	ErrDecisionInvalid = errors.New("invalid verification decision")

	// ErrNotAuthorized is returned when an authenticated caller lacks the
	// required permission tier, grant, or role. Distinct from
	// ErrInvalidCredentials: the caller is legitimate but scoped out.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrVerifiedRequired gates capabilities reserved for verified
	// identities, such as the markdown content format.
	ErrVerifiedRequired = errors.New("verified identity required")

	// ErrDocumentNotFound is returned for unknown document IDs.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentConflict is returned when an optimistic version check fails
	// during content rotation. The caller must re-read and retry.
	ErrDocumentConflict = errors.New("document modified concurrently")
	// ErrGrantExists rejects a duplicate share for the same recipient.
	ErrGrantExists = errors.New("document already shared with recipient")
	// ErrGrantNotFound is returned when revoking or updating a share that
	// does not exist.
	ErrGrantNotFound = errors.New("share grant not found")
	// ErrCryptoFailure is the unrecoverable internal-failure class: a key
	// unwrap or authenticated decryption failed on stored data. It must fail
	// the request and never degrade to plaintext exposure.
	ErrCryptoFailure = errors.New("cryptographic operation failed")

	// ErrBackendUnavailable wraps token-store and provider outages.
	ErrBackendUnavailable = errors.New("backing store unavailable")
	// ErrEngineNotReady is returned when a required collaborator was not
	// supplied to the Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorClass buckets engine errors into the transport-facing taxonomy.
// HTTP layers map classes to status codes without inspecting sentinels.
type ErrorClass int

const (
	// ClassInternal covers cryptographic failures, backend outages, and
	// anything unrecognized. Fail closed.
	ClassInternal ErrorClass = iota
	// ClassValidation covers malformed input and dead tokens.
	ClassValidation
	// ClassAuthentication covers credential and second-factor mismatches.
	ClassAuthentication
	// ClassAuthorization covers authenticated-but-scoped-out callers.
	ClassAuthorization
	// ClassConflict covers state-machine violations and lost-update races.
	ClassConflict
)

// Classify maps an engine error onto its ErrorClass. Unrecognized errors
// classify as ClassInternal so that transport layers fail closed.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrSecondFactorRequired),
		errors.Is(err, ErrSecondFactorInvalid),
		errors.Is(err, ErrPendingTokenInvalid),
		errors.Is(err, ErrSecondFactorReplay),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrSessionStale):
		return ClassAuthentication
	case errors.Is(err, ErrNotAuthorized),
		errors.Is(err, ErrVerifiedRequired):
		return ClassAuthorization
	case errors.Is(err, ErrVerificationConflict),
		errors.Is(err, ErrDocumentConflict),
		errors.Is(err, ErrGrantExists),
		errors.Is(err, ErrIdentityExists),
		errors.Is(err, ErrSecondFactorAlreadyEnabled):
		return ClassConflict
	case errors.Is(err, ErrConfirmationInvalid),
		errors.Is(err, ErrIdentityInvalid),
		errors.Is(err, ErrRoleInvalid),
		errors.Is(err, ErrDecisionInvalid),
		errors.Is(err, ErrVerificationRequestNotFound),
		errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, ErrGrantNotFound),
		errors.Is(err, ErrSecondFactorNotConfigured),
		errors.Is(err, ErrIdentityNotFound):
		return ClassValidation
	default:
		return ClassInternal
	}
}
