package internaldefs

import (
	"github.com/StealthMoud/securenote"
)

// CounterDef binds one engine counter to its exported metric name.
//
// CounterDef instances are intended to be configured during initialization
// and then treated as immutable.
type CounterDef struct {
	ID   securenote.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order.
var CounterDefs = []CounterDef{
	{ID: securenote.MetricLoginSuccess, Name: "securenote_login_success_total", Help: "Successful login completions."},
	{ID: securenote.MetricLoginFailure, Name: "securenote_login_failure_total", Help: "Failed login attempts."},
	{ID: securenote.MetricSecondFactorRequired, Name: "securenote_second_factor_required_total", Help: "Logins deferred to a second factor."},
	{ID: securenote.MetricSecondFactorSuccess, Name: "securenote_second_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: securenote.MetricSecondFactorFailure, Name: "securenote_second_factor_failure_total", Help: "Failed second-factor verifications."},
	{ID: securenote.MetricSecondFactorReplay, Name: "securenote_second_factor_replay_total", Help: "Detected second-factor code replays."},
	{ID: securenote.MetricSessionIssued, Name: "securenote_session_issued_total", Help: "Issued session tokens."},
	{ID: securenote.MetricSessionRejected, Name: "securenote_session_rejected_total", Help: "Rejected session tokens."},
	{ID: securenote.MetricRegistration, Name: "securenote_registration_total", Help: "Created identities."},
	{ID: securenote.MetricVerificationRequested, Name: "securenote_verification_requested_total", Help: "Opened verification requests."},
	{ID: securenote.MetricVerificationDecided, Name: "securenote_verification_decided_total", Help: "Decided verification requests."},
	{ID: securenote.MetricVerificationConfirmed, Name: "securenote_verification_confirmed_total", Help: "Confirmed verifications."},
	{ID: securenote.MetricDocumentEncrypted, Name: "securenote_document_encrypted_total", Help: "Sealed documents."},
	{ID: securenote.MetricDocumentDecrypted, Name: "securenote_document_decrypted_total", Help: "Decrypted document reads."},
	{ID: securenote.MetricDocumentRotated, Name: "securenote_document_rotated_total", Help: "Content-key rotations."},
	{ID: securenote.MetricDocumentShared, Name: "securenote_document_shared_total", Help: "Created share grants."},
	{ID: securenote.MetricShareRevoked, Name: "securenote_share_revoked_total", Help: "Revoked share grants."},
	{ID: securenote.MetricAccessDenied, Name: "securenote_access_denied_total", Help: "Denied document access checks."},
	{ID: securenote.MetricCryptoFailure, Name: "securenote_crypto_failure_total", Help: "Envelope crypto failures."},
}
