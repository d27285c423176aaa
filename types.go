package securenote

import (
	"context"
	"time"
)

// Role is the coarse privilege level carried by every identity and embedded
// in session tokens.
type Role uint8

const (
	// RoleUser is the default role assigned at registration.
	RoleUser Role = iota
	// RoleAdmin may decide verification requests and delete any document.
	RoleAdmin
	// RoleSuperadmin additionally manages roles of other identities.
	RoleSuperadmin
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	case RoleSuperadmin:
		return "superadmin"
	default:
		return "unknown"
	}
}

// ParseRole maps a wire name back to a Role. Fails with ErrRoleInvalid for
// anything outside the fixed set.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	case "superadmin":
		return RoleSuperadmin, nil
	default:
		return RoleUser, ErrRoleInvalid
	}
}

// VerificationStatus is the identity-verification lifecycle state stored on
// the identity record.
//
// Legal transitions: unverified → pending → {approved → verified, rejected};
// rejected → pending (re-request). verified is terminal.
type VerificationStatus uint8

const (
	// StatusUnverified is the state of every freshly registered identity.
	StatusUnverified VerificationStatus = iota
	// StatusPending means a verification request awaits an admin decision.
	StatusPending
	// StatusApproved means an admin approved and a confirmation token was
	// issued; the identity is not yet verified.
	StatusApproved
	// StatusRejected means the most recent request was rejected. The
	// identity may request again.
	StatusRejected
	// StatusVerified is terminal. Verified identities unlock gated
	// capabilities such as the markdown content format.
	StatusVerified
)

// String returns the wire name of the status.
func (s VerificationStatus) String() string {
	switch s {
	case StatusUnverified:
		return "unverified"
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved-token-issued"
	case StatusRejected:
		return "rejected"
	case StatusVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// Tier is the permission level of a share grant. Higher tiers include all
// capabilities of lower ones.
type Tier uint8

const (
	// TierViewer may decrypt and read the document.
	TierViewer Tier = 1
	// TierEditor may additionally submit content edits.
	TierEditor Tier = 2
)

// Allows reports whether a grant at tier t satisfies the required tier.
func (t Tier) Allows(required Tier) bool {
	return t >= required
}

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierViewer:
		return "viewer"
	case TierEditor:
		return "editor"
	default:
		return "unknown"
	}
}

// IdentityRecord is the credential-store view of one identity. Private-key
// material and TOTP secrets are never carried here; they are fetched through
// dedicated provider methods.
type IdentityRecord struct {
	IdentityID     string
	Username       string
	Email          string
	PasswordHash   string
	Role           Role
	Status         VerificationStatus
	TOTPEnabled    bool
	AccountVersion uint32
	PublicKeyPEM   []byte
}

// TOTPRecord is retrieved from [IdentityProvider.GetTOTPSecret]. It carries
// the secret, the enabled flag, and the last-used step counter used for
// replay protection.
type TOTPRecord struct {
	Secret          []byte
	Enabled         bool
	LastUsedCounter int64
}

// CreateIdentityInput is the input for [IdentityProvider.CreateIdentity].
// The engine supplies an already-hashed password and PEM-encoded keypair.
type CreateIdentityInput struct {
	Username      string
	Email         string
	PasswordHash  string
	Role          Role
	Status        VerificationStatus
	PublicKeyPEM  []byte
	PrivateKeyPEM []byte
}

// VerificationRequestStatus is the lifecycle state of a single verification
// request record.
type VerificationRequestStatus uint8

const (
	// RequestPending awaits an admin decision.
	RequestPending VerificationRequestStatus = iota
	// RequestApproved means the confirmation token is outstanding.
	RequestApproved
	// RequestRejected is terminal for the request; the identity may file a
	// new one.
	RequestRejected
	// RequestConfirmed is terminal: the confirmation token was consumed and
	// the identity is verified.
	RequestConfirmed
	// RequestExpired is terminal: the confirmation token lapsed unconsumed
	// and a later request superseded this one.
	RequestExpired
)

// Terminal reports whether the request can no longer change state.
func (s VerificationRequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestConfirmed || s == RequestExpired
}

// VerificationRequest is one identity-verification request. At most one
// non-terminal request exists per identity at any time.
type VerificationRequest struct {
	RequestID  string
	IdentityID string
	Status     VerificationRequestStatus
	Reason     string
	CreatedAt  time.Time
	DecidedAt  time.Time
}

// IdentityProvider is the credential store contract. Implementations must be
// safe for concurrent use; UpdatePasswordHash and UpdateRole must atomically
// advance the identity's account version so previously issued sessions can be
// detected as stale.
type IdentityProvider interface {
	GetIdentityByIdentifier(ctx context.Context, identifier string) (IdentityRecord, error)
	GetIdentityByID(ctx context.Context, identityID string) (IdentityRecord, error)
	CreateIdentity(ctx context.Context, input CreateIdentityInput) (IdentityRecord, error)
	UpdatePasswordHash(ctx context.Context, identityID, newHash string) error
	UpdateRole(ctx context.Context, identityID string, role Role) error
	SetVerificationStatus(ctx context.Context, identityID string, status VerificationStatus) error

	GetTOTPSecret(ctx context.Context, identityID string) (*TOTPRecord, error)
	SetTOTPSecret(ctx context.Context, identityID string, secret []byte) error
	EnableTOTP(ctx context.Context, identityID string) error
	DisableTOTP(ctx context.Context, identityID string) error
	UpdateTOTPLastUsedCounter(ctx context.Context, identityID string, counter int64) error

	// GetPrivateKey returns the identity's PEM-encoded private key for
	// server-mediated envelope unwrapping. It is never exposed to callers of
	// the engine.
	GetPrivateKey(ctx context.Context, identityID string) ([]byte, error)

	CreateVerificationRequest(ctx context.Context, req *VerificationRequest) error
	GetVerificationRequest(ctx context.Context, requestID string) (*VerificationRequest, error)
	// ActiveVerificationRequest returns the identity's non-terminal request,
	// or nil when none exists.
	ActiveVerificationRequest(ctx context.Context, identityID string) (*VerificationRequest, error)
	UpdateVerificationRequest(ctx context.Context, req *VerificationRequest) error
}

// Format is the plaintext rendering tag carried on a document. Rendering is
// a presentation concern; the engine only gates FormatMarkdown on verified
// status.
type Format uint8

const (
	// FormatPlain is available to every identity.
	FormatPlain Format = iota
	// FormatMarkdown requires verified status.
	FormatMarkdown
)

// String returns the wire name of the format.
func (f Format) String() string {
	if f == FormatMarkdown {
		return "markdown"
	}
	return "plain"
}

// ShareGrant authorizes one recipient for one document. WrappedKey is the
// document content key wrapped under the recipient's public key and is
// replaced on every content rotation.
type ShareGrant struct {
	DocumentID  string
	RecipientID string
	Tier        Tier
	WrappedKey  []byte
	CreatedAt   time.Time
}

// DocumentRecord is the stored form of a document: one ciphertext body, the
// owner's wrapped content key, and the per-recipient grants. Version guards
// content rotation against lost updates.
type DocumentRecord struct {
	DocumentID      string
	OwnerID         string
	Ciphertext      []byte
	OwnerWrappedKey []byte
	Format          Format
	Tags            []string
	Pinned          bool
	Version         uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Grants          []ShareGrant
}

// GrantFor returns the grant for the given recipient, or nil.
func (d *DocumentRecord) GrantFor(recipientID string) *ShareGrant {
	for i := range d.Grants {
		if d.Grants[i].RecipientID == recipientID {
			return &d.Grants[i]
		}
	}
	return nil
}

// DocumentStore is the document persistence contract.
//
// ReplaceDocument must swap ciphertext, owner key, and the full grant set in
// a single all-or-nothing commit, and must fail with ErrDocumentConflict when
// the stored version differs from expectedVersion. A partial rotation that
// re-wraps only some grants is a data-integrity violation the store contract
// rules out.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *DocumentRecord) error
	GetDocument(ctx context.Context, documentID string) (*DocumentRecord, error)
	ReplaceDocument(ctx context.Context, doc *DocumentRecord, expectedVersion uint64) error
	AddGrant(ctx context.Context, documentID string, grant *ShareGrant) error
	UpdateGrantTier(ctx context.Context, documentID, recipientID string, tier Tier) error
	DeleteGrant(ctx context.Context, documentID, recipientID string) (bool, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Session is the validated view of a session token: who is calling and at
// what privilege. Produced by ValidateSession, consumed by every
// role-gated operation.
type Session struct {
	IdentityID     string
	Role           Role
	AccountVersion uint32
	ExpiresAt      time.Time
}

// LoginResult is returned by [Engine.Login] and [Engine.ConfirmSecondFactor].
// Exactly one of SessionToken or PendingToken is populated: a login that
// still needs a second factor never carries a session token.
type LoginResult struct {
	SessionToken string

	SecondFactorRequired bool
	PendingToken         string
}

// RegisterInput is the input for [Engine.Register].
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	IdentityID string
	Username   string
	Role       Role
}

// SecondFactorSetup holds the base32 secret and otpauth:// URI returned by
// [Engine.ProvisionTOTP] for authenticator-app enrollment.
type SecondFactorSetup struct {
	SecretBase32 string
	URI          string
}

// DocumentInput is the plaintext-side input for document create and update.
type DocumentInput struct {
	Content []byte
	Format  Format
	Tags    []string
	Pinned  bool
}

// Decision is an admin verdict on a verification request.
type Decision string

const (
	// DecisionApprove issues a confirmation token to the identity.
	DecisionApprove Decision = "approve"
	// DecisionReject records a reason and returns the identity to a
	// re-requestable state.
	DecisionReject Decision = "reject"
)
