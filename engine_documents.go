package securenote

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/StealthMoud/securenote/envelope"
)

// CreateDocument seals the content under a fresh per-document key, wraps the
// key for the owner, and persists the record. Markdown format requires
// verified status.
func (e *Engine) CreateDocument(ctx context.Context, caller Session, input DocumentInput) (*DocumentRecord, error) {
	if e == nil || e.documents == nil {
		return nil, ErrEngineNotReady
	}

	owner, err := e.identities.GetIdentityByID(ctx, caller.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, ErrBackendUnavailable
	}
	if err := e.checkFormat(input.Format, owner.Status); err != nil {
		return nil, err
	}

	ownerPub, err := envelope.ParsePublicKeyPEM(owner.PublicKeyPEM)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}

	contentKey, err := envelope.NewContentKey()
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}
	ciphertext, err := envelope.Seal(input.Content, contentKey)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}
	ownerWrapped, err := envelope.WrapKey(contentKey, ownerPub)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}

	now := time.Now()
	doc := &DocumentRecord{
		DocumentID:      uuid.NewString(),
		OwnerID:         caller.IdentityID,
		Ciphertext:      ciphertext,
		OwnerWrappedKey: ownerWrapped,
		Format:          input.Format,
		Tags:            append([]string(nil), input.Tags...),
		Pinned:          input.Pinned,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.documents.CreateDocument(ctx, doc); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricDocumentEncrypted)
	e.emitAudit(ctx, auditEventDocumentCreated, true, caller.IdentityID, nil, func() map[string]string {
		return map[string]string{"document_id": doc.DocumentID}
	})

	return doc, nil
}

// ReadDocument decrypts the document for its owner or a grantee using the
// caller's own key material. Callers without a grant get ErrNotAuthorized;
// corrupted ciphertext or key material fails with ErrCryptoFailure, never
// with partial plaintext.
func (e *Engine) ReadDocument(ctx context.Context, caller Session, documentID string) ([]byte, error) {
	if e == nil || e.documents == nil {
		return nil, ErrEngineNotReady
	}

	doc, err := e.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	var wrapped []byte
	switch {
	case doc.OwnerID == caller.IdentityID:
		wrapped = doc.OwnerWrappedKey
	default:
		grant := doc.GrantFor(caller.IdentityID)
		if grant == nil || !grant.Tier.Allows(TierViewer) {
			return nil, e.accessDenied(ctx, caller.IdentityID, documentID)
		}
		wrapped = grant.WrappedKey
	}

	priv, err := e.privateKeyFor(ctx, caller.IdentityID)
	if err != nil {
		return nil, err
	}
	contentKey, err := envelope.UnwrapKey(wrapped, priv)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}
	plaintext, err := envelope.Open(doc.Ciphertext, contentKey)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}

	e.metricInc(MetricDocumentDecrypted)
	return plaintext, nil
}

// UpdateDocument replaces the content and rotates the envelope: a new content
// key is generated, the body re-sealed, and the owner key plus every existing
// grant re-wrapped. The swap commits in one version-guarded write, so a
// concurrent edit loses with ErrDocumentConflict and no grant is ever left on
// the old key. Owners and editor-tier grantees may edit.
func (e *Engine) UpdateDocument(ctx context.Context, caller Session, documentID string, input DocumentInput) (*DocumentRecord, error) {
	if e == nil || e.documents == nil {
		return nil, ErrEngineNotReady
	}

	doc, err := e.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != caller.IdentityID {
		grant := doc.GrantFor(caller.IdentityID)
		if grant == nil || !grant.Tier.Allows(TierEditor) {
			return nil, e.accessDenied(ctx, caller.IdentityID, documentID)
		}
	}

	editor, err := e.identities.GetIdentityByID(ctx, caller.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, ErrBackendUnavailable
	}
	if err := e.checkFormat(input.Format, editor.Status); err != nil {
		return nil, err
	}

	contentKey, err := envelope.NewContentKey()
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}
	ciphertext, err := envelope.Seal(input.Content, contentKey)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}

	ownerPub, err := e.publicKeyFor(ctx, doc.OwnerID)
	if err != nil {
		return nil, err
	}
	ownerWrapped, err := envelope.WrapKey(contentKey, ownerPub)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}

	// Re-wrap every grant before touching the store so the commit below is
	// all-or-nothing.
	grants := make([]ShareGrant, len(doc.Grants))
	for i := range doc.Grants {
		grants[i] = doc.Grants[i]
		recipientPub, err := e.publicKeyFor(ctx, doc.Grants[i].RecipientID)
		if err != nil {
			return nil, err
		}
		rewrapped, err := envelope.WrapKey(contentKey, recipientPub)
		if err != nil {
			return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
		}
		grants[i].WrappedKey = rewrapped
	}

	expectedVersion := doc.Version
	updated := *doc
	updated.Ciphertext = ciphertext
	updated.OwnerWrappedKey = ownerWrapped
	updated.Format = input.Format
	updated.Tags = append([]string(nil), input.Tags...)
	updated.Pinned = input.Pinned
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now()
	updated.Grants = grants

	if err := e.documents.ReplaceDocument(ctx, &updated, expectedVersion); err != nil {
		if errors.Is(err, ErrDocumentConflict) {
			return nil, ErrDocumentConflict
		}
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricDocumentRotated)
	e.emitAudit(ctx, auditEventDocumentUpdated, true, caller.IdentityID, nil, func() map[string]string {
		return map[string]string{"document_id": documentID}
	})

	return &updated, nil
}

// ShareDocument grants a recipient access at the given tier. Owner only. The
// content key is unwrapped server-side with the owner's key material and
// re-wrapped under the recipient's public key; at most one grant exists per
// recipient.
func (e *Engine) ShareDocument(ctx context.Context, caller Session, documentID, recipientID string, tier Tier) (*ShareGrant, error) {
	if e == nil || e.documents == nil {
		return nil, ErrEngineNotReady
	}
	if !tier.Allows(TierViewer) || tier > TierEditor {
		return nil, ErrIdentityInvalid
	}

	doc, err := e.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != caller.IdentityID {
		return nil, e.accessDenied(ctx, caller.IdentityID, documentID)
	}
	if recipientID == doc.OwnerID {
		return nil, ErrGrantExists
	}
	if doc.GrantFor(recipientID) != nil {
		return nil, ErrGrantExists
	}

	recipientPub, err := e.publicKeyFor(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	priv, err := e.privateKeyFor(ctx, caller.IdentityID)
	if err != nil {
		return nil, err
	}
	contentKey, err := envelope.UnwrapKey(doc.OwnerWrappedKey, priv)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}
	wrapped, err := envelope.WrapKey(contentKey, recipientPub)
	if err != nil {
		return nil, e.cryptoFailure(ctx, caller.IdentityID, err)
	}

	grant := &ShareGrant{
		DocumentID:  documentID,
		RecipientID: recipientID,
		Tier:        tier,
		WrappedKey:  wrapped,
		CreatedAt:   time.Now(),
	}
	if err := e.documents.AddGrant(ctx, documentID, grant); err != nil {
		if errors.Is(err, ErrGrantExists) {
			return nil, ErrGrantExists
		}
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricDocumentShared)
	e.emitAudit(ctx, auditEventDocumentShared, true, caller.IdentityID, nil, func() map[string]string {
		return map[string]string{
			"document_id": documentID,
			"recipient":   recipientID,
			"tier":        tier.String(),
		}
	})

	return grant, nil
}

// UpdateSharePermission changes the tier of an existing grant. Owner only.
func (e *Engine) UpdateSharePermission(ctx context.Context, caller Session, documentID, recipientID string, tier Tier) error {
	if e == nil || e.documents == nil {
		return ErrEngineNotReady
	}
	if !tier.Allows(TierViewer) || tier > TierEditor {
		return ErrIdentityInvalid
	}

	doc, err := e.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != caller.IdentityID {
		return e.accessDenied(ctx, caller.IdentityID, documentID)
	}
	if doc.GrantFor(recipientID) == nil {
		return ErrGrantNotFound
	}

	if err := e.documents.UpdateGrantTier(ctx, documentID, recipientID, tier); err != nil {
		return ErrBackendUnavailable
	}
	return nil
}

// RevokeShare removes a recipient's grant. Owner only. Revocation stops
// future reads through the engine; plaintext the recipient cached while
// granted is out of reach.
func (e *Engine) RevokeShare(ctx context.Context, caller Session, documentID, recipientID string) error {
	if e == nil || e.documents == nil {
		return ErrEngineNotReady
	}

	doc, err := e.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != caller.IdentityID {
		return e.accessDenied(ctx, caller.IdentityID, documentID)
	}

	deleted, err := e.documents.DeleteGrant(ctx, documentID, recipientID)
	if err != nil {
		return ErrBackendUnavailable
	}
	if !deleted {
		return ErrGrantNotFound
	}

	e.metricInc(MetricShareRevoked)
	e.emitAudit(ctx, auditEventShareRevoked, true, caller.IdentityID, nil, func() map[string]string {
		return map[string]string{
			"document_id": documentID,
			"recipient":   recipientID,
		}
	})
	return nil
}

// DeleteDocument removes the document and all its grants. Owner or admin.
func (e *Engine) DeleteDocument(ctx context.Context, caller Session, documentID string) error {
	if e == nil || e.documents == nil {
		return ErrEngineNotReady
	}

	doc, err := e.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != caller.IdentityID && caller.Role != RoleAdmin && caller.Role != RoleSuperadmin {
		return e.accessDenied(ctx, caller.IdentityID, documentID)
	}

	if err := e.documents.DeleteDocument(ctx, documentID); err != nil {
		return ErrBackendUnavailable
	}

	e.emitAudit(ctx, auditEventDocumentDeleted, true, caller.IdentityID, nil, func() map[string]string {
		return map[string]string{"document_id": documentID}
	})
	return nil
}

func (e *Engine) getDocument(ctx context.Context, documentID string) (*DocumentRecord, error) {
	doc, err := e.documents.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, ErrBackendUnavailable
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (e *Engine) checkFormat(format Format, status VerificationStatus) error {
	switch format {
	case FormatPlain:
		return nil
	case FormatMarkdown:
		if status != StatusVerified {
			return ErrVerifiedRequired
		}
		return nil
	default:
		return ErrIdentityInvalid
	}
}

func (e *Engine) publicKeyFor(ctx context.Context, identityID string) (*rsa.PublicKey, error) {
	identity, err := e.identities.GetIdentityByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, ErrBackendUnavailable
	}
	pub, err := envelope.ParsePublicKeyPEM(identity.PublicKeyPEM)
	if err != nil {
		return nil, e.cryptoFailure(ctx, identityID, err)
	}
	return pub, nil
}

func (e *Engine) privateKeyFor(ctx context.Context, identityID string) (*rsa.PrivateKey, error) {
	pem, err := e.identities.GetPrivateKey(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, ErrBackendUnavailable
	}
	priv, err := envelope.ParsePrivateKeyPEM(pem)
	if err != nil {
		return nil, e.cryptoFailure(ctx, identityID, err)
	}
	return priv, nil
}

func (e *Engine) cryptoFailure(_ context.Context, _ string, _ error) error {
	e.metricInc(MetricCryptoFailure)
	return ErrCryptoFailure
}

func (e *Engine) accessDenied(ctx context.Context, identityID, documentID string) error {
	e.metricInc(MetricAccessDenied)
	e.emitAudit(ctx, auditEventAccessDenied, false, identityID, ErrNotAuthorized, func() map[string]string {
		return map[string]string{"document_id": documentID}
	})
	return ErrNotAuthorized
}
