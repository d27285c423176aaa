package securenote

import "context"

// Authorize is the single access-control entry point for documents: it
// reports whether the caller may act on the document at the required tier.
// The owner always passes; anyone else needs a grant at or above the required
// tier. Verification status plays no part here.
//
// A nil return means allowed. Denials are ErrNotAuthorized; a missing
// document is ErrDocumentNotFound so callers can distinguish the two.
func (e *Engine) Authorize(ctx context.Context, caller Session, documentID string, required Tier) error {
	if e == nil || e.documents == nil {
		return ErrEngineNotReady
	}

	doc, err := e.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID == caller.IdentityID {
		return nil
	}

	grant := doc.GrantFor(caller.IdentityID)
	if grant == nil || !grant.Tier.Allows(required) {
		return e.accessDenied(ctx, caller.IdentityID, documentID)
	}
	return nil
}
