// Package jwt mints and validates securenote session tokens.
//
// Session tokens are self-describing bearer credentials: identity ID, role,
// and account version ride in the claims, integrity-protected by HS256 or
// Ed25519 with the algorithm pinned at parse time. Validation is pure CPU —
// no store round-trips — and fails closed on tampering, algorithm mismatch,
// or expiry.
package jwt
