// Package securenote is the identity and access-control core of the
// secure-note service: credential authentication with an optional time-based
// second factor, an administrator-gated identity-verification workflow, and
// per-recipient envelope encryption for shared documents.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// securenote is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces ([IdentityProvider], [DocumentStore],
// [AuditSink], [Mailer]), and value types. Cryptographic primitives live in
// the envelope, jwt, and password subpackages; token backing stores and audit
// dispatch are internal to the engine.
//
// # What this package must NOT do
//
//   - Expose Redis clients, private-key material, or store encodings in its
//     public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Re-derive role or grant checks at call sites: [Engine.Authorize] is the
//     single access-control entry point.
//
// # Performance contract
//
// ValidateSession is the hot path. It must complete without store round-trips
// and fail closed on any tampering, algorithm mismatch, or expiry. Login,
// second-factor confirmation, and document operations are allowed one Redis
// or store round-trip per step.
package securenote
