// Package envelope implements the content-encryption scheme for shared
// documents: a fresh symmetric content key per document, AES-256-GCM over
// the content body, and RSA-OAEP wrapping of the content key under each
// authorized recipient's public key.
//
// The ciphertext body is stored once per document; only wrapped keys are
// recipient-scoped. Rotating content means generating a new content key,
// re-sealing, and re-wrapping for every grant — the engine commits all of
// that in one store transaction.
//
// Revoking a grant removes future access only. A recipient who decrypted and
// cached plaintext before revocation keeps that copy; this package makes no
// forward-secrecy claim against it.
package envelope
