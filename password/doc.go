// Package password provides argon2id password hashing with PHC-encoded
// parameters and constant-time verification.
//
// Hashes are self-describing: memory, time, and parallelism ride in the
// encoded string, so parameters can be raised over time and old hashes
// detected via [Hasher.NeedsRehash] and upgraded on the next successful
// login.
package password
