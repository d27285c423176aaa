// Package internal contains helper utilities that are intentionally private
// to securenote, currently secure random token-identifier generation.
//
// # What this package must NOT do
//
//   - Export types that appear in the public securenote API.
//   - Be imported by any package outside the securenote module.
package internal
