package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// TokenID is a 128-bit random identifier used for pending second-factor
// tokens. Opaque on the wire: base64url without padding.
type TokenID [16]byte

// NewTokenID draws a TokenID from crypto/rand.
func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

// Bytes returns the raw identifier.
func (t TokenID) Bytes() []byte {
	return t[:]
}

// String renders the identifier in its wire form.
func (t TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// ParseTokenID decodes a wire-form identifier, rejecting any input that is
// not exactly 16 decoded bytes.
func ParseTokenID(token string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}
