package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"io"
)

// ContentKeyBytes is the size of the per-document symmetric key (AES-256).
const ContentKeyBytes = 32

var (
	// ErrOpenFailed is returned when authenticated decryption rejects the
	// ciphertext. Corrupted or tampered data must fail the request, never
	// degrade to partial plaintext.
	ErrOpenFailed = errors.New("authenticated decryption failed")
	// ErrUnwrapFailed is returned when the content key cannot be recovered
	// under the supplied private key.
	ErrUnwrapFailed = errors.New("content key unwrap failed")
	// ErrKeySize rejects content keys of the wrong length.
	ErrKeySize = errors.New("content key must be 32 bytes")
)

// NewContentKey draws a fresh 32-byte content key from crypto/rand.
func NewContentKey() ([]byte, error) {
	key := make([]byte, ContentKeyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM under key. The random nonce is
// prepended to the returned ciphertext.
func Seal(plaintext, key []byte) ([]byte, error) {
	if len(key) != ContentKeyBytes {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a Seal output. Any authentication failure maps to
// ErrOpenFailed without detail.
func Open(sealed, key []byte) ([]byte, error) {
	if len(key) != ContentKeyBytes {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, ErrOpenFailed
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// WrapKey encrypts a content key under a recipient's public key with
// RSA-OAEP(SHA-256). Each call randomizes, so wrapped keys are never
// comparable across recipients.
func WrapKey(key []byte, pub *rsa.PublicKey) ([]byte, error) {
	if len(key) != ContentKeyBytes {
		return nil, ErrKeySize
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
}

// UnwrapKey recovers a content key wrapped by WrapKey.
func UnwrapKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	if len(key) != ContentKeyBytes {
		return nil, ErrUnwrapFailed
	}
	return key, nil
}
