package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
)

// DefaultRSABits is the keypair size generated at registration when the
// engine configuration does not override it.
const DefaultRSABits = 2048

const (
	privatePEMType = "PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
)

// KeyPair is one identity's asymmetric envelope keypair. The private half
// stays server-side in the credential store; it is never handed to engine
// callers.
type KeyPair struct {
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates an RSA keypair for envelope wrapping. bits <= 0
// selects DefaultRSABits.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits <= 0 {
		bits = DefaultRSABits
	}
	if bits < 2048 {
		return nil, errors.New("rsa key size must be >= 2048 bits")
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv}, nil
}

// Public returns the public half.
func (kp *KeyPair) Public() *rsa.PublicKey {
	return &kp.Private.PublicKey
}

// EncodePrivatePEM renders the private key as PKCS#8 PEM.
func (kp *KeyPair) EncodePrivatePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: privatePEMType, Bytes: der}), nil
}

// EncodePublicPEM renders the public key as PKIX PEM.
func (kp *KeyPair) EncodePublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.Public())
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicPEMType, Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS#8 PEM RSA private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privatePEMType {
		return nil, errors.New("invalid private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return priv, nil
}

// ParsePublicKeyPEM decodes a PKIX PEM RSA public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicPEMType {
		return nil, errors.New("invalid public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return pub, nil
}
