// Package crypto provides the cryptographic primitives layer of the
// protocol core (§4.1): RSA identity key pairs, fingerprint derivation,
// counter-bound signatures, and multi-recipient hybrid encryption.
package crypto

import (
	"crypto/rsa"
	"errors"
)

// KeyType names the signature/identity scheme this module supports.
// RSA is the only supported scheme: §3 fixes the client identity to an
// RSA key pair (public exponent 65537, modulus >= 2048 bits).
type KeyType string

// KeyTypeRSA is the sole supported key type.
const KeyTypeRSA KeyType = "RSA"

// KeyFormat names the encoding used for key import/export.
type KeyFormat string

const (
	// KeyFormatPEM is PKCS#1/PKIX PEM, the on-disk identity format.
	KeyFormatPEM KeyFormat = "PEM"
)

// KeyPair is a client or server's long-term RSA identity.
type KeyPair interface {
	// PublicKey returns the RSA public key.
	PublicKey() *rsa.PublicKey

	// PrivateKey returns the RSA private key.
	PrivateKey() *rsa.PrivateKey

	// Type returns the key type (always KeyTypeRSA).
	Type() KeyType

	// Sign signs SHA-256(dataBytes || ascii_decimal(counter)) per §4.1.
	Sign(dataBytes []byte, counter uint64) ([]byte, error)

	// Verify checks a signature produced by Sign.
	Verify(dataBytes []byte, counter uint64, signature []byte) error

	// Fingerprint returns this key pair's stable client identifier (§3).
	Fingerprint() string
}

// Sentinel errors per the failure modes named in §4.1.
var (
	ErrBadKey        = errors.New("crypto: bad key")
	ErrBadSignature  = errors.New("crypto: signature does not verify")
	ErrBadCiphertext = errors.New("crypto: ciphertext failed to authenticate")
)
