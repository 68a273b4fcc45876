// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/olaf-neighbourhood/olaf/internal/metrics"
)

const (
	rsaKeyBits    = 2048
	signAlgorithm = "rsa-pkcs1v15"
)

// rsaKeyPair implements KeyPair for RS256-style identities: PKCS#1 v1.5
// signatures over SHA-256, matching §3's "pick one scheme, be consistent
// within a deployment" guidance (see DESIGN.md open-question resolution).
type rsaKeyPair struct {
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
}

// GenerateClientKey generates a new RSA-2048 client identity (§4.1).
func GenerateClientKey() (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, err
	}
	return &rsaKeyPair{priv: priv, pub: &priv.PublicKey}, nil
}

// NewKeyPair wraps an existing RSA private key as a KeyPair.
func NewKeyPair(priv *rsa.PrivateKey) KeyPair {
	return &rsaKeyPair{priv: priv, pub: &priv.PublicKey}
}

// NewPublicKeyPair wraps a public key only; Sign returns ErrBadKey.
func NewPublicKeyPair(pub *rsa.PublicKey) KeyPair {
	return &rsaKeyPair{pub: pub}
}

func (kp *rsaKeyPair) PublicKey() *rsa.PublicKey   { return kp.pub }
func (kp *rsaKeyPair) PrivateKey() *rsa.PrivateKey { return kp.priv }
func (kp *rsaKeyPair) Type() KeyType               { return KeyTypeRSA }

// signingDigest hashes the canonical data bytes concatenated with the
// decimal ASCII counter, per §4.1 and §4.2: "exactly canonical(data) ||
// ascii_decimal(counter) — no whitespace, no envelope fields, no signature".
func signingDigest(dataBytes []byte, counter uint64) [32]byte {
	buf := make([]byte, 0, len(dataBytes)+20)
	buf = append(buf, dataBytes...)
	buf = strconv.AppendUint(buf, counter, 10)
	return sha256.Sum256(buf)
}

// Sign implements KeyPair.
func (kp *rsaKeyPair) Sign(dataBytes []byte, counter uint64) ([]byte, error) {
	start := time.Now()
	sig, err := kp.sign(dataBytes, counter)
	metrics.CryptoOperationDuration.WithLabelValues("sign", signAlgorithm).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("sign").Inc()
		return nil, err
	}
	metrics.CryptoOperations.WithLabelValues("sign", signAlgorithm).Inc()
	return sig, nil
}

func (kp *rsaKeyPair) sign(dataBytes []byte, counter uint64) ([]byte, error) {
	if kp.priv == nil {
		return nil, ErrBadKey
	}
	digest := signingDigest(dataBytes, counter)
	return rsa.SignPKCS1v15(rand.Reader, kp.priv, crypto.SHA256, digest[:])
}

// Verify implements KeyPair.
func (kp *rsaKeyPair) Verify(dataBytes []byte, counter uint64, signature []byte) error {
	start := time.Now()
	err := kp.verify(dataBytes, counter, signature)
	metrics.CryptoOperationDuration.WithLabelValues("verify", signAlgorithm).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return err
	}
	metrics.CryptoOperations.WithLabelValues("verify", signAlgorithm).Inc()
	return nil
}

func (kp *rsaKeyPair) verify(dataBytes []byte, counter uint64, signature []byte) error {
	if kp.pub == nil {
		return ErrBadKey
	}
	digest := signingDigest(dataBytes, counter)
	if err := rsa.VerifyPKCS1v15(kp.pub, crypto.SHA256, digest[:], signature); err != nil {
		return ErrBadSignature
	}
	return nil
}

// Fingerprint implements KeyPair: Base64(SHA-256(DER SubjectPublicKeyInfo)) (§3).
func (kp *rsaKeyPair) Fingerprint() string {
	return FingerprintOf(kp.pub)
}

// FingerprintOf derives the stable client identifier for a raw RSA public key.
func FingerprintOf(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		// MarshalPKIXPublicKey only fails on unsupported key types; an
		// *rsa.PublicKey is always supported.
		panic(err)
	}
	sum := sha256.Sum256(der)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// EncodePublicKeyDER returns the base64 DER SubjectPublicKeyInfo encoding
// used on the wire for `hello.public_key` and `client_list.clients[]` (§6).
func EncodePublicKeyDER(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKeyDER parses a base64 DER SubjectPublicKeyInfo into an RSA
// public key, rejecting non-RSA keys.
func DecodePublicKeyDER(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrBadKey
	}
	pubAny, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, ErrBadKey
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, ErrBadKey
	}
	return pub, nil
}
