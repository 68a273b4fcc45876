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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"io"
	"time"

	"github.com/olaf-neighbourhood/olaf/internal/metrics"
)

const (
	aesKeyBytes     = 32 // AES-256
	gcmIVBytes      = 12 // 96-bit IV
	hybridAlgorithm = "rsa-oaep+aes-gcm"
)

// HybridCiphertext is the result of HybridEncrypt: one AES-256-GCM
// ciphertext plus one RSA-OAEP wrapped key per recipient, in the same
// order recipients were supplied (§4.1, glossary "Hybrid encryption").
type HybridCiphertext struct {
	IV          []byte
	Ciphertext  []byte
	WrappedKeys [][]byte
}

// HybridEncrypt generates a fresh random AES-256 key and 96-bit IV,
// encrypts plaintext once under AES-256-GCM, and wraps the AES key
// independently under each recipient's RSA public key using OAEP-SHA256.
func HybridEncrypt(recipients []*rsa.PublicKey, plaintext []byte) (*HybridCiphertext, error) {
	start := time.Now()
	ct, err := hybridEncrypt(recipients, plaintext)
	metrics.CryptoOperationDuration.WithLabelValues("encrypt", hybridAlgorithm).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, err
	}
	metrics.CryptoOperations.WithLabelValues("encrypt", hybridAlgorithm).Inc()
	return ct, nil
}

func hybridEncrypt(recipients []*rsa.PublicKey, plaintext []byte) (*HybridCiphertext, error) {
	key := make([]byte, aesKeyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	iv := make([]byte, gcmIVBytes)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, iv, plaintext, nil)

	wrapped := make([][]byte, len(recipients))
	for i, pub := range recipients {
		if pub == nil {
			return nil, ErrBadKey
		}
		wk, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
		if err != nil {
			return nil, err
		}
		wrapped[i] = wk
	}

	return &HybridCiphertext{IV: iv, Ciphertext: ciphertext, WrappedKeys: wrapped}, nil
}

// HybridDecrypt tries each wrapped key in turn against priv, returning the
// plaintext on the first one that unwraps and whose AEAD tag verifies.
// Returns ErrBadCiphertext if none succeed.
func HybridDecrypt(priv *rsa.PrivateKey, iv, ciphertext []byte, wrappedKeys [][]byte) ([]byte, error) {
	start := time.Now()
	plaintext, err := hybridDecrypt(priv, iv, ciphertext, wrappedKeys)
	metrics.CryptoOperationDuration.WithLabelValues("decrypt", hybridAlgorithm).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, err
	}
	metrics.CryptoOperations.WithLabelValues("decrypt", hybridAlgorithm).Inc()
	return plaintext, nil
}

func hybridDecrypt(priv *rsa.PrivateKey, iv, ciphertext []byte, wrappedKeys [][]byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrBadKey
	}
	if len(iv) != gcmIVBytes {
		return nil, ErrBadCiphertext
	}

	for _, wk := range wrappedKeys {
		key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wk, nil)
		if err != nil {
			continue
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			continue
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			continue
		}
		plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
		if err != nil {
			continue
		}
		return plaintext, nil
	}
	return nil, ErrBadCiphertext
}
