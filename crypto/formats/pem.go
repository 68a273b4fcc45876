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

// Package formats handles on-disk PEM encoding for the RSA identity key
// pair a client or server loads at startup (§4.1, §6 configuration).
package formats

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

var errDecodePEM = errors.New("formats: invalid PEM block")

// ExportPrivateKeyPEM encodes an RSA private key as a PKCS#1 PEM block.
func ExportPrivateKeyPEM(priv *rsa.PrivateKey) []byte {
	der := x509.MarshalPKCS1PrivateKey(priv)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

// ExportPublicKeyPEM encodes an RSA public key as a PKIX PEM block.
func ExportPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ImportPrivateKeyPEM parses a PKCS#1 PEM-encoded RSA private key.
func ImportPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errDecodePEM
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ImportPublicKeyPEM parses a PKIX PEM-encoded RSA public key.
func ImportPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errDecodePEM
	}
	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("formats: not an RSA public key")
	}
	return pub, nil
}

// LoadOrCreatePrivateKey reads an RSA private key from path, generating and
// persisting a fresh one (plus the matching public key at pubPath, replacing
// any file already there) if the private key file does not exist yet.
// This is the client/server identity bootstrap:
// §3 treats the key pair as living for the lifetime of its key material.
func LoadOrCreatePrivateKey(path, pubPath string, generate func() (*rsa.PrivateKey, error)) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ImportPrivateKeyPEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	priv, err := generate()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, ExportPrivateKeyPEM(priv), 0o600); err != nil {
		return nil, err
	}
	pubPEM, err := ExportPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return nil, err
	}
	return priv, nil
}
