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

package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Signer is the minimal capability SignPayload needs; satisfied by
// crypto.KeyPair without this package importing crypto (keeps the codec
// free of a dependency on the primitives layer's concrete types).
type Signer interface {
	Sign(dataBytes []byte, counter uint64) ([]byte, error)
}

// Verifier is the minimal capability needed to check a SignedEnvelope;
// satisfied by crypto.KeyPair.
type Verifier interface {
	Verify(dataBytes []byte, counter uint64, signature []byte) error
}

func encodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// VerifyEnvelope checks env's signature under verifier, using env.Data
// exactly as received (never re-serialized, per the package doc).
func VerifyEnvelope(verifier Verifier, env *SignedEnvelope) error {
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return ErrMalformed
	}
	return verifier.Verify(env.Data, env.Counter, sig)
}

// HelloPayload is a client's first message to its home server (§3, §6).
type HelloPayload struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"` // base64 DER SubjectPublicKeyInfo
}

// ServerHelloPayload is a server's first message to a peer server (§3, §6).
type ServerHelloPayload struct {
	Type   string `json:"type"`
	Sender string `json:"sender"` // this server's own host:port
}

// PublicChatPayload is a broadcast text message (§3, §6).
type PublicChatPayload struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"` // fingerprint
	Message string `json:"message"`
}

// ChatPayload is a private text message to N recipients (§3, §6).
//
// Sender carries the originating client's fingerprint so a recipient
// can resolve the signing public key and verify the outer signature
// before attempting hybrid decryption (§4.4): the plaintext sender,
// inside the encrypted ChatInner, is only available after decryption
// succeeds, which is too late to verify the signature that covers the
// still-encrypted record.
type ChatPayload struct {
	Type               string   `json:"type"`
	Sender             string   `json:"sender"` // fingerprint
	DestinationServers []string `json:"destination_servers"`
	IV                 string   `json:"iv"`        // base64
	SymmKeys           []string `json:"symm_keys"` // base64, one per recipient
	Chat               string   `json:"chat"`      // base64 ciphertext of ChatInner
}

// ChatInner is the decrypted inner plaintext of a ChatPayload.Chat field
// (§6): participants[0] is always the sender.
type ChatInner struct {
	Participants []string `json:"participants"`
	Message      string   `json:"message"`
}

// NewHello builds a hello payload.
func NewHello(publicKeyDER string) *HelloPayload {
	return &HelloPayload{Type: PayloadHello, PublicKey: publicKeyDER}
}

// NewServerHello builds a server_hello payload.
func NewServerHello(sender string) *ServerHelloPayload {
	return &ServerHelloPayload{Type: PayloadServerHello, Sender: sender}
}

// NewPublicChat builds a public_chat payload.
func NewPublicChat(senderFingerprint, message string) *PublicChatPayload {
	return &PublicChatPayload{Type: PayloadPublicChat, Sender: senderFingerprint, Message: message}
}

// NewChat builds a chat payload from an already-encrypted body.
func NewChat(senderFingerprint string, destinationServers []string, iv, chatCiphertext string, symmKeys []string) *ChatPayload {
	return &ChatPayload{
		Type:               PayloadChat,
		Sender:             senderFingerprint,
		DestinationServers: destinationServers,
		IV:                 iv,
		SymmKeys:           symmKeys,
		Chat:               chatCiphertext,
	}
}

// CanonicalEncode serializes a payload to this deployment's canonical form
// (struct field order, compact encoding/json — see package doc).
func CanonicalEncode(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

// SignPayload canonically encodes payload, signs it under counter, and
// returns a ready-to-send SignedEnvelope (§4.1, §4.4 "counter incremented
// before signing").
func SignPayload(signer Signer, payload interface{}, counter uint64) (*SignedEnvelope, error) {
	data, err := CanonicalEncode(payload)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(data, counter)
	if err != nil {
		return nil, err
	}
	return &SignedEnvelope{
		Type:      TypeSignedData,
		Data:      data,
		Counter:   counter,
		Signature: encodeSignature(sig),
	}, nil
}

// DecodePayload parses the `type` discriminator out of env.Data and
// unmarshals into the matching concrete payload type.
func DecodePayload(env *SignedEnvelope) (interface{}, error) {
	kind, err := peekType(env.Data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case PayloadHello:
		var p HelloPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if p.PublicKey == "" {
			return nil, ErrMissingField
		}
		return &p, nil
	case PayloadServerHello:
		var p ServerHelloPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if p.Sender == "" {
			return nil, ErrMissingField
		}
		return &p, nil
	case PayloadPublicChat:
		var p PublicChatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if p.Sender == "" {
			return nil, ErrMissingField
		}
		return &p, nil
	case PayloadChat:
		var p ChatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if p.Sender == "" || p.IV == "" || p.Chat == "" || len(p.SymmKeys) == 0 {
			return nil, ErrMissingField
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
}
