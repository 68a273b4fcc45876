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

// Package envelope is the envelope codec (§4.2): canonical textual
// serialization of envelopes and payloads, and the signature-input
// construction shared by client and server.
//
// Canonicalisation (design note, §9): this deployment fixes its canonical
// form to the field order declared on each payload struct below, marshaled
// with Go's compact encoding/json (no insignificant whitespace). Because
// every sender and verifier in this codebase share the same struct
// definitions, both sides always produce identical bytes for the same
// logical payload — the deployment-wide agreement §4.2 and §9 require.
// A received envelope's `data` is never re-serialized: it is carried as
// a json.RawMessage exactly as it arrived, so the originating signature
// (computed over the sender's own canonical bytes) keeps verifying no
// matter how this implementation would have encoded the same payload.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Top-level frame types (§6 wire form).
const (
	TypeSignedData        = "signed_data"
	TypeClientListRequest = "client_list_request"
	TypeClientList        = "client_list"
)

// Payload (`data`) types (§3).
const (
	PayloadHello       = "hello"
	PayloadServerHello = "server_hello"
	PayloadPublicChat  = "public_chat"
	PayloadChat        = "chat"
)

// Decoding errors (§4.2, §7).
var (
	ErrUnknownType    = errors.New("envelope: unknown type")
	ErrMalformed      = errors.New("envelope: malformed record")
	ErrMissingField   = errors.New("envelope: missing required field")
	ErrOutOfRange     = errors.New("envelope: numeric field out of range")
)

// SignedEnvelope is the `signed_data` wrapper (§3, §6).
//
// Data is kept as the raw bytes received on the wire (or, for locally
// authored envelopes, the raw bytes this process canonically encoded) so
// that forwarding never touches the signed bytes (§9 design note).
type SignedEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Counter   uint64          `json:"counter"`
	Signature string          `json:"signature"`
}

// ClientListRequest is the unsigned `client_list_request` message (§3).
type ClientListRequest struct {
	Type string `json:"type"`
}

// ServerClients is one entry of a `client_list` response (§6).
type ServerClients struct {
	Address string   `json:"address"`
	Clients []string `json:"clients"` // base64 DER SubjectPublicKeyInfo per client
}

// ClientList is the unsigned server -> client directory response (§3, §6).
type ClientList struct {
	Type    string          `json:"type"`
	Servers []ServerClients `json:"servers"`
}

// NewClientListRequest builds the frame a client sends to request a directory.
func NewClientListRequest() *ClientListRequest {
	return &ClientListRequest{Type: TypeClientListRequest}
}

// NewClientList builds the frame a server sends in response.
func NewClientList(servers []ServerClients) *ClientList {
	return &ClientList{Type: TypeClientList, Servers: servers}
}

// peekType extracts just the `type` discriminator from a raw frame.
func peekType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return "", ErrMissingField
	}
	return head.Type, nil
}

// DecodeFrame parses one wire frame (one WebSocket message, §4.3) into one
// of *SignedEnvelope, *ClientListRequest, or *ClientList. Any other result
// (including a parse failure) is ErrUnknownType / ErrMalformed /
// ErrMissingField and the
// caller should drop the frame and keep the session open (§7).
func DecodeFrame(raw []byte) (interface{}, error) {
	kind, err := peekType(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case TypeSignedData:
		var env SignedEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(env.Data) == 0 {
			return nil, ErrMissingField
		}
		if env.Signature == "" {
			return nil, ErrMissingField
		}
		return &env, nil
	case TypeClientListRequest:
		return &ClientListRequest{Type: kind}, nil
	case TypeClientList:
		var list ClientList
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &list, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
}

// EncodeFrame serializes any of the frame types above for writing to the wire.
func EncodeFrame(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
