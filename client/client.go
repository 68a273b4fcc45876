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

// Package client is the client-side state machine (§4.4): connect,
// hello, request the directory, then steady-state send/receive over a
// single home-server session.
package client

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/olaf-neighbourhood/olaf/crypto"
	"github.com/olaf-neighbourhood/olaf/envelope"
	"github.com/olaf-neighbourhood/olaf/internal/logger"
	"github.com/olaf-neighbourhood/olaf/transport/ws"
)

// State is the client connection's lifecycle stage (§4.4).
type State int

const (
	Connecting State = iota
	AwaitingDirectory
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingDirectory:
		return "awaiting_directory"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotReady is returned by outbound commands issued before the
// directory handshake has completed.
var ErrNotReady = errors.New("client: not ready")

// Message is a stored inbound chat (public or private) the application
// layer can read back via Messages().
type Message struct {
	Sender  string // fingerprint
	Text    string
	Private bool
}

// Client drives one session against its home server, from Connecting
// through Ready steady-state send/receive.
type Client struct {
	selfKey crypto.KeyPair
	selfFP  string
	log     logger.Logger

	mu      sync.Mutex
	sess    *ws.Session
	state   State
	counter uint64

	peers    *peerDirectory
	messages []Message
}

// New creates a client identity ready to Connect.
func New(selfKey crypto.KeyPair, log logger.Logger) *Client {
	return &Client{
		selfKey: selfKey,
		selfFP:  selfKey.Fingerprint(),
		log:     log,
		state:   Connecting,
		peers:   newPeerDirectory(),
	}
}

// Connect performs the full Connecting -> AwaitingDirectory -> Ready
// handshake synchronously (§4.4), then starts the background inbound
// read loop. It returns once the client is Ready.
func (c *Client) Connect(ctx context.Context, url string, dialTimeout time.Duration) error {
	sess, err := ws.Dial(ctx, url, dialTimeout)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	pubDER, err := crypto.EncodePublicKeyDER(c.selfKey.PublicKey())
	if err != nil {
		_ = sess.Close()
		return err
	}

	hello, err := envelope.SignPayload(c.selfKey, envelope.NewHello(pubDER), 1)
	if err != nil {
		_ = sess.Close()
		return err
	}
	if err := c.sendFrame(hello); err != nil {
		_ = sess.Close()
		return err
	}
	c.setCounter(1)

	c.setState(AwaitingDirectory)
	if err := c.sendFrame(envelope.NewClientListRequest()); err != nil {
		_ = sess.Close()
		return err
	}

	raw, err := sess.Receive()
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("client: awaiting directory: %w", err)
	}
	frame, err := envelope.DecodeFrame(raw)
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("client: awaiting directory: %w", err)
	}
	list, ok := frame.(*envelope.ClientList)
	if !ok {
		_ = sess.Close()
		return fmt.Errorf("client: expected client_list, got %T", frame)
	}
	c.mergeDirectory(list)

	c.setState(Ready)
	go c.readLoop()
	return nil
}

// State returns the client's current lifecycle stage.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) setCounter(n uint64) {
	c.mu.Lock()
	c.counter = n
	c.mu.Unlock()
}

// nextCounter increments before signing each outbound signed_data (§4.4
// "Outbound numbering: counter is incremented before signing").
func (c *Client) nextCounter() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter
}

func (c *Client) sendFrame(v interface{}) error {
	raw, err := envelope.EncodeFrame(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	return sess.Send(raw)
}

// readLoop processes inbound frames once Ready (§4.4 "Inbound handling
// accepts only: client_list, signed_data{public_chat}, signed_data{chat};
// all others are dropped and logged").
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		sess := c.sess
		c.mu.Unlock()

		raw, err := sess.Receive()
		if err != nil {
			c.setState(Closed)
			return
		}

		frame, err := envelope.DecodeFrame(raw)
		if err != nil {
			c.log.Warn("dropping malformed inbound frame", logger.Error(err))
			continue
		}

		switch f := frame.(type) {
		case *envelope.ClientList:
			c.mergeDirectory(f)
		case *envelope.SignedEnvelope:
			c.handleSigned(f)
		default:
			c.log.Warn("dropping unexpected inbound frame type", logger.Any("type", fmt.Sprintf("%T", f)))
		}
	}
}

func (c *Client) mergeDirectory(list *envelope.ClientList) {
	for _, entry := range list.Servers {
		c.peers.Merge(entry.Clients)
	}
}

func (c *Client) handleSigned(env *envelope.SignedEnvelope) {
	payload, err := envelope.DecodePayload(env)
	if err != nil {
		c.log.Warn("dropping malformed signed payload", logger.Error(err))
		return
	}

	switch p := payload.(type) {
	case *envelope.PublicChatPayload:
		c.handlePublicChat(env, p)
	case *envelope.ChatPayload:
		c.handleChat(env, p)
	default:
		c.log.Warn("dropping unexpected payload type on client session", logger.Any("type", fmt.Sprintf("%T", p)))
	}
}

func (c *Client) handlePublicChat(env *envelope.SignedEnvelope, p *envelope.PublicChatPayload) {
	pub, ok := c.peers.PublicKey(p.Sender)
	if !ok {
		c.log.Warn("dropping public_chat from unknown sender", logger.String("sender", p.Sender))
		return
	}
	if err := envelope.VerifyEnvelope(crypto.NewPublicKeyPair(pub), env); err != nil {
		c.log.Warn("dropping public_chat with bad signature", logger.String("sender", p.Sender))
		return
	}
	if err := c.peers.CheckAndAdvance(p.Sender, env.Counter); err != nil {
		c.log.Warn("dropping public_chat with stale counter", logger.String("sender", p.Sender))
		return
	}

	c.mu.Lock()
	c.messages = append(c.messages, Message{Sender: p.Sender, Text: p.Message})
	c.mu.Unlock()
}

func (c *Client) handleChat(env *envelope.SignedEnvelope, p *envelope.ChatPayload) {
	pub, ok := c.peers.PublicKey(p.Sender)
	if !ok {
		c.log.Warn("dropping chat from unknown sender", logger.String("sender", p.Sender))
		return
	}
	if err := envelope.VerifyEnvelope(crypto.NewPublicKeyPair(pub), env); err != nil {
		c.log.Warn("dropping chat with bad signature", logger.String("sender", p.Sender))
		return
	}
	if err := c.peers.CheckAndAdvance(p.Sender, env.Counter); err != nil {
		c.log.Warn("dropping chat with stale counter", logger.String("sender", p.Sender))
		return
	}

	iv, err1 := base64.StdEncoding.DecodeString(p.IV)
	ciphertext, err2 := base64.StdEncoding.DecodeString(p.Chat)
	if err1 != nil || err2 != nil {
		c.log.Warn("dropping chat with malformed ciphertext", logger.String("sender", p.Sender))
		return
	}
	wrappedKeys := make([][]byte, 0, len(p.SymmKeys))
	for _, k := range p.SymmKeys {
		wk, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			c.log.Warn("dropping chat with malformed wrapped key", logger.String("sender", p.Sender))
			return
		}
		wrappedKeys = append(wrappedKeys, wk)
	}

	plaintext, err := crypto.HybridDecrypt(c.selfKey.PrivateKey(), iv, ciphertext, wrappedKeys)
	if err != nil {
		// Not addressed to this client (no wrapped key unwraps), or tampered; silently drop (§4.4).
		return
	}

	var inner envelope.ChatInner
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return
	}
	if !containsFingerprint(inner.Participants, c.selfFP) {
		return
	}

	c.mu.Lock()
	c.messages = append(c.messages, Message{Sender: p.Sender, Text: inner.Message, Private: true})
	c.mu.Unlock()
}

func containsFingerprint(participants []string, fp string) bool {
	for _, p := range participants {
		if p == fp {
			return true
		}
	}
	return false
}

// SendPublicChat broadcasts a plaintext message to the whole network (§4.4).
func (c *Client) SendPublicChat(message string) error {
	if c.State() != Ready {
		return ErrNotReady
	}
	env, err := envelope.SignPayload(c.selfKey, envelope.NewPublicChat(c.selfFP, message), c.nextCounter())
	if err != nil {
		return err
	}
	return c.sendFrame(env)
}

// SendChat encrypts message for recipients and routes it via
// destinationServers — the set of home-server addresses the recipients
// are attached to (§3, §4.4).
func (c *Client) SendChat(destinationServers []string, recipients []*rsa.PublicKey, participants []string, message string) error {
	if c.State() != Ready {
		return ErrNotReady
	}

	inner := envelope.ChatInner{Participants: participants, Message: message}
	plaintext, err := json.Marshal(inner)
	if err != nil {
		return err
	}

	ct, err := crypto.HybridEncrypt(recipients, plaintext)
	if err != nil {
		return err
	}

	symmKeys := make([]string, len(ct.WrappedKeys))
	for i, wk := range ct.WrappedKeys {
		symmKeys[i] = base64.StdEncoding.EncodeToString(wk)
	}

	payload := envelope.NewChat(
		c.selfFP,
		destinationServers,
		base64.StdEncoding.EncodeToString(ct.IV),
		base64.StdEncoding.EncodeToString(ct.Ciphertext),
		symmKeys,
	)
	env, err := envelope.SignPayload(c.selfKey, payload, c.nextCounter())
	if err != nil {
		return err
	}
	return c.sendFrame(env)
}

// ListUsers returns every fingerprint known from the merged directory.
func (c *Client) ListUsers() []string {
	return c.peers.Fingerprints()
}

// PeerPublicKey resolves a known peer's public key by fingerprint, for
// building the recipients list passed to SendChat.
func (c *Client) PeerPublicKey(fingerprint string) (*rsa.PublicKey, bool) {
	return c.peers.PublicKey(fingerprint)
}

// Messages returns every stored inbound message, in arrival order.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Close closes the underlying session (idempotent, §4.3).
func (c *Client) Close() error {
	c.setState(Closed)
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}
