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

package client

import (
	"crypto/rsa"
	"errors"
	"sync"

	"github.com/olaf-neighbourhood/olaf/crypto"
)

// ErrUnknownSender is returned when a received envelope's sender has
// never appeared in any client_list this client has merged.
var ErrUnknownSender = errors.New("client: unknown sender")

// ErrStaleCounter is returned when an inbound sender's counter does not
// strictly exceed the last one accepted from that sender (§4.1).
var ErrStaleCounter = errors.New("client: stale or replayed counter")

type peerEntry struct {
	pub         *rsa.PublicKey
	lastCounter uint64
	counterSet  bool
}

// peerDirectory is this client's own view of other known clients,
// learned exclusively from client_list responses (§4.4
// "AwaitingDirectory: ... upon receipt of client_list, merge into
// local directory"). Unlike the server's directory.Directory, merging
// is additive: a client_list naming an already-known fingerprint never
// resets that fingerprint's counter state, since this client itself
// independently tracks replay state per sender as messages arrive.
type peerDirectory struct {
	mu    sync.RWMutex
	peers map[string]*peerEntry
}

func newPeerDirectory() *peerDirectory {
	return &peerDirectory{peers: make(map[string]*peerEntry)}
}

// Merge adds any fingerprint from pubkeysDER not already known. Already
// known fingerprints are left untouched.
func (d *peerDirectory) Merge(pubkeysDER []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, der := range pubkeysDER {
		pub, err := crypto.DecodePublicKeyDER(der)
		if err != nil {
			continue
		}
		fp := crypto.FingerprintOf(pub)
		if _, known := d.peers[fp]; known {
			continue
		}
		d.peers[fp] = &peerEntry{pub: pub}
	}
}

// PublicKey returns the known public key for fingerprint, if any.
func (d *peerDirectory) PublicKey(fingerprint string) (*rsa.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.peers[fingerprint]
	if !ok {
		return nil, false
	}
	return e.pub, true
}

// CheckAndAdvance validates and advances the per-sender inbound counter,
// mirroring directory.Directory's semantics: a sender's first observed
// counter is accepted unconditionally, subsequent ones must strictly
// increase (§3).
func (d *peerDirectory) CheckAndAdvance(fingerprint string, counter uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.peers[fingerprint]
	if !ok {
		return ErrUnknownSender
	}
	if e.counterSet && counter <= e.lastCounter {
		return ErrStaleCounter
	}
	e.lastCounter = counter
	e.counterSet = true
	return nil
}

// Fingerprints returns every known peer fingerprint (for "list users").
func (d *peerDirectory) Fingerprints() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.peers))
	for fp := range d.peers {
		out = append(out, fp)
	}
	return out
}
