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

// Package directory is a home server's authoritative registry of known
// clients and peer servers (§4.8): local client sessions keyed by
// fingerprint, and peer-server sessions keyed by host:port, each holding
// the most recently advertised client set for that peer.
//
// Reads happen on every routing decision; mutations happen on connect,
// disconnect, and counter update. A single reader/writer lock gives
// routing operations a consistent snapshot and makes counter updates
// atomic with respect to the envelope they validate, per §4.8 and §5.
package directory

import (
	"errors"
	"sync"
)

// ErrUnknownFingerprint is returned when a counter check or lookup names a
// fingerprint with no local session.
var ErrUnknownFingerprint = errors.New("directory: unknown fingerprint")

// ErrStaleCounter is returned when CheckAndAdvance sees a counter that does
// not strictly exceed the sender's last accepted counter (§4.1, §7).
var ErrStaleCounter = errors.New("directory: stale or replayed counter")

// LocalClient is one entry of the local_clients map (§4.8).
type LocalClient struct {
	Fingerprint  string
	PublicKeyDER string // base64 DER SubjectPublicKeyInfo, as advertised
	LastCounter  uint64
	counterSet   bool   // true once a first counter has been accepted (§3 "initialised on startup")
	SessionRef   string // opaque session/connection id, e.g. from transport/ws
}

// PeerServer is one entry of the peer_servers map (§4.8).
type PeerServer struct {
	Address           string // host:port
	SessionRef        string
	AdvertisedClients []string // base64 DER public keys most recently advertised by this peer
}

// Directory is the typed registry contract a home server keeps over its
// local clients and peer servers. It generalizes the shape of a
// lookup/register/update/deactivate registry client to this protocol's
// domain, decoupled from any particular storage backend.
type Directory interface {
	// AddLocalClient registers a newly connected client session.
	AddLocalClient(fingerprint, publicKeyDER, sessionRef string) error
	// RemoveLocalClient drops a disconnected client session.
	RemoveLocalClient(fingerprint string)
	// LocalClients returns a snapshot of all locally-connected clients.
	LocalClients() []LocalClient
	// CheckAndAdvance validates counter against the fingerprint's last
	// accepted counter and atomically advances it on success (§4.1).
	CheckAndAdvance(fingerprint string, counter uint64) error

	// UpsertPeerServer records or updates a peer server's session and
	// its most recently advertised client set.
	UpsertPeerServer(address, sessionRef string, advertisedClients []string)
	// RemovePeerServer drops a disconnected peer server.
	RemovePeerServer(address string)
	// PeerServers returns a snapshot of all known peer servers.
	PeerServers() []PeerServer

	// Snapshot returns the full client_list view: this server's own
	// locally-connected clients plus every peer's most recently
	// advertised set (§4.5 "Directory advertisement").
	Snapshot() []PeerClients
}

// PeerClients is one address's client set, as surfaced in a client_list
// response (§6): the local server's own clients appear under its own
// advertised address.
type PeerClients struct {
	Address string
	Clients []string // base64 DER public keys
}

// registry is the in-memory Directory implementation. A single RWMutex
// guards both maps; routing and counter-check operations are frequent
// readers/single-entry writers so a coarse lock is sufficient at this
// scale (§4.8, §5).
type registry struct {
	mu           sync.RWMutex
	selfAddress  string
	localClients map[string]*LocalClient
	peerServers  map[string]*PeerServer
}

// New creates an empty in-memory Directory. selfAddress is this server's
// own host:port, used to label its local clients in Snapshot.
func New(selfAddress string) Directory {
	return &registry{
		selfAddress:  selfAddress,
		localClients: make(map[string]*LocalClient),
		peerServers:  make(map[string]*PeerServer),
	}
}

func (r *registry) AddLocalClient(fingerprint, publicKeyDER, sessionRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localClients[fingerprint] = &LocalClient{
		Fingerprint:  fingerprint,
		PublicKeyDER: publicKeyDER,
		SessionRef:   sessionRef,
	}
	return nil
}

func (r *registry) RemoveLocalClient(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.localClients, fingerprint)
}

func (r *registry) LocalClients() []LocalClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LocalClient, 0, len(r.localClients))
	for _, c := range r.localClients {
		out = append(out, *c)
	}
	return out
}

// CheckAndAdvance accepts the first counter seen for a fingerprint
// unconditionally (a counter may validly start at zero, §3), and
// requires every subsequent counter to strictly exceed the last
// accepted one.
func (r *registry) CheckAndAdvance(fingerprint string, counter uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.localClients[fingerprint]
	if !ok {
		return ErrUnknownFingerprint
	}
	if c.counterSet && counter <= c.LastCounter {
		return ErrStaleCounter
	}
	c.LastCounter = counter
	c.counterSet = true
	return nil
}

func (r *registry) UpsertPeerServer(address, sessionRef string, advertisedClients []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peerServers[address] = &PeerServer{
		Address:           address,
		SessionRef:        sessionRef,
		AdvertisedClients: advertisedClients,
	}
}

func (r *registry) RemovePeerServer(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peerServers, address)
}

func (r *registry) PeerServers() []PeerServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerServer, 0, len(r.peerServers))
	for _, p := range r.peerServers {
		out = append(out, *p)
	}
	return out
}

func (r *registry) Snapshot() []PeerClients {
	r.mu.RLock()
	defer r.mu.RUnlock()

	own := make([]string, 0, len(r.localClients))
	for _, c := range r.localClients {
		own = append(own, c.PublicKeyDER)
	}

	out := make([]PeerClients, 0, len(r.peerServers)+1)
	out = append(out, PeerClients{Address: r.selfAddress, Clients: own})
	for _, p := range r.peerServers {
		out = append(out, PeerClients{Address: p.Address, Clients: p.AdvertisedClients})
	}
	return out
}
