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

// Package server is the server-side peer state machine (§4.5): accept
// peers over the session layer, classify them as client or server
// peers, validate hellos, track per-sender counters, maintain the
// directory, and route/forward envelopes.
package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olaf-neighbourhood/olaf/crypto"
	"github.com/olaf-neighbourhood/olaf/directory"
	"github.com/olaf-neighbourhood/olaf/envelope"
	"github.com/olaf-neighbourhood/olaf/internal/logger"
	"github.com/olaf-neighbourhood/olaf/internal/metrics"
	"github.com/olaf-neighbourhood/olaf/transport/ws"
)

// Role is a peer connection's classification (§4.5).
type Role int

const (
	Unverified Role = iota
	ClientRole
	ServerRole
	ClosedRole
)

func (r Role) String() string {
	switch r {
	case Unverified:
		return "unverified"
	case ClientRole:
		return "client"
	case ServerRole:
		return "server"
	case ClosedRole:
		return "closed"
	default:
		return "unknown"
	}
}

type peerConn struct {
	id          string
	sess        *ws.Session
	role        Role
	fingerprint string // set once role == ClientRole
	address     string // set once role == ServerRole
}

// Server routes envelopes between locally-connected clients and
// connected peer servers according to §4.5's policy.
type Server struct {
	selfAddress string
	dir         directory.Directory
	log         logger.Logger

	mu         sync.RWMutex
	conns      map[string]*peerConn
	neighbours map[string]struct{} // configured peer addresses allowed as server peers
}

// New creates a Server. neighbours is the configured list of peer
// host:port endpoints eligible to classify as server peers (§4.5).
func New(selfAddress string, dir directory.Directory, neighbours []string, log logger.Logger) *Server {
	set := make(map[string]struct{}, len(neighbours))
	for _, n := range neighbours {
		set[n] = struct{}{}
	}
	return &Server{
		selfAddress: selfAddress,
		dir:         dir,
		log:         log,
		conns:       make(map[string]*peerConn),
		neighbours:  set,
	}
}

// HandleSession services one accepted or dialled session until it closes.
// It registers the connection, reads frames until EOF/error, dispatches
// each, and on return cleans up any directory state the connection held.
func (s *Server) HandleSession(sess *ws.Session) {
	conn := &peerConn{id: uuid.NewString(), sess: sess, role: Unverified}

	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()
	metrics.SessionsActive.Inc()

	defer s.cleanup(conn)

	for {
		raw, err := sess.Receive()
		if err != nil {
			return
		}

		frame, err := envelope.DecodeFrame(raw)
		if err != nil {
			s.log.Warn("dropping malformed frame", logger.String("peer", conn.id), logger.Error(err))
			continue
		}

		start := time.Now()
		wasUnverified := conn.role == Unverified
		dispatchErr := s.dispatch(conn, raw, frame)
		metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
		metrics.MessageSize.Observe(float64(len(raw)))

		status := "success"
		if dispatchErr != nil {
			status = "failure"
		}
		metrics.MessagesProcessed.WithLabelValues(frameTypeLabel(frame), status).Inc()

		if dispatchErr != nil {
			s.log.Warn("dropping rejected frame", logger.String("peer", conn.id), logger.Error(dispatchErr))
			if errors.Is(dispatchErr, directory.ErrStaleCounter) {
				metrics.ReplayAttacksDetected.Inc()
			}
			if wasUnverified {
				// A rejected frame on a still-unverified session (bad
				// hello/server_hello, or anything else arriving first)
				// closes the session immediately (§4.5, §7 UnverifiedSender).
				return
			}
		}
	}
}

// frameTypeLabel names a decoded top-level frame for metrics labelling.
func frameTypeLabel(frame interface{}) string {
	switch f := frame.(type) {
	case *envelope.SignedEnvelope:
		return f.Type
	case *envelope.ClientListRequest:
		return f.Type
	case *envelope.ClientList:
		return f.Type
	default:
		return "unknown"
	}
}

func (s *Server) cleanup(conn *peerConn) {
	s.mu.Lock()
	closingRole := conn.role
	conn.role = ClosedRole
	delete(s.conns, conn.id)
	s.mu.Unlock()

	metrics.SessionsActive.Dec()
	metrics.SessionsClosed.WithLabelValues(closingRole.String()).Inc()

	switch {
	case conn.fingerprint != "":
		s.dir.RemoveLocalClient(conn.fingerprint)
		s.pushDirectoryToPeers()
	case conn.address != "":
		s.dir.RemovePeerServer(conn.address)
	}
	_ = conn.sess.Close()
}

// dispatch routes one decoded frame according to the connection's
// current role (§4.5).
func (s *Server) dispatch(conn *peerConn, raw []byte, frame interface{}) error {
	switch conn.role {
	case Unverified:
		return s.dispatchUnverified(conn, frame)
	case ClientRole:
		return s.dispatchClient(conn, raw, frame)
	case ServerRole:
		return s.dispatchServer(conn, raw, frame)
	default:
		return fmt.Errorf("server: frame on closed connection")
	}
}

func (s *Server) dispatchUnverified(conn *peerConn, frame interface{}) error {
	env, ok := frame.(*envelope.SignedEnvelope)
	if !ok {
		return fmt.Errorf("server: first frame must be signed_data")
	}

	payload, err := envelope.DecodePayload(env)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *envelope.HelloPayload:
		metrics.HandshakesInitiated.WithLabelValues("client").Inc()
		return s.acceptHello(conn, env, p)
	case *envelope.ServerHelloPayload:
		metrics.HandshakesInitiated.WithLabelValues("server").Inc()
		return s.acceptServerHello(conn, env, p)
	default:
		metrics.HandshakesFailed.WithLabelValues("unexpected_first_frame").Inc()
		return fmt.Errorf("server: first frame must be hello or server_hello, got %T", p)
	}
}

func (s *Server) acceptHello(conn *peerConn, env *envelope.SignedEnvelope, hello *envelope.HelloPayload) error {
	pub, err := crypto.DecodePublicKeyDER(hello.PublicKey)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("bad_key").Inc()
		return err
	}
	verifier := crypto.NewPublicKeyPair(pub)
	if err := envelope.VerifyEnvelope(verifier, env); err != nil {
		metrics.HandshakesFailed.WithLabelValues("bad_signature").Inc()
		return err
	}

	fingerprint := crypto.FingerprintOf(pub)
	if err := s.dir.AddLocalClient(fingerprint, hello.PublicKey, conn.id); err != nil {
		metrics.HandshakesFailed.WithLabelValues("directory_rejected").Inc()
		return err
	}
	if err := s.dir.CheckAndAdvance(fingerprint, env.Counter); err != nil {
		s.dir.RemoveLocalClient(fingerprint)
		metrics.HandshakesFailed.WithLabelValues("stale_counter").Inc()
		return err
	}

	s.mu.Lock()
	conn.role = ClientRole
	conn.fingerprint = fingerprint
	s.mu.Unlock()

	metrics.SessionsCreated.WithLabelValues("client").Inc()
	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	s.pushDirectoryToPeers()
	return nil
}

func (s *Server) acceptServerHello(conn *peerConn, env *envelope.SignedEnvelope, hello *envelope.ServerHelloPayload) error {
	if _, ok := s.neighbours[hello.Sender]; !ok {
		metrics.HandshakesFailed.WithLabelValues("unconfigured_neighbour").Inc()
		return fmt.Errorf("server: %q is not a configured neighbour", hello.Sender)
	}

	s.mu.Lock()
	conn.role = ServerRole
	conn.address = hello.Sender
	s.mu.Unlock()

	metrics.SessionsCreated.WithLabelValues("server").Inc()
	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	s.dir.UpsertPeerServer(hello.Sender, conn.id, nil)
	return nil
}

// dispatchClient handles frames on an established client session (§4.5
// "From Client, accepted message types are exactly client_list_request,
// signed_data{public_chat}, signed_data{chat}").
func (s *Server) dispatchClient(conn *peerConn, raw []byte, frame interface{}) error {
	switch f := frame.(type) {
	case *envelope.ClientListRequest:
		return s.replyClientList(conn)
	case *envelope.SignedEnvelope:
		return s.dispatchSignedFromClient(conn, raw, f)
	default:
		return fmt.Errorf("server: unexpected frame type %T from client peer", f)
	}
}

func (s *Server) dispatchSignedFromClient(conn *peerConn, raw []byte, env *envelope.SignedEnvelope) error {
	if err := s.dir.CheckAndAdvance(conn.fingerprint, env.Counter); err != nil {
		return err
	}

	payload, err := envelope.DecodePayload(env)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *envelope.PublicChatPayload:
		s.fanOutPublicChat(conn.id, raw)
		return nil
	case *envelope.ChatPayload:
		return s.routeChat(conn.id, raw, p)
	default:
		return fmt.Errorf("server: unexpected payload type %T from client peer", p)
	}
}

// dispatchServer handles frames on an established server-to-server
// session (§4.5 "From Server, accepted types are client_list_request,
// client_list, signed_data{server_hello} (idempotent re-hello
// permitted), signed_data{public_chat}, signed_data{chat}").
func (s *Server) dispatchServer(conn *peerConn, raw []byte, frame interface{}) error {
	switch f := frame.(type) {
	case *envelope.ClientListRequest:
		return s.replyClientList(conn)
	case *envelope.ClientList:
		s.mergePeerDirectory(conn, f)
		return nil
	case *envelope.SignedEnvelope:
		return s.dispatchSignedFromServer(conn, raw, f)
	default:
		return fmt.Errorf("server: unexpected frame type %T from server peer", f)
	}
}

func (s *Server) dispatchSignedFromServer(conn *peerConn, raw []byte, env *envelope.SignedEnvelope) error {
	payload, err := envelope.DecodePayload(env)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *envelope.ServerHelloPayload:
		// idempotent re-hello: re-validate the sender field, no state change otherwise.
		if p.Sender != conn.address {
			return fmt.Errorf("server: re-hello sender %q does not match established peer %q", p.Sender, conn.address)
		}
		return nil
	case *envelope.PublicChatPayload:
		s.fanOutPublicChat(conn.id, raw)
		return nil
	case *envelope.ChatPayload:
		return s.routeChat(conn.id, raw, p)
	default:
		return fmt.Errorf("server: unexpected payload type %T from server peer", p)
	}
}

// fanOutPublicChat forwards raw to every locally-connected client and
// every connected peer server except the one the message arrived on
// (§4.5 routing policy). Forwarded bytes are the exact bytes received;
// the server never re-signs, re-counters, or re-canonicalises.
func (s *Server) fanOutPublicChat(originConnID string, raw []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, c := range s.conns {
		if id == originConnID {
			continue
		}
		if c.role != ClientRole && c.role != ServerRole {
			continue
		}
		if err := c.sess.Send(raw); err != nil {
			s.log.Warn("send failed during public_chat fan-out", logger.String("peer", id), logger.Error(err))
			continue
		}
		metrics.SessionMessageSize.WithLabelValues("fanout").Observe(float64(len(raw)))
	}
}

// routeChat implements the chat routing policy (§4.5): deliver locally
// for every destination naming this server, forward once per distinct
// destination this server has a session to, drop unknown destinations.
func (s *Server) routeChat(originConnID string, raw []byte, chat *envelope.ChatPayload) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, dest := range chat.DestinationServers {
		if dest == s.selfAddress {
			for id, c := range s.conns {
				if c.role != ClientRole {
					continue
				}
				if err := c.sess.Send(raw); err != nil {
					s.log.Warn("send failed delivering chat", logger.String("peer", id), logger.Error(err))
					continue
				}
				metrics.SessionMessageSize.WithLabelValues("route").Observe(float64(len(raw)))
			}
			continue
		}

		delivered := false
		for id, c := range s.conns {
			if id == originConnID || c.role != ServerRole || c.address != dest {
				continue
			}
			if err := c.sess.Send(raw); err != nil {
				s.log.Warn("send failed forwarding chat", logger.String("peer", id), logger.Error(err))
			} else {
				metrics.SessionMessageSize.WithLabelValues("route").Observe(float64(len(raw)))
			}
			delivered = true
		}
		if !delivered {
			s.log.Debug("dropping chat for unreachable destination server", logger.String("destination", dest))
		}
	}
	return nil
}

// replyClientList answers a client_list_request with the aggregated
// directory snapshot (§4.5 "Directory advertisement").
func (s *Server) replyClientList(conn *peerConn) error {
	list := s.buildClientList()
	raw, err := envelope.EncodeFrame(list)
	if err != nil {
		return err
	}
	return conn.sess.Send(raw)
}

func (s *Server) buildClientList() *envelope.ClientList {
	snap := s.dir.Snapshot()
	servers := make([]envelope.ServerClients, 0, len(snap))
	for _, pc := range snap {
		servers = append(servers, envelope.ServerClients{Address: pc.Address, Clients: pc.Clients})
	}
	return envelope.NewClientList(servers)
}

// pushDirectoryToPeers sends an updated client_list to every connected
// peer-server session, on local client connect/disconnect (§4.5).
func (s *Server) pushDirectoryToPeers() {
	list := s.buildClientList()
	raw, err := envelope.EncodeFrame(list)
	if err != nil {
		s.log.Error("failed to encode client_list push", logger.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, c := range s.conns {
		if c.role != ServerRole {
			continue
		}
		if err := c.sess.Send(raw); err != nil {
			s.log.Warn("send failed pushing directory", logger.String("peer", id), logger.Error(err))
			continue
		}
		metrics.SessionMessageSize.WithLabelValues("directory_push").Observe(float64(len(raw)))
	}
}

// mergePeerDirectory records what a directly-connected peer server most
// recently advertised about itself. Transitive entries in the same
// response (describing servers other than conn.address) are not
// adopted: the neighbourhood membership this server reasons about is
// the configured, directly-dialled set (§4.6), not a gossiped
// transitive closure.
func (s *Server) mergePeerDirectory(conn *peerConn, list *envelope.ClientList) {
	for _, entry := range list.Servers {
		if entry.Address == conn.address {
			s.dir.UpsertPeerServer(conn.address, conn.id, entry.Clients)
			return
		}
	}
}

// ConnectedNeighbours reports how many configured neighbour addresses
// currently have a live server-role session, for health reporting (§4.6).
func (s *Server) ConnectedNeighbours() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, conn := range s.conns {
		if conn.role == ServerRole {
			seen[conn.address] = struct{}{}
		}
	}
	return len(seen)
}
