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

// Package ws is the session layer (§4.3): a duplex framed channel over
// WebSocket where one frame carries exactly one envelope/record. It
// guarantees FIFO delivery within a session, whole-message delivery, and
// never crashes a session on a malformed frame — callers decide whether
// to drop-and-log (§4.2's decode errors) or close on I/O failure.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send/Receive once the session has been closed.
var ErrClosed = errors.New("ws: session closed")

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Session wraps one WebSocket connection as a duplex frame channel.
// gorilla/websocket permits at most one concurrent reader and one
// concurrent writer per connection; Send serializes writers with a
// mutex, Receive is expected to be called from a single reader loop
// per session (the usual pattern for both client and server peers).
type Session struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// Accept upgrades an inbound HTTP request to a WebSocket session (server side).
func Accept(w http.ResponseWriter, r *http.Request) (*Session, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSession(conn), nil
}

// Dial opens a session to a peer (client or server-to-server dial, §4.6).
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration) (*Session, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newSession(conn), nil
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		conn:         conn,
		readTimeout:  90 * time.Second,
		writeTimeout: 10 * time.Second,
		closed:       make(chan struct{}),
	}
}

// SetTimeouts overrides the default read/write deadlines.
func (s *Session) SetTimeouts(read, write time.Duration) {
	s.readTimeout = read
	s.writeTimeout = write
}

// Send writes one frame. It may block under transport backpressure (§5).
func (s *Session) Send(frame []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Receive blocks for the next frame. It returns ErrClosed once Close has
// been called, and the underlying I/O error otherwise (callers should
// treat any non-nil error here as session-ending, distinct from a
// decode error on an otherwise well-formed frame).
func (s *Session) Receive() ([]byte, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return nil, err
		}
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		select {
		case <-s.closed:
			return nil, ErrClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

// Close is idempotent (§4.3): repeated calls are safe and return nil
// after the first.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err = s.conn.Close()
	})
	return err
}
