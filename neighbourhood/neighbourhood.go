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

// Package neighbourhood owns the outbound side of server-to-server gossip
// (§4.6): dialing every configured peer, re-dialing on failure with bounded
// exponential backoff, and handing each established session to the server's
// HandleSession so it joins the same peer/client routing as inbound links.
package neighbourhood

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olaf-neighbourhood/olaf/crypto"
	"github.com/olaf-neighbourhood/olaf/envelope"
	"github.com/olaf-neighbourhood/olaf/internal/logger"
	"github.com/olaf-neighbourhood/olaf/transport/ws"
)

const (
	backoffBase   = time.Second
	backoffFactor = 2
	backoffCap    = 30 * time.Second
	jitterFrac    = 0.2
)

// SessionHandler is how a dialed session is handed off once established;
// satisfied by server.Server.HandleSession. Blocks until the session closes.
type SessionHandler func(sess *ws.Session)

// Manager dials every configured neighbour on Start and keeps redialing on
// disconnect, with bounded exponential backoff and jitter (§4.6). Inbound
// peer connections are never retried here — only outbound dials this
// process initiates.
type Manager struct {
	selfAddress string
	neighbours  []string
	selfKey     crypto.KeyPair
	handle      SessionHandler
	dialTimeout time.Duration
	log         logger.Logger

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a Manager for the given configured neighbour host:port list.
func New(selfAddress string, neighbours []string, selfKey crypto.KeyPair, dialTimeout time.Duration, handle SessionHandler, log logger.Logger) *Manager {
	return &Manager{
		selfAddress: selfAddress,
		neighbours:  neighbours,
		selfKey:     selfKey,
		handle:      handle,
		dialTimeout: dialTimeout,
		log:         log,
	}
}

// Start launches one redial loop per configured neighbour. It returns
// immediately; loops run until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	group, groupCtx := errgroup.WithContext(ctx)
	m.group = group
	for _, addr := range m.neighbours {
		addr := addr
		group.Go(func() error {
			m.redialLoop(groupCtx, addr)
			return nil
		})
	}
}

// Stop cancels every redial loop and waits for them to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		_ = m.group.Wait()
	}
}

func (m *Manager) redialLoop(ctx context.Context, addr string) {
	backoff := backoffBase
	for {
		if ctx.Err() != nil {
			return
		}

		err := m.dialOnce(ctx, addr)
		if err != nil {
			m.log.Warn("neighbour dial failed", logger.String("address", addr), logger.Error(err))
		} else {
			// dialOnce only returns nil after the session closed cleanly;
			// reset backoff since the link was briefly healthy.
			backoff = backoffBase
		}

		wait := jitter(backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		backoff *= backoffFactor
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// dialOnce connects to addr, sends server_hello then client_list_request,
// and hands the session to m.handle. It blocks until the session ends.
func (m *Manager) dialOnce(ctx context.Context, addr string) error {
	url := "ws://" + addr
	sess, err := ws.Dial(ctx, url, m.dialTimeout)
	if err != nil {
		return err
	}

	hello, err := envelope.SignPayload(m.selfKey, envelope.NewServerHello(m.selfAddress), 1)
	if err != nil {
		_ = sess.Close()
		return err
	}
	raw, err := envelope.EncodeFrame(hello)
	if err != nil {
		_ = sess.Close()
		return err
	}
	if err := sess.Send(raw); err != nil {
		_ = sess.Close()
		return err
	}

	reqRaw, err := envelope.EncodeFrame(envelope.NewClientListRequest())
	if err != nil {
		_ = sess.Close()
		return err
	}
	if err := sess.Send(reqRaw); err != nil {
		_ = sess.Close()
		return err
	}

	m.handle(sess)
	return nil
}

// jitter applies +/-jitterFrac randomness around d.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFrac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
