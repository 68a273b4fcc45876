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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Handshake here is the Unverified -> Client|Server transition on a new
// session: the first signed_data frame classifying it as hello or
// server_hello (§4.5).
var (
	// HandshakesInitiated tracks hello/server_hello frames received on an
	// Unverified session
	HandshakesInitiated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "initiated_total",
			Help:      "Total number of hello/server_hello frames received on unverified sessions",
		},
		[]string{"role"}, // client, server
	)

	// HandshakesCompleted tracks sessions that classified into Client or Server
	HandshakesCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "completed_total",
			Help:      "Total number of sessions classified as client or server peers",
		},
		[]string{"status"}, // success; rejections are counted by HandshakesFailed
	)

	// HandshakesFailed tracks rejected hello/server_hello attempts by reason
	HandshakesFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "failed_total",
			Help:      "Total number of rejected hello/server_hello attempts by reason",
		},
		[]string{"error_type"}, // bad_signature, bad_key, unconfigured_neighbour, unexpected_first_frame, directory_rejected, stale_counter
	)
)
