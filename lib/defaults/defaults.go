// Teleterm
// Copyright (C) 2025  Teleterm Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package defaults contains default constants used across the teleterm
// codebase.
package defaults

import "time"

const (
	// RelayListenPort is the port the relay accepts client connections on,
	// plain TCP or TLS.
	RelayListenPort = 4144

	// WebListenPort is the port the web bridge serves HTTP and WebSocket
	// clients on.
	WebListenPort = 4145

	// RelayListenAddr is the relay's default bind address.
	RelayListenAddr = "127.0.0.1:4144"

	// ConnectAddr is the default relay address clients connect to.
	ConnectAddr = "127.0.0.1:4144"

	// WebListenAddr is the web bridge's default bind address.
	WebListenAddr = "127.0.0.1:4145"

	// OauthListenAddr is the fixed local address the CLI listens on for
	// the provider's browser redirect during an interactive OAuth login.
	// Registered redirect URLs point at it, so it cannot be configured
	// per run.
	OauthListenAddr = "127.0.0.1:44141"
)

const (
	// ReadTimeout is how long the relay waits for a complete message on a
	// connection before giving up on it. Clients heartbeat every
	// HeartbeatInterval, so this is generous.
	ReadTimeout = 120 * time.Second

	// WriteTimeout bounds a single message write on a relay connection.
	WriteTimeout = 120 * time.Second

	// HeartbeatInterval is how often clients send Heartbeat messages.
	HeartbeatInterval = 30 * time.Second

	// TLSHandshakeTimeout bounds the TLS handshake on a freshly accepted
	// socket before it reaches the relay.
	TLSHandshakeTimeout = 10 * time.Second

	// HTTPRequestTimeout caps outbound HTTP calls to oauth providers.
	HTTPRequestTimeout = 30 * time.Second

	// ReconnectBackoffBase is the initial client reconnect delay.
	ReconnectBackoffBase = time.Second

	// ReconnectBackoffMax caps the client reconnect delay.
	ReconnectBackoffMax = 60 * time.Second

	// ReconnectBackoffFactor is the reconnect delay growth factor.
	ReconnectBackoffFactor = 2
)

const (
	// RateLimitEvents is the number of non-output messages a single user
	// may send within RateLimitWindow.
	RateLimitEvents = 300

	// RateLimitWindow is the rate limit accounting window.
	RateLimitWindow = 60 * time.Second

	// MaxFrameLength is the largest frame payload the codec accepts.
	MaxFrameLength = 4 * 1024 * 1024

	// MaxTermDimension rejects absurd terminal sizes at login: rows and
	// cols must both be below it.
	MaxTermDimension = 1000

	// OutboundQueueSize bounds the per-connection outbound message queue.
	// A watcher that falls this far behind is dropped rather than letting
	// it hold back the streamer.
	OutboundQueueSize = 512

	// AcceptBacklog bounds connections accepted by the TLS stage that the
	// orchestrator has not picked up yet.
	AcceptBacklog = 100
)

const (
	// TTYRecFilename is the default recording file name.
	TTYRecFilename = "teleterm.ttyrec"

	// PlaybackRatio is the default playback speed multiplier.
	PlaybackRatio = 1.0

	// PlaybackMaxFrameDelay caps the pause between replayed frames so
	// long idle stretches in a recording do not stall playback.
	PlaybackMaxFrameDelay = 5 * time.Second
)
