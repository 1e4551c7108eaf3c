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

package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/gravitational/trace"

	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/protocol"
)

// EventKind discriminates session events.
type EventKind int

const (
	// EventConnected reports a completed login. Username carries the name
	// the relay settled on.
	EventConnected EventKind = iota
	// EventMessage delivers a server message.
	EventMessage
	// EventDisconnected reports a lost connection; a reconnect attempt
	// follows after backoff.
	EventDisconnected
)

// Event is one occurrence on a reconnecting session.
type Event struct {
	Kind     EventKind
	Username string
	Message  protocol.Message
}

// SessionConfig configures a reconnecting relay session.
type SessionConfig struct {
	Config

	// OnLogin is sent, in order, after every successful login. A streamer
	// puts StartStreaming here, a watcher StartWatching, so the role is
	// re-established on each reconnect.
	OnLogin []protocol.Message
}

// Session is a relay connection that maintains itself: it logs in, sends
// heartbeats, watches for server silence, and reconnects with backoff when
// the connection drops. Events are delivered on Events; outbound messages
// go through Send.
type Session struct {
	cfg     SessionConfig
	events  chan Event
	sendCh  chan protocol.Message
	backoff time.Duration
}

// NewSession creates a reconnecting session. Call Run to start it.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Session{
		cfg:     cfg,
		events:  make(chan Event, 64),
		sendCh:  make(chan protocol.Message, 64),
		backoff: defaults.ReconnectBackoffBase,
	}, nil
}

// Events returns the session event stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Send enqueues a message for the relay. Messages enqueued while
// disconnected are sent once the session is re-established.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case s.sendCh <- msg:
		return nil
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	}
}

// Run drives the session until the context is canceled. Connection
// failures are retried with jittered exponential backoff; it only returns
// early on a failure that retrying cannot fix, like a rejected login.
func (s *Session) Run(ctx context.Context) error {
	for {
		conn, err := Connect(ctx, s.cfg.Config)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if trace.IsAccessDenied(err) {
				return trace.Wrap(err)
			}
			s.cfg.Logger.WarnContext(ctx, "Failed to connect, will retry", "error", err)
			if !s.sleepBackoff(ctx) {
				return nil
			}
			continue
		}
		s.backoff = defaults.ReconnectBackoffBase

		err = s.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.cfg.Logger.InfoContext(ctx, "Disconnected from relay, will reconnect", "error", err)
		if !s.emit(ctx, Event{Kind: EventDisconnected}) {
			return nil
		}
		if !s.sleepBackoff(ctx) {
			return nil
		}
	}
}

func (s *Session) serve(ctx context.Context, conn *Conn) error {
	if !s.emit(ctx, Event{Kind: EventConnected, Username: conn.Username()}) {
		return nil
	}
	for _, msg := range s.cfg.OnLogin {
		if err := conn.WriteMessage(msg); err != nil {
			return trace.Wrap(err)
		}
	}

	readCh := make(chan protocol.Message)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			select {
			case readCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := s.cfg.Clock.NewTicker(defaults.HeartbeatInterval)
	defer heartbeat.Stop()
	lastServer := s.cfg.Clock.Now()

	for {
		select {
		case msg := <-readCh:
			lastServer = s.cfg.Clock.Now()
			if _, ok := msg.(*protocol.Heartbeat); ok {
				continue
			}
			if !s.emit(ctx, Event{Kind: EventMessage, Message: msg}) {
				return nil
			}
		case err := <-readErrCh:
			return trace.Wrap(err)
		case <-heartbeat.Chan():
			// Two silent heartbeat periods mean the server is gone even if
			// the socket has not noticed yet.
			if s.cfg.Clock.Now().Sub(lastServer) > 2*defaults.HeartbeatInterval {
				return trace.ConnectionProblem(nil, "server is not responding")
			}
			if err := conn.WriteMessage(&protocol.Heartbeat{}); err != nil {
				return trace.Wrap(err)
			}
		case msg := <-s.sendCh:
			if err := conn.WriteMessage(msg); err != nil {
				return trace.Wrap(err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleepBackoff waits out the current backoff delay, jittered to between
// half and the full amount, then doubles it up to the cap. Reports false
// when the context ended during the wait.
func (s *Session) sleepBackoff(ctx context.Context) bool {
	delay := s.backoff/2 + time.Duration(rand.Int63n(int64(s.backoff/2)+1))
	s.backoff *= defaults.ReconnectBackoffFactor
	if s.backoff > defaults.ReconnectBackoffMax {
		s.backoff = defaults.ReconnectBackoffMax
	}
	timer := s.cfg.Clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}
