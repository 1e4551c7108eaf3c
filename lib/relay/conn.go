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

package relay

import (
	"log/slog"
	"net"
	"time"

	"github.com/teleterm/teleterm/lib/oauth"
	"github.com/teleterm/teleterm/lib/protocol"
	"github.com/teleterm/teleterm/lib/terminal"
)

// connState tracks where a connection is in its lifecycle. Transitions
// happen only on the orchestrator goroutine.
type connState int

const (
	stateAccepted connState = iota
	stateLoggingIn
	stateLoggedIn
	stateStreaming
	stateWatching
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAccepted:
		return "accepted"
	case stateLoggingIn:
		return "logging_in"
	case stateLoggedIn:
		return "logged_in"
	case stateStreaming:
		return "streaming"
	case stateWatching:
		return "watching"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// conn is one client connection. The nc/reader/writer trio is touched by
// the pumps; everything else belongs to the orchestrator goroutine.
type conn struct {
	id     string
	nc     net.Conn
	reader *protocol.FramedReader
	writer *protocol.FramedWriter
	logger *slog.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	// outCh is the outbound queue. Only the orchestrator enqueues; the
	// write pump drains. Closed exactly once, by closeConn.
	outCh chan protocol.Message
	// final, if set before outCh is closed, is written after the queue
	// drains, right before the socket closes.
	final protocol.Message
	// proceed grants the read pump permission to read one message, so a
	// connection with a pending async login does not read ahead.
	proceed chan struct{}
	// done is closed on teardown and unblocks the read pump.
	done chan struct{}

	// Orchestrator-owned state below.
	state        connState
	username     string
	termType     string
	size         protocol.Size
	term         *terminal.Terminal
	watchID      string
	oauthClient  *oauth.Client
	authPending  bool
	lastActivity time.Time
}

// unblock lets the read pump pick up the next message. The channel holds
// one token and the orchestrator grants at most one per consumed message,
// so this never blocks.
func (c *conn) unblock() {
	c.proceed <- struct{}{}
}

// readPump reads messages while the orchestrator permits and forwards
// them as events. It exits on read error or teardown.
func (c *conn) readPump(events chan<- event) {
	for {
		select {
		case <-c.proceed:
		case <-c.done:
			return
		}
		if err := c.nc.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			c.sendEvent(events, event{kind: eventReadError, conn: c, err: err})
			return
		}
		msg, err := c.reader.ReadMessage()
		if err != nil {
			c.sendEvent(events, event{kind: eventReadError, conn: c, err: err})
			return
		}
		c.sendEvent(events, event{kind: eventMessage, conn: c, msg: msg})
	}
}

func (c *conn) sendEvent(events chan<- event, ev event) {
	select {
	case events <- ev:
	case <-c.done:
	}
}

// writePump drains the outbound queue into the socket, writes the final
// message if one was set, and closes the socket. Closing the socket also
// unblocks a read pump stuck in a read.
func (c *conn) writePump() {
	defer c.nc.Close()
	for msg := range c.outCh {
		if err := c.writeMessage(msg); err != nil {
			c.logger.Debug("Failed to write message", "error", err)
			for range c.outCh {
			}
			return
		}
	}
	if c.final != nil {
		if err := c.writeMessage(c.final); err != nil {
			c.logger.Debug("Failed to write final message", "error", err)
		}
	}
}

func (c *conn) writeMessage(msg protocol.Message) error {
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.writer.WriteMessage(msg)
}
