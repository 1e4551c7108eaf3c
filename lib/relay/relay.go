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

// Package relay implements the teleterm relay server: it accepts client
// connections, runs the per-connection login / streaming / watching state
// machine, keeps an authoritative terminal model per streamer, and fans
// screen diffs out to watchers.
//
// All connection bookkeeping happens on a single orchestrator goroutine
// fed by typed events; per-connection read and write pumps own the socket
// halves and never touch another connection.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/teleterm/teleterm"
	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/dirs"
	"github.com/teleterm/teleterm/lib/limiter"
	"github.com/teleterm/teleterm/lib/oauth"
	"github.com/teleterm/teleterm/lib/protocol"
	"github.com/teleterm/teleterm/lib/utils"
)

// Config holds relay server parameters.
type Config struct {
	// ListenAddr is the address to accept client connections on.
	ListenAddr string
	// ReadTimeout closes a connection that produces no complete message
	// for this long. Clients heartbeat every 30 seconds.
	ReadTimeout time.Duration
	// TLSIdentityFile is a PKCS#12 bundle with the server certificate
	// and key. TLS is disabled when empty.
	TLSIdentityFile string
	// AllowedLoginMethods restricts which auth types Login may carry.
	// Empty means all methods are allowed.
	AllowedLoginMethods []protocol.AuthType
	// OauthConfigs maps an OAuth auth type to its provider configuration.
	OauthConfigs map[protocol.AuthType]oauth.Config
	// DataDir is where token caches live. Defaults to the user data dir.
	DataDir string
	// UID, if nonzero, is the user id to switch to after binding.
	UID int
	// GID, if nonzero, is the group id to switch to after binding.
	GID int
	// Limiter is the per-user message rate limiter; a default one is
	// created when nil.
	Limiter *limiter.Limiter
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
	// Logger overrides the default logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.RelayListenAddr
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.ReadTimeout < 0 {
		return trace.BadParameter("read timeout must be positive, got %v", c.ReadTimeout)
	}
	if len(c.AllowedLoginMethods) == 0 {
		c.AllowedLoginMethods = []protocol.AuthType{protocol.AuthPlain, protocol.AuthRecurseCenter}
	}
	if c.DataDir == "" {
		dataDir, err := dirs.EnsureData()
		if err != nil {
			return trace.Wrap(err)
		}
		c.DataDir = dataDir
	}
	if c.Limiter == nil {
		l, err := limiter.New(limiter.Config{Clock: c.Clock})
		if err != nil {
			return trace.Wrap(err)
		}
		c.Limiter = l
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(teleterm.ComponentKey, teleterm.ComponentRelay)
	}
	return nil
}

// event feeds the orchestrator goroutine. Exactly one kind per event.
type eventKind int

const (
	// eventMessage delivers one decoded inbound message.
	eventMessage eventKind = iota
	// eventReadError reports a failed or timed-out read.
	eventReadError
	// eventAuthResolved reports a finished asynchronous OAuth login.
	eventAuthResolved
)

type event struct {
	kind     eventKind
	conn     *conn
	msg      protocol.Message
	err      error
	username string
}

// Relay is the terminal-sharing relay server.
type Relay struct {
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	limiter  *limiter.Limiter
	listener net.Listener

	acceptCh chan net.Conn
	events   chan event
	conns    map[string]*conn

	wg       sync.WaitGroup
	closed   chan struct{}
	closeOne sync.Once
}

// New binds the listen address (so startup failures surface immediately),
// loads the TLS identity if configured, and drops privileges if asked to.
func New(cfg Config) (*Relay, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(relayCollectors...); err != nil {
		return nil, trace.Wrap(err)
	}

	var tlsConfig *tls.Config
	if cfg.TLSIdentityFile != "" {
		var err error
		tlsConfig, err = loadTLSIdentity(cfg.TLSIdentityFile)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, trace.Wrap(err, "binding %v", cfg.ListenAddr)
	}
	if err := dropPrivileges(cfg.UID, cfg.GID); err != nil {
		listener.Close()
		return nil, trace.Wrap(err)
	}

	r := &Relay{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		limiter:  cfg.Limiter,
		listener: listener,
		acceptCh: make(chan net.Conn, defaults.AcceptBacklog),
		events:   make(chan event),
		conns:    make(map[string]*conn),
		closed:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.acceptLoop(listener, tlsConfig)
	return r, nil
}

// Addr returns the bound listen address.
func (r *Relay) Addr() net.Addr {
	return r.listener.Addr()
}

// Close shuts the relay down. Safe to call more than once and
// concurrently with Run.
func (r *Relay) Close() error {
	r.closeOne.Do(func() {
		close(r.closed)
		r.listener.Close()
	})
	return nil
}

// Run drives the orchestrator loop until the context is canceled or Close
// is called. It returns nil on clean shutdown.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Relay is listening", "listen_addr", r.listener.Addr().String())
	for {
		select {
		case nc := <-r.acceptCh:
			r.handleAccept(nc)
		case ev := <-r.events:
			r.handleEvent(ctx, ev)
		case <-ctx.Done():
			return trace.Wrap(r.shutdown())
		case <-r.closed:
			return trace.Wrap(r.shutdown())
		}
	}
}

// shutdown closes every connection and keeps draining events until all
// pumps have exited, so none of them block forever on the event channel.
func (r *Relay) shutdown() error {
	r.Close()
	for _, c := range r.conns {
		r.closeConn(c, nil)
	}
	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()
	for {
		select {
		case nc := <-r.acceptCh:
			nc.Close()
		case <-r.events:
		case <-drained:
			r.logger.Info("Relay stopped")
			return nil
		}
	}
}

// acceptLoop accepts raw sockets and forwards them to the orchestrator,
// through a TLS handshake first when an identity is configured. Accept
// errors do not stop the listener.
func (r *Relay) acceptLoop(listener net.Listener, tlsConfig *tls.Config) {
	defer r.wg.Done()
	for {
		nc, err := listener.Accept()
		if err != nil {
			if utils.IsUseOfClosedNetworkError(err) {
				return
			}
			r.logger.Warn("Failed to accept connection", "error", err)
			continue
		}
		if tlsConfig == nil {
			r.forwardAccepted(nc)
			continue
		}
		r.wg.Add(1)
		go r.handshake(nc, tlsConfig)
	}
}

// handshake runs the TLS handshake off the accept loop so a stalled
// client cannot block new connections. Failures are logged and dropped.
func (r *Relay) handshake(nc net.Conn, tlsConfig *tls.Config) {
	defer r.wg.Done()
	tc := tls.Server(nc, tlsConfig)
	ctx, cancel := context.WithTimeout(context.Background(), defaults.TLSHandshakeTimeout)
	defer cancel()
	if err := tc.HandshakeContext(ctx); err != nil {
		r.logger.Debug("TLS handshake failed",
			"remote_addr", nc.RemoteAddr().String(), "error", err)
		nc.Close()
		return
	}
	r.forwardAccepted(tc)
}

func (r *Relay) forwardAccepted(nc net.Conn) {
	select {
	case r.acceptCh <- nc:
	case <-r.closed:
		nc.Close()
	}
}

// handleAccept registers a fresh connection and starts its pumps.
func (r *Relay) handleAccept(nc net.Conn) {
	c := &conn{
		id:           uuid.NewString(),
		nc:           nc,
		reader:       protocol.NewFramedReader(nc, 0),
		writer:       protocol.NewFramedWriter(nc),
		readTimeout:  r.cfg.ReadTimeout,
		writeTimeout: defaults.WriteTimeout,
		outCh:        make(chan protocol.Message, defaults.OutboundQueueSize),
		proceed:      make(chan struct{}, 1),
		done:         make(chan struct{}),
		state:        stateAccepted,
		lastActivity: r.clock.Now(),
	}
	c.logger = r.logger.With("conn_id", c.id, "remote_addr", nc.RemoteAddr().String())

	r.conns[c.id] = c
	connectedClients.Inc()

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		c.readPump(r.events)
	}()
	go func() {
		defer r.wg.Done()
		c.writePump()
	}()

	c.logger.Info("Connection accepted")
	c.unblock()
}

func (r *Relay) handleEvent(ctx context.Context, ev event) {
	c := ev.conn
	if live, ok := r.conns[c.id]; !ok || live != c {
		// The connection was torn down while this event was in flight.
		return
	}
	switch ev.kind {
	case eventMessage:
		r.handleMessage(ctx, c, ev.msg)
	case eventReadError:
		r.handleReadError(c, ev.err)
	case eventAuthResolved:
		r.handleAuthResolved(c, ev.username, ev.err)
	}
}

// handleReadError tears the connection down: quietly for normal closes,
// with Error{"timeout"} for read timeouts, logging anything else.
func (r *Relay) handleReadError(c *conn, err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		readTimeouts.Inc()
		c.logger.Info("Read timed out", "state", c.state.String())
		r.closeConn(c, &protocol.Error{Msg: "timeout"})
	case utils.IsOKNetworkError(err):
		r.closeConn(c, nil)
	default:
		c.logger.Warn("Failed to read message", "error", err)
		r.closeConn(c, nil)
	}
}

// enqueue appends a message to the connection's outbound queue. A full
// queue means the peer cannot keep up; it is dropped rather than letting
// it hold everyone else back.
func (r *Relay) enqueue(c *conn, msg protocol.Message) {
	select {
	case c.outCh <- msg:
	default:
		c.logger.Warn("Outbound queue overflow, dropping connection",
			"state", c.state.String())
		r.closeConn(c, &protocol.Disconnected{})
	}
}

// closeConn removes the connection from the table and tears it down,
// sending final (if any) after the outbound queue drains. Closing a
// streamer cleanly closes all its watchers. Idempotent.
func (r *Relay) closeConn(c *conn, final protocol.Message) {
	if c.state == stateClosed {
		return
	}
	prevState := c.state
	switch prevState {
	case stateStreaming:
		activeStreamers.Dec()
	case stateWatching:
		activeWatchers.Dec()
	}
	c.state = stateClosed
	delete(r.conns, c.id)
	connectedClients.Dec()

	c.final = final
	close(c.outCh)
	close(c.done)
	c.logger.Info("Connection closed", "state", prevState.String())

	if prevState == stateStreaming {
		for _, w := range r.conns {
			if w.state == stateWatching && w.watchID == c.id {
				r.closeConn(w, &protocol.Disconnected{})
			}
		}
	}
}
