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

// Package client implements the relay client shared by the stream and
// watch commands and the web bridge: dialing (plain or TLS), login
// including the interactive OAuth flow, and a reconnecting session with
// heartbeats and exponential backoff.
package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/teleterm/teleterm"
	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/dirs"
	"github.com/teleterm/teleterm/lib/oauth"
	"github.com/teleterm/teleterm/lib/protocol"
)

// Config holds relay client parameters.
type Config struct {
	// Addr is the relay address to connect to.
	Addr string
	// TLS dials the relay over TLS when set.
	TLS bool
	// TLSConfig overrides the TLS client configuration, used in tests.
	TLSConfig *tls.Config
	// Auth is the authentication material sent in Login.
	Auth protocol.Auth
	// TermType is the terminal type advertised in Login, normally $TERM.
	TermType string
	// Size is the terminal size advertised in Login.
	Size protocol.Size
	// DataDir is where the assigned OAuth id is remembered between runs.
	// Defaults to the user data dir.
	DataDir string
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
	// Logger overrides the default logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Addr == "" {
		c.Addr = defaults.ConnectAddr
	}
	if c.Auth.Type != protocol.AuthPlain && !c.Auth.Type.IsOauth() {
		return trace.BadParameter("unsupported auth type %v", c.Auth.Type)
	}
	if c.TermType == "" {
		c.TermType = "xterm"
	}
	if c.DataDir == "" {
		dataDir, err := dirs.EnsureData()
		if err != nil {
			return trace.Wrap(err)
		}
		c.DataDir = dataDir
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(teleterm.ComponentKey, teleterm.ComponentClient)
	}
	return nil
}

// Conn is a single logged-in relay connection. It is not safe for
// concurrent use; the reconnecting Client splits reads and writes across
// goroutines itself.
type Conn struct {
	nc       net.Conn
	reader   *protocol.FramedReader
	writer   *protocol.FramedWriter
	username string
}

// Connect dials the relay and completes the login handshake, driving the
// interactive OAuth flow if the relay requests it.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	auth := cfg.Auth
	if id, err := loadOauthID(cfg, auth); err == nil && id != "" {
		auth.ID = id
	}

	nc, err := dial(ctx, cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	c := &Conn{
		nc:     nc,
		reader: protocol.NewFramedReader(nc, 0),
		writer: protocol.NewFramedWriter(nc),
	}
	if err := c.login(ctx, cfg, auth); err != nil {
		nc.Close()
		return nil, trace.Wrap(err)
	}
	return c, nil
}

func dial(ctx context.Context, cfg Config) (net.Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to %v", cfg.Addr)
	}
	if !cfg.TLS {
		return nc, nil
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			nc.Close()
			return nil, trace.Wrap(err)
		}
		tlsConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	tc := tls.Client(nc, tlsConfig)
	if err := tc.HandshakeContext(ctx); err != nil {
		nc.Close()
		return nil, trace.ConnectionProblem(err, "TLS handshake with %v", cfg.Addr)
	}
	return tc, nil
}

func (c *Conn) login(ctx context.Context, cfg Config, auth protocol.Auth) error {
	err := c.WriteMessage(&protocol.Login{
		Auth:     auth,
		Client:   protocol.AuthClientCli,
		TermType: cfg.TermType,
		Size:     cfg.Size,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return trace.Wrap(err)
		}
		switch m := msg.(type) {
		case *protocol.LoggedIn:
			c.username = m.Username
			return nil
		case *protocol.OauthCliRequest:
			code, err := runOauthFlow(ctx, cfg, m)
			if err != nil {
				return trace.Wrap(err)
			}
			if err := oauth.SaveClientID(cfg.DataDir, auth.Type.String(), m.ID); err != nil {
				cfg.Logger.WarnContext(ctx, "Failed to save oauth id", "error", err)
			}
			if err := c.WriteMessage(&protocol.OauthCliResponse{Code: code}); err != nil {
				return trace.Wrap(err)
			}
		case *protocol.Error:
			return trace.AccessDenied("login failed: %v", m.Msg)
		default:
			return trace.BadParameter("unexpected message during login: %v", msg.Type())
		}
	}
}

// Username returns the username the relay settled on at login.
func (c *Conn) Username() string {
	return c.username
}

// ReadMessage reads the next message from the relay.
func (c *Conn) ReadMessage() (protocol.Message, error) {
	msg, err := c.reader.ReadMessage()
	return msg, trace.Wrap(err)
}

// WriteMessage sends one message to the relay.
func (c *Conn) WriteMessage(msg protocol.Message) error {
	return trace.Wrap(c.writer.WriteMessage(msg))
}

// Close closes the connection.
func (c *Conn) Close() error {
	return trace.Wrap(c.nc.Close())
}

// ListSessions asks the relay for the current session listing.
func (c *Conn) ListSessions() ([]protocol.Session, error) {
	if err := c.WriteMessage(&protocol.ListSessions{}); err != nil {
		return nil, trace.Wrap(err)
	}
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		switch m := msg.(type) {
		case *protocol.Sessions:
			return m.Sessions, nil
		case *protocol.Heartbeat:
			// A heartbeat reply may be in flight ahead of the listing.
		case *protocol.Error:
			return nil, trace.Errorf("relay error: %v", m.Msg)
		default:
			return nil, trace.BadParameter("unexpected message: %v", msg.Type())
		}
	}
}

func loadOauthID(cfg Config, auth protocol.Auth) (string, error) {
	if !auth.Type.IsOauth() || auth.ID != "" {
		return auth.ID, nil
	}
	id, err := oauth.LoadClientID(cfg.DataDir, auth.Type.String())
	if err != nil {
		if trace.IsNotFound(err) {
			return "", nil
		}
		return "", trace.Wrap(err)
	}
	return id, nil
}
