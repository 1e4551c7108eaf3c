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
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/oauth"
	"github.com/teleterm/teleterm/lib/protocol"
	"github.com/teleterm/teleterm/lib/terminal"
)

// handleMessage runs one inbound message through the rate limiter and the
// state machine. Handler errors close the connection with an Error reply.
// The read pump stays parked until unblock, so a message whose handler
// kicked off an asynchronous OAuth exchange holds up the next read until
// the exchange resolves.
func (r *Relay) handleMessage(ctx context.Context, c *conn, msg protocol.Message) {
	messagesReceived.Inc()

	if _, isOutput := msg.(*protocol.TerminalOutput); !isOutput {
		if !r.limiter.Allow(c.username) {
			rateLimitTrips.Inc()
			c.logger.Info("Rate limit exceeded", "username", c.username)
			r.closeConn(c, &protocol.Error{Msg: "rate limit exceeded"})
			return
		}
	}

	c.logger.Debug("Received message", msg.LogFields()...)

	var err error
	switch m := msg.(type) {
	case *protocol.Login:
		err = r.handleLogin(ctx, c, m)
	case *protocol.OauthCliResponse:
		err = r.handleOauthCliResponse(ctx, c, m)
	case *protocol.StartStreaming:
		err = r.handleStartStreaming(c)
	case *protocol.StartWatching:
		err = r.handleStartWatching(c, m)
	case *protocol.TerminalOutput:
		err = r.handleTerminalOutput(c, m)
	case *protocol.ListSessions:
		err = r.handleListSessions(c)
	case *protocol.Heartbeat:
		err = r.handleHeartbeat(c)
	case *protocol.Resize:
		err = r.handleResize(c, m)
	default:
		err = r.rejectMessage(c, msg)
	}
	if err != nil {
		c.logger.Info("Closing connection on handler error",
			"state", c.state.String(), "error", err)
		r.closeConn(c, &protocol.Error{Msg: trace.UserMessage(err)})
		return
	}
	if c.state != stateClosed && !c.authPending {
		c.unblock()
	}
}

// rejectMessage builds the error for a message that is illegal in the
// connection's current state.
func (r *Relay) rejectMessage(c *conn, msg protocol.Message) error {
	if c.state == stateAccepted || c.state == stateLoggingIn {
		return trace.AccessDenied("unauthenticated message: %v", msg.Type())
	}
	return trace.BadParameter("unexpected message: %v", msg.Type())
}

func checkTermSize(size protocol.Size) error {
	if size.Rows >= defaults.MaxTermDimension || size.Cols >= defaults.MaxTermDimension {
		return trace.BadParameter("terminal size too big: %v", size)
	}
	return nil
}

func (r *Relay) loginMethodAllowed(ty protocol.AuthType) bool {
	for _, allowed := range r.cfg.AllowedLoginMethods {
		if allowed == ty {
			return true
		}
	}
	return false
}

func (r *Relay) handleLogin(ctx context.Context, c *conn, m *protocol.Login) error {
	if c.state != stateAccepted {
		return trace.Wrap(r.rejectMessage(c, m))
	}
	if err := checkTermSize(m.Size); err != nil {
		return trace.Wrap(err)
	}
	if !r.loginMethodAllowed(m.Auth.Type) {
		return trace.AccessDenied("auth type %v not allowed", m.Auth.Type)
	}

	c.termType = m.TermType
	c.size = m.Size

	if !m.Auth.Type.IsOauth() {
		c.username = m.Auth.Username
		c.state = stateLoggedIn
		c.logger.Info("User logged in",
			"username", c.username, "auth", m.Auth.Type.String())
		r.enqueue(c, &protocol.LoggedIn{Username: c.username})
		return nil
	}

	if m.Client == protocol.AuthClientWeb {
		return trace.NotImplemented("oauth login is not supported for web clients")
	}

	oauthConfig, ok := r.cfg.OauthConfigs[m.Auth.Type]
	if !ok {
		return trace.NotFound("no oauth configuration for %v", m.Auth.Type)
	}

	userID, hasID := m.Auth.OauthID()
	if !hasID {
		userID = uuid.NewString()
	}
	client, err := oauth.NewClient(oauthConfig, userID, r.cfg.DataDir)
	if err != nil {
		return trace.Wrap(err)
	}
	c.logger.Info("Starting oauth login",
		"auth", m.Auth.Type.String(), "oauth_id", userID)

	if hasID && client.HasCachedToken() {
		// A concurrent login for the same user id may have replaced or
		// removed the cache since the Stat; treat any failure to read it
		// as a miss and run the interactive flow instead.
		if refreshToken, err := client.CachedRefreshToken(); err == nil {
			r.startTokenRefresh(ctx, c, client, refreshToken)
			return nil
		}
	}

	authorizeURL, err := client.AuthorizeURL()
	if err != nil {
		return trace.Wrap(err)
	}
	c.oauthClient = client
	c.state = stateLoggingIn
	r.enqueue(c, &protocol.OauthCliRequest{URL: authorizeURL, ID: client.UserID()})
	return nil
}

// startTokenRefresh exchanges a cached refresh token for a username off
// the orchestrator goroutine. The connection stays parked (authPending)
// until eventAuthResolved comes back.
func (r *Relay) startTokenRefresh(ctx context.Context, c *conn, client *oauth.Client, refreshToken string) {
	c.authPending = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		username, err := r.resolveUsername(ctx, client, func() (string, error) {
			return client.ExchangeRefreshToken(ctx, refreshToken)
		})
		r.events <- event{kind: eventAuthResolved, conn: c, username: username, err: err}
	}()
}

func (r *Relay) handleOauthCliResponse(ctx context.Context, c *conn, m *protocol.OauthCliResponse) error {
	if c.state != stateLoggingIn || c.oauthClient == nil {
		return trace.Wrap(r.rejectMessage(c, m))
	}
	client := c.oauthClient
	code := m.Code

	c.authPending = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		username, err := r.resolveUsername(ctx, client, func() (string, error) {
			return client.ExchangeCode(ctx, code)
		})
		r.events <- event{kind: eventAuthResolved, conn: c, username: username, err: err}
	}()
	return nil
}

// resolveUsername runs a token exchange and maps the resulting access
// token to the provider's username.
func (r *Relay) resolveUsername(ctx context.Context, client *oauth.Client, exchange func() (string, error)) (string, error) {
	accessToken, err := exchange()
	if err != nil {
		return "", trace.Wrap(err)
	}
	username, err := client.Username(ctx, accessToken)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return username, nil
}

func (r *Relay) handleAuthResolved(c *conn, username string, err error) {
	c.authPending = false
	if err != nil {
		c.logger.Info("Oauth login failed", "error", err)
		r.closeConn(c, &protocol.Error{Msg: trace.UserMessage(err)})
		return
	}
	c.username = username
	c.oauthClient = nil
	c.state = stateLoggedIn
	c.logger.Info("User logged in", "username", username, "auth", "oauth")
	r.enqueue(c, &protocol.LoggedIn{Username: username})
	if c.state != stateClosed {
		c.unblock()
	}
}

func (r *Relay) handleStartStreaming(c *conn) error {
	if c.state != stateLoggedIn {
		return trace.Wrap(r.rejectMessage(c, &protocol.StartStreaming{}))
	}
	c.term = terminal.New(c.size)
	c.state = stateStreaming
	activeStreamers.Inc()
	c.logger.Info("Streaming started", "username", c.username, "size", c.size.String())
	return nil
}

func (r *Relay) handleStartWatching(c *conn, m *protocol.StartWatching) error {
	if c.state != stateLoggedIn {
		return trace.Wrap(r.rejectMessage(c, m))
	}
	target, ok := r.conns[m.ID]
	if !ok || target.state != stateStreaming {
		return trace.NotFound("invalid watch id: %v", m.ID)
	}

	c.watchID = target.id
	c.state = stateWatching
	activeWatchers.Inc()
	c.logger.Info("Watching started",
		"username", c.username, "watch_id", target.id)

	// Catch the watcher up before any live diff: its terminal must match
	// the streamer's size, then replay the full current screen.
	snapshot := target.term.Snapshot()
	r.enqueue(c, &protocol.Resize{Size: target.size})
	r.enqueue(c, &protocol.TerminalOutput{Data: snapshot.Contents()})
	return nil
}

func (r *Relay) handleTerminalOutput(c *conn, m *protocol.TerminalOutput) error {
	if c.state != stateStreaming {
		return trace.Wrap(r.rejectMessage(c, m))
	}
	c.lastActivity = r.clock.Now()

	prev := c.term.Snapshot()
	if err := c.term.Process(m.Data); err != nil {
		return trace.Wrap(err)
	}
	diff := c.term.Snapshot().Diff(prev)
	if len(diff) == 0 {
		return nil
	}

	// One diff per streamer message, shared by every watcher's queue.
	out := &protocol.TerminalOutput{Data: diff}
	for _, w := range r.conns {
		if w.state == stateWatching && w.watchID == c.id {
			r.enqueue(w, out)
		}
	}
	return nil
}

func (r *Relay) handleListSessions(c *conn) error {
	if c.state != stateLoggedIn {
		return trace.Wrap(r.rejectMessage(c, &protocol.ListSessions{}))
	}

	watcherCounts := make(map[string]uint32)
	for _, w := range r.conns {
		if w.state == stateWatching {
			watcherCounts[w.watchID]++
		}
	}

	var sessions []protocol.Session
	for _, s := range r.conns {
		if s.state != stateStreaming {
			continue
		}
		sessions = append(sessions, protocol.Session{
			ID:          s.id,
			Username:    s.username,
			TermType:    s.termType,
			Size:        s.size,
			IdleSeconds: uint32(r.clock.Now().Sub(s.lastActivity).Seconds()),
			Title:       s.term.Title(),
			Watchers:    watcherCounts[s.id],
		})
	}
	// Map iteration order is random; keep listings stable for clients.
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Username != sessions[j].Username {
			return sessions[i].Username < sessions[j].Username
		}
		return sessions[i].ID < sessions[j].ID
	})

	r.enqueue(c, &protocol.Sessions{Sessions: sessions})
	return nil
}

func (r *Relay) handleHeartbeat(c *conn) error {
	switch c.state {
	case stateLoggedIn, stateStreaming, stateWatching:
		r.enqueue(c, &protocol.Heartbeat{})
		return nil
	}
	return trace.Wrap(r.rejectMessage(c, &protocol.Heartbeat{}))
}

func (r *Relay) handleResize(c *conn, m *protocol.Resize) error {
	switch c.state {
	case stateLoggedIn, stateStreaming, stateWatching:
	default:
		return trace.Wrap(r.rejectMessage(c, m))
	}
	// The streamer's model allocates cells for the full grid, so resizes
	// get the same bound as logins.
	if err := checkTermSize(m.Size); err != nil {
		return trace.Wrap(err)
	}
	c.size = m.Size

	if c.state == stateStreaming {
		c.term.Resize(m.Size)
		out := &protocol.Resize{Size: m.Size}
		for _, w := range r.conns {
			if w.state == stateWatching && w.watchID == c.id {
				r.enqueue(w, out)
			}
		}
	}
	return nil
}
