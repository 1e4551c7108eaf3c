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

// Package web is the HTTP/WebSocket bridge: it speaks the relay's wire
// protocol on one side and serves browsers JSON and WebSocket events on
// the other. Login is session-cookie based; the bridge logs in to the
// relay on the browser's behalf.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teleterm/teleterm"
	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/utils"
)

// SessionCookie names the browser session cookie.
const SessionCookie = "teleterm"

// Config holds web bridge parameters.
type Config struct {
	// ListenAddr is the address to serve HTTP on.
	ListenAddr string
	// RelayAddr is the relay the bridge connects to.
	RelayAddr string
	// RelayTLS dials the relay over TLS.
	RelayTLS bool
	// DataDir is passed through to the relay client.
	DataDir string
	// TermType is advertised to the relay on behalf of browsers.
	TermType string
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
	// Logger overrides the default logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.WebListenAddr
	}
	if c.RelayAddr == "" {
		c.RelayAddr = defaults.ConnectAddr
	}
	if c.TermType == "" {
		c.TermType = "xterm"
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(teleterm.ComponentKey, teleterm.ComponentWeb)
	}
	return nil
}

// Server is the web bridge.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	listener net.Listener
	httpSrv  *http.Server

	mu       sync.Mutex
	sessions map[string]string // cookie token -> username
}

// New binds the listen address and sets up routing.
func New(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, trace.Wrap(err, "binding %v", cfg.ListenAddr)
	}

	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		listener: listener,
		sessions: make(map[string]string),
	}

	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/", s.handleIndex)
	router.HandlerFunc(http.MethodPost, "/api/login", s.handleLogin)
	router.HandlerFunc(http.MethodGet, "/api/logout", s.handleLogout)
	router.HandlerFunc(http.MethodGet, "/api/sessions", s.withAuth(s.handleSessions))
	router.HandlerFunc(http.MethodGet, "/api/watch", s.withAuth(s.handleWatch))
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	s.httpSrv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run serves HTTP until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Web bridge is listening",
		"listen_addr", s.listener.Addr().String(), "relay_addr", s.cfg.RelayAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(s.listener)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return trace.Wrap(s.httpSrv.Shutdown(shutdownCtx))
	case err := <-errCh:
		if utils.IsUseOfClosedNetworkError(err) || err == http.ErrServerClosed {
			return nil
		}
		return trace.Wrap(err)
	}
}

// Close stops the bridge.
func (s *Server) Close() error {
	return trace.Wrap(s.httpSrv.Close())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// withAuth resolves the session cookie to a username and rejects requests
// that do not carry a live session.
func (s *Server) withAuth(handler func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		s.mu.Lock()
		username, ok := s.sessions[cookie.Value]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		handler(w, r, username)
	}
}

const indexPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>teleterm</title></head>
<body>
<h1>teleterm</h1>
<p>log in via POST /api/login, list sessions at /api/sessions, attach at /api/watch?id=&lt;session&gt;.</p>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Username string `json:"username"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid login request")
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "missing username")
		return
	}

	token, err := utils.CryptoRandomHex(16)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.mu.Lock()
	s.sessions[token] = req.Username
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.InfoContext(r.Context(), "Web login", "username", req.Username)
	writeJSON(w, http.StatusOK, loginResponse{Username: req.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	w.WriteHeader(http.StatusNoContent)
}
