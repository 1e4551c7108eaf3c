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

package web

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/teleterm/teleterm/lib/client"
	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/protocol"
)

// relayConfig builds the relay client config the bridge uses on behalf of
// a browser session.
func (s *Server) relayConfig(username string) client.Config {
	return client.Config{
		Addr:     s.cfg.RelayAddr,
		TLS:      s.cfg.RelayTLS,
		Auth:     protocol.PlainAuth(username),
		TermType: s.cfg.TermType,
		Size:     protocol.Size{Rows: 24, Cols: 80},
		DataDir:  s.cfg.DataDir,
		Clock:    s.cfg.Clock,
		Logger:   s.logger,
	}
}

type sessionInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	TermType    string `json:"term_type"`
	Rows        uint16 `json:"rows"`
	Cols        uint16 `json:"cols"`
	IdleSeconds uint32 `json:"idle_seconds"`
	Title       string `json:"title"`
	Watchers    uint32 `json:"watchers"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, username string) {
	conn, err := client.Connect(r.Context(), s.relayConfig(username))
	if err != nil {
		s.logger.WarnContext(r.Context(), "Failed to reach relay", "error", err)
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}
	defer conn.Close()

	sessions, err := conn.ListSessions()
	if err != nil {
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}

	infos := make([]sessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, sessionInfo{
			ID:          session.ID,
			Username:    session.Username,
			TermType:    session.TermType,
			Rows:        session.Size.Rows,
			Cols:        session.Size.Cols,
			IdleSeconds: session.IdleSeconds,
			Title:       session.Title,
			Watchers:    session.Watchers,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// wsEvent is one browser-bound event on the watch socket. Data is
// base64-encoded by encoding/json.
type wsEvent struct {
	Type string `json:"type"` // "resize", "output" or "disconnected"
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Data []byte `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The bridge is same-origin only in deployments that matter; the
	// session cookie is what actually gates access.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatch attaches to a streamer and relays its screen to the browser
// as JSON events until either side goes away.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request, username string) {
	watchID := r.URL.Query().Get("id")
	if watchID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	conn, err := client.Connect(r.Context(), s.relayConfig(username))
	if err != nil {
		s.logger.WarnContext(r.Context(), "Failed to reach relay", "error", err)
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}
	defer conn.Close()
	if err := conn.WriteMessage(&protocol.StartWatching{ID: watchID}); err != nil {
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.DebugContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	s.logger.InfoContext(r.Context(), "Watch attached",
		"username", username, "watch_id", watchID)

	// Browser-side reads only matter for close detection.
	browserGone := make(chan struct{})
	go func() {
		defer close(browserGone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	relayEvents := make(chan protocol.Message)
	relayErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				relayErr <- err
				return
			}
			select {
			case relayEvents <- msg:
			case <-browserGone:
				return
			}
		}
	}()

	heartbeat := s.cfg.Clock.NewTicker(defaults.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case msg := <-relayEvents:
			ev, done := browserEvent(msg)
			if ev != nil {
				if err := ws.WriteJSON(ev); err != nil {
					return
				}
			}
			if done {
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-relayErr:
			ws.WriteJSON(wsEvent{Type: "disconnected"})
			return
		case <-heartbeat.Chan():
			if err := conn.WriteMessage(&protocol.Heartbeat{}); err != nil {
				return
			}
		case <-browserGone:
			return
		}
	}
}

// browserEvent translates a relay message into a browser event. done
// reports that the watched session is over.
func browserEvent(msg protocol.Message) (*wsEvent, bool) {
	switch m := msg.(type) {
	case *protocol.Resize:
		return &wsEvent{Type: "resize", Rows: m.Size.Rows, Cols: m.Size.Cols}, false
	case *protocol.TerminalOutput:
		return &wsEvent{Type: "output", Data: m.Data}, false
	case *protocol.Disconnected:
		return &wsEvent{Type: "disconnected"}, true
	case *protocol.Error:
		return &wsEvent{Type: "disconnected"}, true
	default:
		return nil, false
	}
}
