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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/teleterm/teleterm/lib/client"
	"github.com/teleterm/teleterm/lib/protocol"
	"github.com/teleterm/teleterm/lib/relay"
	"github.com/teleterm/teleterm/lib/terminal"
)

func startRelay(t *testing.T) *relay.Relay {
	t.Helper()
	r, err := relay.New(relay.Config{
		ListenAddr: "127.0.0.1:0",
		DataDir:    t.TempDir(),
	})
	require.NoError(t, err)
	runServer(t, func(ctx context.Context) error { return r.Run(ctx) })
	return r
}

func startBridge(t *testing.T, r *relay.Relay) *Server {
	t.Helper()
	s, err := New(Config{
		ListenAddr: "127.0.0.1:0",
		RelayAddr:  r.Addr().String(),
		DataDir:    t.TempDir(),
	})
	require.NoError(t, err)
	runServer(t, func(ctx context.Context) error { return s.Run(ctx) })
	return s
}

func runServer(t *testing.T, run func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})
}

// login logs in to the bridge and returns the session cookie.
func login(t *testing.T, s *Server, username string) *http.Cookie {
	t.Helper()
	body, err := json.Marshal(loginRequest{Username: username})
	require.NoError(t, err)
	resp, err := http.Post(
		fmt.Sprintf("http://%s/api/login", s.Addr()), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie {
			return cookie
		}
	}
	t.Fatal("no session cookie in login response")
	return nil
}

func get(t *testing.T, s *Server, path string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s%s", s.Addr(), path), nil)
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func startStreamer(t *testing.T, r *relay.Relay, username string, output []byte) string {
	t.Helper()
	conn, err := client.Connect(context.Background(), client.Config{
		Addr:     r.Addr().String(),
		Auth:     protocol.PlainAuth(username),
		TermType: "xterm",
		Size:     protocol.Size{Rows: 24, Cols: 80},
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.WriteMessage(&protocol.StartStreaming{}))
	require.NoError(t, conn.WriteMessage(&protocol.TerminalOutput{Data: output}))

	sessions, err := conn.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	return sessions[0].ID
}

func TestLoginRequired(t *testing.T) {
	t.Parallel()
	s := startBridge(t, startRelay(t))

	resp := get(t, s, "/api/sessions", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRejectsEmptyUsername(t *testing.T) {
	t.Parallel()
	s := startBridge(t, startRelay(t))

	resp, err := http.Post(
		fmt.Sprintf("http://%s/api/login", s.Addr()), "application/json",
		bytes.NewReader([]byte(`{"username":""}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	r := startRelay(t)
	s := startBridge(t, r)
	id := startStreamer(t, r, "streamer", []byte("hi"))

	cookie := login(t, s, "viewer")
	resp := get(t, s, "/api/sessions", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []sessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 1)
	require.Equal(t, id, infos[0].ID)
	require.Equal(t, "streamer", infos[0].Username)
	require.Equal(t, uint16(24), infos[0].Rows)
	require.Equal(t, uint16(80), infos[0].Cols)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	s := startBridge(t, startRelay(t))

	cookie := login(t, s, "viewer")
	resp := get(t, s, "/api/sessions", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, s, "/api/logout", cookie)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = get(t, s, "/api/sessions", cookie)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWatchOverWebSocket(t *testing.T) {
	t.Parallel()
	r := startRelay(t)
	s := startBridge(t, r)
	id := startStreamer(t, r, "streamer", []byte("hello"))

	cookie := login(t, s, "viewer")
	header := http.Header{}
	header.Add("Cookie", cookie.String())
	ws, resp, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://%s/api/watch?id=%s", s.Addr(), id), header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	readEvent := func() wsEvent {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))
		var ev wsEvent
		require.NoError(t, ws.ReadJSON(&ev))
		return ev
	}

	// Catch-up arrives as a resize followed by a replayable screen.
	ev := readEvent()
	require.Equal(t, "resize", ev.Type)
	require.Equal(t, uint16(24), ev.Rows)
	require.Equal(t, uint16(80), ev.Cols)

	ev = readEvent()
	require.Equal(t, "output", ev.Type)
	screen := terminal.New(protocol.Size{Rows: 24, Cols: 80})
	require.NoError(t, screen.Process(ev.Data))
	require.Equal(t, "hello", screen.Snapshot().Line(0))
}

func TestWatchUnknownSession(t *testing.T) {
	t.Parallel()
	r := startRelay(t)
	s := startBridge(t, r)

	cookie := login(t, s, "viewer")
	header := http.Header{}
	header.Add("Cookie", cookie.String())

	// The relay rejects the watch id; the browser sees a disconnected
	// event (if the upgrade won the race) or an HTTP error.
	ws, resp, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://%s/api/watch?id=%s", s.Addr(), "59fe7cdb-5ac8-4b3b-9b61-a55b45e75637"), header)
	if err != nil {
		require.NotNil(t, resp)
		return
	}
	defer resp.Body.Close()
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))
	var ev wsEvent
	require.NoError(t, ws.ReadJSON(&ev))
	require.Equal(t, "disconnected", ev.Type)
}
