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
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/oauth"
	"github.com/teleterm/teleterm/lib/protocol"
	"github.com/teleterm/teleterm/lib/relay"
)

func startRelay(t *testing.T, mutate func(*relay.Config)) *relay.Relay {
	t.Helper()

	cfg := relay.Config{
		ListenAddr: "127.0.0.1:0",
		DataDir:    t.TempDir(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := relay.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("relay did not shut down")
		}
	})
	return r
}

func testConfig(t *testing.T, r *relay.Relay) Config {
	t.Helper()
	return Config{
		Addr:     r.Addr().String(),
		Auth:     protocol.PlainAuth("alice"),
		TermType: "xterm",
		Size:     protocol.Size{Rows: 24, Cols: 80},
		DataDir:  t.TempDir(),
	}
}

func TestConnectAndList(t *testing.T) {
	t.Parallel()
	r := startRelay(t, nil)

	conn, err := Connect(context.Background(), testConfig(t, r))
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "alice", conn.Username())
	sessions, err := conn.ListSessions()
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestConnectRejectedLogin(t *testing.T) {
	t.Parallel()
	r := startRelay(t, func(cfg *relay.Config) {
		cfg.AllowedLoginMethods = []protocol.AuthType{protocol.AuthRecurseCenter}
	})

	_, err := Connect(context.Background(), testConfig(t, r))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not allowed")
}

func TestStreamAndWatch(t *testing.T) {
	t.Parallel()
	r := startRelay(t, nil)

	streamer, err := Connect(context.Background(), testConfig(t, r))
	require.NoError(t, err)
	defer streamer.Close()
	require.NoError(t, streamer.WriteMessage(&protocol.StartStreaming{}))
	require.NoError(t, streamer.WriteMessage(&protocol.TerminalOutput{Data: []byte("output")}))

	watcherCfg := testConfig(t, r)
	watcherCfg.Auth = protocol.PlainAuth("bob")
	watcher, err := Connect(context.Background(), watcherCfg)
	require.NoError(t, err)
	defer watcher.Close()

	var sessions []protocol.Session
	require.Eventually(t, func() bool {
		var err error
		sessions, err = watcher.ListSessions()
		require.NoError(t, err)
		return len(sessions) == 1
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, "alice", sessions[0].Username)

	require.NoError(t, watcher.WriteMessage(&protocol.StartWatching{ID: sessions[0].ID}))
	msg, err := watcher.ReadMessage()
	require.NoError(t, err)
	resize, ok := msg.(*protocol.Resize)
	require.True(t, ok, "expected Resize, got %T", msg)
	require.Equal(t, protocol.Size{Rows: 24, Cols: 80}, resize.Size)

	msg, err = watcher.ReadMessage()
	require.NoError(t, err)
	require.IsType(t, &protocol.TerminalOutput{}, msg)
}

func TestOauthConnect(t *testing.T) {
	// Not parallel: the oauth redirect listener binds a fixed port.
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"the-access","token_type":"bearer","refresh_token":"the-refresh"}`)
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"doy","stints":[]}`)
	})
	provider := httptest.NewServer(mux)
	defer provider.Close()

	r := startRelay(t, func(cfg *relay.Config) {
		cfg.OauthConfigs = map[protocol.AuthType]oauth.Config{
			protocol.AuthRecurseCenter: {
				Provider:     oauth.RecurseCenter,
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				AuthURL:      provider.URL + "/authorize",
				TokenURL:     provider.URL + "/token",
				ProfileURL:   provider.URL + "/profile",
			},
		}
	})

	// The fake browser reads the state off the authorize URL and follows
	// the provider redirect straight back to the flow's local listener.
	prev := openBrowserFn
	openBrowserFn = func(ctx context.Context, cfg Config, authorizeURL string) {
		go func() {
			state, err := oauth.ParseState(authorizeURL)
			if err != nil {
				return
			}
			redirect := fmt.Sprintf("http://%s/oauth?code=%s&state=%s",
				defaults.OauthListenAddr, url.QueryEscape("the-code"), url.QueryEscape(state))
			for i := 0; i < 100; i++ {
				if resp, err := http.Get(redirect); err == nil {
					resp.Body.Close()
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
		}()
	}
	defer func() { openBrowserFn = prev }()

	cfg := testConfig(t, r)
	cfg.Auth = protocol.OauthAuth(protocol.AuthRecurseCenter, "")
	conn, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "doy", conn.Username())

	// The assigned id was remembered for future refresh logins.
	id, err := oauth.LoadClientID(cfg.DataDir, protocol.AuthRecurseCenter.String())
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestSessionReconnects(t *testing.T) {
	t.Parallel()
	// An aggressive read timeout makes the relay drop the session, which
	// must log back in on its own.
	r := startRelay(t, func(cfg *relay.Config) {
		cfg.ReadTimeout = 300 * time.Millisecond
	})

	session, err := NewSession(SessionConfig{Config: testConfig(t, r)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	waitFor := func(kind EventKind) {
		t.Helper()
		deadline := time.After(15 * time.Second)
		for {
			select {
			case ev := <-session.Events():
				if ev.Kind == kind {
					return
				}
			case <-deadline:
				t.Fatalf("no %v event", kind)
			}
		}
	}

	waitFor(EventConnected)
	waitFor(EventDisconnected)
	waitFor(EventConnected)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	session, err := NewSession(SessionConfig{Config: Config{
		Addr:    "127.0.0.1:1",
		Auth:    protocol.PlainAuth("alice"),
		Size:    protocol.Size{Rows: 24, Cols: 80},
		DataDir: t.TempDir(),
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session.backoff = defaults.ReconnectBackoffBase
	session.sleepBackoff(ctx)
	require.Equal(t, 2*defaults.ReconnectBackoffBase, session.backoff)

	session.backoff = defaults.ReconnectBackoffMax
	session.sleepBackoff(ctx)
	require.Equal(t, defaults.ReconnectBackoffMax, session.backoff)
}
