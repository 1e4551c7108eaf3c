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

package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, tokenURL string) Config {
	t.Helper()
	return Config{
		Provider:     RecurseCenter,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://provider.example.com/authorize",
		TokenURL:     tokenURL,
		ProfileURL:   "https://provider.example.com/profile",
	}
}

func tokenHandler(t *testing.T, wantGrant string, response map[string]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, wantGrant, r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"bearer","refresh_token":%q}`,
			response["access"], response["refresh"])
	}
}

func TestExchangeCodeCachesTokens(t *testing.T) {
	srv := httptest.NewServer(tokenHandler(t, "authorization_code", map[string]string{
		"access":  "access-1",
		"refresh": "refresh-1",
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	client, err := NewClient(testConfig(t, srv.URL), "user-1", dataDir)
	require.NoError(t, err)
	require.False(t, client.HasCachedToken())

	access, err := client.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	require.Equal(t, "access-1", access)

	require.True(t, client.HasCachedToken())
	data, err := os.ReadFile(TokenCachePath(dataDir, RecurseCenter, "user-1"))
	require.NoError(t, err)
	require.Equal(t, "refresh-1\naccess-1\n", string(data))

	fi, err := os.Stat(TokenCachePath(dataDir, RecurseCenter, "user-1"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	refresh, err := client.CachedRefreshToken()
	require.NoError(t, err)
	require.Equal(t, "refresh-1", refresh)
}

func TestExchangeRefreshTokenRotatesCache(t *testing.T) {
	srv := httptest.NewServer(tokenHandler(t, "refresh_token", map[string]string{
		"access":  "access-2",
		"refresh": "refresh-2",
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	client, err := NewClient(testConfig(t, srv.URL), "user-1", dataDir)
	require.NoError(t, err)

	access, err := client.ExchangeRefreshToken(context.Background(), "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", access)

	refresh, err := client.CachedRefreshToken()
	require.NoError(t, err)
	require.Equal(t, "refresh-2", refresh)
}

func TestCachedRefreshTokenMissing(t *testing.T) {
	t.Parallel()

	client, err := NewClient(testConfig(t, "https://provider.example.com/token"), "user-x", t.TempDir())
	require.NoError(t, err)

	_, err = client.CachedRefreshToken()
	require.True(t, trace.IsNotFound(err))
}

func TestAuthorizeURLCarriesFreshState(t *testing.T) {
	t.Parallel()

	client, err := NewClient(testConfig(t, "https://provider.example.com/token"), "user-1", t.TempDir())
	require.NoError(t, err)

	authorizeURL, err := client.AuthorizeURL()
	require.NoError(t, err)

	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	require.Equal(t, "provider.example.com", u.Host)
	require.Equal(t, "client-id", u.Query().Get("client_id"))
	require.Equal(t, CLIRedirectURL, u.Query().Get("redirect_uri"))
	require.Equal(t, "code", u.Query().Get("response_type"))
	require.Len(t, u.Query().Get("state"), 32)

	state, err := ParseState(authorizeURL)
	require.NoError(t, err)
	require.Equal(t, u.Query().Get("state"), state)

	second, err := client.AuthorizeURL()
	require.NoError(t, err)
	secondState, err := ParseState(second)
	require.NoError(t, err)
	require.NotEqual(t, state, secondState)
}

func TestParseStateRejectsStatelessURL(t *testing.T) {
	t.Parallel()

	_, err := ParseState("https://provider.example.com/authorize?client_id=x")
	require.Error(t, err)
}

func TestUsername(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		want    string
	}{
		{
			name:    "latest stint has a batch",
			profile: `{"name":"doy","stints":[{"batch":{"short_name":"S1'09"},"start_date":"2009-06-01"},{"batch":{"short_name":"W2'19"},"start_date":"2019-01-02"}]}`,
			want:    "doy (W2'19)",
		},
		{
			name:    "latest stint has no batch",
			profile: `{"name":"doy","stints":[{"batch":{"short_name":"S1'09"},"start_date":"2009-06-01"},{"batch":null,"start_date":"2020-05-04"}]}`,
			want:    "doy",
		},
		{
			name:    "no stints",
			profile: `{"name":"doy","stints":[]}`,
			want:    "doy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "Bearer the-access-token", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.profile)
			}))
			defer srv.Close()

			cfg := testConfig(t, "https://provider.example.com/token")
			cfg.ProfileURL = srv.URL
			client, err := NewClient(cfg, "user-1", t.TempDir())
			require.NoError(t, err)

			username, err := client.Username(context.Background(), "the-access-token")
			require.NoError(t, err)
			require.Equal(t, tt.want, username)
		})
	}
}

func TestClientIDRoundTrip(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	_, err := LoadClientID(dataDir, RecurseCenter)
	require.True(t, trace.IsNotFound(err))

	require.NoError(t, SaveClientID(dataDir, RecurseCenter, "assigned-id"))
	id, err := LoadClientID(dataDir, RecurseCenter)
	require.NoError(t, err)
	require.Equal(t, "assigned-id", id)
}

func TestConfigCheckAndSetDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Provider: RecurseCenter, ClientID: "id", ClientSecret: "secret"}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "https://www.recurse.com/oauth/authorize", cfg.AuthURL)
	require.Equal(t, "https://www.recurse.com/oauth/token", cfg.TokenURL)
	require.Equal(t, CLIRedirectURL, cfg.RedirectURL)

	missing := Config{Provider: RecurseCenter, ClientID: "id"}
	require.Error(t, missing.CheckAndSetDefaults())

	unknown := Config{Provider: "other", ClientID: "id", ClientSecret: "secret"}
	require.Error(t, unknown.CheckAndSetDefaults())
}
