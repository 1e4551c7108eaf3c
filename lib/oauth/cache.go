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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gravitational/trace"
	"golang.org/x/oauth2"
)

// Token cache layout: one file per provider and user id under the data
// directory, two text lines, refresh token then access token. Writes go
// through a temp file and rename so a concurrent login never reads a
// half-written cache.

// TokenCachePath returns the server-side token cache file for a user.
func TokenCachePath(dataDir, provider, userID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("server-oauth-%s-%s", provider, userID))
}

// ClientIDPath returns the client-side file remembering the id the server
// assigned to this machine for a provider.
func ClientIDPath(dataDir, provider string) string {
	return filepath.Join(dataDir, fmt.Sprintf("client-oauth-%s", provider))
}

func (c *Client) tokenCachePath() string {
	return TokenCachePath(c.dataDir, c.cfg.Provider, c.userID)
}

// HasCachedToken reports whether a refresh token is cached for this user.
func (c *Client) HasCachedToken() bool {
	_, err := os.Stat(c.tokenCachePath())
	return err == nil
}

// CachedRefreshToken loads the cached refresh token. Returns a NotFound
// error when the cache file does not exist, so logins can fall back to the
// interactive flow.
func (c *Client) CachedRefreshToken() (string, error) {
	data, err := os.ReadFile(c.tokenCachePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", trace.NotFound("no cached token for user %q", c.userID)
		}
		return "", trace.ConvertSystemError(err)
	}
	refresh, _, _ := strings.Cut(string(data), "\n")
	if refresh == "" {
		return "", trace.BadParameter("token cache for user %q is empty", c.userID)
	}
	return refresh, nil
}

func (c *Client) cacheToken(token *oauth2.Token) error {
	if token.RefreshToken == "" {
		// Nothing worth caching; the next login will be interactive.
		return nil
	}
	return trace.Wrap(writeFileAtomic(
		c.tokenCachePath(),
		[]byte(token.RefreshToken+"\n"+token.AccessToken+"\n"),
	))
}

// SaveClientID persists the server-assigned oauth id on the client side.
func SaveClientID(dataDir, provider, id string) error {
	return trace.Wrap(writeFileAtomic(ClientIDPath(dataDir, provider), []byte(id+"\n")))
}

// LoadClientID loads the previously saved oauth id, returning NotFound if
// this machine never completed an interactive login.
func LoadClientID(dataDir, provider string) (string, error) {
	data, err := os.ReadFile(ClientIDPath(dataDir, provider))
	if err != nil {
		if os.IsNotExist(err) {
			return "", trace.NotFound("no saved oauth id for provider %q", provider)
		}
		return "", trace.ConvertSystemError(err)
	}
	id, _, _ := strings.Cut(string(data), "\n")
	if id == "" {
		return "", trace.BadParameter("saved oauth id for provider %q is empty", provider)
	}
	return id, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return trace.ConvertSystemError(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return trace.ConvertSystemError(err)
	}
	if err := tmp.Close(); err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}
