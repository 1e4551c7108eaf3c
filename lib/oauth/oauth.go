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

// Package oauth implements the relay's OAuth 2 mediation: authorize URL
// generation, code and refresh-token exchange, on-disk token caching, and
// the provider calls that turn an access token into a display username.
package oauth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gravitational/trace"
	"golang.org/x/oauth2"

	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/utils"
)

// CLIRedirectURL is where the CLI client listens for the provider's
// browser redirect. Providers have this URL registered, so it is fixed.
const CLIRedirectURL = "http://localhost:44141/oauth"

// Config describes one OAuth provider.
type Config struct {
	// Provider is the provider key, e.g. "recurse_center". It selects the
	// profile endpoint and names the token cache files.
	Provider string
	// ClientID is the OAuth client id issued by the provider.
	ClientID string
	// ClientSecret is the OAuth client secret issued by the provider.
	ClientSecret string
	// AuthURL overrides the provider's authorize endpoint.
	AuthURL string
	// TokenURL overrides the provider's token endpoint.
	TokenURL string
	// RedirectURL overrides where the provider sends the user back to.
	RedirectURL string
	// ProfileURL overrides the provider's profile endpoint, used in tests.
	ProfileURL string
}

// CheckAndSetDefaults validates the config and fills in provider defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Provider == "" {
		return trace.BadParameter("missing oauth provider")
	}
	if c.ClientID == "" {
		return trace.BadParameter("missing oauth client id for provider %q", c.Provider)
	}
	if c.ClientSecret == "" {
		return trace.BadParameter("missing oauth client secret for provider %q", c.Provider)
	}
	if c.RedirectURL == "" {
		c.RedirectURL = CLIRedirectURL
	}
	if c.AuthURL == "" || c.TokenURL == "" || c.ProfileURL == "" {
		switch c.Provider {
		case RecurseCenter:
			if c.AuthURL == "" {
				c.AuthURL = recurseCenterAuthURL
			}
			if c.TokenURL == "" {
				c.TokenURL = recurseCenterTokenURL
			}
			if c.ProfileURL == "" {
				c.ProfileURL = recurseCenterProfileURL
			}
		default:
			return trace.BadParameter("no default endpoints for oauth provider %q", c.Provider)
		}
	}
	return nil
}

// Client runs the OAuth flows for one user against one provider.
type Client struct {
	cfg     Config
	oauth2  oauth2.Config
	userID  string
	dataDir string
	http    *http.Client
}

// NewClient creates an OAuth client for the given user id. Token cache
// files are kept under dataDir.
func NewClient(cfg Config, userID, dataDir string) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if userID == "" {
		return nil, trace.BadParameter("missing oauth user id")
	}
	if dataDir == "" {
		return nil, trace.BadParameter("missing data directory")
	}
	return &Client{
		cfg: cfg,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userID:  userID,
		dataDir: dataDir,
		http:    &http.Client{Timeout: defaults.HTTPRequestTimeout},
	}, nil
}

// UserID returns the user id this client was created for.
func (c *Client) UserID() string {
	return c.userID
}

// Provider returns the provider key.
func (c *Client) Provider() string {
	return c.cfg.Provider
}

// AuthorizeURL builds the provider's authorize URL with a fresh random
// CSRF token in the state parameter. The relay never sees the redirect;
// the client compares the state it finds here against the one on the
// redirect.
func (c *Client) AuthorizeURL() (string, error) {
	state, err := utils.CryptoRandomHex(16)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return c.oauth2.AuthCodeURL(state), nil
}

// ExchangeCode trades an authorization code for an access token and
// persists the refresh token for later logins.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	token, err := c.oauth2.Exchange(c.httpContext(ctx), code)
	if err != nil {
		return "", trace.Wrap(err, "exchanging authorization code")
	}
	if err := c.cacheToken(token); err != nil {
		return "", trace.Wrap(err)
	}
	return token.AccessToken, nil
}

// ExchangeRefreshToken trades a refresh token for a fresh access token and
// rewrites the cache, since providers may rotate the refresh token.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	src := c.oauth2.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return "", trace.Wrap(err, "exchanging refresh token")
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	if err := c.cacheToken(token); err != nil {
		return "", trace.Wrap(err)
	}
	return token.AccessToken, nil
}

// Username resolves an access token into the provider's display username.
func (c *Client) Username(ctx context.Context, accessToken string) (string, error) {
	switch c.cfg.Provider {
	case RecurseCenter:
		username, err := recurseCenterUsername(ctx, c.http, c.cfg.ProfileURL, accessToken)
		return username, trace.Wrap(err)
	default:
		return "", trace.NotImplemented("no profile endpoint for oauth provider %q", c.cfg.Provider)
	}
}

// httpContext makes oauth2 exchanges go through the client with timeouts.
func (c *Client) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// ParseState extracts the CSRF state parameter from an authorize URL, so
// the CLI can compare it against the state on the provider redirect.
func ParseState(authorizeURL string) (string, error) {
	u, err := url.Parse(authorizeURL)
	if err != nil {
		return "", trace.Wrap(err, "parsing authorize url")
	}
	state := u.Query().Get("state")
	if state == "" {
		return "", trace.BadParameter("authorize url carries no state parameter")
	}
	return state, nil
}
