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

// Package config reads the teleterm YAML configuration file and turns it
// into the typed configs the subsystems take.
package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"

	"github.com/teleterm/teleterm/lib/client"
	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/dirs"
	"github.com/teleterm/teleterm/lib/oauth"
	"github.com/teleterm/teleterm/lib/protocol"
	"github.com/teleterm/teleterm/lib/relay"
	"github.com/teleterm/teleterm/lib/web"
)

// Filename is the config file name looked up under the config directory
// when no explicit path is given.
const Filename = "config.yaml"

// FileConfig is the on-disk configuration. Zero values mean defaults, so
// an absent file and an empty file behave the same.
type FileConfig struct {
	// Server configures the relay.
	Server Server `yaml:"server,omitempty"`
	// Client configures the stream and watch commands.
	Client Client `yaml:"client,omitempty"`
	// Web configures the HTTP/WebSocket bridge.
	Web Web `yaml:"web,omitempty"`
	// TTYRec configures the record and play commands.
	TTYRec TTYRec `yaml:"ttyrec,omitempty"`
	// OAuth holds per-provider OAuth credentials, keyed by provider name.
	OAuth map[string]OAuthProvider `yaml:"oauth,omitempty"`
	// DataDir overrides where token caches and client ids are kept.
	DataDir string `yaml:"data_dir,omitempty"`
}

// Server is the relay section.
type Server struct {
	// ListenAddress is the relay bind address.
	ListenAddress string `yaml:"listen_address,omitempty"`
	// ReadTimeoutSecs closes connections that send nothing for this long.
	ReadTimeoutSecs int `yaml:"read_timeout_secs,omitempty"`
	// TLSIdentityFile is a PKCS#12 bundle; TLS stays off when empty.
	TLSIdentityFile string `yaml:"tls_identity_file,omitempty"`
	// AllowedLoginMethods restricts login auth types.
	AllowedLoginMethods []string `yaml:"allowed_login_methods,omitempty,flow"`
	// UID is the user id to drop to after binding.
	UID int `yaml:"uid,omitempty"`
	// GID is the group id to drop to after binding.
	GID int `yaml:"gid,omitempty"`
}

// Client is the stream/watch section.
type Client struct {
	// ConnectAddress is the relay address to connect to.
	ConnectAddress string `yaml:"connect_address,omitempty"`
	// TLS dials the relay over TLS.
	TLS bool `yaml:"tls,omitempty"`
	// AuthType selects the login method, "plain" or an OAuth provider.
	AuthType string `yaml:"auth,omitempty"`
	// Username is the plain login username. Defaults to $USER.
	Username string `yaml:"username,omitempty"`
}

// Web is the bridge section.
type Web struct {
	// ListenAddress is the bridge bind address.
	ListenAddress string `yaml:"listen_address,omitempty"`
}

// TTYRec is the record/play section.
type TTYRec struct {
	// Filename is the default recording file.
	Filename string `yaml:"filename,omitempty"`
}

// OAuthProvider carries one provider's OAuth credentials.
type OAuthProvider struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthURL      string `yaml:"auth_url,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty"`
	RedirectURL  string `yaml:"redirect_url,omitempty"`
}

// Load reads the config file at path. An empty path means
// <config-dir>/config.yaml; a missing file at the default location is not
// an error, a missing explicit path is.
func Load(path string) (*FileConfig, error) {
	explicit := path != ""
	if !explicit {
		configDir, err := dirs.Config()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		path = filepath.Join(configDir, Filename)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &FileConfig{}, nil
		}
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()

	fc, err := Read(f)
	return fc, trace.Wrap(err, "parsing %v", path)
}

// Read parses YAML configuration. Unknown keys are rejected, so typos
// surface at startup instead of silently meaning defaults.
func Read(r io.Reader) (*FileConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var fc FileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return nil, trace.BadParameter("%s", err)
	}
	return &fc, nil
}

// RelayConfig materializes the relay server config.
func (fc *FileConfig) RelayConfig() (relay.Config, error) {
	cfg := relay.Config{
		ListenAddr:      fc.Server.ListenAddress,
		ReadTimeout:     time.Duration(fc.Server.ReadTimeoutSecs) * time.Second,
		TLSIdentityFile: fc.Server.TLSIdentityFile,
		DataDir:         fc.DataDir,
		UID:             fc.Server.UID,
		GID:             fc.Server.GID,
	}
	for _, method := range fc.Server.AllowedLoginMethods {
		ty, err := protocol.ParseAuthType(method)
		if err != nil {
			return relay.Config{}, trace.Wrap(err)
		}
		cfg.AllowedLoginMethods = append(cfg.AllowedLoginMethods, ty)
	}

	for provider, pc := range fc.OAuth {
		ty, err := protocol.ParseAuthType(provider)
		if err != nil {
			return relay.Config{}, trace.Wrap(err, "oauth provider %q", provider)
		}
		if !ty.IsOauth() {
			return relay.Config{}, trace.BadParameter("%q is not an oauth provider", provider)
		}
		if cfg.OauthConfigs == nil {
			cfg.OauthConfigs = make(map[protocol.AuthType]oauth.Config)
		}
		cfg.OauthConfigs[ty] = oauth.Config{
			Provider:     provider,
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			AuthURL:      pc.AuthURL,
			TokenURL:     pc.TokenURL,
			RedirectURL:  pc.RedirectURL,
		}
	}
	return cfg, nil
}

// ClientConfig materializes the relay client config for the stream and
// watch commands.
func (fc *FileConfig) ClientConfig() (client.Config, error) {
	cfg := client.Config{
		Addr:     fc.Client.ConnectAddress,
		TLS:      fc.Client.TLS,
		TermType: os.Getenv("TERM"),
		DataDir:  fc.DataDir,
	}

	authType := protocol.AuthPlain
	if fc.Client.AuthType != "" {
		var err error
		authType, err = protocol.ParseAuthType(fc.Client.AuthType)
		if err != nil {
			return client.Config{}, trace.Wrap(err)
		}
	}
	if authType.IsOauth() {
		cfg.Auth = protocol.OauthAuth(authType, "")
		return cfg, nil
	}

	username := fc.Client.Username
	if username == "" {
		username = os.Getenv("USER")
	}
	if username == "" {
		return client.Config{}, trace.BadParameter("no username in config or $USER")
	}
	cfg.Auth = protocol.PlainAuth(username)
	return cfg, nil
}

// WebConfig materializes the web bridge config. The bridge logs in to the
// relay per browser session, so no client auth is involved here.
func (fc *FileConfig) WebConfig() (web.Config, error) {
	return web.Config{
		ListenAddr: fc.Web.ListenAddress,
		RelayAddr:  fc.Client.ConnectAddress,
		RelayTLS:   fc.Client.TLS,
		DataDir:    fc.DataDir,
		TermType:   os.Getenv("TERM"),
	}, nil
}

// TTYRecFilename returns the recording file to use, preferring the
// explicit flag value over the config over the default.
func (fc *FileConfig) TTYRecFilename(flag string) string {
	switch {
	case flag != "":
		return flag
	case fc.TTYRec.Filename != "":
		return fc.TTYRec.Filename
	default:
		return defaults.TTYRecFilename
	}
}
