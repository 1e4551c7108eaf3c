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

package protocol

import (
	"github.com/gravitational/trace"
)

// AuthType discriminates the supported authentication methods.
type AuthType byte

const (
	// AuthPlain is unauthenticated login under a caller-chosen username.
	AuthPlain AuthType = 0
	// AuthRecurseCenter is OAuth login through the Recurse Center.
	AuthRecurseCenter AuthType = 1
)

const (
	authNamePlain         = "plain"
	authNameRecurseCenter = "recurse_center"
)

func (t AuthType) String() string {
	switch t {
	case AuthPlain:
		return authNamePlain
	case AuthRecurseCenter:
		return authNameRecurseCenter
	}
	return "unknown"
}

// IsOauth reports whether the auth type requires the OAuth mediator.
func (t AuthType) IsOauth() bool {
	return t == AuthRecurseCenter
}

// ParseAuthType maps a configuration string to an AuthType.
func ParseAuthType(s string) (AuthType, error) {
	switch s {
	case authNamePlain:
		return AuthPlain, nil
	case authNameRecurseCenter:
		return AuthRecurseCenter, nil
	}
	return 0, trace.BadParameter("unknown auth type %q", s)
}

// AuthClient tells the relay which OAuth redirection flow the logging-in
// client can drive.
type AuthClient byte

const (
	// AuthClientCli clients open a browser and run a one-shot local HTTP
	// listener for the provider redirect.
	AuthClientCli AuthClient = 0
	// AuthClientWeb clients are browsers behind the web bridge; the
	// bridge completes the OAuth exchange itself.
	AuthClientWeb AuthClient = 1
)

func (c AuthClient) String() string {
	switch c {
	case AuthClientCli:
		return "cli"
	case AuthClientWeb:
		return "web"
	}
	return "unknown"
}

// Auth is the authentication material carried by a Login message: either a
// plain username, or an OAuth kind plus an optional previously-issued user
// id. An empty ID means the client has not been through the interactive
// flow yet.
type Auth struct {
	Type     AuthType
	Username string
	ID       string
}

// PlainAuth builds plain authentication for username.
func PlainAuth(username string) Auth {
	return Auth{Type: AuthPlain, Username: username}
}

// OauthAuth builds OAuth authentication of the given kind. id may be empty.
func OauthAuth(kind AuthType, id string) Auth {
	return Auth{Type: kind, ID: id}
}

// OauthID returns the client's cached OAuth user id, if any.
func (a Auth) OauthID() (string, bool) {
	if !a.Type.IsOauth() || a.ID == "" {
		return "", false
	}
	return a.ID, true
}

func (a Auth) encode(w *payloadWriter) {
	w.writeUint8(byte(a.Type))
	if a.Type.IsOauth() {
		w.writeString(a.ID)
	} else {
		w.writeString(a.Username)
	}
}

func (a *Auth) decode(r *payloadReader) error {
	ty, err := r.readUint8()
	if err != nil {
		return trace.Wrap(err)
	}
	s, err := r.readString()
	if err != nil {
		return trace.Wrap(err)
	}
	switch AuthType(ty) {
	case AuthPlain:
		*a = PlainAuth(s)
	case AuthRecurseCenter:
		*a = OauthAuth(AuthRecurseCenter, s)
	default:
		return trace.Wrap(ErrInvalidAuthType, "auth type %d", ty)
	}
	return nil
}
