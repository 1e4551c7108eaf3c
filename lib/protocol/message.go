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

// Package protocol defines the message vocabulary spoken between teleterm
// clients and the relay, and the framed codec that carries it over TCP or
// TLS.
//
// Every message is a frame of the form
//
//	len uint32 LE | type uint8 | payload[len]
//
// where len counts only the payload. Payloads concatenate fixed-order typed
// fields: u8, u16 LE, u32 LE, strings and byte blobs as u32 LE length plus
// contents, lists as u32 LE count plus items.
package protocol

import (
	"fmt"

	"github.com/gravitational/trace"
)

// MessageType is the wire tag of a message.
type MessageType byte

const (
	MsgLogin            MessageType = 0
	MsgStartStreaming   MessageType = 1
	MsgStartWatching    MessageType = 2
	MsgHeartbeat        MessageType = 3
	MsgTerminalOutput   MessageType = 4
	MsgListSessions     MessageType = 5
	MsgSessions         MessageType = 6
	MsgDisconnected     MessageType = 7
	MsgError            MessageType = 8
	MsgResize           MessageType = 9
	MsgLoggedIn         MessageType = 10
	MsgOauthCliRequest  MessageType = 11
	MsgOauthCliResponse MessageType = 12
)

func (t MessageType) String() string {
	switch t {
	case MsgLogin:
		return "login"
	case MsgStartStreaming:
		return "start_streaming"
	case MsgStartWatching:
		return "start_watching"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgTerminalOutput:
		return "terminal_output"
	case MsgListSessions:
		return "list_sessions"
	case MsgSessions:
		return "sessions"
	case MsgDisconnected:
		return "disconnected"
	case MsgError:
		return "error"
	case MsgResize:
		return "resize"
	case MsgLoggedIn:
		return "logged_in"
	case MsgOauthCliRequest:
		return "oauth_cli_request"
	case MsgOauthCliResponse:
		return "oauth_cli_response"
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// Size is a terminal geometry. The relay rejects logins where either
// dimension reaches 1000.
type Size struct {
	Rows uint16
	Cols uint16
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Cols, s.Rows)
}

func (s Size) encode(w *payloadWriter) {
	w.writeUint16(s.Rows)
	w.writeUint16(s.Cols)
}

func (s *Size) decode(r *payloadReader) error {
	rows, err := r.readUint16()
	if err != nil {
		return trace.Wrap(err)
	}
	cols, err := r.readUint16()
	if err != nil {
		return trace.Wrap(err)
	}
	s.Rows, s.Cols = rows, cols
	return nil
}

// Session is the public listing record for one streamer.
type Session struct {
	ID          string
	Username    string
	TermType    string
	Size        Size
	IdleSeconds uint32
	Title       string
	Watchers    uint32
}

func (s Session) encode(w *payloadWriter) {
	w.writeString(s.ID)
	w.writeString(s.Username)
	w.writeString(s.TermType)
	s.Size.encode(w)
	w.writeUint32(s.IdleSeconds)
	w.writeString(s.Title)
	w.writeUint32(s.Watchers)
}

func (s *Session) decode(r *payloadReader) error {
	var err error
	if s.ID, err = r.readString(); err != nil {
		return trace.Wrap(err)
	}
	if s.Username, err = r.readString(); err != nil {
		return trace.Wrap(err)
	}
	if s.TermType, err = r.readString(); err != nil {
		return trace.Wrap(err)
	}
	if err = s.Size.decode(r); err != nil {
		return trace.Wrap(err)
	}
	if s.IdleSeconds, err = r.readUint32(); err != nil {
		return trace.Wrap(err)
	}
	if s.Title, err = r.readString(); err != nil {
		return trace.Wrap(err)
	}
	if s.Watchers, err = r.readUint32(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Message is one record on the wire. The set of implementations is closed;
// the unexported methods keep it that way.
type Message interface {
	// Type returns the wire tag.
	Type() MessageType
	// LogFields returns slog key/value pairs describing the message with
	// bulk data and secrets elided.
	LogFields() []any

	encodePayload(w *payloadWriter)
	decodePayload(r *payloadReader) error
}

// Login authenticates a freshly accepted connection.
type Login struct {
	Auth     Auth
	Client   AuthClient
	TermType string
	Size     Size
}

func (m *Login) Type() MessageType { return MsgLogin }

func (m *Login) LogFields() []any {
	fields := []any{
		"type", m.Type().String(),
		"auth", m.Auth.Type.String(),
		"auth_client", m.Client.String(),
		"term_type", m.TermType,
		"size", m.Size.String(),
	}
	if m.Auth.Type.IsOauth() {
		fields = append(fields, "oauth_id", m.Auth.ID)
	} else {
		fields = append(fields, "username", m.Auth.Username)
	}
	return fields
}

func (m *Login) encodePayload(w *payloadWriter) {
	m.Auth.encode(w)
	w.writeUint8(byte(m.Client))
	w.writeString(m.TermType)
	m.Size.encode(w)
}

func (m *Login) decodePayload(r *payloadReader) error {
	if err := m.Auth.decode(r); err != nil {
		return trace.Wrap(err)
	}
	client, err := r.readUint8()
	if err != nil {
		return trace.Wrap(err)
	}
	if client > byte(AuthClientWeb) {
		return trace.Wrap(ErrInvalidAuthClient, "auth client %d", client)
	}
	m.Client = AuthClient(client)
	if m.TermType, err = r.readString(); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(m.Size.decode(r))
}

// StartStreaming turns a logged-in connection into a streamer.
type StartStreaming struct{}

func (m *StartStreaming) Type() MessageType              { return MsgStartStreaming }
func (m *StartStreaming) LogFields() []any               { return []any{"type", m.Type().String()} }
func (m *StartStreaming) encodePayload(w *payloadWriter) {}
func (m *StartStreaming) decodePayload(r *payloadReader) error {
	return nil
}

// StartWatching subscribes a logged-in connection to the streamer with the
// given session id.
type StartWatching struct {
	ID string
}

func (m *StartWatching) Type() MessageType { return MsgStartWatching }
func (m *StartWatching) LogFields() []any {
	return []any{"type", m.Type().String(), "id", m.ID}
}
func (m *StartWatching) encodePayload(w *payloadWriter) { w.writeString(m.ID) }
func (m *StartWatching) decodePayload(r *payloadReader) error {
	var err error
	m.ID, err = r.readString()
	return trace.Wrap(err)
}

// Heartbeat is a keepalive; the relay echoes it back.
type Heartbeat struct{}

func (m *Heartbeat) Type() MessageType              { return MsgHeartbeat }
func (m *Heartbeat) LogFields() []any               { return []any{"type", m.Type().String()} }
func (m *Heartbeat) encodePayload(w *payloadWriter) {}
func (m *Heartbeat) decodePayload(r *payloadReader) error {
	return nil
}

// TerminalOutput carries raw terminal bytes: streamer to relay they are PTY
// output, relay to watcher they are screen diffs (or the full catch-up
// contents).
type TerminalOutput struct {
	Data []byte
}

func (m *TerminalOutput) Type() MessageType { return MsgTerminalOutput }
func (m *TerminalOutput) LogFields() []any {
	return []any{"type", m.Type().String(), "len", len(m.Data)}
}
func (m *TerminalOutput) encodePayload(w *payloadWriter) { w.writeBytes(m.Data) }
func (m *TerminalOutput) decodePayload(r *payloadReader) error {
	var err error
	m.Data, err = r.readBytes()
	return trace.Wrap(err)
}

// ListSessions asks the relay for the current streamer listing.
type ListSessions struct{}

func (m *ListSessions) Type() MessageType              { return MsgListSessions }
func (m *ListSessions) LogFields() []any               { return []any{"type", m.Type().String()} }
func (m *ListSessions) encodePayload(w *payloadWriter) {}
func (m *ListSessions) decodePayload(r *payloadReader) error {
	return nil
}

// Sessions is the relay's answer to ListSessions.
type Sessions struct {
	Sessions []Session
}

func (m *Sessions) Type() MessageType { return MsgSessions }
func (m *Sessions) LogFields() []any {
	return []any{"type", m.Type().String(), "count", len(m.Sessions)}
}

func (m *Sessions) encodePayload(w *payloadWriter) {
	w.writeUint32(uint32(len(m.Sessions)))
	for _, s := range m.Sessions {
		s.encode(w)
	}
}

func (m *Sessions) decodePayload(r *payloadReader) error {
	count, err := r.readUint32()
	if err != nil {
		return trace.Wrap(err)
	}
	// Cap the preallocation: count is attacker-controlled, the payload
	// bound does the real limiting.
	sessions := make([]Session, 0, min(count, 128))
	for i := uint32(0); i < count; i++ {
		var s Session
		if err := s.decode(r); err != nil {
			return trace.Wrap(err)
		}
		sessions = append(sessions, s)
	}
	m.Sessions = sessions
	return nil
}

// Disconnected tells a watcher its streamer went away. The connection is
// closed right after.
type Disconnected struct{}

func (m *Disconnected) Type() MessageType              { return MsgDisconnected }
func (m *Disconnected) LogFields() []any               { return []any{"type", m.Type().String()} }
func (m *Disconnected) encodePayload(w *payloadWriter) {}
func (m *Disconnected) decodePayload(r *payloadReader) error {
	return nil
}

// Error is the final message on a connection the relay is closing due to a
// failure.
type Error struct {
	Msg string
}

func (m *Error) Type() MessageType { return MsgError }
func (m *Error) LogFields() []any {
	return []any{"type", m.Type().String(), "msg", m.Msg}
}
func (m *Error) encodePayload(w *payloadWriter) { w.writeString(m.Msg) }
func (m *Error) decodePayload(r *payloadReader) error {
	var err error
	m.Msg, err = r.readString()
	return trace.Wrap(err)
}

// Resize reports a terminal geometry change: streamer to relay it resizes
// the model, relay to watcher it mirrors the streamer's geometry.
type Resize struct {
	Size Size
}

func (m *Resize) Type() MessageType { return MsgResize }
func (m *Resize) LogFields() []any {
	return []any{"type", m.Type().String(), "size", m.Size.String()}
}
func (m *Resize) encodePayload(w *payloadWriter) { m.Size.encode(w) }
func (m *Resize) decodePayload(r *payloadReader) error {
	return trace.Wrap(m.Size.decode(r))
}

// LoggedIn confirms authentication and reports the username the relay
// settled on.
type LoggedIn struct {
	Username string
}

func (m *LoggedIn) Type() MessageType { return MsgLoggedIn }
func (m *LoggedIn) LogFields() []any {
	return []any{"type", m.Type().String(), "username", m.Username}
}
func (m *LoggedIn) encodePayload(w *payloadWriter) { w.writeString(m.Username) }
func (m *LoggedIn) decodePayload(r *payloadReader) error {
	var err error
	m.Username, err = r.readString()
	return trace.Wrap(err)
}

// OauthCliRequest asks a CLI client to drive the interactive OAuth flow:
// open URL in a browser and report the resulting authorization code. ID is
// the user id the relay allocated for the token cache; the client keeps it
// for future logins.
type OauthCliRequest struct {
	URL string
	ID  string
}

func (m *OauthCliRequest) Type() MessageType { return MsgOauthCliRequest }
func (m *OauthCliRequest) LogFields() []any {
	// The authorize URL carries the CSRF state, keep it out of logs.
	return []any{"type", m.Type().String(), "id", m.ID}
}

func (m *OauthCliRequest) encodePayload(w *payloadWriter) {
	w.writeString(m.URL)
	w.writeString(m.ID)
}

func (m *OauthCliRequest) decodePayload(r *payloadReader) error {
	var err error
	if m.URL, err = r.readString(); err != nil {
		return trace.Wrap(err)
	}
	m.ID, err = r.readString()
	return trace.Wrap(err)
}

// OauthCliResponse carries the authorization code captured by the client's
// one-shot redirect listener.
type OauthCliResponse struct {
	Code string
}

func (m *OauthCliResponse) Type() MessageType { return MsgOauthCliResponse }
func (m *OauthCliResponse) LogFields() []any {
	// Never log the authorization code.
	return []any{"type", m.Type().String()}
}
func (m *OauthCliResponse) encodePayload(w *payloadWriter) { w.writeString(m.Code) }
func (m *OauthCliResponse) decodePayload(r *payloadReader) error {
	var err error
	m.Code, err = r.readString()
	return trace.Wrap(err)
}

// newMessage returns a zero message of the given type.
func newMessage(t MessageType) (Message, error) {
	switch t {
	case MsgLogin:
		return &Login{}, nil
	case MsgStartStreaming:
		return &StartStreaming{}, nil
	case MsgStartWatching:
		return &StartWatching{}, nil
	case MsgHeartbeat:
		return &Heartbeat{}, nil
	case MsgTerminalOutput:
		return &TerminalOutput{}, nil
	case MsgListSessions:
		return &ListSessions{}, nil
	case MsgSessions:
		return &Sessions{}, nil
	case MsgDisconnected:
		return &Disconnected{}, nil
	case MsgError:
		return &Error{}, nil
	case MsgResize:
		return &Resize{}, nil
	case MsgLoggedIn:
		return &LoggedIn{}, nil
	case MsgOauthCliRequest:
		return &OauthCliRequest{}, nil
	case MsgOauthCliResponse:
		return &OauthCliResponse{}, nil
	}
	return nil, trace.Wrap(ErrInvalidMessageType, "message type %d", byte(t))
}

// minPayloadLen is the smallest payload that can possibly hold the fields
// of the given message type. Frames shorter than this are rejected before
// parsing.
func minPayloadLen(t MessageType) int {
	switch t {
	case MsgLogin:
		// auth (u8 + string) + auth client u8 + term_type + size
		return 1 + 4 + 1 + 4 + 4
	case MsgStartWatching, MsgTerminalOutput, MsgSessions, MsgError,
		MsgLoggedIn, MsgOauthCliResponse:
		return 4
	case MsgResize:
		return 4
	case MsgOauthCliRequest:
		return 8
	}
	return 0
}
