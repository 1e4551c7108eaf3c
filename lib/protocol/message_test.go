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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "login plain",
			msg: &Login{
				Auth:     PlainAuth("doy"),
				Client:   AuthClientCli,
				TermType: "screen",
				Size:     Size{Rows: 24, Cols: 80},
			},
		},
		{
			name: "login oauth with id",
			msg: &Login{
				Auth:     OauthAuth(AuthRecurseCenter, "some-id"),
				Client:   AuthClientCli,
				TermType: "screen",
				Size:     Size{Rows: 24, Cols: 80},
			},
		},
		{
			name: "login oauth without id",
			msg: &Login{
				Auth:     OauthAuth(AuthRecurseCenter, ""),
				Client:   AuthClientWeb,
				TermType: "xterm-256color",
				Size:     Size{Rows: 24, Cols: 80},
			},
		},
		{name: "start streaming", msg: &StartStreaming{}},
		{name: "start watching", msg: &StartWatching{ID: "65b98bfd-4b12-4537-9e23-f66ddb2b6c17"}},
		{name: "heartbeat", msg: &Heartbeat{}},
		{name: "terminal output", msg: &TerminalOutput{Data: []byte("foobar")}},
		{name: "terminal output empty", msg: &TerminalOutput{Data: []byte{}}},
		{name: "list sessions", msg: &ListSessions{}},
		{name: "sessions empty", msg: &Sessions{Sessions: []Session{}}},
		{
			name: "sessions one",
			msg: &Sessions{Sessions: []Session{
				{
					ID:          "65b98bfd-4b12-4537-9e23-f66ddb2b6c17",
					Username:    "doy",
					TermType:    "screen",
					Size:        Size{Rows: 24, Cols: 80},
					IdleSeconds: 123,
					Title:       "it's a title",
					Watchers:    0,
				},
			}},
		},
		{
			name: "sessions two",
			msg: &Sessions{Sessions: []Session{
				{
					ID:          "65b98bfd-4b12-4537-9e23-f66ddb2b6c17",
					Username:    "doy",
					TermType:    "screen",
					Size:        Size{Rows: 24, Cols: 80},
					IdleSeconds: 123,
					Title:       "it's a title",
				},
				{
					ID:          "d51b4b77-213f-4480-85fd-8720b4b7abf9",
					Username:    "sartak",
					TermType:    "screen",
					Size:        Size{Rows: 24, Cols: 80},
					IdleSeconds: 68,
					Title:       "some other title",
					Watchers:    3,
				},
			}},
		},
		{name: "disconnected", msg: &Disconnected{}},
		{name: "error", msg: &Error{Msg: "error message"}},
		{name: "resize", msg: &Resize{Size: Size{Rows: 25, Cols: 81}}},
		{name: "logged in", msg: &LoggedIn{Username: "doy"}},
		{
			name: "oauth cli request",
			msg: &OauthCliRequest{
				URL: "https://example.com/oauth/authorize?response_type=code&state=y",
				ID:  "some-id",
			},
		},
		{name: "oauth cli response", msg: &OauthCliResponse{Code: "some-code"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			require.NoError(t, NewFramedWriter(&buf).WriteMessage(tt.msg))

			got, err := NewFramedReader(&buf, 0).ReadMessage()
			require.NoError(t, err)
			require.Equal(t, tt.msg, got)
			require.Zero(t, buf.Len(), "frame should be fully consumed")
		})
	}
}

func TestMessageWireFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
		wire []byte
	}{
		{
			name: "heartbeat",
			msg:  &Heartbeat{},
			wire: []byte{0x00, 0x00, 0x00, 0x00, 0x03},
		},
		{
			name: "error",
			msg:  &Error{Msg: "hi"},
			wire: []byte{
				0x06, 0x00, 0x00, 0x00, // len = 6
				0x08,                   // type = error
				0x02, 0x00, 0x00, 0x00, // string len = 2
				'h', 'i',
			},
		},
		{
			name: "resize",
			msg:  &Resize{Size: Size{Rows: 25, Cols: 81}},
			wire: []byte{
				0x04, 0x00, 0x00, 0x00, // len = 4
				0x09,       // type = resize
				0x19, 0x00, // rows = 25
				0x51, 0x00, // cols = 81
			},
		},
		{
			name: "terminal output",
			msg:  &TerminalOutput{Data: []byte("foobar")},
			wire: []byte{
				0x0a, 0x00, 0x00, 0x00, // len = 10
				0x04,                   // type = terminal output
				0x06, 0x00, 0x00, 0x00, // data len = 6
				'f', 'o', 'o', 'b', 'a', 'r',
			},
		},
		{
			name: "login plain",
			msg: &Login{
				Auth:     PlainAuth("doy"),
				Client:   AuthClientCli,
				TermType: "screen",
				Size:     Size{Rows: 24, Cols: 80},
			},
			wire: []byte{
				0x17, 0x00, 0x00, 0x00, // len = 23
				0x00,                   // type = login
				0x00,                   // auth type = plain
				0x03, 0x00, 0x00, 0x00, // username len = 3
				'd', 'o', 'y',
				0x00,                   // auth client = cli
				0x06, 0x00, 0x00, 0x00, // term type len = 6
				's', 'c', 'r', 'e', 'e', 'n',
				0x18, 0x00, // rows = 24
				0x50, 0x00, // cols = 80
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.wire, EncodeMessage(tt.msg))

			got, err := NewFramedReader(bytes.NewReader(tt.wire), 0).ReadMessage()
			require.NoError(t, err)
			require.Equal(t, tt.msg, got)
		})
	}
}

func TestMessageLogFieldsRedaction(t *testing.T) {
	t.Parallel()

	// Bulk terminal data stays out of logs.
	out := &TerminalOutput{Data: []byte("secret screen contents")}
	for _, f := range out.LogFields() {
		s, ok := f.(string)
		if ok {
			require.NotContains(t, s, "secret")
		}
	}

	// OAuth authorization codes and authorize URLs stay out of logs.
	resp := &OauthCliResponse{Code: "super-secret-code"}
	for _, f := range resp.LogFields() {
		s, ok := f.(string)
		if ok {
			require.NotContains(t, s, "super-secret-code")
		}
	}
	req := &OauthCliRequest{URL: "https://example.com/authorize?state=csrf-token", ID: "id"}
	for _, f := range req.LogFields() {
		s, ok := f.(string)
		if ok {
			require.NotContains(t, s, "csrf-token")
		}
	}
}
