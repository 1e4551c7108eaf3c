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
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadMessageMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		wire    []byte
		wantErr error
	}{
		{
			name:    "empty stream is a clean close",
			wire:    nil,
			wantErr: io.EOF,
		},
		{
			name:    "truncated length prefix",
			wire:    []byte{0x00, 0x00},
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "missing type byte",
			wire:    []byte{0x00, 0x00, 0x00, 0x00},
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "truncated payload",
			wire:    []byte{0x06, 0x00, 0x00, 0x00, 0x08, 0x02, 0x00},
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "unknown message type",
			wire:    []byte{0x00, 0x00, 0x00, 0x00, 0xff},
			wantErr: ErrInvalidMessageType,
		},
		{
			name: "length below minimum for login",
			wire: []byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03},
			// Login needs at least 14 payload bytes.
			wantErr: ErrLenTooSmall,
		},
		{
			name: "length below minimum with unknown type reports the type",
			wire: []byte{0x00, 0x00, 0x00, 0x00, 0x0d},
			// Tag 13 is just past the end of the vocabulary.
			wantErr: ErrInvalidMessageType,
		},
		{
			name: "string field overruns payload",
			wire: []byte{
				0x04, 0x00, 0x00, 0x00, // len = 4
				0x02,                   // start watching
				0x0a, 0x00, 0x00, 0x00, // string claims 10 bytes
			},
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name: "invalid utf-8 in string field",
			wire: []byte{
				0x05, 0x00, 0x00, 0x00, // len = 5
				0x08,                   // error
				0x01, 0x00, 0x00, 0x00, // string len = 1
				0xff,
			},
			wantErr: ErrParseString,
		},
		{
			name: "extra data after fields",
			wire: []byte{
				0x01, 0x00, 0x00, 0x00, // len = 1
				0x03, // heartbeat carries no fields
				0x00,
			},
			wantErr: ErrExtraMessageData,
		},
		{
			name: "invalid auth type",
			wire: []byte{
				0x0e, 0x00, 0x00, 0x00, // len = 14
				0x00, // login
				0x07, // bogus auth type
				0x00, 0x00, 0x00, 0x00,
				0x00,
				0x00, 0x00, 0x00, 0x00,
				0x18, 0x00, 0x50, 0x00,
			},
			wantErr: ErrInvalidAuthType,
		},
		{
			name: "invalid auth client",
			wire: []byte{
				0x0e, 0x00, 0x00, 0x00, // len = 14
				0x00, // login
				0x00, // plain
				0x00, 0x00, 0x00, 0x00, // empty username
				0x09, // bogus auth client
				0x00, 0x00, 0x00, 0x00,
				0x18, 0x00, 0x50, 0x00,
			},
			wantErr: ErrInvalidAuthClient,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewFramedReader(bytes.NewReader(tt.wire), 0).ReadMessage()
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReadMessageMaxLength(t *testing.T) {
	t.Parallel()

	msg := &TerminalOutput{Data: bytes.Repeat([]byte{'x'}, 64)}
	wire := EncodeMessage(msg)

	// Fits under a generous cap.
	got, err := NewFramedReader(bytes.NewReader(wire), 1024).ReadMessage()
	require.NoError(t, err)
	require.Equal(t, msg, got)

	// Rejected before the payload is read under a tight one.
	_, err = NewFramedReader(bytes.NewReader(wire), 16).ReadMessage()
	require.ErrorIs(t, err, ErrLenTooBig)
}

func TestReadMessageSequence(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewFramedWriter(&buf)
	sent := []Message{
		&Login{Auth: PlainAuth("alice"), Client: AuthClientCli, TermType: "xterm", Size: Size{Rows: 24, Cols: 80}},
		&StartStreaming{},
		&TerminalOutput{Data: []byte("hello")},
		&Heartbeat{},
	}
	for _, m := range sent {
		require.NoError(t, w.WriteMessage(m))
	}

	r := NewFramedReader(&buf, 0)
	for _, want := range sent {
		got, err := r.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := r.ReadMessage()
	require.ErrorIs(t, err, io.EOF)
}
