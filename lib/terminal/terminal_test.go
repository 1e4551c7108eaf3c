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

package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teleterm/teleterm/lib/protocol"
)

func requireScreensEqual(t *testing.T, want, got *Snapshot) {
	t.Helper()
	require.Equal(t, want.size, got.size)
	require.Equal(t, want.title, got.title, "title")
	require.Equal(t, want.altScreen, got.altScreen, "alt screen mode")
	require.Equal(t, want.reverseVideo, got.reverseVideo, "reverse video mode")
	require.Equal(t, want.cursorVisible, got.cursorVisible, "cursor visibility")
	require.Equal(t, want.cursorX, got.cursorX, "cursor column")
	require.Equal(t, want.cursorY, got.cursorY, "cursor row")
	require.Equal(t, len(want.rows), len(got.rows))
	for y := range want.rows {
		require.Equalf(t, want.rows[y], got.rows[y], "row %d: %q vs %q", y, want.Line(y), got.Line(y))
	}
}

func TestContentsRestoresScreen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty screen", input: ""},
		{name: "plain text", input: "hello, world"},
		{
			name:  "multiple lines",
			input: "first line\r\nsecond line\r\n\r\nfourth line",
		},
		{
			name:  "named colors",
			input: "\x1b[31mred \x1b[42mon green\x1b[0m plain",
		},
		{
			name:  "attributes",
			input: "\x1b[1mbold\x1b[0m \x1b[4munder\x1b[0m \x1b[7mreverse\x1b[0m \x1b[3mitalic\x1b[0m \x1b[5mblink",
		},
		{
			name:  "palette colors",
			input: "\x1b[38;5;123mcyanish\x1b[48;5;200m pink bg",
		},
		{
			name:  "bright colors",
			input: "\x1b[91mbright red\x1b[0m\x1b[103m yellow bg",
		},
		{
			name:  "cursor placed away from text",
			input: "prompt $ \x1b[10;20H",
		},
		{
			name:  "hidden cursor",
			input: "working...\x1b[?25l",
		},
		{
			name:  "window title",
			input: "\x1b]0;vim README.md\x07editing",
		},
		{
			name:  "overwritten region",
			input: "aaaaaaaaaa\x1b[1;3Hbb\x1b[1;8H  ",
		},
		{
			name:  "utf-8 text",
			input: "héllo wörld ψ ツ",
		},
		{
			name:  "wrapped long line",
			input: strings.Repeat("x", 100),
		},
		{
			name:  "colored blanks after clear",
			input: "\x1b[44m\x1b[2Jover blue",
		},
		{
			name:  "alternate screen",
			input: "primary\x1b[?1049htop of alt\x1b[3;1Hbody",
		},
		{
			name:  "reverse video",
			input: "\x1b[?5hinverted screen",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			size := protocol.Size{Rows: 24, Cols: 80}
			term := New(size)
			require.NoError(t, term.Process([]byte(tt.input)))
			snap := term.Snapshot()

			replay := New(size)
			require.NoError(t, replay.Process(snap.Contents()))
			requireScreensEqual(t, snap, replay.Snapshot())
		})
	}
}

func TestDiffTracksChanges(t *testing.T) {
	t.Parallel()

	size := protocol.Size{Rows: 24, Cols: 80}
	term := New(size)
	replay := New(size)

	// The watcher starts from the catch-up state.
	require.NoError(t, term.Process([]byte("hello")))
	prev := term.Snapshot()
	require.NoError(t, replay.Process(prev.Contents()))
	requireScreensEqual(t, prev, replay.Snapshot())

	step := func(input string) []byte {
		t.Helper()
		require.NoError(t, term.Process([]byte(input)))
		snap := term.Snapshot()
		diff := snap.Diff(prev)
		require.NoError(t, replay.Process(diff))
		requireScreensEqual(t, snap, replay.Snapshot())
		prev = snap
		return diff
	}

	diff := step(" world")
	require.Contains(t, string(diff), "hello world")

	step("\r\nsecond row")
	step("\x1b[1;7H\x1b[1;32mWORLD\x1b[0m")
	step("\x1b]0;now titled\x07")
	step("\x1b[2;3H")
	step("\x1b[?25l")
	step("\x1b[2J\x1b[Hwiped")
	step("\x1b[?1049halt screen content")
	step("\x1b[?1049l")
}

func TestDiffOfIdenticalScreensIsEmpty(t *testing.T) {
	t.Parallel()

	term := New(protocol.Size{Rows: 24, Cols: 80})
	require.NoError(t, term.Process([]byte("steady state")))
	a := term.Snapshot()
	b := term.Snapshot()
	require.Empty(t, b.Diff(a))
}

func TestDiffNilPreviousIsFullContents(t *testing.T) {
	t.Parallel()

	term := New(protocol.Size{Rows: 24, Cols: 80})
	require.NoError(t, term.Process([]byte("fresh")))
	snap := term.Snapshot()
	require.Equal(t, snap.Contents(), snap.Diff(nil))
}

func TestDiffAfterResize(t *testing.T) {
	t.Parallel()

	term := New(protocol.Size{Rows: 24, Cols: 80})
	replay := New(protocol.Size{Rows: 24, Cols: 80})

	require.NoError(t, term.Process([]byte("before resize\r\nkeep me")))
	prev := term.Snapshot()
	require.NoError(t, replay.Process(prev.Contents()))

	// Watchers resize their terminal on the resize notification before
	// the next output arrives.
	newSize := protocol.Size{Rows: 30, Cols: 100}
	term.Resize(newSize)
	replay.Resize(newSize)
	require.NoError(t, term.Process([]byte("\x1b[31;1Hafter")))

	snap := term.Snapshot()
	require.NoError(t, replay.Process(snap.Diff(prev)))
	requireScreensEqual(t, snap, replay.Snapshot())
}

func TestSnapshotLine(t *testing.T) {
	t.Parallel()

	term := New(protocol.Size{Rows: 4, Cols: 20})
	require.NoError(t, term.Process([]byte("one\r\n  indented\r\ntrailing   ")))
	snap := term.Snapshot()
	require.Equal(t, "one", snap.Line(0))
	require.Equal(t, "  indented", snap.Line(1))
	require.Equal(t, "trailing", snap.Line(2))
	require.Equal(t, "", snap.Line(3))
	require.Equal(t, "", snap.Line(17))
}

func TestTerminalAccessors(t *testing.T) {
	t.Parallel()

	term := New(protocol.Size{Rows: 24, Cols: 80})
	require.Equal(t, protocol.Size{Rows: 24, Cols: 80}, term.Size())
	require.Empty(t, term.Title())

	require.NoError(t, term.Process([]byte("\x1b]0;build: ok\x07")))
	require.Equal(t, "build: ok", term.Title())

	term.Resize(protocol.Size{Rows: 10, Cols: 40})
	require.Equal(t, protocol.Size{Rows: 10, Cols: 40}, term.Size())

	// Degenerate sizes are clamped so the emulator stays usable.
	clamped := New(protocol.Size{})
	require.Equal(t, protocol.Size{Rows: 1, Cols: 1}, clamped.Size())
}
