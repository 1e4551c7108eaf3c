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

// Package terminal maintains the relay's authoritative model of a
// streamer's screen: a VT-100 emulator fed the streamer's raw output, plus
// snapshot, full-screen serialization and screen-to-screen diffing used to
// feed watchers.
package terminal

import (
	"github.com/gravitational/trace"
	"github.com/hinshun/vt10x"

	"github.com/teleterm/teleterm/lib/protocol"
)

// Terminal is one streamer's emulated screen.
type Terminal struct {
	vt vt10x.Terminal
}

// New creates a terminal at the given size. Zero dimensions are clamped to
// one cell; the relay rejects degenerate sizes earlier, this just keeps the
// emulator well-formed.
func New(size protocol.Size) *Terminal {
	rows, cols := int(size.Rows), int(size.Cols)
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	return &Terminal{vt: vt10x.New(vt10x.WithSize(cols, rows))}
}

// Process feeds raw terminal output through the emulator.
func (t *Terminal) Process(data []byte) error {
	if _, err := t.vt.Write(data); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Resize changes the emulated screen size, preserving content where it
// fits.
func (t *Terminal) Resize(size protocol.Size) {
	rows, cols := int(size.Rows), int(size.Cols)
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	t.vt.Resize(cols, rows)
}

// Size returns the current screen size.
func (t *Terminal) Size() protocol.Size {
	cols, rows := t.vt.Size()
	return protocol.Size{Rows: uint16(rows), Cols: uint16(cols)}
}

// Title returns the current window title, as set by OSC 0/2.
func (t *Terminal) Title() string {
	return t.vt.Title()
}

// Snapshot captures the visible screen. The result is immutable and safe
// to keep across further Process calls.
func (t *Terminal) Snapshot() *Snapshot {
	t.vt.Lock()
	defer t.vt.Unlock()

	cols, rows := t.vt.Size()
	mode := t.vt.Mode()
	cur := t.vt.Cursor()
	snap := &Snapshot{
		size:          protocol.Size{Rows: uint16(rows), Cols: uint16(cols)},
		title:         t.vt.Title(),
		altScreen:     mode&vt10x.ModeAltScreen != 0,
		reverseVideo:  mode&vt10x.ModeReverse != 0,
		cursorX:       cur.X,
		cursorY:       cur.Y,
		cursorVisible: t.vt.CursorVisible(),
		rows:          make([][]cell, rows),
	}
	for y := 0; y < rows; y++ {
		line := make([]cell, cols)
		for x := 0; x < cols; x++ {
			g := t.vt.Cell(x, y)
			ch := g.Char
			if ch == 0 {
				ch = ' '
			}
			line[x] = cell{char: ch, mode: g.Mode & attrMask, fg: g.FG, bg: g.BG}
		}
		snap.rows[y] = line
	}
	return snap
}
