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
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hinshun/vt10x"

	"github.com/teleterm/teleterm/lib/protocol"
)

// Glyph attribute bits, matching the emulator's internal encoding. Only the
// bits that survive a round trip through SGR sequences are kept in
// snapshots.
const (
	attrReverse = 1 << iota
	attrUnderline
	attrBold
	attrGfx
	attrItalic
	attrBlink

	attrMask = attrReverse | attrUnderline | attrBold | attrItalic | attrBlink
)

type cell struct {
	char rune
	mode int16
	fg   vt10x.Color
	bg   vt10x.Color
}

// blank reports whether the cell renders as an unstyled space, i.e. whether
// a cleared screen already shows it correctly.
func (c cell) blank() bool {
	return c.char == ' ' && c.mode == 0 && c.fg >= vt10x.DefaultFG && c.bg >= vt10x.DefaultFG
}

// Snapshot is an immutable copy of a screen: the visible cell grid plus
// cursor, title and the screen-wide modes that affect rendering.
type Snapshot struct {
	size          protocol.Size
	title         string
	altScreen     bool
	reverseVideo  bool
	cursorX       int
	cursorY       int
	cursorVisible bool
	rows          [][]cell
}

// Size returns the screen size the snapshot was taken at.
func (s *Snapshot) Size() protocol.Size { return s.size }

// Title returns the window title at snapshot time.
func (s *Snapshot) Title() string { return s.title }

// Cursor returns the cursor position, zero-based.
func (s *Snapshot) Cursor() (x, y int) { return s.cursorX, s.cursorY }

// CursorVisible reports whether the cursor was shown at snapshot time.
func (s *Snapshot) CursorVisible() bool { return s.cursorVisible }

// Line returns row y as text, with trailing blanks trimmed. Cells that hold
// no rune (the tail of a wide character, or never-written cells) read as
// spaces.
func (s *Snapshot) Line(y int) string {
	if y < 0 || y >= len(s.rows) {
		return ""
	}
	var sb strings.Builder
	for _, c := range s.rows[y] {
		if c.char == 0 {
			sb.WriteRune(' ')
		} else {
			sb.WriteRune(c.char)
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// Contents serializes the whole screen. Feeding the result to a fresh
// terminal of the same size reproduces the snapshot: content, attributes,
// colors, title, cursor and screen modes. This is what a watcher receives
// as catch-up state right after attaching.
func (s *Snapshot) Contents() []byte {
	var buf []byte
	if s.altScreen {
		buf = append(buf, "\x1b[?1049h"...)
	}
	if s.reverseVideo {
		buf = append(buf, "\x1b[?5h"...)
	}
	buf = append(buf, "\x1b[0m\x1b[H\x1b[2J"...)
	if s.title != "" {
		buf = appendTitle(buf, s.title)
	}
	return s.appendScreen(buf)
}

// Diff serializes the difference from prev to s: the byte sequence that
// turns a screen currently showing prev into one showing s. Screens that
// changed size or flipped the alternate-screen mode are redrawn in full;
// otherwise only changed rows are rewritten. An empty result means the
// screens are identical.
func (s *Snapshot) Diff(prev *Snapshot) []byte {
	if prev == nil {
		return s.Contents()
	}
	if s.size != prev.size || s.altScreen != prev.altScreen {
		var buf []byte
		if s.altScreen != prev.altScreen {
			if s.altScreen {
				buf = append(buf, "\x1b[?1049h"...)
			} else {
				buf = append(buf, "\x1b[?1049l"...)
			}
		}
		if s.reverseVideo != prev.reverseVideo {
			buf = appendPrivateMode(buf, 5, s.reverseVideo)
		}
		buf = append(buf, "\x1b[0m\x1b[H\x1b[2J"...)
		if s.title != prev.title {
			buf = appendTitle(buf, s.title)
		}
		return s.appendScreen(buf)
	}

	var buf []byte
	if s.reverseVideo != prev.reverseVideo {
		buf = appendPrivateMode(buf, 5, s.reverseVideo)
	}
	if s.title != prev.title {
		buf = appendTitle(buf, s.title)
	}

	p := invalidPen()
	moved := false
	for y, row := range s.rows {
		if slices.Equal(row, prev.rows[y]) {
			continue
		}
		buf = appendCursorMove(buf, y, 0)
		buf = appendRow(buf, row, &p, false)
		moved = true
	}
	if moved || s.cursorX != prev.cursorX || s.cursorY != prev.cursorY {
		buf = appendCursorMove(buf, s.cursorY, s.cursorX)
	}
	if s.cursorVisible != prev.cursorVisible {
		buf = appendPrivateMode(buf, 25, s.cursorVisible)
	}
	return buf
}

// appendScreen draws every row and places the cursor. The screen is
// assumed cleared; only non-blank content is written.
func (s *Snapshot) appendScreen(buf []byte) []byte {
	p := invalidPen()
	for y, row := range s.rows {
		blankRow := true
		for _, c := range row {
			if !c.blank() {
				blankRow = false
				break
			}
		}
		if blankRow {
			continue
		}
		buf = appendCursorMove(buf, y, 0)
		buf = appendRow(buf, row, &p, true)
	}
	buf = appendCursorMove(buf, s.cursorY, s.cursorX)
	buf = appendPrivateMode(buf, 25, s.cursorVisible)
	return buf
}

// appendRow rewrites one row, assuming the cursor sits at its first
// column. On a cleared screen runs of blanks become cursor motion rather
// than spaces; on a dirty screen every cell up to the trimmed tail is
// written out, and the tail is erased with EL so stale content cannot
// survive a rewrite.
func appendRow(buf []byte, row []cell, p *pen, cleared bool) []byte {
	last := len(row) - 1
	for last >= 0 && row[last].blank() {
		last--
	}
	gap := 0
	for x := 0; x <= last; x++ {
		c := row[x]
		if cleared && c.blank() {
			gap++
			continue
		}
		if gap > 0 {
			buf = append(buf, "\x1b["...)
			buf = strconv.AppendInt(buf, int64(gap), 10)
			buf = append(buf, 'C')
			gap = 0
		}
		if want := penOf(c); *p != want {
			buf = want.appendSGR(buf)
			*p = want
		}
		buf = utf8.AppendRune(buf, c.char)
	}
	if last < len(row)-1 {
		buf = append(buf, "\x1b[0m\x1b[K"...)
		*p = defaultPen()
	}
	return buf
}

// pen is the SGR state a serialized stream has established: the subset of
// cell attributes that the next printed rune will pick up.
type pen struct {
	mode  int16
	fg    vt10x.Color
	bg    vt10x.Color
	valid bool
}

func defaultPen() pen {
	return pen{fg: vt10x.DefaultFG, bg: vt10x.DefaultBG, valid: true}
}

// invalidPen compares unequal to every real pen, forcing an explicit SGR
// before the first styled rune of a stream.
func invalidPen() pen { return pen{} }

func penOf(c cell) pen {
	p := pen{mode: c.mode, fg: c.fg, bg: c.bg, valid: true}
	if p.fg >= vt10x.DefaultFG {
		p.fg = vt10x.DefaultFG
	}
	if p.bg >= vt10x.DefaultFG {
		p.bg = vt10x.DefaultBG
	}
	return p
}

// appendSGR emits the full attribute state as one SGR sequence, always
// starting from a reset so no prior state leaks through.
func (p pen) appendSGR(buf []byte) []byte {
	codes := []string{"0"}
	if p.mode&attrBold != 0 {
		codes = append(codes, "1")
	}
	if p.mode&attrItalic != 0 {
		codes = append(codes, "3")
	}
	if p.mode&attrUnderline != 0 {
		codes = append(codes, "4")
	}
	if p.mode&attrBlink != 0 {
		codes = append(codes, "5")
	}
	if p.mode&attrReverse != 0 {
		codes = append(codes, "7")
	}
	codes = appendColor(codes, p.fg, false)
	codes = appendColor(codes, p.bg, true)
	buf = append(buf, "\x1b["...)
	buf = append(buf, strings.Join(codes, ";")...)
	return append(buf, 'm')
}

// appendColor translates the emulator's color encoding back into SGR
// parameters: the 16 named colors, the 256-color palette, or a 24-bit
// value packed as 0xRRGGBB. Default colors are covered by the leading
// reset.
func appendColor(codes []string, c vt10x.Color, background bool) []string {
	base := 30
	ext := "38"
	if background {
		base = 40
		ext = "48"
	}
	switch {
	case c >= vt10x.DefaultFG:
		return codes
	case c < 8:
		return append(codes, strconv.Itoa(base+int(c)))
	case c < 16:
		return append(codes, strconv.Itoa(base+60+int(c)-8))
	case c < 256:
		return append(codes, ext, "5", strconv.Itoa(int(c)))
	default:
		return append(codes,
			ext, "2",
			strconv.Itoa(int(c>>16&0xff)),
			strconv.Itoa(int(c>>8&0xff)),
			strconv.Itoa(int(c&0xff)))
	}
}

func appendCursorMove(buf []byte, y, x int) []byte {
	return fmt.Appendf(buf, "\x1b[%d;%dH", y+1, x+1)
}

func appendTitle(buf []byte, title string) []byte {
	buf = append(buf, "\x1b]0;"...)
	buf = append(buf, title...)
	return append(buf, '\a')
}

func appendPrivateMode(buf []byte, mode int, set bool) []byte {
	buf = append(buf, "\x1b[?"...)
	buf = strconv.AppendInt(buf, int64(mode), 10)
	if set {
		return append(buf, 'h')
	}
	return append(buf, 'l')
}
