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

// Package ttyrec reads and writes terminal recordings in the classic
// ttyrec format: a sequence of frames, each a 12-byte little-endian
// header (seconds, microseconds, data length) followed by raw terminal
// output.
package ttyrec

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/teleterm/teleterm/lib/defaults"
)

const headerLen = 12

// Frame is one timestamped chunk of terminal output.
type Frame struct {
	// Time is when the output was produced.
	Time time.Time
	// Data is the raw output, escape sequences included.
	Data []byte
}

// Writer appends frames to a recording.
type Writer struct {
	w     io.Writer
	clock clockwork.Clock
}

// NewWriter creates a recording writer. A nil clock means wall clock.
func NewWriter(w io.Writer, clock clockwork.Clock) *Writer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Writer{w: w, clock: clock}
}

// WriteFrame appends one frame.
func (w *Writer) WriteFrame(frame Frame) error {
	buf := make([]byte, headerLen, headerLen+len(frame.Data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(frame.Time.Unix()))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(frame.Time.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(frame.Data)))
	buf = append(buf, frame.Data...)
	if _, err := w.w.Write(buf); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Write records data stamped with the current time. It implements
// io.Writer so a recorder can sit on a MultiWriter next to the real
// terminal.
func (w *Writer) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if err := w.WriteFrame(Frame{Time: w.clock.Now(), Data: data}); err != nil {
		return 0, trace.Wrap(err)
	}
	return len(data), nil
}

// Reader decodes frames from a recording stream.
type Reader struct {
	r io.Reader
}

// NewReader creates a recording reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads the next frame. It returns io.EOF at a clean end of the
// recording and io.ErrUnexpectedEOF when the recording is truncated
// mid-frame.
func (r *Reader) ReadFrame() (Frame, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, trace.Wrap(err)
	}
	secs := binary.LittleEndian.Uint32(header[0:4])
	micros := binary.LittleEndian.Uint32(header[4:8])
	length := binary.LittleEndian.Uint32(header[8:12])
	if length > defaults.MaxFrameLength {
		return Frame{}, trace.BadParameter("frame length %v exceeds limit %v, recording is likely corrupt", length, defaults.MaxFrameLength)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, trace.Wrap(err)
	}
	return Frame{
		Time: time.Unix(int64(secs), int64(micros)*1000),
		Data: data,
	}, nil
}
