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
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/gravitational/trace"

	"github.com/teleterm/teleterm/lib/defaults"
)

// Codec failure modes. The framed reader and the payload parser wrap these
// so callers can classify with errors.Is.
var (
	// ErrLenTooSmall is a frame whose declared length cannot hold the
	// fields of its message type.
	ErrLenTooSmall = errors.New("frame length below minimum for message type")
	// ErrLenTooBig is a frame whose declared length exceeds the
	// configured maximum.
	ErrLenTooBig = errors.New("frame length above maximum")
	// ErrParseString is a string field that is not valid UTF-8.
	ErrParseString = errors.New("string field is not valid utf-8")
	// ErrInvalidMessageType is an unknown wire tag.
	ErrInvalidMessageType = errors.New("invalid message type")
	// ErrInvalidAuthType is an unknown auth discriminator inside a Login.
	ErrInvalidAuthType = errors.New("invalid auth type")
	// ErrInvalidAuthClient is an unknown auth client inside a Login.
	ErrInvalidAuthClient = errors.New("invalid auth client")
	// ErrExtraMessageData is payload left over after a message's declared
	// fields.
	ErrExtraMessageData = errors.New("extra data after message fields")
)

type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) writeUint8(v byte) {
	w.buf = append(w.buf, v)
}

func (w *payloadWriter) writeUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *payloadWriter) writeUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *payloadWriter) writeBytes(p []byte) {
	w.writeUint32(uint32(len(p)))
	w.buf = append(w.buf, p...)
}

func (w *payloadWriter) writeString(s string) {
	w.writeUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// payloadReader parses typed fields out of a fully read frame payload.
// Overruns report io.ErrUnexpectedEOF: the frame was long enough for its
// type's minimum but a variable-length field claimed more than was sent.
type payloadReader struct {
	buf []byte
	off int
}

func (r *payloadReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *payloadReader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, trace.Wrap(io.ErrUnexpectedEOF)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *payloadReader) readUint8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return b[0], nil
}

func (r *payloadReader) readUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *payloadReader) readUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *payloadReader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *payloadReader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", trace.Wrap(err)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", trace.Wrap(err)
	}
	if !utf8.Valid(b) {
		return "", trace.Wrap(ErrParseString)
	}
	return string(b), nil
}

// EncodeMessage serializes msg into a complete frame.
func EncodeMessage(msg Message) []byte {
	var w payloadWriter
	msg.encodePayload(&w)
	frame := make([]byte, 0, 5+len(w.buf))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(w.buf)))
	frame = append(frame, byte(msg.Type()))
	frame = append(frame, w.buf...)
	return frame
}

// DecodeMessage parses one message of the given type out of payload,
// failing on leftovers.
func DecodeMessage(t MessageType, payload []byte) (Message, error) {
	msg, err := newMessage(t)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	r := payloadReader{buf: payload}
	if err := msg.decodePayload(&r); err != nil {
		return nil, trace.Wrap(err)
	}
	if r.remaining() != 0 {
		return nil, trace.Wrap(ErrExtraMessageData, "%d trailing bytes after %v", r.remaining(), t)
	}
	return msg, nil
}

// FramedReader reads framed messages off a byte stream. It is owned by
// exactly one goroutine; reads are not concurrency-safe.
type FramedReader struct {
	r      io.Reader
	maxLen uint32
	header [5]byte
}

// NewFramedReader wraps r. maxLen bounds accepted payload lengths; zero
// selects the default.
func NewFramedReader(r io.Reader, maxLen uint32) *FramedReader {
	if maxLen == 0 {
		maxLen = defaults.MaxFrameLength
	}
	return &FramedReader{r: r, maxLen: maxLen}
}

// ReadMessage reads and parses the next frame. A clean close on a frame
// boundary returns io.EOF; a peer vanishing mid-frame returns
// io.ErrUnexpectedEOF. Both are detectable with errors.Is through the
// trace wrapping.
func (fr *FramedReader) ReadMessage() (Message, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:4]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, trace.Wrap(err, "reading frame length")
	}
	length := binary.LittleEndian.Uint32(fr.header[:4])
	if length > fr.maxLen {
		return nil, trace.Wrap(ErrLenTooBig, "frame length %d exceeds %d", length, fr.maxLen)
	}
	if _, err := io.ReadFull(fr.r, fr.header[4:5]); err != nil {
		return nil, trace.Wrap(noEOF(err), "reading frame type")
	}
	t := MessageType(fr.header[4])
	if minLen := minPayloadLen(t); int(length) < minLen {
		// Sanity-check the tag first so garbage tags do not surface as
		// length errors.
		if _, err := newMessage(t); err != nil {
			return nil, trace.Wrap(err)
		}
		return nil, trace.Wrap(ErrLenTooSmall, "frame length %d below minimum %d for %v", length, minLen, t)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, trace.Wrap(noEOF(err), "reading frame payload")
	}
	msg, err := DecodeMessage(t, payload)
	return msg, trace.Wrap(err)
}

// noEOF converts a bare io.EOF into io.ErrUnexpectedEOF: once the length
// prefix has been read, running dry is a truncation, not a clean close.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// FramedWriter writes framed messages onto a byte stream. It is owned by
// exactly one goroutine; writes are not concurrency-safe.
type FramedWriter struct {
	w io.Writer
}

// NewFramedWriter wraps w.
func NewFramedWriter(w io.Writer) *FramedWriter {
	return &FramedWriter{w: w}
}

// WriteMessage serializes msg and writes the whole frame with a single
// Write call.
func (fw *FramedWriter) WriteMessage(msg Message) error {
	if _, err := fw.w.Write(EncodeMessage(msg)); err != nil {
		return trace.Wrap(err, "writing %v frame", msg.Type())
	}
	return nil
}
