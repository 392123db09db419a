package schema

import (
	"encoding/binary"
	"io"
	"math"
)

// Reader is a little-endian cursor over a byte slice. Every read is bounds
// checked and fails with io.ErrUnexpectedEOF instead of panicking.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the number of bytes consumed so far.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Rest returns the unread part of the buffer without advancing.
func (r *Reader) Rest() []byte {
	return r.buf[r.pos:]
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || n > r.Remaining() {
		return io.ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the
// underlying buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadCString reads bytes up to a NUL terminator and consumes the
// terminator. At most max bytes of content are accepted.
func (r *Reader) ReadCString(max int) (string, error) {
	rest := r.Rest()
	for i, c := range rest {
		if c == 0 {
			if i > max {
				return "", ErrStringTooLong
			}
			r.pos += i + 1
			return string(rest[:i]), nil
		}
	}
	return "", ErrUnterminated
}
