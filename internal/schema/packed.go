package schema

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPackedUint is the largest value PackedUint can carry.
const MaxPackedUint = 1<<30 - 1

// PackedUint encodes an unsigned integer in 1 to 4 little-endian bytes. The
// low two bits of the first byte hold the number of bytes that follow; the
// value occupies the remaining 30 bits. Decoded values are uint32.
var PackedUint = &Codec{
	Decode: decodePackedUint,
	Encode: encodePackedUint,
}

func decodePackedUint(buf []byte, _ Options) (any, int, error) {
	if len(buf) == 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	n := int(buf[0]&3) + 1
	if len(buf) < n {
		return nil, 0, io.ErrUnexpectedEOF
	}
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(buf[i]) << (8 * i)
	}
	return v >> 2, n, nil
}

func encodePackedUint(v any) ([]byte, error) {
	u, err := toUint(v, 64)
	if err != nil {
		return nil, err
	}
	if u > MaxPackedUint {
		return nil, fmt.Errorf("%w: %d does not fit a packed uint", ErrInvalidValue, u)
	}
	x := uint32(u) << 2
	var extra uint32
	switch {
	case x > 0xffffff:
		extra = 3
	case x > 0xffff:
		extra = 2
	case x > 0xff:
		extra = 1
	}
	x |= extra
	out := binary.LittleEndian.AppendUint32(nil, x)
	return out[:extra+1], nil
}
