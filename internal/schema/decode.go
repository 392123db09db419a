package schema

import (
	"fmt"
	"io"
)

// Decode reads the fields of s from the start of buf. It returns the decoded
// record and the number of bytes consumed; bytes after the last field are
// not examined. Decode never panics on truncated or hostile input.
func Decode(buf []byte, s Schema, opts Options) (Fields, int, error) {
	d := &decoder{
		r:      NewReader(buf),
		limits: opts.Limits.withDefaults(),
		depth:  opts.Depth,
	}
	out, err := d.record(s)
	if err != nil {
		return nil, d.r.Pos(), err
	}
	return out, d.r.Pos(), nil
}

type decoder struct {
	r      *Reader
	limits Limits
	depth  int
}

func (d *decoder) enter() error {
	if d.depth >= d.limits.MaxDepth {
		return ErrMaxDepthExceeded
	}
	d.depth++
	return nil
}

func (d *decoder) leave() {
	d.depth--
}

func (d *decoder) record(s Schema) (Fields, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	out := make(Fields, len(s))
	for i := range s {
		f := &s[i]
		v, err := d.field(f)
		if err != nil {
			return nil, wrapField(f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func (d *decoder) field(f *Field) (any, error) {
	r := d.r
	switch f.Kind {
	case Uint8:
		return r.ReadUint8()
	case Uint16:
		return r.ReadUint16()
	case Uint32:
		return r.ReadUint32()
	case Uint64:
		return r.ReadUint64()
	case Int8:
		v, err := r.ReadUint8()
		return int8(v), err
	case Int16:
		v, err := r.ReadUint16()
		return int16(v), err
	case Int32:
		v, err := r.ReadUint32()
		return int32(v), err
	case Int64:
		v, err := r.ReadUint64()
		return int64(v), err
	case Uint64String:
		v, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("0x%016x", v), nil
	case Boolean:
		v, err := r.ReadUint8()
		return v != 0, err
	case Float32:
		return r.ReadFloat32()
	case String:
		n, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		if int64(n) > int64(d.limits.MaxStringLength) {
			return nil, ErrStringTooLong
		}
		b, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case NullString:
		return r.ReadCString(d.limits.MaxStringLength)
	case Bytes:
		b, err := r.ReadBytes(f.Length)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case FloatVector3:
		var v [3]float32
		if err := d.floats(v[:]); err != nil {
			return nil, err
		}
		return v, nil
	case FloatVector4:
		var v [4]float32
		if err := d.floats(v[:]); err != nil {
			return nil, err
		}
		return v, nil
	case Nested:
		return d.record(f.Fields)
	case Array:
		return d.array(f)
	case Custom:
		return d.custom(f)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownKind, f.Kind)
}

func (d *decoder) floats(dst []float32) error {
	for i := range dst {
		v, err := d.r.ReadFloat32()
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

func (d *decoder) array(f *Field) ([]Fields, error) {
	count, err := d.r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int64(count) > int64(d.limits.MaxArrayCount) {
		return nil, fmt.Errorf("%w: %d", ErrCountTooLarge, count)
	}
	// A non-empty element needs at least one byte.
	if len(f.Fields) > 0 && int(count) > d.r.Remaining() {
		return nil, io.ErrUnexpectedEOF
	}

	out := make([]Fields, 0, count)
	for i := 0; i < int(count); i++ {
		elem, err := d.record(f.Fields)
		if err != nil {
			return nil, wrapField(fmt.Sprintf("[%d]", i), err)
		}
		out = append(out, elem)
	}
	return out, nil
}

// custom hands the unread remainder to the codec and validates the length
// it reports against that remainder before advancing.
func (d *decoder) custom(f *Field) (any, error) {
	if f.Codec == nil || f.Codec.Decode == nil {
		return nil, ErrNotSupported
	}
	rest := d.r.Rest()
	v, n, err := f.Codec.Decode(rest, Options{Limits: d.limits, Depth: d.depth})
	if err != nil {
		return nil, err
	}
	if n < 0 || n > len(rest) {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrBadLength, n, len(rest))
	}
	d.r.pos += n
	return v, nil
}
