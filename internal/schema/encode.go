package schema

import (
	"fmt"
)

// Encode serializes fields according to s. A field that is absent (or nil)
// is written from its Default, or from the kind's zero value when there is
// no default.
func Encode(fields Fields, s Schema) ([]byte, error) {
	w := NewWriter()
	if err := encodeRecord(w, fields, s); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func encodeRecord(w *Writer, fields Fields, s Schema) error {
	for i := range s {
		f := &s[i]
		v, ok := fields[f.Name]
		if !ok || v == nil {
			v = f.Default
		}
		if err := encodeField(w, f, v); err != nil {
			return wrapField(f.Name, err)
		}
	}
	return nil
}

func encodeField(w *Writer, f *Field, v any) error {
	switch f.Kind {
	case Uint8, Uint16, Uint32, Uint64:
		bits := f.Kind.bits()
		u, err := toUint(v, bits)
		if err != nil {
			return err
		}
		writeSized(w, u, bits)
	case Int8, Int16, Int32, Int64:
		bits := f.Kind.bits()
		i, err := toInt(v, bits)
		if err != nil {
			return err
		}
		writeSized(w, uint64(i), bits)
	case Uint64String:
		u, err := toUint64String(v)
		if err != nil {
			return err
		}
		w.WriteUint64(u)
	case Boolean:
		b, err := toBool(v)
		if err != nil {
			return err
		}
		if b {
			w.WriteUint8(1)
		} else {
			w.WriteUint8(0)
		}
	case Float32:
		x, err := toFloat32(v)
		if err != nil {
			return err
		}
		w.WriteFloat32(x)
	case String:
		s, err := toString(v)
		if err != nil {
			return err
		}
		w.WriteUint32(uint32(len(s)))
		w.WriteBytes([]byte(s))
	case NullString:
		s, err := toString(v)
		if err != nil {
			return err
		}
		for i := 0; i < len(s); i++ {
			if s[i] == 0 {
				return fmt.Errorf("%w: NUL inside nullstring", ErrInvalidValue)
			}
		}
		w.WriteCString(s)
	case Bytes:
		return encodeBlob(w, f.Length, v)
	case FloatVector3, FloatVector4:
		n := 3
		if f.Kind == FloatVector4 {
			n = 4
		}
		vec, err := toVector(v, n)
		if err != nil {
			return err
		}
		for _, x := range vec {
			w.WriteFloat32(x)
		}
	case Nested:
		sub, err := toFields(v)
		if err != nil {
			return err
		}
		return encodeRecord(w, sub, f.Fields)
	case Array:
		list, err := toList(v)
		if err != nil {
			return err
		}
		w.WriteUint32(uint32(len(list)))
		for i, elem := range list {
			if err := encodeRecord(w, elem, f.Fields); err != nil {
				return wrapField(fmt.Sprintf("[%d]", i), err)
			}
		}
	case Custom:
		if f.Codec == nil || f.Codec.Encode == nil {
			return ErrNotSupported
		}
		b, err := f.Codec.Encode(v)
		if err != nil {
			return err
		}
		w.WriteBytes(b)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownKind, f.Kind)
	}
	return nil
}

func (k Kind) bits() int {
	switch k {
	case Uint8, Int8:
		return 8
	case Uint16, Int16:
		return 16
	case Uint32, Int32:
		return 32
	}
	return 64
}

func writeSized(w *Writer, u uint64, bits int) {
	switch bits {
	case 8:
		w.WriteUint8(uint8(u))
	case 16:
		w.WriteUint16(uint16(u))
	case 32:
		w.WriteUint32(uint32(u))
	default:
		w.WriteUint64(u)
	}
}

// encodeBlob writes exactly n bytes, zero-padding short values.
func encodeBlob(w *Writer, n int, v any) error {
	var b []byte
	switch x := v.(type) {
	case nil:
	case []byte:
		b = x
	case string:
		b = []byte(x)
	default:
		return fmt.Errorf("%w: %T is not a byte blob", ErrInvalidValue, v)
	}
	if len(b) > n {
		return fmt.Errorf("%w: blob is %d bytes, field holds %d", ErrInvalidValue, len(b), n)
	}
	w.WriteBytes(b)
	w.WriteBytes(make([]byte, n-len(b)))
	return nil
}
