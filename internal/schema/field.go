// Package schema implements the declarative field codecs used by every
// packet table: fixed-width little-endian numbers, strings, float vectors,
// fixed blobs, nested schemas, counted arrays and custom codec pairs.
package schema

import "fmt"

// Kind identifies the wire encoding of a field.
type Kind uint8

const (
	Uint8 Kind = iota + 1
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Uint64String // u64 rendered as "0x%016x"
	Boolean
	Float32
	String     // u32 length prefix
	NullString // NUL terminated
	Bytes      // fixed Length
	FloatVector3
	FloatVector4
	Nested // Fields describes the sub-record
	Array  // u32 count, Fields describes each element
	Custom // Codec does the work
)

var kindNames = map[Kind]string{
	Uint8:        "uint8",
	Uint16:       "uint16",
	Uint32:       "uint32",
	Uint64:       "uint64",
	Int8:         "int8",
	Int16:        "int16",
	Int32:        "int32",
	Int64:        "int64",
	Uint64String: "uint64string",
	Boolean:      "boolean",
	Float32:      "float",
	String:       "string",
	NullString:   "nullstring",
	Bytes:        "bytes",
	FloatVector3: "floatvector3",
	FloatVector4: "floatvector4",
	Nested:       "schema",
	Array:        "array",
	Custom:       "custom",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Field describes one named entry of a Schema.
//
// Decoded values have fixed Go types: the sized integer type for integer
// kinds, string for Uint64String/String/NullString, bool, float32, []byte,
// [3]float32 / [4]float32, Fields for Nested, []Fields for Array, and
// whatever the codec returns for Custom.
type Field struct {
	Name    string
	Kind    Kind
	Default any

	Length int    // Bytes
	Fields Schema // Nested, Array
	Codec  *Codec // Custom
}

// Schema is an ordered list of fields.
type Schema []Field

// Codec is a hand-written encoding for data the declarative kinds cannot
// express. Decode receives the unread remainder of the enclosing buffer and
// must report how many bytes it consumed. A nil Encode makes the field
// decode-only; encoding it fails with ErrNotSupported.
type Codec struct {
	Decode func(buf []byte, opts Options) (any, int, error)
	Encode func(v any) ([]byte, error)
}

// Fields holds the decoded values of a record, keyed by field name.
type Fields map[string]any

// Uint32 returns the named value as a uint32, or 0 when it is missing or
// not an unsigned integer that fits.
func (f Fields) Uint32(name string) uint32 {
	v, err := toUint(f[name], 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

// String returns the named value if it is a string.
func (f Fields) String(name string) string {
	s, _ := f[name].(string)
	return s
}

// Bool returns the named value if it is a bool.
func (f Fields) Bool(name string) bool {
	b, _ := f[name].(bool)
	return b
}

// Sub returns a nested record.
func (f Fields) Sub(name string) Fields {
	switch v := f[name].(type) {
	case Fields:
		return v
	case map[string]any:
		return Fields(v)
	}
	return nil
}

// List returns an array of records.
func (f Fields) List(name string) []Fields {
	v, _ := f[name].([]Fields)
	return v
}
