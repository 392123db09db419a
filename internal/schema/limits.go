package schema

import (
	"errors"
	"fmt"
)

// Decoding limits for counts and lengths read from untrusted input.
const (
	// DefaultMaxArrayCount bounds the element count of a single array.
	DefaultMaxArrayCount = 4096

	// DefaultMaxStringLength bounds strings and blobs. A datagram is never
	// larger than this.
	DefaultMaxStringLength = 64 * 1024

	// DefaultMaxDepth bounds nesting of schemas, arrays and recursive
	// custom codecs.
	DefaultMaxDepth = 32
)

var (
	ErrCountTooLarge    = errors.New("schema: array count exceeds limit")
	ErrStringTooLong    = errors.New("schema: string length exceeds limit")
	ErrMaxDepthExceeded = errors.New("schema: maximum nesting depth exceeded")
	ErrUnterminated     = errors.New("schema: unterminated string")
	ErrBadLength        = errors.New("schema: custom codec reported an invalid length")
	ErrNotSupported     = errors.New("schema: operation not supported")
	ErrInvalidValue     = errors.New("schema: invalid value")
	ErrUnknownKind      = errors.New("schema: unknown field kind")
)

// Limits caps what a decode is willing to allocate. Zero values fall back to
// the package defaults.
type Limits struct {
	MaxArrayCount   int
	MaxStringLength int
	MaxDepth        int
}

// DefaultLimits returns the package default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxArrayCount:   DefaultMaxArrayCount,
		MaxStringLength: DefaultMaxStringLength,
		MaxDepth:        DefaultMaxDepth,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxArrayCount <= 0 {
		l.MaxArrayCount = DefaultMaxArrayCount
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = DefaultMaxStringLength
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	return l
}

// Options configures a decode. Depth is the nesting level the decode starts
// at; custom codecs that decode nested records pass their Options through so
// the limit holds across codec boundaries.
type Options struct {
	Limits Limits
	Depth  int
}

// FieldError reports which field failed. Path uses dots for nesting and
// brackets for array elements, e.g. "statData[1].guid".
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("schema: field %s: %v", e.Path, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// wrapField prefixes err with a path segment. seg is either a field name or
// an "[i]" index.
func wrapField(seg string, err error) error {
	if fe, ok := err.(*FieldError); ok {
		sep := "."
		if len(fe.Path) > 0 && fe.Path[0] == '[' {
			sep = ""
		}
		return &FieldError{Path: seg + sep + fe.Path, Err: fe.Err}
	}
	return &FieldError{Path: seg, Err: err}
}
