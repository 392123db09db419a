package schema

import (
	"fmt"
	"math"
	"strconv"
)

// Encoding accepts any Go numeric type for numeric kinds so that values
// built by hand, decoded from TOML/JSON, or produced by Decode all work.

func toUint(v any, bits int) (uint64, error) {
	var u uint64
	switch n := v.(type) {
	case nil:
		return 0, nil
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case uint:
		u = uint64(n)
	case int, int8, int16, int32, int64:
		i, _ := toInt(n, 64)
		if i < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrInvalidValue, i)
		}
		u = uint64(i)
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v is not an unsigned integer", ErrInvalidValue, n)
		}
		u = uint64(n)
	case bool:
		if n {
			u = 1
		}
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrInvalidValue, v)
	}
	if bits < 64 && u > 1<<bits-1 {
		return 0, fmt.Errorf("%w: %d overflows uint%d", ErrInvalidValue, u, bits)
	}
	return u, nil
}

func toInt(v any, bits int) (int64, error) {
	var i int64
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case int:
		i = int64(n)
	case uint8, uint16, uint32, uint64, uint:
		u, err := toUint(n, 63)
		if err != nil {
			return 0, err
		}
		i = int64(u)
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, n)
		}
		i = int64(n)
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrInvalidValue, v)
	}
	if bits < 64 {
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if i < lo || i > hi {
			return 0, fmt.Errorf("%w: %d overflows int%d", ErrInvalidValue, i, bits)
		}
	}
	return i, nil
}

// toUint64String accepts the decoded "0x..." form, any base prefix
// understood by strconv, or a plain integer.
func toUint64String(v any) (uint64, error) {
	s, ok := v.(string)
	if !ok {
		return toUint(v, 64)
	}
	if s == "" {
		return 0, nil
	}
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a uint64", ErrInvalidValue, s)
	}
	return u, nil
}

func toFloat32(v any) (float32, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float32:
		return n, nil
	case float64:
		return float32(n), nil
	}
	i, err := toInt(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %T is not a float", ErrInvalidValue, v)
	}
	return float32(i), nil
}

func toVector(v any, n int) ([]float32, error) {
	out := make([]float32, n)
	switch vec := v.(type) {
	case nil:
		return out, nil
	case [3]float32:
		if n == 3 {
			return vec[:], nil
		}
	case [4]float32:
		if n == 4 {
			return vec[:], nil
		}
	case []float32:
		if len(vec) == n {
			return vec, nil
		}
	case []float64:
		if len(vec) == n {
			for i, f := range vec {
				out[i] = float32(f)
			}
			return out, nil
		}
	case []any:
		if len(vec) == n {
			for i, e := range vec {
				f, err := toFloat32(e)
				if err != nil {
					return nil, err
				}
				out[i] = f
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a %d-component vector", ErrInvalidValue, v, n)
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", fmt.Errorf("%w: %T is not a string", ErrInvalidValue, v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	}
	u, err := toUint(v, 64)
	if err != nil {
		return false, fmt.Errorf("%w: %T is not a boolean", ErrInvalidValue, v)
	}
	return u != 0, nil
}

func toFields(v any) (Fields, error) {
	switch f := v.(type) {
	case nil:
		return Fields{}, nil
	case Fields:
		return f, nil
	case map[string]any:
		return Fields(f), nil
	}
	return nil, fmt.Errorf("%w: %T is not a record", ErrInvalidValue, v)
}

func toList(v any) ([]Fields, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []Fields:
		return l, nil
	case []map[string]any:
		out := make([]Fields, len(l))
		for i, m := range l {
			out[i] = Fields(m)
		}
		return out, nil
	case []any:
		out := make([]Fields, len(l))
		for i, e := range l {
			f, err := toFields(e)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not a list of records", ErrInvalidValue, v)
}
