package geom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the types that may appear in factory
// parameters and kernel objects. Only Str, Num, Int, Bool, Vec, Array, and
// Object implement it. Keeping the set closed makes canonical serialization
// total: every value that can enter the scene can be serialized exactly.
type Value interface {
	geomValue() // Sealed - only these types implement it
}

// Str represents a string value (names, labels, edge references).
type Str string

func (Str) geomValue() {}

// Num represents a scalar geometric quantity (coordinates, radii, angles).
// Always float64. Canonical serialization uses shortest round-trip form so
// equal values always produce identical bytes.
type Num float64

func (Num) geomValue() {}

// Int represents an integer value (counts, segment numbers, indices).
type Int int64

func (Int) geomValue() {}

// Bool represents a boolean value (flags such as "closed" or "merge").
type Bool bool

func (Bool) geomValue() {}

// Vec represents a point or direction in 3-space.
// Serializes as a three-element array [x, y, z].
type Vec struct {
	X, Y, Z float64
}

func (Vec) geomValue() {}

// Array represents an ordered list of values (control points, edge lists).
type Array []Value

func (Array) geomValue() {}

// Object represents a map of string keys to values. This is the shape of
// factory parameter sets and of kernel objects. Use SortedKeys for
// deterministic iteration.
type Object map[string]Value

func (Object) geomValue() {}

// V constructs a Vec from coordinates.
func V(x, y, z float64) Vec {
	return Vec{X: x, Y: y, Z: z}
}

// Clone returns a deep copy of the object. Snapshots and transaction
// before-images rely on this to stay independent of live mutation.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case Object:
		return val.Clone()
	default:
		// Str, Num, Int, Bool, Vec are value types - copy is implicit
		return v
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs for non-BMP keys.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering as
// required by RFC 8785 (Canonical JSON). Must use unicode/utf16.Encode for
// correct surrogate handling.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*o = make(Object, len(raw))
	for k, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*o)[k] = val
	}
	return nil
}

// UnmarshalValue decodes a JSON value into the appropriate Value type.
//
// Numbers decode as Int when they contain no fraction or exponent, Num
// otherwise. Arrays of exactly three JSON numbers decode as Array, not Vec:
// the two are ambiguous on the wire, and factories that expect a Vec convert
// explicitly via AsVec. JSON null is rejected - there is no null geometry.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return Str(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return nil, fmt.Errorf("null is forbidden: only string, number, bool, array, object allowed")

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		arr := make(Array, len(raw))
		for i, elem := range raw {
			val, err := UnmarshalValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = val
		}
		return arr, nil

	case '{':
		var obj Object
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		if i, err := n.Int64(); err == nil && !bytes.ContainsAny(data, ".eE") {
			return Int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", n)
		}
		return Num(f), nil
	}
}

// FromAny converts a plain Go value (as produced by yaml/json decoding) to a
// Value. Used by the scenario harness and CLI to build parameter objects.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in parameters")
	case Value:
		return val, nil
	case string:
		return Str(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		return Num(val), nil
	case float32:
		return Num(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			converted, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			converted, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = converted
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type: %T", v)
	}
}

// AsVec interprets a value as a point in 3-space. Accepts a Vec directly or
// an Array of three numeric values.
func AsVec(v Value) (Vec, error) {
	switch val := v.(type) {
	case Vec:
		return val, nil
	case Array:
		if len(val) != 3 {
			return Vec{}, fmt.Errorf("vector needs 3 components, got %d", len(val))
		}
		var out [3]float64
		for i, elem := range val {
			switch n := elem.(type) {
			case Num:
				out[i] = float64(n)
			case Int:
				out[i] = float64(n)
			default:
				return Vec{}, fmt.Errorf("vector component %d is %T, want number", i, elem)
			}
		}
		return Vec{X: out[0], Y: out[1], Z: out[2]}, nil
	default:
		return Vec{}, fmt.Errorf("cannot interpret %T as vector", v)
	}
}
