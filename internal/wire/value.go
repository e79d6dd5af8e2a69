package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Value is a sealed interface over the JSON value kinds that can appear in
// schema-free payload regions (card extras, free-form step metadata).
// Only Null, String, Number, Bool, Array, and Object implement it.
//
// Unlike the structured content variants, a Value tree carries no schema:
// whatever the author attached to a card or step rides along verbatim.
type Value interface {
	wireValue() // Sealed - only these types implement it
}

// Null represents a JSON null.
type Null struct{}

func (Null) wireValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a JSON string.
type String string

func (String) wireValue() {}

// Number represents a JSON number, preserved as its literal text.
// Keeping the literal avoids float64 round-trip drift for large integers
// and keeps Decode(Encode(x)) == x exact.
type Number string

func (Number) wireValue() {}

// MarshalJSON implements json.Marshaler for Number.
// The literal is validated so a corrupt Number cannot produce invalid JSON.
func (n Number) MarshalJSON() ([]byte, error) {
	if !json.Valid([]byte(n)) {
		return nil, fmt.Errorf("invalid number literal: %q", string(n))
	}
	return []byte(n), nil
}

// Bool represents a JSON boolean.
type Bool bool

func (Bool) wireValue() {}

// Array represents a JSON array of Values.
type Array []Value

func (Array) wireValue() {}

// Object represents a JSON object with Value members.
type Object map[string]Value

func (Object) wireValue() {}

// sortedKeys returns the object's keys in lexicographic order so that
// marshaling is deterministic (golden files depend on this).
func (o Object) sortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON implements json.Marshaler for Object with sorted keys.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range o.sortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(o[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for Array.
func (a Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MarshalValue marshals any Value to JSON bytes via type-switch dispatch.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Number:
		return val.MarshalJSON()
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		return val.MarshalJSON()
	case Object:
		return val.MarshalJSON()
	case nil:
		return nil, fmt.Errorf("nil Value (use Null for JSON null)")
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
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

// UnmarshalJSON implements json.Unmarshaler for Array.
func (a *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = make(Array, len(raw))
	for i, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*a)[i] = val
	}
	return nil
}

// UnmarshalValue decodes a JSON value into the matching Value type.
// The number case keeps the original literal untouched.
func UnmarshalValue(data []byte) (Value, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		if !bytes.Equal(trimmed, []byte("null")) {
			return nil, fmt.Errorf("invalid JSON literal: %s", trimmed)
		}
		return Null{}, nil

	case '[':
		var arr Array
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		var obj Object
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return nil, err
		}
		return Number(n), nil
	}
}
