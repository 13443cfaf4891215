// Package tree implements the in-memory value model of a realtime database
// subtree and the patch engine that keeps a replica current.
//
// A Value is a closed variant: null, boolean, number, string, or an
// ordered-key mapping of child values. There is no array variant; the
// database itself flattens arrays into mappings with numeric keys, and this
// package does the same on decode.
//
// Values are immutable. ApplyPut and ApplyPatch return a new root that
// shares unchanged subtrees with the input; neither the input nor any value
// previously handed out is ever mutated. A nil *Value means absence, which
// is how the database treats null: writing null at a path deletes it.
package tree

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is one node of a database subtree. The zero value is null; a nil
// *Value means the location is absent.
type Value struct {
	kind Kind
	b    bool
	num  string // JSON number literal
	str  string
	keys []string
	kids map[string]*Value
}

// Bool returns a boolean value.
func Bool(b bool) *Value {
	return &Value{kind: KindBool, b: b}
}

// Num returns a number value.
func Num(f float64) *Value {
	return &Value{kind: KindNumber, num: formatFloat(f)}
}

// Str returns a string value.
func Str(s string) *Value {
	return &Value{kind: KindString, str: s}
}

func formatFloat(f float64) string {
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	return strconv.FormatFloat(f, format, -1, 64)
}

// Kind returns the variant tag; a nil Value is null.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is null or absent.
func (v *Value) IsNull() bool {
	return v == nil || v.kind == KindNull
}

// Bool returns the boolean payload, false for other kinds.
func (v *Value) Bool() bool {
	if v == nil || v.kind != KindBool {
		return false
	}
	return v.b
}

// Num returns the numeric payload, 0 for other kinds.
func (v *Value) Num() float64 {
	if v == nil || v.kind != KindNumber {
		return 0
	}
	f, _ := strconv.ParseFloat(v.num, 64)
	return f
}

// Str returns the string payload, "" for other kinds.
func (v *Value) Str() string {
	if v == nil || v.kind != KindString {
		return ""
	}
	return v.str
}

// Len returns the number of children of a mapping, 0 for other kinds.
func (v *Value) Len() int {
	if v == nil || v.kind != KindMap {
		return 0
	}
	return len(v.keys)
}

// Keys returns a copy of a mapping's keys in order, nil for other kinds.
func (v *Value) Keys() []string {
	if v == nil || v.kind != KindMap {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Child returns the named child of a mapping.
func (v *Value) Child(key string) (*Value, bool) {
	if v == nil || v.kind != KindMap {
		return nil, false
	}
	c, ok := v.kids[key]
	return c, ok
}

// Decode parses JSON into a Value. Arrays become mappings with numeric
// keys; null members of objects and arrays are dropped, matching how the
// database itself stores data. A bare null decodes to nil.
func Decode(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("decoding tree value: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decoding tree value: trailing data")
	}
	return v, nil
}

// MustDecode is Decode for statically known inputs; it panics on error.
func MustDecode(data string) *Value {
	v, err := Decode([]byte(data))
	if err != nil {
		panic(err)
	}
	return v
}

func decodeValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected %q", t.String())
		}
	case bool:
		return Bool(t), nil
	case json.Number:
		return &Value{kind: KindNumber, num: t.String()}, nil
	case string:
		return Str(t), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeObject(dec *json.Decoder) (*Value, error) {
	v := &Value{kind: KindMap, kids: map[string]*Value{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		child, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		if child.IsNull() {
			continue
		}
		if _, exists := v.kids[key]; !exists {
			v.keys = append(v.keys, key)
		}
		v.kids[key] = child
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return nil, err
	}
	if len(v.keys) == 0 {
		return nil, nil
	}
	return v, nil
}

func decodeArray(dec *json.Decoder) (*Value, error) {
	v := &Value{kind: KindMap, kids: map[string]*Value{}}
	for i := 0; dec.More(); i++ {
		child, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		if child.IsNull() {
			continue
		}
		key := strconv.Itoa(i)
		v.keys = append(v.keys, key)
		v.kids[key] = child
	}
	if _, err := dec.Token(); err != nil { // closing bracket
		return nil, err
	}
	if len(v.keys) == 0 {
		return nil, nil
	}
	return v, nil
}

// MarshalJSON renders the value; mapping keys keep their order.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := appendJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String renders the value as JSON.
func (v *Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid tree value: %v>", err)
	}
	return string(b)
}

func appendJSON(buf *bytes.Buffer, v *Value) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.num)
	case KindString:
		escaped, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(escaped)
	case KindMap:
		buf.WriteByte('{')
		for i, key := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			escaped, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(escaped)
			buf.WriteByte(':')
			if err := appendJSON(buf, v.kids[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// Equal reports structural equality. Mapping key order does not matter;
// numbers compare by numeric value.
func Equal(a, b *Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.Num() == b.Num()
	case KindString:
		return a.str == b.str
	case KindMap:
		if len(a.kids) != len(b.kids) {
			return false
		}
		for key, av := range a.kids {
			bv, ok := b.kids[key]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}
