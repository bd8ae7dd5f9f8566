package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the tag of a FieldValue.
type Kind string

const (
	KindBoolean     Kind = "boolean"
	KindString      Kind = "string"
	KindStringArray Kind = "string_array"
	KindNumber      Kind = "number"
	KindText        Kind = "text"
)

// ErrUnknownKind is returned when decoding a tag outside the closed set.
var ErrUnknownKind = errors.New("crdt: unknown field kind")

// FieldValue is the sealed union of field kinds.
//
// The unexported marker method prevents types outside this package from
// satisfying the interface.
type FieldValue interface {
	Kind() Kind
	fieldValue()
}

// Boolean is a last-writer-wins boolean field.
type Boolean bool

// String is a last-writer-wins string field. It does not merge character
// edits; use Text for collaboratively edited content.
type String string

// StringArray is a last-writer-wins list of strings.
type StringArray []string

// Number is a last-writer-wins numeric field.
type Number float64

func (Boolean) Kind() Kind     { return KindBoolean }
func (String) Kind() Kind      { return KindString }
func (StringArray) Kind() Kind { return KindStringArray }
func (Number) Kind() Kind      { return KindNumber }
func (*Text) Kind() Kind       { return KindText }

func (Boolean) fieldValue()     {}
func (String) fieldValue()      {}
func (StringArray) fieldValue() {}
func (Number) fieldValue()      {}
func (*Text) fieldValue()       {}

// taggedValue is the wire envelope of a FieldValue.
type taggedValue struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EncodeFieldValue marshals v in its tagged form.
func EncodeFieldValue(v FieldValue) ([]byte, error) {
	if v == nil {
		return nil, errors.New("crdt: nil field value")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", v.Kind(), err)
	}
	return json.Marshal(taggedValue{Type: v.Kind(), Value: raw})
}

// DecodeFieldValue is the inverse of EncodeFieldValue.
func DecodeFieldValue(data []byte) (FieldValue, error) {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return nil, fmt.Errorf("decode field value: %w", err)
	}

	var (
		v   FieldValue
		err error
	)
	switch tv.Type {
	case KindBoolean:
		var b bool
		err = json.Unmarshal(tv.Value, &b)
		v = Boolean(b)
	case KindString:
		var s string
		err = json.Unmarshal(tv.Value, &s)
		v = String(s)
	case KindStringArray:
		var ss []string
		err = json.Unmarshal(tv.Value, &ss)
		v = StringArray(ss)
	case KindNumber:
		var n float64
		err = json.Unmarshal(tv.Value, &n)
		v = Number(n)
	case KindText:
		t := &Text{}
		err = json.Unmarshal(tv.Value, t)
		v = t
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tv.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s value: %w", tv.Type, err)
	}
	return v, nil
}

// PlainValue returns the value as plain Go data for display and query
// results. Text collapses to its current string.
func PlainValue(v FieldValue) any {
	switch x := v.(type) {
	case Boolean:
		return bool(x)
	case String:
		return string(x)
	case StringArray:
		return []string(x)
	case Number:
		return float64(x)
	case *Text:
		return x.String()
	default:
		return nil
	}
}
