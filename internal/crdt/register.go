package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrKindMismatch is returned when a text field meets a non-text field of
// the same name during a merge.
var ErrKindMismatch = errors.New("crdt: text and non-text values cannot merge")

// Register holds one field value with the write that produced it.
//
// Scalars resolve by the greater (Timestamp, Replica) pair. Text values
// merge their atom states and keep the later stamp.
type Register struct {
	Value     FieldValue
	Timestamp int64
	Replica   string
}

// NewRegister stamps v with the writer's timestamp and replica.
func NewRegister(v FieldValue, ts int64, replica string) Register {
	return Register{Value: v, Timestamp: ts, Replica: replica}
}

// wins reports whether r was written after other.
func (r Register) wins(other Register) bool {
	if r.Timestamp != other.Timestamp {
		return r.Timestamp > other.Timestamp
	}
	return r.Replica > other.Replica
}

// Merge returns the register both replicas converge to. Neither input is
// modified.
func (r Register) Merge(other Register) (Register, error) {
	if r.Value == nil {
		return other, nil
	}
	if other.Value == nil {
		return r, nil
	}

	rt, rIsText := r.Value.(*Text)
	ot, oIsText := other.Value.(*Text)
	switch {
	case rIsText && oIsText:
		merged := rt.Fork(rt.Replica())
		if err := merged.Merge(ot); err != nil {
			return Register{}, err
		}
		out := r
		if other.wins(r) {
			out = other
		}
		out.Value = merged
		return out, nil
	case rIsText != oIsText:
		return Register{}, fmt.Errorf("%w: %s vs %s", ErrKindMismatch, r.Value.Kind(), other.Value.Kind())
	}

	if other.wins(r) {
		return other, nil
	}
	return r, nil
}

type registerJSON struct {
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"ts"`
	Replica   string          `json:"replica,omitempty"`
}

// MarshalJSON encodes the value in its tagged form.
func (r Register) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage = []byte("null")
	if r.Value != nil {
		b, err := EncodeFieldValue(r.Value)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(registerJSON{Value: raw, Timestamp: r.Timestamp, Replica: r.Replica})
}

// UnmarshalJSON decodes a tagged value.
func (r *Register) UnmarshalJSON(data []byte) error {
	var rj registerJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	*r = Register{Timestamp: rj.Timestamp, Replica: rj.Replica}
	if len(rj.Value) == 0 || string(rj.Value) == "null" {
		return nil
	}
	v, err := DecodeFieldValue(rj.Value)
	if err != nil {
		return err
	}
	r.Value = v
	return nil
}
