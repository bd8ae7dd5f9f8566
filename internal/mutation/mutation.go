// Package mutation defines the replicated mutation record, the closed set of
// mutation kinds, and the result envelope returned to callers.
package mutation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/replica/internal/canonical"
	"github.com/roach88/replica/internal/idgen"
)

// Mutation is the unit of replication: one local data-changing intent.
//
// A Mutation is never modified after New returns. The outbox replays it
// verbatim until the server settles it.
type Mutation struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// New builds a mutation of kind t with data as its payload. The ID comes
// from gen, or the process-default generator when gen is nil.
func New(gen *idgen.Generator, t Type, data any, createdAt time.Time) (Mutation, error) {
	if !t.Valid() {
		return Mutation{}, NewError(ErrCodeInvalidInput, "unknown mutation type %q", t)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Mutation{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}

	var id string
	if gen != nil {
		id = gen.Generate(idgen.TypeMutation)
	} else {
		id = idgen.Generate(idgen.TypeMutation)
	}

	return Mutation{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		Type:      t,
		Data:      raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (m Mutation) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload of %s: %w", m.Type, m.ID, err)
	}
	return nil
}

// Hash returns a content hash of the type and payload. Two mutations with
// the same intent hash equal regardless of key order in their payloads.
func (m Mutation) Hash() (string, error) {
	var data any
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return "", fmt.Errorf("hash %s: %w", m.ID, err)
	}
	return canonical.Fingerprint("replica/mutation/v1", map[string]any{
		"type": string(m.Type),
		"data": data,
	})
}

// Result is what ExecuteMutation returns. Exactly one of Output or Error is
// meaningful, selected by Success.
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Succeeded wraps a handler output.
func Succeeded(output any) Result {
	return Result{Success: true, Output: output}
}

// Failed builds a failure result.
func Failed(code ErrorCode, message string) Result {
	return Result{Error: &Error{Code: code, Message: message}}
}

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.Success || r.Error == nil {
		return nil
	}
	return r.Error
}
