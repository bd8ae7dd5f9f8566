package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message types.
const (
	TypeSynchronizerInput  = "synchronizer.input"
	TypeSynchronizerOutput = "synchronizer.output"
	TypeAccountUpdated     = "account.updated"
	TypeWorkspaceUpdated   = "workspace.updated"
	TypeWorkspaceDeleted   = "workspace.deleted"
	TypeUserCreated        = "user.created"
	TypeUserUpdated        = "user.updated"
)

// ErrUnknownMessage is returned by DecodeMessage for unrecognized types.
var ErrUnknownMessage = errors.New("protocol: unknown message type")

// Message is a wire message.
type Message interface {
	MessageType() string
}

// SynchronizerInput asks the server for items of one synchronizer after
// Cursor.
type SynchronizerInput struct {
	ID     string       `json:"id"`
	UserID string       `json:"userId"`
	Input  Synchronizer `json:"input"`
	Cursor string       `json:"cursor"`
}

// OutputItem is one pulled item. Cursor supersedes the request cursor once
// the item is applied.
type OutputItem struct {
	Cursor string          `json:"cursor"`
	Data   json.RawMessage `json:"data"`
}

// SynchronizerOutput answers a SynchronizerInput with the same ID. Items
// are in cursor order.
type SynchronizerOutput struct {
	UserID string       `json:"userId"`
	ID     string       `json:"id"`
	Items  []OutputItem `json:"items"`
}

// AccountUpdated notifies that account details changed.
type AccountUpdated struct {
	AccountID string `json:"accountId"`
}

// WorkspaceUpdated notifies that workspace details changed.
type WorkspaceUpdated struct {
	WorkspaceID string `json:"workspaceId"`
}

// WorkspaceDeleted notifies that a workspace is gone.
type WorkspaceDeleted struct {
	WorkspaceID string `json:"workspaceId"`
}

// UserCreated notifies that a user joined a workspace.
type UserCreated struct {
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	AccountID   string `json:"accountId,omitempty"`
}

// UserUpdated notifies that a workspace user changed.
type UserUpdated struct {
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	AccountID   string `json:"accountId,omitempty"`
}

func (SynchronizerInput) MessageType() string  { return TypeSynchronizerInput }
func (SynchronizerOutput) MessageType() string { return TypeSynchronizerOutput }
func (AccountUpdated) MessageType() string     { return TypeAccountUpdated }
func (WorkspaceUpdated) MessageType() string   { return TypeWorkspaceUpdated }
func (WorkspaceDeleted) MessageType() string   { return TypeWorkspaceDeleted }
func (UserCreated) MessageType() string        { return TypeUserCreated }
func (UserUpdated) MessageType() string        { return TypeUserUpdated }

// EncodeMessage marshals m with its "type" tag as the first field.
func EncodeMessage(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("protocol: nil message")
	}
	return withType(m.MessageType(), m)
}

// withType marshals v, which must encode as a JSON object, and splices the
// type tag in front of its fields.
func withType(tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s: not a JSON object", tag)
	}
	head, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(head)
	if rest := body[1:]; !bytes.Equal(rest, []byte("}")) {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// peekType reads the "type" field of a JSON object.
func peekType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}

// DecodeMessage parses a tagged message. Unknown types return an error
// wrapping ErrUnknownMessage.
func DecodeMessage(data []byte) (Message, error) {
	tag, err := peekType(data)
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var m Message
	switch tag {
	case TypeSynchronizerInput:
		var v SynchronizerInput
		err = json.Unmarshal(data, &v)
		m = v
	case TypeSynchronizerOutput:
		var v SynchronizerOutput
		err = json.Unmarshal(data, &v)
		m = v
	case TypeAccountUpdated:
		var v AccountUpdated
		err = json.Unmarshal(data, &v)
		m = v
	case TypeWorkspaceUpdated:
		var v WorkspaceUpdated
		err = json.Unmarshal(data, &v)
		m = v
	case TypeWorkspaceDeleted:
		var v WorkspaceDeleted
		err = json.Unmarshal(data, &v)
		m = v
	case TypeUserCreated:
		var v UserCreated
		err = json.Unmarshal(data, &v)
		m = v
	case TypeUserUpdated:
		var v UserUpdated
		err = json.Unmarshal(data, &v)
		m = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	return m, nil
}
