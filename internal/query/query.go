// Package query defines the closed set of query kinds the mediator can
// dispatch, their inputs, and the errors query handlers report.
package query

import (
	"encoding/json"
	"fmt"
)

// Type identifies a query kind.
type Type string

const (
	TypeNodeGet            Type = "node.get"
	TypeNodeChildrenList   Type = "node.children.list"
	TypeMessageList        Type = "message.list"
	TypeDocumentGet        Type = "document.get"
	TypeMutationFailedList Type = "mutation.failed.list"
)

var allTypes = []Type{
	TypeNodeGet,
	TypeNodeChildrenList,
	TypeMessageList,
	TypeDocumentGet,
	TypeMutationFailedList,
}

// Types returns every query kind in declaration order.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t is a known query kind.
func (t Type) Valid() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Input is the sealed union of query inputs. Each variant names its own kind.
type Input interface {
	QueryType() Type
	queryInput()
}

// NodeGet fetches one node with its attributes.
type NodeGet struct {
	NodeID string `json:"nodeId"`
}

// NodeChildrenList lists the children of a node ordered by fractional
// index. An empty Types matches every node type.
type NodeChildrenList struct {
	ParentID string   `json:"parentId"`
	Types    []string `json:"types,omitempty"`
}

// MessageList lists the messages of a chat in index order.
type MessageList struct {
	ChatID string `json:"chatId"`
}

// DocumentGet loads a document and its block tree.
type DocumentGet struct {
	DocumentID string `json:"documentId"`
}

// MutationFailedList lists mutations the server rejected, newest first.
// Limit <= 0 means no limit.
type MutationFailedList struct {
	Limit int `json:"limit,omitempty"`
}

func (NodeGet) QueryType() Type            { return TypeNodeGet }
func (NodeChildrenList) QueryType() Type   { return TypeNodeChildrenList }
func (MessageList) QueryType() Type        { return TypeMessageList }
func (DocumentGet) QueryType() Type        { return TypeDocumentGet }
func (MutationFailedList) QueryType() Type { return TypeMutationFailedList }

func (NodeGet) queryInput()            {}
func (NodeChildrenList) queryInput()   {}
func (MessageList) queryInput()        {}
func (DocumentGet) queryInput()        {}
func (MutationFailedList) queryInput() {}

// DecodeInput unmarshals data into the input variant of kind t. Empty data
// yields the zero input.
func DecodeInput(t Type, data []byte) (Input, error) {
	switch t {
	case TypeNodeGet:
		return decodeAs[NodeGet](t, data)
	case TypeNodeChildrenList:
		return decodeAs[NodeChildrenList](t, data)
	case TypeMessageList:
		return decodeAs[MessageList](t, data)
	case TypeDocumentGet:
		return decodeAs[DocumentGet](t, data)
	case TypeMutationFailedList:
		return decodeAs[MutationFailedList](t, data)
	default:
		return nil, NewHandlerNotFoundError(t)
	}
}

func decodeAs[T Input](t Type, data []byte) (Input, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &Error{Code: ErrCodeUnknown, Message: fmt.Sprintf("decode %s input", t), Err: err}
		}
	}
	return v, nil
}
