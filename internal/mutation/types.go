package mutation

import (
	"encoding/json"

	"github.com/roach88/replica/internal/crdt"
)

// Type identifies a mutation kind.
type Type string

const (
	TypeNodeCreate        Type = "node.create"
	TypeNodeUpdate        Type = "node.update"
	TypeNodeDelete        Type = "node.delete"
	TypeReactionCreate    Type = "reaction.create"
	TypeReactionDelete    Type = "reaction.delete"
	TypeInteractionSeen   Type = "interaction.seen"
	TypeInteractionOpened Type = "interaction.opened"
	TypeDocumentUpdate    Type = "document.update"
)

var allTypes = []Type{
	TypeNodeCreate,
	TypeNodeUpdate,
	TypeNodeDelete,
	TypeReactionCreate,
	TypeReactionDelete,
	TypeInteractionSeen,
	TypeInteractionOpened,
	TypeDocumentUpdate,
}

// Types returns every mutation kind in declaration order.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t is a known mutation kind.
func (t Type) Valid() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Input is the sealed union of mutation inputs.
type Input interface {
	MutationType() Type
	mutationInput()
}

// NodeCreate creates a node under ParentID. The handler assigns the ID and
// a fractional index after the last sibling unless Index is set.
type NodeCreate struct {
	NodeType   string                     `json:"nodeType"`
	ParentID   string                     `json:"parentId,omitempty"`
	RootID     string                     `json:"rootId,omitempty"`
	Index      string                     `json:"index,omitempty"`
	Attributes map[string]crdt.FieldValue `json:"-"`
}

// NodeUpdate sets attributes on an existing node. Text attributes are
// applied as edits against the stored text so concurrent edits merge.
type NodeUpdate struct {
	NodeID     string                     `json:"nodeId"`
	Attributes map[string]crdt.FieldValue `json:"-"`
}

// NodeDelete removes a node and its descendants.
type NodeDelete struct {
	NodeID string `json:"nodeId"`
}

// ReactionCreate adds the caller's reaction to a node.
type ReactionCreate struct {
	NodeID   string `json:"nodeId"`
	RootID   string `json:"rootId,omitempty"`
	Reaction string `json:"reaction"`
}

// ReactionDelete removes the caller's reaction from a node.
type ReactionDelete struct {
	NodeID   string `json:"nodeId"`
	RootID   string `json:"rootId,omitempty"`
	Reaction string `json:"reaction"`
}

// InteractionSeen records that the caller saw a node.
type InteractionSeen struct {
	NodeID string `json:"nodeId"`
	RootID string `json:"rootId,omitempty"`
}

// InteractionOpened records that the caller opened a node.
type InteractionOpened struct {
	NodeID string `json:"nodeId"`
	RootID string `json:"rootId,omitempty"`
}

// DocumentUpdate sets the text of one block of a document, creating the
// block under ParentID when it does not exist yet.
type DocumentUpdate struct {
	DocumentID string `json:"documentId"`
	BlockID    string `json:"blockId,omitempty"`
	ParentID   string `json:"parentId,omitempty"`
	BlockType  string `json:"blockType,omitempty"`
	Text       string `json:"text"`
}

func (NodeCreate) MutationType() Type        { return TypeNodeCreate }
func (NodeUpdate) MutationType() Type        { return TypeNodeUpdate }
func (NodeDelete) MutationType() Type        { return TypeNodeDelete }
func (ReactionCreate) MutationType() Type    { return TypeReactionCreate }
func (ReactionDelete) MutationType() Type    { return TypeReactionDelete }
func (InteractionSeen) MutationType() Type   { return TypeInteractionSeen }
func (InteractionOpened) MutationType() Type { return TypeInteractionOpened }
func (DocumentUpdate) MutationType() Type    { return TypeDocumentUpdate }

func (NodeCreate) mutationInput()        {}
func (NodeUpdate) mutationInput()        {}
func (NodeDelete) mutationInput()        {}
func (ReactionCreate) mutationInput()    {}
func (ReactionDelete) mutationInput()    {}
func (InteractionSeen) mutationInput()   {}
func (InteractionOpened) mutationInput() {}
func (DocumentUpdate) mutationInput()    {}

// DecodeInput unmarshals data into the input variant of kind t. Attribute
// maps are not part of the JSON form and come back empty.
func DecodeInput(t Type, data []byte) (Input, error) {
	switch t {
	case TypeNodeCreate:
		return decodeAs[NodeCreate](t, data)
	case TypeNodeUpdate:
		return decodeAs[NodeUpdate](t, data)
	case TypeNodeDelete:
		return decodeAs[NodeDelete](t, data)
	case TypeReactionCreate:
		return decodeAs[ReactionCreate](t, data)
	case TypeReactionDelete:
		return decodeAs[ReactionDelete](t, data)
	case TypeInteractionSeen:
		return decodeAs[InteractionSeen](t, data)
	case TypeInteractionOpened:
		return decodeAs[InteractionOpened](t, data)
	case TypeDocumentUpdate:
		return decodeAs[DocumentUpdate](t, data)
	default:
		return nil, NewError(ErrCodeInvalidInput, "unknown mutation type %q", t)
	}
}

func decodeAs[T Input](t Type, data []byte) (Input, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, NewError(ErrCodeInvalidInput, "decode %s input: %v", t, err)
		}
	}
	return v, nil
}
