package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Synchronizer kinds.
const (
	SyncNodesUpdates = "nodes.updates"
	SyncChatMessages = "chat.messages"
	SyncUsers        = "users"
	SyncReactions    = "reactions"
	SyncInteractions = "interactions"
)

// ErrUnknownSynchronizer is returned for synchronizer kinds outside the
// closed set.
var ErrUnknownSynchronizer = errors.New("protocol: unknown synchronizer")

// Synchronizer selects one cursor-paginated stream of remote changes.
// Key is stable across runs and names the stored cursor.
type Synchronizer interface {
	SynchronizerType() string
	Key() string
}

// NodesUpdates streams node changes under one root.
type NodesUpdates struct {
	RootID string `json:"rootId"`
}

// ChatMessages streams the messages of one chat.
type ChatMessages struct {
	ChatID string `json:"chatId"`
}

// Users streams workspace users.
type Users struct{}

// Reactions streams reactions on nodes under one root.
type Reactions struct {
	RootID string `json:"rootId"`
}

// Interactions streams seen/opened markers on nodes under one root.
type Interactions struct {
	RootID string `json:"rootId"`
}

func (NodesUpdates) SynchronizerType() string { return SyncNodesUpdates }
func (ChatMessages) SynchronizerType() string { return SyncChatMessages }
func (Users) SynchronizerType() string        { return SyncUsers }
func (Reactions) SynchronizerType() string    { return SyncReactions }
func (Interactions) SynchronizerType() string { return SyncInteractions }

func (s NodesUpdates) Key() string { return SyncNodesUpdates + ":" + s.RootID }
func (s ChatMessages) Key() string { return SyncChatMessages + ":" + s.ChatID }
func (Users) Key() string          { return SyncUsers }
func (s Reactions) Key() string    { return SyncReactions + ":" + s.RootID }
func (s Interactions) Key() string { return SyncInteractions + ":" + s.RootID }

// ParseKey is the inverse of Synchronizer.Key.
func ParseKey(key string) (Synchronizer, error) {
	kind, id, _ := strings.Cut(key, ":")

	var s Synchronizer
	switch kind {
	case SyncNodesUpdates:
		s = NodesUpdates{RootID: id}
	case SyncChatMessages:
		s = ChatMessages{ChatID: id}
	case SyncUsers:
		s = Users{}
	case SyncReactions:
		s = Reactions{RootID: id}
	case SyncInteractions:
		s = Interactions{RootID: id}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSynchronizer, kind)
	}
	if s.Key() != key || (kind != SyncUsers && id == "") {
		return nil, fmt.Errorf("parse synchronizer key %q: malformed", key)
	}
	return s, nil
}

// EncodeSynchronizer marshals s with its "type" tag.
func EncodeSynchronizer(s Synchronizer) ([]byte, error) {
	if s == nil {
		return nil, errors.New("protocol: nil synchronizer")
	}
	return withType(s.SynchronizerType(), s)
}

// DecodeSynchronizer is the inverse of EncodeSynchronizer.
func DecodeSynchronizer(data []byte) (Synchronizer, error) {
	tag, err := peekType(data)
	if err != nil {
		return nil, fmt.Errorf("decode synchronizer: %w", err)
	}

	var s Synchronizer
	switch tag {
	case SyncNodesUpdates:
		var v NodesUpdates
		err = json.Unmarshal(data, &v)
		s = v
	case SyncChatMessages:
		var v ChatMessages
		err = json.Unmarshal(data, &v)
		s = v
	case SyncUsers:
		s = Users{}
	case SyncReactions:
		var v Reactions
		err = json.Unmarshal(data, &v)
		s = v
	case SyncInteractions:
		var v Interactions
		err = json.Unmarshal(data, &v)
		s = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSynchronizer, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	return s, nil
}

type synchronizerInputWire struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Input  json.RawMessage `json:"input"`
	Cursor string          `json:"cursor"`
}

// MarshalJSON encodes the input selector with its tag.
func (m SynchronizerInput) MarshalJSON() ([]byte, error) {
	in, err := EncodeSynchronizer(m.Input)
	if err != nil {
		return nil, err
	}
	return json.Marshal(synchronizerInputWire{
		ID:     m.ID,
		UserID: m.UserID,
		Input:  in,
		Cursor: m.Cursor,
	})
}

// UnmarshalJSON decodes the tagged input selector.
func (m *SynchronizerInput) UnmarshalJSON(data []byte) error {
	var w synchronizerInputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	in, err := DecodeSynchronizer(w.Input)
	if err != nil {
		return err
	}
	*m = SynchronizerInput{ID: w.ID, UserID: w.UserID, Input: in, Cursor: w.Cursor}
	return nil
}
