package handlers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/replica/internal/crdt"
	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/fracindex"
	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/store"
)

const defaultBlockType = "paragraph"

func mutationAs[T mutation.Input](input mutation.Input) (T, error) {
	in, ok := input.(T)
	if !ok {
		var zero T
		return zero, mutation.NewError(mutation.ErrCodeInvalidInput, "input is %T, want %T", input, zero)
	}
	return in, nil
}

// nextIndex returns a jittered index after the last child of parentID.
func nextIndex(ctx context.Context, tx *store.Tx, parentID string) (string, error) {
	last, err := tx.LastChildIndex(ctx, parentID)
	if err != nil {
		return "", err
	}
	return fracindex.BetweenJittered(last, "")
}

// createNode handles node.create and returns the new NodeView.
func (h *Handlers) createNode(ctx context.Context, input mutation.Input) (any, error) {
	in, err := mutationAs[mutation.NodeCreate](input)
	if err != nil {
		return nil, err
	}
	idType, ok := nodeIDTypes[in.NodeType]
	if !ok {
		return nil, mutation.NewError(mutation.ErrCodeInvalidInput, "unknown node type %q", in.NodeType)
	}
	if in.Index != "" {
		if err := fracindex.Validate(in.Index); err != nil {
			return nil, mutation.NewError(mutation.ErrCodeInvalidInput, "invalid index %q: %v", in.Index, err)
		}
	}

	now := h.now()
	n := store.Node{
		ID:         h.ids.Generate(idType),
		Type:       in.NodeType,
		ParentID:   in.ParentID,
		RootID:     in.RootID,
		Index:      in.Index,
		Attributes: make(crdt.Fields, len(in.Attributes)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, name := range slices.Sorted(maps.Keys(in.Attributes)) {
		n.Attributes[name] = crdt.NewRegister(h.localValue(in.Attributes[name]), now.UnixMilli(), h.replica)
	}

	var q queued
	err = h.store.InTx(ctx, func(tx *store.Tx) error {
		if n.ParentID != "" {
			parent, err := tx.GetNode(ctx, n.ParentID)
			if errors.Is(err, store.ErrNotFound) {
				return mutation.NewError(mutation.ErrCodeNodeNotFound, "parent %s not found", n.ParentID)
			}
			if err != nil {
				return err
			}
			n.RootID = cmp.Or(n.RootID, parent.RootID, parent.ID)
		}
		n.RootID = cmp.Or(n.RootID, n.ID)
		if n.Index == "" {
			idx, err := nextIndex(ctx, tx, n.ParentID)
			if err != nil {
				return err
			}
			n.Index = idx
		}
		if err := tx.UpsertNode(ctx, n); err != nil {
			return err
		}
		return q.enqueue(ctx, h, tx, mutation.TypeNodeCreate, payloadOf(n))
	})
	if err != nil {
		return nil, h.fail(mutation.ErrCodeNodeCreateFailed, "create node", err)
	}

	q.announce(h)
	h.bus.Publish(event.NodeCreated{Node: nodeRef(n)})
	return viewOf(n), nil
}

// localValue rebinds text values to this replica so later local edits are
// stamped with our ID. Other kinds pass through.
func (h *Handlers) localValue(v crdt.FieldValue) crdt.FieldValue {
	if t, ok := v.(*crdt.Text); ok {
		return crdt.NewTextFrom(h.replica, t.String())
	}
	return v
}

// applyAttributes writes updates onto fields in place and returns the
// changed registers. Text updates become edits against the stored text so
// concurrent remote edits still merge.
func (h *Handlers) applyAttributes(fields crdt.Fields, updates map[string]crdt.FieldValue) (crdt.Fields, error) {
	changed := make(crdt.Fields, len(updates))
	for _, name := range slices.Sorted(maps.Keys(updates)) {
		v := updates[name]
		prev, exists := fields[name]
		ts := h.stamp(prev)

		newText, isText := v.(*crdt.Text)
		oldText, wasText := prev.Value.(*crdt.Text)
		switch {
		case exists && isText != wasText:
			return nil, mutation.NewError(mutation.ErrCodeInvalidInput,
				"field %q: %v", name, crdt.ErrKindMismatch)
		case isText && wasText:
			edited := oldText.Fork(h.replica)
			if err := edited.SetString(newText.String()); err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			v = edited
		default:
			v = h.localValue(v)
		}

		r := crdt.NewRegister(v, ts, h.replica)
		fields[name] = r
		changed[name] = r
	}
	return changed, nil
}

// updateNode handles node.update and returns the updated NodeView.
func (h *Handlers) updateNode(ctx context.Context, input mutation.Input) (any, error) {
	in, err := mutationAs[mutation.NodeUpdate](input)
	if err != nil {
		return nil, err
	}
	if len(in.Attributes) == 0 {
		return nil, mutation.NewError(mutation.ErrCodeInvalidInput, "no attributes to update")
	}

	var (
		n       store.Node
		changed crdt.Fields
		q       queued
	)
	err = h.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.GetNode(ctx, in.NodeID)
		if errors.Is(err, store.ErrNotFound) {
			return mutation.NewError(mutation.ErrCodeNodeNotFound, "node %s not found", in.NodeID)
		}
		if err != nil {
			return err
		}
		if changed, err = h.applyAttributes(n.Attributes, in.Attributes); err != nil {
			return err
		}
		n.UpdatedAt = h.now()
		if err := tx.UpsertNode(ctx, n); err != nil {
			return err
		}
		return q.enqueue(ctx, h, tx, mutation.TypeNodeUpdate, nodePayload{ID: n.ID, Attributes: changed})
	})
	if err != nil {
		return nil, h.fail(mutation.ErrCodeNodeUpdateFailed, "update node", err)
	}

	q.announce(h)
	h.bus.Publish(event.NodeUpdated{Node: nodeRef(n)})
	return viewOf(n), nil
}

// deleteNode handles node.delete and returns the removed node IDs.
func (h *Handlers) deleteNode(ctx context.Context, input mutation.Input) (any, error) {
	in, err := mutationAs[mutation.NodeDelete](input)
	if err != nil {
		return nil, err
	}

	var (
		removed []store.Node
		q       queued
	)
	err = h.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		removed, err = tx.DeleteNode(ctx, in.NodeID)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			return mutation.NewError(mutation.ErrCodeNodeNotFound, "node %s not found", in.NodeID)
		}
		return q.enqueue(ctx, h, tx, mutation.TypeNodeDelete, in)
	})
	if err != nil {
		return nil, h.fail(mutation.ErrCodeNodeDeleteFailed, "delete node", err)
	}

	q.announce(h)
	ids := make([]string, len(removed))
	for i, n := range removed {
		ids[i] = n.ID
		h.bus.Publish(event.NodeDeleted{Node: nodeRef(n)})
	}
	return ids, nil
}

// findReaction returns the caller's reaction node under nodeID.
func (h *Handlers) findReaction(ctx context.Context, tx *store.Tx, nodeID, reaction string) (store.Node, bool, error) {
	children, err := tx.ListChildren(ctx, nodeID, NodeTypeReaction)
	if err != nil {
		return store.Node{}, false, err
	}
	for _, c := range children {
		plain := c.Attributes.Plain()
		if plain[AttrReaction] == reaction && plain[AttrActor] == h.userID {
			return c, true, nil
		}
	}
	return store.Node{}, false, nil
}

// createReaction handles reaction.create. Reacting twice with the same
// reaction is a no-op returning the existing reaction.
func (h *Handlers) createReaction(ctx context.Context, input mutation.Input) (any, error) {
	in, err := mutationAs[mutation.ReactionCreate](input)
	if err != nil {
		return nil, err
	}
	if in.Reaction == "" {
		return nil, mutation.NewError(mutation.ErrCodeInvalidInput, "empty reaction")
	}

	var (
		n       store.Node
		created bool
		q       queued
	)
	err = h.store.InTx(ctx, func(tx *store.Tx) error {
		target, err := tx.GetNode(ctx, in.NodeID)
		if errors.Is(err, store.ErrNotFound) {
			return mutation.NewError(mutation.ErrCodeNodeNotFound, "node %s not found", in.NodeID)
		}
		if err != nil {
			return err
		}

		existing, found, err := h.findReaction(ctx, tx, in.NodeID, in.Reaction)
		if err != nil || found {
			n = existing
			return err
		}

		idx, err := nextIndex(ctx, tx, in.NodeID)
		if err != nil {
			return err
		}
		now := h.now()
		n = store.Node{
			ID:       h.ids.Generate(nodeIDTypes[NodeTypeReaction]),
			Type:     NodeTypeReaction,
			ParentID: target.ID,
			RootID:   cmp.Or(in.RootID, target.RootID, target.ID),
			Index:    idx,
			Attributes: crdt.Fields{
				AttrReaction: crdt.NewRegister(crdt.String(in.Reaction), now.UnixMilli(), h.replica),
				AttrActor:    crdt.NewRegister(crdt.String(h.userID), now.UnixMilli(), h.replica),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.UpsertNode(ctx, n); err != nil {
			return err
		}
		created = true
		return q.enqueue(ctx, h, tx, mutation.TypeReactionCreate, payloadOf(n))
	})
	if err != nil {
		return nil, h.fail(mutation.ErrCodeReactionCreateFailed, "create reaction", err)
	}

	if created {
		q.announce(h)
		h.bus.Publish(event.NodeCreated{Node: nodeRef(n)})
	}
	return viewOf(n), nil
}

// deleteReaction handles reaction.delete. Removing a reaction the caller
// never made is a no-op.
func (h *Handlers) deleteReaction(ctx context.Context, input mutation.Input) (any, error) {
	in, err := mutationAs[mutation.ReactionDelete](input)
	if err != nil {
		return nil, err
	}

	var (
		n     store.Node
		found bool
		q     queued
	)
	err = h.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetNode(ctx, in.NodeID); errors.Is(err, store.ErrNotFound) {
			return mutation.NewError(mutation.ErrCodeNodeNotFound, "node %s not found", in.NodeID)
		} else if err != nil {
			return err
		}

		var err error
		n, found, err = h.findReaction(ctx, tx, in.NodeID, in.Reaction)
		if err != nil || !found {
			return err
		}
		if _, err := tx.DeleteNode(ctx, n.ID); err != nil {
			return err
		}
		return q.enqueue(ctx, h, tx, mutation.TypeReactionDelete, nodePayload{ID: n.ID, ParentID: n.ParentID, RootID: n.RootID})
	})
	if err != nil {
		return nil, h.fail(mutation.ErrCodeReactionDeleteFailed, "delete reaction", err)
	}

	if found {
		q.announce(h)
		h.bus.Publish(event.NodeDeleted{Node: nodeRef(n)})
	}
	return found, nil
}

// interactionPayload is the outbox form of interaction.seen and
// interaction.opened.
type interactionPayload struct {
	NodeID string `json:"nodeId"`
	RootID string `json:"rootId,omitempty"`
	UserID string `json:"userId,omitempty"`
	At     string `json:"at"`
}

// recordInteraction handles interaction.seen and interaction.opened. The
// interaction is only queued for the server; the replica learns the merged
// state through the interactions synchronizer.
func (h *Handlers) recordInteraction(ctx context.Context, input mutation.Input) (any, error) {
	var nodeID, rootID string
	switch in := input.(type) {
	case mutation.InteractionSeen:
		nodeID, rootID = in.NodeID, in.RootID
	case mutation.InteractionOpened:
		nodeID, rootID = in.NodeID, in.RootID
	default:
		return nil, mutation.NewError(mutation.ErrCodeInvalidInput, "input is %T, want an interaction", input)
	}

	n, err := h.store.GetNode(ctx, nodeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, mutation.NewError(mutation.ErrCodeNodeNotFound, "node %s not found", nodeID)
	}
	if err != nil {
		return nil, h.fail(mutation.ErrCodeInteractionFailed, "record interaction", err)
	}

	payload := interactionPayload{
		NodeID: nodeID,
		RootID: cmp.Or(rootID, n.RootID),
		UserID: h.userID,
		At:     h.now().UTC().Format(time.RFC3339Nano),
	}
	m, err := h.commit(ctx, input.MutationType(), payload, nil)
	if err != nil {
		return nil, h.fail(mutation.ErrCodeInteractionFailed, "record interaction", err)
	}
	return m.ID, nil
}

// updateDocument handles document.update: it edits the text of an existing
// block or creates the block, and returns the block's NodeView.
func (h *Handlers) updateDocument(ctx context.Context, input mutation.Input) (any, error) {
	in, err := mutationAs[mutation.DocumentUpdate](input)
	if err != nil {
		return nil, err
	}

	var (
		n       store.Node
		created bool
		q       queued
	)
	err = h.store.InTx(ctx, func(tx *store.Tx) error {
		doc, err := h.loadDocument(ctx, tx, in.DocumentID)
		if errors.Is(err, store.ErrNotFound) {
			return mutation.NewError(mutation.ErrCodeDocumentNotFound, "document %s not found", in.DocumentID)
		}
		if err != nil {
			return err
		}

		now := h.now()
		if _, exists := doc.Block(in.BlockID); exists {
			if n, err = tx.GetNode(ctx, in.BlockID); err != nil {
				return err
			}
			changed, err := h.applyAttributes(n.Attributes, map[string]crdt.FieldValue{
				AttrText: crdt.NewTextFrom(h.replica, in.Text),
			})
			if err != nil {
				return err
			}
			n.UpdatedAt = now
			if err := tx.UpsertNode(ctx, n); err != nil {
				return err
			}
			return q.enqueue(ctx, h, tx, mutation.TypeDocumentUpdate, nodePayload{ID: n.ID, RootID: n.RootID, Attributes: changed})
		}

		parentID := cmp.Or(in.ParentID, in.DocumentID)
		if parentID != in.DocumentID {
			if _, ok := doc.Block(parentID); !ok {
				return mutation.NewError(mutation.ErrCodeInvalidInput,
					"parent block %s is not in document %s", parentID, in.DocumentID)
			}
		}
		id := in.BlockID
		if id == "" {
			id = h.ids.Generate(nodeIDTypes[NodeTypeBlock])
		} else if _, err := tx.GetNode(ctx, id); err == nil {
			return mutation.NewError(mutation.ErrCodeInvalidInput,
				"block %s is not in document %s", id, in.DocumentID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		idx, err := fracindex.BetweenJittered(doc.LastChildIndex(parentID), "")
		if err != nil {
			return err
		}
		n = store.Node{
			ID:       id,
			Type:     NodeTypeBlock,
			ParentID: parentID,
			RootID:   in.DocumentID,
			Index:    idx,
			Attributes: crdt.Fields{
				AttrText:      crdt.NewRegister(crdt.NewTextFrom(h.replica, in.Text), now.UnixMilli(), h.replica),
				AttrBlockType: crdt.NewRegister(crdt.String(cmp.Or(in.BlockType, defaultBlockType)), now.UnixMilli(), h.replica),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.UpsertNode(ctx, n); err != nil {
			return err
		}
		created = true
		return q.enqueue(ctx, h, tx, mutation.TypeDocumentUpdate, payloadOf(n))
	})
	if err != nil {
		return nil, h.fail(mutation.ErrCodeDocumentUpdateFailed, "update document", err)
	}

	q.announce(h)
	if created {
		h.bus.Publish(event.NodeCreated{Node: nodeRef(n)})
	} else {
		h.bus.Publish(event.NodeUpdated{Node: nodeRef(n)})
	}
	return viewOf(n), nil
}
