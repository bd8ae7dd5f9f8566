package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/canonical"
	"github.com/roach88/replica/internal/crdt"
	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/protocol"
	"github.com/roach88/replica/internal/store"
)

// RemoteNode is the item payload of every synchronizer: the server's state
// of one node, or its tombstone.
type RemoteNode struct {
	ID         string      `json:"id"`
	Type       string      `json:"type,omitempty"`
	ParentID   string      `json:"parentId,omitempty"`
	RootID     string      `json:"rootId,omitempty"`
	Index      string      `json:"index,omitempty"`
	Attributes crdt.Fields `json:"attributes,omitempty"`
	Deleted    bool        `json:"deleted,omitempty"`
}

// Apply merges one pulled item into the replica and publishes the matching
// node event. Re-applying an item that changes nothing writes nothing and
// publishes nothing.
func (h *Handlers) Apply(ctx context.Context, sync protocol.Synchronizer, item protocol.OutputItem) error {
	var rn RemoteNode
	if err := json.Unmarshal(item.Data, &rn); err != nil {
		return fmt.Errorf("apply %s item %s: %w", sync.Key(), item.Cursor, err)
	}
	if rn.ID == "" {
		return fmt.Errorf("apply %s item %s: missing node id", sync.Key(), item.Cursor)
	}

	if rn.Deleted {
		removed, err := h.store.DeleteNode(ctx, rn.ID)
		if err != nil {
			return err
		}
		for _, n := range removed {
			h.bus.Publish(event.NodeDeleted{Node: nodeRef(n)})
		}
		return nil
	}

	var (
		n         store.Node
		created   bool
		unchanged bool
	)
	err := h.store.InTx(ctx, func(tx *store.Tx) error {
		local, err := tx.GetNode(ctx, rn.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			created = true
			local = store.Node{ID: rn.ID, CreatedAt: h.now()}
		case err != nil:
			return err
		}

		merged, err := local.Attributes.Merge(rn.Attributes)
		if err != nil {
			return fmt.Errorf("merge node %s: %w", rn.ID, err)
		}

		// The server owns placement; attributes merge.
		n = local
		n.Type = rn.Type
		n.ParentID = rn.ParentID
		n.RootID = rn.RootID
		n.Index = rn.Index
		n.Attributes = merged
		if !created && sameNode(local, n) {
			unchanged = true
			return nil
		}
		n.UpdatedAt = h.now()
		return tx.UpsertNode(ctx, n)
	})
	if err != nil || unchanged {
		return err
	}

	if created {
		h.bus.Publish(event.NodeCreated{Node: nodeRef(n)})
	} else {
		h.bus.Publish(event.NodeUpdated{Node: nodeRef(n)})
	}
	if _, ok := sync.(protocol.Users); ok {
		if created {
			h.bus.Publish(event.UserCreated{UserID: n.ID, WorkspaceID: n.RootID})
		} else {
			h.bus.Publish(event.UserUpdated{UserID: n.ID, WorkspaceID: n.RootID})
		}
	}
	return nil
}

// sameNode compares placement and attribute state, ignoring timestamps.
func sameNode(a, b store.Node) bool {
	if a.Type != b.Type || a.ParentID != b.ParentID || a.RootID != b.RootID || a.Index != b.Index {
		return false
	}
	if len(a.Attributes) == 0 && len(b.Attributes) == 0 {
		return true
	}
	return canonical.Equal(a.Attributes, b.Attributes)
}
