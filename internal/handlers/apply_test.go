package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/crdt"
	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/protocol"
)

func item(t *testing.T, cursor string, rn RemoteNode) protocol.OutputItem {
	t.Helper()
	data, err := json.Marshal(rn)
	require.NoError(t, err)
	return protocol.OutputItem{Cursor: cursor, Data: data}
}

func TestApply_CreatesThenUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sync := protocol.NodesUpdates{RootID: "sp-remote"}

	rn := RemoteNode{
		ID:       "pg-remote",
		Type:     NodeTypePage,
		ParentID: "sp-remote",
		RootID:   "sp-remote",
		Index:    "a0",
		Attributes: crdt.Fields{
			"title": crdt.NewRegister(crdt.NewTextFrom("server", "Remote"), 1, "server"),
		},
	}
	require.NoError(t, f.h.Apply(ctx, sync, item(t, "1", rn)))
	assert.Equal(t, []string{event.TypeNodeCreated}, f.events.types())

	got, err := f.store.GetNode(ctx, "pg-remote")
	require.NoError(t, err)
	assert.Equal(t, "Remote", got.Attributes.Plain()["title"])

	// Redelivery of the same item changes nothing.
	require.NoError(t, f.h.Apply(ctx, sync, item(t, "1", rn)))
	again, err := f.store.GetNode(ctx, "pg-remote")
	require.NoError(t, err)
	assert.Equal(t, got.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, []string{event.TypeNodeCreated}, f.events.types())

	rn.Index = "a1"
	require.NoError(t, f.h.Apply(ctx, sync, item(t, "2", rn)))
	got, err = f.store.GetNode(ctx, "pg-remote")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.Index)
	assert.Equal(t, "Remote", got.Attributes.Plain()["title"])
	assert.Equal(t, []string{event.TypeNodeCreated, event.TypeNodeUpdated}, f.events.types())
	assert.Empty(t, f.pending(t), "applying remote state never queues mutations")
}

func TestApply_MergesWithLocalEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sync := protocol.NodesUpdates{RootID: "sp-remote"}

	serverText := crdt.NewTextFrom("server", "draft")
	rn := RemoteNode{
		ID:         "pg-remote",
		Type:       NodeTypePage,
		Attributes: crdt.Fields{"title": crdt.NewRegister(serverText, 1, "server")},
	}
	require.NoError(t, f.h.Apply(ctx, sync, item(t, "1", rn)))

	// Local append while the server prepends.
	f.mutate(t, mutation.NodeUpdate{
		NodeID:     "pg-remote",
		Attributes: map[string]crdt.FieldValue{"title": crdt.NewTextFrom("x", "draft v2")},
	})
	require.NoError(t, serverText.Insert(0, "final "))
	rn.Attributes["title"] = crdt.NewRegister(serverText, 2, "server")
	require.NoError(t, f.h.Apply(ctx, sync, item(t, "2", rn)))

	got, err := f.store.GetNode(ctx, "pg-remote")
	require.NoError(t, err)
	assert.Equal(t, "final draft v2", got.Attributes.Plain()["title"])
}

func TestApply_Tombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page := f.create(t, mutation.NodeCreate{NodeType: NodeTypePage})
	child := f.create(t, mutation.NodeCreate{NodeType: NodeTypePage, ParentID: page.ID})
	f.events.reset()

	require.NoError(t, f.h.Apply(ctx, protocol.NodesUpdates{RootID: page.ID}, item(t, "9", RemoteNode{ID: page.ID, Deleted: true})))
	assert.Equal(t, []string{event.TypeNodeDeleted, event.TypeNodeDeleted}, f.events.types())

	_, err := f.store.GetNode(ctx, child.ID)
	assert.Error(t, err)

	// Tombstones for nodes we never had are fine.
	require.NoError(t, f.h.Apply(ctx, protocol.NodesUpdates{RootID: page.ID}, item(t, "10", RemoteNode{ID: "gone", Deleted: true})))
}

func TestApply_UsersPublishUserEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rn := RemoteNode{ID: "us-2", Type: NodeTypeUser, RootID: "wc-1"}
	require.NoError(t, f.h.Apply(ctx, protocol.Users{}, item(t, "1", rn)))
	rn.Attributes = crdt.Fields{"name": crdt.NewRegister(crdt.String("Ada"), 1, "server")}
	require.NoError(t, f.h.Apply(ctx, protocol.Users{}, item(t, "2", rn)))
	require.NoError(t, f.h.Apply(ctx, protocol.Users{}, item(t, "2", rn)))

	assert.Equal(t, []string{
		event.TypeNodeCreated, event.TypeUserCreated,
		event.TypeNodeUpdated, event.TypeUserUpdated,
	}, f.events.types())
}

func TestApply_BadItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sync := protocol.Users{}

	assert.Error(t, f.h.Apply(ctx, sync, protocol.OutputItem{Cursor: "1", Data: []byte(`not json`)}))
	assert.Error(t, f.h.Apply(ctx, sync, protocol.OutputItem{Cursor: "1", Data: []byte(`{}`)}))

	// A field that is text locally cannot become a scalar remotely.
	rn := RemoteNode{ID: "n", Type: NodeTypePage, Attributes: crdt.Fields{"t": crdt.NewRegister(crdt.NewTextFrom("s", "x"), 1, "s")}}
	require.NoError(t, f.h.Apply(ctx, sync, item(t, "1", rn)))
	rn.Attributes["t"] = crdt.NewRegister(crdt.String("x"), 2, "s")
	assert.ErrorIs(t, f.h.Apply(ctx, sync, item(t, "2", rn)), crdt.ErrKindMismatch)
}
