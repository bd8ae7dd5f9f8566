package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/crdt"
)

func TestUpsertNode_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	title := crdt.NewTextFrom("replica-a", "Roadmap")
	n := createTestNode("pg1", "page", "sp1", "sp1", "a0")
	n.Attributes["title"] = crdt.NewRegister(title, 2, "replica-a")
	n.Attributes["archived"] = crdt.NewRegister(crdt.Boolean(false), 2, "replica-a")

	require.NoError(t, s.UpsertNode(ctx, n))

	got, err := s.GetNode(ctx, "pg1")
	require.NoError(t, err)
	assert.Equal(t, "page", got.Type)
	assert.Equal(t, "sp1", got.ParentID)
	assert.Equal(t, "a0", got.Index)
	assert.True(t, got.CreatedAt.Equal(testTime))

	text, ok := got.Attributes["title"].Value.(*crdt.Text)
	require.True(t, ok, "title must come back as text, got %T", got.Attributes["title"].Value)
	assert.Equal(t, "Roadmap", text.String())
	assert.Equal(t, crdt.Boolean(false), got.Attributes["archived"].Value)
	assert.Equal(t, crdt.String("pg1"), got.Attributes["name"].Value)
}

func TestUpsertNode_KeepsCreatedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := createTestNode("pg1", "page", "sp1", "sp1", "a0")
	require.NoError(t, s.UpsertNode(ctx, n))

	later := testTime.Add(time.Hour)
	n.CreatedAt = later
	n.UpdatedAt = later
	n.Index = "a1"
	require.NoError(t, s.UpsertNode(ctx, n))

	got, err := s.GetNode(ctx, "pg1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(testTime), "created_at must not move")
	assert.True(t, got.UpdatedAt.Equal(later))
	assert.Equal(t, "a1", got.Index)
}

func TestGetNode_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetNode(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListChildren_Order(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Inserted out of order; equal indexes fall back to ID order.
	for _, n := range []Node{
		createTestNode("c", "page", "sp1", "sp1", "a2"),
		createTestNode("b", "page", "sp1", "sp1", "a1"),
		createTestNode("a", "page", "sp1", "sp1", "a1"),
		createTestNode("x", "page", "other", "other", "a0"),
	} {
		require.NoError(t, s.UpsertNode(ctx, n))
	}

	got, err := s.ListChildren(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, nodeIDs(got))
}

func TestListChildren_TypeFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, createTestNode("m1", "message", "ct1", "ct1", "a0")))
	require.NoError(t, s.UpsertNode(ctx, createTestNode("r1", "reaction", "ct1", "ct1", "a1")))
	require.NoError(t, s.UpsertNode(ctx, createTestNode("m2", "message", "ct1", "ct1", "a2")))

	got, err := s.ListChildren(ctx, "ct1", "message")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, nodeIDs(got))

	got, err = s.ListChildren(ctx, "ct1", "message", "reaction")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestListChildren_Empty(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ListChildren(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListByRoot_ExcludesRoot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, createTestNode("pg1", "page", "sp1", "pg1", "a0")))
	require.NoError(t, s.UpsertNode(ctx, createTestNode("bl1", "block", "pg1", "pg1", "a0")))
	require.NoError(t, s.UpsertNode(ctx, createTestNode("bl2", "block", "bl1", "pg1", "a0")))

	got, err := s.ListByRoot(ctx, "pg1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bl1", "bl2"}, nodeIDs(got))
}

func TestLastChildIndex(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	idx, err := s.LastChildIndex(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, "", idx)

	require.NoError(t, s.UpsertNode(ctx, createTestNode("a", "page", "sp1", "sp1", "a0")))
	require.NoError(t, s.UpsertNode(ctx, createTestNode("b", "page", "sp1", "sp1", "a3")))
	require.NoError(t, s.UpsertNode(ctx, createTestNode("c", "page", "sp1", "sp1", "a1V")))

	idx, err = s.LastChildIndex(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, "a3", idx)
}

func TestDeleteNode_RemovesSubtree(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, n := range []Node{
		createTestNode("pg1", "page", "sp1", "sp1", "a0"),
		createTestNode("bl1", "block", "pg1", "pg1", "a0"),
		createTestNode("bl2", "block", "bl1", "pg1", "a0"),
		createTestNode("bl3", "block", "bl2", "pg1", "a0"),
		createTestNode("pg2", "page", "sp1", "sp1", "a1"),
	} {
		require.NoError(t, s.UpsertNode(ctx, n))
	}

	removed, err := s.DeleteNode(ctx, "bl1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bl1", "bl2", "bl3"}, nodeIDs(removed))
	assert.Equal(t, "bl1", removed[1].ParentID)

	_, err = s.GetNode(ctx, "bl3")
	assert.ErrorIs(t, err, ErrNotFound)

	left, err := s.ListChildren(ctx, "sp1")
	require.NoError(t, err)
	assert.Equal(t, []string{"pg1", "pg2"}, nodeIDs(left))
}

func TestDeleteNode_Missing(t *testing.T) {
	s := createTestStore(t)

	removed, err := s.DeleteNode(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestUpsertNode_InTx(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertNode(ctx, createTestNode("pg1", "page", "sp1", "sp1", "a0")); err != nil {
			return err
		}
		_, err := tx.GetNode(ctx, "pg1")
		return err
	})
	require.NoError(t, err)

	_, err = s.GetNode(ctx, "pg1")
	assert.NoError(t, err)
}

func nodeIDs(nodes []Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
