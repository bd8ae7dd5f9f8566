package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/replica/internal/crdt"
	"github.com/roach88/replica/internal/mutation"
)

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a fresh replica in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestNode creates a node with a single string "name" field.
func createTestNode(id, typ, parentID, rootID, idx string) Node {
	return Node{
		ID:       id,
		Type:     typ,
		ParentID: parentID,
		RootID:   rootID,
		Index:    idx,
		Attributes: crdt.Fields{
			"name": crdt.NewRegister(crdt.String(id), 1, "replica-a"),
		},
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

// createTestMutation creates a node.delete mutation with a fixed payload.
func createTestMutation(id string, createdAt time.Time) mutation.Mutation {
	return mutation.Mutation{
		ID:        id,
		CreatedAt: createdAt,
		Type:      mutation.TypeNodeDelete,
		Data:      []byte(`{"nodeId":"n1"}`),
	}
}
