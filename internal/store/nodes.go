package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/replica/internal/crdt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Node is one entity of the replicated tree.
type Node struct {
	ID         string
	Type       string
	ParentID   string
	RootID     string
	Index      string
	Attributes crdt.Fields
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const nodeColumns = `id, type, parent_id, root_id, idx, attributes, created_at, updated_at`

// GetNode returns the node with the given ID, or an error wrapping
// ErrNotFound.
func (o ops) GetNode(ctx context.Context, id string) (Node, error) {
	row := o.q.QueryRowContext(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE id = ?
	`, id)

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("get node %s: %w", id, err)
	}
	return n, nil
}

// ListChildren returns the children of parentID in sibling order. A
// non-empty types restricts the result to those node types.
//
// Returns an empty slice (not nil) if there are no children.
func (o ops) ListChildren(ctx context.Context, parentID string, types ...string) ([]Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id = ?`
	args := []any{parentID}
	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		args = append(args, stringArgs(types)...)
	}
	query += ` ORDER BY idx ASC, id COLLATE BINARY ASC`

	return o.queryNodes(ctx, "list children", query, args...)
}

// ListByRoot returns every node under rootID, excluding the root itself,
// ordered by sibling order. Callers rebuild the tree from ParentID.
func (o ops) ListByRoot(ctx context.Context, rootID string) ([]Node, error) {
	return o.queryNodes(ctx, "list by root", `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE root_id = ? AND id != ?
		ORDER BY idx ASC, id COLLATE BINARY ASC
	`, rootID, rootID)
}

func (o ops) queryNodes(ctx context.Context, op, query string, args ...any) ([]Node, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	nodes := []Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return nodes, nil
}

// LastChildIndex returns the greatest sibling index under parentID, or ""
// when it has no children.
func (o ops) LastChildIndex(ctx context.Context, parentID string) (string, error) {
	var idx string
	err := o.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(idx), '')
		FROM nodes
		WHERE parent_id = ?
	`, parentID).Scan(&idx)
	if err != nil {
		return "", fmt.Errorf("last child index of %s: %w", parentID, err)
	}
	return idx, nil
}

// UpsertNode inserts n or replaces the stored node with the same ID.
// CreatedAt of an existing node is kept.
func (o ops) UpsertNode(ctx context.Context, n Node) error {
	attrs, err := marshalFields(n.Attributes)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", n.ID, err)
	}
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := n.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err = o.q.ExecContext(ctx, `
		INSERT INTO nodes
		(`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			parent_id = excluded.parent_id,
			root_id = excluded.root_id,
			idx = excluded.idx,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`,
		n.ID,
		n.Type,
		n.ParentID,
		n.RootID,
		n.Index,
		attrs,
		formatTime(created),
		formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", n.ID, err)
	}
	return nil
}

// DeleteNode removes the node and all of its descendants and returns the
// removed nodes in ID order. Deleting a missing node returns no nodes and no
// error.
func (o ops) DeleteNode(ctx context.Context, id string) ([]Node, error) {
	removed, err := o.queryNodes(ctx, "delete node "+id, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM nodes WHERE id = ?
			UNION
			SELECT n.id FROM nodes n JOIN subtree s ON n.parent_id = s.id
		)
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE id IN (SELECT id FROM subtree)
		ORDER BY id COLLATE BINARY ASC
	`, id)
	if err != nil || len(removed) == 0 {
		return removed, err
	}

	ids := make([]string, len(removed))
	for i, n := range removed {
		ids[i] = n.ID
	}
	_, err = o.q.ExecContext(ctx,
		`DELETE FROM nodes WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("delete node %s: %w", id, err)
	}
	return removed, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (Node, error) {
	var (
		n                Node
		attrs            string
		created, updated string
	)
	if err := row.Scan(&n.ID, &n.Type, &n.ParentID, &n.RootID, &n.Index, &attrs, &created, &updated); err != nil {
		return Node{}, err
	}

	var err error
	if n.Attributes, err = unmarshalFields(attrs); err != nil {
		return Node{}, err
	}
	if n.CreatedAt, err = parseTime(created); err != nil {
		return Node{}, err
	}
	if n.UpdatedAt, err = parseTime(updated); err != nil {
		return Node{}, err
	}
	return n, nil
}
