package handlers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/replica/internal/document"
	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/mediator"
	"github.com/roach88/replica/internal/protocol"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/store"
)

// nodeOf extracts the node reference carried by node events.
func nodeOf(ev event.Event) (event.NodeRef, bool) {
	switch e := ev.(type) {
	case event.NodeCreated:
		return e.Node, true
	case event.NodeUpdated:
		return e.Node, true
	case event.NodeDeleted:
		return e.Node, true
	default:
		return event.NodeRef{}, false
	}
}

func inputAs[T query.Input](input query.Input) (T, error) {
	in, ok := input.(T)
	if !ok {
		var zero T
		return zero, query.NewError(query.ErrCodeUnknown, "input is %T, want %T", input, zero)
	}
	return in, nil
}

// nodeGetHandler answers node.get with a *NodeView. A subscribed result
// becomes nil when the node is deleted.
type nodeGetHandler struct{ h *Handlers }

func (q *nodeGetHandler) HandleQuery(ctx context.Context, input query.Input) (any, error) {
	in, err := inputAs[query.NodeGet](input)
	if err != nil {
		return nil, err
	}
	n, err := q.h.store.GetNode(ctx, in.NodeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &query.Error{
			Code:    query.ErrCodeNodeNotFound,
			Message: fmt.Sprintf("node %s not found", in.NodeID),
			Err:     err,
		}
	}
	if err != nil {
		return nil, err
	}
	v := viewOf(n)
	return &v, nil
}

func (q *nodeGetHandler) CheckForChanges(ctx context.Context, ev event.Event, input query.Input, _ any) (mediator.ChangeResult, error) {
	in, err := inputAs[query.NodeGet](input)
	if err != nil {
		return mediator.Unchanged, err
	}
	ref, ok := nodeOf(ev)
	if !ok || ref.ID != in.NodeID {
		return mediator.Unchanged, nil
	}
	if _, deleted := ev.(event.NodeDeleted); deleted {
		return mediator.Changed((*NodeView)(nil)), nil
	}
	n, err := q.h.store.GetNode(ctx, in.NodeID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted later in the same pass.
		return mediator.Changed((*NodeView)(nil)), nil
	}
	if err != nil {
		return mediator.Unchanged, err
	}
	v := viewOf(n)
	return mediator.Changed(&v), nil
}

// nodeChildrenListHandler answers node.children.list with []NodeView in
// sibling order.
type nodeChildrenListHandler struct{ h *Handlers }

func (q *nodeChildrenListHandler) HandleQuery(ctx context.Context, input query.Input) (any, error) {
	in, err := inputAs[query.NodeChildrenList](input)
	if err != nil {
		return nil, err
	}
	nodes, err := q.h.store.ListChildren(ctx, in.ParentID, in.Types...)
	if err != nil {
		return nil, err
	}
	return viewsOf(nodes), nil
}

func (q *nodeChildrenListHandler) CheckForChanges(ctx context.Context, ev event.Event, input query.Input, result any) (mediator.ChangeResult, error) {
	in, err := inputAs[query.NodeChildrenList](input)
	if err != nil {
		return mediator.Unchanged, err
	}
	ref, ok := nodeOf(ev)
	if !ok {
		return mediator.Unchanged, nil
	}

	// A node that moved away from the parent is still in the old result.
	listed := false
	if views, ok := result.([]NodeView); ok {
		listed = slices.ContainsFunc(views, func(v NodeView) bool { return v.ID == ref.ID })
	}
	matches := ref.ParentID == in.ParentID &&
		(len(in.Types) == 0 || slices.Contains(in.Types, ref.Type))
	if !listed && !matches {
		return mediator.Unchanged, nil
	}

	fresh, err := q.HandleQuery(ctx, input)
	if err != nil {
		return mediator.Unchanged, err
	}
	return mediator.Changed(fresh), nil
}

// messageListHandler answers message.list with the messages of a chat in
// sibling order. Results are patched from events instead of re-read.
type messageListHandler struct{ h *Handlers }

func (q *messageListHandler) HandleQuery(ctx context.Context, input query.Input) (any, error) {
	in, err := inputAs[query.MessageList](input)
	if err != nil {
		return nil, err
	}
	nodes, err := q.h.store.ListChildren(ctx, in.ChatID, NodeTypeMessage)
	if err != nil {
		return nil, err
	}
	return viewsOf(nodes), nil
}

func (q *messageListHandler) CheckForChanges(ctx context.Context, ev event.Event, input query.Input, result any) (mediator.ChangeResult, error) {
	in, err := inputAs[query.MessageList](input)
	if err != nil {
		return mediator.Unchanged, err
	}
	ref, ok := nodeOf(ev)
	if !ok || ref.Type != NodeTypeMessage {
		return mediator.Unchanged, nil
	}
	current, _ := result.([]NodeView)
	pos := slices.IndexFunc(current, func(v NodeView) bool { return v.ID == ref.ID })

	if _, deleted := ev.(event.NodeDeleted); deleted {
		if pos < 0 {
			return mediator.Unchanged, nil
		}
		return mediator.Changed(slices.Delete(slices.Clone(current), pos, pos+1)), nil
	}

	if ref.ParentID != in.ChatID {
		if pos < 0 {
			return mediator.Unchanged, nil
		}
		// Moved to another chat.
		return mediator.Changed(slices.Delete(slices.Clone(current), pos, pos+1)), nil
	}

	n, err := q.h.store.GetNode(ctx, ref.ID)
	if errors.Is(err, store.ErrNotFound) {
		return mediator.Unchanged, nil
	}
	if err != nil {
		return mediator.Unchanged, err
	}

	next := slices.Clone(current)
	if pos >= 0 {
		next[pos] = viewOf(n)
	} else {
		next = append(next, viewOf(n))
	}
	slices.SortStableFunc(next, func(a, b NodeView) int {
		return cmp.Or(strings.Compare(a.Index, b.Index), strings.Compare(a.ID, b.ID))
	})
	return mediator.Changed(next), nil
}

// documentGetHandler answers document.get with a *document.View. A
// subscribed result becomes nil when the document is deleted.
type documentGetHandler struct{ h *Handlers }

func (q *documentGetHandler) HandleQuery(ctx context.Context, input query.Input) (any, error) {
	in, err := inputAs[query.DocumentGet](input)
	if err != nil {
		return nil, err
	}
	doc, err := q.h.loadDocument(ctx, q.h.store, in.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &query.Error{
			Code:    query.ErrCodeDocumentNotFound,
			Message: fmt.Sprintf("document %s not found", in.DocumentID),
			Err:     err,
		}
	}
	if err != nil {
		return nil, err
	}
	v := doc.View()
	return &v, nil
}

func (q *documentGetHandler) CheckForChanges(ctx context.Context, ev event.Event, input query.Input, _ any) (mediator.ChangeResult, error) {
	in, err := inputAs[query.DocumentGet](input)
	if err != nil {
		return mediator.Unchanged, err
	}
	ref, ok := nodeOf(ev)
	if !ok || (ref.ID != in.DocumentID && ref.RootID != in.DocumentID) {
		return mediator.Unchanged, nil
	}
	if _, deleted := ev.(event.NodeDeleted); deleted && ref.ID == in.DocumentID {
		return mediator.Changed((*document.View)(nil)), nil
	}

	doc, err := q.h.loadDocument(ctx, q.h.store, in.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		// The document is gone; its own delete event settles the result.
		return mediator.Unchanged, nil
	}
	if err != nil {
		return mediator.Unchanged, err
	}
	v := doc.View()
	return mediator.Changed(&v), nil
}

// nodeReader is the read side shared by *store.Store and *store.Tx.
type nodeReader interface {
	GetNode(ctx context.Context, id string) (store.Node, error)
	ListByRoot(ctx context.Context, rootID string) ([]store.Node, error)
}

// loadDocument reads a document node and its blocks into an arena.
func (h *Handlers) loadDocument(ctx context.Context, r nodeReader, id string) (*document.Document, error) {
	if _, err := r.GetNode(ctx, id); err != nil {
		return nil, err
	}
	nodes, err := r.ListByRoot(ctx, id)
	if err != nil {
		return nil, err
	}

	blocks := make([]document.Block, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != NodeTypeBlock {
			continue
		}
		blocks = append(blocks, blockOf(n))
	}
	return document.New(id, blocks)
}

func blockOf(n store.Node) document.Block {
	b := document.Block{
		ID:       n.ID,
		ParentID: n.ParentID,
		Index:    n.Index,
	}
	attrs := n.Attributes.Plain()
	if s, ok := attrs[AttrText].(string); ok {
		b.Text = s
	}
	if s, ok := attrs[AttrBlockType].(string); ok {
		b.Type = s
	}
	delete(attrs, AttrText)
	delete(attrs, AttrBlockType)
	if len(attrs) > 0 {
		b.Attributes = attrs
	}
	return b
}

// FailedMutationView is one entry of mutation.failed.list.
type FailedMutationView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     int       `json:"status"`
	StatusText string    `json:"statusText"`
	CreatedAt  time.Time `json:"createdAt"`
	FailedAt   time.Time `json:"failedAt"`
}

// mutationFailedListHandler answers mutation.failed.list, newest first.
type mutationFailedListHandler struct{ h *Handlers }

func (q *mutationFailedListHandler) HandleQuery(ctx context.Context, input query.Input) (any, error) {
	in, err := inputAs[query.MutationFailedList](input)
	if err != nil {
		return nil, err
	}
	failed, err := q.h.store.ListFailedMutations(ctx, in.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]FailedMutationView, len(failed))
	for i, f := range failed {
		out[i] = FailedMutationView{
			ID:         f.ID,
			Type:       string(f.Type),
			Status:     f.Status,
			StatusText: protocol.Status(f.Status).String(),
			CreatedAt:  f.CreatedAt,
			FailedAt:   f.FailedAt,
		}
	}
	return out, nil
}

func (q *mutationFailedListHandler) CheckForChanges(ctx context.Context, ev event.Event, input query.Input, _ any) (mediator.ChangeResult, error) {
	if _, ok := ev.(event.MutationFailed); !ok {
		return mediator.Unchanged, nil
	}
	fresh, err := q.HandleQuery(ctx, input)
	if err != nil {
		return mediator.Unchanged, err
	}
	return mediator.Changed(fresh), nil
}
