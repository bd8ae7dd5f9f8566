// Package handlers implements the query and mutation handlers of the local
// replica.
//
// Mutation handlers write the replica and the outbox in one transaction,
// then publish the domain event and mutation.created. Query handlers read
// the replica; the list and document handlers also implement
// mediator.ChangeChecker so subscriptions refresh from node events.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/replica/internal/crdt"
	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/idgen"
	"github.com/roach88/replica/internal/mediator"
	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/store"
)

// Node types understood by the handlers.
const (
	NodeTypeSpace       = "space"
	NodeTypePage        = "page"
	NodeTypeChannel     = "channel"
	NodeTypeChat        = "chat"
	NodeTypeFolder      = "folder"
	NodeTypeDatabase    = "database"
	NodeTypeRecord      = "record"
	NodeTypeMessage     = "message"
	NodeTypeFile        = "file"
	NodeTypeBlock       = "block"
	NodeTypeReaction    = "reaction"
	NodeTypeInteraction = "interaction"
	NodeTypeUser        = "user"
)

// Attribute names with a fixed meaning.
const (
	AttrText      = "text"
	AttrBlockType = "blockType"
	AttrReaction  = "reaction"
	AttrActor     = "actor"
)

var nodeIDTypes = map[string]idgen.Type{
	NodeTypeSpace:       idgen.TypeSpace,
	NodeTypePage:        idgen.TypePage,
	NodeTypeChannel:     idgen.TypeChannel,
	NodeTypeChat:        idgen.TypeChat,
	NodeTypeFolder:      idgen.TypeFolder,
	NodeTypeDatabase:    idgen.TypeDatabase,
	NodeTypeRecord:      idgen.TypeRecord,
	NodeTypeMessage:     idgen.TypeMessage,
	NodeTypeFile:        idgen.TypeFile,
	NodeTypeBlock:       idgen.TypeBlock,
	NodeTypeReaction:    idgen.TypeReaction,
	NodeTypeInteraction: idgen.TypeInteraction,
	NodeTypeUser:        idgen.TypeUser,
}

// Handlers holds the dependencies shared by every handler.
type Handlers struct {
	store   *store.Store
	bus     *event.Bus
	ids     *idgen.Generator
	now     func() time.Time
	replica string
	userID  string
	logger  *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithIDGenerator sets the generator for node and mutation IDs.
func WithIDGenerator(g *idgen.Generator) Option {
	return func(h *Handlers) {
		h.ids = g
	}
}

// WithClock sets the time source for timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) {
		h.now = now
	}
}

// WithReplicaID sets the CRDT replica ID stamped on local edits.
// Default: a random ID per Handlers.
func WithReplicaID(id string) Option {
	return func(h *Handlers) {
		h.replica = id
	}
}

// WithUserID sets the acting user recorded on reactions and interactions.
func WithUserID(id string) Option {
	return func(h *Handlers) {
		h.userID = id
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) {
		h.logger = l
	}
}

// New creates the handler set over st, publishing on bus.
func New(st *store.Store, bus *event.Bus, opts ...Option) *Handlers {
	h := &Handlers{
		store:  st,
		bus:    bus,
		ids:    idgen.NewGenerator(nil, nil),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.replica == "" {
		h.replica = crdt.NewReplicaID()
	}
	return h
}

// ReplicaID returns the CRDT replica ID of local edits.
func (h *Handlers) ReplicaID() string { return h.replica }

// Register binds every query and mutation handler to m.
func (h *Handlers) Register(m *mediator.Mediator) error {
	queries := map[query.Type]mediator.QueryHandler{
		query.TypeNodeGet:            &nodeGetHandler{h},
		query.TypeNodeChildrenList:   &nodeChildrenListHandler{h},
		query.TypeMessageList:        &messageListHandler{h},
		query.TypeDocumentGet:        &documentGetHandler{h},
		query.TypeMutationFailedList: &mutationFailedListHandler{h},
	}
	for _, t := range query.Types() {
		if err := m.RegisterQueryHandler(t, queries[t]); err != nil {
			return err
		}
	}

	mutations := map[mutation.Type]mediator.MutationHandlerFunc{
		mutation.TypeNodeCreate:        h.createNode,
		mutation.TypeNodeUpdate:        h.updateNode,
		mutation.TypeNodeDelete:        h.deleteNode,
		mutation.TypeReactionCreate:    h.createReaction,
		mutation.TypeReactionDelete:    h.deleteReaction,
		mutation.TypeInteractionSeen:   h.recordInteraction,
		mutation.TypeInteractionOpened: h.recordInteraction,
		mutation.TypeDocumentUpdate:    h.updateDocument,
	}
	for _, t := range mutation.Types() {
		fn, ok := mutations[t]
		if !ok {
			return fmt.Errorf("register handlers: no handler for mutation %q", t)
		}
		if err := m.RegisterMutationHandler(t, fn); err != nil {
			return err
		}
	}
	return nil
}

// stamp returns a register timestamp that wins over prev.
func (h *Handlers) stamp(prev crdt.Register) int64 {
	ts := h.now().UnixMilli()
	if ts <= prev.Timestamp {
		ts = prev.Timestamp + 1
	}
	return ts
}

// queued is a mutation appended to the outbox inside a transaction. It is
// announced on the bus only after the transaction commits.
type queued struct {
	m  mutation.Mutation
	ok bool
}

func (q *queued) enqueue(ctx context.Context, h *Handlers, tx *store.Tx, t mutation.Type, payload any) error {
	m, err := mutation.New(h.ids, t, payload, h.now())
	if err != nil {
		return err
	}
	if err := tx.EnqueueMutation(ctx, m); err != nil {
		return err
	}
	q.m, q.ok = m, true
	return nil
}

func (q *queued) announce(h *Handlers) {
	if !q.ok {
		return
	}
	h.logger.Debug("mutation queued",
		"id", q.m.ID,
		"type", q.m.Type,
	)
	h.bus.Publish(event.MutationCreated{MutationID: q.m.ID, Type: string(q.m.Type)})
}

// commit runs write, if any, and appends a mutation of kind t in one
// transaction.
func (h *Handlers) commit(ctx context.Context, t mutation.Type, payload any, write func(tx *store.Tx) error) (mutation.Mutation, error) {
	var q queued
	err := h.store.InTx(ctx, func(tx *store.Tx) error {
		if write != nil {
			if err := write(tx); err != nil {
				return err
			}
		}
		return q.enqueue(ctx, h, tx, t, payload)
	})
	if err != nil {
		return mutation.Mutation{}, err
	}
	q.announce(h)
	return q.m, nil
}

// fail logs cause and returns the domain error the caller sees.
func (h *Handlers) fail(code mutation.ErrorCode, op string, cause error) error {
	if me, ok := mutation.AsError(cause); ok {
		return me
	}
	h.logger.Error("mutation handler failed",
		"op", op,
		"code", code,
		"error", cause,
	)
	return mutation.NewError(code, "%s failed", op)
}

func nodeRef(n store.Node) event.NodeRef {
	return event.NodeRef{
		ID:       n.ID,
		ParentID: n.ParentID,
		RootID:   n.RootID,
		Type:     n.Type,
	}
}

// NodeView is the query form of a node: CRDT fields flattened to plain
// values.
type NodeView struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ParentID   string         `json:"parentId,omitempty"`
	RootID     string         `json:"rootId,omitempty"`
	Index      string         `json:"index"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func viewOf(n store.Node) NodeView {
	return NodeView{
		ID:         n.ID,
		Type:       n.Type,
		ParentID:   n.ParentID,
		RootID:     n.RootID,
		Index:      n.Index,
		Attributes: n.Attributes.Plain(),
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

func viewsOf(nodes []store.Node) []NodeView {
	out := make([]NodeView, len(nodes))
	for i, n := range nodes {
		out[i] = viewOf(n)
	}
	return out
}

// nodePayload is the outbox form of a node write. Attributes keep their
// CRDT state so the server can merge them.
type nodePayload struct {
	ID         string      `json:"id"`
	Type       string      `json:"type,omitempty"`
	ParentID   string      `json:"parentId,omitempty"`
	RootID     string      `json:"rootId,omitempty"`
	Index      string      `json:"index,omitempty"`
	Attributes crdt.Fields `json:"attributes,omitempty"`
}

func payloadOf(n store.Node) nodePayload {
	return nodePayload{
		ID:         n.ID,
		Type:       n.Type,
		ParentID:   n.ParentID,
		RootID:     n.RootID,
		Index:      n.Index,
		Attributes: n.Attributes,
	}
}
