package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/protocol"
	"github.com/roach88/replica/internal/store"
)

// MutationSender delivers one push batch and returns the per-mutation
// results.
type MutationSender interface {
	SendMutations(ctx context.Context, in protocol.SyncMutationsInput) (protocol.SyncMutationsOutput, error)
}

// MessageConn is a bidirectional message stream to the server.
type MessageConn interface {
	Send(ctx context.Context, m protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
}

// Outbox is the part of the replica the pusher works on. *store.Store
// implements it.
type Outbox interface {
	ListPendingMutations(ctx context.Context, limit int) ([]store.PendingMutation, error)
	CountPendingMutations(ctx context.Context) (int, error)
	DeleteMutations(ctx context.Context, ids ...string) (int64, error)
	IncrementAttempts(ctx context.Context, ids ...string) error
	RejectMutation(ctx context.Context, m mutation.Mutation, status int, failedAt time.Time) error
}

// CursorStore persists synchronizer cursors. *store.Store implements it.
type CursorStore interface {
	GetCursor(ctx context.Context, key string) (string, error)
	SetCursor(ctx context.Context, key, cursor string) error
}

// ItemApplier writes one pulled item into the replica.
type ItemApplier interface {
	Apply(ctx context.Context, sync protocol.Synchronizer, item protocol.OutputItem) error
}

// TransportError is a non-success response from the server.
type TransportError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Body is the start of the response body, for diagnostics.
	Body string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server responded %d", e.StatusCode)
	}
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode == 401 || te.StatusCode == 403
	}
	return false
}
