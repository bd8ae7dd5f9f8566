package mediator

import (
	"context"

	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/query"
)

// QueryHandler answers one query kind.
type QueryHandler interface {
	HandleQuery(ctx context.Context, input query.Input) (any, error)
}

// ChangeChecker is implemented by query handlers whose results can be
// refreshed from events. Handlers without it are never re-evaluated.
//
// CheckForChanges must not modify result. It returns HasChanges with the new
// result when ev affects the subscription described by input.
type ChangeChecker interface {
	CheckForChanges(ctx context.Context, ev event.Event, input query.Input, result any) (ChangeResult, error)
}

// ChangeResult is the outcome of one change check.
type ChangeResult struct {
	HasChanges bool
	Result     any
}

// Unchanged is the ChangeResult for events that do not affect a result.
var Unchanged = ChangeResult{}

// Changed returns a ChangeResult carrying a new result.
func Changed(result any) ChangeResult {
	return ChangeResult{HasChanges: true, Result: result}
}

// MutationHandler applies one mutation kind. A *mutation.Error anywhere in
// the returned error chain becomes a failed result with its code.
type MutationHandler interface {
	HandleMutation(ctx context.Context, input mutation.Input) (any, error)
}

// QueryHandlerFunc adapts a function to QueryHandler.
type QueryHandlerFunc func(ctx context.Context, input query.Input) (any, error)

// HandleQuery calls f.
func (f QueryHandlerFunc) HandleQuery(ctx context.Context, input query.Input) (any, error) {
	return f(ctx, input)
}

// MutationHandlerFunc adapts a function to MutationHandler.
type MutationHandlerFunc func(ctx context.Context, input mutation.Input) (any, error)

// HandleMutation calls f.
func (f MutationHandlerFunc) HandleMutation(ctx context.Context, input mutation.Input) (any, error) {
	return f(ctx, input)
}
