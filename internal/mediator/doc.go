// Package mediator routes queries and mutations to their handlers and keeps
// subscribed query results fresh as domain events arrive.
//
// DISPATCH:
//
// Queries return errors: a query kind with no handler fails with a
// *query.Error carrying ErrCodeHandlerNotFound. Mutations never return an
// error or panic past ExecuteMutation; every outcome, including a missing
// handler, is a mutation.Result. Callers rely on both conventions.
//
// SUBSCRIPTIONS:
//
// ExecuteQueryAndSubscribe caches a result under a caller-chosen key. The
// first subscriber's input is kept for the lifetime of the key; later
// subscribers under the same key get the cached result. A subscription lives
// exactly as long as its subscriber set is non-empty.
//
// INVALIDATION:
//
// Once started, the mediator listens on the bus and appends every event,
// except query.result.updated, to an unbounded FIFO queue. A pass drains the
// whole queue and, for every subscription whose handler implements
// ChangeChecker, threads the cached result through CheckForChanges once per
// event in arrival order. A result that differs by value is stored and
// announced with a single query.result.updated event.
//
// At most one pass runs at a time. Passes run on the goroutine of the
// publisher that found the engine idle; events published during a pass,
// from any goroutine, are picked up by the next pass before that publisher
// returns.
package mediator
