package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/query"
)

// ErrAlreadyStarted is returned by Start on a running mediator.
var ErrAlreadyStarted = errors.New("mediator already started")

// CheckErrorHandler is told about change checks that failed. The
// subscription keeps its previous result for that pass.
type CheckErrorHandler func(key string, ev event.Event, err error)

// Mediator dispatches queries and mutations and owns the subscription table.
//
// Thread-safety model:
//   - ExecuteQuery, ExecuteMutation: safe from any goroutine, run concurrently
//   - subscription methods: safe from any goroutine, serialized on mu
//   - invalidation passes: strictly sequential (see doc.go)
type Mediator struct {
	bus          *event.Bus
	logger       *slog.Logger
	metrics      *metrics.Metrics
	onCheckError CheckErrorHandler

	handlersMu       sync.RWMutex
	queryHandlers    map[query.Type]QueryHandler
	mutationHandlers map[mutation.Type]MutationHandler

	// mu guards the subscription table and passSeq. Handlers never touch it.
	mu      sync.Mutex
	subs    map[string]*subscription
	passSeq uint64 // passes started

	queue *eventQueue

	// passMu guards running and the lifecycle fields below.
	passMu      sync.Mutex
	running     bool
	ctx         context.Context
	unsubscribe func()
	stopAfter   func() bool
}

// Option configures a Mediator.
type Option func(*Mediator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Mediator) {
		m.logger = l
	}
}

// WithMetrics records dispatch and invalidation metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mediator) {
		m.metrics = mt
	}
}

// WithCheckErrorHandler reports failed change checks to fn in addition to
// the error log.
func WithCheckErrorHandler(fn CheckErrorHandler) Option {
	return func(m *Mediator) {
		m.onCheckError = fn
	}
}

// WithQueryHandler registers h for t. Panics on an invalid or duplicate
// registration, like http.ServeMux.Handle.
func WithQueryHandler(t query.Type, h QueryHandler) Option {
	return func(m *Mediator) {
		if err := m.RegisterQueryHandler(t, h); err != nil {
			panic(err)
		}
	}
}

// WithMutationHandler registers h for t. Panics on an invalid or duplicate
// registration.
func WithMutationHandler(t mutation.Type, h MutationHandler) Option {
	return func(m *Mediator) {
		if err := m.RegisterMutationHandler(t, h); err != nil {
			panic(err)
		}
	}
}

// New creates a mediator publishing on bus. Call Start to begin
// invalidating subscriptions.
func New(bus *event.Bus, opts ...Option) *Mediator {
	m := &Mediator{
		bus:              bus,
		logger:           slog.Default(),
		queryHandlers:    make(map[query.Type]QueryHandler),
		mutationHandlers: make(map[mutation.Type]MutationHandler),
		subs:             make(map[string]*subscription),
		queue:            newEventQueue(),
		ctx:              context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterQueryHandler binds h to query kind t.
func (m *Mediator) RegisterQueryHandler(t query.Type, h QueryHandler) error {
	if !t.Valid() {
		return fmt.Errorf("register query handler: unknown query type %q", t)
	}
	if h == nil {
		return fmt.Errorf("register query handler: nil handler for %q", t)
	}

	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	if _, exists := m.queryHandlers[t]; exists {
		return fmt.Errorf("register query handler: %q already registered", t)
	}
	m.queryHandlers[t] = h
	return nil
}

// RegisterMutationHandler binds h to mutation kind t.
func (m *Mediator) RegisterMutationHandler(t mutation.Type, h MutationHandler) error {
	if !t.Valid() {
		return fmt.Errorf("register mutation handler: unknown mutation type %q", t)
	}
	if h == nil {
		return fmt.Errorf("register mutation handler: nil handler for %q", t)
	}

	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	if _, exists := m.mutationHandlers[t]; exists {
		return fmt.Errorf("register mutation handler: %q already registered", t)
	}
	m.mutationHandlers[t] = h
	return nil
}

// MissingHandlers lists the query and mutation kinds without a handler, in
// declaration order.
func (m *Mediator) MissingHandlers() (queries []query.Type, mutations []mutation.Type) {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()

	for _, t := range query.Types() {
		if _, ok := m.queryHandlers[t]; !ok {
			queries = append(queries, t)
		}
	}
	for _, t := range mutation.Types() {
		if _, ok := m.mutationHandlers[t]; !ok {
			mutations = append(mutations, t)
		}
	}
	return queries, mutations
}

func (m *Mediator) queryHandler(t query.Type) (QueryHandler, bool) {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	h, ok := m.queryHandlers[t]
	return h, ok
}

func (m *Mediator) mutationHandler(t mutation.Type) (MutationHandler, bool) {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	h, ok := m.mutationHandlers[t]
	return h, ok
}

// ExecuteQuery runs the handler for input's kind and returns its result
// uncached.
func (m *Mediator) ExecuteQuery(ctx context.Context, input query.Input) (result any, err error) {
	if input == nil {
		return nil, query.NewError(query.ErrCodeUnknown, "nil query input")
	}
	t := input.QueryType()

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(query.CodeOf(err))
		}
		m.metrics.ObserveQuery(string(t), outcome, time.Since(start))
	}()

	h, ok := m.queryHandler(t)
	if !ok {
		return nil, query.NewHandlerNotFoundError(t)
	}
	return m.callQuery(ctx, h, input)
}

func (m *Mediator) callQuery(ctx context.Context, h QueryHandler, input query.Input) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("query handler panicked",
				"type", input.QueryType(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = &query.Error{
				Code:    query.ErrCodeUnknown,
				Message: fmt.Sprintf("query %s panicked", input.QueryType()),
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return h.HandleQuery(ctx, input)
}

// Query executes input and asserts the result type.
func Query[T any](ctx context.Context, m *Mediator, input query.Input) (T, error) {
	var zero T
	out, err := m.ExecuteQuery(ctx, input)
	if err != nil {
		return zero, err
	}
	v, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("query %s: result is %T, want %T", input.QueryType(), out, zero)
	}
	return v, nil
}

// ExecuteMutation runs the handler for input's kind. It never returns an
// error and never panics: a missing handler, a handler error and a handler
// panic all come back as a failed Result.
func (m *Mediator) ExecuteMutation(ctx context.Context, input mutation.Input) (res mutation.Result) {
	if input == nil {
		return mutation.Failed(mutation.ErrCodeInvalidInput, "nil mutation input")
	}
	t := input.MutationType()

	start := time.Now()
	defer func() {
		code := "ok"
		if !res.Success && res.Error != nil {
			code = string(res.Error.Code)
		}
		m.metrics.ObserveMutation(string(t), code, time.Since(start))
	}()

	h, ok := m.mutationHandler(t)
	if !ok {
		m.logger.Warn("no handler for mutation", "type", t)
		return mutation.Failed(mutation.ErrCodeUnknown,
			fmt.Sprintf("no handler registered for mutation %q", t))
	}

	out, err := m.callMutation(ctx, h, input)
	if err != nil {
		if me, ok := mutation.AsError(err); ok {
			m.logger.Debug("mutation rejected",
				"type", t,
				"code", me.Code,
				"message", me.Message,
			)
			return mutation.Failed(me.Code, me.Message)
		}
		m.logger.Error("mutation failed",
			"type", t,
			"error", err,
		)
		return mutation.Failed(mutation.ErrCodeUnknown,
			fmt.Sprintf("mutation %s failed unexpectedly", t))
	}
	return mutation.Succeeded(out)
}

func (m *Mediator) callMutation(ctx context.Context, h MutationHandler, input mutation.Input) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("mutation handler panicked",
				"type", input.MutationType(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return h.HandleMutation(ctx, input)
}

// Start attaches the mediator to its bus. Events published from now on
// invalidate subscriptions; change checks run with ctx. Cancelling ctx
// has the same effect as Stop.
func (m *Mediator) Start(ctx context.Context) error {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	if m.unsubscribe != nil {
		return ErrAlreadyStarted
	}
	m.ctx = ctx
	m.unsubscribe = m.bus.Subscribe(m.onEvent)
	m.stopAfter = context.AfterFunc(ctx, m.Stop)

	m.logger.Info("mediator started")
	return nil
}

// Stop detaches from the bus, drops queued events and clears every
// subscription. A stopped mediator can be started again.
func (m *Mediator) Stop() {
	m.passMu.Lock()
	unsubscribe, stopAfter := m.unsubscribe, m.stopAfter
	m.unsubscribe, m.stopAfter = nil, nil
	m.passMu.Unlock()

	if unsubscribe == nil {
		return
	}
	unsubscribe()
	stopAfter()
	m.queue.Reset()
	m.ClearSubscriptions()

	m.logger.Info("mediator stopped")
}

func (m *Mediator) passContext() context.Context {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	return m.ctx
}
