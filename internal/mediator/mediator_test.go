package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/query"
)

// messageCreated is a test-only event kind; the bus carries any Event.
type messageCreated struct {
	ChatID    string
	MessageID string
}

func (messageCreated) EventType() string { return "message.created" }

type checkCall struct {
	event  string
	result []string
}

// messageHandler serves query.MessageList from memory and appends created
// messages to subscribed results.
type messageHandler struct {
	mu       sync.Mutex
	messages map[string][]string
	checks   []checkCall
	calls    atomic.Int32
}

func newMessageHandler(messages map[string][]string) *messageHandler {
	return &messageHandler{messages: messages}
}

func (h *messageHandler) HandleQuery(_ context.Context, input query.Input) (any, error) {
	h.calls.Add(1)
	in := input.(query.MessageList)

	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.messages[in.ChatID]), nil
}

func (h *messageHandler) CheckForChanges(_ context.Context, ev event.Event, input query.Input, result any) (ChangeResult, error) {
	prev := result.([]string)

	h.mu.Lock()
	h.checks = append(h.checks, checkCall{event: ev.EventType(), result: slices.Clone(prev)})
	h.mu.Unlock()

	mc, ok := ev.(messageCreated)
	if !ok || mc.ChatID != input.(query.MessageList).ChatID {
		return Unchanged, nil
	}
	switch mc.MessageID {
	case "boom":
		return Unchanged, errors.New("replica unavailable")
	case "panic":
		panic("checker exploded")
	case "same":
		// Reports a change with a value-equal copy.
		return Changed(slices.Clone(prev)), nil
	}
	return Changed(append(slices.Clone(prev), mc.MessageID)), nil
}

func (h *messageHandler) checkCalls() []checkCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.checks)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestMediator(t *testing.T, opts ...Option) (*Mediator, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	m := New(bus, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m, bus
}

// recordUpdates collects query.result.updated events from bus.
func recordUpdates(bus *event.Bus) func() []event.QueryResultUpdated {
	var mu sync.Mutex
	var got []event.QueryResultUpdated
	bus.Subscribe(func(ev event.Event) {
		if u, ok := ev.(event.QueryResultUpdated); ok {
			mu.Lock()
			got = append(got, u)
			mu.Unlock()
		}
	})
	return func() []event.QueryResultUpdated {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(got)
	}
}

func TestExecuteQuery_HandlerNotFound(t *testing.T) {
	m, _ := newTestMediator(t)

	_, err := m.ExecuteQuery(context.Background(), query.NodeGet{NodeID: "n1"})
	require.Error(t, err)
	assert.True(t, query.IsHandlerNotFound(err))
	assert.ErrorIs(t, err, query.ErrHandlerNotFound)
}

// The two dispatch paths report a missing handler differently and callers
// depend on both behaviors.
func TestDispatch_HandlerNotFoundAsymmetry(t *testing.T) {
	m, _ := newTestMediator(t)
	ctx := context.Background()

	_, err := m.ExecuteQuery(ctx, query.DocumentGet{DocumentID: "d1"})
	assert.Error(t, err, "queries fail with an error")

	var res mutation.Result
	assert.NotPanics(t, func() {
		res = m.ExecuteMutation(ctx, mutation.NodeDelete{NodeID: "n1"})
	})
	assert.False(t, res.Success, "mutations fail with a result")
	require.NotNil(t, res.Error)
	assert.Equal(t, mutation.ErrCodeUnknown, res.Error.Code)
	assert.Contains(t, res.Error.Message, "no handler registered")
}

func TestExecuteQuery_NotCached(t *testing.T) {
	h := newMessageHandler(map[string][]string{"123": {"m1"}})
	m, _ := newTestMediator(t, WithQueryHandler(query.TypeMessageList, h))

	for range 3 {
		got, err := m.ExecuteQuery(context.Background(), query.MessageList{ChatID: "123"})
		require.NoError(t, err)
		assert.Equal(t, []string{"m1"}, got)
	}
	assert.Equal(t, int32(3), h.calls.Load())
	assert.Equal(t, 0, m.SubscriptionCount())
}

func TestExecuteQuery_PropagatesHandlerError(t *testing.T) {
	notFound := query.NewError(query.ErrCodeNodeNotFound, "node n1 not found")
	m, _ := newTestMediator(t, WithQueryHandler(query.TypeNodeGet,
		QueryHandlerFunc(func(context.Context, query.Input) (any, error) {
			return nil, fmt.Errorf("load: %w", notFound)
		})))

	_, err := m.ExecuteQuery(context.Background(), query.NodeGet{NodeID: "n1"})
	assert.True(t, query.IsNotFound(err))
}

func TestExecuteQuery_PanicBecomesError(t *testing.T) {
	m, _ := newTestMediator(t, WithQueryHandler(query.TypeNodeGet,
		QueryHandlerFunc(func(context.Context, query.Input) (any, error) {
			panic("bad")
		})))

	_, err := m.ExecuteQuery(context.Background(), query.NodeGet{NodeID: "n1"})
	require.Error(t, err)
	assert.Equal(t, query.ErrCodeUnknown, query.CodeOf(err))
}

func TestExecuteQuery_NilInput(t *testing.T) {
	m, _ := newTestMediator(t)
	_, err := m.ExecuteQuery(context.Background(), nil)
	assert.Error(t, err)
}

func TestQueryTyped(t *testing.T) {
	h := newMessageHandler(map[string][]string{"123": {"m1", "m2"}})
	m, _ := newTestMediator(t, WithQueryHandler(query.TypeMessageList, h))
	ctx := context.Background()

	got, err := Query[[]string](ctx, m, query.MessageList{ChatID: "123"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, got)

	_, err = Query[map[string]any](ctx, m, query.MessageList{ChatID: "123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want map[string]interface {}")
}

func TestExecuteMutation_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		handler  MutationHandlerFunc
		wantOK   bool
		wantCode mutation.ErrorCode
		wantMsg  string
	}{
		{
			name: "success",
			handler: func(context.Context, mutation.Input) (any, error) {
				return map[string]string{"id": "n1"}, nil
			},
			wantOK: true,
		},
		{
			name: "domain error",
			handler: func(context.Context, mutation.Input) (any, error) {
				return nil, fmt.Errorf("delete: %w",
					mutation.NewError(mutation.ErrCodeNodeDeleteForbidden, "viewer cannot delete"))
			},
			wantCode: mutation.ErrCodeNodeDeleteForbidden,
			wantMsg:  "viewer cannot delete",
		},
		{
			name: "plain error",
			handler: func(context.Context, mutation.Input) (any, error) {
				return nil, errors.New("disk full")
			},
			wantCode: mutation.ErrCodeUnknown,
		},
		{
			name: "panic",
			handler: func(context.Context, mutation.Input) (any, error) {
				panic("nil map")
			},
			wantCode: mutation.ErrCodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMediator(t, WithMutationHandler(mutation.TypeNodeDelete, tt.handler))

			var res mutation.Result
			require.NotPanics(t, func() {
				res = m.ExecuteMutation(context.Background(), mutation.NodeDelete{NodeID: "n1"})
			})

			assert.Equal(t, tt.wantOK, res.Success)
			if tt.wantOK {
				assert.Equal(t, map[string]string{"id": "n1"}, res.Output)
				assert.Nil(t, res.Error)
				return
			}
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.wantCode, res.Error.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, res.Error.Message)
			}
		})
	}
}

func TestExecuteMutation_NilInput(t *testing.T) {
	m, _ := newTestMediator(t)
	res := m.ExecuteMutation(context.Background(), nil)
	assert.False(t, res.Success)
	assert.Equal(t, mutation.ErrCodeInvalidInput, res.Error.Code)
}

func TestExecuteMutation_Concurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})

	m, _ := newTestMediator(t, WithMutationHandler(mutation.TypeInteractionSeen,
		MutationHandlerFunc(func(context.Context, mutation.Input) (any, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return nil, nil
		})))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := m.ExecuteMutation(context.Background(), mutation.InteractionSeen{NodeID: "n1"})
			assert.True(t, res.Success)
		}()
	}

	assert.Eventually(t, func() bool { return inFlight.Load() == 4 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(4), peak.Load())
}

func TestRegister_Validation(t *testing.T) {
	m := New(event.NewBus(), WithLogger(quietLogger()))
	h := newMessageHandler(nil)

	require.NoError(t, m.RegisterQueryHandler(query.TypeMessageList, h))
	assert.Error(t, m.RegisterQueryHandler(query.TypeMessageList, h), "duplicate")
	assert.Error(t, m.RegisterQueryHandler(query.Type("message.search"), h), "unknown kind")
	assert.Error(t, m.RegisterQueryHandler(query.TypeNodeGet, nil), "nil handler")

	noop := MutationHandlerFunc(func(context.Context, mutation.Input) (any, error) { return nil, nil })
	require.NoError(t, m.RegisterMutationHandler(mutation.TypeNodeCreate, noop))
	assert.Error(t, m.RegisterMutationHandler(mutation.TypeNodeCreate, noop))
	assert.Error(t, m.RegisterMutationHandler(mutation.Type("node.move"), noop))

	assert.Panics(t, func() {
		New(event.NewBus(), WithQueryHandler(query.Type("bogus"), h))
	})
}

func TestMissingHandlers(t *testing.T) {
	m := New(event.NewBus(),
		WithLogger(quietLogger()),
		WithQueryHandler(query.TypeNodeGet, newMessageHandler(nil)),
		WithQueryHandler(query.TypeMessageList, newMessageHandler(nil)),
		WithMutationHandler(mutation.TypeNodeCreate,
			MutationHandlerFunc(func(context.Context, mutation.Input) (any, error) { return nil, nil })),
	)

	queries, mutations := m.MissingHandlers()
	assert.Equal(t, []query.Type{
		query.TypeNodeChildrenList,
		query.TypeDocumentGet,
		query.TypeMutationFailedList,
	}, queries)
	assert.Len(t, mutations, len(mutation.Types())-1)
	assert.NotContains(t, mutations, mutation.TypeNodeCreate)
}

func TestLifecycle(t *testing.T) {
	bus := event.NewBus()
	h := newMessageHandler(map[string][]string{"123": {"m1"}})
	m := New(bus, WithLogger(quietLogger()), WithQueryHandler(query.TypeMessageList, h))
	ctx := context.Background()

	// Not started: events are not observed.
	_, err := m.ExecuteQueryAndSubscribe(ctx, "k", "w1", query.MessageList{ChatID: "123"})
	require.NoError(t, err)
	bus.Publish(messageCreated{ChatID: "123", MessageID: "m2"})
	cached, _ := m.CachedResult("k")
	assert.Equal(t, []string{"m1"}, cached)

	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), ErrAlreadyStarted)
	assert.Equal(t, 1, bus.Len())

	m.Stop()
	assert.Equal(t, 0, bus.Len(), "stop detaches from the bus")
	assert.Equal(t, 0, m.SubscriptionCount(), "stop clears subscriptions")
	m.Stop()

	require.NoError(t, m.Start(ctx), "a stopped mediator restarts")
	m.Stop()
}

func TestLifecycle_ContextCancelStops(t *testing.T) {
	bus := event.NewBus()
	m := New(bus, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return bus.Len() == 0 }, time.Second, time.Millisecond)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newMessageHandler(map[string][]string{"123": {"m1"}})
	m, bus := newTestMediator(t,
		WithMetrics(metrics.New(reg)),
		WithQueryHandler(query.TypeMessageList, h),
	)

	_, err := m.ExecuteQueryAndSubscribe(context.Background(), "k", "w1", query.MessageList{ChatID: "123"})
	require.NoError(t, err)
	bus.Publish(messageCreated{ChatID: "123", MessageID: "boom"})

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["replica_queries_total"])
	assert.True(t, names["replica_change_check_errors_total"])
	assert.True(t, names["replica_invalidation_passes_total"])
}
