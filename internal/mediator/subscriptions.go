package mediator

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/replica/internal/canonical"
	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/query"
)

// subscription is one cached query result.
//
// INVARIANT: a subscription is in the table iff len(subscribers) > 0.
type subscription struct {
	key         string
	input       query.Input
	result      any
	subscribers map[string]struct{}
}

// ExecuteQueryAndSubscribe returns the result cached under key, adding
// subscriberID to its subscribers. When key is new, the query runs and its
// result is cached with subscriberID as the only subscriber.
//
// An existing key returns its cached result without running the handler,
// even if input differs from the input the key was created with.
// Subscribing twice with the same ID is a no-op.
func (m *Mediator) ExecuteQueryAndSubscribe(ctx context.Context, key, subscriberID string, input query.Input) (any, error) {
	if result, ok := m.addSubscriber(key, subscriberID); ok {
		return result, nil
	}

	for {
		m.mu.Lock()
		seq := m.passSeq
		m.mu.Unlock()

		result, err := m.ExecuteQuery(ctx, input)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		// Another caller may have created the key while the handler ran.
		// The first stored result wins.
		if sub, ok := m.subs[key]; ok {
			sub.subscribers[subscriberID] = struct{}{}
			m.mu.Unlock()
			return sub.result, nil
		}
		// A pass that started while the handler ran did not see this key,
		// so result may already be stale.
		if m.passSeq != seq {
			m.mu.Unlock()
			m.logger.Debug("pass ran during subscribe, re-running query", "key", key)
			continue
		}

		m.subs[key] = &subscription{
			key:         key,
			input:       input,
			result:      result,
			subscribers: map[string]struct{}{subscriberID: {}},
		}
		m.metrics.SetSubscriptions(len(m.subs))
		m.mu.Unlock()

		m.logger.Debug("subscription created",
			"key", key,
			"type", input.QueryType(),
			"subscriber", subscriberID,
		)
		return result, nil
	}
}

func (m *Mediator) addSubscriber(key, subscriberID string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[key]
	if !ok {
		return nil, false
	}
	sub.subscribers[subscriberID] = struct{}{}
	return sub.result, true
}

// UnsubscribeQuery removes subscriberID from key and deletes the
// subscription once no subscribers remain. Unknown keys are ignored.
func (m *Mediator) UnsubscribeQuery(key, subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[key]
	if !ok {
		return
	}
	delete(sub.subscribers, subscriberID)
	if len(sub.subscribers) == 0 {
		delete(m.subs, key)
		m.metrics.SetSubscriptions(len(m.subs))
		m.logger.Debug("subscription removed", "key", key)
	}
}

// ClearSubscriptions drops every subscription.
func (m *Mediator) ClearSubscriptions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.subs)
	m.metrics.SetSubscriptions(0)
}

// Subscribers returns the sorted subscriber IDs of key, or nil when the key
// has no subscription.
func (m *Mediator) Subscribers(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[key]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(sub.subscribers))
}

// CachedResult returns the result cached under key.
func (m *Mediator) CachedResult(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[key]
	if !ok {
		return nil, false
	}
	return sub.result, true
}

// SubscriptionCount returns the number of live subscriptions.
func (m *Mediator) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// onEvent is the bus subscriber.
func (m *Mediator) onEvent(ev event.Event) {
	// Our own announcements must not trigger another pass.
	if ev.EventType() == event.TypeQueryResultUpdated {
		return
	}
	m.queue.Enqueue(ev)
	m.drain()
}

// drain runs passes until the queue is empty. If a pass is already running,
// the caller returns at once and the running drain picks up its event.
func (m *Mediator) drain() {
	m.passMu.Lock()
	if m.running {
		m.passMu.Unlock()
		return
	}
	m.running = true
	m.passMu.Unlock()

	for {
		events := m.queue.DrainAll()
		if len(events) == 0 {
			m.passMu.Lock()
			// Re-check under passMu: an event enqueued before this point
			// saw running == true and relies on us to process it.
			if m.queue.Len() == 0 {
				m.running = false
				m.passMu.Unlock()
				return
			}
			m.passMu.Unlock()
			continue
		}
		m.runPass(events)
	}
}

// pending is a subscription as seen at the start of a pass.
type pending struct {
	sub    *subscription
	input  query.Input
	result any
}

// snapshot also advances passSeq, so subscribers racing this pass retry.
func (m *Mediator) snapshot() []pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.passSeq++

	keys := slices.Sorted(maps.Keys(m.subs))
	out := make([]pending, 0, len(keys))
	for _, k := range keys {
		sub := m.subs[k]
		out = append(out, pending{sub: sub, input: sub.input, result: sub.result})
	}
	return out
}

// runPass re-evaluates every subscription against events, in key order.
func (m *Mediator) runPass(events []event.Event) {
	ctx := m.passContext()
	m.metrics.ObservePass(len(events))

	for _, p := range m.snapshot() {
		h, ok := m.queryHandler(p.input.QueryType())
		if !ok {
			continue
		}
		checker, ok := h.(ChangeChecker)
		if !ok {
			continue
		}

		result, changed, cerr := m.evaluate(ctx, checker, p, events)
		if cerr != nil {
			m.reportCheckError(p, cerr)
			continue
		}
		if !changed || canonical.Equal(result, p.result) {
			continue
		}

		if !m.storeResult(p.sub, result) {
			continue
		}
		m.metrics.IncResultUpdates()
		m.logger.Debug("query result updated",
			"key", p.sub.key,
			"type", p.input.QueryType(),
		)
		m.bus.Publish(event.QueryResultUpdated{Key: p.sub.key, Result: result})
	}
}

// checkError carries the event whose check failed.
type checkError struct {
	ev  event.Event
	err error
}

func (e *checkError) Error() string {
	return fmt.Sprintf("check %s: %v", e.ev.EventType(), e.err)
}

func (e *checkError) Unwrap() error { return e.err }

// evaluate threads the cached result through every event. The first
// failing check abandons the subscription for this pass.
func (m *Mediator) evaluate(ctx context.Context, checker ChangeChecker, p pending, events []event.Event) (any, bool, *checkError) {
	result := p.result
	changed := false
	for _, ev := range events {
		cr, err := m.check(ctx, checker, ev, p.input, result)
		if err != nil {
			return nil, false, &checkError{ev: ev, err: err}
		}
		if cr.HasChanges {
			result = cr.Result
			changed = true
		}
	}
	return result, changed, nil
}

func (m *Mediator) check(ctx context.Context, checker ChangeChecker, ev event.Event, input query.Input, result any) (cr ChangeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			cr, err = Unchanged, fmt.Errorf("panic: %v", r)
		}
	}()
	return checker.CheckForChanges(ctx, ev, input, result)
}

// storeResult replaces the cached result if sub is still the live
// subscription for its key.
func (m *Mediator) storeResult(sub *subscription, result any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.subs[sub.key]; !ok || cur != sub {
		return false
	}
	sub.result = result
	return true
}

func (m *Mediator) reportCheckError(p pending, ce *checkError) {
	m.metrics.IncCheckErrors(string(p.input.QueryType()))
	m.logger.Error("change check failed",
		"key", p.sub.key,
		"type", p.input.QueryType(),
		"event", ce.ev.EventType(),
		"error", ce.err,
	)
	if m.onCheckError != nil {
		m.onCheckError(p.sub.key, ce.ev, ce.err)
	}
}
