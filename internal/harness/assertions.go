package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/replica/internal/mediator"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", ev.Seq, ev.Type, ev.Kind, ev.Subject)
		}
	}

	return buf.String()
}

// assertEventContains checks that an event of the given type, and kind when
// set, was published.
func assertEventContains(trace []TraceEvent, assertion Assertion) error {
	for _, ev := range trace {
		if ev.Type == assertion.Event && (assertion.Kind == "" || ev.Kind == assertion.Kind) {
			return nil
		}
	}

	want := assertion.Event
	if assertion.Kind != "" {
		want += " of kind " + assertion.Kind
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: want,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that the first occurrence of each event type
// appears in the listed order. Other events may come between them.
func assertEventOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for _, ev := range trace {
		if _, seen := positions[ev.Type]; !seen {
			positions[ev.Type] = ev.Seq
		}
	}

	for _, typ := range assertion.Events {
		if _, ok := positions[typ]; !ok {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", typ),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev, curr := assertion.Events[i-1], assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (seq %d) should be before %s (seq %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertEventCount checks that an event type was published exactly Count
// times.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == assertion.Event && (assertion.Kind == "" || ev.Kind == assertion.Kind) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertOutboxCount checks the number of mutations still waiting to be
// pushed.
func assertOutboxCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	n, err := st.CountPendingMutations(ctx)
	if err != nil {
		return fmt.Errorf("count outbox: %w", err)
	}
	if n != assertion.Count {
		return &AssertionError{
			Type:     AssertOutboxCount,
			Expected: fmt.Sprintf("%d pending mutations", assertion.Count),
			Actual:   fmt.Sprintf("%d pending mutations", n),
		}
	}
	return nil
}

// assertNodeState reads the node through the node.get query and matches its
// JSON view against Expect, subset semantics.
func assertNodeState(ctx context.Context, m *mediator.Mediator, vars map[string]string, assertion Assertion) error {
	id := resolveVar(vars, assertion.Node)
	result, err := m.ExecuteQuery(ctx, query.NodeGet{NodeID: id})

	if assertion.Deleted {
		if query.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get node %s: %w", id, err)
		}
		return &AssertionError{
			Type:     AssertNodeState,
			Expected: fmt.Sprintf("node %s deleted", assertion.Node),
			Actual:   "node exists",
		}
	}

	if query.IsNotFound(err) {
		return &AssertionError{
			Type:     AssertNodeState,
			Expected: fmt.Sprintf("node %s", assertion.Node),
			Actual:   "node not found",
		}
	}
	if err != nil {
		return fmt.Errorf("get node %s: %w", id, err)
	}

	actual := jsonValue(result)
	expected := jsonValue(resolveValue(vars, assertion.Expect))
	if !matchSubset(actual, expected) {
		return &AssertionError{
			Type:     AssertNodeState,
			Expected: fmt.Sprintf("node %s containing %v", assertion.Node, expected),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

// matchSubset reports whether actual contains expected. Maps match when
// every expected key matches; slices match element-wise with equal length.
// Both sides are decoded JSON.
func matchSubset(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, exists := act[k]
			if !exists || !matchSubset(av, v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchSubset(act[i], exp[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(actual, expected)
	}
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx      context.Context
	Store    *store.Store
	Mediator *mediator.Mediator

	// Vars resolves $name references in node_state assertions.
	Vars map[string]string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides replica access for outbox_count and
// node_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventContains:
			err = assertEventContains(result.Trace, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertOutboxCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: outbox_count requires a store", i)
			} else {
				err = assertOutboxCount(actx.Ctx, actx.Store, assertion)
			}
		case AssertNodeState:
			if actx == nil || actx.Mediator == nil {
				err = fmt.Errorf("assertion[%d]: node_state requires a mediator", i)
			} else {
				err = assertNodeState(actx.Ctx, actx.Mediator, actx.Vars, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
