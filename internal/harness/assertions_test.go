package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: "mutation.created", Subject: "mu1", Kind: "node.create"},
		{Seq: 2, Type: "node.created", Subject: "sp1", Kind: "space"},
		{Seq: 3, Type: "mutation.created", Subject: "mu2", Kind: "node.create"},
		{Seq: 4, Type: "node.created", Subject: "pg1", Kind: "page", Parent: "sp1"},
		{Seq: 5, Type: "mutation.failed", Subject: "mu2", Kind: "node.create", Status: 403},
	}
}

func TestAssertEventContains_Found(t *testing.T) {
	err := assertEventContains(sampleTrace(), Assertion{Event: "node.created"})
	assert.NoError(t, err)
}

func TestAssertEventContains_KindNarrows(t *testing.T) {
	assert.NoError(t, assertEventContains(sampleTrace(), Assertion{Event: "node.created", Kind: "page"}))

	err := assertEventContains(sampleTrace(), Assertion{Event: "node.created", Kind: "chat"})
	require.Error(t, err)

	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertEventContains, aerr.Type)
	assert.Equal(t, "node.created of kind chat", aerr.Expected)
	assert.Equal(t, "not found in trace", aerr.Actual)
}

func TestAssertEventOrder_Correct(t *testing.T) {
	err := assertEventOrder(sampleTrace(), Assertion{
		Events: []string{"mutation.created", "node.created", "mutation.failed"},
	})
	assert.NoError(t, err)
}

func TestAssertEventOrder_WrongOrder(t *testing.T) {
	err := assertEventOrder(sampleTrace(), Assertion{
		Events: []string{"mutation.failed", "node.created"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutation.failed (seq 5) should be before node.created (seq 2)")
}

func TestAssertEventOrder_MissingEvent(t *testing.T) {
	err := assertEventOrder(sampleTrace(), Assertion{
		Events: []string{"node.created", "node.deleted"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: node.deleted")
}

func TestAssertEventCount(t *testing.T) {
	tests := []struct {
		name    string
		a       Assertion
		wantErr bool
	}{
		{"exact", Assertion{Event: "node.created", Count: 2}, false},
		{"with kind", Assertion{Event: "node.created", Kind: "page", Count: 1}, false},
		{"too few", Assertion{Event: "node.created", Count: 3}, true},
		{"too many", Assertion{Event: "mutation.created", Count: 1}, true},
		{"zero", Assertion{Event: "node.deleted", Count: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertEventCount(sampleTrace(), tt.a)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatchSubset(t *testing.T) {
	actual := map[string]any{
		"id":   "pg1",
		"type": "page",
		"attributes": map[string]any{
			"title": "Roadmap",
			"icon":  "rocket",
		},
		"tags":  []any{"a", "b"},
		"count": float64(2),
	}

	tests := []struct {
		name     string
		expected any
		want     bool
	}{
		{"empty map", map[string]any{}, true},
		{"top level key", map[string]any{"type": "page"}, true},
		{"nested subset", map[string]any{"attributes": map[string]any{"title": "Roadmap"}}, true},
		{"nested mismatch", map[string]any{"attributes": map[string]any{"title": "Other"}}, false},
		{"missing key", map[string]any{"parentId": "sp1"}, false},
		{"slice equal", map[string]any{"tags": []any{"a", "b"}}, true},
		{"slice length differs", map[string]any{"tags": []any{"a"}}, false},
		{"number", map[string]any{"count": float64(2)}, true},
		{"type mismatch", map[string]any{"count": "2"}, false},
		{"map against scalar", map[string]any{"type": map[string]any{"x": 1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubset(actual, tt.expected))
		})
	}
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertEventContains, Event: "mutation.failed"},
		{Type: AssertEventOrder, Events: []string{"node.created", "mutation.failed"}},
		{Type: AssertEventCount, Event: "mutation.created", Count: 2},
	}, nil)
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertEventContains, Event: "mutation.failed"},
		{Type: AssertEventContains, Event: "node.deleted"},
		{Type: AssertEventCount, Event: "node.created", Count: 9},
	}, nil)
	assert.Len(t, errs, 2)
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(&Result{}, []Assertion{{Type: "bogus"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "bogus"`)
}

func TestEvaluateAssertions_ReplicaAssertionsNeedContext(t *testing.T) {
	errs := EvaluateAssertions(&Result{}, []Assertion{
		{Type: AssertOutboxCount, Count: 0},
		{Type: AssertNodeState, Node: "pg1", Deleted: true},
	}, &AssertionContext{Ctx: context.Background()})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "outbox_count requires a store")
	assert.Contains(t, errs[1], "node_state requires a mediator")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventCount,
		Expected: "2 occurrences of node.created",
		Actual:   "1 occurrences",
		Trace:    sampleTrace()[:2],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: event_count")
	assert.Contains(t, msg, "Expected: 2 occurrences of node.created")
	assert.Contains(t, msg, "Actual: 1 occurrences")
	assert.Contains(t, msg, "[1] mutation.created node.create mu1")
	assert.Contains(t, msg, "[2] node.created space sp1")
}

func TestAssertionError_NoTrace(t *testing.T) {
	err := &AssertionError{Type: AssertOutboxCount, Expected: "1", Actual: "0"}
	assert.NotContains(t, err.Error(), "Full trace")
}
