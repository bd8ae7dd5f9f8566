package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/replica/internal/canonical"
	"github.com/roach88/replica/internal/idgen"
)

// TraceSnapshot captures the trace of a scenario run with IDs replaced by
// stable aliases, so the golden file survives changes to ID generation.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
}

// NewTraceSnapshot aliases every ID in trace. Saved IDs become $name; other
// IDs become $<tag><n>, numbered per tag in order of first appearance.
// Strings that are not IDs are kept.
func NewTraceSnapshot(name string, result *Result) TraceSnapshot {
	aliases := make(map[string]string, len(result.Vars))
	for v, id := range result.Vars {
		aliases[id] = "$" + v
	}
	counts := make(map[idgen.Type]int)

	alias := func(s string) string {
		if s == "" {
			return s
		}
		if a, ok := aliases[s]; ok {
			return a
		}
		_, tag, err := idgen.Parse(s)
		if err != nil {
			return s
		}
		counts[tag]++
		a := fmt.Sprintf("$%s%d", tag, counts[tag])
		aliases[s] = a
		return a
	}

	trace := make([]TraceEvent, len(result.Trace))
	for i, ev := range result.Trace {
		ev.Subject = alias(ev.Subject)
		ev.Parent = alias(ev.Parent)
		trace[i] = ev
	}
	return TraceSnapshot{Scenario: name, Trace: trace}
}

// Marshal renders the snapshot as canonical JSON with a trailing newline.
func (s TraceSnapshot) Marshal() ([]byte, error) {
	data, err := canonical.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := NewTraceSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
