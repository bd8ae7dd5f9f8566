package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/idgen"
	"github.com/roach88/replica/internal/testutil"
)

func TestRunWithGolden_PageLifecycle(t *testing.T) {
	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_PageLifecycle -update
	result, err := RunWithGolden(t, loadTestScenario(t, "page_lifecycle"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestNewTraceSnapshot_Aliases(t *testing.T) {
	gen := testutil.NewIDGenerator(42)
	space := gen.Generate(idgen.TypeSpace)
	page := gen.Generate(idgen.TypePage)
	mu1 := gen.Generate(idgen.TypeMutation)
	mu2 := gen.Generate(idgen.TypeMutation)

	result := &Result{
		Vars: map[string]string{"page": page},
		Trace: []TraceEvent{
			{Seq: 1, Type: "mutation.created", Subject: mu1, Kind: "node.create"},
			{Seq: 2, Type: "node.created", Subject: space, Kind: "space"},
			{Seq: 3, Type: "mutation.created", Subject: mu2, Kind: "node.create"},
			{Seq: 4, Type: "node.created", Subject: page, Kind: "page", Parent: space},
			{Seq: 5, Type: "mutation.failed", Subject: mu1, Kind: "node.create", Status: 409},
			{Seq: 6, Type: "synchronizer.progress", Subject: "users", Cursor: "12"},
		},
	}

	snap := NewTraceSnapshot("aliases", result)
	require.Len(t, snap.Trace, 6)
	assert.Equal(t, "$mu1", snap.Trace[0].Subject)
	assert.Equal(t, "$sp1", snap.Trace[1].Subject)
	assert.Equal(t, "$mu2", snap.Trace[2].Subject)
	assert.Equal(t, "$page", snap.Trace[3].Subject)
	assert.Equal(t, "$sp1", snap.Trace[3].Parent)
	assert.Equal(t, "$mu1", snap.Trace[4].Subject)
	assert.Equal(t, "users", snap.Trace[5].Subject)
	assert.Equal(t, "12", snap.Trace[5].Cursor)

	// The result itself is untouched.
	assert.Equal(t, mu1, result.Trace[0].Subject)
}

func TestTraceSnapshot_Marshal(t *testing.T) {
	snap := TraceSnapshot{
		Scenario: "tiny",
		Trace: []TraceEvent{
			{Seq: 1, Type: "node.created", Subject: "$sp1", Kind: "space"},
		},
	}

	data, err := snap.Marshal()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"tiny","trace":[{"kind":"space","seq":1,"subject":"$sp1","type":"node.created"}]}`+"\n",
		string(data))
}

func TestTraceSnapshot_Deterministic(t *testing.T) {
	scenario := loadTestScenario(t, "remote_merge")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := NewTraceSnapshot(scenario.Name, first).Marshal()
	require.NoError(t, err)
	b, err := NewTraceSnapshot(scenario.Name, second).Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario := loadTestScenario(t, "page_lifecycle")
	result, err := Run(scenario)
	require.NoError(t, err)

	require.NoError(t, AssertGolden(t, scenario.Name, result))
}
