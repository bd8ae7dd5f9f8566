package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/replica/internal/crdt"
	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/handlers"
	"github.com/roach88/replica/internal/mediator"
	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/protocol"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/store"
	"github.com/roach88/replica/internal/syncer"
	"github.com/roach88/replica/internal/testutil"
)

// Replica IDs stamped on scenario writes.
const (
	LocalReplica  = "harness"
	ServerReplica = "server"
)

// ErrCodeTransport is the push step error code when Fail is set.
const ErrCodeTransport = "transport"

var errScriptedTransport = errors.New("scripted transport failure")

// Harness is the execution context of one scenario run.
type Harness struct {
	store    *store.Store
	bus      *event.Bus
	handlers *handlers.Handlers
	mediator *mediator.Mediator
	clock    *testutil.DeterministicClock
	logger   *slog.Logger

	mu     sync.Mutex
	result *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a stepping clock
// and a seeded ID generator.
//
// Execution flow:
// 1. Open the replica and register every handler
// 2. Record bus events into the trace
// 3. Execute steps, checking each expect clause
// 4. Evaluate assertions against the trace and the replica
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	seed := scenario.Seed
	if seed == 0 {
		seed = 1
	}
	clock := testutil.NewDeterministicClock(time.Millisecond)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := event.NewBus()
	defer bus.Close()

	hs := handlers.New(st, bus,
		handlers.WithIDGenerator(testutil.NewSteppingIDGenerator(seed, time.Millisecond)),
		handlers.WithClock(clock.Now),
		handlers.WithReplicaID(LocalReplica),
		handlers.WithUserID(scenario.UserID),
		handlers.WithLogger(logger),
	)
	m := mediator.New(bus, mediator.WithLogger(logger))
	if err := hs.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start mediator: %w", err)
	}
	defer m.Stop()

	h := &Harness{
		store:    st,
		bus:      bus,
		handlers: hs,
		mediator: m,
		clock:    clock,
		logger:   logger,
		result:   NewResult(),
	}
	unsubscribe := bus.Subscribe(h.record)
	defer unsubscribe()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Store:    st,
		Mediator: m,
		Vars:     h.result.Vars,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) record(ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, traceEventOf(len(h.result.Trace)+1, ev))
}

// outcome is what a step produced, in JSON form.
type outcome struct {
	code   string // error code, empty on success
	output any
}

// executeStep runs one step. Failed expectations are added to the result;
// the returned error aborts the run.
func (h *Harness) executeStep(ctx context.Context, i int, step Step) error {
	var (
		label string
		out   outcome
		err   error
	)
	switch {
	case step.Mutate != "":
		label = step.Mutate
		out, err = h.mutate(ctx, step)
	case step.Query != "":
		label = step.Query
		out, err = h.query(ctx, step)
	case step.Push != nil:
		label = "push"
		out, err = h.push(ctx, step.Push)
	case step.Pull != nil:
		label = "pull " + step.Pull.Synchronizer
		out, err = h.pull(ctx, step.Pull)
	}
	if err != nil {
		return err
	}

	h.logger.Info("step completed", "step", i, "action", label, "code", out.code)
	h.check(i, label, step.Expect, out)

	if step.Save != "" && out.code == "" {
		id, _ := lookup(out.output, "id").(string)
		if id == "" {
			h.result.AddError(fmt.Sprintf("steps[%d] %s: save %q: output has no id", i, label, step.Save))
			return nil
		}
		h.result.Vars[step.Save] = id
	}
	return nil
}

func (h *Harness) check(i int, label string, want *Expect, got outcome) {
	if want == nil {
		want = &Expect{}
	}
	if got.code != want.Error {
		h.result.AddError(fmt.Sprintf("steps[%d] %s: expected error %q, got %q", i, label, want.Error, got.code))
		return
	}
	if want.Output != nil && !matchSubset(got.output, jsonValue(h.resolve(want.Output))) {
		h.result.AddError(fmt.Sprintf("steps[%d] %s: output %v does not contain %v", i, label, got.output, want.Output))
	}
	if want.Count != nil {
		list, ok := got.output.([]any)
		if !ok || len(list) != *want.Count {
			h.result.AddError(fmt.Sprintf("steps[%d] %s: expected %d results, got %v", i, label, *want.Count, got.output))
		}
	}
}

func (h *Harness) mutate(ctx context.Context, step Step) (outcome, error) {
	t := mutation.Type(step.Mutate)
	data, err := json.Marshal(h.resolve(step.Input))
	if err != nil {
		return outcome{}, err
	}
	input, err := mutation.DecodeInput(t, data)
	if err != nil {
		return outcome{code: string(mutation.ErrCodeInvalidInput)}, nil
	}
	if input, err = withAttributes(input, step.Attributes, step.Texts); err != nil {
		return outcome{}, err
	}

	res := h.mediator.ExecuteMutation(ctx, input)
	if !res.Success {
		return outcome{code: string(res.Error.Code)}, nil
	}
	return outcome{output: jsonValue(res.Output)}, nil
}

func withAttributes(input mutation.Input, strs, texts map[string]string) (mutation.Input, error) {
	if len(strs) == 0 && len(texts) == 0 {
		return input, nil
	}
	attrs := make(map[string]crdt.FieldValue, len(strs)+len(texts))
	for k, v := range strs {
		attrs[k] = crdt.String(v)
	}
	for k, v := range texts {
		attrs[k] = crdt.NewTextFrom(LocalReplica, v)
	}

	switch in := input.(type) {
	case mutation.NodeCreate:
		in.Attributes = attrs
		return in, nil
	case mutation.NodeUpdate:
		in.Attributes = attrs
		return in, nil
	default:
		return nil, fmt.Errorf("%s does not take attributes", input.MutationType())
	}
}

func (h *Harness) query(ctx context.Context, step Step) (outcome, error) {
	t := query.Type(step.Query)
	data, err := json.Marshal(h.resolve(step.Input))
	if err != nil {
		return outcome{}, err
	}
	input, err := query.DecodeInput(t, data)
	if err != nil {
		return outcome{code: string(query.CodeOf(err))}, nil
	}

	result, err := h.mediator.ExecuteQuery(ctx, input)
	if err != nil {
		return outcome{code: string(query.CodeOf(err))}, nil
	}
	return outcome{output: jsonValue(result)}, nil
}

// scriptedServer answers pushes from a PushStep.
type scriptedServer struct {
	step *PushStep
}

func (s scriptedServer) SendMutations(_ context.Context, in protocol.SyncMutationsInput) (protocol.SyncMutationsOutput, error) {
	if s.step.Fail {
		return protocol.SyncMutationsOutput{}, errScriptedTransport
	}
	out := protocol.SyncMutationsOutput{Results: make([]protocol.MutationResult, len(in.Mutations))}
	for i, m := range in.Mutations {
		status, ok := s.step.Statuses[string(m.Type)]
		if !ok {
			status = s.step.Status
		}
		if status == 0 {
			status = int(protocol.StatusOK)
		}
		out.Results[i] = protocol.MutationResult{ID: m.ID, Status: protocol.Status(status)}
	}
	return out, nil
}

func (h *Harness) push(ctx context.Context, step *PushStep) (outcome, error) {
	pusher := syncer.NewPusher(h.store, scriptedServer{step: step}, h.bus,
		syncer.WithBatchSize(1000),
		syncer.WithPusherLogger(h.logger),
		syncer.WithPusherClock(h.clock.Now),
	)
	report, err := pusher.Push(ctx)
	out := outcome{output: jsonValue(map[string]int{
		"sent":     report.Sent,
		"retired":  len(report.Retired),
		"rejected": len(report.Rejected),
		"retried":  len(report.Retried),
	})}
	switch {
	case errors.Is(err, errScriptedTransport):
		out.code = ErrCodeTransport
	case err != nil:
		return outcome{}, err
	}
	return out, nil
}

func (h *Harness) pull(ctx context.Context, step *PullStep) (outcome, error) {
	key := step.Synchronizer
	if kind, id, ok := strings.Cut(key, ":"); ok {
		key = kind + ":" + h.resolveString(id)
	}
	target, err := protocol.ParseKey(key)
	if err != nil {
		return outcome{}, err
	}
	for i, item := range step.Items {
		rn := handlers.RemoteNode{
			ID:       h.resolveString(item.ID),
			Type:     item.Type,
			ParentID: h.resolveString(item.ParentID),
			RootID:   h.resolveString(item.RootID),
			Index:    item.Index,
			Deleted:  item.Deleted,
		}
		if len(item.Attributes) > 0 {
			rn.Attributes = make(crdt.Fields, len(item.Attributes))
			for k, v := range item.Attributes {
				rn.Attributes[k] = crdt.NewRegister(crdt.String(v), item.Ts, ServerReplica)
			}
		}
		data, err := json.Marshal(rn)
		if err != nil {
			return outcome{}, err
		}
		cursor := strconv.Itoa(i + 1)
		if err := h.handlers.Apply(ctx, target, protocol.OutputItem{Cursor: cursor, Data: data}); err != nil {
			return outcome{}, fmt.Errorf("apply item %d: %w", i, err)
		}
	}
	return outcome{}, nil
}

// resolve replaces "$name" strings in v with saved IDs.
func (h *Harness) resolve(v any) any {
	return resolveValue(h.result.Vars, v)
}

func (h *Harness) resolveString(s string) string {
	return resolveVar(h.result.Vars, s)
}

func resolveValue(vars map[string]string, v any) any {
	switch x := v.(type) {
	case string:
		return resolveVar(vars, x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = resolveValue(vars, e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = resolveValue(vars, e)
		}
		return out
	default:
		return v
	}
}

func resolveVar(vars map[string]string, s string) string {
	if len(s) > 1 && s[0] == '$' {
		if id, ok := vars[s[1:]]; ok {
			return id
		}
	}
	return s
}

// jsonValue returns v as decoded JSON: maps, slices, float64, strings.
func jsonValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func lookup(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}
