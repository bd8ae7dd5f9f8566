package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against a fresh replica.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Seed fixes the ID generator. Zero uses 1.
	Seed int64 `yaml:"seed,omitempty"`

	// UserID is the session user stamped on reactions and interactions.
	UserID string `yaml:"user_id,omitempty"`

	// Steps run in order. A failed expectation is recorded and the run
	// continues.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and replica.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one action. Exactly one of Mutate, Query, Push or Pull is set.
type Step struct {
	// Mutate names a mutation type to execute with Input.
	Mutate string `yaml:"mutate,omitempty"`

	// Query names a query type to execute with Input.
	Query string `yaml:"query,omitempty"`

	// Push settles the outbox against a scripted server.
	Push *PushStep `yaml:"push,omitempty"`

	// Pull applies items as if a synchronizer had delivered them.
	Pull *PullStep `yaml:"pull,omitempty"`

	// Input is the JSON form of the mutation or query input.
	Input map[string]any `yaml:"input,omitempty"`

	// Attributes and Texts set string and collaborative text attributes
	// on node.create and node.update.
	Attributes map[string]string `yaml:"attributes,omitempty"`
	Texts      map[string]string `yaml:"texts,omitempty"`

	// Save binds the id of the step output to $name.
	Save string `yaml:"save,omitempty"`

	// Expect checks the step outcome. Nil expects success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// PushStep scripts the server's verdicts for one push.
type PushStep struct {
	// Status answers every mutation not listed in Statuses. Zero means 200.
	Status int `yaml:"status,omitempty"`

	// Statuses answers by mutation type.
	Statuses map[string]int `yaml:"statuses,omitempty"`

	// Fail makes the transport fail instead of answering.
	Fail bool `yaml:"fail,omitempty"`
}

// PullStep delivers items for one synchronizer.
type PullStep struct {
	Synchronizer string     `yaml:"synchronizer"`
	Items        []PullItem `yaml:"items"`
}

// PullItem is a server node state. String attributes are stamped with Ts
// by the server replica.
type PullItem struct {
	ID         string            `yaml:"id"`
	Type       string            `yaml:"type,omitempty"`
	ParentID   string            `yaml:"parentId,omitempty"`
	RootID     string            `yaml:"rootId,omitempty"`
	Index      string            `yaml:"index,omitempty"`
	Ts         int64             `yaml:"ts,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
	Deleted    bool              `yaml:"deleted,omitempty"`
}

// Expect describes a step outcome.
type Expect struct {
	// Error is the expected error code. Empty expects success.
	Error string `yaml:"error,omitempty"`

	// Output is matched against the JSON form of the result, subset
	// semantics.
	Output map[string]any `yaml:"output,omitempty"`

	// Count is the expected length of a list result.
	Count *int `yaml:"count,omitempty"`
}

// Assertion validates the trace or the final replica.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is the event type (event_contains, event_count).
	Event string `yaml:"event,omitempty"`

	// Kind narrows event_contains to a node or mutation type.
	Kind string `yaml:"kind,omitempty"`

	// Events is the expected order (event_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number (event_count, outbox_count).
	Count int `yaml:"count,omitempty"`

	// Node is the node ID or $name (node_state).
	Node string `yaml:"node,omitempty"`

	// Expect is matched against the node view (node_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Deleted asserts the node no longer exists (node_state).
	Deleted bool `yaml:"deleted,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertOutboxCount   = "outbox_count"
	AssertNodeState     = "node_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	actions := 0
	for _, set := range []bool{step.Mutate != "", step.Query != "", step.Push != nil, step.Pull != nil} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of mutate, query, push, pull is required", index)
	}
	if (len(step.Attributes) > 0 || len(step.Texts) > 0) && step.Mutate == "" {
		return fmt.Errorf("steps[%d]: attributes and texts only apply to mutate", index)
	}
	if step.Pull != nil {
		if step.Pull.Synchronizer == "" {
			return fmt.Errorf("steps[%d].pull: synchronizer is required", index)
		}
		for j, item := range step.Pull.Items {
			if item.ID == "" {
				return fmt.Errorf("steps[%d].pull.items[%d]: id is required", index, j)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_contains", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertOutboxCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for outbox_count", index)
		}
	case AssertNodeState:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for node_state", index)
		}
		if !a.Deleted && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or deleted is required for node_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
