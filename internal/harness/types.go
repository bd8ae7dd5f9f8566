package harness

import "github.com/roach88/replica/internal/event"

// TraceEvent is one bus event as recorded by the harness.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`

	// Subject is the node, mutation or user ID, or a synchronizer key.
	Subject string `json:"subject,omitempty"`

	// Kind is the node type or mutation type.
	Kind string `json:"kind,omitempty"`

	Parent string `json:"parent,omitempty"`
	Status int    `json:"status,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

// traceEventOf flattens ev into a TraceEvent.
func traceEventOf(seq int, ev event.Event) TraceEvent {
	te := TraceEvent{Seq: seq, Type: ev.EventType()}
	switch e := ev.(type) {
	case event.NodeCreated:
		te.Subject, te.Kind, te.Parent = e.Node.ID, e.Node.Type, e.Node.ParentID
	case event.NodeUpdated:
		te.Subject, te.Kind, te.Parent = e.Node.ID, e.Node.Type, e.Node.ParentID
	case event.NodeDeleted:
		te.Subject, te.Kind, te.Parent = e.Node.ID, e.Node.Type, e.Node.ParentID
	case event.MutationCreated:
		te.Subject, te.Kind = e.MutationID, e.Type
	case event.MutationFailed:
		te.Subject, te.Kind, te.Status = e.MutationID, e.Type, e.Status
	case event.SynchronizerProgress:
		te.Subject, te.Cursor = e.Key, e.Cursor
	case event.QueryResultUpdated:
		te.Subject = e.Key
	case event.UserCreated:
		te.Subject, te.Parent = e.UserID, e.WorkspaceID
	case event.UserUpdated:
		te.Subject, te.Parent = e.UserID, e.WorkspaceID
	}
	return te
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every published event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Vars maps saved names to IDs.
	Vars map[string]string `json:"vars,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Vars:   make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
