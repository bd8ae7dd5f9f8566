package event

// Event is anything published on a Bus. The set of kinds is open: listeners
// switch on the concrete type or EventType and ignore what they do not know.
type Event interface {
	EventType() string
}

// Built-in event kinds.
const (
	TypeNodeCreated          = "node.created"
	TypeNodeUpdated          = "node.updated"
	TypeNodeDeleted          = "node.deleted"
	TypeMutationCreated      = "mutation.created"
	TypeMutationFailed       = "mutation.failed"
	TypeSynchronizerProgress = "synchronizer.progress"
	TypeQueryResultUpdated   = "query.result.updated"
	TypeAccountUpdated       = "account.updated"
	TypeWorkspaceUpdated     = "workspace.updated"
	TypeWorkspaceDeleted     = "workspace.deleted"
	TypeUserCreated          = "user.created"
	TypeUserUpdated          = "user.updated"
)

// NodeRef locates a node in the tree without carrying its attributes.
// Listeners that need the new state read it from the replica.
type NodeRef struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	RootID   string `json:"rootId,omitempty"`
	Type     string `json:"type"`
}

// NodeCreated is published after a node is written to the replica.
type NodeCreated struct {
	Node NodeRef
}

// NodeUpdated is published after a node's attributes change.
type NodeUpdated struct {
	Node NodeRef
}

// NodeDeleted is published after a node is removed from the replica.
type NodeDeleted struct {
	Node NodeRef
}

// MutationCreated is published when a mutation enters the outbox.
type MutationCreated struct {
	MutationID string
	Type       string
}

// MutationFailed is published when the server rejects a mutation.
type MutationFailed struct {
	MutationID string
	Type       string
	Status     int
}

// SynchronizerProgress is published after a pulled item is applied and its
// cursor stored.
type SynchronizerProgress struct {
	Key    string
	Cursor string
}

// QueryResultUpdated carries a subscription's new result.
type QueryResultUpdated struct {
	Key    string
	Result any
}

// AccountUpdated mirrors the server notification of the same name.
type AccountUpdated struct {
	AccountID string
}

// WorkspaceUpdated mirrors the server notification of the same name.
type WorkspaceUpdated struct {
	WorkspaceID string
}

// WorkspaceDeleted mirrors the server notification of the same name.
type WorkspaceDeleted struct {
	WorkspaceID string
}

// UserCreated mirrors the server notification of the same name.
type UserCreated struct {
	UserID      string
	WorkspaceID string
}

// UserUpdated mirrors the server notification of the same name.
type UserUpdated struct {
	UserID      string
	WorkspaceID string
}

func (NodeCreated) EventType() string          { return TypeNodeCreated }
func (NodeUpdated) EventType() string          { return TypeNodeUpdated }
func (NodeDeleted) EventType() string          { return TypeNodeDeleted }
func (MutationCreated) EventType() string      { return TypeMutationCreated }
func (MutationFailed) EventType() string       { return TypeMutationFailed }
func (SynchronizerProgress) EventType() string { return TypeSynchronizerProgress }
func (QueryResultUpdated) EventType() string   { return TypeQueryResultUpdated }
func (AccountUpdated) EventType() string       { return TypeAccountUpdated }
func (WorkspaceUpdated) EventType() string     { return TypeWorkspaceUpdated }
func (WorkspaceDeleted) EventType() string     { return TypeWorkspaceDeleted }
func (UserCreated) EventType() string          { return TypeUserCreated }
func (UserUpdated) EventType() string          { return TypeUserUpdated }
