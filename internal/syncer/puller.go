package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/protocol"
)

// InitialCursor is the cursor of a synchronizer that has never been pulled.
const InitialCursor = "0"

// Puller requests synchronizer items over a MessageConn and applies them.
type Puller struct {
	conn      MessageConn
	cursors   CursorStore
	applier   ItemApplier
	bus       *event.Bus
	logger    *slog.Logger
	metrics   *metrics.Metrics
	userID    string
	requestID func() string

	mu       sync.Mutex
	syncs    map[string]protocol.Synchronizer
	inflight map[string]string // request ID -> synchronizer key
	running  bool
}

// PullerOption configures a Puller.
type PullerOption func(*Puller)

// WithPullerUserID sets the user ID sent with every request.
func WithPullerUserID(id string) PullerOption {
	return func(p *Puller) {
		p.userID = id
	}
}

// WithPullerLogger sets the logger. Default: slog.Default().
func WithPullerLogger(l *slog.Logger) PullerOption {
	return func(p *Puller) {
		p.logger = l
	}
}

// WithPullerMetrics counts pulled items per synchronizer kind.
func WithPullerMetrics(m *metrics.Metrics) PullerOption {
	return func(p *Puller) {
		p.metrics = m
	}
}

// WithRequestIDs sets the request ID source. Default: random UUIDs.
func WithRequestIDs(next func() string) PullerOption {
	return func(p *Puller) {
		p.requestID = next
	}
}

// NewPuller creates a puller. Progress and notifications are published on
// bus, which may be nil.
func NewPuller(conn MessageConn, cursors CursorStore, applier ItemApplier, bus *event.Bus, opts ...PullerOption) *Puller {
	p := &Puller{
		conn:      conn,
		cursors:   cursors,
		applier:   applier,
		bus:       bus,
		logger:    slog.Default(),
		requestID: uuid.NewString,
		syncs:     make(map[string]protocol.Synchronizer),
		inflight:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a synchronizer. A running puller requests it at once.
// Registering a key twice is a no-op.
func (p *Puller) Register(ctx context.Context, s protocol.Synchronizer) error {
	p.mu.Lock()
	if _, ok := p.syncs[s.Key()]; ok {
		p.mu.Unlock()
		return nil
	}
	p.syncs[s.Key()] = s
	running := p.running
	p.mu.Unlock()

	p.logger.Debug("synchronizer registered", "key", s.Key())
	if !running {
		return nil
	}
	return p.request(ctx, s)
}

// Keys returns the registered synchronizer keys in sorted order.
func (p *Puller) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.syncs))
}

// Run requests every registered synchronizer and then handles incoming
// messages until ctx is cancelled or the connection fails.
func (p *Puller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("puller already running")
	}
	p.running = true
	syncs := make([]protocol.Synchronizer, 0, len(p.syncs))
	for _, k := range slices.Sorted(maps.Keys(p.syncs)) {
		syncs = append(syncs, p.syncs[k])
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		clear(p.inflight)
		p.mu.Unlock()
	}()

	p.logger.Info("puller starting", "synchronizers", len(syncs))
	for _, s := range syncs {
		if err := p.request(ctx, s); err != nil {
			return err
		}
	}

	for {
		msg, err := p.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("puller stopping: context cancelled")
				return ctx.Err()
			}
			if errors.Is(err, protocol.ErrUnknownMessage) {
				p.logger.Debug("ignoring unknown message", "error", err)
				continue
			}
			return fmt.Errorf("pull: receive: %w", err)
		}
		if err := p.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// request sends a synchronizer.input for s from its stored cursor.
func (p *Puller) request(ctx context.Context, s protocol.Synchronizer) error {
	cursor, err := p.cursors.GetCursor(ctx, s.Key())
	if err != nil {
		return fmt.Errorf("pull %s: load cursor: %w", s.Key(), err)
	}
	if cursor == "" {
		cursor = InitialCursor
	}

	in := protocol.SynchronizerInput{
		ID:     p.requestID(),
		UserID: p.userID,
		Input:  s,
		Cursor: cursor,
	}

	p.mu.Lock()
	p.inflight[in.ID] = s.Key()
	p.mu.Unlock()

	if err := p.conn.Send(ctx, in); err != nil {
		p.mu.Lock()
		delete(p.inflight, in.ID)
		p.mu.Unlock()
		return fmt.Errorf("pull %s: send: %w", s.Key(), err)
	}
	p.logger.Debug("synchronizer requested", "key", s.Key(), "cursor", cursor, "request_id", in.ID)
	return nil
}

func (p *Puller) handle(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.SynchronizerOutput:
		return p.handleOutput(ctx, m)
	case protocol.AccountUpdated:
		p.publish(event.AccountUpdated{AccountID: m.AccountID})
	case protocol.WorkspaceUpdated:
		p.publish(event.WorkspaceUpdated{WorkspaceID: m.WorkspaceID})
	case protocol.WorkspaceDeleted:
		p.publish(event.WorkspaceDeleted{WorkspaceID: m.WorkspaceID})
	case protocol.UserCreated:
		p.publish(event.UserCreated{UserID: m.UserID, WorkspaceID: m.WorkspaceID})
	case protocol.UserUpdated:
		p.publish(event.UserUpdated{UserID: m.UserID, WorkspaceID: m.WorkspaceID})
	default:
		p.logger.Debug("ignoring message", "type", msg.MessageType())
	}
	return nil
}

// handleOutput applies items in order, storing each cursor after its item,
// then asks for the next page.
func (p *Puller) handleOutput(ctx context.Context, out protocol.SynchronizerOutput) error {
	p.mu.Lock()
	key, ok := p.inflight[out.ID]
	delete(p.inflight, out.ID)
	s := p.syncs[key]
	p.mu.Unlock()

	if !ok || s == nil {
		p.logger.Debug("output for unknown request", "request_id", out.ID)
		return nil
	}

	for _, item := range out.Items {
		if err := p.applier.Apply(ctx, s, item); err != nil {
			return fmt.Errorf("pull %s: apply item at cursor %s: %w", key, item.Cursor, err)
		}
		if err := p.cursors.SetCursor(ctx, key, item.Cursor); err != nil {
			return fmt.Errorf("pull %s: store cursor: %w", key, err)
		}
		p.metrics.IncPulledItems(s.SynchronizerType())
		p.publish(event.SynchronizerProgress{Key: key, Cursor: item.Cursor})
	}
	if len(out.Items) > 0 {
		p.logger.Debug("synchronizer items applied", "key", key, "count", len(out.Items))
	}
	return p.request(ctx, s)
}

func (p *Puller) publish(ev event.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}
