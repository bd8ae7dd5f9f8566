package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/replica/internal/event"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/mutation"
	"github.com/roach88/replica/internal/protocol"
)

// DefaultBatchSize is the number of mutations sent per push.
const DefaultBatchSize = 50

// PushReport summarises one or more push batches.
type PushReport struct {
	Sent     int
	Retired  []string
	Rejected []string
	Retried  []string
}

// Settled reports whether nothing from the batch is waiting for a retry.
func (r PushReport) Settled() bool {
	return len(r.Retried) == 0
}

func (r *PushReport) add(o PushReport) {
	r.Sent += o.Sent
	r.Retired = append(r.Retired, o.Retired...)
	r.Rejected = append(r.Rejected, o.Rejected...)
	r.Retried = append(r.Retried, o.Retried...)
}

// Pusher sends outbox mutations to the server and reconciles the results.
type Pusher struct {
	outbox     Outbox
	sender     MutationSender
	bus        *event.Bus
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	batchSize  int
	newBackOff func() backoff.BackOff
	wake       chan struct{}
}

// PusherOption configures a Pusher.
type PusherOption func(*Pusher)

// WithBatchSize sets the number of mutations per push. Values below one
// are ignored.
func WithBatchSize(n int) PusherOption {
	return func(p *Pusher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithBackOff sets the retry policy used by Run. newBackOff is called once
// per Run. A policy that returns backoff.Stop makes Run give up.
func WithBackOff(newBackOff func() backoff.BackOff) PusherOption {
	return func(p *Pusher) {
		p.newBackOff = newBackOff
	}
}

// WithPusherLogger sets the logger. Default: slog.Default().
func WithPusherLogger(l *slog.Logger) PusherOption {
	return func(p *Pusher) {
		p.logger = l
	}
}

// WithPusherMetrics records push outcomes and outbox depth.
func WithPusherMetrics(m *metrics.Metrics) PusherOption {
	return func(p *Pusher) {
		p.metrics = m
	}
}

// WithPusherClock sets the clock used to stamp failures.
func WithPusherClock(now func() time.Time) PusherOption {
	return func(p *Pusher) {
		p.now = now
	}
}

// NewPusher creates a pusher draining outbox through sender. Rejections
// are published on bus, which may be nil.
func NewPusher(outbox Outbox, sender MutationSender, bus *event.Bus, opts ...PusherOption) *Pusher {
	p := &Pusher{
		outbox:     outbox,
		sender:     sender,
		bus:        bus,
		logger:     slog.Default(),
		now:        time.Now,
		batchSize:  DefaultBatchSize,
		newBackOff: DefaultBackOff,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultBackOff retries forever, starting at half a second and capping
// at one minute between attempts.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Notify wakes Run. It never blocks.
func (p *Pusher) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Push sends one batch of pending mutations. A transport error leaves the
// whole batch queued with its attempt count bumped and is returned along
// with a report listing the batch as retried.
func (p *Pusher) Push(ctx context.Context) (PushReport, error) {
	pending, err := p.outbox.ListPendingMutations(ctx, p.batchSize)
	if err != nil {
		return PushReport{}, fmt.Errorf("push: list outbox: %w", err)
	}
	if len(pending) == 0 {
		p.metrics.SetOutboxDepth(0)
		return PushReport{}, nil
	}

	batch := make([]mutation.Mutation, len(pending))
	ids := make([]string, len(pending))
	for i, pm := range pending {
		batch[i] = pm.Mutation
		ids[i] = pm.ID
	}

	p.metrics.IncPushBatches()
	p.logger.Debug("pushing mutations", "count", len(batch))

	out, err := p.sender.SendMutations(ctx, protocol.SyncMutationsInput{Mutations: batch})
	if err != nil {
		p.metrics.IncPushErrors()
		report := PushReport{Sent: len(batch), Retried: ids}
		if ierr := p.outbox.IncrementAttempts(ctx, ids...); ierr != nil {
			return report, errors.Join(fmt.Errorf("push: send: %w", err), fmt.Errorf("push: bump attempts: %w", ierr))
		}
		return report, fmt.Errorf("push: send: %w", err)
	}

	report, err := p.reconcile(ctx, batch, out.Results)
	p.refreshDepth(ctx)
	return report, err
}

// reconcile applies results to the outbox. A mutation the server did not
// answer for is retried.
func (p *Pusher) reconcile(ctx context.Context, batch []mutation.Mutation, results []protocol.MutationResult) (PushReport, error) {
	status := make(map[string]protocol.Status, len(results))
	for _, r := range results {
		status[r.ID] = r.Status
	}

	report := PushReport{Sent: len(batch)}
	for _, m := range batch {
		s, ok := status[m.ID]
		if !ok {
			p.logger.Warn("no result for pushed mutation", "mutation_id", m.ID, "type", m.Type)
			p.metrics.ObservePushResult("missing", protocol.OutcomeRetry.String())
			report.Retried = append(report.Retried, m.ID)
			continue
		}
		delete(status, m.ID)

		outcome := protocol.Classify(s)
		p.metrics.ObservePushResult(s.String(), outcome.String())
		switch outcome {
		case protocol.OutcomeRetire:
			report.Retired = append(report.Retired, m.ID)
		case protocol.OutcomeReject:
			if err := p.outbox.RejectMutation(ctx, m, int(s), p.now()); err != nil {
				return report, fmt.Errorf("push: reject %s: %w", m.ID, err)
			}
			report.Rejected = append(report.Rejected, m.ID)
			p.logger.Warn("mutation rejected",
				"mutation_id", m.ID,
				"type", m.Type,
				"status", s,
			)
			if p.bus != nil {
				p.bus.Publish(event.MutationFailed{MutationID: m.ID, Type: string(m.Type), Status: int(s)})
			}
		default:
			report.Retried = append(report.Retried, m.ID)
		}
	}
	for id := range status {
		p.logger.Warn("result for unknown mutation", "mutation_id", id)
	}

	if len(report.Retired) > 0 {
		if _, err := p.outbox.DeleteMutations(ctx, report.Retired...); err != nil {
			return report, fmt.Errorf("push: retire: %w", err)
		}
	}
	if len(report.Retried) > 0 {
		if err := p.outbox.IncrementAttempts(ctx, report.Retried...); err != nil {
			return report, fmt.Errorf("push: bump attempts: %w", err)
		}
	}

	p.logger.Info("push reconciled",
		"sent", report.Sent,
		"retired", len(report.Retired),
		"rejected", len(report.Rejected),
		"retried", len(report.Retried),
	)
	return report, nil
}

func (p *Pusher) refreshDepth(ctx context.Context) {
	n, err := p.outbox.CountPendingMutations(ctx)
	if err != nil {
		p.logger.Warn("count outbox failed", "error", err)
		return
	}
	p.metrics.SetOutboxDepth(n)
}

// drain pushes batches until the outbox is empty or a batch leaves
// something to retry.
func (p *Pusher) drain(ctx context.Context) (PushReport, error) {
	var total PushReport
	for {
		r, err := p.Push(ctx)
		total.add(r)
		if err != nil || r.Sent < p.batchSize || !r.Settled() {
			return total, err
		}
	}
}

// Run pushes until ctx is cancelled. New outbox entries are picked up on
// Notify or on event.MutationCreated when the pusher has a bus. While
// mutations wait for a retry, wake-ups are ignored and Run sleeps for the
// back-off interval instead.
func (p *Pusher) Run(ctx context.Context) error {
	if p.bus != nil {
		unsubscribe := p.bus.Subscribe(func(ev event.Event) {
			if _, ok := ev.(event.MutationCreated); ok {
				p.Notify()
			}
		})
		defer unsubscribe()
	}

	b := p.newBackOff()
	p.logger.Info("pusher starting", "batch_size", p.batchSize)

	for {
		report, err := p.drain(ctx)
		if ctx.Err() != nil {
			p.logger.Info("pusher stopping: context cancelled")
			return ctx.Err()
		}

		wake := p.wake
		var timer *time.Timer
		var retry <-chan time.Time
		if err != nil || !report.Settled() {
			delay := b.NextBackOff()
			if delay == backoff.Stop {
				p.logger.Error("pusher giving up", "error", err, "retried", len(report.Retried))
				if err == nil {
					err = errors.New("mutations still pending")
				}
				return fmt.Errorf("pusher gave up: %w", err)
			}
			p.logger.Warn("push incomplete, backing off",
				"delay", delay,
				"retried", len(report.Retried),
				"error", err,
			)
			timer = time.NewTimer(delay)
			retry = timer.C
			wake = nil
		} else {
			b.Reset()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			p.logger.Info("pusher stopping: context cancelled")
			return ctx.Err()
		case <-wake:
		case <-retry:
		}
	}
}
