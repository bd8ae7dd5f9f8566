// Package metrics holds the Prometheus collectors for dispatch, subscription
// invalidation and synchronization.
//
// Collectors are registered on an explicit registry so tests and multiple
// sessions in one process do not collide. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "replica"

// Metrics is the set of collectors for one session.
type Metrics struct {
	queries          *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	subscriptions    prometheus.Gauge
	passes           prometheus.Counter
	passEvents       prometheus.Counter
	resultUpdates    prometheus.Counter
	checkErrors      *prometheus.CounterVec
	pushBatches      prometheus.Counter
	pushResults      *prometheus.CounterVec
	pushErrors       prometheus.Counter
	outboxDepth      prometheus.Gauge
	pulledItems      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
// Panics if reg already holds collectors with the same names.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries dispatched, by query type and outcome.",
		}, []string{"type", "outcome"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Mutations dispatched, by mutation type and result code.",
		}, []string{"type", "code"}),
		dispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Handler execution time, by query or mutation type.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.25, 1},
		}, []string{"type"}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Live query subscriptions.",
		}),
		passes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_passes_total",
			Help:      "Subscription invalidation passes run.",
		}),
		passEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidation_events_total",
			Help:      "Events drained by invalidation passes.",
		}),
		resultUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_result_updates_total",
			Help:      "query.result.updated events published.",
		}),
		checkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_check_errors_total",
			Help:      "Change checks that failed, by query type.",
		}, []string{"type"}),
		pushBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_batches_total",
			Help:      "Mutation batches sent to the server.",
		}),
		pushResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_results_total",
			Help:      "Per-mutation push results, by status and outcome.",
		}, []string{"status", "outcome"}),
		pushErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_errors_total",
			Help:      "Push batches that failed in transport.",
		}),
		outboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_depth",
			Help:      "Mutations waiting in the outbox.",
		}),
		pulledItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulled_items_total",
			Help:      "Synchronizer items applied, by synchronizer kind.",
		}, []string{"synchronizer"}),
	}
}

// ObserveQuery records one query dispatch.
func (m *Metrics) ObserveQuery(queryType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(queryType, outcome).Inc()
	m.dispatchDuration.WithLabelValues(queryType).Observe(elapsed.Seconds())
}

// ObserveMutation records one mutation dispatch. code is "ok" on success.
func (m *Metrics) ObserveMutation(mutationType, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(mutationType, code).Inc()
	m.dispatchDuration.WithLabelValues(mutationType).Observe(elapsed.Seconds())
}

// SetSubscriptions records the live subscription count.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// ObservePass records an invalidation pass over events drained events.
func (m *Metrics) ObservePass(events int) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.passEvents.Add(float64(events))
}

// IncResultUpdates counts one published result update.
func (m *Metrics) IncResultUpdates() {
	if m == nil {
		return
	}
	m.resultUpdates.Inc()
}

// IncCheckErrors counts one failed change check.
func (m *Metrics) IncCheckErrors(queryType string) {
	if m == nil {
		return
	}
	m.checkErrors.WithLabelValues(queryType).Inc()
}

// IncPushBatches counts one batch sent.
func (m *Metrics) IncPushBatches() {
	if m == nil {
		return
	}
	m.pushBatches.Inc()
}

// ObservePushResult counts one per-mutation result.
func (m *Metrics) ObservePushResult(status, outcome string) {
	if m == nil {
		return
	}
	m.pushResults.WithLabelValues(status, outcome).Inc()
}

// IncPushErrors counts one failed batch request.
func (m *Metrics) IncPushErrors() {
	if m == nil {
		return
	}
	m.pushErrors.Inc()
}

// SetOutboxDepth records the pending mutation count.
func (m *Metrics) SetOutboxDepth(n int) {
	if m == nil {
		return
	}
	m.outboxDepth.Set(float64(n))
}

// IncPulledItems counts one applied synchronizer item.
func (m *Metrics) IncPulledItems(synchronizer string) {
	if m == nil {
		return
	}
	m.pulledItems.WithLabelValues(synchronizer).Inc()
}
