// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fg-go/internal/fg"
)

// TargetLister is the read side of the engine the target gauge is computed from.
type TargetLister interface {
	GetAllTargets() []*fg.FreezeTarget
}

// Metrics records operation outcomes and observes engine events. It implements
// both fg.Recorder and prometheus.Collector.
type Metrics struct {
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	changesTotal     prometheus.Counter
	watcherErrors    prometheus.Counter
	snapshotsCreated prometheus.Counter
	snapshotBytes    prometheus.Histogram
	targetsDesc      *prometheus.Desc
	targets          TargetLister
}

var _ fg.Recorder = (*Metrics)(nil)

// New returns a Metrics instance. targets may be nil until the engine exists; see SetTargets.
func New(targets TargetLister) *Metrics {
	return &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fg_operations_total",
				Help: "Total number of engine operations by kind and result",
			},
			[]string{"operation", "result"},
		),
		operationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fg_operation_duration_seconds",
				Help:    "Latency of engine operations",
				Buckets: prometheus.ExponentialBucketsRange(0.001, 3600, 20),
			},
			[]string{"operation"},
		),
		changesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fg_target_changes_total",
			Help: "Number of filesystem changes observed on watched targets",
		}),
		watcherErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fg_watcher_errors_total",
			Help: "Number of watches that failed and stopped tracking changes",
		}),
		snapshotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fg_snapshots_created_total",
			Help: "Number of snapshots created",
		}),
		snapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fg_snapshot_size_bytes",
			Help:    "Size of the source tree captured by each snapshot",
			Buckets: prometheus.ExponentialBucketsRange(1024, 1<<40, 24),
		}),
		targetsDesc: prometheus.NewDesc(
			"fg_targets",
			"Number of registered targets by status",
			[]string{"status"}, nil,
		),
		targets: targets,
	}
}

// SetTargets sets the source of the fg_targets gauge.
func (m *Metrics) SetTargets(targets TargetLister) {
	m.targets = targets
}

// ObserveOperation implements fg.Recorder. The result label is "ok" or the error kind.
func (m *Metrics) ObserveOperation(kind fg.OperationKind, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = fg.KindOf(err)
	}
	m.operationsTotal.WithLabelValues(string(kind), result).Inc()
	m.operationLatency.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// Observe subscribes to the bus and returns the unsubscribe function.
func (m *Metrics) Observe(bus *fg.EventBus) func() {
	return bus.SubscribeAll(func(ev fg.Event) {
		switch ev := ev.(type) {
		case fg.TargetChanged:
			m.changesTotal.Add(float64(len(ev.Changes)))
		case fg.WatcherError:
			m.watcherErrors.Inc()
		case fg.TargetFrozen:
			m.snapshotsCreated.Inc()
			if ev.Snapshot != nil {
				m.snapshotBytes.Observe(float64(ev.Snapshot.SizeBytes))
			}
		}
	})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, descs)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(metrics chan<- prometheus.Metric) {
	m.operationsTotal.Collect(metrics)
	m.operationLatency.Collect(metrics)
	m.changesTotal.Collect(metrics)
	m.watcherErrors.Collect(metrics)
	m.snapshotsCreated.Collect(metrics)
	m.snapshotBytes.Collect(metrics)

	counts := map[fg.Status]int{
		fg.StatusActive:    0,
		fg.StatusFreezing:  0,
		fg.StatusFrozen:    0,
		fg.StatusRestoring: 0,
		fg.StatusError:     0,
	}
	if m.targets != nil {
		for _, t := range m.targets.GetAllTargets() {
			counts[t.Status]++
		}
	}
	for status, n := range counts {
		metrics <- prometheus.MustNewConstMetric(m.targetsDesc, prometheus.GaugeValue, float64(n), string(status))
	}
}

// Registry returns a registry holding m plus the Go runtime and process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
