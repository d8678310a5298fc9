package main

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// pendingReporter is the slice of a pool the metrics layer needs.
type pendingReporter interface {
	Pending(id int) uint64
	RegisteredConsumers() int
}

// statsReporter exposes a pool's production counters without tying the
// metrics layer to the pool's element type.
type statsReporter interface {
	Produced() uint64
	Committed() uint64
	Overwritten() uint64
}

// pipelineMetrics owns the daemon's prometheus registry. All pipeline
// code nil-checks its metrics handle so tests can run without one.
type pipelineMetrics struct {
	registry      *prometheus.Registry
	commandsTotal *prometheus.CounterVec
}

func newPipelineMetrics() *pipelineMetrics {
	m := &pipelineMetrics{registry: prometheus.NewRegistry()}
	m.commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spectrod",
		Name:      "commands_total",
		Help:      "Recording commands processed, by verb.",
	}, []string{"verb"})
	m.registry.MustRegister(m.commandsTotal)
	return m
}

func (m *pipelineMetrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *pipelineMetrics) observeCommand(verb int) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(verbName(verb)).Inc()
}

// observePool registers gauges over a pool's counters and per-consumer
// backlogs. Call after all consumers have registered so the consumer set
// is final.
func (m *pipelineMetrics) observePool(name string, stats statsReporter, pending pendingReporter) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"pool": name}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "spectrod", Name: "pool_produced_total",
			Help: "Slots reserved by the producer.", ConstLabels: labels,
		}, func() float64 { return float64(stats.Produced()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "spectrod", Name: "pool_committed_total",
			Help: "Productions committed and visible to consumers.", ConstLabels: labels,
		}, func() float64 { return float64(stats.Committed()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "spectrod", Name: "pool_overwritten_total",
			Help: "Ring laps that destroyed unread data.", ConstLabels: labels,
		}, func() float64 { return float64(stats.Overwritten()) }),
	)
	for id := 0; id < pending.RegisteredConsumers(); id++ {
		id := id
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "spectrod", Name: "pool_pending",
			Help:        "Committed productions a consumer has not claimed yet.",
			ConstLabels: prometheus.Labels{"pool": name, "consumer": strconv.Itoa(id)},
		}, func() float64 { return float64(pending.Pending(id)) }))
	}
}

// poolStats adapts a concrete pool's Stats snapshot to statsReporter.
type poolStats struct {
	snapshot func() (produced, committed, overwritten uint64)
}

func (s poolStats) Produced() uint64 {
	p, _, _ := s.snapshot()
	return p
}

func (s poolStats) Committed() uint64 {
	_, c, _ := s.snapshot()
	return c
}

func (s poolStats) Overwritten() uint64 {
	_, _, o := s.snapshot()
	return o
}
