// Package metrics exposes Prometheus collectors for the assistant service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service collectors. A nil *Metrics is valid and records
// nothing, so wiring stays optional in tests.
type Metrics struct {
	turnsTotal     *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	roundDuration  prometheus.Histogram
}

// New registers the collectors with reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "tool_executions_total",
			Help:      "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assistant",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assistant",
			Name:      "round_duration_seconds",
			Help:      "Single LLM round latency including tool execution.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveToolExecution records one tool invocation outcome.
func (m *Metrics) ObserveToolExecution(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
}

// ObserveRound records one LLM round's latency.
func (m *Metrics) ObserveRound(d time.Duration) {
	if m == nil {
		return
	}
	m.roundDuration.Observe(d.Seconds())
}
