// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SimulatorTicks counts decay ticks applied to the state vector.
	SimulatorTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "core_simulator_ticks_total",
		Help: "Decay ticks applied to the state vector",
	})

	// StimuliApplied counts stimulus events by outcome (applied, rejected).
	StimuliApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_stimuli_total",
		Help: "Stimulus events by outcome",
	}, []string{"outcome"})

	// ResonanceIndex is the most recent resonance index per session.
	ResonanceIndex = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "core_resonance_index",
		Help: "Most recent resonance index",
	}, []string{"session"})

	// RetrievalStreamFailures counts stream errors and timeouts by stream.
	RetrievalStreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_retrieval_stream_failures_total",
		Help: "Retrieval stream failures by stream",
	}, []string{"stream"})

	// RetrievalDuration tracks full retrieval latency.
	RetrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "core_retrieval_duration_seconds",
		Help:    "Retrieval duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	// Proposals counts memory proposals by kind and result.
	Proposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_memory_proposals_total",
		Help: "Memory proposals by kind and result",
	}, []string{"kind", "result"})

	// ConflictsOpened counts conflict records created by domain.
	ConflictsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_memory_conflicts_total",
		Help: "Conflict records opened by domain",
	}, []string{"domain"})

	// TierTransitions counts promotions and demotions by from/to tier.
	TierTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_memory_tier_transitions_total",
		Help: "Tier transitions by source and target tier",
	}, []string{"from", "to"})

	// AuditDropped counts audit records dropped because the sink was full.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "core_audit_dropped_total",
		Help: "Audit records dropped on a full buffer",
	})

	// Turns counts synchronized turns by outcome (ok, degraded).
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_turns_total",
		Help: "Synchronized turns by outcome",
	}, []string{"outcome"})
)
