package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsPublished counts events published on the in-process bus
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "events_published_total",
			Help:      "Total number of events published on the event bus",
		},
		[]string{"topic"},
	)

	// EventsDropped counts events discarded because a subscriber queue was full
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped from full subscriber queues",
		},
		[]string{"subscriber"},
	)

	// DecisionsApplied counts orchestrator decisions by outcome
	DecisionsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "decisions_applied_total",
			Help:      "Total number of decisions applied by the orchestrator",
		},
		[]string{"decision"},
	)

	// RuleInstalls counts forwarding-rule install attempts by result
	RuleInstalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "rule_installs_total",
			Help:      "Total number of switch rule install attempts",
		},
		[]string{"result"},
	)

	// TrustScore tracks the current trust score per device
	TrustScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ztcore",
			Name:      "trust_score",
			Help:      "Current trust score per device",
		},
		[]string{"device_id"},
	)

	// AlertsRaised counts anomaly and security alerts
	AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "alerts_raised_total",
			Help:      "Total number of alerts raised",
		},
		[]string{"kind", "severity"},
	)

	// HoneypotEvents counts parsed honeypot log records
	HoneypotEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "honeypot_events_total",
			Help:      "Total number of honeypot events ingested",
		},
		[]string{"kind"},
	)

	// ThreatsActive tracks the current number of live threat entries
	ThreatsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ztcore",
			Name:      "threats_active",
			Help:      "Number of currently tracked threat source IPs",
		},
	)

	// FlowSamples counts per-device samples produced by the flow poller
	FlowSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "flow_samples_total",
			Help:      "Total number of flow samples published",
		},
	)

	// AttestationFailures counts failed attestation checks by reason
	AttestationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "attestation_failures_total",
			Help:      "Total number of attestation failures",
		},
		[]string{"reason"},
	)

	// OnboardingFinalized counts profiling windows brought to completion
	OnboardingFinalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ztcore",
			Name:      "onboarding_finalized_total",
			Help:      "Total number of finalized onboarding windows",
		},
	)

	// SwitchQueueDepth tracks installs queued while the switch is away
	SwitchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ztcore",
			Name:      "switch_queue_depth",
			Help:      "Number of rule operations queued during switch disconnect",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		// Register metrics, ignoring errors if already registered
		// This prevents panics when metrics are already in the registry
		prometheus.DefaultRegisterer.Register(EventsPublished)
		prometheus.DefaultRegisterer.Register(EventsDropped)
		prometheus.DefaultRegisterer.Register(DecisionsApplied)
		prometheus.DefaultRegisterer.Register(RuleInstalls)
		prometheus.DefaultRegisterer.Register(TrustScore)
		prometheus.DefaultRegisterer.Register(AlertsRaised)
		prometheus.DefaultRegisterer.Register(HoneypotEvents)
		prometheus.DefaultRegisterer.Register(ThreatsActive)
		prometheus.DefaultRegisterer.Register(FlowSamples)
		prometheus.DefaultRegisterer.Register(AttestationFailures)
		prometheus.DefaultRegisterer.Register(OnboardingFinalized)
		prometheus.DefaultRegisterer.Register(SwitchQueueDepth)
	})
}
