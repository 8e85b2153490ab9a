package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PacketsCaptured counts total ARP frames received by the capture engine
	PacketsCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safelink",
			Name:      "packets_captured_total",
			Help:      "Total number of ARP frames captured",
		},
		[]string{"interface"},
	)

	// PacketsProcessed counts frames fully processed by the detection pipeline
	PacketsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safelink",
			Name:      "packets_processed_total",
			Help:      "Total number of frames processed by the pipeline",
		},
		[]string{"interface"},
	)

	// PacketsDropped counts frames dropped due to full queues or errors
	PacketsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safelink",
			Name:      "packets_dropped_total",
			Help:      "Total number of frames dropped",
		},
		[]string{"interface", "reason"},
	)

	// AlertsRaised counts alerts emitted per detection module
	AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safelink",
			Name:      "alerts_raised_total",
			Help:      "Total number of alerts raised",
		},
		[]string{"module"},
	)

	// WorkerQueueDepth tracks the number of frames waiting per worker lane
	WorkerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "safelink",
			Name:      "worker_queue_depth",
			Help:      "Frames currently queued per worker lane",
		},
		[]string{"worker"},
	)

	// HubEventsPublished counts events fanned out to live-feed subscribers
	HubEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safelink",
			Name:      "hub_events_published_total",
			Help:      "Total number of events published to subscribers",
		},
		[]string{"type"},
	)

	// HubEventsDropped counts events dropped because a subscriber queue was full
	HubEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "safelink",
			Name:      "hub_events_dropped_total",
			Help:      "Total number of events dropped for slow subscribers",
		},
	)

	// TrainingCycles counts continuous-learning cycles by outcome
	TrainingCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "safelink",
			Name:      "training_cycles_total",
			Help:      "Total number of training cycles by outcome",
		},
		[]string{"outcome"},
	)

	// ThreatHits counts threat-intel indicator matches
	ThreatHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "safelink",
			Name:      "threat_hits_total",
			Help:      "Total number of threat indicator matches",
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
		prometheus.DefaultRegisterer.Register(PacketsCaptured)
		prometheus.DefaultRegisterer.Register(PacketsProcessed)
		prometheus.DefaultRegisterer.Register(PacketsDropped)
		prometheus.DefaultRegisterer.Register(AlertsRaised)
		prometheus.DefaultRegisterer.Register(WorkerQueueDepth)
		prometheus.DefaultRegisterer.Register(HubEventsPublished)
		prometheus.DefaultRegisterer.Register(HubEventsDropped)
		prometheus.DefaultRegisterer.Register(TrainingCycles)
		prometheus.DefaultRegisterer.Register(ThreatHits)
	})
}
