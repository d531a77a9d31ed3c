package relayer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckpointBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "pipeline",
		Name:      "checkpoint_block",
		Help:      "Shows the last source block for which all lock events reached a terminal status.",
	}, []string{"bridge_id", "chain_id", "address"})
	SyncedPipeline = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "pipeline",
		Name:      "synced",
		Help:      "Shows 1 if the last poll reached the source chain safe height.",
	}, []string{"bridge_id", "chain_id", "address"})
	PausedPipeline = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "pipeline",
		Name:      "paused",
		Help:      "Shows 1 if the bridge pipeline is paused and requires operator intervention.",
	}, []string{"bridge_id"})
	PipelineRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Subsystem: "pipeline",
		Name:      "restarts_total",
		Help:      "Counts bridge pipeline restarts after recoverable errors.",
	}, []string{"bridge_id"})
	PendingEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "pipeline",
		Name:      "pending_events",
		Help:      "Shows the number of lock events left in a non-terminal status by the last iteration.",
	}, []string{"bridge_id"})
	ProcessedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Subsystem: "pipeline",
		Name:      "processed_events_total",
		Help:      "Counts lock events moved to a terminal status by this process.",
	}, []string{"bridge_id", "destination_chain_id", "status"})
	UnlockLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relayer",
		Subsystem: "pipeline",
		Name:      "unlock_latency_seconds",
		Help:      "Time from first observing a lock event to confirming its unlock.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"bridge_id", "destination_chain_id"})
)
