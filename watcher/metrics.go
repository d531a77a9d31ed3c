package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatestHeadBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "watcher",
		Name:      "latest_head_block",
		Help:      "Shows the latest head block seen on the source chain of the bridge.",
	}, []string{"bridge_id", "chain_id", "address"})
	LatestSafeBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "watcher",
		Name:      "latest_safe_block",
		Help:      "Shows the latest block polled for lock events. Blocks up to it have the required number of confirmations.",
	}, []string{"bridge_id", "chain_id", "address"})
	FetchedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Subsystem: "watcher",
		Name:      "fetched_lock_events_total",
		Help:      "Number of lock events fetched from the source chain, events re-fetched after restarts are counted again.",
	}, []string{"bridge_id", "chain_id", "address"})
)
