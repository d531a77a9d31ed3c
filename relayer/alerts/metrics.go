package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NewAlertFailedUnlock = func(bridge string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "alert",
			Subsystem:   "relayer",
			Name:        "failed_unlock",
			Help:        "Shows lock events which unlock has failed permanently, valued with the failure age in seconds.",
			ConstLabels: prometheus.Labels{"bridge_id": bridge},
		}, []string{"chain_id", "block_number", "tx_hash", "log_index", "destination_chain_id"})
	}
	NewAlertStuckUnlock = func(bridge string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "alert",
			Subsystem:   "relayer",
			Name:        "stuck_unlock",
			Help:        "Shows lock events which unlock is in flight for longer than the configured threshold, valued with the age in seconds.",
			ConstLabels: prometheus.Labels{"bridge_id": bridge},
		}, []string{"chain_id", "block_number", "tx_hash", "log_index", "status", "unlock_tx_hash"})
	}
	NewAlertPendingEvents = func(bridge string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "alert",
			Subsystem:   "relayer",
			Name:        "pending_events",
			Help:        "Shows the number of lock events in each non-terminal status.",
			ConstLabels: prometheus.Labels{"bridge_id": bridge},
		}, []string{"status"})
	}
)
