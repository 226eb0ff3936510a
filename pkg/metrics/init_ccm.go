package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCCMMetrics() {
	r.CCMState = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ccm_state",
			Help: "Membership state machine state (1 for the current state, 0 otherwise)",
		},
		[]string{"state"},
	)

	r.CCMTransition = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ccm_transition",
			Help: "Major transition number of the current membership",
		},
	)

	r.CCMMembers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ccm_members",
			Help: "Number of nodes in the current membership",
		},
	)

	r.CCMIsLeader = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ccm_is_leader",
			Help: "Whether this node leads the current membership (1=yes, 0=no)",
		},
	)

	r.CCMHasQuorum = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ccm_has_quorum",
			Help: "Whether the current membership has quorum (1=yes, 0=no)",
		},
	)

	r.CCMMessagesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_messages_total",
			Help: "Total number of protocol messages",
		},
		[]string{"direction", "type"}, // sent, received
	)

	r.CCMDroppedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_messages_dropped_total",
			Help: "Total number of protocol messages dropped",
		},
		[]string{"reason"}, // malformed, stale, unknown, unexpected, protocol
	)

	r.CCMSendFailures = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ccm_send_failures_total",
			Help: "Total number of sends that failed after all retries",
		},
	)

	r.CCMResetsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_resets_total",
			Help: "Total number of membership resets",
		},
		[]string{"reason"},
	)

	r.CCMRoundsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_rounds_total",
			Help: "Total number of completed membership rounds",
		},
		[]string{"kind"}, // alone, full, incremental
	)

	r.CCMRoundDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccm_round_duration_seconds",
			Help:    "Time from leaving JOINED to settling a new membership",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"kind"},
	)

	r.CCMEventsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_events_total",
			Help: "Total number of client events published",
		},
		[]string{"event"}, // NEW_MEMBERSHIP, INFLUX, EVICTED
	)

	r.CCMLastReportEpoch = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ccm_last_report_timestamp_seconds",
			Help: "Unix time of the last membership report",
		},
	)
}
