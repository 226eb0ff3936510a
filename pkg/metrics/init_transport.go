package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.TransportFramesSent = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_transport_frames_sent_total",
			Help: "Total number of frames published",
		},
		[]string{"kind"}, // message, beacon
	)

	r.TransportFramesReceived = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_transport_frames_received_total",
			Help: "Total number of frames received",
		},
		[]string{"kind"},
	)

	r.TransportBytesSent = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_transport_bytes_sent_total",
			Help: "Total encoded bytes published",
		},
		[]string{"kind"},
	)

	r.TransportBytesReceived = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_transport_bytes_received_total",
			Help: "Total encoded bytes received",
		},
		[]string{"kind"},
	)

	r.TransportFramesDropped = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccm_transport_frames_dropped_total",
			Help: "Total number of frames dropped on receipt",
		},
		[]string{"reason"},
	)

	r.TransportPeersActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ccm_transport_peers_active",
			Help: "Number of peers currently considered alive",
		},
	)
}
