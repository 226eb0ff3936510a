package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics (admin API)
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Membership Metrics
	CCMState           *prometheus.GaugeVec
	CCMTransition      prometheus.Gauge
	CCMMembers         prometheus.Gauge
	CCMIsLeader        prometheus.Gauge
	CCMHasQuorum       prometheus.Gauge
	CCMMessagesTotal   *prometheus.CounterVec
	CCMDroppedTotal    *prometheus.CounterVec
	CCMSendFailures    prometheus.Counter
	CCMResetsTotal     *prometheus.CounterVec
	CCMRoundsTotal     *prometheus.CounterVec
	CCMRoundDuration   *prometheus.HistogramVec
	CCMEventsTotal     *prometheus.CounterVec
	CCMLastReportEpoch prometheus.Gauge

	// Transport Metrics
	TransportFramesSent     *prometheus.CounterVec
	TransportFramesReceived *prometheus.CounterVec
	TransportBytesSent      *prometheus.CounterVec
	TransportBytesReceived  *prometheus.CounterVec
	TransportFramesDropped  *prometheus.CounterVec
	TransportPeersActive    prometheus.Gauge

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initHTTPMetrics()
	r.initCCMMetrics()
	r.initTransportMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
