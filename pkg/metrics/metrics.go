package metrics

import (
	"runtime"
	"time"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMessage counts a protocol message sent or received
func (r *Registry) RecordMessage(direction, msgType string) {
	r.CCMMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// RecordDrop counts a dropped protocol message
func (r *Registry) RecordDrop(reason string) {
	r.CCMDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordSendFailure counts a send that exhausted its retries
func (r *Registry) RecordSendFailure() {
	r.CCMSendFailures.Inc()
}

// RecordReset counts a membership reset
func (r *Registry) RecordReset(reason string) {
	r.CCMResetsTotal.WithLabelValues(reason).Inc()
}

// RecordRound records a settled membership round
func (r *Registry) RecordRound(kind string, duration time.Duration) {
	r.CCMRoundsTotal.WithLabelValues(kind).Inc()
	r.CCMRoundDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordEvent counts a published client event
func (r *Registry) RecordEvent(event string) {
	r.CCMEventsTotal.WithLabelValues(event).Inc()
}

// SetState marks state as the current state machine state
func (r *Registry) SetState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Reset all states
	r.CCMState.Reset()

	// Set current state
	r.CCMState.WithLabelValues(state).Set(1)
}

// UpdateMembership updates the gauges describing the settled membership
func (r *Registry) UpdateMembership(transition uint64, members int, isLeader, hasQuorum bool, at time.Time) {
	r.CCMTransition.Set(float64(transition))
	r.CCMMembers.Set(float64(members))
	r.CCMIsLeader.Set(boolGauge(isLeader))
	r.CCMHasQuorum.Set(boolGauge(hasQuorum))
	r.CCMLastReportEpoch.Set(float64(at.Unix()))
}

// RecordFrameSent records a published transport frame
func (r *Registry) RecordFrameSent(kind string, bytes int) {
	r.TransportFramesSent.WithLabelValues(kind).Inc()
	r.TransportBytesSent.WithLabelValues(kind).Add(float64(bytes))
}

// RecordFrameReceived records a received transport frame
func (r *Registry) RecordFrameReceived(kind string, bytes int) {
	r.TransportFramesReceived.WithLabelValues(kind).Inc()
	r.TransportBytesReceived.WithLabelValues(kind).Add(float64(bytes))
}

// RecordFrameDropped counts a frame discarded on receipt
func (r *Registry) RecordFrameDropped(reason string) {
	r.TransportFramesDropped.WithLabelValues(reason).Inc()
}

// SetActivePeers sets the number of live peers
func (r *Registry) SetActivePeers(n int) {
	r.TransportPeersActive.Set(float64(n))
}

// UpdateSystemMetrics refreshes process gauges
func (r *Registry) UpdateSystemMetrics(started time.Time) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.UptimeSeconds.Set(time.Since(started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
