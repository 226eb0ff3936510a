package health

import (
	"encoding/json"
	"net/http"
)

// HTTPHandler serves the aggregate health. Degraded still answers 200.
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, hc.Check(), true)
	}
}

// ReadinessHandler returns an HTTP handler for readiness checks
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, hc.CheckReadiness(), false)
	}
}

// LivenessHandler returns an HTTP handler for liveness checks
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, hc.CheckLiveness(), false)
	}
}

func writeResponse(w http.ResponseWriter, response Response, degradedOK bool) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	code := http.StatusServiceUnavailable
	if response.Status == StatusHealthy || (degradedOK && response.Status == StatusDegraded) {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}
