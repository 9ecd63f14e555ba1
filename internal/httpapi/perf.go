package httpapi

import "net/http"

// handlePerfLatency reports the orchestrator's rolling step and turn latencies.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.orchestrator.Latency())
}
