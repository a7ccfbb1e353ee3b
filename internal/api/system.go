package api

import (
	"net/http"
	"time"

	"can-channel-server/internal/can"
	"can-channel-server/internal/models"
)

// handleRoot returns API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondWithError(w, http.StatusNotFound, "Not found")
		return
	}

	info := map[string]any{
		"name":    "CAN Channel Backend API",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"health": "/health",
			"channels": map[string]string{
				"list": "/channels",
				"get":  "/channels/{id}",
			},
			"messages": map[string]string{
				"send": "POST /messages/send (body: {channel, can_id, dlc, data? | byte0..byte7, bitrate?})",
			},
			"monitoring": map[string]string{
				"start":    "POST /monitoring/start (body: {channel, duration})",
				"stop":     "POST /monitoring/stop",
				"messages": "/monitoring/messages",
				"status":   "/monitoring/status",
			},
			"troubleshoot": "/troubleshoot",
		},
	}

	respondWithJSON(w, http.StatusOK, info)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Service:   "CAN Channel Server",
		Version:   serviceVersion,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleTroubleshoot runs diagnostics on every channel and reports bus
// status plus troubleshooting guidance.
func (s *Server) handleTroubleshoot(w http.ResponseWriter, r *http.Request) {
	report, err := can.RunDiagnostics(s.drv)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, models.StatusResponse{
		Status:  report.Status,
		Message: report.Message,
	})
}
