package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"can-channel-server/internal/can"
	"can-channel-server/internal/models"
)

const (
	minDuration     = 1
	maxDuration     = 300
	defaultDuration = 30
)

// handleMonitoringStart launches a background capture session.
func (s *Server) handleMonitoringStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.MonitorStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	channel, err := s.validateChannel(req.Channel)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	duration := req.Duration
	if duration == 0 {
		duration = defaultDuration
	}
	if duration < minDuration || duration > maxDuration {
		respondWithError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid duration %d. Must be %d-%d seconds", duration, minDuration, maxDuration))
		return
	}

	if err := s.registry.Start(channel, duration); err != nil {
		if errors.Is(err, can.ErrAlreadyActive) {
			respondWithError(w, http.StatusBadRequest, "Monitoring is already active")
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, models.StatusResponse{
		Status:  "success",
		Message: fmt.Sprintf("Started monitoring channel %d for %d seconds", channel, duration),
	})
}

// handleMonitoringStop cancels the running capture session. It always
// succeeds, reporting whether a session was actually active.
func (s *Server) handleMonitoringStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.registry.Stop() {
		respondWithJSON(w, http.StatusOK, models.StatusResponse{
			Status:  "success",
			Message: "Monitoring stopped",
		})
		return
	}
	respondWithJSON(w, http.StatusOK, models.StatusResponse{
		Status:  "info",
		Message: "Monitoring was not active",
	})
}

// handleMonitoringMessages returns the buffered captured messages, oldest
// first, without draining the buffer.
func (s *Server) handleMonitoringMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	messages := s.registry.Messages()
	respondWithJSON(w, http.StatusOK, models.MessagesResponse{
		Status:        "success",
		TotalMessages: len(messages),
		Messages:      messages,
	})
}

// handleMonitoringStatus returns the capture registry snapshot.
func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := s.registry.Status()
	respondWithJSON(w, http.StatusOK, models.MonitoringStatusResponse{
		Status:            "success",
		MonitoringActive:  status.Active,
		StoredMessages:    status.StoredCount,
		MaxStoredMessages: status.Capacity,
	})
}
