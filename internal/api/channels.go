package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"can-channel-server/internal/can"
	"can-channel-server/internal/models"
)

// handleChannels lists every available CAN channel.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	channels, err := s.directory.List()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, models.ChannelsResponse{
		Status:        "success",
		TotalChannels: len(channels),
		Channels:      channels,
	})
}

// handleChannel returns information about one channel by index.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/channels/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Channel id must be an integer")
		return
	}

	info, err := s.directory.Get(id)
	if err != nil {
		if errors.Is(err, can.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, info)
}
