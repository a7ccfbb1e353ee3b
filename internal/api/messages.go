package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"can-channel-server/internal/can"
	"can-channel-server/internal/models"
)

const (
	maxChannel = 3
	maxCANID   = 2047
	maxDLC     = 8
)

// handleSendMessage validates and transmits one CAN frame. Every field is
// checked before any hardware interaction; validation failures have no side
// effects.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	channel, err := s.validateChannel(req.Channel)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.CANID == nil {
		respondWithError(w, http.StatusBadRequest, "can_id is required")
		return
	}
	canID := *req.CANID
	if canID < 0 || canID > maxCANID {
		respondWithError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid CAN ID %d. Must be 0-%d", canID, maxCANID))
		return
	}

	if req.DLC < 0 || req.DLC > maxDLC {
		respondWithError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid DLC %d. Must be 0-%d", req.DLC, maxDLC))
		return
	}

	data, err := resolveData(req)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	bitrate := s.defaultBitrate
	if req.Bitrate != nil {
		bitrate = *req.Bitrate
	}

	frame := models.Frame{
		ID:    uint32(canID),
		DLC:   uint8(req.DLC),
		Data:  models.FrameData(data, uint8(req.DLC)),
		Flags: models.FlagStandard,
	}

	log.Printf("Sending CAN message with ID=%d, DLC=%d, data=%v", canID, req.DLC, frame.Data[:req.DLC])

	message, err := can.SendFrame(s.drv, channel, frame, bitrate)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, models.StatusResponse{
		Status:  "success",
		Message: message,
	})
}

// validateChannel checks presence, declared bounds and the actual channel
// count reported by the driver.
func (s *Server) validateChannel(channel *int) (int, error) {
	if channel == nil {
		return 0, fmt.Errorf("channel is required")
	}
	ch := *channel
	if ch < 0 || ch > maxChannel {
		return 0, fmt.Errorf("Invalid channel %d. Must be 0-%d", ch, maxChannel)
	}
	count, err := s.directory.Count()
	if err != nil {
		return 0, err
	}
	if ch >= count {
		return 0, fmt.Errorf("Invalid channel %d. Available channels: 0-%d", ch, count-1)
	}
	return ch, nil
}

// resolveData picks the payload source: the data array when it carries at
// least dlc entries, otherwise the individual byte fields. Padding and
// truncation to dlc happen when the frame is built.
func resolveData(req models.SendMessageRequest) ([]byte, error) {
	if req.Data != nil {
		if len(req.Data) > maxDLC {
			return nil, fmt.Errorf("Data array too long: %d entries. Must be at most %d", len(req.Data), maxDLC)
		}
		if len(req.Data) >= req.DLC {
			return byteValues(req.Data)
		}
	}
	return byteValues([]int{
		req.Byte0, req.Byte1, req.Byte2, req.Byte3,
		req.Byte4, req.Byte5, req.Byte6, req.Byte7,
	})
}

func byteValues(values []int) ([]byte, error) {
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("Invalid byte value %d. Must be 0-255", v)
		}
		out[i] = byte(v)
	}
	return out, nil
}
