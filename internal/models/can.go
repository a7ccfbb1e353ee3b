package models

import "time"

// FrameFlag marks frame-level attributes reported by the driver.
type FrameFlag uint32

const (
	// FlagStandard marks a frame using an 11-bit identifier.
	FlagStandard FrameFlag = 1 << 0
	// FlagErrorFrame marks a bus-level error indication, not a data frame.
	FlagErrorFrame FrameFlag = 1 << 1
)

// String renders flags the way they appear in API responses.
func (f FrameFlag) String() string {
	switch {
	case f&FlagErrorFrame != 0:
		return "ERROR_FRAME"
	case f&FlagStandard != 0:
		return "STD"
	default:
		return "NONE"
	}
}

// Frame represents a CAN 2.0 frame with an 11-bit identifier.
type Frame struct {
	ID    uint32
	DLC   uint8
	Data  [8]byte
	Flags FrameFlag
}

// FrameData builds the payload for a frame: shorter input is zero-padded to
// dlc bytes, longer input is truncated to dlc bytes.
func FrameData(data []byte, dlc uint8) [8]byte {
	var out [8]byte
	if dlc > 8 {
		dlc = 8
	}
	n := int(dlc)
	if len(data) < n {
		n = len(data)
	}
	copy(out[:], data[:n])
	return out
}

// ChannelInfo is a read-only snapshot of one adapter channel. It is queried
// from the driver on every directory request, never cached.
type ChannelInfo struct {
	ChannelNumber      int    `json:"channel_number"`
	ChannelName        string `json:"channel_name"`
	ProductNumber      string `json:"product_number"`
	SerialNumber       int64  `json:"serial_number"`
	LocalChannelNumber int    `json:"local_channel_number"`
	FullDescription    string `json:"full_description"`
}

// CapturedMessage is an accepted received frame plus capture metadata.
type CapturedMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Channel   int       `json:"channel"`
	CANID     uint32    `json:"can_id"`
	Data      []uint8   `json:"data"`
	DLC       uint8     `json:"dlc"`
	Flags     string    `json:"flags"`
}
