// Package driver defines the boundary to the CAN adapter: channel
// enumeration, exclusive channel handles, bus configuration and blocking
// transmit/receive. Two implementations exist: an in-memory virtual bus and
// a Linux SocketCAN backend.
package driver

import (
	"time"

	"can-channel-server/internal/models"
)

// Bitrate presets understood by every backend. Any other positive value is
// passed through as a raw bits/s parameter.
const (
	Bitrate250K = 250000
	Bitrate500K = 500000
	Bitrate1M   = 1000000
)

// OutputMode selects the bus output control of a channel.
type OutputMode int

const (
	// ModeNormal drives the bus: transmits participate in arbitration and
	// generate acknowledgements.
	ModeNormal OutputMode = iota
	// ModeSilent is listen-only; the channel never drives the bus.
	ModeSilent
)

func (m OutputMode) String() string {
	if m == ModeSilent {
		return "SILENT"
	}
	return "NORMAL"
}

// Driver enumerates adapter channels and opens exclusive handles to them.
type Driver interface {
	// NumberOfChannels reports how many channels the adapter exposes.
	NumberOfChannels() (int, error)

	// ChannelInfo fetches metadata for the channel with the given ordinal.
	ChannelInfo(channel int) (models.ChannelInfo, error)

	// Open acquires the channel exclusively. It fails if the channel is
	// unavailable or already held by another handle.
	Open(channel int) (Channel, error)
}

// Channel is one exclusive open handle to a physical or virtual CAN channel.
// Callers must configure and take the channel bus-on before transmitting or
// receiving, and take it bus-off before Close.
type Channel interface {
	// SetBusParams sets the bus timing from a preset or raw bits/s value.
	SetBusParams(bitrate int) error

	// SetOutputMode switches between normal and silent operation.
	SetOutputMode(mode OutputMode) error

	// SetAcceptanceFilter installs an 11-bit code/mask filter. A message is
	// accepted when ((code XOR id) AND mask) == 0; mask 0 accepts everything.
	SetAcceptanceFilter(code, mask uint32) error

	// FlushTransmitQueue discards frames pending transmission. Backends
	// without a transmit queue report an error; callers treat it as
	// best-effort.
	FlushTransmitQueue() error

	// SetLocalEcho controls whether frames written on this handle are also
	// delivered back to it.
	SetLocalEcho(on bool) error

	// BusOn activates the transceiver.
	BusOn() error

	// BusOff deactivates the transceiver.
	BusOff() error

	// WriteWait transmits a frame and blocks until the bus acknowledges it
	// or the timeout elapses.
	WriteWait(frame models.Frame, timeout time.Duration) error

	// ReadWait blocks until a frame arrives or the timeout elapses. When no
	// frame arrives in time it returns an error of kind KindNoMessage.
	ReadWait(timeout time.Duration) (models.Frame, error)

	// Close releases the handle. Best-effort; a closed handle is never
	// reused.
	Close() error
}
