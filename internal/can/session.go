package can

import (
	"fmt"
	"log"
	"time"

	"can-channel-server/internal/driver"
	"can-channel-server/internal/models"
)

// busSettleDelay is how long a session waits after bus-on before the first
// transmit or receive, mirroring transceiver settling time. Tests shorten it.
var busSettleDelay = 100 * time.Millisecond

// Session is one exclusive open handle to a CAN channel. It walks the
// lifecycle Closed -> Opened -> Configured -> BusOn -> BusOff -> Closed; the
// owning operation defers Release so bus-off and close run on every exit
// path.
type Session struct {
	channel int
	ch      driver.Channel
	busOn   bool
	closed  bool
}

// OpenSession acquires the channel exclusively.
func OpenSession(drv driver.Driver, channel int) (*Session, error) {
	ch, err := drv.Open(channel)
	if err != nil {
		return nil, fmt.Errorf("opening channel %d: %w", channel, err)
	}
	return &Session{channel: channel, ch: ch}, nil
}

// Channel reports which channel the session owns.
func (s *Session) Channel() int { return s.channel }

// Configure sets the bus timing (preset 250k/500k/1M or raw bits/s) and the
// output mode.
func (s *Session) Configure(bitrate int, mode driver.OutputMode) error {
	if err := s.ch.SetBusParams(bitrate); err != nil {
		return fmt.Errorf("setting bus params on channel %d: %w", s.channel, err)
	}
	if err := s.ch.SetOutputMode(mode); err != nil {
		return fmt.Errorf("setting output mode on channel %d: %w", s.channel, err)
	}
	return nil
}

// AcceptAll installs an accept-everything filter (code 0, mask 0) for
// standard frames.
func (s *Session) AcceptAll() error {
	if err := s.ch.SetAcceptanceFilter(0, 0); err != nil {
		return fmt.Errorf("setting acceptance filter on channel %d: %w", s.channel, err)
	}
	return nil
}

// FlushTransmitQueue discards pending outbound frames. Callers treat a
// failure as best-effort.
func (s *Session) FlushTransmitQueue() error {
	return s.ch.FlushTransmitQueue()
}

// SetLocalEcho toggles delivery of own transmissions back to this handle.
func (s *Session) SetLocalEcho(on bool) error {
	return s.ch.SetLocalEcho(on)
}

// BusOn activates the transceiver and waits for the bus to stabilize.
func (s *Session) BusOn() error {
	if err := s.ch.BusOn(); err != nil {
		return fmt.Errorf("bus on for channel %d: %w", s.channel, err)
	}
	s.busOn = true
	time.Sleep(busSettleDelay)
	return nil
}

// BusOff deactivates the transceiver.
func (s *Session) BusOff() error {
	if err := s.ch.BusOff(); err != nil {
		return fmt.Errorf("bus off for channel %d: %w", s.channel, err)
	}
	s.busOn = false
	return nil
}

// WriteWait transmits a frame and blocks until acknowledgement or timeout.
func (s *Session) WriteWait(frame models.Frame, timeout time.Duration) error {
	return s.ch.WriteWait(frame, timeout)
}

// ReadWait blocks until a frame arrives or the timeout elapses.
func (s *Session) ReadWait(timeout time.Duration) (models.Frame, error) {
	return s.ch.ReadWait(timeout)
}

// Release takes the channel off bus and closes the handle. It never fails:
// cleanup errors are logged so they cannot mask the error that ended the
// operation. Safe to call more than once.
func (s *Session) Release() {
	if s.closed {
		return
	}
	s.closed = true
	if s.busOn {
		if err := s.ch.BusOff(); err != nil {
			log.Printf("Error taking channel %d off bus: %v", s.channel, err)
		}
		s.busOn = false
	}
	if err := s.ch.Close(); err != nil {
		log.Printf("Error closing channel %d: %v", s.channel, err)
	}
}
