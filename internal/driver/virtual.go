package driver

import (
	"fmt"
	"sync"
	"time"

	"can-channel-server/internal/models"
)

const virtualRxBuffer = 256

// Virtual is an in-memory CAN adapter. Each channel is its own broadcast
// bus: the exclusive application handle and any attached peers exchange
// frames without hardware. It mirrors the behavior of vendor virtual
// channels closely enough to exercise the full session lifecycle, including
// acknowledgement timeouts when nobody is listening.
type Virtual struct {
	channels []*virtualChannel
}

// NewVirtual creates an adapter with the given number of channels.
func NewVirtual(numChannels int) *Virtual {
	v := &Virtual{channels: make([]*virtualChannel, numChannels)}
	for i := range v.channels {
		v.channels[i] = &virtualChannel{
			number: i,
			peers:  make(map[*Peer]struct{}),
		}
	}
	return v
}

// NumberOfChannels implements Driver.
func (v *Virtual) NumberOfChannels() (int, error) {
	return len(v.channels), nil
}

// ChannelInfo implements Driver.
func (v *Virtual) ChannelInfo(channel int) (models.ChannelInfo, error) {
	if channel < 0 || channel >= len(v.channels) {
		return models.ChannelInfo{}, NewError(KindUnclassified, "channel info",
			fmt.Errorf("channel %d out of range", channel))
	}
	name := fmt.Sprintf("Virtual CAN Channel %d", channel)
	product := "Virtual CAN Adapter"
	serial := int64(0)
	return models.ChannelInfo{
		ChannelNumber:      channel,
		ChannelName:        name,
		ProductNumber:      product,
		SerialNumber:       serial,
		LocalChannelNumber: channel,
		FullDescription:    fmt.Sprintf("%s (%s:%d/%d)", name, product, serial, channel),
	}, nil
}

// Open implements Driver. A channel can be held by at most one handle.
func (v *Virtual) Open(channel int) (Channel, error) {
	if channel < 0 || channel >= len(v.channels) {
		return nil, NewError(KindUnclassified, "open",
			fmt.Errorf("channel %d out of range", channel))
	}
	vc := v.channels[channel]
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.open {
		return nil, NewError(KindUnclassified, "open",
			fmt.Errorf("channel %d is exclusively held by another session", channel))
	}
	vc.open = true
	vc.busOn = false
	vc.mode = ModeNormal
	vc.localEcho = false
	vc.acceptCode, vc.acceptMask = 0, 0
	vc.rx = make(chan models.Frame, virtualRxBuffer)
	return &virtualHandle{vc: vc}, nil
}

// AttachPeer connects a test/simulation endpoint to the channel's bus. Peers
// coexist with the exclusive application handle and act as the "other
// device" that acknowledges transmissions.
func (v *Virtual) AttachPeer(channel int) (*Peer, error) {
	if channel < 0 || channel >= len(v.channels) {
		return nil, fmt.Errorf("attach peer: channel %d out of range", channel)
	}
	vc := v.channels[channel]
	p := &Peer{vc: vc, rx: make(chan models.Frame, virtualRxBuffer)}
	vc.mu.Lock()
	vc.peers[p] = struct{}{}
	vc.mu.Unlock()
	return p, nil
}

type virtualChannel struct {
	mu         sync.Mutex
	number     int
	open       bool
	busOn      bool
	bitrate    int
	mode       OutputMode
	localEcho  bool
	acceptCode uint32
	acceptMask uint32
	rx         chan models.Frame
	peers      map[*Peer]struct{}
}

// deliverToHandle queues a frame for the application handle if it is open,
// bus-on and the frame passes its acceptance filter. Error frames bypass
// filtering. Frames arriving with no listener are lost, as on a real bus.
func (vc *virtualChannel) deliverToHandle(frame models.Frame) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if !vc.open || !vc.busOn {
		return
	}
	if frame.Flags&models.FlagErrorFrame == 0 && !vc.accepts(frame.ID) {
		return
	}
	select {
	case vc.rx <- frame:
	default:
	}
}

func (vc *virtualChannel) accepts(id uint32) bool {
	return (vc.acceptCode^id)&vc.acceptMask == 0
}

type virtualHandle struct {
	vc     *virtualChannel
	closed bool
}

func (h *virtualHandle) SetBusParams(bitrate int) error {
	if err := h.check("set bus params"); err != nil {
		return err
	}
	if bitrate <= 0 {
		return NewError(KindUnclassified, "set bus params",
			fmt.Errorf("invalid bitrate %d", bitrate))
	}
	h.vc.mu.Lock()
	h.vc.bitrate = bitrate
	h.vc.mu.Unlock()
	return nil
}

func (h *virtualHandle) SetOutputMode(mode OutputMode) error {
	if err := h.check("set output mode"); err != nil {
		return err
	}
	h.vc.mu.Lock()
	h.vc.mode = mode
	h.vc.mu.Unlock()
	return nil
}

func (h *virtualHandle) SetAcceptanceFilter(code, mask uint32) error {
	if err := h.check("set acceptance filter"); err != nil {
		return err
	}
	h.vc.mu.Lock()
	h.vc.acceptCode, h.vc.acceptMask = code, mask
	h.vc.mu.Unlock()
	return nil
}

func (h *virtualHandle) FlushTransmitQueue() error {
	// The virtual bus transmits synchronously, so the queue is always empty.
	return h.check("flush transmit queue")
}

func (h *virtualHandle) SetLocalEcho(on bool) error {
	if err := h.check("set local echo"); err != nil {
		return err
	}
	h.vc.mu.Lock()
	h.vc.localEcho = on
	h.vc.mu.Unlock()
	return nil
}

func (h *virtualHandle) BusOn() error {
	if err := h.check("bus on"); err != nil {
		return err
	}
	h.vc.mu.Lock()
	h.vc.busOn = true
	h.vc.mu.Unlock()
	return nil
}

func (h *virtualHandle) BusOff() error {
	if err := h.check("bus off"); err != nil {
		return err
	}
	h.vc.mu.Lock()
	h.vc.busOn = false
	h.vc.mu.Unlock()
	return nil
}

func (h *virtualHandle) WriteWait(frame models.Frame, timeout time.Duration) error {
	if err := h.check("write"); err != nil {
		return err
	}
	vc := h.vc
	vc.mu.Lock()
	if !vc.busOn {
		vc.mu.Unlock()
		return NewError(KindBusError, "write", fmt.Errorf("channel %d is not bus on", vc.number))
	}
	if vc.mode == ModeSilent {
		vc.mu.Unlock()
		return NewError(KindBusError, "write", fmt.Errorf("channel %d is in silent mode", vc.number))
	}
	echo := vc.localEcho
	targets := make([]*Peer, 0, len(vc.peers))
	for p := range vc.peers {
		targets = append(targets, p)
	}
	vc.mu.Unlock()

	for _, p := range targets {
		select {
		case p.rx <- frame:
		default:
		}
	}
	if echo {
		vc.deliverToHandle(frame)
	}

	// No receiver means no acknowledgement, the same failure a physical
	// transmit sees when no peer device is on the bus.
	if len(targets) == 0 && !echo {
		return NewError(KindTimeout, "write",
			fmt.Errorf("no acknowledgement within %v: no other device on the bus", timeout))
	}
	return nil
}

func (h *virtualHandle) ReadWait(timeout time.Duration) (models.Frame, error) {
	if err := h.check("read"); err != nil {
		return models.Frame{}, err
	}
	h.vc.mu.Lock()
	busOn := h.vc.busOn
	rx := h.vc.rx
	h.vc.mu.Unlock()
	if !busOn {
		return models.Frame{}, NewError(KindBusError, "read",
			fmt.Errorf("channel %d is not bus on", h.vc.number))
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-rx:
		return frame, nil
	case <-timer.C:
		return models.Frame{}, NewError(KindNoMessage, "read",
			fmt.Errorf("no message within %v", timeout))
	}
}

func (h *virtualHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.vc.mu.Lock()
	h.vc.open = false
	h.vc.busOn = false
	h.vc.mu.Unlock()
	return nil
}

func (h *virtualHandle) check(op string) error {
	if h.closed {
		return NewError(KindUnclassified, op, fmt.Errorf("handle is closed"))
	}
	return nil
}

// Peer is a simulation endpoint on a virtual channel's bus.
type Peer struct {
	vc *virtualChannel
	rx chan models.Frame
}

// Send puts a data frame on the bus toward the application handle.
func (p *Peer) Send(frame models.Frame) {
	if frame.Flags == 0 {
		frame.Flags = models.FlagStandard
	}
	p.vc.deliverToHandle(frame)
}

// SendErrorFrame puts a bus error indication on the bus.
func (p *Peer) SendErrorFrame() {
	p.vc.deliverToHandle(models.Frame{Flags: models.FlagErrorFrame})
}

// Receive waits for a frame transmitted by the application handle.
func (p *Peer) Receive(timeout time.Duration) (models.Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-p.rx:
		return frame, true
	case <-timer.C:
		return models.Frame{}, false
	}
}

// Close detaches the peer from the bus.
func (p *Peer) Close() {
	p.vc.mu.Lock()
	delete(p.vc.peers, p)
	p.vc.mu.Unlock()
}
