//go:build linux

package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
	"golang.org/x/sys/unix"

	"can-channel-server/internal/models"
)

// Raw SocketCAN frame layout: 4 bytes ID (with EFF/RTR/ERR flag bits),
// 1 byte DLC, 3 bytes padding, 8 bytes data.
const (
	rawFrameSize = 16
	canEFFFlag   = 0x80000000
	canRTRFlag   = 0x40000000
	canERRFlag   = 0x20000000
	canSFFMask   = 0x000007FF
)

// SocketCAN maps channel ordinals onto Linux CAN network interfaces. The
// kernel does not enforce exclusive access to an interface, so the driver
// tracks held channels itself.
type SocketCAN struct {
	mu     sync.Mutex
	ifaces []string
	held   map[int]bool
}

// NewSocketCAN creates a driver over the given interface names; ordinal n
// maps to ifaces[n].
func NewSocketCAN(ifaces []string) *SocketCAN {
	return &SocketCAN{ifaces: ifaces, held: make(map[int]bool)}
}

// NumberOfChannels implements Driver.
func (d *SocketCAN) NumberOfChannels() (int, error) {
	return len(d.ifaces), nil
}

// ChannelInfo implements Driver.
func (d *SocketCAN) ChannelInfo(channel int) (models.ChannelInfo, error) {
	if channel < 0 || channel >= len(d.ifaces) {
		return models.ChannelInfo{}, NewError(KindUnclassified, "channel info",
			fmt.Errorf("channel %d out of range", channel))
	}
	name := d.ifaces[channel]
	if _, err := net.InterfaceByName(name); err != nil {
		return models.ChannelInfo{}, NewError(KindUnclassified, "channel info",
			fmt.Errorf("interface %s: %w", name, err))
	}
	product := "SocketCAN Interface"
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

// Open implements Driver.
func (d *SocketCAN) Open(channel int) (Channel, error) {
	if channel < 0 || channel >= len(d.ifaces) {
		return nil, NewError(KindUnclassified, "open",
			fmt.Errorf("channel %d out of range", channel))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held[channel] {
		return nil, NewError(KindUnclassified, "open",
			fmt.Errorf("channel %d is exclusively held by another session", channel))
	}
	name := d.ifaces[channel]
	dev, err := candevice.New(name)
	if err != nil {
		return nil, NewError(KindUnclassified, "open",
			fmt.Errorf("interface %s: %w", name, err))
	}
	wasUp, err := dev.IsUp()
	if err != nil {
		return nil, NewError(KindUnclassified, "open",
			fmt.Errorf("interface %s: %w", name, err))
	}
	d.held[channel] = true
	return &socketcanHandle{
		drv:     d,
		channel: channel,
		name:    name,
		dev:     dev,
		wasUp:   wasUp,
		bitrate: Bitrate250K,
	}, nil
}

func (d *SocketCAN) release(channel int) {
	d.mu.Lock()
	delete(d.held, channel)
	d.mu.Unlock()
}

type socketcanHandle struct {
	drv     *SocketCAN
	channel int
	name    string
	dev     *candevice.Device
	conn    net.Conn
	tx      *socketcan.Transmitter

	bitrate    int
	mode       OutputMode
	localEcho  bool
	acceptCode uint32
	acceptMask uint32
	wasUp      bool
	closed     bool
}

// SetBusParams changes the interface bitrate. The interface must be down
// while the bitrate changes; it is brought back up by BusOn.
func (h *socketcanHandle) SetBusParams(bitrate int) error {
	if bitrate <= 0 {
		return NewError(KindUnclassified, "set bus params",
			fmt.Errorf("invalid bitrate %d", bitrate))
	}
	current, err := h.dev.Bitrate()
	if err != nil {
		return NewError(KindUnclassified, "set bus params", err)
	}
	if int(current) == bitrate {
		h.bitrate = bitrate
		return nil
	}
	if up, err := h.dev.IsUp(); err == nil && up {
		if err := h.dev.SetDown(); err != nil {
			return NewError(KindBusError, "set bus params", err)
		}
	}
	if err := h.dev.SetBitrate(uint32(bitrate)); err != nil {
		return NewError(KindBusError, "set bus params", err)
	}
	h.bitrate = bitrate
	return nil
}

// SetOutputMode records the mode. SocketCAN has no per-socket silent switch,
// so silent mode is enforced by rejecting writes on this handle.
func (h *socketcanHandle) SetOutputMode(mode OutputMode) error {
	h.mode = mode
	return nil
}

func (h *socketcanHandle) SetAcceptanceFilter(code, mask uint32) error {
	h.acceptCode, h.acceptMask = code, mask
	if h.conn != nil {
		return h.applyFilter()
	}
	return nil
}

// FlushTransmitQueue has no SocketCAN equivalent; callers treat the failure
// as best-effort.
func (h *socketcanHandle) FlushTransmitQueue() error {
	return NewError(KindUnclassified, "flush transmit queue",
		fmt.Errorf("not supported on SocketCAN"))
}

func (h *socketcanHandle) SetLocalEcho(on bool) error {
	h.localEcho = on
	if h.conn != nil {
		return h.applyLocalEcho()
	}
	return nil
}

// BusOn brings the interface up and opens the raw CAN socket.
func (h *socketcanHandle) BusOn() error {
	if h.closed {
		return NewError(KindUnclassified, "bus on", fmt.Errorf("handle is closed"))
	}
	if up, err := h.dev.IsUp(); err != nil {
		return NewError(KindBusError, "bus on", err)
	} else if !up {
		if err := h.dev.SetUp(); err != nil {
			return NewError(KindBusError, "bus on",
				fmt.Errorf("interface %s: %w", h.name, err))
		}
	}
	conn, err := socketcan.DialContext(context.Background(), "can", h.name)
	if err != nil {
		return NewError(KindBusError, "bus on",
			fmt.Errorf("interface %s: %w", h.name, err))
	}
	h.conn = conn
	h.tx = socketcan.NewTransmitter(conn)
	if err := h.applyFilter(); err != nil {
		return err
	}
	if err := h.applyLocalEcho(); err != nil {
		return err
	}
	// Ask the kernel to deliver error frames so the capture loop can decode
	// and discard them instead of missing bus faults entirely.
	return h.setsockoptInt(unix.CAN_RAW_ERR_FILTER, int(unix.CAN_ERR_MASK), "bus on")
}

// BusOff closes the socket and restores the interface's previous link state.
func (h *socketcanHandle) BusOff() error {
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
		h.tx = nil
	}
	if !h.wasUp {
		if err := h.dev.SetDown(); err != nil {
			return NewError(KindBusError, "bus off",
				fmt.Errorf("interface %s: %w", h.name, err))
		}
	}
	return nil
}

// WriteWait queues the frame and waits for the kernel to accept it. The raw
// socket reports queue acceptance rather than bus acknowledgement; a full
// queue within the window is reported as a timeout, which is also what a
// missing peer looks like on a silent bus.
func (h *socketcanHandle) WriteWait(frame models.Frame, timeout time.Duration) error {
	if h.conn == nil || h.tx == nil {
		return NewError(KindBusError, "write",
			fmt.Errorf("channel %d is not bus on", h.channel))
	}
	if h.mode == ModeSilent {
		return NewError(KindBusError, "write",
			fmt.Errorf("channel %d is in silent mode", h.channel))
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out := can.Frame{ID: frame.ID & canSFFMask, Length: frame.DLC}
	copy(out.Data[:], frame.Data[:])
	if err := h.tx.TransmitFrame(ctx, out); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
			return NewError(KindTimeout, "write", err)
		case errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.ENETDOWN):
			return NewError(KindBusError, "write", err)
		default:
			return NewError(KindUnclassified, "write", err)
		}
	}
	return nil
}

// ReadWait reads one raw frame off the socket, decoding the EFF/RTR/ERR
// control bits the same way the kernel packs them.
func (h *socketcanHandle) ReadWait(timeout time.Duration) (models.Frame, error) {
	if h.conn == nil {
		return models.Frame{}, NewError(KindBusError, "read",
			fmt.Errorf("channel %d is not bus on", h.channel))
	}
	if err := h.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return models.Frame{}, NewError(KindUnclassified, "read", err)
	}
	var buf [rawFrameSize]byte
	if _, err := io.ReadFull(h.conn, buf[:]); err != nil {
		if isTimeout(err) {
			return models.Frame{}, NewError(KindNoMessage, "read",
				fmt.Errorf("no message within %v", timeout))
		}
		return models.Frame{}, NewError(KindBusError, "read", err)
	}

	rawID := binary.LittleEndian.Uint32(buf[0:4])
	frame := models.Frame{DLC: buf[4]}
	if frame.DLC > 8 {
		frame.DLC = 8
	}
	copy(frame.Data[:], buf[8:16])
	switch {
	case rawID&canERRFlag != 0:
		frame.Flags = models.FlagErrorFrame
		frame.ID = rawID & canSFFMask
	case rawID&canEFFFlag != 0:
		// Extended identifiers are outside the supported range; surface the
		// frame unflagged so callers can ignore it.
		frame.ID = rawID &^ (canEFFFlag | canRTRFlag)
	default:
		frame.Flags = models.FlagStandard
		frame.ID = rawID & canSFFMask
	}
	return frame, nil
}

func (h *socketcanHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
		h.tx = nil
	}
	h.drv.release(h.channel)
	return nil
}

// applyFilter installs the acceptance filter on the raw socket. Mask 0 is
// accept-all, the kernel default, so nothing needs to be set.
func (h *socketcanHandle) applyFilter() error {
	if h.acceptMask == 0 {
		return nil
	}
	rc, err := rawConn(h.conn)
	if err != nil {
		return NewError(KindUnclassified, "set acceptance filter", err)
	}
	filter := []unix.CanFilter{{Id: h.acceptCode, Mask: h.acceptMask}}
	var opErr error
	err = rc.Control(func(fd uintptr) {
		opErr = unix.SetsockoptCanRawFilter(int(fd), unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filter)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return NewError(KindUnclassified, "set acceptance filter", err)
	}
	return nil
}

func (h *socketcanHandle) applyLocalEcho() error {
	v := 0
	if h.localEcho {
		v = 1
	}
	return h.setsockoptInt(unix.CAN_RAW_RECV_OWN_MSGS, v, "set local echo")
}

func (h *socketcanHandle) setsockoptInt(opt, value int, op string) error {
	rc, err := rawConn(h.conn)
	if err != nil {
		return NewError(KindUnclassified, op, err)
	}
	var opErr error
	err = rc.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_CAN_RAW, opt, value)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return NewError(KindUnclassified, op, err)
	}
	return nil
}

func rawConn(conn net.Conn) (syscall.RawConn, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("connection does not expose a raw descriptor")
	}
	return sc.SyscallConn()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
