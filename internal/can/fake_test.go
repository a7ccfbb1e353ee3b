package can

import (
	"fmt"
	"time"

	"can-channel-server/internal/driver"
	"can-channel-server/internal/models"
)

func init() {
	// Hardware settling time would dominate the test runtime.
	busSettleDelay = time.Millisecond
}

// fakeDriver records the operations a session performs so tests can assert
// ordering and guaranteed-release behavior without timing dependencies.
type fakeDriver struct {
	count    int
	countErr error
	openErr  error
	opens    int
	ch       *fakeChannel
}

func newFakeDriver(count int) *fakeDriver {
	return &fakeDriver{count: count, ch: &fakeChannel{errs: map[string]error{}}}
}

func (d *fakeDriver) NumberOfChannels() (int, error) {
	if d.countErr != nil {
		return 0, d.countErr
	}
	return d.count, nil
}

func (d *fakeDriver) ChannelInfo(channel int) (models.ChannelInfo, error) {
	if channel < 0 || channel >= d.count {
		return models.ChannelInfo{}, fmt.Errorf("channel %d out of range", channel)
	}
	name := fmt.Sprintf("Fake Channel %d", channel)
	return models.ChannelInfo{
		ChannelNumber:      channel,
		ChannelName:        name,
		ProductNumber:      "Fake Adapter",
		LocalChannelNumber: channel,
		FullDescription:    fmt.Sprintf("%s (Fake Adapter:0/%d)", name, channel),
	}, nil
}

func (d *fakeDriver) Open(channel int) (driver.Channel, error) {
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.ch, nil
}

// fakeChannel fails any operation listed in errs and logs every call.
type fakeChannel struct {
	ops    []string
	errs   map[string]error
	writes []models.Frame
	reads  []models.Frame
}

func (c *fakeChannel) call(op string) error {
	c.ops = append(c.ops, op)
	return c.errs[op]
}

func (c *fakeChannel) SetBusParams(bitrate int) error        { return c.call("set_bus_params") }
func (c *fakeChannel) SetOutputMode(driver.OutputMode) error { return c.call("set_output_mode") }
func (c *fakeChannel) SetAcceptanceFilter(code, mask uint32) error {
	return c.call("set_acceptance_filter")
}
func (c *fakeChannel) FlushTransmitQueue() error { return c.call("flush_tx") }
func (c *fakeChannel) SetLocalEcho(on bool) error {
	return c.call("set_local_echo")
}
func (c *fakeChannel) BusOn() error  { return c.call("bus_on") }
func (c *fakeChannel) BusOff() error { return c.call("bus_off") }
func (c *fakeChannel) Close() error  { return c.call("close") }

func (c *fakeChannel) WriteWait(frame models.Frame, timeout time.Duration) error {
	err := c.call("write")
	if err == nil {
		c.writes = append(c.writes, frame)
	}
	return err
}

func (c *fakeChannel) ReadWait(timeout time.Duration) (models.Frame, error) {
	if err := c.call("read"); err != nil {
		return models.Frame{}, err
	}
	if len(c.reads) == 0 {
		return models.Frame{}, driver.NewError(driver.KindNoMessage, "read", nil)
	}
	frame := c.reads[0]
	c.reads = c.reads[1:]
	return frame, nil
}
