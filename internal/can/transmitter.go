package can

import (
	"fmt"
	"log"
	"time"

	"can-channel-server/internal/driver"
	"can-channel-server/internal/models"
)

// sendTimeout bounds the wait for transmit acknowledgement.
const sendTimeout = 500 * time.Millisecond

// SendFrame opens the channel, configures it at the requested bitrate in
// normal output mode and transmits one frame, waiting for acknowledgement.
// The channel is taken off bus and closed on every exit path. On success it
// returns a confirmation naming the channel and CAN ID; failures are
// classified by driver error kind so operators can tell a missing peer from
// a hardware fault.
func SendFrame(drv driver.Driver, channel int, frame models.Frame, bitrate int) (string, error) {
	sess, err := OpenSession(drv, channel)
	if err != nil {
		return "", err
	}
	defer sess.Release()

	if err := sess.Configure(bitrate, driver.ModeNormal); err != nil {
		return "", err
	}

	// Best-effort: stale frames in the adapter's transmit queue would be
	// sent ahead of ours.
	if err := sess.FlushTransmitQueue(); err != nil {
		log.Printf("Couldn't flush TX buffer: %v", err)
	}

	// Best-effort: local echo makes loopback testing possible.
	if err := sess.SetLocalEcho(true); err != nil {
		log.Printf("Couldn't set local echo: %v", err)
	}

	if err := sess.BusOn(); err != nil {
		return "", err
	}

	if err := sess.WriteWait(frame, sendTimeout); err != nil {
		switch driver.KindOf(err) {
		case driver.KindNoMessage:
			return "", fmt.Errorf("no CAN message available: %w", err)
		case driver.KindTimeout:
			return "", fmt.Errorf("timeout sending CAN message; this often happens when no other device is connected to acknowledge the message: %w", err)
		case driver.KindBusError:
			return "", fmt.Errorf("CAN bus error: %w", err)
		default:
			return "", fmt.Errorf("sending CAN message: %w", err)
		}
	}

	return fmt.Sprintf("CAN message sent successfully on channel %d, ID %d", channel, frame.ID), nil
}
