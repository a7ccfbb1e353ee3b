package can

import (
	"fmt"
	"strings"

	"can-channel-server/internal/driver"
)

// DiagnosticsReport is the outcome of a bus self-check.
type DiagnosticsReport struct {
	Status  string
	Message string
}

var troubleshootingTips = []string{
	"- Blinking red light indicates error frames - make sure at least two channels are connected and on bus",
	"- Check that bitrates are the same on all channels",
	"- Ensure proper termination (60 Ohm) on the CAN bus",
	"- Make sure that the transmitting channel is in NORMAL mode, not SILENT",
	"- If messages are failing, try going off and then on bus to clear the transmit buffer",
}

// RunDiagnostics attempts open + configure + bus-on + bus-off on every
// channel and reports a per-channel status line plus static troubleshooting
// guidance. It returns an error only if the channel count itself cannot be
// queried.
func RunDiagnostics(drv driver.Driver) (DiagnosticsReport, error) {
	count, err := drv.NumberOfChannels()
	if err != nil {
		return DiagnosticsReport{}, fmt.Errorf("querying channel count: %w", err)
	}
	if count == 0 {
		return DiagnosticsReport{
			Status:  "error",
			Message: "No CAN channels found. Make sure your CAN adapter is properly connected.",
		}, nil
	}

	statuses := make([]string, 0, count)
	for ch := 0; ch < count; ch++ {
		statuses = append(statuses, diagnoseChannel(drv, ch))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d CAN channels.\n\nChannel status:\n", count)
	b.WriteString(strings.Join(statuses, "\n"))
	b.WriteString("\n\nTroubleshooting tips:\n")
	b.WriteString(strings.Join(troubleshootingTips, "\n"))

	return DiagnosticsReport{Status: "success", Message: b.String()}, nil
}

// diagnoseChannel runs one channel through a brief on-bus cycle.
func diagnoseChannel(drv driver.Driver, ch int) string {
	info, infoErr := drv.ChannelInfo(ch)
	name := info.ChannelName
	if infoErr != nil {
		name = fmt.Sprintf("channel %d", ch)
	}

	sess, err := OpenSession(drv, ch)
	if err != nil {
		return fmt.Sprintf("Channel %d: Error accessing - %v", ch, err)
	}
	defer sess.Release()

	busStatus := "OK"
	if err := sess.Configure(captureBitrate, driver.ModeNormal); err != nil {
		busStatus = fmt.Sprintf("Error: %v", err)
	} else if err := sess.BusOn(); err != nil {
		busStatus = fmt.Sprintf("Error: %v", err)
	} else if err := sess.BusOff(); err != nil {
		busStatus = fmt.Sprintf("Error: %v", err)
	}

	return fmt.Sprintf("Channel %d: %s - Bus status: %s", ch, name, busStatus)
}
