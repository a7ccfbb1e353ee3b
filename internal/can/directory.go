package can

import (
	"fmt"

	"can-channel-server/internal/driver"
	"can-channel-server/internal/models"
)

// Directory answers channel enumeration queries. It holds no state: the
// driver is asked again on every request so hot-plugged adapters show up.
type Directory struct {
	drv driver.Driver
}

// NewDirectory creates a directory over the given driver.
func NewDirectory(drv driver.Driver) *Directory {
	return &Directory{drv: drv}
}

// Count reports the number of available channels.
func (d *Directory) Count() (int, error) {
	n, err := d.drv.NumberOfChannels()
	if err != nil {
		return 0, fmt.Errorf("querying channel count: %w", err)
	}
	return n, nil
}

// List fetches metadata for every available channel. Zero channels is an
// empty list, not an error.
func (d *Directory) List() ([]models.ChannelInfo, error) {
	count, err := d.Count()
	if err != nil {
		return nil, err
	}
	channels := make([]models.ChannelInfo, 0, count)
	for ch := 0; ch < count; ch++ {
		info, err := d.drv.ChannelInfo(ch)
		if err != nil {
			return nil, fmt.Errorf("querying channel %d: %w", ch, err)
		}
		channels = append(channels, info)
	}
	return channels, nil
}

// Get fetches metadata for one channel. An index outside [0, count) fails
// with ErrNotFound naming the valid range.
func (d *Directory) Get(index int) (models.ChannelInfo, error) {
	count, err := d.Count()
	if err != nil {
		return models.ChannelInfo{}, err
	}
	if index < 0 || index >= count {
		return models.ChannelInfo{}, fmt.Errorf(
			"%w: channel %d not found, available channels: 0-%d", ErrNotFound, index, count-1)
	}
	info, err := d.drv.ChannelInfo(index)
	if err != nil {
		return models.ChannelInfo{}, fmt.Errorf("querying channel %d: %w", index, err)
	}
	return info, nil
}
