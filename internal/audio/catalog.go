package audio

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Catalog turns raw bridge records into snapshots of input-capable devices.
// It keeps no state between refreshes.
type Catalog struct {
	bridge Bridge
	log    zerolog.Logger
}

func NewCatalog(bridge Bridge, log zerolog.Logger) *Catalog {
	return &Catalog{bridge: bridge, log: log}
}

// Refresh enumerates the current input devices. A device whose properties
// cannot be read is skipped, as is any repeat of an id already listed; only a failure to list devices at all is
// returned as an error.
func (c *Catalog) Refresh(ctx context.Context) ([]AudioDevice, error) {
	records, err := c.bridge.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	devices := make([]AudioDevice, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Err != nil {
			c.log.Warn().Err(r.Err).Str("device", r.ID).Msg("Skipping unreadable device")
			continue
		}
		if r.InputChannels < 1 {
			continue
		}
		if seen[r.ID] {
			c.log.Warn().Str("device", r.ID).Msg("Skipping device with duplicate id")
			continue
		}
		seen[r.ID] = true

		name := r.Name
		if r.NameErr != nil || name == "" {
			name = UnknownName
		}

		devices = append(devices, AudioDevice{
			ID:            r.ID,
			Name:          name,
			InputChannels: r.InputChannels,
		})
	}

	c.log.Debug().Int("devices", len(devices)).Int("records", len(records)).Msg("Refreshed device catalog")
	return devices, nil
}

// Contains reports whether id is present in devices.
func Contains(devices []AudioDevice, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
