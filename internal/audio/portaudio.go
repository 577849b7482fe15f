package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// portAudioBridge is a read-only bridge for platforms without a native
// backend. PortAudio can enumerate devices and report the default input but
// has no way to change it.
type portAudioBridge struct {
	mu sync.Mutex
}

// NewPortAudio creates a PortAudio-based bridge
func NewPortAudio() (Bridge, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioBridge{}, nil
}

// reload re-initializes PortAudio so hot-plugged devices show up; the device
// list is otherwise fixed at Initialize time.
func (p *portAudioBridge) reload() error {
	if err := portaudio.Terminate(); err != nil {
		return err
	}
	return portaudio.Initialize()
}

func portAudioKey(d *portaudio.DeviceInfo) string {
	if d.HostApi != nil {
		return d.HostApi.Name + ":" + d.Name
	}
	return d.Name
}

// portAudioIDs names devices by host API and device name. Identical devices
// on the same host API get an ordinal suffix in enumeration order.
func portAudioIDs(devices []*portaudio.DeviceInfo) []string {
	keys := make([]string, len(devices))
	for i, d := range devices {
		keys[i] = portAudioKey(d)
	}
	return uniqueIDs(keys)
}

func uniqueIDs(keys []string) []string {
	counts := make(map[string]int, len(keys))
	ids := make([]string, len(keys))
	for i, k := range keys {
		counts[k]++
		if n := counts[k]; n > 1 {
			ids[i] = fmt.Sprintf("%s#%d", k, n)
		} else {
			ids[i] = k
		}
	}
	return ids
}

func (p *portAudioBridge) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.reload(); err != nil {
		return nil, fmt.Errorf("failed to reload PortAudio: %w", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	ids := portAudioIDs(devices)
	result := make([]DeviceRecord, 0, len(devices))
	for i, d := range devices {
		result = append(result, DeviceRecord{
			ID:            ids[i],
			Name:          d.Name,
			InputChannels: d.MaxInputChannels,
		})
	}

	return result, nil
}

func (p *portAudioBridge) DefaultInput(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrQuery, err)
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrQuery, err)
	}

	ids := portAudioIDs(devices)
	for i, d := range devices {
		if d == def {
			return Handle(ids[i]), nil
		}
	}
	return Handle(portAudioKey(def)), nil
}

func (p *portAudioBridge) SetDefaultInput(ctx context.Context, h Handle) error {
	return fmt.Errorf("%w: %w", ErrRejected, ErrUnsupported)
}

func (p *portAudioBridge) Lookup(ctx context.Context, id string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	devices, err := portaudio.Devices()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for i, candidate := range portAudioIDs(devices) {
		if candidate == id && devices[i].MaxInputChannels > 0 {
			return Handle(id), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Subscribe is a no-op; PortAudio has no change notifications, so the
// periodic poll is the only trigger.
func (p *portAudioBridge) Subscribe(fn func()) (func(), error) {
	return func() {}, nil
}

func (p *portAudioBridge) Close() error {
	return portaudio.Terminate()
}
