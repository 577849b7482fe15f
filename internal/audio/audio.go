package audio

import (
	"context"
	"errors"
)

// Bridge failures. Backends wrap these so callers can use errors.Is.
var (
	ErrEnumeration    = errors.New("device enumeration failed")
	ErrQuery          = errors.New("default input query failed")
	ErrRejected       = errors.New("system rejected default input change")
	ErrDeviceNotFound = errors.New("device not found")
	ErrUnsupported    = errors.New("not supported by this backend")
)

// UnknownName is shown for devices whose name the OS could not report.
const UnknownName = "Unknown"

// AudioDevice represents an input-capable audio device
type AudioDevice struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	InputChannels int    `json:"input_channels"`
}

// Handle is the backend's live reference to a device. Unlike a device ID it
// may change between sessions.
type Handle string

// DeviceRecord is one raw entry reported by a Bridge. Err marks a device whose
// properties could not be read; NameErr only the name.
type DeviceRecord struct {
	ID            string
	Name          string
	InputChannels int
	NameErr       error
	Err           error
}

// Bridge is the OS capability to enumerate devices and to read, write and
// watch the default input device.
type Bridge interface {
	ListDevices(ctx context.Context) ([]DeviceRecord, error)
	DefaultInput(ctx context.Context) (Handle, error)
	SetDefaultInput(ctx context.Context, h Handle) error
	Lookup(ctx context.Context, id string) (Handle, error)
	// Subscribe registers fn to be called whenever the OS default input
	// changes. Calls may be spurious or repeated and arrive on any goroutine.
	// The returned func cancels the subscription.
	Subscribe(fn func()) (func(), error)
	Close() error
}
