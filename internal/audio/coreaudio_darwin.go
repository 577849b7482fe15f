//go:build darwin

package audio

/*
#cgo LDFLAGS: -framework CoreAudio -framework CoreFoundation
#include <CoreAudio/CoreAudio.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdlib.h>

extern void goDefaultInputChanged(void);

static AudioObjectPropertyAddress defaultInputAddress() {
    AudioObjectPropertyAddress addr = {
        kAudioHardwarePropertyDefaultInputDevice,
        kAudioObjectPropertyScopeGlobal,
        kAudioObjectPropertyElementMain
    };
    return addr;
}

// Fills out with up to max device IDs. Returns the count or -1.
static int listDeviceIDs(AudioObjectID *out, int max) {
    AudioObjectPropertyAddress addr = {
        kAudioHardwarePropertyDevices,
        kAudioObjectPropertyScopeGlobal,
        kAudioObjectPropertyElementMain
    };
    UInt32 size = 0;
    if (AudioObjectGetPropertyDataSize(kAudioObjectSystemObject, &addr, 0, NULL, &size) != noErr) {
        return -1;
    }
    int count = size / sizeof(AudioObjectID);
    if (count > max) {
        count = max;
    }
    size = count * sizeof(AudioObjectID);
    if (AudioObjectGetPropertyData(kAudioObjectSystemObject, &addr, 0, NULL, &size, out) != noErr) {
        return -1;
    }
    return size / sizeof(AudioObjectID);
}

// Sums channels across the input stream configuration. Returns -1 on error.
static int inputChannels(AudioObjectID dev) {
    AudioObjectPropertyAddress addr = {
        kAudioDevicePropertyStreamConfiguration,
        kAudioDevicePropertyScopeInput,
        kAudioObjectPropertyElementMain
    };
    UInt32 size = 0;
    if (AudioObjectGetPropertyDataSize(dev, &addr, 0, NULL, &size) != noErr) {
        return -1;
    }
    if (size == 0) {
        return 0;
    }
    AudioBufferList *list = (AudioBufferList *)malloc(size);
    if (list == NULL) {
        return -1;
    }
    if (AudioObjectGetPropertyData(dev, &addr, 0, NULL, &size, list) != noErr) {
        free(list);
        return -1;
    }
    int channels = 0;
    for (UInt32 i = 0; i < list->mNumberBuffers; i++) {
        channels += list->mBuffers[i].mNumberChannels;
    }
    free(list);
    return channels;
}

// Copies a CFString property into buf. Returns 1 on success.
static int stringProperty(AudioObjectID dev, AudioObjectPropertySelector sel, char *buf, int len) {
    AudioObjectPropertyAddress addr = {
        sel,
        kAudioObjectPropertyScopeGlobal,
        kAudioObjectPropertyElementMain
    };
    CFStringRef str = NULL;
    UInt32 size = sizeof(CFStringRef);
    if (AudioObjectGetPropertyData(dev, &addr, 0, NULL, &size, &str) != noErr || str == NULL) {
        return 0;
    }
    Boolean ok = CFStringGetCString(str, buf, len, kCFStringEncodingUTF8);
    CFRelease(str);
    return ok ? 1 : 0;
}

static int deviceUID(AudioObjectID dev, char *buf, int len) {
    return stringProperty(dev, kAudioDevicePropertyDeviceUID, buf, len);
}

static int deviceName(AudioObjectID dev, char *buf, int len) {
    return stringProperty(dev, kAudioObjectPropertyName, buf, len);
}

static OSStatus getDefaultInput(AudioObjectID *out) {
    AudioObjectPropertyAddress addr = defaultInputAddress();
    UInt32 size = sizeof(AudioObjectID);
    return AudioObjectGetPropertyData(kAudioObjectSystemObject, &addr, 0, NULL, &size, out);
}

static OSStatus setDefaultInput(AudioObjectID dev) {
    AudioObjectPropertyAddress addr = defaultInputAddress();
    return AudioObjectSetPropertyData(kAudioObjectSystemObject, &addr, 0, NULL, sizeof(AudioObjectID), &dev);
}

static OSStatus defaultInputListener(AudioObjectID obj, UInt32 n, const AudioObjectPropertyAddress *addrs, void *data) {
    goDefaultInputChanged();
    return noErr;
}

static OSStatus addDefaultInputListener() {
    AudioObjectPropertyAddress addr = defaultInputAddress();
    return AudioObjectAddPropertyListener(kAudioObjectSystemObject, &addr, defaultInputListener, NULL);
}

static OSStatus removeDefaultInputListener() {
    AudioObjectPropertyAddress addr = defaultInputAddress();
    return AudioObjectRemovePropertyListener(kAudioObjectSystemObject, &addr, defaultInputListener, NULL);
}
*/
import "C"

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"unsafe"
)

const (
	maxDevices   = 128
	maxStringLen = 512
)

// CoreAudio delivers listener callbacks on its own thread with no Go
// context, so subscribers live in a package-level registry.
var (
	listenersMu sync.Mutex
	listeners   = map[int]func(){}
	nextID      int
)

//export goDefaultInputChanged
func goDefaultInputChanged() {
	listenersMu.Lock()
	fns := make([]func(), 0, len(listeners))
	for _, fn := range listeners {
		fns = append(fns, fn)
	}
	listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

type coreAudioBridge struct{}

func newCoreAudio() (Bridge, error) {
	return &coreAudioBridge{}, nil
}

func deviceIDs() ([]C.AudioObjectID, error) {
	ids := make([]C.AudioObjectID, maxDevices)
	n := C.listDeviceIDs(&ids[0], C.int(maxDevices))
	if n < 0 {
		return nil, fmt.Errorf("failed to read device list")
	}
	return ids[:int(n)], nil
}

func deviceUID(dev C.AudioObjectID) (string, bool) {
	buf := (*C.char)(C.malloc(maxStringLen))
	defer C.free(unsafe.Pointer(buf))
	if C.deviceUID(dev, buf, C.int(maxStringLen)) == 0 {
		return "", false
	}
	return C.GoString(buf), true
}

func deviceName(dev C.AudioObjectID) (string, bool) {
	buf := (*C.char)(C.malloc(maxStringLen))
	defer C.free(unsafe.Pointer(buf))
	if C.deviceName(dev, buf, C.int(maxStringLen)) == 0 {
		return "", false
	}
	return C.GoString(buf), true
}

func (c *coreAudioBridge) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	ids, err := deviceIDs()
	if err != nil {
		return nil, err
	}

	result := make([]DeviceRecord, 0, len(ids))
	for _, id := range ids {
		rec := DeviceRecord{}

		uid, ok := deviceUID(id)
		if !ok {
			rec.ID = strconv.FormatUint(uint64(id), 10)
			rec.Err = fmt.Errorf("device %d has no UID", id)
			result = append(result, rec)
			continue
		}
		rec.ID = uid

		channels := int(C.inputChannels(id))
		if channels < 0 {
			rec.Err = fmt.Errorf("failed to read stream configuration for %s", uid)
			result = append(result, rec)
			continue
		}
		rec.InputChannels = channels

		if name, ok := deviceName(id); ok {
			rec.Name = name
		} else {
			rec.NameErr = fmt.Errorf("failed to read name for %s", uid)
		}

		result = append(result, rec)
	}
	return result, nil
}

func (c *coreAudioBridge) DefaultInput(ctx context.Context) (Handle, error) {
	var id C.AudioObjectID
	if status := C.getDefaultInput(&id); status != 0 {
		return "", fmt.Errorf("%w: OSStatus %d", ErrQuery, int32(status))
	}
	return Handle(strconv.FormatUint(uint64(id), 10)), nil
}

func (c *coreAudioBridge) SetDefaultInput(ctx context.Context, h Handle) error {
	id, err := strconv.ParseUint(string(h), 10, 32)
	if err != nil {
		return fmt.Errorf("%w: bad handle %q", ErrRejected, h)
	}
	if status := C.setDefaultInput(C.AudioObjectID(id)); status != 0 {
		return fmt.Errorf("%w: OSStatus %d", ErrRejected, int32(status))
	}
	return nil
}

func (c *coreAudioBridge) Lookup(ctx context.Context, uid string) (Handle, error) {
	ids, err := deviceIDs()
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if got, ok := deviceUID(id); ok && got == uid {
			return Handle(strconv.FormatUint(uint64(id), 10)), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, uid)
}

func (c *coreAudioBridge) Subscribe(fn func()) (func(), error) {
	listenersMu.Lock()
	defer listenersMu.Unlock()

	if len(listeners) == 0 {
		if status := C.addDefaultInputListener(); status != 0 {
			return nil, fmt.Errorf("failed to add listener: OSStatus %d", int32(status))
		}
	}
	id := nextID
	nextID++
	listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			listenersMu.Lock()
			defer listenersMu.Unlock()
			delete(listeners, id)
			if len(listeners) == 0 {
				C.removeDefaultInputListener()
			}
		})
	}, nil
}

func (c *coreAudioBridge) Close() error {
	return nil
}
