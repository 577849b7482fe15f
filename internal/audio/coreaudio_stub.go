//go:build !darwin

package audio

import "fmt"

func newCoreAudio() (Bridge, error) {
	return nil, fmt.Errorf("coreaudio backend: %w", ErrUnsupported)
}
