package audio

import (
	"fmt"

	"github.com/petems/miclock/internal/config"
	"github.com/rs/zerolog"
)

// New creates the bridge for the configured backend
func New(cfg *config.Config, log zerolog.Logger) (Bridge, error) {
	backend := cfg.PlatformBackend()
	log.Debug().Str("backend", backend).Msg("Opening audio bridge")

	switch backend {
	case config.BackendCoreAudio:
		return newCoreAudio()
	case config.BackendPulse:
		return NewPulse(log)
	case config.BackendPortAudio:
		return NewPortAudio()
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
}
