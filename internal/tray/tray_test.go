package tray

import (
	"testing"

	"github.com/petems/miclock/internal/audio"
	"github.com/petems/miclock/internal/engine"
	"github.com/stretchr/testify/assert"
)

func TestEmojiForStatus(t *testing.T) {
	tests := []struct {
		name   string
		status engine.Status
		want   string
	}{
		{
			name:   "no target",
			status: engine.Status{LastOutcome: engine.Applied},
			want:   "⚪️",
		},
		{
			name:   "applied",
			status: engine.Status{Target: "A", LastOutcome: engine.Applied},
			want:   "🟢",
		},
		{
			name:   "already correct",
			status: engine.Status{Target: "A", LastOutcome: engine.AlreadyCorrect},
			want:   "🟢",
		},
		{
			name:   "device missing",
			status: engine.Status{Target: "A", LastOutcome: engine.DeviceNotFound},
			want:   "🟡",
		},
		{
			name:   "rejected",
			status: engine.Status{Target: "A", LastOutcome: engine.SystemRejected},
			want:   "🔴",
		},
		{
			name:   "query failed",
			status: engine.Status{Target: "A", LastOutcome: engine.QueryFailed},
			want:   "🔴",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, emojiForStatus(tt.status))
		})
	}
}

func TestMenuTitle(t *testing.T) {
	devices := []audio.AudioDevice{
		{ID: "A", Name: "Mic A", InputChannels: 1},
		{ID: "B", Name: "Mic B", InputChannels: 2},
	}

	assert.Equal(t, "Microphone: none", menuTitle(devices, ""))
	assert.Equal(t, "Microphone: Mic B", menuTitle(devices, "B"))
	assert.Equal(t, "Microphone: gone", menuTitle(devices, "gone"))
	assert.Equal(t, "Microphone: none", menuTitle(nil, ""))
}

func TestAboutText(t *testing.T) {
	assert.Equal(t, "miclock v1.2.0 (abc1234)", aboutText("v1.2.0", "abc1234"))
	assert.Equal(t, "miclock dev (unknown)", aboutText("dev", "unknown"))
}
