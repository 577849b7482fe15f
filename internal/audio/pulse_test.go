package audio

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	builtinSource = "alsa_input.pci-0000_00_1f.3.analog-stereo"
	yetiSource    = "alsa_input.usb-Blue_Yeti-00.mono-fallback"
)

var _ Bridge = (*pulseBridge)(nil)

type fakeServer struct {
	mu         sync.Mutex
	sources    proto.GetSourceInfoListReply
	defaultSrc string
	setCalls   []string
	failNext   error
	dials      int
	closes     int
}

func (s *fakeServer) dial() (pulseConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	return &fakeConn{server: s}, nil
}

type fakeConn struct {
	server *fakeServer
}

func (c *fakeConn) RawRequest(req proto.RequestArgs, rpl proto.Reply) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}

	switch r := req.(type) {
	case *proto.GetSourceInfoList:
		*rpl.(*proto.GetSourceInfoListReply) = s.sources
	case *proto.GetServerInfo:
		rpl.(*proto.GetServerInfoReply).DefaultSourceName = s.defaultSrc
	case *proto.SetDefaultSource:
		for _, src := range s.sources {
			if src.SourceName == r.SourceName {
				s.setCalls = append(s.setCalls, r.SourceName)
				s.defaultSrc = r.SourceName
				return nil
			}
		}
		return errors.New("No such entity")
	}
	return nil
}

func (c *fakeConn) Close() {
	c.server.mu.Lock()
	c.server.closes++
	c.server.mu.Unlock()
}

type fakeEvents struct {
	stream  string
	streams atomic.Int32
}

func (f *fakeEvents) Stream(ctx context.Context, args ...string) (io.ReadCloser, func() error, error) {
	f.streams.Add(1)
	return io.NopCloser(strings.NewReader(f.stream)), func() error { return nil }, nil
}

func source(index uint32, name, desc string, channels byte) *proto.GetSourceInfoReply {
	return &proto.GetSourceInfoReply{
		SourceIndex: index,
		SourceName:  name,
		Device:      desc,
		SampleSpec:  proto.SampleSpec{Channels: channels},
	}
}

func newFakePulse() (*pulseBridge, *fakeServer, *fakeEvents) {
	server := &fakeServer{
		sources: proto.GetSourceInfoListReply{
			source(0, "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor", "Monitor of Built-in Audio Analog Stereo", 2),
			source(1, builtinSource, "Built-in Audio Analog Stereo", 2),
			source(52, yetiSource, "Yeti Stereo Microphone Mono", 1),
		},
		defaultSrc: builtinSource,
	}
	events := &fakeEvents{}
	return newPulseBridge(server.dial, events, zerolog.Nop()), server, events
}

func TestIsDefaultInputEvent(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Event 'change' on server #0", true},
		{"Event 'new' on source #61", true},
		{"Event 'remove' on source #61", true},
		{"Event 'change' on source #61", false},
		{"Event 'new' on sink-input #12", false},
		{"Event 'change' on client #3", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, isDefaultInputEvent(tt.line))
		})
	}
}

func TestPulseListDevicesSkipsMonitors(t *testing.T) {
	bridge, _, _ := newFakePulse()

	records, err := bridge.ListDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []DeviceRecord{
		{ID: builtinSource, Name: "Built-in Audio Analog Stereo", InputChannels: 2},
		{ID: yetiSource, Name: "Yeti Stereo Microphone Mono", InputChannels: 1},
	}, records)
}

func TestPulseDefaultAndSet(t *testing.T) {
	bridge, server, _ := newFakePulse()
	ctx := context.Background()

	h, err := bridge.DefaultInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, Handle(builtinSource), h)

	yeti, err := bridge.Lookup(ctx, yetiSource)
	require.NoError(t, err)
	require.NoError(t, bridge.SetDefaultInput(ctx, yeti))
	assert.Equal(t, []string{yetiSource}, server.setCalls)

	h, err = bridge.DefaultInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, yeti, h)
	assert.Equal(t, 1, server.dials, "connection is reused")
}

func TestPulseErrors(t *testing.T) {
	bridge, server, _ := newFakePulse()
	ctx := context.Background()

	_, err := bridge.Lookup(ctx, "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor")
	assert.ErrorIs(t, err, ErrDeviceNotFound, "monitors cannot be looked up")

	assert.ErrorIs(t, bridge.SetDefaultInput(ctx, "gone"), ErrRejected)

	server.defaultSrc = ""
	_, err = bridge.DefaultInput(ctx)
	assert.ErrorIs(t, err, ErrQuery)
}

func TestPulseRedialsAfterFailure(t *testing.T) {
	bridge, server, _ := newFakePulse()
	ctx := context.Background()

	_, err := bridge.ListDevices(ctx)
	require.NoError(t, err)

	server.failNext = errors.New("connection reset by peer")
	_, err = bridge.DefaultInput(ctx)
	assert.ErrorIs(t, err, ErrQuery)
	assert.Equal(t, 1, server.closes, "broken connection is closed")

	h, err := bridge.DefaultInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, Handle(builtinSource), h)
	assert.Equal(t, 2, server.dials)

	require.NoError(t, bridge.Close())
	assert.Equal(t, 2, server.closes)
}

func TestPulseSubscribeFiltersAndRestarts(t *testing.T) {
	bridge, _, events := newFakePulse()
	bridge.restartDelay = time.Millisecond
	events.stream = "Event 'change' on server #0\nEvent 'new' on sink-input #4\n"

	var calls atomic.Int32
	cancel, err := bridge.Subscribe(func() { calls.Add(1) })
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return events.streams.Load() >= 2
	}, time.Second, time.Millisecond, "subscribe should restart after pactl exits")

	cancel()
	cancel()

	n := calls.Load()
	assert.Equal(t, events.streams.Load(), n, "one relevant event per stream run")
}

func TestPulseSubscribeWithoutPactl(t *testing.T) {
	bridge, _, _ := newFakePulse()
	bridge.events = nil

	_, err := bridge.Subscribe(func() {})
	assert.ErrorIs(t, err, ErrUnsupported)
}
