package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog"
)

// pulseConn is the part of *pulse.Client the bridge uses
type pulseConn interface {
	RawRequest(req proto.RequestArgs, rpl proto.Reply) error
	Close()
}

func dialPulse() (pulseConn, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("miclock"))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// eventStream starts `pactl subscribe`. Tests swap in canned output.
type eventStream interface {
	Stream(ctx context.Context, args ...string) (io.ReadCloser, func() error, error)
}

type execPactl struct{}

func (execPactl) Stream(ctx context.Context, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, "pactl", args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("pactl %s: %w", strings.Join(args, " "), err)
	}
	return stdout, cmd.Wait, nil
}

// pulseBridge talks to PulseAudio or PipeWire over the native protocol.
// Sources are identified by their name, which is stable across restarts.
// A broken connection is dropped and redialed on the next call.
type pulseBridge struct {
	dial         func() (pulseConn, error)
	events       eventStream
	log          zerolog.Logger
	restartDelay time.Duration

	mu   sync.Mutex
	conn pulseConn
}

// NewPulse connects to the PulseAudio server
func NewPulse(log zerolog.Logger) (Bridge, error) {
	p := newPulseBridge(dialPulse, execPactl{}, log)
	if err := p.request(&proto.GetServerInfo{}, &proto.GetServerInfoReply{}); err != nil {
		return nil, fmt.Errorf("failed to connect to PulseAudio: %w", err)
	}
	if _, err := exec.LookPath("pactl"); err != nil {
		log.Warn().Err(err).Msg("pactl not found, default input changes will only be seen by polling")
		p.events = nil
	}
	return p, nil
}

func newPulseBridge(dial func() (pulseConn, error), events eventStream, log zerolog.Logger) *pulseBridge {
	return &pulseBridge{
		dial:         dial,
		events:       events,
		log:          log,
		restartDelay: 2 * time.Second,
	}
}

func (p *pulseBridge) request(req proto.RequestArgs, rpl proto.Reply) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := p.dial()
		if err != nil {
			return err
		}
		p.conn = conn
	}

	if err := p.conn.RawRequest(req, rpl); err != nil {
		p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func (p *pulseBridge) sources() ([]*proto.GetSourceInfoReply, error) {
	var reply proto.GetSourceInfoListReply
	if err := p.request(&proto.GetSourceInfoList{}, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// isMonitor reports whether a source captures a sink's output
func isMonitor(s *proto.GetSourceInfoReply) bool {
	return strings.HasSuffix(s.SourceName, ".monitor")
}

func (p *pulseBridge) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	sources, err := p.sources()
	if err != nil {
		return nil, err
	}

	result := make([]DeviceRecord, 0, len(sources))
	for _, s := range sources {
		if isMonitor(s) {
			continue
		}
		rec := DeviceRecord{
			ID:            s.SourceName,
			Name:          s.Device,
			InputChannels: int(s.SampleSpec.Channels),
		}
		if s.SourceName == "" {
			rec.Err = fmt.Errorf("source #%d has no name", s.SourceIndex)
		}
		result = append(result, rec)
	}
	return result, nil
}

func (p *pulseBridge) DefaultInput(ctx context.Context) (Handle, error) {
	var info proto.GetServerInfoReply
	if err := p.request(&proto.GetServerInfo{}, &info); err != nil {
		return "", fmt.Errorf("%w: %v", ErrQuery, err)
	}
	if info.DefaultSourceName == "" {
		return "", fmt.Errorf("%w: no default source reported", ErrQuery)
	}
	return Handle(info.DefaultSourceName), nil
}

func (p *pulseBridge) SetDefaultInput(ctx context.Context, h Handle) error {
	if err := p.request(&proto.SetDefaultSource{SourceName: string(h)}, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}

func (p *pulseBridge) Lookup(ctx context.Context, id string) (Handle, error) {
	sources, err := p.sources()
	if err != nil {
		return "", err
	}
	for _, s := range sources {
		if s.SourceName == id && !isMonitor(s) {
			return Handle(s.SourceName), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Subscribe follows `pactl subscribe`, restarting it whenever it exits, until
// the returned cancel func is called.
func (p *pulseBridge) Subscribe(fn func()) (func(), error) {
	if p.events == nil {
		return nil, fmt.Errorf("pactl subscribe: %w", ErrUnsupported)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if err := p.follow(ctx, fn); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("pactl subscribe exited")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.restartDelay):
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (p *pulseBridge) follow(ctx context.Context, fn func()) error {
	stdout, wait, err := p.events.Stream(ctx, "subscribe")
	if err != nil {
		return err
	}
	defer stdout.Close()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if isDefaultInputEvent(scanner.Text()) {
			fn()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return wait()
}

func (p *pulseBridge) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

// isDefaultInputEvent reports whether a `pactl subscribe` line may mean the
// default source changed. Server changes carry default device updates; source
// add and remove can cause a fallback.
func isDefaultInputEvent(line string) bool {
	// Event 'change' on server #0
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "Event" || fields[2] != "on" {
		return false
	}
	kind := strings.Trim(fields[1], "'")
	facility := fields[3]

	switch facility {
	case "server":
		return kind == "change"
	case "source":
		return kind == "new" || kind == "remove"
	}
	return false
}
