package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/miclock/internal/audio"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownDevice = errors.New("device not in catalog")
	ErrTimeout       = errors.New("audio system call timed out")
	ErrWriteInFlight = errors.New("previous default input change still pending")
	ErrQueryInFlight = errors.New("previous audio system query still pending")
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultCatalogInterval = 30 * time.Second
	DefaultCallTimeout     = 2 * time.Second
)

// Refresher produces device catalog snapshots
type Refresher interface {
	Refresh(ctx context.Context) ([]audio.AudioDevice, error)
}

// SelectionStore persists the chosen device id
type SelectionStore interface {
	Load() (string, bool, error)
	Save(id string) error
	Clear() error
}

type Config struct {
	Bridge          audio.Bridge
	Catalog         Refresher
	Store           SelectionStore
	Logger          zerolog.Logger
	PollInterval    time.Duration
	CatalogInterval time.Duration
	CallTimeout     time.Duration
}

// Engine keeps the selected device pinned as the OS default input.
//
// Every operation that changes state or talks to the bridge holds serial,
// so at most one reconciliation, and therefore one OS write, is in flight.
// Timer ticks and OS notifications only post to wake and are drained by Run.
type Engine struct {
	bridge   audio.Bridge
	catalog  Refresher
	store    SelectionStore
	log      zerolog.Logger
	interval time.Duration
	rescan   time.Duration
	timeout  time.Duration

	serial sync.Mutex

	mu      sync.Mutex
	target  string
	devices []audio.AudioDevice
	status  Status

	// set while a bridge call is running, including one that timed out
	writing  atomic.Bool
	querying atomic.Bool
	listing  atomic.Bool

	wake    chan struct{}
	updates chan struct{}
}

func New(cfg Config) *Engine {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	rescan := cfg.CatalogInterval
	if rescan <= 0 {
		rescan = DefaultCatalogInterval
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Engine{
		bridge:   cfg.Bridge,
		catalog:  cfg.Catalog,
		store:    cfg.Store,
		log:      cfg.Logger,
		interval: interval,
		rescan:   rescan,
		timeout:  timeout,
		wake:     make(chan struct{}, 1),
		updates:  make(chan struct{}, 1),
	}
}

// Init loads the persisted selection and drops it if the device is no longer
// present. Errors are returned for diagnostics only; the engine stays usable.
func (e *Engine) Init(ctx context.Context) error {
	e.serial.Lock()
	defer e.serial.Unlock()

	var errs []error

	id, ok, err := e.store.Load()
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to load selected device")
		errs = append(errs, err)
	} else if ok {
		e.setTarget(id)
		e.log.Info().Str("device", id).Msg("Loaded selected device")
	}

	if _, err := e.refreshLocked(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Run reconciles on every poll interval and on every OS change notification
// until ctx is done. The device catalog is rescanned on its own slower
// interval so hot-plugged devices appear and vanished ones are dropped. The
// subscription and tickers are released on return.
func (e *Engine) Run(ctx context.Context) error {
	cancelSub, err := e.bridge.Subscribe(e.Notify)
	if err != nil {
		e.log.Warn().Err(err).Msg("Change notifications unavailable, relying on polling")
		cancelSub = func() {}
	}
	defer cancelSub()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	rescan := time.NewTicker(e.rescan)
	defer rescan.Stop()

	e.log.Info().Dur("interval", e.interval).Dur("rescan", e.rescan).Msg("Enforcement loop started")
	e.Reconcile(ctx, TriggerStartup)

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Enforcement loop stopped")
			return nil
		case <-ticker.C:
			e.Reconcile(ctx, TriggerTimer)
		case <-rescan.C:
			// failures are logged and the previous snapshot stays
			_, _ = e.RefreshCatalog(ctx)
		case <-e.wake:
			e.Reconcile(ctx, TriggerNotification)
		}
	}
}

// Notify requests a reconciliation from Run. It never blocks; requests that
// arrive while one is already pending are coalesced.
func (e *Engine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Reconcile compares the OS default input with the target and corrects it.
func (e *Engine) Reconcile(ctx context.Context, trigger Trigger) Outcome {
	e.serial.Lock()
	defer e.serial.Unlock()
	return e.reconcileLocked(ctx, trigger)
}

func (e *Engine) reconcileLocked(ctx context.Context, trigger Trigger) Outcome {
	target, _ := e.CurrentTarget()
	if target == "" {
		return e.record(trigger, NoTarget, nil)
	}

	handle, err := exclusive(ctx, &e.querying, ErrQueryInFlight, e.timeout, func(ctx context.Context) (audio.Handle, error) {
		return e.bridge.Lookup(ctx, target)
	})
	if errors.Is(err, audio.ErrDeviceNotFound) {
		return e.record(trigger, DeviceNotFound, err)
	}
	if err != nil {
		return e.record(trigger, QueryFailed, err)
	}

	current, err := exclusive(ctx, &e.querying, ErrQueryInFlight, e.timeout, e.bridge.DefaultInput)
	if err != nil {
		return e.record(trigger, QueryFailed, err)
	}
	if current == handle {
		return e.record(trigger, AlreadyCorrect, nil)
	}

	_, err = exclusive(ctx, &e.writing, ErrWriteInFlight, e.timeout, func(ctx context.Context) (struct{}, error) {
		e.mu.Lock()
		e.status.Writes++
		e.mu.Unlock()
		return struct{}{}, e.bridge.SetDefaultInput(ctx, handle)
	})
	if err != nil {
		return e.record(trigger, SystemRejected, err)
	}
	return e.record(trigger, Applied, nil)
}

func (e *Engine) record(trigger Trigger, outcome Outcome, err error) Outcome {
	e.mu.Lock()
	prev := e.status.LastOutcome
	first := e.status.Attempts == 0
	e.status.LastAttemptAt = time.Now()
	e.status.LastOutcome = outcome
	e.status.LastError = err
	e.status.LastTrigger = trigger
	e.status.Attempts++
	target := e.target
	e.mu.Unlock()

	changed := first || prev != outcome

	var ev *zerolog.Event
	switch outcome {
	case Applied:
		ev = e.log.Info()
	case DeviceNotFound, SystemRejected, QueryFailed:
		if changed {
			ev = e.log.Warn()
		} else {
			ev = e.log.Debug()
		}
	default:
		ev = e.log.Debug()
	}
	ev.Err(err).
		Str("device", target).
		Str("trigger", string(trigger)).
		Str("outcome", outcome.String()).
		Msg("Reconciled default input")

	if changed || outcome == Applied {
		e.signal()
	}
	return outcome
}

// SetTarget selects id, persists it and enforces it immediately. A
// persistence failure is returned after enforcement; the in-memory target
// stays in effect for this session.
func (e *Engine) SetTarget(ctx context.Context, id string) error {
	e.serial.Lock()
	defer e.serial.Unlock()

	e.mu.Lock()
	known := audio.Contains(e.devices, id)
	e.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	e.setTarget(id)
	e.log.Info().Str("device", id).Msg("Selected device")

	perr := e.store.Save(id)
	if perr != nil {
		e.log.Error().Err(perr).Str("device", id).Msg("Failed to persist selected device")
	}

	e.reconcileLocked(ctx, TriggerUser)
	return perr
}

// ClearTarget stops enforcement and forgets the persisted selection.
func (e *Engine) ClearTarget(ctx context.Context) error {
	e.serial.Lock()
	defer e.serial.Unlock()
	return e.clearLocked("cleared by user")
}

func (e *Engine) clearLocked(reason string) error {
	prev, _ := e.CurrentTarget()
	e.setTarget("")
	e.log.Info().Str("device", prev).Str("reason", reason).Msg("Cleared selected device")

	if err := e.store.Clear(); err != nil {
		e.log.Error().Err(err).Msg("Failed to clear persisted device")
		return err
	}
	return nil
}

func (e *Engine) setTarget(id string) {
	e.mu.Lock()
	e.target = id
	e.status.Target = id
	e.mu.Unlock()
	e.signal()
}

// RefreshCatalog replaces the device snapshot and drops the selection if its
// device has disappeared. On failure the previous snapshot is kept.
func (e *Engine) RefreshCatalog(ctx context.Context) ([]audio.AudioDevice, error) {
	e.serial.Lock()
	defer e.serial.Unlock()

	devices, err := e.refreshLocked(ctx)
	if err != nil {
		return e.Catalog(), err
	}
	return copyDevices(devices), nil
}

func (e *Engine) refreshLocked(ctx context.Context) ([]audio.AudioDevice, error) {
	devices, err := exclusive(ctx, &e.listing, ErrQueryInFlight, e.timeout, e.catalog.Refresh)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to refresh device catalog")
		return nil, err
	}

	e.mu.Lock()
	e.devices = devices
	target := e.target
	e.mu.Unlock()
	e.signal()

	e.log.Debug().Int("devices", len(devices)).Msg("Device catalog updated")

	if target != "" && !audio.Contains(devices, target) {
		// Store failures are logged by clearLocked; the catalog itself is fine
		_ = e.clearLocked("device no longer present")
	}
	return devices, nil
}

// CurrentTarget returns the selected device id, if any.
func (e *Engine) CurrentTarget() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target, e.target != ""
}

// Catalog returns a copy of the latest device snapshot.
func (e *Engine) Catalog() []audio.AudioDevice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyDevices(e.devices)
}

// Status returns a copy of the diagnostic status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Updates delivers a coalesced signal whenever the target, catalog or
// reconciliation outcome changes.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

func (e *Engine) signal() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func copyDevices(devices []audio.AudioDevice) []audio.AudioDevice {
	if devices == nil {
		return nil
	}
	out := make([]audio.AudioDevice, len(devices))
	copy(out, devices)
	return out
}

// exclusive runs fn under withTimeout unless an earlier call guarded by busy
// is still running, including one whose caller already timed out. It fails
// with inFlight in that case, so a hung OS call never accumulates goroutines.
func exclusive[T any](ctx context.Context, busy *atomic.Bool, inFlight error, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if !busy.CompareAndSwap(false, true) {
		var zero T
		return zero, inFlight
	}
	return withTimeout(ctx, d, func(ctx context.Context) (T, error) {
		defer busy.Store(false)
		return fn(ctx)
	})
}

// withTimeout runs fn with a deadline. If fn ignores its context and keeps
// running, the caller is released anyway and the late result is discarded.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}
