package engine

import "time"

// Outcome is the result of one reconciliation.
type Outcome int

const (
	// NoTarget means no device is selected, so nothing was enforced.
	NoTarget Outcome = iota
	AlreadyCorrect
	Applied
	DeviceNotFound
	SystemRejected
	// QueryFailed means the current default could not be read; the
	// reconciliation was skipped.
	QueryFailed
)

func (o Outcome) String() string {
	switch o {
	case NoTarget:
		return "no-target"
	case AlreadyCorrect:
		return "already-correct"
	case Applied:
		return "applied"
	case DeviceNotFound:
		return "device-not-found"
	case SystemRejected:
		return "system-rejected"
	case QueryFailed:
		return "query-failed"
	default:
		return "unknown"
	}
}

// Trigger names what started a reconciliation.
type Trigger string

const (
	TriggerStartup      Trigger = "startup"
	TriggerTimer        Trigger = "timer"
	TriggerNotification Trigger = "notification"
	TriggerUser         Trigger = "user"
)

// Status is a diagnostic snapshot of the engine.
type Status struct {
	Target        string
	LastAttemptAt time.Time
	LastOutcome   Outcome
	LastError     error
	LastTrigger   Trigger
	Attempts      int
	Writes        int
}

// Enforcing reports whether a target device is set.
func (s Status) Enforcing() bool {
	return s.Target != ""
}
