package alert

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/shadow-agent/internal/shadow"
)

// DefaultDuration is the alert window length used when none is configured.
const DefaultDuration = 3000 * time.Millisecond

// State is the actuator state.
type State string

// Actuator states.
const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Actuator is the alert window state machine.
//
// Trigger and Check are called from the control loop only. Active and
// Triggered may be read from any goroutine.
type Actuator struct {
	hazard   string
	duration time.Duration
	signal   Signal
	logger   Logger

	active    atomic.Bool
	startTime time.Time
	triggered atomic.Int64
}

// NewActuator creates an Actuator in the IDLE state.
//
// Parameters:
//   - hazard: Alert message that fires the output
//   - duration: Window length; the output turns off once strictly more has elapsed
//   - signal: Physical output (nil means log only)
//   - logger: Logger (nil means no logging)
func NewActuator(hazard string, duration time.Duration, signal Signal, logger Logger) *Actuator {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if signal == nil {
		signal = NewLogSignal(logger)
	}
	return &Actuator{
		hazard:   hazard,
		duration: duration,
		signal:   signal,
		logger:   logger,
	}
}

// Trigger handles an alert event.
//
// IDLE → ACTIVE when ev.Message equals the hazard signature: the signal is
// asserted and the window starts at now. Any event while ACTIVE is ignored.
//
// Returns true if the window was opened by this call.
func (a *Actuator) Trigger(ev shadow.AlertEvent, now time.Time) bool {
	if ev.Message != a.hazard {
		return false
	}
	if a.active.Load() {
		a.logger.Debug("hazard alert ignored, window already active",
			"since", a.startTime, "elapsed", now.Sub(a.startTime))
		return false
	}

	a.startTime = now
	a.active.Store(true)
	a.triggered.Add(1)

	if err := a.signal.Set(true); err != nil {
		a.logger.Error("asserting alert signal", "signal", a.signal.Name(), "error", err)
	}
	a.logger.Info("alert window opened", "duration", a.duration, "description", ev.Description)
	return true
}

// Check closes the window once now - start exceeds the duration.
//
// Returns true if the window was closed by this call.
func (a *Actuator) Check(now time.Time) bool {
	if !a.active.Load() {
		return false
	}
	if now.Sub(a.startTime) <= a.duration {
		return false
	}

	a.active.Store(false)

	if err := a.signal.Set(false); err != nil {
		a.logger.Error("deasserting alert signal", "signal", a.signal.Name(), "error", err)
	}
	a.logger.Info("alert window closed", "elapsed", now.Sub(a.startTime))
	return true
}

// State returns the current state.
func (a *Actuator) State() State {
	if a.active.Load() {
		return StateActive
	}
	return StateIdle
}

// Active reports whether the window is open.
func (a *Actuator) Active() bool {
	return a.active.Load()
}

// Triggered returns how many windows have been opened.
func (a *Actuator) Triggered() int64 {
	return a.triggered.Load()
}

// Release deasserts the signal unconditionally. Called on shutdown so the
// output is never left on.
func (a *Actuator) Release() {
	if !a.active.Swap(false) {
		return
	}
	if err := a.signal.Set(false); err != nil {
		a.logger.Error("releasing alert signal", "signal", a.signal.Name(), "error", err)
	}
}
