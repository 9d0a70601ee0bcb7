package gpsbridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of the helper process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Defaults applied by NewSupervisor for zero Config fields.
const (
	DefaultRestartDelay    = 2 * time.Second
	DefaultMaxRestartDelay = time.Minute
	DefaultStableThreshold = 2 * time.Minute
	DefaultGracefulTimeout = 5 * time.Second
	DefaultStaleTimeout    = 30 * time.Second

	// maxLineBytes caps one stdout line.
	maxLineBytes = 4096
)

// Errors returned by the supervisor.
var (
	ErrAlreadyRunning = errors.New("position helper is already running")
	ErrNoCommand      = errors.New("position helper command is empty")
	ErrStale          = errors.New("position helper stopped producing fixes")
)

// Config holds the helper command and supervision policy.
type Config struct {
	// Command is the helper executable.
	Command string

	// Args are passed to Command.
	Args []string

	// Env are additional environment variables (key=value format).
	Env []string

	// RestartDelay is the first backoff after an unexpected exit. Each
	// consecutive failure doubles it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for the backoff to reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// StaleTimeout is how long the helper may go without printing a line.
	// A single window of silence kills the helper so it can be restarted.
	// Negative disables the watchdog.
	StaleTimeout time.Duration
}

// LineHandler receives one stdout line. The slice is only valid for the
// duration of the call.
type LineHandler func(line []byte)

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs and restarts the position helper.
type Supervisor struct {
	config  Config
	handler LineHandler
	logger  Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	readers       *sync.WaitGroup
	status        Status
	restartCount  int
	lines         int64
	lastLine      time.Time
	lastError     error
	startTime     time.Time
	stopRequested bool

	done   chan struct{}
	stopCh chan struct{}
}

// NewSupervisor creates a supervisor. handler may be nil, in which case
// lines are only logged.
func NewSupervisor(cfg Config, handler LineHandler) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = DefaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = DefaultStableThreshold
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.StaleTimeout == 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}

	return &Supervisor{
		config:  cfg,
		handler: handler,
		logger:  noopLogger{},
		status:  StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the helper and begins supervising it.
// It returns an error if the first launch fails.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.config.Command == "" {
		return ErrNoCommand
	}

	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopRequested = false
	s.done = make(chan struct{})
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.launch(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastError = err
		done := s.done
		s.mu.Unlock()
		close(done)
		return err
	}

	go s.monitor(ctx)
	return nil
}

// launch starts one helper process.
func (s *Supervisor) launch(ctx context.Context) error {
	s.logger.Info("starting position helper",
		"command", s.config.Command,
		"args", s.config.Args,
	)

	cmd := exec.CommandContext(ctx, s.config.Command, s.config.Args...) //nolint:gosec // operator-configured helper

	// New process group so shutdown reaches the helper's children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.config.Env != nil {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting position helper: %w", err)
	}

	// cmd.Wait closes the pipes, so both readers must drain first.
	readers := &sync.WaitGroup{}
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readFixes(stdout)
	}()
	go func() {
		defer readers.Done()
		s.logStderr(stderr)
	}()

	now := time.Now()
	s.mu.Lock()
	s.cmd = cmd
	s.readers = readers
	s.status = StatusRunning
	s.startTime = now
	s.lastLine = now
	s.mu.Unlock()

	s.logger.Info("position helper started", "pid", cmd.Process.Pid)
	return nil
}

// readFixes hands each stdout line to the handler.
func (s *Supervisor) readFixes(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLineBytes), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		s.mu.Lock()
		s.lines++
		s.lastLine = time.Now()
		s.mu.Unlock()

		if s.handler != nil {
			s.handler(line)
		} else {
			s.logger.Debug("position helper line", "line", string(line))
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("position helper stdout closed", "error", err)
	}
}

// logStderr forwards helper diagnostics to the log.
func (s *Supervisor) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLineBytes), maxLineBytes)
	for scanner.Scan() {
		s.logger.Debug("position helper stderr", "output", scanner.Text())
	}
}

// wait blocks until the helper exits or the stale watchdog kills it.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd, readers *sync.WaitGroup) error {
	exitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		exitCh <- cmd.Wait()
	}()

	if s.config.StaleTimeout < 0 {
		return <-exitCh
	}

	timer := time.NewTimer(s.config.StaleTimeout)
	defer timer.Stop()

	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			// The context only kills the leader; children may still hold the pipes.
			if cmd.Process != nil {
				//nolint:errcheck // exit is observed on exitCh
				syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
			return <-exitCh

		case now := <-timer.C:
			s.mu.RLock()
			silent := now.Sub(s.lastLine)
			s.mu.RUnlock()

			if remaining := s.config.StaleTimeout - silent; remaining > 0 {
				timer.Reset(remaining)
				continue
			}

			s.logger.Error("position helper stale, killing", "silent", silent)
			if cmd.Process != nil {
				//nolint:errcheck // exit is observed on exitCh
				syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
			<-exitCh
			return ErrStale
		}
	}
}

// backoff returns the delay before restart attempt n (1-based).
func (s *Supervisor) backoff(attempt int) time.Duration {
	d := s.config.RestartDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.config.MaxRestartDelay {
			return s.config.MaxRestartDelay
		}
	}
	return d
}

// monitor waits for exits and restarts the helper.
func (s *Supervisor) monitor(ctx context.Context) {
	s.mu.RLock()
	done, stopCh := s.done, s.stopCh
	s.mu.RUnlock()
	defer close(done)

	consecutive := 0
	for {
		s.mu.RLock()
		cmd, readers := s.cmd, s.readers
		started := s.startTime
		s.mu.RUnlock()

		err := s.wait(ctx, cmd, readers)

		s.mu.Lock()
		stopRequested := s.stopRequested
		s.mu.Unlock()

		if stopRequested || ctx.Err() != nil {
			s.logger.Info("position helper stopped")
			s.setStatus(StatusStopped)
			return
		}

		s.logger.Warn("position helper exited", "error", err, "ran_for", time.Since(started))

		s.mu.Lock()
		s.lastError = err
		s.status = StatusFailed
		s.mu.Unlock()

		if time.Since(started) >= s.config.StableThreshold {
			consecutive = 0
		}
		consecutive++

		if s.config.MaxRestartAttempts > 0 && consecutive > s.config.MaxRestartAttempts {
			s.logger.Error("position helper restart limit reached", "attempts", consecutive-1)
			return
		}

		delay := s.backoff(consecutive)
		s.logger.Info("restarting position helper", "attempt", consecutive, "delay", delay)

		select {
		case <-ctx.Done():
			s.setStatus(StatusStopped)
			return
		case <-stopCh:
			s.setStatus(StatusStopped)
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		stopRequested = s.stopRequested
		if !stopRequested {
			s.restartCount++
		}
		s.mu.Unlock()
		if stopRequested {
			s.setStatus(StatusStopped)
			return
		}

		for {
			lerr := s.launch(ctx)
			if lerr == nil {
				break
			}
			s.logger.Error("failed to restart position helper", "error", lerr)
			s.mu.Lock()
			s.lastError = lerr
			s.mu.Unlock()

			consecutive++
			if s.config.MaxRestartAttempts > 0 && consecutive > s.config.MaxRestartAttempts {
				s.logger.Error("position helper restart limit reached", "attempts", consecutive-1)
				return
			}
			select {
			case <-ctx.Done():
				s.setStatus(StatusStopped)
				return
			case <-stopCh:
				s.setStatus(StatusStopped)
				return
			case <-time.After(s.backoff(consecutive)):
			}
		}
	}
}

// Stop terminates the helper: SIGTERM to the process group, then SIGKILL
// after GracefulTimeout.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.stopRequested && s.stopCh != nil {
		close(s.stopCh)
	}
	s.stopRequested = true
	cmd := s.cmd
	done := s.done
	running := s.status == StatusRunning || s.status == StatusStarting
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping position helper", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to send SIGTERM to position helper", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.config.GracefulTimeout):
		s.logger.Warn("position helper ignored SIGTERM, sending SIGKILL", "timeout", s.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing position helper: %w", err)
	}
	<-done
	return nil
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Stats is a snapshot of supervisor state.
type Stats struct {
	Status       Status `json:"status"`
	PID          int    `json:"pid,omitempty"`
	Lines        int64  `json:"lines"`
	RestartCount int    `json:"restart_count"`
	LastError    string `json:"last_error,omitempty"`
}

// Stats returns current statistics for the helper.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Status:       s.status,
		Lines:        s.lines,
		RestartCount: s.restartCount,
	}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}

// Status returns the current helper status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
