package serialbridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the state of the supervised daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay    = 2 * time.Second
	defaultMaxRestartDelay = time.Minute
	defaultReadyTimeout    = 10 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	// stableThreshold resets the restart backoff once the daemon has
	// stayed up this long.
	stableThreshold = 2 * time.Minute

	readyPollInterval = 100 * time.Millisecond
)

var (
	// ErrAlreadyRunning is returned by Start on a running supervisor.
	ErrAlreadyRunning = errors.New("serialbridge: already running")

	// ErrNotReady is returned when the listen address does not accept
	// connections within the ready timeout.
	ErrNotReady = errors.New("serialbridge: not accepting connections")

	// ErrNotRunning is returned by HealthCheck when the daemon is down.
	ErrNotRunning = errors.New("serialbridge: not running")
)

// Config holds the daemon command and the address it serves the radio on.
type Config struct {
	Binary string
	Args   []string

	// Network and Address are dialled to decide readiness, e.g. "tcp"
	// and "127.0.0.1:2000".
	Network string
	Address string

	// RestartDelay is the first backoff after an unexpected exit. It
	// doubles per consecutive failure up to MaxRestartDelay.
	// Default: 2 seconds.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestartAttempts stops restarting after this many consecutive
	// failures. 0 means unlimited.
	MaxRestartAttempts int

	// ReadyTimeout bounds the wait for Address after each start.
	// Default: 10 seconds.
	ReadyTimeout time.Duration

	// GracefulTimeout is the wait between SIGTERM and SIGKILL on Stop.
	// Default: 5 seconds.
	GracefulTimeout time.Duration
}

// Logger defines the logging interface used by the supervisor.
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

// Stats describes the supervised daemon.
type Stats struct {
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Supervisor runs the bridge daemon and keeps it running.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	exited    chan struct{}
	status    Status
	started   time.Time
	restarts  int
	lastError error
	stopping  bool

	stop chan struct{}
	done chan struct{}
}

// New creates a supervisor. Call Start to launch the daemon.
func New(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(defaultMaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	return &Supervisor{cfg: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the daemon and waits until Address accepts connections.
// The daemon is restarted with backoff whenever it exits until Stop is
// called or ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopping = false
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.launch(); err != nil {
		s.fail(err)
		close(s.done)
		return err
	}
	if err := s.waitReady(ctx); err != nil {
		s.fail(err)
		s.terminate()
		close(s.done)
		return err
	}

	go s.supervise(ctx)
	return nil
}

func (s *Supervisor) launch() error {
	// #nosec G204 -- binary and args come from the operator's config
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.cfg.Binary, err)
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.status = StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	var pipes sync.WaitGroup
	pipes.Add(2)
	go s.logOutput("stdout", stdout, &pipes)
	go s.logOutput("stderr", stderr, &pipes)
	go func() {
		// Wait must follow the pipe readers.
		pipes.Wait()
		err := cmd.Wait()
		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()
		close(exited)
	}()

	s.logger.Info("serial bridge started", "binary", s.cfg.Binary, "pid", cmd.Process.Pid)
	return nil
}

func (s *Supervisor) logOutput(stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debug("serial bridge output", "stream", stream, "line", scanner.Text())
	}
}

// waitReady polls Address until a connection succeeds, the daemon exits
// or the ready timeout passes.
func (s *Supervisor) waitReady(ctx context.Context) error {
	if s.cfg.Address == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	s.mu.RLock()
	exited := s.exited
	s.mu.RUnlock()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, s.cfg.Network, s.cfg.Address)
		if err == nil {
			conn.Close() //nolint:errcheck // readiness dial only
			return nil
		}

		select {
		case <-exited:
			return fmt.Errorf("%w: %s exited: %v", ErrNotReady, s.cfg.Binary, s.LastError())
		case <-ctx.Done():
			return fmt.Errorf("%w: %s %s: %w", ErrNotReady, s.cfg.Network, s.cfg.Address, err)
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) supervise(ctx context.Context) {
	defer close(s.done)

	failures := 0
	for {
		s.mu.RLock()
		exited := s.exited
		started := s.started
		stop := s.stop
		s.mu.RUnlock()

		select {
		case <-exited:
		case <-stop:
			// Stop terminates the daemon; wait for it to exit.
			<-exited
			s.setStatus(StatusStopped)
			return
		case <-ctx.Done():
			s.terminate()
			s.setStatus(StatusStopped)
			return
		}

		if s.isStopping() {
			s.setStatus(StatusStopped)
			return
		}

		if time.Since(started) >= stableThreshold {
			failures = 0
		}
		failures++
		s.setStatus(StatusFailed)
		s.logger.Warn("serial bridge exited", "error", s.LastError(), "consecutive_failures", failures)

		if s.cfg.MaxRestartAttempts > 0 && failures > s.cfg.MaxRestartAttempts {
			s.logger.Error("serial bridge restart limit reached", "attempts", failures-1)
			return
		}

		delay := s.backoff(failures)
		select {
		case <-ctx.Done():
			s.setStatus(StatusStopped)
			return
		case <-stop:
			s.setStatus(StatusStopped)
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()

		if err := s.launch(); err != nil {
			s.fail(err)
			s.logger.Error("restarting serial bridge failed", "error", err)
			// A closed channel makes the next iteration count this failure.
			closed := make(chan struct{})
			close(closed)
			s.mu.Lock()
			s.exited = closed
			s.started = time.Now()
			s.mu.Unlock()
			continue
		}
		if err := s.waitReady(ctx); err != nil {
			s.logger.Warn("serial bridge not ready after restart", "error", err)
		}
	}
}

// backoff doubles RestartDelay per consecutive failure, capped at
// MaxRestartDelay.
func (s *Supervisor) backoff(failures int) time.Duration {
	delay := s.cfg.RestartDelay
	for i := 1; i < failures && delay < s.cfg.MaxRestartDelay; i++ {
		delay *= 2
	}
	return min(delay, s.cfg.MaxRestartDelay)
}

// Stop terminates the daemon and waits for supervision to end.
// Safe to call multiple times.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		if s.stop != nil {
			close(s.stop)
		}
	}
	done := s.done
	s.mu.Unlock()

	err := s.terminate()
	if done != nil {
		<-done
	}
	s.setStatus(StatusStopped)
	s.logger.Info("serial bridge stopped")
	return err
}

// terminate sends SIGTERM to the daemon's process group, then SIGKILL
// after GracefulTimeout.
func (s *Supervisor) terminate() error {
	s.mu.RLock()
	cmd := s.cmd
	exited := s.exited
	s.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	default:
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("sending SIGTERM to serial bridge failed", "pid", pid, "error", err)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("serial bridge ignored SIGTERM, killing", "pid", pid)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing serial bridge: %w", err)
	}
	<-exited
	return nil
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.lastError = err
	s.mu.Unlock()
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Supervisor) isStopping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopping
}

// Status returns the current daemon state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastError returns the error from the most recent exit or failed start.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// HealthCheck fails unless the daemon is running.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if status := s.Status(); status != StatusRunning {
		return fmt.Errorf("%w: %s", ErrNotRunning, status)
	}
	return nil
}

// Stats returns the current daemon statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Status: s.status, Restarts: s.restarts}
	if s.cmd != nil && s.cmd.Process != nil && s.status == StatusRunning {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.started)
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}
