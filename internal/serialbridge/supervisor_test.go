package serialbridge

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() }) //nolint:errcheck // Test cleanup
	return ln
}

func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() //nolint:errcheck // Only the port is needed
	return addr
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervision did not end")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Binary: "ser2net"})

	if s.cfg.RestartDelay != defaultRestartDelay {
		t.Errorf("RestartDelay = %v, want %v", s.cfg.RestartDelay, defaultRestartDelay)
	}
	if s.cfg.MaxRestartDelay != defaultMaxRestartDelay {
		t.Errorf("MaxRestartDelay = %v, want %v", s.cfg.MaxRestartDelay, defaultMaxRestartDelay)
	}
	if s.cfg.ReadyTimeout != defaultReadyTimeout {
		t.Errorf("ReadyTimeout = %v, want %v", s.cfg.ReadyTimeout, defaultReadyTimeout)
	}
	if s.cfg.Network != "tcp" {
		t.Errorf("Network = %q, want tcp", s.cfg.Network)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want stopped", s.Status())
	}
}

func TestBackoff(t *testing.T) {
	s := New(Config{RestartDelay: time.Second, MaxRestartDelay: 8 * time.Second})

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{7, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := s.backoff(tt.failures); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestStart_WaitsForAddress(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	ln := listen(t)

	s := New(Config{
		Binary:  sleep,
		Args:    []string{"30"},
		Address: ln.Addr().String(),
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if st := s.Stats(); st.Status != StatusRunning || st.PID == 0 {
		t.Errorf("Stats() = %+v", st)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q after Stop", s.Status())
	}
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("HealthCheck() after Stop = %v, want ErrNotRunning", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStart_ExitsBeforeReady(t *testing.T) {
	sh := requireBinary(t, "sh")

	s := New(Config{
		Binary:       sh,
		Args:         []string{"-c", "exit 3"},
		Address:      freeAddress(t),
		ReadyTimeout: 5 * time.Second,
	})
	err := s.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want failed", s.Status())
	}
}

func TestStart_ReadyTimeout(t *testing.T) {
	sleep := requireBinary(t, "sleep")

	s := New(Config{
		Binary:          sleep,
		Args:            []string{"30"},
		Address:         freeAddress(t),
		ReadyTimeout:    300 * time.Millisecond,
		GracefulTimeout: time.Second,
	})
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	s := New(Config{Binary: "/nonexistent/ser2net"})

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want failed", s.Status())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestSupervise_RestartsAfterExit(t *testing.T) {
	sh := requireBinary(t, "sh")

	s := New(Config{
		Binary:       sh,
		Args:         []string{"-c", "sleep 0.1"},
		RestartDelay: 10 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop() //nolint:errcheck // Test cleanup

	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().Restarts < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Restarts = %d, want >= 2", s.Stats().Restarts)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSupervise_RestartLimit(t *testing.T) {
	sh := requireBinary(t, "sh")

	s := New(Config{
		Binary:             sh,
		Args:               []string{"-c", "exit 1"},
		RestartDelay:       10 * time.Millisecond,
		MaxRestartAttempts: 2,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, s)

	st := s.Stats()
	if st.Restarts != 2 || st.Status != StatusFailed {
		t.Errorf("Stats() = %+v, want 2 restarts and failed", st)
	}
	if st.LastError == "" {
		t.Error("LastError should describe the exit")
	}
}

func TestSupervise_StopsOnContextCancel(t *testing.T) {
	sleep := requireBinary(t, "sleep")

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{Binary: sleep, Args: []string{"30"}})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cancel()
	waitDone(t, s)
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want stopped", s.Status())
	}
}
