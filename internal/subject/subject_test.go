package subject

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// writeScript writes an executable shell script into a temp dir.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestLauncher(t *testing.T) (*Launcher, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return &Launcher{Grace: 100 * time.Millisecond, Log: log}, hook
}

// assertReaped checks that pid has been waited for and no longer exists.
func assertReaped(t *testing.T, s *Subject, pid int) {
	t.Helper()
	if s.State() != Terminated {
		t.Errorf("State() = %s, want %s", s.State(), Terminated)
	}
	if !s.Exited() {
		t.Error("Exited() = false, want true")
	}
	if err := unix.Kill(pid, 0); !errors.Is(err, unix.ESRCH) {
		t.Errorf("kill(%d, 0) = %v, want ESRCH", pid, err)
	}
}

func TestWith_Normal(t *testing.T) {
	l, _ := newTestLauncher(t)
	path := writeScript(t, "stack", "exec sleep 60")

	var got *Subject
	var pid int
	err := l.With(context.Background(), path, func(_ context.Context, s *Subject) error {
		got = s
		pid = s.Pid()
		if s.State() != Healthy {
			t.Errorf("State() in body = %s, want %s", s.State(), Healthy)
		}
		if s.Exited() {
			t.Error("subject exited inside its scope")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	assertReaped(t, got, pid)
}

func TestWith_BodyErrorPreserved(t *testing.T) {
	l, _ := newTestLauncher(t)
	path := writeScript(t, "stack", "exec sleep 60")

	sentinel := errors.New("probe failed")
	var got *Subject
	var pid int
	err := l.With(context.Background(), path, func(_ context.Context, s *Subject) error {
		got = s
		pid = s.Pid()
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("With() = %v, want the body error unchanged", err)
	}
	assertReaped(t, got, pid)
}

func TestWith_BodyPanics(t *testing.T) {
	l, _ := newTestLauncher(t)
	path := writeScript(t, "stack", "exec sleep 60")

	var got *Subject
	var pid int
	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("recover() = %v, want boom", r)
			}
		}()
		_ = l.With(context.Background(), path, func(_ context.Context, s *Subject) error {
			got = s
			pid = s.Pid()
			panic("boom")
		})
	}()
	assertReaped(t, got, pid)
}

func TestWith_SubjectCrashedInScope(t *testing.T) {
	l, hook := newTestLauncher(t)
	marker := filepath.Join(t.TempDir(), "go")
	// Stays up through the grace period, then exits on its own.
	path := writeScript(t, "stack", "while [ ! -e "+marker+" ]; do sleep 0.05; done; exit 1")

	var got *Subject
	err := l.With(context.Background(), path, func(_ context.Context, s *Subject) error {
		got = s
		if err := os.WriteFile(marker, nil, 0o644); err != nil {
			return err
		}
		for !s.Exited() {
			time.Sleep(10 * time.Millisecond)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if got.State() != Terminated {
		t.Errorf("State() = %s, want %s", got.State(), Terminated)
	}
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			t.Errorf("unexpected log entry: %s %s", e.Level, e.Message)
		}
	}
}

func TestWith_StartupFailure(t *testing.T) {
	l, hook := newTestLauncher(t)
	path := writeScript(t, "stack", "echo 'tap0: operation not permitted' >&2; exit 3")

	called := false
	err := l.With(context.Background(), path, func(context.Context, *Subject) error {
		called = true
		return nil
	})
	if called {
		t.Error("body ran although the subject failed to start")
	}
	var sErr *StartupError
	if !errors.As(err, &sErr) {
		t.Fatalf("err = %v, want *StartupError", err)
	}
	if !strings.Contains(sErr.Output, "operation not permitted") {
		t.Errorf("Output = %q, want the subject's stderr", sErr.Output)
	}
	if !strings.Contains(err.Error(), "could not be started") {
		t.Errorf("error = %q", err)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.ErrorLevel {
		t.Error("expected the startup failure to be logged at error level")
	}
}

func TestStart_ExitZeroDuringGrace(t *testing.T) {
	l, _ := newTestLauncher(t)
	path := writeScript(t, "stack", "exit 0")

	s, err := l.Start(context.Background(), path)
	var sErr *StartupError
	if !errors.As(err, &sErr) {
		t.Fatalf("err = %v, want *StartupError", err)
	}
	if s.State() != FailedStart {
		t.Errorf("State() = %s, want %s", s.State(), FailedStart)
	}
	// Stop on a failed subject is a no-op.
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if s.State() != FailedStart {
		t.Errorf("State() after Stop = %s, want %s", s.State(), FailedStart)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	l, _ := newTestLauncher(t)
	s, err := l.Start(context.Background(), filepath.Join(t.TempDir(), "stack"))
	var sErr *StartupError
	if !errors.As(err, &sErr) {
		t.Fatalf("err = %v, want *StartupError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want to wrap os.ErrNotExist", err)
	}
	if s.State() != FailedStart {
		t.Errorf("State() = %s, want %s", s.State(), FailedStart)
	}
}

func TestStart_ContextCanceled(t *testing.T) {
	l, _ := newTestLauncher(t)
	l.Grace = 10 * time.Second
	path := writeScript(t, "stack", "exec sleep 60")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s, err := l.Start(ctx, path)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if s.State() != Terminated {
		t.Errorf("State() = %s, want %s", s.State(), Terminated)
	}
}

func TestStop_Idempotent(t *testing.T) {
	l, _ := newTestLauncher(t)
	path := writeScript(t, "stack", "exec sleep 60")

	s, err := l.Start(context.Background(), path)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := s.Pid()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	assertReaped(t, s, pid)
}

func TestStop_KillsChildren(t *testing.T) {
	l, _ := newTestLauncher(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	path := writeScript(t, "stack", "sleep 60 & echo $! > "+pidFile+"; wait")

	s, err := l.Start(context.Background(), path)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != Terminated {
		t.Errorf("State() = %s, want %s", s.State(), Terminated)
	}
	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("reading child pid: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Fatal("child pid file is empty")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		NotStarted:  "not-started",
		Starting:    "starting",
		Healthy:     "healthy",
		Terminating: "terminating",
		Terminated:  "terminated",
		FailedStart: "failed-start",
		State(42):   "state(42)",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
