// Package subject manages the lifecycle of the long-lived process under
// test: spawn, grace-period health check and guaranteed termination.
package subject

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultGrace is the startup grace period used when Launcher.Grace is unset.
const DefaultGrace = time.Second

// outputCap bounds how much subject output is kept for StartupError.
const outputCap = 4 << 10

// State is a point in the subject lifecycle.
type State int

const (
	NotStarted State = iota
	Starting
	Healthy
	Terminating
	Terminated
	FailedStart
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Healthy:
		return "healthy"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	case FailedStart:
		return "failed-start"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Subject is a running instance of the process under test. It is owned
// by the goroutine that started it; no other code may signal it.
type Subject struct {
	Path string

	cmd     *exec.Cmd
	state   State
	done    chan struct{} // closed once the process has been reaped
	waitErr error         // valid after done is closed
	output  *bytes.Buffer
}

// State returns the current lifecycle state.
func (s *Subject) State() State {
	return s.state
}

// Pid returns the process ID, or 0 if the process was never spawned.
func (s *Subject) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Exited reports whether the process has exited and been reaped.
func (s *Subject) Exited() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Stop kills the subject's process group and blocks until the process has
// been reaped. It is a no-op unless the subject is running.
func (s *Subject) Stop() error {
	if s.state != Healthy && s.state != Starting {
		return nil
	}
	s.state = Terminating

	var err error
	pid := s.Pid()
	if kerr := unix.Kill(-pid, unix.SIGKILL); kerr != nil && !errors.Is(kerr, unix.ESRCH) {
		err = fmt.Errorf("killing process group %d: %w", pid, kerr)
		if perr := s.cmd.Process.Kill(); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
			// Nothing can end the process, so waiting would block forever.
			return errors.Join(err, fmt.Errorf("killing process %d: %w", pid, perr))
		}
	}
	<-s.done
	s.state = Terminated
	return err
}

// Launcher starts subjects.
type Launcher struct {
	Grace time.Duration // startup grace period
	Args  []string      // extra arguments passed to every subject
	Log   logrus.FieldLogger
}

// Start spawns path and waits for the grace period. If the process exits
// before the grace period has elapsed, Start returns a *StartupError and
// the subject is left in FailedStart.
func (l *Launcher) Start(ctx context.Context, path string) (*Subject, error) {
	s := &Subject{Path: path, output: &bytes.Buffer{}}
	log := l.logger().WithField("subject", path)

	cmd := exec.Command(path, l.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	w := &capWriter{buf: s.output, limit: outputCap}
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = time.Second
	s.cmd = cmd

	s.state = Starting
	if err := cmd.Start(); err != nil {
		s.state = FailedStart
		return s, &StartupError{Path: path, Err: err}
	}
	log = log.WithField("pid", cmd.Process.Pid)
	log.Debug("subject spawned")

	s.done = make(chan struct{})
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	grace := l.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-s.done:
		return s, l.failed(s, log)
	case <-ctx.Done():
		if err := s.Stop(); err != nil {
			log.WithError(err).Warn("subject teardown failed")
		}
		return s, fmt.Errorf("starting %s: %w", path, ctx.Err())
	case <-timer.C:
	}

	// Poll once more: the process may have exited right at the deadline.
	if s.Exited() {
		return s, l.failed(s, log)
	}
	s.state = Healthy
	log.Info("subject healthy")
	return s, nil
}

func (l *Launcher) failed(s *Subject, log logrus.FieldLogger) error {
	s.state = FailedStart
	err := &StartupError{Path: s.Path, Err: s.waitErr, Output: s.output.String()}
	if s.waitErr == nil {
		err.Err = errors.New("exited during grace period")
	}
	log.WithError(err).Error("subject could not be started")
	return err
}

// With starts the subject at path, runs body once it is healthy and
// terminates the subject before returning, whatever body did. The error
// returned by body is returned unchanged; a teardown failure is logged
// and never replaces it.
func (l *Launcher) With(ctx context.Context, path string, body func(context.Context, *Subject) error) error {
	s, err := l.Start(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Stop(); err != nil {
			l.logger().WithError(err).WithField("pid", s.Pid()).Warn("subject teardown failed")
		}
	}()
	return body(ctx, s)
}

func (l *Launcher) logger() logrus.FieldLogger {
	if l.Log != nil {
		return l.Log
	}
	return logrus.StandardLogger()
}

// capWriter keeps the first limit bytes written to it.
type capWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *capWriter) Write(p []byte) (int, error) {
	if remaining := w.limit - w.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
