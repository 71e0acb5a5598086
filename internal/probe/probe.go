// Package probe runs short-lived probe commands with a wall-clock budget
// and captures their output as strictly decoded text.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Default values used when neither the Probe nor the Runner set one.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultMaxOutput = 1 << 20 // 1 MB
)

// Probe is a single command invocation. A zero Probe accepts any exit
// code; New returns one that fails on a non-zero exit.
type Probe struct {
	Argv           []string
	Timeout        time.Duration // falls back to Runner.Timeout
	RequireSuccess bool          // non-zero exit is a CommandError
}

// New returns a probe for argv that requires a zero exit code.
func New(timeout time.Duration, argv ...string) Probe {
	return Probe{Argv: argv, Timeout: timeout, RequireSuccess: true}
}

// Tool returns a short name for the probed executable, skipping a
// leading sudo.
func (p Probe) Tool() string {
	argv := p.Argv
	if len(argv) > 1 && filepath.Base(argv[0]) == "sudo" {
		argv = argv[1:]
	}
	if len(argv) == 0 {
		return ""
	}
	return filepath.Base(argv[0])
}

// Observer receives one notification per finished probe run.
// Implemented by metrics.Collector.
type Observer interface {
	ObserveProbe(tool, outcome string, elapsed time.Duration)
}

// Runner executes probes. A Runner has no mutable state and may be
// reused across scenarios.
type Runner struct {
	Timeout   time.Duration
	MaxOutput int // bytes per stream
	Log       logrus.FieldLogger
	Observer  Observer
}

// Run executes p and waits for it to exit or for its timeout to expire.
// On timeout the whole process group is killed and reaped before a
// *TimeoutError is returned; no partial Result is produced. On a normal
// exit any process the probe left behind in its group is killed too.
func (r *Runner) Run(ctx context.Context, p Probe) (*Result, error) {
	if len(p.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	runID := uuid.New().String()
	log := r.logger().WithFields(logrus.Fields{"run_id": runID, "argv": p.Argv})

	cmd := exec.Command(p.Argv[0], p.Argv[1:]...)
	// Own process group, so a timeout kills anything the probe spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Bounds Wait if a stray descendant keeps the output pipes open.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	out := &limitWriter{buf: &stdout, limit: maxOutput}
	errOut := &limitWriter{buf: &stderr, limit: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = errOut

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.observe(p, "error", 0)
		return nil, fmt.Errorf("executing %s: %w", p.Argv[0], err)
	}
	pid := cmd.Process.Pid
	log.WithField("pid", pid).Debug("probe started")

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		killGroup(cmd)
		<-done
		elapsed := time.Since(start)
		log.WithField("elapsed", elapsed).Warn("probe timed out")
		r.observe(p, "timeout", elapsed)
		return nil, &TimeoutError{Argv: p.Argv, Timeout: timeout, Pid: pid}
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		r.observe(p, "canceled", time.Since(start))
		return nil, fmt.Errorf("running %s: %w", p.Argv[0], ctx.Err())
	}
	elapsed := time.Since(start)

	// The leader is gone but anything it left in its group is not.
	if err := killStragglers(pid); err != nil {
		log.WithError(err).Warn("killing probe process group")
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(waitErr, exec.ErrWaitDelay):
			// A descendant held the output pipes past the leader's exit.
			log.Debug("probe output pipes held open by a descendant")
			exitCode = cmd.ProcessState.ExitCode()
		default:
			r.observe(p, "error", elapsed)
			return nil, fmt.Errorf("waiting for %s: %w", p.Argv[0], waitErr)
		}
	}

	res := &Result{
		RunID:     runID,
		Argv:      p.Argv,
		ExitCode:  exitCode,
		Elapsed:   elapsed,
		Truncated: out.truncated,
	}
	log = log.WithFields(logrus.Fields{"exit_code": exitCode, "elapsed": elapsed})
	if out.truncated || errOut.truncated {
		log.WithField("max_output", maxOutput).Warn("probe output truncated")
	}

	var err error
	if res.Stdout, err = decode(p.Argv, "stdout", stdout.Bytes()); err != nil {
		log.WithError(err).Warn("probe output rejected")
		r.observe(p, "decode", elapsed)
		return nil, err
	}
	if res.Stderr, err = decode(p.Argv, "stderr", stderr.Bytes()); err != nil {
		log.WithError(err).Warn("probe output rejected")
		r.observe(p, "decode", elapsed)
		return nil, err
	}

	if p.RequireSuccess && exitCode != 0 {
		log.Warn("probe exited non-zero")
		r.observe(p, "command", elapsed)
		return nil, &CommandError{
			Argv:     p.Argv,
			ExitCode: exitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}

	log.Debug("probe finished")
	r.observe(p, "ok", elapsed)
	return res, nil
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

func (r *Runner) observe(p Probe, outcome string, elapsed time.Duration) {
	if r.Observer != nil {
		r.Observer.ObserveProbe(p.Tool(), outcome, elapsed)
	}
}

// killGroup sends SIGKILL to the process group led by cmd. If the group
// signal fails the leader is killed directly.
func killGroup(cmd *exec.Cmd) {
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}

// killStragglers sends SIGKILL to what remains of the process group pgid
// after its leader exited. An empty group is not an error.
func killStragglers(pgid int) error {
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
