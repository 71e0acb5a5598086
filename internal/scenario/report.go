package scenario

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/deixis/smoke/internal/expect"
	"github.com/deixis/smoke/internal/probe"
	"github.com/deixis/smoke/internal/report"
	"github.com/deixis/smoke/internal/subject"
)

// Failure kinds, as recorded in Outcome.Kind.
const (
	KindStartup  = "startup"
	KindTimeout  = "timeout"
	KindCommand  = "command"
	KindDecode   = "decode"
	KindMismatch = "mismatch"
	KindError    = "error"
)

// Report is the aggregate outcome of one RunAll call.
type Report struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Outcomes []Outcome
}

// Outcome is the result of one scenario.
type Outcome struct {
	Name        string
	Status      report.Status
	Kind        string // empty on pass
	Err         error
	Duration    time.Duration
	Attempts    int
	Diagnostics Diagnostics
}

// Diagnostics hold what a failed scenario saw last.
type Diagnostics struct {
	Argv      []string
	Stdout    string
	Stderr    string
	ExitCode  *int
	Truncated bool // Stdout was cut at the output cap
	Expected  string
	Actual    string
}

// Passed reports whether every scenario passed.
func (r *Report) Passed() bool {
	for _, o := range r.Outcomes {
		if o.Status != report.Pass {
			return false
		}
	}
	return true
}

// Err combines the failures of all scenarios, or returns nil.
func (r *Report) Err() error {
	var err error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", o.Name, o.Err))
		}
	}
	return err
}

// RunResult converts the report into its stored form.
func (r *Report) RunResult() *report.RunResult {
	out := &report.RunResult{
		ID:        r.ID,
		Started:   r.Started,
		Duration:  r.Duration,
		Scenarios: make([]report.ScenarioResult, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		s := report.ScenarioResult{
			Name:     o.Name,
			Status:   o.Status,
			Kind:     o.Kind,
			Duration: o.Duration,
			Attempts: o.Attempts,
			Argv:     o.Diagnostics.Argv,
			Stdout:   o.Diagnostics.Stdout,
			Stderr:   o.Diagnostics.Stderr,
			ExitCode:  o.Diagnostics.ExitCode,
			Truncated: o.Diagnostics.Truncated,
			Expected:  o.Diagnostics.Expected,
			Actual:    o.Diagnostics.Actual,
		}
		if o.Err != nil {
			s.Error = o.Err.Error()
		}
		out.Scenarios = append(out.Scenarios, s)
	}
	return out
}

// Classify returns the failure kind of err and fills d with the details
// the error carries.
func Classify(err error, d *Diagnostics) string {
	var (
		startupErr  *subject.StartupError
		timeoutErr  *probe.TimeoutError
		commandErr  *probe.CommandError
		decodeErr   *probe.DecodeError
		mismatchErr *expect.MismatchError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &startupErr):
		d.Argv = []string{startupErr.Path}
		d.Stderr = startupErr.Output
		return KindStartup
	case errors.As(err, &timeoutErr):
		d.Argv = timeoutErr.Argv
		return KindTimeout
	case errors.As(err, &commandErr):
		code := commandErr.ExitCode
		d.Argv = commandErr.Argv
		d.Stdout = commandErr.Stdout
		d.Stderr = commandErr.Stderr
		d.ExitCode = &code
		return KindCommand
	case errors.As(err, &decodeErr):
		d.Argv = decodeErr.Argv
		return KindDecode
	case errors.As(err, &mismatchErr):
		d.Expected = mismatchErr.Expected
		d.Actual = mismatchErr.Actual
		return KindMismatch
	default:
		return KindError
	}
}
