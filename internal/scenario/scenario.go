// Package scenario runs named smoke scenarios against the system under
// test and aggregates their outcomes into a report.
//
// A scenario is an ordered list of steps. Steps share an Env holding the
// result of the most recent probe, so a Check step validates whatever the
// step before it captured. Scenarios run strictly one after another; a
// failing step ends its scenario and the runner moves on to the next one.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deixis/smoke/internal/expect"
	"github.com/deixis/smoke/internal/probe"
	"github.com/deixis/smoke/internal/subject"
)

// ProbeRunner executes one bounded-time command.
// Implemented by probe.Runner.
type ProbeRunner interface {
	Run(ctx context.Context, p probe.Probe) (*probe.Result, error)
}

// SubjectLauncher runs body while a healthy subject is up.
// Implemented by subject.Launcher.
type SubjectLauncher interface {
	With(ctx context.Context, path string, body func(context.Context, *subject.Subject) error) error
}

// Locator resolves a role name to an executable.
// Implemented by locate.Resolver.
type Locator interface {
	Path(role string) (string, error)
}

// Scenario is a named, ordered list of steps.
type Scenario struct {
	Name        string
	Description string
	Steps       []Step
	Attempts    int // runs of a failing scenario; 0 and 1 mean no retry
}

// Env is the state shared by the steps of one scenario attempt.
type Env struct {
	Probes   ProbeRunner
	Subjects SubjectLauncher
	Locator  Locator
	Timeout  time.Duration // per-probe budget; zero defers to the probe runner

	// Last is the result of the most recent probe, nil before the first.
	Last *probe.Result
	// Subject is the running subject inside a WithSubject scope.
	Subject *subject.Subject
}

// Step is one action of a scenario.
type Step func(ctx context.Context, env *Env) error

// ErrNoResult is returned by a check that runs before any probe.
var ErrNoResult = errors.New("no probe result to check")

// ErrNestedSubject is returned when a subject scope is opened inside
// another one. Exactly one subject may run at a time.
var ErrNestedSubject = errors.New("subject scope already open")

// WithSubject starts the executable for role, runs steps while it is
// healthy and terminates it afterwards on every path.
func WithSubject(role string, steps ...Step) Step {
	return func(ctx context.Context, env *Env) error {
		if env.Subject != nil {
			return ErrNestedSubject
		}
		path, err := env.Locator.Path(role)
		if err != nil {
			return err
		}
		return env.Subjects.With(ctx, path, func(ctx context.Context, s *subject.Subject) error {
			env.Subject = s
			defer func() { env.Subject = nil }()
			return runSteps(ctx, env, steps)
		})
	}
}

// RunTool runs the executable for role with args. The probe must exit 0.
func RunTool(role string, args ...string) Step {
	return func(ctx context.Context, env *Env) error {
		path, err := env.Locator.Path(role)
		if err != nil {
			return err
		}
		argv := append([]string{path}, args...)
		return env.run(ctx, argv)
	}
}

// RunCommand runs an arbitrary argv, e.g. a system tool. The command must
// exit 0.
func RunCommand(argv ...string) Step {
	return func(ctx context.Context, env *Env) error {
		return env.run(ctx, argv)
	}
}

func (env *Env) run(ctx context.Context, argv []string) error {
	env.Last = nil
	res, err := env.Probes.Run(ctx, probe.New(env.Timeout, argv...))
	if err != nil {
		return err
	}
	env.Last = res
	return nil
}

// Check validates the stdout of the last probe.
func Check(e expect.Expectation) Step {
	return func(_ context.Context, env *Env) error {
		if env.Last == nil {
			return ErrNoResult
		}
		err := complete(env.Last, e.Kind, e.Want)
		if err == nil {
			err = e.Check(env.Last.Stdout)
		}
		if err != nil {
			return fmt.Errorf("checking %s output: %w", tool(env.Last.Argv), err)
		}
		return nil
	}
}

// complete fails when the probe wrote more stdout than the runner kept.
// A cut-off output may still satisfy a prefix pattern.
func complete(res *probe.Result, kind expect.Kind, want string) error {
	if !res.Truncated {
		return nil
	}
	return &expect.MismatchError{
		Kind:     kind,
		Actual:   res.Stdout,
		Expected: want,
		Reason:   "output exceeded max_output",
	}
}

// CheckARPSequence parses the last output as address-resolution replies
// and verifies n attempts numbered 1..n.
func CheckARPSequence(n int) Step {
	return checkSequence(expect.ParseARPReplies, n)
}

// CheckEchoSequence parses the last output as echo replies and verifies
// n attempts numbered 1..n.
func CheckEchoSequence(n int) Step {
	return checkSequence(expect.ParseEchoReplies, n)
}

func checkSequence(parse func(string) ([]expect.Line, error), n int) Step {
	return func(_ context.Context, env *Env) error {
		if env.Last == nil {
			return ErrNoResult
		}
		err := complete(env.Last, expect.KindFormat, fmt.Sprintf("%d replies", n))
		if err == nil {
			var lines []expect.Line
			if lines, err = parse(env.Last.Stdout); err == nil {
				err = expect.CheckSequence(lines, n)
			}
		}
		if err != nil {
			return fmt.Errorf("checking %s replies: %w", tool(env.Last.Argv), err)
		}
		return nil
	}
}

func runSteps(ctx context.Context, env *Env, steps []Step) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func tool(argv []string) string {
	return probe.Probe{Argv: argv}.Tool()
}

// Select returns the scenarios of all named in names, in catalogue
// order. An empty names selects everything.
func Select(all []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Scenario
	for _, s := range all {
		if want[s.Name] {
			out = append(out, s)
			delete(want, s.Name)
		}
	}
	if len(want) > 0 {
		var unknown []string
		for _, n := range names {
			if want[n] {
				unknown = append(unknown, n)
				delete(want, n)
			}
		}
		return nil, fmt.Errorf("unknown scenario(s) %v; available: %v", unknown, Names(all))
	}
	return out, nil
}

// Names returns the scenario names in order.
func Names(all []Scenario) []string {
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.Name
	}
	return out
}
