package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deixis/smoke/internal/report"
)

// DefaultRetryDelay separates the attempts of a retried scenario.
const DefaultRetryDelay = time.Second

// Recorder receives scenario and run outcomes.
// Implemented by metrics.Collector.
type Recorder interface {
	ObserveScenario(name string, status report.Status, elapsed time.Duration)
	ObserveRun(passed bool)
}

// Runner runs scenarios sequentially and never stops early: every
// scenario gets its outcome recorded.
type Runner struct {
	Probes     ProbeRunner
	Subjects   SubjectLauncher
	Locator    Locator
	Timeout    time.Duration // per-probe budget
	RetryDelay time.Duration
	Log        logrus.FieldLogger
	Recorder   Recorder
}

// RunAll runs scenarios in order and returns the aggregate report.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) *Report {
	rep := &Report{
		ID:       uuid.New().String(),
		Started:  time.Now(),
		Outcomes: make([]Outcome, 0, len(scenarios)),
	}
	log := r.logger().WithField("run_id", rep.ID)
	log.WithField("scenarios", len(scenarios)).Info("run started")

	for _, sc := range scenarios {
		o := r.run(ctx, sc, log.WithField("scenario", sc.Name))
		rep.Outcomes = append(rep.Outcomes, o)
		if r.Recorder != nil {
			r.Recorder.ObserveScenario(o.Name, o.Status, o.Duration)
		}
	}

	rep.Duration = time.Since(rep.Started)
	passed := rep.Passed()
	if r.Recorder != nil {
		r.Recorder.ObserveRun(passed)
	}
	log.WithFields(logrus.Fields{"passed": passed, "duration": rep.Duration}).Info("run finished")
	return rep
}

// run executes one scenario, retrying it when it asks for more than one
// attempt.
func (r *Runner) run(ctx context.Context, sc Scenario, log logrus.FieldLogger) Outcome {
	start := time.Now()
	var (
		env      *Env
		attempts int
	)
	op := func() error {
		attempts++
		env = r.newEnv()
		err := r.attempt(ctx, sc, env)
		if err != nil && attempts < sc.Attempts && ctx.Err() == nil {
			log.WithError(err).WithField("attempt", attempts).Warn("scenario failed, retrying")
		}
		return err
	}

	var err error
	if sc.Attempts > 1 {
		b := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryDelay()), uint64(sc.Attempts-1))
		err = backoff.Retry(func() error {
			err := op()
			if err != nil && ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(b, ctx))
	} else {
		err = op()
	}

	o := Outcome{
		Name:     sc.Name,
		Status:   report.Pass,
		Err:      err,
		Duration: time.Since(start),
		Attempts: attempts,
	}
	if err == nil {
		log.WithField("duration", o.Duration).Info("scenario passed")
		return o
	}

	o.Status = report.Fail
	if last := env.Last; last != nil {
		code := last.ExitCode
		o.Diagnostics = Diagnostics{
			Argv:      last.Argv,
			Stdout:    last.Stdout,
			Stderr:    last.Stderr,
			ExitCode:  &code,
			Truncated: last.Truncated,
		}
	}
	o.Kind = Classify(err, &o.Diagnostics)
	log.WithError(err).WithField("kind", o.Kind).Error("scenario failed")
	return o
}

// attempt runs the steps of sc once. A panic in a step is reported as the
// scenario's error; subject scopes have already been unwound by then.
func (r *Runner) attempt(ctx context.Context, sc Scenario, env *Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	return runSteps(ctx, env, sc.Steps)
}

func (r *Runner) newEnv() *Env {
	return &Env{
		Probes:   r.Probes,
		Subjects: r.Subjects,
		Locator:  r.Locator,
		Timeout:  r.Timeout,
	}
}

func (r *Runner) retryDelay() time.Duration {
	if r.RetryDelay > 0 {
		return r.RetryDelay
	}
	return DefaultRetryDelay
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}
