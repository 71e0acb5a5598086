// Package report provides structured persistence and retrieval of
// scenario run results.
package report

import (
	"fmt"
	"time"
)

// Status is the outcome of one scenario.
type Status string

const (
	Pass Status = "pass"
	Fail Status = "fail"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// RunResult holds the outcome of one run over a list of scenarios.
type RunResult struct {
	ID        string           `json:"id"`
	Started   time.Time        `json:"started"`
	Duration  time.Duration    `json:"duration"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// ScenarioResult is the stored form of a scenario outcome.
type ScenarioResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Kind     string        `json:"kind,omitempty"` // error kind on failure
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts,omitempty"`

	// Diagnostics, populated on failure when the error carries them.
	Argv      []string `json:"argv,omitempty"`
	Stdout    string   `json:"stdout,omitempty"`
	Stderr    string   `json:"stderr,omitempty"`
	ExitCode  *int     `json:"exit_code,omitempty"`
	Truncated bool     `json:"truncated,omitempty"` // stdout cut at max_output
	Expected  string   `json:"expected,omitempty"`
	Actual    string   `json:"actual,omitempty"`
}

// Passed reports whether every scenario passed.
func (r *RunResult) Passed() bool {
	for _, s := range r.Scenarios {
		if s.Status != Pass {
			return false
		}
	}
	return true
}

// Counts returns the number of passed and failed scenarios.
func (r *RunResult) Counts() (passed, failed int) {
	for _, s := range r.Scenarios {
		if s.Status == Pass {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// ByScenario returns the stored outcome of the named scenario.
func ByScenario(result *RunResult, name string) (*ScenarioResult, error) {
	for i := range result.Scenarios {
		if result.Scenarios[i].Name == name {
			return &result.Scenarios[i], nil
		}
	}
	return nil, fmt.Errorf("run %s has no scenario %q", result.ID, name)
}

// Failures returns the failed scenarios in run order.
func Failures(result *RunResult) []ScenarioResult {
	var out []ScenarioResult
	for _, s := range result.Scenarios {
		if s.Status != Pass {
			out = append(out, s)
		}
	}
	return out
}
