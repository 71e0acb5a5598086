package subject

import (
	"fmt"
	"strings"
)

// StartupError is returned when the subject exits before its grace period
// has elapsed, or cannot be spawned at all.
type StartupError struct {
	Path   string
	Err    error
	Output string // leading combined output of the subject, if any
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("subject %s could not be started: %v", e.Path, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
