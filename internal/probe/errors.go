package probe

import (
	"fmt"
	"strings"
	"time"
)

// TimeoutError is returned when a probe exceeds its wall-clock budget.
// The probe has been killed and reaped by the time the error is returned.
type TimeoutError struct {
	Argv    []string
	Timeout time.Duration
	Pid     int // reaped process ID, kept for diagnostics
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", strings.Join(e.Argv, " "), e.Timeout)
}

// CommandError is returned when a probe that must succeed exits non-zero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s exited with code %d", strings.Join(e.Argv, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", firstLine(s))
	}
	return b.String()
}

// DecodeError is returned when captured output contains a byte outside
// the 7-bit range.
type DecodeError struct {
	Argv   []string
	Stream string // "stdout" or "stderr"
	Offset int
	Byte   byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s: non-ASCII byte 0x%02x at offset %d", strings.Join(e.Argv, " "), e.Stream, e.Byte, e.Offset)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
