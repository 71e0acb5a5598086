package probe

import "time"

// Result holds the captured output of a probe that ran to completion.
type Result struct {
	RunID     string        // unique identifier for this invocation
	Argv      []string      // command that produced the output
	Stdout    string        // strictly decoded 7-bit text
	Stderr    string        // strictly decoded 7-bit text
	ExitCode  int           // process exit code
	Elapsed   time.Duration // wall time from spawn to reap
	Truncated bool          // stdout exceeded the size cap
}
