// Package result defines structured outcomes of remote executions.
package result

import "time"

// TimeoutExitCode follows the shell convention for a command killed by
// its time limit.
const TimeoutExitCode = 124

// RunResult captures the diagnostics block returned by the execution
// service for one run.
type RunResult struct {
	Output   string
	TimedOut bool
	RealTime float64 // seconds
	UserTime float64 // seconds
	SysTime  float64 // seconds
	CPUShare float64 // percent
	ExitCode int
}

// Timeout builds the sentinel result reported when the internal timer
// aborted the call. Timing fields carry the enforced timeout, not
// measured values, and CPU share stays zero.
func Timeout(elapsed time.Duration) RunResult {
	secs := elapsed.Seconds()
	return RunResult{
		TimedOut: true,
		RealTime: secs,
		UserTime: secs,
		SysTime:  secs,
		CPUShare: 0,
		ExitCode: TimeoutExitCode,
	}
}
