package parser

import (
	"github.com/weiihann/labrun/environment"
	"github.com/weiihann/labrun/store"
)

// Error labels written to the "error" attribute.
const (
	ErrorSuccess        = "success"
	ErrorFailure        = "failure"
	ErrorTimeExceeded   = "resource-exceeded-time"
	ErrorMemoryExceeded = "resource-exceeded-memory"
	ErrorCancelled      = "cancelled"
)

// ExitCode is the generic parser every chain starts with. It classifies the
// run by its environment status and records exit code and measured usage.
func ExitCode() Parser {
	return Func{ParserName: "exitcode", Fn: parseExitCode}
}

func parseExitCode(raw store.RawResult) Partial {
	p := NewPartial()

	p.Values["exit_code"] = float64(raw.ExitCode)
	p.Values["run_time_limit_exceeded"] = 0
	p.Values["run_memory_limit_exceeded"] = 0

	if raw.WallTime > 0 {
		p.Values["wall_time"] = raw.WallTime
	}
	if raw.PeakMemory > 0 {
		p.Values["peak_memory"] = float64(raw.PeakMemory)
	}

	switch raw.Status {
	case environment.StatusCompleted:
		p.Labels["error"] = ErrorSuccess
	case environment.StatusResourceExceeded:
		if raw.Reason == environment.ReasonMemory {
			p.Labels["error"] = ErrorMemoryExceeded
			p.Values["run_memory_limit_exceeded"] = 1
		} else {
			p.Labels["error"] = ErrorTimeExceeded
			p.Values["run_time_limit_exceeded"] = 1
		}
	case environment.StatusCancelled:
		p.Labels["error"] = ErrorCancelled
	default:
		p.Labels["error"] = ErrorFailure
	}

	return p
}
