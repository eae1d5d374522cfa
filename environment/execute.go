package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/weiihann/labrun/internal/fsutil"
)

// File names inside a run directory.
const (
	SpecFile    = "run.json"
	OutcomeFile = "status.json"
	StdoutFile  = "run.log"
	StderrFile  = "run.err"
)

// Outcome is what a finished run measured. It is written to status.json.
type Outcome struct {
	Status     Status    `json:"status"`
	Reason     Reason    `json:"reason,omitempty"`
	ExitCode   int       `json:"exit_code"`
	WallTime   float64   `json:"wall_time"`
	PeakMemory uint64    `json:"peak_memory_kb"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// WriteSpec stores spec as the run.json of runDir.
func WriteSpec(runDir string, spec Spec) error {
	if err := fsutil.WriteJSON(filepath.Join(runDir, SpecFile), spec); err != nil {
		return fmt.Errorf("write run spec: %w", err)
	}

	return nil
}

// ReadSpec loads the run.json of runDir.
func ReadSpec(runDir string) (Spec, error) {
	var spec Spec
	if err := fsutil.ReadJSON(filepath.Join(runDir, SpecFile), &spec); err != nil {
		return Spec{}, fmt.Errorf("read run spec: %w", err)
	}

	return spec, nil
}

// ReadOutcome loads the status.json of runDir. A run that has not
// finished yields an error matching os.ErrNotExist.
func ReadOutcome(runDir string) (Outcome, error) {
	var out Outcome
	if err := fsutil.ReadJSON(filepath.Join(runDir, OutcomeFile), &out); err != nil {
		return Outcome{}, err
	}

	return out, nil
}

// Execute runs the command stored in runDir under its limits, captures
// its output next to it and records the outcome. Every path through a
// started command ends in a written status.json.
func Execute(ctx context.Context, logger *slog.Logger, runDir string) (Outcome, error) {
	spec, err := ReadSpec(runDir)
	if err != nil {
		return Outcome{}, err
	}

	// A stale outcome from an earlier attempt must not survive a rerun.
	if err := os.Remove(filepath.Join(runDir, OutcomeFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Outcome{}, fmt.Errorf("clear outcome: %w", err)
	}

	runCtx := ctx
	if spec.Limits.Time > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Limits.Time)
		defer cancel()
	}

	name, args := limitMemory(spec.Executable, spec.Args, spec.Limits.Memory)

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = runDir
	cmd.Env = append(os.Environ(), spec.Env...)
	configureProcess(cmd)

	stdout, err := os.Create(filepath.Join(runDir, StdoutFile))
	if err != nil {
		return Outcome{}, fmt.Errorf("create stdout: %w", err)
	}
	defer stdout.Close()

	stderr, err := os.Create(filepath.Join(runDir, StderrFile))
	if err != nil {
		return Outcome{}, fmt.Errorf("create stderr: %w", err)
	}
	defer stderr.Close()

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if spec.Stdin != "" {
		in, err := os.Open(spec.Stdin)
		if err != nil {
			return Outcome{}, fmt.Errorf("open stdin %s: %w", spec.Stdin, err)
		}
		defer in.Close()

		cmd.Stdin = in
	}

	logger.DebugContext(ctx, "starting run",
		slog.String("run", spec.ID),
		slog.String("executable", spec.Executable),
	)

	start := time.Now()
	runErr := cmd.Run()
	wall := time.Since(start)

	out := classify(ctx, runCtx, cmd, runErr, spec.Limits)
	out.WallTime = wall.Seconds()
	out.StartedAt = start.UTC()

	if err := fsutil.WriteJSON(filepath.Join(runDir, OutcomeFile), out); err != nil {
		return out, fmt.Errorf("write outcome: %w", err)
	}

	logger.InfoContext(ctx, "run finished",
		slog.String("run", spec.ID),
		slog.String("status", string(out.Status)),
		slog.String("reason", string(out.Reason)),
		slog.Duration("wall_time", wall),
	)

	return out, nil
}

func classify(
	ctx, runCtx context.Context,
	cmd *exec.Cmd,
	runErr error,
	limits Limits,
) Outcome {
	out := Outcome{ExitCode: -1}

	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
		out.PeakMemory = peakMemoryKB(cmd.ProcessState)
	}

	switch {
	case ctx.Err() != nil:
		out.Status = StatusCancelled
		out.Message = ctx.Err().Error()

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.Status = StatusResourceExceeded
		out.Reason = ReasonTime
		out.Message = fmt.Sprintf("wall-time limit %s exceeded", limits.Time)

	case limits.Memory > 0 && out.PeakMemory*1024 >= limits.Memory:
		out.Status = StatusResourceExceeded
		out.Reason = ReasonMemory
		out.Message = fmt.Sprintf("memory limit %d bytes exceeded", limits.Memory)

	case killedByOOM(cmd.ProcessState):
		out.Status = StatusResourceExceeded
		out.Reason = ReasonMemory
		out.Message = "killed by SIGKILL"

	case runErr == nil:
		out.Status = StatusCompleted

	default:
		out.Status = StatusFailed
		out.Message = runErr.Error()
	}

	return out
}
