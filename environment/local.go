package environment

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Local runs jobs as child processes of the current process, at most
// Processes at a time.
type Local struct {
	processes int
	logger    *slog.Logger

	mu     sync.Mutex
	queued map[string]Job
}

// NewLocal creates a local pool. processes < 1 means one.
func NewLocal(processes int, logger *slog.Logger) *Local {
	if processes < 1 {
		processes = 1
	}

	return &Local{
		processes: processes,
		logger:    logger.With(slog.String("env", "local")),
		queued:    make(map[string]Job),
	}
}

// Name implements Environment.
func (l *Local) Name() string { return "local" }

// Detached implements Environment.
func (l *Local) Detached() bool { return false }

// Submit queues job; it starts when Await is called.
func (l *Local) Submit(_ context.Context, job Job) (Handle, error) {
	if job.RunDir == "" {
		return Handle{}, &SubmissionError{RunID: job.ID, Err: errors.New("run dir is required")}
	}

	if err := WriteSpec(job.RunDir, job.Spec); err != nil {
		return Handle{}, &SubmissionError{RunID: job.ID, Err: err}
	}

	h := Handle{
		RunID:   job.ID,
		JobID:   uuid.NewString(),
		Backend: l.Name(),
		RunDir:  job.RunDir,
	}

	l.mu.Lock()
	l.queued[h.JobID] = job
	l.mu.Unlock()

	return h, nil
}

// Await runs the queued jobs of handles on the pool. Handles that were
// submitted by an earlier process resolve from their run directory. When
// ctx ends, running and queued jobs finish as cancelled.
func (l *Local) Await(ctx context.Context, handles []Handle) ([]Completion, error) {
	completions := make([]Completion, len(handles))

	var g errgroup.Group
	g.SetLimit(l.processes)

	for i, h := range handles {
		job, ok := l.take(h.JobID)
		if !ok {
			completions[i] = resolve(h, ReasonOrphaned,
				"submitting process exited before the run finished")

			continue
		}

		g.Go(func() error {
			out, err := Execute(ctx, l.logger, job.RunDir)
			if err != nil {
				l.logger.WarnContext(ctx, "run failed to execute",
					slog.String("run", h.RunID),
					slog.String("error", err.Error()),
				)

				completions[i] = Completion{Handle: h, Status: StatusFailed, Message: err.Error()}

				return nil
			}

			completions[i] = Completion{
				Handle:  h,
				Status:  out.Status,
				Reason:  out.Reason,
				Message: out.Message,
			}

			return nil
		})
	}

	_ = g.Wait()

	return completions, ctx.Err()
}

func (l *Local) take(jobID string) (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.queued[jobID]
	delete(l.queued, jobID)

	return job, ok
}

// resolve builds a completion from the outcome file of a run that this
// process did not observe. A missing file yields a failure with reason
// missing.
func resolve(h Handle, missing Reason, msg string) Completion {
	out, err := ReadOutcome(h.RunDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Completion{Handle: h, Status: StatusFailed, Reason: missing, Message: msg}
		}

		return Completion{Handle: h, Status: StatusFailed, Reason: ReasonNoOutcome, Message: err.Error()}
	}

	return Completion{Handle: h, Status: out.Status, Reason: out.Reason, Message: out.Message}
}
