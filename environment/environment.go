// Package environment runs benchmark jobs under resource limits, either as
// a local process pool or through a batch queueing system.
package environment

import (
	"context"
	"fmt"
	"time"
)

// Status is the terminal state of a job. The empty status means the job
// has not finished yet.
type Status string

const (
	StatusPending          Status = ""
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusResourceExceeded Status = "resource-exceeded"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Reason refines a status, e.g. which resource was exceeded.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonTime      Reason = "time"
	ReasonMemory    Reason = "memory"
	ReasonOrphaned  Reason = "orphaned"
	ReasonSubmit    Reason = "submission"
	ReasonNoOutcome Reason = "no-outcome"
)

// Limits bound a single run. They are enforced by the environment, not by
// the command under test.
type Limits struct {
	Time   time.Duration `json:"time"`
	Memory uint64        `json:"memory"`
	CPUs   int           `json:"cpus"`
}

// Spec is the command of one run, persisted as run.json in its run
// directory so any process can execute it later.
type Spec struct {
	ID         string   `json:"id"`
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
	Stdin      string   `json:"stdin,omitempty"`
	Env        []string `json:"env,omitempty"`
	Limits     Limits   `json:"limits"`
}

// Job is a run ready for submission.
type Job struct {
	ID     string
	Name   string
	RunDir string
	Spec   Spec
}

// Handle identifies a submitted job.
type Handle struct {
	RunID   string `json:"run_id"`
	JobID   string `json:"job_id"`
	Backend string `json:"backend"`
	RunDir  string `json:"run_dir"`
}

// Completion is the state of a handle after Await.
type Completion struct {
	Handle  Handle
	Status  Status
	Reason  Reason
	Message string
}

// Environment submits independent jobs and collects their completion.
type Environment interface {
	Name() string
	// Detached reports whether jobs outlive the submitting process, in
	// which case completion is collected by a separate wait step.
	Detached() bool
	Submit(ctx context.Context, job Job) (Handle, error)
	// Await blocks until every handle is terminal or ctx is done, and
	// returns ctx.Err() in the latter case. Runs owned by the calling
	// process are stopped and come back with StatusCancelled; jobs that
	// outlive it (Detached) come back with StatusPending.
	Await(ctx context.Context, handles []Handle) ([]Completion, error)
}

// SubmissionError reports that one job could not be submitted. It never
// affects other jobs of the batch.
type SubmissionError struct {
	RunID  string
	Output string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("submit %s: %v", e.RunID, e.Err)
	}

	return fmt.Sprintf("submit %s: %v: %s", e.RunID, e.Err, e.Output)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
