package environment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/weiihann/labrun/internal/fsutil"
)

// ScriptFile is the name of the submission script inside a run directory.
const ScriptFile = "job.sbatch"

const (
	// sacctChunk bounds the job IDs passed to one sacct call.
	sacctChunk = 500

	// maxPollFailures is how many sacct polls in a row may fail before
	// Await gives up.
	maxPollFailures = 5
)

// Commander runs an external scheduler command and returns its stdout.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommander runs commands with os/exec.
type ExecCommander struct{}

// Run implements Commander. Stderr is folded into the error.
func (ExecCommander) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	return out, nil
}

// BatchConfig configures the Slurm backend.
type BatchConfig struct {
	Partition    string
	Email        string
	MemoryPerCPU string
	CPUsPerTask  int
	// Time is the Slurm time limit; empty derives it from the run limit.
	Time         string
	Export       []string
	Setup        string
	PollInterval time.Duration
	Sbatch       string
	Sacct        string
	// Self is the labrun binary that executes a run on the compute node.
	Self string
}

// Batch submits one Slurm job per run and polls sacct for completion.
type Batch struct {
	cfg    BatchConfig
	cmd    Commander
	logger *slog.Logger
}

// NewBatch creates a Slurm backend.
func NewBatch(cfg BatchConfig, cmd Commander, logger *slog.Logger) (*Batch, error) {
	if cfg.Partition == "" {
		return nil, errors.New("batch partition is required")
	}
	if cfg.Self == "" {
		return nil, errors.New("path of the run-job executable is required")
	}
	if cfg.Sbatch == "" {
		cfg.Sbatch = "sbatch"
	}
	if cfg.Sacct == "" {
		cfg.Sacct = "sacct"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.CPUsPerTask < 1 {
		cfg.CPUsPerTask = 1
	}
	if cmd == nil {
		cmd = ExecCommander{}
	}

	return &Batch{
		cfg:    cfg,
		cmd:    cmd,
		logger: logger.With(slog.String("env", "slurm")),
	}, nil
}

// Name implements Environment.
func (b *Batch) Name() string { return "slurm" }

// Detached implements Environment.
func (b *Batch) Detached() bool { return true }

var scriptTemplate = template.Must(template.New("sbatch").Parse(`#!/bin/bash
#SBATCH --job-name={{.Name}}
#SBATCH --partition={{.Partition}}
#SBATCH --ntasks=1
#SBATCH --cpus-per-task={{.CPUs}}
{{- if .MemoryPerCPU}}
#SBATCH --mem-per-cpu={{.MemoryPerCPU}}
{{- end}}
#SBATCH --time={{.Time}}
#SBATCH --output={{.RunDir}}/slurm.out
#SBATCH --error={{.RunDir}}/slurm.err
{{- if .Email}}
#SBATCH --mail-type=FAIL
#SBATCH --mail-user={{.Email}}
{{- end}}
{{- if .Export}}
#SBATCH --export={{.Export}}
{{- end}}
{{if .Setup}}
{{.Setup}}
{{end}}
exec {{.Self}} run-job {{.RunDir}}
`))

type scriptData struct {
	Name         string
	Partition    string
	CPUs         int
	MemoryPerCPU string
	Time         string
	RunDir       string
	Email        string
	Export       string
	Setup        string
	Self         string
}

// Script renders the submission script of job.
func (b *Batch) Script(job Job) (string, error) {
	runDir, err := filepath.Abs(job.RunDir)
	if err != nil {
		return "", err
	}

	data := scriptData{
		Name:         job.Name,
		Partition:    b.cfg.Partition,
		CPUs:         b.cfg.CPUsPerTask,
		MemoryPerCPU: b.cfg.MemoryPerCPU,
		Time:         b.cfg.Time,
		RunDir:       shellQuote(runDir),
		Email:        b.cfg.Email,
		Export:       strings.Join(b.cfg.Export, ","),
		Setup:        strings.TrimSpace(b.cfg.Setup),
		Self:         shellQuote(b.cfg.Self),
	}

	if data.Name == "" {
		data.Name = job.ID
	}
	if data.Time == "" {
		data.Time = slurmTime(job.Spec.Limits.Time)
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render script: %w", err)
	}

	return buf.String(), nil
}

// slurmTime leaves headroom above the run's own wall-time limit so that the
// run, not the scheduler, reports the time-out.
func slurmTime(limit time.Duration) string {
	if limit <= 0 {
		limit = 24 * time.Hour
	}

	total := int((limit + 5*time.Minute).Seconds())

	return fmt.Sprintf("%d-%02d:%02d:%02d",
		total/86400, total%86400/3600, total%3600/60, total%60)
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~") {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Submit writes the run spec and script and hands the script to sbatch.
// Failures are returned as *SubmissionError for this job only.
func (b *Batch) Submit(ctx context.Context, job Job) (Handle, error) {
	if err := WriteSpec(job.RunDir, job.Spec); err != nil {
		return Handle{}, &SubmissionError{RunID: job.ID, Err: err}
	}

	script, err := b.Script(job)
	if err != nil {
		return Handle{}, &SubmissionError{RunID: job.ID, Err: err}
	}

	scriptPath := filepath.Join(job.RunDir, ScriptFile)
	if err := fsutil.WriteFileAtomic(scriptPath, []byte(script), 0o755); err != nil {
		return Handle{}, &SubmissionError{RunID: job.ID, Err: err}
	}

	out, err := b.cmd.Run(ctx, b.cfg.Sbatch, "--parsable", scriptPath)
	if err != nil {
		return Handle{}, &SubmissionError{RunID: job.ID, Output: string(out), Err: err}
	}

	// --parsable prints "jobid" or "jobid;cluster".
	jobID, _, _ := strings.Cut(strings.TrimSpace(string(out)), ";")
	if jobID == "" {
		return Handle{}, &SubmissionError{RunID: job.ID, Err: errors.New("sbatch returned no job id")}
	}

	b.logger.DebugContext(ctx, "job submitted",
		slog.String("run", job.ID),
		slog.String("job_id", jobID),
	)

	return Handle{
		RunID:   job.ID,
		JobID:   jobID,
		Backend: b.Name(),
		RunDir:  job.RunDir,
	}, nil
}

// Await polls sacct until every handle is terminal. When ctx ends first,
// or sacct keeps failing, the completions gathered so far are returned
// together with the error; calling Await again with the same handles
// resumes the wait.
func (b *Batch) Await(ctx context.Context, handles []Handle) ([]Completion, error) {
	completions := make([]Completion, len(handles))
	for i, h := range handles {
		completions[i] = Completion{Handle: h}
	}

	failures := 0

	for {
		pending := make(map[string]int)
		for i, c := range completions {
			if !c.Status.Terminal() {
				pending[c.Handle.JobID] = i
			}
		}

		if len(pending) == 0 {
			return completions, nil
		}

		states, err := b.poll(ctx, pending)
		if err != nil {
			failures++

			b.logger.WarnContext(ctx, "sacct poll failed",
				slog.Int("attempt", failures),
				slog.String("error", err.Error()),
			)

			if failures >= maxPollFailures {
				return completions, fmt.Errorf("sacct failed %d times in a row: %w", failures, err)
			}
		} else {
			failures = 0
		}

		for jobID, state := range states {
			if i, ok := pending[jobID]; ok {
				completions[i] = b.complete(completions[i].Handle, state)
			}
		}

		remaining := 0
		for _, c := range completions {
			if !c.Status.Terminal() {
				remaining++
			}
		}

		if remaining == 0 {
			return completions, nil
		}

		b.logger.InfoContext(ctx, "waiting for jobs",
			slog.Int("remaining", remaining),
			slog.Int("total", len(handles)),
		)

		select {
		case <-ctx.Done():
			return completions, ctx.Err()
		case <-time.After(b.cfg.PollInterval):
		}
	}
}

// poll asks sacct for the state of the pending jobs, sacctChunk IDs per
// call. States read before a failing call are still returned.
func (b *Batch) poll(ctx context.Context, pending map[string]int) (map[string]string, error) {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	states := make(map[string]string, len(ids))

	for chunk := range slices.Chunk(ids, sacctChunk) {
		out, err := b.cmd.Run(ctx, b.cfg.Sacct,
			"--jobs", strings.Join(chunk, ","),
			"--format", "JobIDRaw,State",
			"--noheader", "--parsable2", "--allocations",
		)
		if err != nil {
			return states, err
		}

		maps.Copy(states, parseSacct(out))
	}

	return states, nil
}

// parseSacct reads "jobid|STATE" lines. States such as "CANCELLED by 42"
// keep their first word.
func parseSacct(out []byte) map[string]string {
	states := make(map[string]string)

	for _, line := range strings.Split(string(out), "\n") {
		id, state, ok := strings.Cut(strings.TrimSpace(line), "|")
		if !ok || id == "" {
			continue
		}

		fields := strings.Fields(state)
		if len(fields) == 0 {
			continue
		}

		states[id] = fields[0]
	}

	return states
}

func mapState(state string) Status {
	switch state {
	case "COMPLETED":
		return StatusCompleted
	case "TIMEOUT", "OUT_OF_MEMORY", "DEADLINE":
		return StatusResourceExceeded
	case "CANCELLED", "PREEMPTED", "REVOKED":
		return StatusCancelled
	case "FAILED", "NODE_FAIL", "BOOT_FAIL":
		return StatusFailed
	default:
		return StatusPending
	}
}

func (b *Batch) complete(h Handle, state string) Completion {
	switch mapState(state) {
	case StatusPending:
		return Completion{Handle: h}

	case StatusCompleted:
		// The job script exits with run-job's status, so the run's own
		// outcome file carries the real result.
		return resolve(h, ReasonNoOutcome, "job finished without writing "+OutcomeFile)

	case StatusResourceExceeded:
		reason := ReasonTime
		if state == "OUT_OF_MEMORY" {
			reason = ReasonMemory
		}

		return Completion{Handle: h, Status: StatusResourceExceeded, Reason: reason, Message: "slurm state " + state}

	case StatusCancelled:
		return Completion{Handle: h, Status: StatusCancelled, Message: "slurm state " + state}

	default:
		// run-job may have recorded an outcome before the node failed.
		if c := resolve(h, ReasonNoOutcome, ""); c.Reason != ReasonNoOutcome {
			return c
		}

		return Completion{Handle: h, Status: StatusFailed, Message: "slurm state " + state}
	}
}
