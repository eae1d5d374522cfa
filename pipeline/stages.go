package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/weiihann/labrun/archive"
	"github.com/weiihann/labrun/attribute"
	"github.com/weiihann/labrun/build"
	"github.com/weiihann/labrun/environment"
	"github.com/weiihann/labrun/experiment"
	"github.com/weiihann/labrun/internal/fsutil"
	"github.com/weiihann/labrun/parser"
	"github.com/weiihann/labrun/store"
)

// LedgerFile is the submission ledger inside the experiment dir.
const LedgerFile = "ledger.json"

// Options are the collaborators of the default steps.
type Options struct {
	Builder     build.Builder
	Environment environment.Environment
	// Archive is nil when no destination is configured; the archive step
	// is then left out.
	Archive       archive.Target
	ArchivePrefix string
	// Retry selects finished but unsuccessful runs that start submits
	// again: a run is retried when its ID contains any of the substrings.
	Retry  []string
	Logger *slog.Logger
	Now    func() time.Time
}

type stages struct {
	opts   Options
	logger *slog.Logger
	chain  parser.Chain
	attrs  *attribute.Set
	store  *store.Store
}

// Default builds the standard steps for plan. Parser patterns and
// attribute declarations are checked here, before any step runs.
func Default(plan *experiment.Plan, opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	chain, err := Parsers(plan.Parsers)
	if err != nil {
		return nil, err
	}

	attrs, err := Attributes(plan.Attributes)
	if err != nil {
		return nil, err
	}

	st, err := store.New(plan.EvalDir())
	if err != nil {
		return nil, err
	}

	s := &stages{
		opts:   opts,
		logger: opts.Logger,
		chain:  chain,
		attrs:  attrs,
		store:  st,
	}

	steps := []Step{
		{Name: "build", Help: "Build every revision", Run: s.build},
		{Name: "start", Help: "Submit the runs", Run: s.start},
		{Name: "wait", Help: "Wait for submitted runs to finish", Run: s.wait},
		{Name: "fetch", Help: "Collect run output into the eval dir", Run: s.fetch},
		{Name: "parse", Help: "Parse fetched output into attribute records", Run: s.parse},
	}

	for _, r := range plan.Reports {
		steps = append(steps, Step{
			Name: "report-" + r.Name,
			Help: fmt.Sprintf("Write the %s report %s", r.Mode, r.Name),
			Run:  s.report(r),
		})
	}

	if opts.Archive != nil {
		steps = append(steps, Step{
			Name: "archive",
			Help: "Copy the experiment to " + opts.Archive.String(),
			Run:  s.archive,
		})
	}

	return New(opts.Logger, steps...), nil
}

// Parsers returns the standard parser chain followed by the declared
// pattern parsers.
func Parsers(specs []experiment.ParserSpec) (parser.Chain, error) {
	chain := parser.Chain{parser.ExitCode(), parser.Planner()}

	for _, spec := range specs {
		p, err := parser.Pattern(spec)
		if err != nil {
			return nil, experiment.Errorf("parsers", "%v", err)
		}

		chain = append(chain, p)
	}

	return chain, nil
}

func (s *stages) build(ctx context.Context, plan *experiment.Plan) (Summary, error) {
	sum := Summary{Total: len(plan.Revisions)}

	for _, rev := range plan.Revisions {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		_, err := s.opts.Builder.Build(ctx, string(rev))
		if err == nil {
			continue
		}

		var failure *build.Failure
		if errors.As(err, &failure) {
			logPath := filepath.Join(plan.ExperimentDir(), "build-logs", string(rev)+".log")
			if werr := fsutil.WriteFileAtomic(logPath, []byte(failure.Log), 0o644); werr != nil {
				s.logger.WarnContext(ctx, "could not keep build log", slog.String("error", werr.Error()))
			} else {
				err = fmt.Errorf("%w (log: %s)", err, logPath)
			}
		}

		sum.fail(string(rev), err)
	}

	return sum, nil
}

func (s *stages) openLedger(plan *experiment.Plan) (*environment.Ledger, error) {
	return environment.OpenLedger(filepath.Join(plan.ExperimentDir(), LedgerFile))
}

// retry reports whether a finished run should be submitted again.
func (s *stages) retry(e environment.Entry) bool {
	if !e.Status.Terminal() || e.Status == environment.StatusCompleted {
		return false
	}

	return slices.ContainsFunc(s.opts.Retry, func(sub string) bool {
		return strings.Contains(e.RunID, sub)
	})
}

func (s *stages) start(ctx context.Context, plan *experiment.Plan) (Summary, error) {
	sum := Summary{Total: len(plan.Runs)}
	env := s.opts.Environment

	ledger, err := s.openLedger(plan)
	if err != nil {
		return sum, err
	}

	var submitted []environment.Handle

	for _, run := range plan.Runs {
		if err := ctx.Err(); err != nil {
			return sum, errors.Join(err, ledger.Save())
		}

		id := run.ID()

		if e, ok := ledger.Get(id); ok {
			if !s.retry(e) {
				sum.Skipped++

				continue
			}

			s.logger.InfoContext(ctx, "retrying run",
				slog.String("run", id),
				slog.String("status", string(e.Status)),
			)
			ledger.Forget(id)
		}

		artifact, err := s.opts.Builder.Locate(string(run.Revision))
		if err != nil {
			sum.fail(id, err)

			continue
		}

		job, err := newJob(plan, run, artifact)
		if err != nil {
			sum.fail(id, err)

			continue
		}

		h, err := env.Submit(ctx, job)
		if err != nil {
			// The failed submission is recorded so that wait does not
			// expect it and a later start only resubmits it on retry.
			h = environment.Handle{RunID: id, Backend: env.Name(), RunDir: job.RunDir}
			ledger.Record(h, s.opts.Now())
			ledger.Complete(environment.Completion{
				Handle:  h,
				Status:  environment.StatusFailed,
				Reason:  environment.ReasonSubmit,
				Message: err.Error(),
			})
			sum.fail(id, err)
		} else {
			ledger.Record(h, s.opts.Now())
			submitted = append(submitted, h)
		}

		// Detached jobs outlive this process, so their handles are
		// journaled as soon as they exist.
		if env.Detached() {
			if err := ledger.Flush(); err != nil {
				return sum, err
			}
		}
	}

	if err := ledger.Save(); err != nil {
		return sum, err
	}

	s.logger.InfoContext(ctx, "runs submitted",
		slog.String("env", env.Name()),
		slog.Int("submitted", len(submitted)),
		slog.Int("skipped", sum.Skipped),
	)

	if env.Detached() || len(submitted) == 0 {
		return sum, nil
	}

	return s.await(ctx, ledger, submitted, sum)
}

func (s *stages) wait(ctx context.Context, plan *experiment.Plan) (Summary, error) {
	ledger, err := s.openLedger(plan)
	if err != nil {
		return Summary{}, err
	}

	pending := ledger.Pending()

	return s.await(ctx, ledger, pending, Summary{Total: len(pending)})
}

// await records the completions of handles in the ledger. Runs that did
// not complete count as failed units.
func (s *stages) await(
	ctx context.Context,
	ledger *environment.Ledger,
	handles []environment.Handle,
	sum Summary,
) (Summary, error) {
	if len(handles) == 0 {
		return sum, nil
	}

	completions, err := s.opts.Environment.Await(ctx, handles)

	for _, c := range completions {
		ledger.Complete(c)

		switch c.Status {
		case environment.StatusCompleted, environment.StatusPending:
		default:
			sum.fail(c.Handle.RunID, statusError(c))
		}
	}

	if serr := ledger.Save(); serr != nil {
		return sum, errors.Join(err, serr)
	}

	return sum, err
}

func statusError(c environment.Completion) error {
	msg := string(c.Status)
	if c.Reason != environment.ReasonNone {
		msg += " (" + string(c.Reason) + ")"
	}
	if c.Message != "" {
		msg += ": " + c.Message
	}

	return errors.New(msg)
}

// newJob prepares a clean run directory and the job that runs in it.
func newJob(plan *experiment.Plan, run experiment.RunDescriptor, artifact build.Artifact) (environment.Job, error) {
	dir := plan.RunDir(run)

	if err := os.RemoveAll(dir); err != nil {
		return environment.Job{}, fmt.Errorf("clean run dir: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return environment.Job{}, fmt.Errorf("create run dir: %w", err)
	}

	return environment.Job{
		ID:     run.ID(),
		Name:   fmt.Sprintf("%s-%d", plan.Name, run.Index),
		RunDir: dir,
		Spec: environment.Spec{
			ID:         run.ID(),
			Executable: artifact.Executable,
			Args:       run.Command(plan.Command.Args),
			Stdin:      run.Stdin(plan.Command.Stdin),
			Limits: environment.Limits{
				Time:   plan.Limits.Time,
				Memory: plan.Limits.Memory,
				CPUs:   plan.Limits.CPUs,
			},
		},
	}, nil
}
