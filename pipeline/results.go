package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/weiihann/labrun/environment"
	"github.com/weiihann/labrun/experiment"
	"github.com/weiihann/labrun/store"
)

// errNoResult marks runs that have neither an outcome nor a terminal
// ledger entry yet.
var errNoResult = errors.New("run has not finished")

func (s *stages) fetch(ctx context.Context, plan *experiment.Plan) (Summary, error) {
	sum := Summary{Total: len(plan.Runs)}

	ledger, err := s.openLedger(plan)
	if err != nil {
		return sum, err
	}

	for _, run := range plan.Runs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		entry, _ := ledger.Get(run.ID())

		raw, err := collect(plan, run, entry)
		if err != nil {
			sum.fail(run.ID(), err)

			continue
		}

		if err := s.store.PutRaw(raw); err != nil {
			return sum, err
		}
	}

	return sum, nil
}

// collect reads the run dir of run into a RawResult. The outcome file is
// authoritative; runs that never wrote one (failed submissions, jobs the
// scheduler killed) take their status from the ledger. A run cancelled
// because the scheduler stopped it at a limit keeps the ledger's
// resource-exceeded status.
func collect(plan *experiment.Plan, run experiment.RunDescriptor, entry environment.Entry) (store.RawResult, error) {
	dir := plan.RunDir(run)

	raw := store.RawResult{
		ID:        run.ID(),
		Algorithm: run.Algorithm(),
		Revision:  string(run.Revision),
		Nick:      run.Config.Nick,
		Domain:    run.Problem.Domain,
		Problem:   run.Problem.Name,
		JobID:     entry.JobID,
	}

	out, err := environment.ReadOutcome(dir)
	switch {
	case err == nil:
		raw.Status = out.Status
		raw.Reason = out.Reason
		raw.ExitCode = out.ExitCode
		raw.WallTime = out.WallTime
		raw.PeakMemory = out.PeakMemory
		raw.Message = out.Message

		if out.Status == environment.StatusCancelled && entry.Status == environment.StatusResourceExceeded {
			raw.Status = entry.Status
			raw.Reason = entry.Reason
			raw.Message = entry.Message
		}
	case errors.Is(err, os.ErrNotExist) && entry.Status.Terminal():
		raw.Status = entry.Status
		raw.Reason = entry.Reason
		raw.Message = entry.Message
		raw.ExitCode = -1
	case errors.Is(err, os.ErrNotExist):
		return store.RawResult{}, errNoResult
	default:
		return store.RawResult{}, err
	}

	if raw.Stdout, err = readOptional(filepath.Join(dir, environment.StdoutFile)); err != nil {
		return store.RawResult{}, err
	}

	if raw.Stderr, err = readOptional(filepath.Join(dir, environment.StderrFile)); err != nil {
		return store.RawResult{}, err
	}

	return raw, nil
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return string(data), nil
}

func (s *stages) parse(ctx context.Context, plan *experiment.Plan) (Summary, error) {
	sum := Summary{Total: len(plan.Runs)}

	for _, run := range plan.Runs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		raw, err := s.store.GetRaw(run.ID())
		if errors.Is(err, store.ErrNotFound) {
			sum.Skipped++

			continue
		}

		if err != nil {
			sum.fail(run.ID(), err)

			continue
		}

		if err := s.store.PutRecord(s.chain.Parse(raw)); err != nil {
			return sum, err
		}
	}

	return sum, nil
}
