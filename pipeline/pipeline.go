// Package pipeline sequences the experiment steps: build, start, wait,
// fetch, parse, report and archive. Each step is idempotent and can run in
// a separate process invocation from the others.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/weiihann/labrun/experiment"
)

// Step is one named stage.
type Step struct {
	Name string
	Help string
	Run  func(ctx context.Context, plan *experiment.Plan) (Summary, error)
}

// UnitFailure is a failed unit of work: a revision for build, a run for
// the run stages, a report for report steps.
type UnitFailure struct {
	Unit string
	Err  string
}

// Summary is what a step did. Failed units never abort their siblings.
type Summary struct {
	Step    string
	Total   int
	Skipped int
	Failed  []UnitFailure
}

// OK reports whether every unit succeeded.
func (s Summary) OK() bool { return len(s.Failed) == 0 }

func (s *Summary) fail(unit string, err error) {
	s.Failed = append(s.Failed, UnitFailure{Unit: unit, Err: err.Error()})
}

// Pipeline is an ordered list of steps.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// New returns a pipeline running steps in the given order.
func New(logger *slog.Logger, steps ...Step) *Pipeline {
	return &Pipeline{steps: steps, logger: logger}
}

// Steps returns the steps in order.
func (p *Pipeline) Steps() []Step {
	return slices.Clone(p.steps)
}

// Select returns the named steps in pipeline order. No names or "all"
// select every step.
func (p *Pipeline) Select(names ...string) ([]Step, error) {
	if len(names) == 0 || slices.Contains(names, "all") {
		return p.Steps(), nil
	}

	for _, n := range names {
		if !slices.ContainsFunc(p.steps, func(s Step) bool { return s.Name == n }) {
			return nil, experiment.Errorf("steps", "unknown step %q, have %s", n, strings.Join(p.names(), ", "))
		}
	}

	var out []Step

	for _, s := range p.steps {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}

	return out, nil
}

func (p *Pipeline) names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}

	return names
}

// Run executes the selected steps. A step error stops the pipeline; unit
// failures are logged and returned in the summaries.
func (p *Pipeline) Run(ctx context.Context, plan *experiment.Plan, names ...string) ([]Summary, error) {
	steps, err := p.Select(names...)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(steps))

	for _, s := range steps {
		logger := p.logger.With(slog.String("step", s.Name))
		logger.InfoContext(ctx, "step started")

		sum, err := s.Run(ctx, plan)
		sum.Step = s.Name
		summaries = append(summaries, sum)

		if err != nil {
			logger.ErrorContext(ctx, "step aborted", slog.String("error", err.Error()))

			return summaries, fmt.Errorf("step %s: %w", s.Name, err)
		}

		for _, f := range sum.Failed {
			logger.WarnContext(ctx, "unit failed",
				slog.String("unit", f.Unit),
				slog.String("error", f.Err),
			)
		}

		logger.InfoContext(ctx, "step finished",
			slog.Int("total", sum.Total),
			slog.Int("skipped", sum.Skipped),
			slog.Int("failed", len(sum.Failed)),
		)
	}

	return summaries, nil
}
