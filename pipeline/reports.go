package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/weiihann/labrun/archive"
	"github.com/weiihann/labrun/attribute"
	"github.com/weiihann/labrun/experiment"
	"github.com/weiihann/labrun/internal/fsutil"
	"github.com/weiihann/labrun/report"
	"github.com/weiihann/labrun/store"
)

// Attributes returns the default attributes with the declared ones
// applied on top.
func Attributes(specs []experiment.AttributeSpec) (*attribute.Set, error) {
	set := attribute.NewSet(attribute.Defaults()...)

	for _, spec := range specs {
		a := set.Get(spec.Name)
		a.Absolute = spec.Absolute

		if spec.MinWins != nil {
			a.MinWins = *spec.MinWins
		}

		if spec.Digits != nil {
			a.Digits = *spec.Digits
		}

		if spec.Function != "" {
			fn, err := attribute.LookupFunction(spec.Function)
			if err != nil {
				return nil, experiment.Errorf("attributes", "%s: %v", spec.Name, err)
			}

			a.Function = fn
		}

		set.Put(a)
	}

	return set, nil
}

// planRecords loads the stored records of the plan's runs.
func (s *stages) planRecords(plan *experiment.Plan) ([]store.Record, error) {
	recs := make([]store.Record, 0, len(plan.Runs))

	for _, run := range plan.Runs {
		rec, err := s.store.GetRecord(run.ID())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		recs = append(recs, rec)
	}

	return recs, nil
}

func (s *stages) report(spec experiment.ReportSpec) func(context.Context, *experiment.Plan) (Summary, error) {
	return func(ctx context.Context, plan *experiment.Plan) (Summary, error) {
		sum := Summary{Total: 1}

		recs, err := s.planRecords(plan)
		if err != nil {
			return sum, err
		}

		attrs := s.attrs.All()
		if len(spec.Attributes) > 0 {
			attrs = s.attrs.Select(spec.Attributes)
		}

		filter := report.Filter{
			Algorithms: spec.Filter.Algorithms,
			Contains:   spec.Filter.Contains,
			Domains:    spec.Filter.Domains,
			Revisions:  spec.Filter.Revisions,
		}

		opts := report.Options{
			Name:  spec.Name,
			Mode:  report.Mode(spec.Mode),
			Axis:  report.Axis(spec.Axis),
			Order: axisOrder(plan, report.Axis(spec.Axis)),
		}

		rep, err := report.Generate(recs, filter, attrs, opts)
		if err != nil {
			var inputErr *report.ReportInputError
			if errors.As(err, &inputErr) {
				sum.fail(spec.Name, err)

				return sum, nil
			}

			return sum, err
		}

		var md, js bytes.Buffer
		if err := report.Markdown(&md, rep); err != nil {
			return sum, err
		}

		if err := report.JSON(&js, rep); err != nil {
			return sum, err
		}

		mdPath := plan.ReportPath(spec.Name, "md")
		if err := fsutil.WriteFileAtomic(mdPath, md.Bytes(), 0o644); err != nil {
			return sum, err
		}

		if err := fsutil.WriteFileAtomic(plan.ReportPath(spec.Name, "json"), js.Bytes(), 0o644); err != nil {
			return sum, err
		}

		s.logger.InfoContext(ctx, "report written",
			slog.String("report", spec.Name),
			slog.String("path", mdPath),
			slog.Int("runs", len(recs)),
		)

		return sum, nil
	}
}

// axisOrder keeps report columns in matrix order.
func axisOrder(plan *experiment.Plan, axis report.Axis) []string {
	switch axis {
	case report.AxisRevision:
		out := make([]string, len(plan.Revisions))
		for i, r := range plan.Revisions {
			out[i] = string(r)
		}

		return out
	case report.AxisConfig:
		out := make([]string, len(plan.Configs))
		for i, c := range plan.Configs {
			out[i] = c.Nick
		}

		return out
	default:
		return plan.Algorithms()
	}
}

func (s *stages) archive(ctx context.Context, plan *experiment.Plan) (Summary, error) {
	stats, err := archive.Archive(ctx, s.opts.Archive, s.opts.ArchivePrefix,
		plan.ExperimentDir(), plan.EvalDir())

	s.logger.InfoContext(ctx, "archive finished",
		slog.String("destination", s.opts.Archive.String()),
		slog.Int("copied", stats.Copied),
		slog.Int("skipped", stats.Skipped),
		slog.String("size", humanize.IBytes(uint64(stats.Bytes))),
	)

	return Summary{Total: stats.Copied + stats.Skipped, Skipped: stats.Skipped}, err
}
