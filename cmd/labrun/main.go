// Package main provides the CLI entry point for labrun, which builds,
// runs, parses and reports planner benchmark experiments.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/weiihann/labrun/environment"
	"github.com/weiihann/labrun/experiment"
	"github.com/weiihann/labrun/internal/env"
	"github.com/weiihann/labrun/pipeline"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(logger, level)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("labrun failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "labrun",
		Short: "Planner benchmark experiment runner",
		Long: `Labrun expands an experiment definition into one run per revision,
configuration and problem, builds the revisions, executes the runs locally
or on a Slurm cluster, and turns their output into reports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				level.Set(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	root.AddCommand(
		newRunCmd(logger),
		newStepsCmd(logger),
		newExpandCmd(),
		newRunJobCmd(logger),
	)

	return root
}

type planFlags struct {
	file      string
	test      bool
	processes int
}

func (f *planFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "",
		"Experiment definition (YAML)")
	flags.BoolVar(&f.test, "test", false,
		"Run the test suite locally (default from LABRUN_TEST_RUN)")
	flags.IntVar(&f.processes, "processes", 0,
		"Parallel local runs (default from LABRUN_PROCESSES or the definition)")

	_ = cmd.MarkFlagRequired("file")
}

// load resolves the plan. The mode is decided here and nowhere else.
func (f *planFlags) load() (*experiment.Plan, error) {
	def, err := experiment.Load(f.file)
	if err != nil {
		return nil, err
	}

	if dir := env.String("LABRUN_DATA_DIR", ""); dir != "" {
		def.DataDir = dir
	}

	def.DataDir, err = filepath.Abs(def.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	processes := f.processes
	if processes == 0 {
		if processes, err = env.Int("LABRUN_PROCESSES", 0); err != nil {
			return nil, err
		}
	}

	if processes > 0 {
		def.Environment.Processes = processes
	}

	test := f.test
	if !test {
		if test, err = env.Bool("LABRUN_TEST_RUN", false); err != nil {
			return nil, err
		}
	}

	mode := experiment.ModeFull
	if test {
		mode = experiment.ModeTest
	}

	return def.Plan(mode)
}

func newPipeline(
	plan *experiment.Plan,
	logger *slog.Logger,
	retry []string,
) (*pipeline.Pipeline, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate labrun executable: %w", err)
	}

	environ, err := pipeline.NewEnvironment(plan.Environment, self, nil, logger)
	if err != nil {
		return nil, err
	}

	target, prefix, err := pipeline.NewArchive(plan.Archive)
	if err != nil {
		return nil, err
	}

	return pipeline.Default(plan, pipeline.Options{
		Builder:       pipeline.NewBuilder(plan, logger),
		Environment:   environ,
		Archive:       target,
		ArchivePrefix: prefix,
		Retry:         retry,
		Logger:        logger,
	})
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		pf    planFlags
		retry []string
	)

	cmd := &cobra.Command{
		Use:   "run [steps...]",
		Short: "Run pipeline steps of an experiment",
		Long: `Run the named steps of the experiment in pipeline order. Without
arguments every step runs. Steps can be run in separate invocations; start
never resubmits a run it already submitted unless --retry selects it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := pf.load()
			if err != nil {
				return err
			}

			p, err := newPipeline(plan, logger, retry)
			if err != nil {
				return err
			}

			logger.InfoContext(cmd.Context(), "starting experiment",
				slog.String("name", plan.Name),
				slog.String("mode", string(plan.Mode)),
				slog.Int("runs", len(plan.Runs)),
				slog.String("env", plan.Environment.Kind),
			)

			summaries, runErr := p.Run(cmd.Context(), plan, args...)
			printSummaries(cmd.OutOrStdout(), summaries)

			return runErr
		},
	}

	pf.register(cmd)
	cmd.Flags().StringSliceVar(&retry, "retry", nil,
		"Resubmit unsuccessful runs whose ID contains any of these substrings")

	return cmd
}

func printSummaries(w io.Writer, summaries []pipeline.Summary) {
	if len(summaries) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tTOTAL\tSKIPPED\tFAILED")

	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Step, s.Total, s.Skipped, len(s.Failed))
	}

	_ = tw.Flush()

	for _, s := range summaries {
		for _, f := range s.Failed {
			fmt.Fprintf(w, "  %s: %s: %s\n", s.Step, f.Unit, f.Err)
		}
	}
}

func newStepsCmd(logger *slog.Logger) *cobra.Command {
	var pf planFlags

	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List the pipeline steps of an experiment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := pf.load()
			if err != nil {
				return err
			}

			p, err := newPipeline(plan, logger, nil)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, s := range p.Steps() {
				fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Help)
			}

			return tw.Flush()
		},
	}

	pf.register(cmd)

	return cmd
}

func newExpandCmd() *cobra.Command {
	var pf planFlags

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the runs an experiment expands to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := pf.load()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, r := range plan.Runs {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Index, r.ID(), plan.RunDir(r))
			}

			return tw.Flush()
		},
	}

	pf.register(cmd)

	return cmd
}

func newRunJobCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:    "run-job <run-dir>",
		Short:  "Execute one prepared run (used by batch jobs)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := environment.Execute(cmd.Context(), logger, args[0])
			if err != nil {
				return err
			}

			logger.DebugContext(cmd.Context(), "run-job finished",
				slog.String("status", string(out.Status)),
				slog.Int("exit_code", out.ExitCode),
			)

			return nil
		},
	}
}
