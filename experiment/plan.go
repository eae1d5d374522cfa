package experiment

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"
)

// Mode selects between a full experiment and a local smoke test.
type Mode string

const (
	ModeFull Mode = "full"
	ModeTest Mode = "test"
)

// ParseMode accepts "full" and "test".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeTest:
		return Mode(s), nil
	default:
		return "", Errorf("mode", "unknown mode %q", s)
	}
}

// Plan is the immutable, mode-resolved experiment that every pipeline step
// receives. It is built once by Definition.Plan and never mutated.
type Plan struct {
	Name        string
	Mode        Mode
	Repository  string
	DataDir     string
	Revisions   []RevisionRef
	Configs     []Configuration
	Build       BuildSpec
	Command     CommandSpec
	Limits      Limits
	Environment EnvironmentSpec
	Problems    []Problem
	Runs        []RunDescriptor
	Parsers     []ParserSpec
	Attributes  []AttributeSpec
	Reports     []ReportSpec
	Archive     ArchiveSpec
}

// Limits are the resolved per-run resource limits.
type Limits struct {
	Time   time.Duration `json:"time"`
	Memory uint64        `json:"memory"`
	CPUs   int           `json:"cpus"`
}

// Plan resolves the definition for mode. Test mode substitutes the test
// suite and a local environment; nothing else differs between modes.
func (d *Definition) Plan(mode Mode) (*Plan, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	suite := d.Suite
	envSpec := d.Environment

	if mode == ModeTest {
		suite = d.TestSuite
		envSpec = EnvironmentSpec{
			Kind:      "local",
			Processes: d.Environment.Processes,
		}
	}

	problems, err := ResolveSuite(d.BenchmarksDir, suite)
	if err != nil {
		return nil, err
	}

	runs, err := Expand(d.Revisions, d.Configurations, problems)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Name:       d.Name,
		Mode:       mode,
		Repository: d.Repository,
		DataDir:    d.DataDir,
		Revisions:  slices.Clone(d.Revisions),
		Configs:    slices.Clone(d.Configurations),
		Build:      d.Build,
		Command:    d.Command,
		Limits: Limits{
			Time:   time.Duration(d.Limits.Time),
			Memory: uint64(d.Limits.Memory),
			CPUs:   d.Limits.CPUs,
		},
		Environment: envSpec,
		Problems:    problems,
		Runs:        runs,
		Parsers:     slices.Clone(d.Parsers),
		Attributes:  slices.Clone(d.Attributes),
		Reports:     slices.Clone(d.Reports),
		Archive:     d.Archive,
	}, nil
}

// ExperimentDir holds run directories and the submission ledger.
func (p *Plan) ExperimentDir() string {
	return filepath.Join(p.DataDir, p.Name)
}

// EvalDir holds fetched results, parsed records and reports.
func (p *Plan) EvalDir() string {
	return filepath.Join(p.DataDir, p.Name+"-eval")
}

// RunDir returns the directory of a single run:
// runs/<algorithm>/<domain>/<problem>.
func (p *Plan) RunDir(r RunDescriptor) string {
	return filepath.Join(p.ExperimentDir(), "runs",
		r.Algorithm(), r.Problem.Domain, r.Problem.Name)
}

// Algorithms lists "{revision}-{nick}" for every revision and config in
// matrix order.
func (p *Plan) Algorithms() []string {
	algos := make([]string, 0, len(p.Revisions)*len(p.Configs))
	for _, rev := range p.Revisions {
		for _, cfg := range p.Configs {
			algos = append(algos, Algorithm(rev, cfg.Nick))
		}
	}

	return algos
}

// ReportPath returns the deterministic output path of a report.
func (p *Plan) ReportPath(report, ext string) string {
	return filepath.Join(p.EvalDir(), fmt.Sprintf("%s-%s.%s", p.Name, report, ext))
}
