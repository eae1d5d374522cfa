// Package experiment models benchmark experiments: the program revisions
// to build, the algorithm configurations to run, the problem suite, and the
// run matrix derived from them.
package experiment

import "strings"

// RevisionRef identifies the version of the program under test, usually a
// commit hash.
type RevisionRef string

// Configuration is a named algorithm variant: the nick identifies it in
// reports and the args are passed to the program under test.
type Configuration struct {
	Nick string   `yaml:"nick" json:"nick"`
	Args []string `yaml:"args" json:"args"`
}

// Problem is one benchmark problem instance.
type Problem struct {
	Domain     string `json:"domain"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	DomainFile string `json:"domain_file,omitempty"`
}

// ID returns the "domain:problem" identifier used in suites and reports.
func (p Problem) ID() string {
	return p.Domain + ":" + p.Name
}

// RunDescriptor is one fully specified unit of work.
type RunDescriptor struct {
	Index    int
	Revision RevisionRef
	Config   Configuration
	Problem  Problem
}

// Algorithm returns "{revision}-{nick}".
func (r RunDescriptor) Algorithm() string {
	return Algorithm(r.Revision, r.Config.Nick)
}

// ID returns the algorithm qualified by the problem instance.
func (r RunDescriptor) ID() string {
	return r.Algorithm() + "/" + r.Problem.ID()
}

// Algorithm builds the algorithm name for a revision and configuration nick.
func Algorithm(rev RevisionRef, nick string) string {
	return string(rev) + "-" + nick
}

// Command expands the argument template for this run. The placeholders
// {config}, {problem} and {domain} are replaced by the configuration args,
// the problem path and the domain file path. {config} must be a whole
// argument; the other two may be embedded.
func (r RunDescriptor) Command(template []string) []string {
	args := make([]string, 0, len(template)+len(r.Config.Args))

	for _, arg := range template {
		if arg == "{config}" {
			args = append(args, r.Config.Args...)

			continue
		}

		args = append(args, r.expand(arg))
	}

	return args
}

func (r RunDescriptor) expand(s string) string {
	return strings.NewReplacer(
		"{problem}", r.Problem.Path,
		"{domain}", r.Problem.DomainFile,
	).Replace(s)
}

// Stdin expands the stdin template, which may be empty.
func (r RunDescriptor) Stdin(template string) string {
	if template == "" {
		return ""
	}

	return r.expand(template)
}
