package experiment

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultTestSuite is the smoke-test suite used in test mode when the
// definition does not name one.
var DefaultTestSuite = []string{"depot:p01.pddl", "gripper:prob01.pddl"}

// ResolveSuite turns suite entries into problems under benchmarksDir.
// An entry "domain" selects every problem file of the domain in name
// order; "domain:problem" selects one problem.
func ResolveSuite(benchmarksDir string, entries []string) ([]Problem, error) {
	if benchmarksDir == "" {
		return nil, Errorf("benchmarks_dir", "is required")
	}

	var problems []Problem

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		domain, name, single := strings.Cut(entry, ":")
		dir := filepath.Join(benchmarksDir, domain)

		if single {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				return nil, Errorf("suite", "problem %q: %v", entry, err)
			}

			problems = append(problems, newProblem(dir, domain, name))

			continue
		}

		names, err := domainProblems(dir)
		if err != nil {
			return nil, Errorf("suite", "domain %q: %v", domain, err)
		}

		for _, n := range names {
			problems = append(problems, newProblem(dir, domain, n))
		}
	}

	if len(problems) == 0 {
		return nil, Errorf("suite", "no problems selected")
	}

	return problems, nil
}

func domainProblems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() || isDomainFile(e.Name()) {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".pddl") && !strings.HasSuffix(e.Name(), ".sas") {
			continue
		}

		names = append(names, e.Name())
	}

	sort.Strings(names)

	return names, nil
}

func isDomainFile(name string) bool {
	return name == "domain.pddl" ||
		strings.HasPrefix(name, "domain_") ||
		strings.HasSuffix(name, "-domain.pddl")
}

func newProblem(dir, domain, name string) Problem {
	return Problem{
		Domain:     domain,
		Name:       name,
		Path:       filepath.Join(dir, name),
		DomainFile: findDomainFile(dir, name),
	}
}

// findDomainFile looks for the domain file matching a problem using the
// naming schemes found in the IPC benchmark collections.
func findDomainFile(dir, name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	candidates := []string{
		"domain.pddl",
		"domain_" + name,
		stem + "-domain.pddl",
	}

	for _, c := range candidates {
		path := filepath.Join(dir, c)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
