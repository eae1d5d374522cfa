package parser

import (
	"math"
	"regexp"
	"strconv"

	"github.com/weiihann/labrun/environment"
	"github.com/weiihann/labrun/store"
)

// Planner exit codes with a meaning beyond success or failure.
var plannerExitCodes = map[int]string{
	1:  "plan-found-out-of-memory",
	2:  "plan-found-out-of-time",
	3:  "plan-found-out-of-memory-and-time",
	10: "translate-unsolvable",
	11: "search-unsolvable",
	12: "search-unsolvable-incomplete",
	20: "translate-out-of-memory",
	21: "translate-out-of-time",
	22: "search-out-of-memory",
	23: "search-out-of-time",
	24: "search-out-of-memory-and-time",
	30: "translate-critical-error",
	31: "translate-input-error",
	32: "search-critical-error",
	33: "search-input-error",
	34: "search-unsupported",
}

type pattern struct {
	attr  string
	re    *regexp.Regexp
	first bool
}

var plannerPatterns = []pattern{
	{attr: "plan_length", re: regexp.MustCompile(`Plan length: (\d+) step\(s\)\.`)},
	{attr: "cost", re: regexp.MustCompile(`Plan cost: (\d+)`)},
	{attr: "expansions", re: regexp.MustCompile(`Expanded (\d+) state\(s\)\.`)},
	{attr: "evaluations", re: regexp.MustCompile(`Evaluated (\d+) state\(s\)\.`)},
	{attr: "generated", re: regexp.MustCompile(`Generated (\d+) state\(s\)\.`)},
	{attr: "search_time", re: regexp.MustCompile(`Search time: ([\d.]+)s`)},
	{attr: "total_time", re: regexp.MustCompile(`Total time: ([\d.]+)s`)},
	{attr: "memory", re: regexp.MustCompile(`Peak memory: (\d+) KB`)},
	{attr: "initial_h_value", re: regexp.MustCompile(`Initial heuristic value for .*: (\d+)`), first: true},
}

var (
	solutionFound = regexp.MustCompile(`(?m)^Solution found!`)
	searchTimeout = regexp.MustCompile(`Time limit reached\. Abort search\.`)
	searchOOM     = regexp.MustCompile(`Failed to allocate memory|Memory limit has been reached`)
)

// Planner reads the log structure of the planner under test: search
// statistics, plan quality and the planner's own exit codes.
func Planner() Parser {
	return Func{ParserName: "planner", Fn: parsePlanner}
}

func parsePlanner(raw store.RawResult) Partial {
	p := NewPartial()

	for _, pat := range plannerPatterns {
		if v, ok := findFloat(pat.re, raw.Stdout, pat.first); ok {
			p.Values[pat.attr] = v
		}
	}

	_, hasCost := p.Values["cost"]
	if solutionFound.MatchString(raw.Stdout) || hasCost {
		p.Values["coverage"] = 1
	} else {
		p.Values["coverage"] = 0
	}

	if searchTimeout.MatchString(raw.Stdout) {
		p.Values["search_out_of_time"] = 1
	}
	if searchOOM.MatchString(raw.Stdout) || searchOOM.MatchString(raw.Stderr) {
		p.Values["search_out_of_memory"] = 1
	}

	// Environment-level classifications stay as the generic parser set
	// them; only runs the program itself ended are refined.
	if raw.Status != environment.StatusCompleted && raw.Status != environment.StatusFailed {
		return p
	}

	if label, ok := plannerExitCodes[raw.ExitCode]; ok {
		p.Labels["error"] = label
	}

	p.Values["unsolvable"] = 0

	switch raw.ExitCode {
	case 10, 11, 12:
		p.Values["unsolvable"] = 1
	case 22, 24:
		p.Values["search_out_of_memory"] = 1
	case 23:
		p.Values["search_out_of_time"] = 1
	}

	return p
}

// findFloat returns the first submatch of the last (or first) match of re.
func findFloat(re *regexp.Regexp, text string, first bool) (float64, bool) {
	var m []string

	if first {
		m = re.FindStringSubmatch(text)
	} else {
		all := re.FindAllStringSubmatch(text, -1)
		if len(all) > 0 {
			m = all[len(all)-1]
		}
	}

	if len(m) < 2 {
		return 0, false
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	return v, true
}
