package parser

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/weiihann/labrun/environment"
	"github.com/weiihann/labrun/experiment"
	"github.com/weiihann/labrun/store"
)

const solvedLog = `Building successor generator...done! [t=0.01s]
Initial heuristic value for blind: 1
Initial heuristic value for lmcut: 7
Expanded 10 state(s).
Solution found!
Actual search time: 0.02s [t=0.03s]
Plan length: 12 step(s).
Plan cost: 12
Expanded 57 state(s).
Evaluated 120 state(s).
Generated 240 state(s).
Search time: 0.02s
Total time: 0.03s
Peak memory: 27304 KB
`

func solvedRaw() store.RawResult {
	return store.RawResult{
		ID:         "abc-blind/depot:p01.pddl",
		Algorithm:  "abc-blind",
		Revision:   "abc",
		Nick:       "blind",
		Domain:     "depot",
		Problem:    "p01.pddl",
		Status:     environment.StatusCompleted,
		ExitCode:   0,
		WallTime:   0.05,
		PeakMemory: 30000,
		Stdout:     solvedLog,
	}
}

func defaultChain() Chain {
	return Chain{ExitCode(), Planner()}
}

func TestChainSolved(t *testing.T) {
	rec := defaultChain().Parse(solvedRaw())

	want := map[string]float64{
		"coverage":        1,
		"plan_length":     12,
		"cost":            12,
		"expansions":      57,
		"evaluations":     120,
		"generated":       240,
		"search_time":     0.02,
		"total_time":      0.03,
		"memory":          27304,
		"initial_h_value": 1,
		"wall_time":       0.05,
		"peak_memory":     30000,
		"unsolvable":      0,
	}

	for name, v := range want {
		got, ok := rec.Value(name)
		if !ok {
			t.Errorf("%s missing", name)
			continue
		}
		if got != v {
			t.Errorf("%s = %v, want %v", name, got, v)
		}
	}

	if rec.Labels["error"] != ErrorSuccess {
		t.Errorf("error = %q, want success", rec.Labels["error"])
	}
	if rec.Algorithm != "abc-blind" || rec.Domain != "depot" || rec.Problem != "p01.pddl" {
		t.Errorf("identity not copied: %+v", rec)
	}
}

func TestChainIdempotent(t *testing.T) {
	raw := solvedRaw()
	chain := defaultChain()

	first := chain.Parse(raw)
	second := chain.Parse(raw)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("parsing twice differs:\n%+v\n%+v", first, second)
	}
}

func TestChainLastWriterWins(t *testing.T) {
	override := Func{ParserName: "override", Fn: func(store.RawResult) Partial {
		p := NewPartial()
		p.Values["cost"] = 99
		p.Labels["error"] = "refined"

		return p
	}}

	rec := Chain{ExitCode(), Planner(), override}.Parse(solvedRaw())

	if rec.Values["cost"] != 99 {
		t.Errorf("cost = %v, want 99", rec.Values["cost"])
	}
	if rec.Labels["error"] != "refined" {
		t.Errorf("error = %q, want refined", rec.Labels["error"])
	}

	rec = Chain{override, ExitCode(), Planner()}.Parse(solvedRaw())
	if rec.Values["cost"] != 12 {
		t.Errorf("cost = %v, want 12 when the planner parser runs last", rec.Values["cost"])
	}
}

func TestChainMissingMarkers(t *testing.T) {
	raw := store.RawResult{ID: "x", Status: environment.StatusCompleted, Stdout: "nothing useful"}

	rec := defaultChain().Parse(raw)

	for _, name := range []string{"cost", "expansions", "search_time", "wall_time"} {
		if _, ok := rec.Value(name); ok {
			t.Errorf("%s should be absent", name)
		}
	}

	if rec.Values["coverage"] != 0 {
		t.Errorf("coverage = %v, want 0", rec.Values["coverage"])
	}
}

func TestExitCodeStatuses(t *testing.T) {
	tests := []struct {
		status    environment.Status
		reason    environment.Reason
		exitCode  int
		wantError string
		wantTime  float64
		wantMem   float64
	}{
		{environment.StatusCompleted, "", 0, "success", 0, 0},
		{environment.StatusResourceExceeded, environment.ReasonTime, -1, ErrorTimeExceeded, 1, 0},
		{environment.StatusResourceExceeded, environment.ReasonMemory, -1, ErrorMemoryExceeded, 0, 1},
		{environment.StatusCancelled, "", -1, ErrorCancelled, 0, 0},
		{environment.StatusFailed, "", 1, ErrorFailure, 0, 0},
	}

	for _, tt := range tests {
		raw := store.RawResult{ID: "x", Status: tt.status, Reason: tt.reason, ExitCode: tt.exitCode}
		rec := Chain{ExitCode()}.Parse(raw)

		if rec.Labels["error"] != tt.wantError {
			t.Errorf("%s/%s error = %q, want %q", tt.status, tt.reason, rec.Labels["error"], tt.wantError)
		}
		if rec.Values["run_time_limit_exceeded"] != tt.wantTime {
			t.Errorf("%s time flag = %v", tt.status, rec.Values["run_time_limit_exceeded"])
		}
		if rec.Values["run_memory_limit_exceeded"] != tt.wantMem {
			t.Errorf("%s memory flag = %v", tt.status, rec.Values["run_memory_limit_exceeded"])
		}
	}
}

func TestPlannerExitCodes(t *testing.T) {
	tests := []struct {
		code      int
		status    environment.Status
		wantError string
		wantAttr  string
		wantAttrV float64
	}{
		{11, environment.StatusFailed, "search-unsolvable", "unsolvable", 1},
		{12, environment.StatusFailed, "search-unsolvable-incomplete", "unsolvable", 1},
		{22, environment.StatusFailed, "search-out-of-memory", "search_out_of_memory", 1},
		{23, environment.StatusFailed, "search-out-of-time", "search_out_of_time", 1},
	}

	for _, tt := range tests {
		raw := store.RawResult{ID: "x", Status: tt.status, ExitCode: tt.code}
		rec := defaultChain().Parse(raw)

		if rec.Labels["error"] != tt.wantError {
			t.Errorf("exit %d error = %q, want %q", tt.code, rec.Labels["error"], tt.wantError)
		}
		if rec.Values[tt.wantAttr] != tt.wantAttrV {
			t.Errorf("exit %d %s = %v, want %v", tt.code, tt.wantAttr, rec.Values[tt.wantAttr], tt.wantAttrV)
		}
	}

	// A run stopped by the environment keeps its classification.
	raw := store.RawResult{
		ID:       "x",
		Status:   environment.StatusResourceExceeded,
		Reason:   environment.ReasonTime,
		ExitCode: 23,
	}

	rec := defaultChain().Parse(raw)
	if rec.Labels["error"] != ErrorTimeExceeded {
		t.Errorf("error = %q, want %q", rec.Labels["error"], ErrorTimeExceeded)
	}
}

func TestPattern(t *testing.T) {
	p, err := Pattern(experiment.ParserSpec{
		Name: "ms",
		Patterns: []experiment.PatternSpec{
			{Attribute: "ms_construction_time", Regex: `Merge-and-shrink algorithm runtime: ([\d.]+)s`},
			{Attribute: "ms_abstraction_constructed", Regex: `Merge-and-shrink algorithm runtime`, Type: "flag"},
			{Attribute: "ms_one_scc", Regex: `Only one single SCC`, Type: "flag"},
			{Attribute: "ms_final_size", Regex: `Final transition system size: (\d+)`, Type: "int"},
			{Attribute: "ms_dead_label_group", Regex: `found dead label group`, Type: "flag"},
		},
	})
	if err != nil {
		t.Fatalf("Pattern failed: %v", err)
	}

	raw := store.RawResult{
		Stdout: "Only one single SCC\nMerge-and-shrink algorithm runtime: 1.5s\n" +
			"Merge-and-shrink algorithm runtime: 2.25s\n",
		Stderr: "Final transition system size: 4096\n",
	}

	part := p.Parse(raw)

	want := map[string]float64{
		"ms_construction_time":       2.25,
		"ms_abstraction_constructed": 1,
		"ms_one_scc":                 1,
		"ms_final_size":              4096,
	}
	if !reflect.DeepEqual(part.Values, want) {
		t.Errorf("values = %v, want %v", part.Values, want)
	}
}

func TestPatternDropsNonFinite(t *testing.T) {
	p, err := Pattern(experiment.ParserSpec{
		Name: "scores",
		Patterns: []experiment.PatternSpec{
			{Attribute: "score", Regex: `score: (\S+)`},
			{Attribute: "ratio", Regex: `ratio: (\S+)`},
			{Attribute: "bound", Regex: `bound: (\S+)`, Type: "int"},
		},
	})
	if err != nil {
		t.Fatalf("Pattern failed: %v", err)
	}

	raw := store.RawResult{
		Stdout: "score: inf\nratio: NaN\nbound: -Infinity\n",
		Stderr: "score: 3.5\n",
	}

	part := p.Parse(raw)

	want := map[string]float64{"score": 3.5}
	if !reflect.DeepEqual(part.Values, want) {
		t.Errorf("values = %v, want %v", part.Values, want)
	}

	if _, err := json.Marshal(part.Values); err != nil {
		t.Errorf("parsed values do not encode: %v", err)
	}
}

func TestPatternNeedsGroup(t *testing.T) {
	_, err := Pattern(experiment.ParserSpec{
		Name:     "bad",
		Patterns: []experiment.PatternSpec{{Attribute: "a", Regex: `no group`, Type: "int"}},
	})
	if err == nil {
		t.Error("expected error for a value pattern without a capture group")
	}
}
