package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/weiihann/labrun/attribute"
	"github.com/weiihann/labrun/store"
)

func rec(rev, nick, domain, problem, status string, values map[string]float64) store.Record {
	algo := rev + "-" + nick

	return store.Record{
		ID:        algo + "/" + domain + ":" + problem,
		Algorithm: algo,
		Revision:  rev,
		Nick:      nick,
		Domain:    domain,
		Problem:   problem,
		Values:    values,
		Labels:    map[string]string{"error": status},
	}
}

func sampleRecords() []store.Record {
	return []store.Record{
		rec("main", "astar", "gripper", "p1", "success", map[string]float64{"coverage": 1, "expansions": 100}),
		rec("main", "astar", "gripper", "p2", "success", map[string]float64{"coverage": 1, "expansions": 400}),
		rec("main", "astar", "gripper", "p3", "resource-exceeded-time", map[string]float64{"coverage": 0}),
		rec("main", "gbfs", "gripper", "p1", "success", map[string]float64{"coverage": 1, "expansions": 10}),
		rec("main", "gbfs", "gripper", "p2", "success", map[string]float64{"coverage": 1, "expansions": 40}),
		rec("main", "gbfs", "gripper", "p3", "success", map[string]float64{"coverage": 1, "expansions": 90}),
	}
}

func attrs() []attribute.Attribute {
	set := attribute.NewSet(attribute.Defaults()...)

	return set.Select([]string{"coverage", "expansions"})
}

func TestGenerateAbsolute(t *testing.T) {
	rep, err := Generate(sampleRecords(), Filter{}, attrs(), Options{Name: "abs", Mode: Absolute})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := strings.Join(rep.Columns, ","); got != "main-astar,main-gbfs" {
		t.Errorf("columns = %q, want %q", got, "main-astar,main-gbfs")
	}

	if len(rep.Runs) != 6 {
		t.Fatalf("runs = %d, want 6", len(rep.Runs))
	}

	statuses := make(map[string]string)
	for _, r := range rep.Runs {
		statuses[r.ID] = r.Status
	}

	if got := statuses["main-astar/gripper:p3"]; got != "resource-exceeded-time" {
		t.Errorf("p3 status = %q, want resource-exceeded-time", got)
	}

	if got := statuses["main-gbfs/gripper:p3"]; got != "success" {
		t.Errorf("gbfs p3 status = %q, want success", got)
	}

	coverage := rep.Tables[0]
	if coverage.Attribute != "coverage" {
		t.Fatalf("first table = %q, want coverage", coverage.Attribute)
	}

	if got := coverage.Summary.Cells[0].Value; got != 2 {
		t.Errorf("astar coverage = %v, want 2", got)
	}

	if got := coverage.Summary.Cells[1].Value; got != 3 {
		t.Errorf("gbfs coverage = %v, want 3", got)
	}

	if !coverage.Summary.Cells[1].Best || coverage.Summary.Cells[0].Best {
		t.Error("higher coverage should be highlighted")
	}

	// expansions is not absolute: p3 is missing for astar, so the
	// geometric mean only covers p1 and p2.
	exp := rep.Tables[1]
	if len(exp.Rows) != 3 {
		t.Errorf("expansion rows = %d, want 3", len(exp.Rows))
	}

	if got := exp.Summary.Cells[0].Value; math.Abs(got-200) > 1e-9 {
		t.Errorf("astar expansions = %v, want 200", got)
	}

	if got := exp.Summary.Cells[1].Value; math.Abs(got-20) > 1e-9 {
		t.Errorf("gbfs expansions = %v, want 20", got)
	}

	if !exp.Summary.Cells[1].Best {
		t.Error("fewer expansions should be highlighted")
	}
}

func TestGenerateComparative(t *testing.T) {
	records := sampleRecords()
	// A problem only one side ran is not a shared row.
	records = append(records,
		rec("main", "gbfs", "gripper", "p4", "success", map[string]float64{"coverage": 1}))

	rep, err := Generate(records, Filter{}, attrs(), Options{
		Name:  "cmp",
		Mode:  Comparative,
		Axis:  AxisAlgorithm,
		Order: []string{"main-gbfs", "main-astar"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := strings.Join(rep.Keys, ","); got != "gripper:p1,gripper:p2,gripper:p3" {
		t.Errorf("keys = %q", got)
	}

	if rep.Columns[0] != "main-gbfs" {
		t.Errorf("first column = %q, want main-gbfs", rep.Columns[0])
	}

	exp := rep.Tables[1]
	row := exp.Rows[0]

	if row.Delta == nil || row.Delta.Value != 90 {
		t.Errorf("p1 delta = %+v, want 90", row.Delta)
	}

	if exp.Rows[2].Delta != nil {
		t.Errorf("p3 delta = %+v, want none", exp.Rows[2].Delta)
	}

	if len(rep.Runs) != 0 {
		t.Errorf("comparative report lists %d runs", len(rep.Runs))
	}
}

func TestGenerateComparativeAxisCount(t *testing.T) {
	records := append(sampleRecords(),
		rec("main", "lama", "gripper", "p1", "success", map[string]float64{"coverage": 1}))

	_, err := Generate(records, Filter{}, attrs(), Options{Name: "cmp", Mode: Comparative})

	var inputErr *ReportInputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("err = %v, want ReportInputError", err)
	}

	if inputErr.Report != "cmp" {
		t.Errorf("report = %q, want cmp", inputErr.Report)
	}

	// Filtering down to two algorithms fixes it.
	_, err = Generate(records, Filter{Contains: []string{"astar", "lama"}}, attrs(),
		Options{Name: "cmp", Mode: Comparative})
	if err != nil {
		t.Errorf("filtered comparison: %v", err)
	}
}

func TestGenerateComparativeRevision(t *testing.T) {
	records := []store.Record{
		rec("v1", "astar", "depot", "p1", "success", map[string]float64{"expansions": 50}),
		rec("v2", "astar", "depot", "p1", "success", map[string]float64{"expansions": 30}),
		rec("v1", "gbfs", "depot", "p1", "success", map[string]float64{"expansions": 9}),
		rec("v2", "gbfs", "depot", "p1", "success", map[string]float64{"expansions": 7}),
	}

	rep, err := Generate(records, Filter{}, attrs(), Options{Mode: Comparative, Axis: AxisRevision})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := strings.Join(rep.Keys, ","); got != "astar/depot:p1,gbfs/depot:p1" {
		t.Errorf("keys = %q", got)
	}

	if d := rep.Tables[1].Rows[0].Delta; d == nil || d.Value != -20 {
		t.Errorf("delta = %+v, want -20", d)
	}
}

func TestGenerateEmptySelection(t *testing.T) {
	_, err := Generate(sampleRecords(), Filter{Domains: []string{"depot"}}, attrs(), Options{Name: "x"})

	var inputErr *ReportInputError
	if !errors.As(err, &inputErr) {
		t.Errorf("err = %v, want ReportInputError", err)
	}
}

func TestFilter(t *testing.T) {
	r := rec("main", "astar", "gripper", "p1", "success", nil)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"algorithm", Filter{Algorithms: []string{"main-astar"}}, true},
		{"other algorithm", Filter{Algorithms: []string{"main-gbfs"}}, false},
		{"contains", Filter{Contains: []string{"star"}}, true},
		{"domain", Filter{Domains: []string{"depot"}}, false},
		{"revision", Filter{Revisions: []string{"main"}}, true},
		{"all set", Filter{Contains: []string{"astar"}, Domains: []string{"gripper"}, Revisions: []string{"v2"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(r); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderDeterministic(t *testing.T) {
	render := func() ([]byte, []byte) {
		rep, err := Generate(sampleRecords(), Filter{}, attrs(), Options{Name: "abs"})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}

		var md, js bytes.Buffer
		if err := Markdown(&md, rep); err != nil {
			t.Fatalf("Markdown: %v", err)
		}

		if err := JSON(&js, rep); err != nil {
			t.Fatalf("JSON: %v", err)
		}

		return md.Bytes(), js.Bytes()
	}

	md1, js1 := render()
	md2, js2 := render()

	if !bytes.Equal(md1, md2) || !bytes.Equal(js1, js2) {
		t.Error("rendering the same records twice differs")
	}

	out := string(md1)
	for _, want := range []string{
		"# abs",
		"| Problem | main-astar | main-gbfs |",
		"| gripper:p3 | 0 | **1** |",
		"| main-astar/gripper:p3 | main-astar | gripper:p3 | resource-exceeded-time |",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}

	var decoded Report
	if err := json.Unmarshal(js1, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}

	if decoded.Name != "abs" || len(decoded.Tables) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}
