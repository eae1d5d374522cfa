// Package report builds comparison tables from parsed run records. A
// Report is plain data; Markdown and JSON renderers turn it into files.
package report

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/weiihann/labrun/attribute"
	"github.com/weiihann/labrun/store"
)

// Mode selects the report layout.
type Mode string

const (
	Absolute    Mode = "absolute"
	Comparative Mode = "comparative"
)

// Axis is the dimension a comparative report contrasts.
type Axis string

const (
	AxisAlgorithm Axis = "algorithm"
	AxisRevision  Axis = "revision"
	AxisConfig    Axis = "config"
)

// Unparsed labels runs that have no "error" label.
const Unparsed = "unparsed"

// Options configure Generate.
type Options struct {
	Name string
	Mode Mode
	Axis Axis
	// Order lists preferred column order; values not listed follow in
	// lexical order.
	Order []string
}

// ReportInputError means the selected records cannot form the requested
// report. Only that report fails.
type ReportInputError struct {
	Report string
	Msg    string
}

func (e *ReportInputError) Error() string {
	return fmt.Sprintf("report %s: %s", e.Report, e.Msg)
}

// Report is the data behind one report file.
type Report struct {
	Name    string   `json:"name"`
	Mode    Mode     `json:"mode"`
	Axis    Axis     `json:"axis,omitempty"`
	Columns []string `json:"columns"`
	// Keys are the table rows: problems for absolute reports, shared
	// pairing keys for comparative ones.
	Keys   []string `json:"keys"`
	Runs   []RunRow `json:"runs,omitempty"`
	Tables []Table  `json:"tables"`
}

// RunRow lists one run and how it ended.
type RunRow struct {
	ID        string `json:"id"`
	Algorithm string `json:"algorithm"`
	Problem   string `json:"problem"`
	Status    string `json:"status"`
}

// Table holds one attribute.
type Table struct {
	Attribute string `json:"attribute"`
	Function  string `json:"function"`
	MinWins   bool   `json:"min_wins"`
	Rows      []Row  `json:"rows"`
	Summary   Row    `json:"summary"`
}

// Row is one line of a table. Delta is only set in comparative reports.
type Row struct {
	Key   string `json:"key"`
	Cells []Cell `json:"cells"`
	Delta *Cell  `json:"delta,omitempty"`
}

// Cell is a value or an empty slot.
type Cell struct {
	Value   float64 `json:"value"`
	Present bool    `json:"present"`
	Best    bool    `json:"best,omitempty"`
	Text    string  `json:"text"`
}

// Generate builds a report from the records that match filter. It never
// re-parses or re-runs anything.
func Generate(
	records []store.Record,
	filter Filter,
	attrs []attribute.Attribute,
	opts Options,
) (*Report, error) {
	selected := filter.Apply(records)

	if len(selected) == 0 {
		return nil, &ReportInputError{Report: opts.Name, Msg: "no runs match the filter"}
	}

	switch opts.Mode {
	case Absolute, "":
		return absolute(selected, attrs, opts), nil
	case Comparative:
		return comparative(selected, attrs, opts)
	default:
		return nil, &ReportInputError{Report: opts.Name, Msg: fmt.Sprintf("unknown mode %q", opts.Mode)}
	}
}

func absolute(recs []store.Record, attrs []attribute.Attribute, opts Options) *Report {
	columns := ordered(distinct(recs, func(r store.Record) string { return r.Algorithm }), opts.Order)
	problems := distinct(recs, store.Record.ProblemID)
	sort.Strings(problems)

	byKey := make(map[string]map[string]store.Record)
	for _, r := range recs {
		if byKey[r.ProblemID()] == nil {
			byKey[r.ProblemID()] = make(map[string]store.Record)
		}
		byKey[r.ProblemID()][r.Algorithm] = r
	}

	rep := &Report{
		Name:    opts.Name,
		Mode:    Absolute,
		Columns: columns,
		Keys:    problems,
	}

	for _, r := range recs {
		status := r.Labels["error"]
		if status == "" {
			status = Unparsed
		}

		rep.Runs = append(rep.Runs, RunRow{
			ID:        r.ID,
			Algorithm: r.Algorithm,
			Problem:   r.ProblemID(),
			Status:    status,
		})
	}

	for _, attr := range attrs {
		rep.Tables = append(rep.Tables, buildTable(attr, problems, columns, byKey, false))
	}

	return rep
}

func comparative(recs []store.Record, attrs []attribute.Attribute, opts Options) (*Report, error) {
	axis := opts.Axis
	if axis == "" {
		axis = AxisAlgorithm
	}

	axisOf, keyOf, err := axisFuncs(axis)
	if err != nil {
		return nil, &ReportInputError{Report: opts.Name, Msg: err.Error()}
	}

	values := ordered(distinct(recs, axisOf), opts.Order)
	if len(values) != 2 {
		return nil, &ReportInputError{
			Report: opts.Name,
			Msg: fmt.Sprintf("comparison needs exactly two %ss, filter selects %d: %s",
				axis, len(values), strings.Join(values, ", ")),
		}
	}

	byKey := make(map[string]map[string]store.Record)
	for _, r := range recs {
		k := keyOf(r)
		if byKey[k] == nil {
			byKey[k] = make(map[string]store.Record)
		}
		byKey[k][axisOf(r)] = r
	}

	var shared []string
	for k, sides := range byKey {
		if len(sides) == 2 {
			shared = append(shared, k)
		}
	}
	sort.Strings(shared)

	if len(shared) == 0 {
		return nil, &ReportInputError{Report: opts.Name, Msg: "the two sides share no problems"}
	}

	rep := &Report{
		Name:    opts.Name,
		Mode:    Comparative,
		Axis:    axis,
		Columns: values,
		Keys:    shared,
	}

	for _, attr := range attrs {
		rep.Tables = append(rep.Tables, buildTable(attr, shared, values, byKey, true))
	}

	return rep, nil
}

func axisFuncs(axis Axis) (func(store.Record) string, func(store.Record) string, error) {
	switch axis {
	case AxisAlgorithm:
		return func(r store.Record) string { return r.Algorithm },
			store.Record.ProblemID, nil
	case AxisRevision:
		return func(r store.Record) string { return r.Revision },
			func(r store.Record) string { return r.Nick + "/" + r.ProblemID() }, nil
	case AxisConfig:
		return func(r store.Record) string { return r.Nick },
			func(r store.Record) string { return r.Revision + "/" + r.ProblemID() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown axis %q", axis)
	}
}

// buildTable lays out attr over keys × columns. Rows where no column has a
// value are dropped.
func buildTable(
	attr attribute.Attribute,
	keys, columns []string,
	byKey map[string]map[string]store.Record,
	withDelta bool,
) Table {
	t := Table{
		Attribute: attr.Name,
		Function:  attr.Function.Name,
		MinWins:   attr.MinWins,
	}

	perColumn := make([][]float64, len(columns))
	var complete [][]float64

	for _, key := range keys {
		row := Row{Key: key, Cells: make([]Cell, len(columns))}
		hasValue := false
		all := true

		for i, col := range columns {
			v, ok := byKey[key][col].Value(attr.Name)
			if !ok {
				all = false
				continue
			}

			hasValue = true
			row.Cells[i] = Cell{Value: v, Present: true, Text: attr.Format(v)}
			perColumn[i] = append(perColumn[i], v)
		}

		if !hasValue {
			continue
		}

		if all {
			vals := make([]float64, len(columns))
			for i := range columns {
				vals[i] = row.Cells[i].Value
			}
			complete = append(complete, vals)
		}

		markBest(attr, row.Cells)

		if withDelta {
			row.Delta = delta(attr, row.Cells)
		}

		t.Rows = append(t.Rows, row)
	}

	t.Summary = Row{Key: "summary (" + attr.Function.Name + ")", Cells: make([]Cell, len(columns))}

	for i := range columns {
		values := perColumn[i]

		if !attr.Absolute {
			values = make([]float64, 0, len(complete))
			for _, vals := range complete {
				values = append(values, vals[i])
			}
		}

		if v, ok := attr.Aggregate(values); ok {
			t.Summary.Cells[i] = Cell{Value: v, Present: true, Text: attr.Format(v)}
		}
	}

	markBest(attr, t.Summary.Cells)

	if withDelta {
		t.Summary.Delta = delta(attr, t.Summary.Cells)
	}

	return t
}

func markBest(attr attribute.Attribute, cells []Cell) {
	var (
		best  float64
		found bool
		n     int
	)

	for _, c := range cells {
		if !c.Present {
			continue
		}

		n++

		if !found || attr.Better(c.Value, best) {
			best = c.Value
			found = true
		}
	}

	// A single value or a full tie highlights nothing.
	if n < 2 {
		return
	}

	ties := 0
	for _, c := range cells {
		if c.Present && c.Value == best {
			ties++
		}
	}

	if ties == n {
		return
	}

	for i := range cells {
		if cells[i].Present && cells[i].Value == best {
			cells[i].Best = true
		}
	}
}

func delta(attr attribute.Attribute, cells []Cell) *Cell {
	if len(cells) != 2 || !cells[0].Present || !cells[1].Present {
		return nil
	}

	d := cells[1].Value - cells[0].Value
	text := signed(attr, d)

	return &Cell{Value: d, Present: true, Text: text}
}

func signed(attr attribute.Attribute, d float64) string {
	plain := attr
	plain.Unit = attribute.UnitNone

	s := plain.Format(d)
	if d > 0 {
		s = "+" + s
	}

	return s
}

func distinct(recs []store.Record, key func(store.Record) string) []string {
	seen := make(map[string]struct{})

	var out []string

	for _, r := range recs {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}

		seen[k] = struct{}{}
		out = append(out, k)
	}

	return out
}

// ordered sorts values by their position in order, then lexically.
func ordered(values, order []string) []string {
	out := slices.Clone(values)

	rank := func(v string) int {
		if i := slices.Index(order, v); i >= 0 {
			return i
		}

		return len(order)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}

		return out[i] < out[j]
	})

	return out
}
