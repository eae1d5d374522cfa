// Package attribute defines report attributes: named run metrics together
// with how they aggregate, which direction is better and how they print.
package attribute

import (
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Unit changes how values print.
type Unit string

const (
	UnitNone Unit = ""
	// UnitKB values are kibibytes and print as human-readable sizes.
	UnitKB Unit = "KB"
	// UnitSeconds values print with an "s" suffix.
	UnitSeconds Unit = "s"
)

// Attribute describes one metric.
type Attribute struct {
	Name string
	// Absolute attributes summarise every run. Others only summarise the
	// problems on which every compared algorithm has a value.
	Absolute bool
	// MinWins selects the highlighting direction. It never changes the
	// aggregate itself.
	MinWins  bool
	Function Function
	Digits   int
	Unit     Unit
}

// Aggregate applies the attribute's function to values.
func (a Attribute) Aggregate(values []float64) (float64, bool) {
	return a.Function.Apply(values)
}

// Better reports whether x is strictly better than y.
func (a Attribute) Better(x, y float64) bool {
	if a.MinWins {
		return x < y
	}

	return x > y
}

// Format prints v with the attribute's precision and unit.
func (a Attribute) Format(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}

	switch a.Unit {
	case UnitKB:
		if v < 0 {
			return strconv.FormatFloat(v, 'f', a.Digits, 64)
		}

		return humanize.IBytes(uint64(v * 1024))
	case UnitSeconds:
		return strconv.FormatFloat(v, 'f', a.Digits, 64) + "s"
	default:
		return strconv.FormatFloat(v, 'f', a.Digits, 64)
	}
}

// Defaults used for attributes declared without options.
const (
	DefaultDigits  = 2
	DefaultMinWins = true
)

// New returns an attribute with the default options: summed, lower is
// better, two digits.
func New(name string) Attribute {
	return Attribute{
		Name:     name,
		MinWins:  DefaultMinWins,
		Function: Sum,
		Digits:   DefaultDigits,
	}
}

func counter(name string, minWins bool) Attribute {
	return Attribute{Name: name, Absolute: true, MinWins: minWins, Function: Sum, Digits: 0}
}

func geometric(name string, digits int, unit Unit) Attribute {
	return Attribute{Name: name, MinWins: true, Function: GeometricMean, Digits: digits, Unit: unit}
}

// Defaults returns the standard planner attributes in table order.
func Defaults() []Attribute {
	return []Attribute{
		counter("coverage", false),
		{Name: "cost", MinWins: true, Function: Sum, Digits: 0},
		{Name: "plan_length", MinWins: true, Function: Sum, Digits: 0},
		geometric("expansions", 0, UnitNone),
		geometric("evaluations", 0, UnitNone),
		geometric("generated", 0, UnitNone),
		{Name: "initial_h_value", MinWins: false, Function: Sum, Digits: 0},
		geometric("search_time", 2, UnitSeconds),
		geometric("total_time", 2, UnitSeconds),
		geometric("memory", 0, UnitKB),
		geometric("wall_time", 2, UnitSeconds),
		geometric("peak_memory", 0, UnitKB),
		counter("unsolvable", false),
		counter("search_out_of_memory", true),
		counter("search_out_of_time", true),
		counter("run_time_limit_exceeded", true),
		counter("run_memory_limit_exceeded", true),
	}
}

// Set is an ordered, name-indexed collection of attributes.
type Set struct {
	order []string
	byKey map[string]Attribute
}

// NewSet builds a set from attrs; later entries replace earlier ones of
// the same name but keep the earlier position.
func NewSet(attrs ...Attribute) *Set {
	s := &Set{byKey: make(map[string]Attribute, len(attrs))}
	for _, a := range attrs {
		s.Put(a)
	}

	return s
}

// Put adds or replaces a.
func (s *Set) Put(a Attribute) {
	if _, ok := s.byKey[a.Name]; !ok {
		s.order = append(s.order, a.Name)
	}

	s.byKey[a.Name] = a
}

// Get returns the attribute called name, or a default one.
func (s *Set) Get(name string) Attribute {
	if a, ok := s.byKey[name]; ok {
		return a
	}

	return New(name)
}

// Has reports whether name was declared.
func (s *Set) Has(name string) bool {
	_, ok := s.byKey[name]

	return ok
}

// All returns the attributes in declaration order.
func (s *Set) All() []Attribute {
	out := make([]Attribute, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byKey[name])
	}

	return out
}

// Select returns the named attributes in the given order.
func (s *Set) Select(names []string) []Attribute {
	out := make([]Attribute, 0, len(names))
	for _, name := range names {
		out = append(out, s.Get(name))
	}

	return out
}
