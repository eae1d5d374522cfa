package attribute

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFunctions(t *testing.T) {
	tests := []struct {
		fn     Function
		values []float64
		want   float64
		ok     bool
	}{
		{Sum, []float64{1, 2, 3}, 6, true},
		{Sum, nil, 0, false},
		{ArithmeticMean, []float64{1, 2, 3, 6}, 3, true},
		{GeometricMean, []float64{2, 8}, 4, true},
		{GeometricMean, []float64{2, 0, 8}, 4, true},
		{GeometricMean, []float64{2, -1, 8, math.NaN()}, 4, true},
		{GeometricMean, []float64{0, -3}, 0, false},
		{CountTrue, []float64{1, 0, 1, 1}, 3, true},
		{Min, []float64{4, 2, 9}, 2, true},
		{Max, []float64{4, 2, 9}, 9, true},
		{Median, []float64{4, 2, 9}, 4, true},
		{Median, []float64{4, 2, 9, 10}, 6.5, true},
		{ArithmeticMean, []float64{math.Inf(1), 2}, 2, true},
	}

	for _, tt := range tests {
		got, ok := tt.fn.Apply(tt.values)
		if ok != tt.ok {
			t.Errorf("%s(%v) ok = %v, want %v", tt.fn.Name, tt.values, ok, tt.ok)
			continue
		}
		if ok && !almostEqual(got, tt.want) {
			t.Errorf("%s(%v) = %v, want %v", tt.fn.Name, tt.values, got, tt.want)
		}
	}
}

func TestGeometricMeanExcludesZero(t *testing.T) {
	got, ok := GeometricMean.Apply([]float64{10, 0, 1000})
	if !ok {
		t.Fatal("expected a value")
	}
	if got == 0 || math.IsNaN(got) {
		t.Fatalf("zero entry poisoned the mean: %v", got)
	}
	if !almostEqual(got, 100) {
		t.Errorf("geometric mean = %v, want 100", got)
	}
}

func TestMinWinsDoesNotChangeAggregate(t *testing.T) {
	values := []float64{3, 12}

	lower := Attribute{Name: "t", MinWins: true, Function: GeometricMean}
	higher := Attribute{Name: "t", MinWins: false, Function: GeometricMean}

	a, _ := lower.Aggregate(values)
	b, _ := higher.Aggregate(values)

	if a != b {
		t.Errorf("aggregates differ: %v vs %v", a, b)
	}
	if !lower.Better(1, 2) || higher.Better(1, 2) {
		t.Error("Better ignores MinWins")
	}
}

func TestLookupFunction(t *testing.T) {
	for _, name := range []string{"sum", "arithmetic_mean", "geometric_mean", "count_true", "min", "max", "median"} {
		f, err := LookupFunction(name)
		if err != nil {
			t.Errorf("LookupFunction(%q) failed: %v", name, err)
		}
		if f.Name != name {
			t.Errorf("name = %q, want %q", f.Name, name)
		}
	}

	if _, err := LookupFunction("harmonic_mean"); err == nil {
		t.Error("expected error for unknown function")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		attr Attribute
		v    float64
		want string
	}{
		{Attribute{Digits: 2}, 1.23456, "1.23"},
		{Attribute{Digits: 0}, 1234, "1234"},
		{Attribute{Digits: 2, Unit: UnitSeconds}, 0.5, "0.50s"},
		{Attribute{Unit: UnitKB}, 2048, "2.0 MiB"},
		{Attribute{Digits: 2}, math.NaN(), "-"},
	}

	for _, tt := range tests {
		if got := tt.attr.Format(tt.v); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestSet(t *testing.T) {
	s := NewSet(Defaults()...)

	if !s.Has("coverage") {
		t.Fatal("defaults lack coverage")
	}

	s.Put(Attribute{Name: "coverage", Function: CountTrue})
	s.Put(Attribute{Name: "ms_construction_time", Function: GeometricMean})

	all := s.All()
	if all[0].Name != "coverage" || all[0].Function.Name != "count_true" {
		t.Errorf("override changed position or was lost: %+v", all[0])
	}
	if all[len(all)-1].Name != "ms_construction_time" {
		t.Errorf("new attribute not appended: %q", all[len(all)-1].Name)
	}

	undeclared := s.Get("something_else")
	if undeclared.Function.Name != "sum" || !undeclared.MinWins || undeclared.Digits != DefaultDigits {
		t.Errorf("undeclared attribute defaults = %+v", undeclared)
	}

	sel := s.Select([]string{"expansions", "coverage"})
	if len(sel) != 2 || sel[0].Name != "expansions" {
		t.Errorf("Select = %+v", sel)
	}
}
