package attribute

import (
	"fmt"
	"math"
	"sort"
)

// Function combines the values of one attribute across several runs.
// It returns false when no value is usable.
type Function struct {
	Name string
	fn   func([]float64) (float64, bool)
}

// Apply aggregates values. NaN and infinite entries are ignored by every
// function.
func (f Function) Apply(values []float64) (float64, bool) {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}

	if f.fn == nil {
		return Sum.fn(finite)
	}

	return f.fn(finite)
}

var (
	Sum = Function{Name: "sum", fn: func(vs []float64) (float64, bool) {
		if len(vs) == 0 {
			return 0, false
		}

		total := 0.0
		for _, v := range vs {
			total += v
		}

		return total, true
	}}

	ArithmeticMean = Function{Name: "arithmetic_mean", fn: func(vs []float64) (float64, bool) {
		total, ok := Sum.fn(vs)
		if !ok {
			return 0, false
		}

		return total / float64(len(vs)), true
	}}

	// GeometricMean skips values <= 0: they would turn the whole mean into
	// zero or NaN.
	GeometricMean = Function{Name: "geometric_mean", fn: func(vs []float64) (float64, bool) {
		logSum := 0.0
		n := 0

		for _, v := range vs {
			if v <= 0 {
				continue
			}

			logSum += math.Log(v)
			n++
		}

		if n == 0 {
			return 0, false
		}

		return math.Exp(logSum / float64(n)), true
	}}

	// CountTrue counts non-zero values.
	CountTrue = Function{Name: "count_true", fn: func(vs []float64) (float64, bool) {
		if len(vs) == 0 {
			return 0, false
		}

		n := 0
		for _, v := range vs {
			if v != 0 {
				n++
			}
		}

		return float64(n), true
	}}

	Min = Function{Name: "min", fn: func(vs []float64) (float64, bool) {
		if len(vs) == 0 {
			return 0, false
		}

		m := vs[0]
		for _, v := range vs[1:] {
			m = math.Min(m, v)
		}

		return m, true
	}}

	Max = Function{Name: "max", fn: func(vs []float64) (float64, bool) {
		if len(vs) == 0 {
			return 0, false
		}

		m := vs[0]
		for _, v := range vs[1:] {
			m = math.Max(m, v)
		}

		return m, true
	}}

	Median = Function{Name: "median", fn: func(vs []float64) (float64, bool) {
		if len(vs) == 0 {
			return 0, false
		}

		sorted := append([]float64(nil), vs...)
		sort.Float64s(sorted)

		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid], true
		}

		return (sorted[mid-1] + sorted[mid]) / 2, true
	}}
)

var functions = map[string]Function{
	Sum.Name:            Sum,
	ArithmeticMean.Name: ArithmeticMean,
	GeometricMean.Name:  GeometricMean,
	CountTrue.Name:      CountTrue,
	Min.Name:            Min,
	Max.Name:            Max,
	Median.Name:         Median,
}

// LookupFunction returns the function called name.
func LookupFunction(name string) (Function, error) {
	f, ok := functions[name]
	if !ok {
		return Function{}, fmt.Errorf("unknown aggregation function %q", name)
	}

	return f, nil
}
