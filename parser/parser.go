// Package parser turns the raw output of a run into an attribute record.
// Parsers are pure functions of the raw result; a chain applies them in
// order and later parsers overwrite attributes set by earlier ones.
package parser

import (
	"maps"

	"github.com/weiihann/labrun/store"
)

// Partial is the set of attributes one parser extracted.
type Partial struct {
	Values map[string]float64
	Labels map[string]string
}

// NewPartial returns an empty Partial.
func NewPartial() Partial {
	return Partial{
		Values: make(map[string]float64),
		Labels: make(map[string]string),
	}
}

// Parser extracts attributes from a raw result. A parser that finds none
// of its markers returns an empty Partial; that is never an error.
type Parser interface {
	Name() string
	Parse(raw store.RawResult) Partial
}

// Func adapts a function to the Parser interface.
type Func struct {
	ParserName string
	Fn         func(raw store.RawResult) Partial
}

// Name implements Parser.
func (f Func) Name() string { return f.ParserName }

// Parse implements Parser.
func (f Func) Parse(raw store.RawResult) Partial { return f.Fn(raw) }

// Chain is an ordered list of parsers merged left to right.
type Chain []Parser

// Parse applies every parser to raw and merges their output; for a name
// set by several parsers the last one wins. Parsing the same raw result
// twice yields equal records.
func (c Chain) Parse(raw store.RawResult) store.Record {
	rec := store.Record{
		ID:        raw.ID,
		Algorithm: raw.Algorithm,
		Revision:  raw.Revision,
		Nick:      raw.Nick,
		Domain:    raw.Domain,
		Problem:   raw.Problem,
		Values:    make(map[string]float64),
		Labels:    make(map[string]string),
	}

	for _, p := range c {
		part := p.Parse(raw)
		maps.Copy(rec.Values, part.Values)
		maps.Copy(rec.Labels, part.Labels)
	}

	return rec
}

// Names lists the parser names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, p := range c {
		names[i] = p.Name()
	}

	return names
}
