package parser

import (
	"fmt"
	"regexp"

	"github.com/weiihann/labrun/experiment"
	"github.com/weiihann/labrun/store"
)

// Pattern builds a parser from regex declarations. Each regex is matched
// against stdout and stderr; int and float patterns record the first
// submatch of the last match, flag patterns record 1 on any match.
func Pattern(spec experiment.ParserSpec) (Parser, error) {
	pats := make([]compiled, 0, len(spec.Patterns))

	for _, ps := range spec.Patterns {
		re, err := regexp.Compile(ps.Regex)
		if err != nil {
			return nil, fmt.Errorf("parser %s: attribute %s: %w", spec.Name, ps.Attribute, err)
		}

		kind := ps.Type
		if kind == "" {
			kind = "float"
		}

		if kind != "flag" && re.NumSubexp() < 1 {
			return nil, fmt.Errorf("parser %s: attribute %s: regex needs a capture group", spec.Name, ps.Attribute)
		}

		pats = append(pats, compiled{attr: ps.Attribute, kind: kind, re: re})
	}

	return Func{
		ParserName: spec.Name,
		Fn: func(raw store.RawResult) Partial {
			p := NewPartial()

			for _, pat := range pats {
				pat.apply(raw, p)
			}

			return p
		},
	}, nil
}

type compiled struct {
	attr string
	kind string
	re   *regexp.Regexp
}

func (c compiled) apply(raw store.RawResult, p Partial) {
	for _, text := range []string{raw.Stdout, raw.Stderr} {
		if c.kind == "flag" {
			if c.re.MatchString(text) {
				p.Values[c.attr] = 1

				return
			}

			continue
		}

		v, ok := findFloat(c.re, text, false)
		if !ok {
			continue
		}

		if c.kind == "int" {
			v = float64(int64(v))
		}

		p.Values[c.attr] = v

		return
	}
}
