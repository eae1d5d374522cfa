package report

import (
	"slices"
	"strings"

	"github.com/weiihann/labrun/store"
)

// Filter selects records. Empty fields match everything; set fields must
// all match.
type Filter struct {
	Algorithms []string
	// Contains keeps runs whose ID contains any of the substrings.
	Contains  []string
	Domains   []string
	Revisions []string
}

// Match reports whether r passes the filter.
func (f Filter) Match(r store.Record) bool {
	if len(f.Algorithms) > 0 && !slices.Contains(f.Algorithms, r.Algorithm) {
		return false
	}

	if len(f.Contains) > 0 && !slices.ContainsFunc(f.Contains, func(s string) bool {
		return strings.Contains(r.ID, s)
	}) {
		return false
	}

	if len(f.Domains) > 0 && !slices.Contains(f.Domains, r.Domain) {
		return false
	}

	if len(f.Revisions) > 0 && !slices.Contains(f.Revisions, r.Revision) {
		return false
	}

	return true
}

// Apply returns the matching records in their original order.
func (f Filter) Apply(records []store.Record) []store.Record {
	out := make([]store.Record, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}

	return out
}
