package experiment

import (
	"slices"
	"strings"
)

// Expand returns the ordered cross product revisions × configs × problems.
// The order is revision-major, then configuration, then problem, each in
// input order, so equal inputs always yield equal run lists.
func Expand(
	revisions []RevisionRef,
	configs []Configuration,
	problems []Problem,
) ([]RunDescriptor, error) {
	if err := checkUnique(revisions, configs, problems); err != nil {
		return nil, err
	}

	runs := make([]RunDescriptor, 0, len(revisions)*len(configs)*len(problems))

	for _, rev := range revisions {
		for _, cfg := range configs {
			for _, prob := range problems {
				runs = append(runs, RunDescriptor{
					Index:    len(runs),
					Revision: rev,
					Config: Configuration{
						Nick: cfg.Nick,
						Args: slices.Clone(cfg.Args),
					},
					Problem: prob,
				})
			}
		}
	}

	return runs, nil
}

func checkUnique(
	revisions []RevisionRef,
	configs []Configuration,
	problems []Problem,
) error {
	seenRev := make(map[RevisionRef]struct{}, len(revisions))
	for i, rev := range revisions {
		if rev == "" {
			return Errorf("revisions", "entry %d is empty", i)
		}
		if strings.ContainsAny(string(rev), `/\`) {
			return Errorf("revisions", "revision %q contains a path separator", rev)
		}
		if _, ok := seenRev[rev]; ok {
			return Errorf("revisions", "duplicate revision %q", rev)
		}
		seenRev[rev] = struct{}{}
	}

	seenNick := make(map[string]struct{}, len(configs))
	for i, cfg := range configs {
		if cfg.Nick == "" {
			return Errorf("configurations", "entry %d has no nick", i)
		}
		if strings.ContainsAny(cfg.Nick, `/\`) {
			return Errorf("configurations", "nick %q contains a path separator", cfg.Nick)
		}
		if _, ok := seenNick[cfg.Nick]; ok {
			return Errorf("configurations", "duplicate nick %q", cfg.Nick)
		}
		seenNick[cfg.Nick] = struct{}{}
	}

	seenProb := make(map[string]struct{}, len(problems))
	for _, p := range problems {
		if _, ok := seenProb[p.ID()]; ok {
			return Errorf("suite", "duplicate problem %q", p.ID())
		}
		seenProb[p.ID()] = struct{}{}
	}

	// "{rev}-{nick}" is ambiguous when either part contains a dash.
	seenAlg := make(map[string]RevisionRef, len(revisions)*len(configs))
	for _, rev := range revisions {
		for _, cfg := range configs {
			alg := Algorithm(rev, cfg.Nick)
			if other, ok := seenAlg[alg]; ok {
				return Errorf("configurations",
					"algorithm %q is produced by revisions %q and %q", alg, other, rev)
			}
			seenAlg[alg] = rev
		}
	}

	return nil
}
