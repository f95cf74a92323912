// Package index implements the Distribution index (spec §4.C): it
// enumerates available artifacts for a {name, version} across one or more
// repositories, merges them, and picks a preferred artifact for a target
// environment.
package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/ardalabs/pyresolve/internal/version"
)

// ArtifactKind distinguishes a pre-built wheel from a source distribution.
type ArtifactKind int

const (
	// Wheel is a pre-built binary distribution.
	Wheel ArtifactKind = iota
	// Sdist is a source distribution.
	Sdist
)

// Artifact is a single downloadable file for a {name, version}.
type Artifact struct {
	Kind         ArtifactKind
	Name         string
	Version      string
	Filename     string
	URL          string
	SHA256       string
	Tag          WheelTag // zero value for Sdist
	Yanked       bool
	YankedReason string
}

// Distribution is everything known about one {name, version}: its
// artifacts and whether the whole release was yanked.
type Distribution struct {
	Name    string
	Version string
	Yanked  bool
	Artifacts []Artifact
}

// Repository is the pure-function contract a concrete index backend (a
// PEP-503 simple index or a JSON warehouse API) must satisfy.
type Repository interface {
	// List returns every known distribution of name, across all versions.
	List(ctx context.Context, name string) ([]Distribution, error)
}

// Environment is the subset of the resolver's target environment this
// package needs to score artifacts: an ordered, most-preferred-first list
// of compatible wheel tags.
type Environment struct {
	CompatTags   []WheelTag
	PreferSource bool
}

// entry is one configured, priority-ordered repository.
type entry struct {
	name string
	repo Repository
}

// Service lists distributions from a priority-ordered list of
// repositories: repositories are tried in order and the first one that
// returns any distribution for a name answers alone; later repositories
// are not queried for that name, so artifacts are never combined across
// repositories. Entries of that one answer that share a version are merged,
// the first entry's filename winning on a duplicate.
type Service struct {
	entries []entry
}

// New builds a distribution index service over repos, tried in the given
// order (index URLs are tried in declared order, spec §6).
func New(repos ...Repository) *Service {
	s := &Service{}
	for i, r := range repos {
		s.entries = append(s.entries, entry{name: fmt.Sprintf("repo-%d", i), repo: r})
	}

	return s
}

// List returns the merged, version-sorted-descending distributions for name.
func (s *Service) List(ctx context.Context, name string) ([]Distribution, error) {
	byVersion := make(map[string]*Distribution)
	order := make([]string, 0)

	var lastErr error

	found := false

	for _, e := range s.entries {
		dists, err := e.repo.List(ctx, name)
		if err != nil {
			lastErr = err

			continue
		}

		if len(dists) > 0 {
			found = true
		}

		for _, d := range dists {
			existing, ok := byVersion[d.Version]
			if !ok {
				cp := d
				byVersion[d.Version] = &cp
				order = append(order, d.Version)

				continue
			}

			mergeArtifacts(existing, d.Artifacts)
		}

		// A name found in one repository is not re-queried in others,
		// matching spec §6: "a package found in one index is not re-queried
		// in others." We still merge artifacts seen on this pass above, but
		// stop once at least one repository has answered successfully.
		if len(dists) > 0 {
			break
		}
	}

	if !found {
		if lastErr != nil {
			return nil, fmt.Errorf("listing %s: %w", name, lastErr)
		}

		return nil, nil
	}

	out := make([]Distribution, 0, len(order))
	for _, v := range order {
		out = append(out, *byVersion[v])
	}

	sort.SliceStable(out, func(i, j int) bool {
		vi, erri := version.Parse(out[i].Version)
		vj, errj := version.Parse(out[j].Version)

		if erri != nil || errj != nil {
			return out[i].Version > out[j].Version
		}

		return vi.GreaterThan(vj)
	})

	return out, nil
}

// mergeArtifacts unions newArtifacts into dist, keeping the first
// repository's copy on a duplicate filename.
func mergeArtifacts(dist *Distribution, newArtifacts []Artifact) {
	seen := make(map[string]bool, len(dist.Artifacts))
	for _, a := range dist.Artifacts {
		seen[a.Filename] = true
	}

	for _, a := range newArtifacts {
		if !seen[a.Filename] {
			dist.Artifacts = append(dist.Artifacts, a)
			seen[a.Filename] = true
		}
	}
}

// SelectArtifact picks the preferred artifact of dist for env, implementing
// spec §4.C's selection rule: filter wheels to compatible tags, score by
// specificity (position in env.CompatTags, lower is better), tie-break by
// filename lexicographic order (Open Question: resolved this way). Falls
// back to the sdist if no wheel matches, or flips that preference when
// env.PreferSource is set. Yank flags are not consulted here; yanked
// versions are filtered later by the resolver (spec §4.A rule 4), which
// keeps them only for an exact pin.
func SelectArtifact(dist Distribution, env Environment) (Artifact, error) {
	wheel, hasWheel := bestWheel(dist, env.CompatTags)
	sdist, hasSdist := firstSdist(dist)

	switch {
	case env.PreferSource && hasSdist:
		return sdist, nil
	case hasWheel:
		return wheel, nil
	case hasSdist:
		return sdist, nil
	default:
		return Artifact{}, fmt.Errorf("no usable artifact for %s %s", dist.Name, dist.Version)
	}
}

func bestWheel(dist Distribution, compatTags []WheelTag) (Artifact, bool) {
	var (
		best         Artifact
		bestPriority int
		found        bool
	)

	for _, a := range dist.Artifacts {
		if a.Kind != Wheel {
			continue
		}

		priority, ok := wheelPriority(a, compatTags)
		if !ok {
			continue
		}

		if !found || priority < bestPriority || (priority == bestPriority && a.Filename < best.Filename) {
			best = a
			bestPriority = priority
			found = true
		}
	}

	return best, found
}

// wheelPriority reports a's position in compatTags (lower is more specific)
// and whether it matches any entry at all.
func wheelPriority(a Artifact, compatTags []WheelTag) (int, bool) {
	for i, ct := range compatTags {
		if matchesTag(a.Tag, ct) {
			return i, true
		}
	}

	return 0, false
}

func firstSdist(dist Distribution) (Artifact, bool) {
	for _, a := range dist.Artifacts {
		if a.Kind == Sdist {
			return a, true
		}
	}

	return Artifact{}, false
}
