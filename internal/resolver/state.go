package resolver

import (
	"strings"

	"github.com/ardalabs/pyresolve/internal/metadata"
	"github.com/ardalabs/pyresolve/internal/requirement"
	"github.com/ardalabs/pyresolve/internal/version"
)

// pin is the resolved selection for one name, plus the set of extras whose
// children have already been expanded into its criterion's dependants.
type pin struct {
	Version        version.Version
	ExpandedExtras map[string]bool
	ParentName     string // origin of the first non-root requirement on this name at pin time; "" if all came from the root
	Yanked         bool
	YankedReason   string
}

// trailEntry records one reversible event so backtrack can undo it: either a
// brand-new pin, or a re-expansion of extras on an already-pinned name
// (spec §4.F's extras-handling note: activating new extras on a pinned name
// re-expands its children in place rather than creating a new pin).
type trailEntry struct {
	name        string
	version     version.Version
	wasNewPin   bool
	addedExtras []string
	addedCounts map[string]int // child name -> requirements appended to it by this event
}

// state is the mutable search state for one resolve() run: the active
// requirements per name, the current pins, and the undo trail.
type state struct {
	requirementsByName map[string][]requirement.Requirement
	order              []string // first-seen order, for the stable tie-break of spec §4.F step 1
	pins               map[string]pin
	badVersions        map[string]map[string]bool // name -> version string -> true, monotonic for the run
	trail              []trailEntry
}

func newState() *state {
	return &state{
		requirementsByName: make(map[string][]requirement.Requirement),
		pins:               make(map[string]pin),
		badVersions:        make(map[string]map[string]bool),
	}
}

// addRequirement appends r to name's active requirements, tracking first-seen
// order.
func (s *state) addRequirement(name string, r requirement.Requirement) {
	if _, seen := s.requirementsByName[name]; !seen {
		s.order = append(s.order, name)
	}

	s.requirementsByName[name] = append(s.requirementsByName[name], r)
}

func (s *state) isBad(name string, v version.Version) bool {
	return s.badVersions[name] != nil && s.badVersions[name][v.String()]
}

func (s *state) markBad(name string, v version.Version) {
	if s.badVersions[name] == nil {
		s.badVersions[name] = make(map[string]bool)
	}

	s.badVersions[name][v.String()] = true
}

// filterCandidates narrows candidates to those satisfying every active
// requirement on name and not marked bad, descending by version.
func (s *state) filterCandidates(name string, candidates []metadata.Candidate, allowPrerelease bool) []version.Version {
	reqs := s.requirementsByName[name]

	anyStable := false

	for _, c := range candidates {
		if !c.Version.IsPreRelease() {
			anyStable = true

			break
		}
	}

	out := make([]version.Version, 0, len(candidates))

	for _, c := range candidates {
		if s.isBad(name, c.Version) {
			continue
		}

		if c.Yanked && !pinnedExactly(reqs, c.Version) {
			continue
		}

		ok := true

		for _, r := range reqs {
			if !r.Specifier.Contains(c.Version, allowPrerelease, anyStable) {
				ok = false

				break
			}
		}

		if ok {
			out = append(out, c.Version)
		}
	}

	return out
}

// pinnedExactly reports whether some requirement pins version v exactly via
// "==" (spec §4.A rule 4: yanked versions are excluded unless pinned exactly).
func pinnedExactly(reqs []requirement.Requirement, v version.Version) bool {
	for _, r := range reqs {
		for _, part := range strings.Split(r.Specifier.String(), ",") {
			part = strings.TrimSpace(part)
			if part == "=="+v.String() {
				return true
			}
		}
	}

	return false
}

// extrasUnion collects the union of extras requested by every active
// requirement on name (spec §4.F step 4: "extras-union-over-active-requirements").
func extrasUnion(reqs []requirement.Requirement) []string {
	seen := make(map[string]bool)

	var out []string

	for _, r := range reqs {
		for _, e := range r.SortedExtras() {
			if !seen[e] {
				seen[e] = true

				out = append(out, e)
			}
		}
	}

	return out
}

// undoLast pops and reverses the most recent trail entry, returning it.
func (s *state) undoLast() trailEntry {
	te := s.trail[len(s.trail)-1]
	s.trail = s.trail[:len(s.trail)-1]

	for child, n := range te.addedCounts {
		reqs := s.requirementsByName[child]
		s.requirementsByName[child] = reqs[:len(reqs)-n]
	}

	if te.wasNewPin {
		delete(s.pins, te.name)
	} else if p, ok := s.pins[te.name]; ok {
		for _, e := range te.addedExtras {
			delete(p.ExpandedExtras, e)
		}

		s.pins[te.name] = p
	}

	return te
}

// ancestorChain walks pin.ParentName back to the root, used for the cycle
// guard in expandChildren (spec §4.F: "drop the edge" when a child's name
// matches an ancestor in the current origin chain). startParent is the name
// that directly caused the name now being expanded to be required (not that
// name itself, which has no recorded pin yet while its own children are
// being expanded); the chain then walks startParent's already-pinned
// ancestors via their recorded ParentName.
func (s *state) ancestorChain(startParent string) map[string]bool {
	chain := make(map[string]bool)

	if startParent == "" {
		return chain
	}

	cur := startParent
	for {
		if chain[cur] {
			break
		}

		chain[cur] = true

		p, ok := s.pins[cur]
		if !ok || p.ParentName == "" {
			break
		}

		cur = p.ParentName
	}

	return chain
}
