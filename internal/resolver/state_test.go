package resolver

import (
	"testing"

	"github.com/ardalabs/pyresolve/internal/metadata"
	"github.com/ardalabs/pyresolve/internal/requirement"
	"github.com/ardalabs/pyresolve/internal/version"
)

func mustV(t *testing.T, s string) version.Version {
	t.Helper()

	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("version.Parse(%q): %v", s, err)
	}

	return v
}

func mustReq(t *testing.T, s string, origin requirement.Origin) requirement.Requirement {
	t.Helper()

	r, err := requirement.Parse(s, origin)
	if err != nil {
		t.Fatalf("requirement.Parse(%q): %v", s, err)
	}

	return r
}

func TestStateUndoLastRemovesAddedRequirementsAndUnpins(t *testing.T) {
	st := newState()

	r := mustReq(t, "foo>=1.0", requirement.PinOrigin("root-pkg", "1.0.0"))
	st.addRequirement("foo", r)

	st.pins["root-pkg"] = pin{Version: mustV(t, "1.0.0"), ExpandedExtras: map[string]bool{}}
	st.trail = append(st.trail, trailEntry{
		name: "root-pkg", version: mustV(t, "1.0.0"), wasNewPin: true,
		addedCounts: map[string]int{"foo": 1},
	})

	st.undoLast()

	if _, pinned := st.pins["root-pkg"]; pinned {
		t.Error("expected root-pkg unpinned after undo")
	}

	if len(st.requirementsByName["foo"]) != 0 {
		t.Errorf("expected foo's added requirement removed, got %v", st.requirementsByName["foo"])
	}
}

func TestStateUndoLastReexpansionKeepsPinButRemovesExtra(t *testing.T) {
	st := newState()

	st.pins["pkg"] = pin{Version: mustV(t, "1.0.0"), ExpandedExtras: map[string]bool{"socks": true}}
	st.trail = append(st.trail, trailEntry{
		name: "pkg", version: mustV(t, "1.0.0"), wasNewPin: false,
		addedExtras: []string{"socks"}, addedCounts: map[string]int{"pysocks": 1},
	})
	st.requirementsByName["pysocks"] = []requirement.Requirement{
		mustReq(t, "pysocks", requirement.PinOrigin("pkg", "1.0.0")),
	}

	st.undoLast()

	p, ok := st.pins["pkg"]
	if !ok {
		t.Fatal("expected pkg to remain pinned after a re-expansion undo")
	}

	if p.ExpandedExtras["socks"] {
		t.Error("expected socks removed from ExpandedExtras")
	}

	if len(st.requirementsByName["pysocks"]) != 0 {
		t.Error("expected pysocks' added requirement removed")
	}
}

func TestStateFilterCandidatesExcludesBadAndUnsatisfying(t *testing.T) {
	st := newState()

	st.addRequirement("pkg", mustReq(t, "pkg>=2.0", requirement.RootOrigin))
	st.markBad("pkg", mustV(t, "3.0.0"))

	candidates := []metadata.Candidate{
		{Version: mustV(t, "3.0.0")}, // marked bad
		{Version: mustV(t, "2.5.0")}, // satisfies, not bad
		{Version: mustV(t, "1.0.0")}, // fails specifier
	}

	got := st.filterCandidates("pkg", candidates, false)
	if len(got) != 1 || got[0].String() != "2.5.0" {
		t.Errorf("filterCandidates = %v, want only 2.5.0", got)
	}
}

func TestStateFilterCandidatesExcludesYankedUnlessExactlyPinned(t *testing.T) {
	st := newState()

	st.addRequirement("pkg", mustReq(t, "pkg==1.0.0", requirement.RootOrigin))

	candidates := []metadata.Candidate{
		{Version: mustV(t, "1.0.0"), Yanked: true},
	}

	got := st.filterCandidates("pkg", candidates, false)
	if len(got) != 1 {
		t.Errorf("expected the exactly-pinned yanked version to remain admissible, got %v", got)
	}
}

func TestStateFilterCandidatesDropsYankedWhenNotExactPin(t *testing.T) {
	st := newState()

	st.addRequirement("pkg", mustReq(t, "pkg>=1.0.0", requirement.RootOrigin))

	candidates := []metadata.Candidate{
		{Version: mustV(t, "1.0.0"), Yanked: true},
	}

	got := st.filterCandidates("pkg", candidates, false)
	if len(got) != 0 {
		t.Errorf("expected yanked version dropped without an exact pin, got %v", got)
	}
}

func TestExtrasUnionDedupsAcrossRequirements(t *testing.T) {
	reqs := []requirement.Requirement{
		mustReq(t, "requests[socks]", requirement.RootOrigin),
		mustReq(t, "requests[security,socks]", requirement.RootOrigin),
	}

	got := extrasUnion(reqs)
	if len(got) != 2 {
		t.Errorf("extrasUnion = %v, want 2 unique extras", got)
	}
}

func TestAncestorChainEmptyForRootParent(t *testing.T) {
	st := newState()

	if chain := st.ancestorChain(""); len(chain) != 0 {
		t.Errorf("expected empty chain for root parent, got %v", chain)
	}
}

func TestAncestorChainWalksPinnedParents(t *testing.T) {
	st := newState()

	st.pins["a"] = pin{Version: mustV(t, "1.0.0"), ExpandedExtras: map[string]bool{}, ParentName: ""}
	st.pins["b"] = pin{Version: mustV(t, "1.0.0"), ExpandedExtras: map[string]bool{}, ParentName: "a"}

	chain := st.ancestorChain("b")
	if !chain["a"] || !chain["b"] {
		t.Errorf("expected chain to include both b and its parent a, got %v", chain)
	}
}
