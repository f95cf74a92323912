package index_test

import (
	"context"
	"testing"

	"github.com/ardalabs/pyresolve/internal/index"
)

type fakeRepo struct {
	dists map[string][]index.Distribution
	err   error
}

func (f *fakeRepo) List(_ context.Context, name string) ([]index.Distribution, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.dists[name], nil
}

func wheelArtifact(filename string, tag index.WheelTag) index.Artifact {
	return index.Artifact{Kind: index.Wheel, Filename: filename, Tag: tag}
}

func TestListSortsVersionsDescending(t *testing.T) {
	repo := &fakeRepo{dists: map[string][]index.Distribution{
		"flask": {
			{Name: "flask", Version: "1.0.0"},
			{Name: "flask", Version: "2.1.2"},
			{Name: "flask", Version: "1.5.0"},
		},
	}}

	svc := index.New(repo)

	dists, err := svc.List(context.Background(), "flask")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}

	want := []string{"2.1.2", "1.5.0", "1.0.0"}

	for i, d := range dists {
		if d.Version != want[i] {
			t.Errorf("position %d: got %s, want %s", i, d.Version, want[i])
		}
	}
}

func TestListStopsAtFirstRepoWithResults(t *testing.T) {
	primary := &fakeRepo{dists: map[string][]index.Distribution{
		"flask": {{Name: "flask", Version: "2.1.2"}},
	}}
	secondary := &fakeRepo{dists: map[string][]index.Distribution{
		"flask": {{Name: "flask", Version: "99.0.0"}},
	}}

	svc := index.New(primary, secondary)

	dists, err := svc.List(context.Background(), "flask")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}

	if len(dists) != 1 || dists[0].Version != "2.1.2" {
		t.Errorf("expected only the primary repository's version, got %v", dists)
	}
}

func TestSelectArtifactPrefersMostSpecificWheel(t *testing.T) {
	dist := index.Distribution{
		Name:    "pkg",
		Version: "1.0.0",
		Artifacts: []index.Artifact{
			wheelArtifact("pkg-1.0.0-py3-none-any.whl", index.WheelTag{Python: "py3", ABI: "none", Platform: "any"}),
			wheelArtifact("pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl",
				index.WheelTag{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"}),
		},
	}

	env := index.Environment{CompatTags: []index.WheelTag{
		{Python: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		{Python: "py3", ABI: "none", Platform: "any"},
	}}

	got, err := index.SelectArtifact(dist, env)
	if err != nil {
		t.Fatalf("SelectArtifact error: %v", err)
	}

	if got.Filename != "pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl" {
		t.Errorf("unexpected artifact selected: %s", got.Filename)
	}
}

// TestSelectArtifactTieBreaksByFilename gives two wheels the same compat-tag
// specificity (both match CompatTags[0] via a compound platform field), so
// the choice must fall to filename lexicographic order.
func TestSelectArtifactTieBreaksByFilename(t *testing.T) {
	tag := index.WheelTag{Python: "py3", ABI: "none", Platform: "manylinux_2_17_x86_64.manylinux2014_x86_64"}

	dist := index.Distribution{
		Name:    "pkg",
		Version: "1.0.0",
		Artifacts: []index.Artifact{
			wheelArtifact("pkg-1.0.0-py3-none-manylinux2014_x86_64.whl", tag),
			wheelArtifact("pkg-1.0.0-py3-none-manylinux_2_17_x86_64.whl", tag),
		},
	}

	env := index.Environment{CompatTags: []index.WheelTag{
		{Python: "py3", ABI: "none", Platform: "manylinux_2_17_x86_64"},
	}}

	got, err := index.SelectArtifact(dist, env)
	if err != nil {
		t.Fatalf("SelectArtifact error: %v", err)
	}

	if got.Filename != "pkg-1.0.0-py3-none-manylinux2014_x86_64.whl" {
		t.Errorf("expected the lexicographically earlier filename to win the tie, got %s", got.Filename)
	}
}

func TestSelectArtifactFallsBackToSdist(t *testing.T) {
	dist := index.Distribution{
		Name:    "pkg",
		Version: "1.0.0",
		Artifacts: []index.Artifact{
			{Kind: index.Sdist, Filename: "pkg-1.0.0.tar.gz"},
		},
	}

	env := index.Environment{CompatTags: []index.WheelTag{{Python: "cp312", ABI: "cp312", Platform: "linux_x86_64"}}}

	got, err := index.SelectArtifact(dist, env)
	if err != nil {
		t.Fatalf("SelectArtifact error: %v", err)
	}

	if got.Kind != index.Sdist {
		t.Errorf("expected sdist fallback, got kind %v", got.Kind)
	}
}

func TestSelectArtifactUnusableWhenNothingMatches(t *testing.T) {
	dist := index.Distribution{Name: "pkg", Version: "1.0.0"}

	_, err := index.SelectArtifact(dist, index.Environment{})
	if err == nil {
		t.Error("expected an error when no artifact is usable")
	}
}

func TestSelectArtifactPreferSourceFlipsOrder(t *testing.T) {
	dist := index.Distribution{
		Name:    "pkg",
		Version: "1.0.0",
		Artifacts: []index.Artifact{
			wheelArtifact("pkg-1.0.0-py3-none-any.whl", index.WheelTag{Python: "py3", ABI: "none", Platform: "any"}),
			{Kind: index.Sdist, Filename: "pkg-1.0.0.tar.gz"},
		},
	}

	env := index.Environment{
		CompatTags:   []index.WheelTag{{Python: "py3", ABI: "none", Platform: "any"}},
		PreferSource: true,
	}

	got, err := index.SelectArtifact(dist, env)
	if err != nil {
		t.Fatalf("SelectArtifact error: %v", err)
	}

	if got.Kind != index.Sdist {
		t.Error("expected PreferSource to select the sdist")
	}
}
