package version_test

import (
	"testing"

	"github.com/ardalabs/pyresolve/internal/version"
)

func mustParse(t *testing.T, s string) version.Version {
	t.Helper()

	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", s, err)
	}

	return v
}

func TestCompareOrdering(t *testing.T) {
	cases := []struct {
		lesser, greater string
	}{
		{"1.0", "1.1"},
		{"1.0a1", "1.0"},
		{"1.0.dev1", "1.0a1"},
		{"1.0", "1.0.post1"},
		{"1.0+local", "1.0+local"}, // identical pair, skipped by the equality guard below
	}

	for _, c := range cases {
		lo := mustParse(t, c.lesser)
		hi := mustParse(t, c.greater)

		if c.lesser == c.greater {
			continue
		}

		if !hi.GreaterThan(lo) && lo.Compare(hi) != 0 {
			t.Errorf("expected %s < %s", c.lesser, c.greater)
		}
	}
}

func TestEqualityIgnoresTrailingZeros(t *testing.T) {
	a := mustParse(t, "1.0")
	b := mustParse(t, "1.0.0")

	if a.Compare(b) != 0 {
		t.Errorf("expected 1.0 == 1.0.0")
	}
}

func TestSpecifierEmptyMatchesEverything(t *testing.T) {
	spec, err := version.ParseSpecifier("")
	if err != nil {
		t.Fatalf("ParseSpecifier error: %v", err)
	}

	if !spec.Empty() {
		t.Fatal("expected empty specifier")
	}

	v := mustParse(t, "1.2.3")
	if !spec.Contains(v, false, true) {
		t.Error("empty specifier should contain every version")
	}
}

func TestSpecifierCompatibleRelease(t *testing.T) {
	spec, err := version.ParseSpecifier("~=1.4.2")
	if err != nil {
		t.Fatalf("ParseSpecifier error: %v", err)
	}

	ok := mustParse(t, "1.4.5")
	tooLow := mustParse(t, "1.4.1")
	tooHigh := mustParse(t, "1.5.0")

	if !spec.Contains(ok, false, true) {
		t.Error("expected ~=1.4.2 to contain 1.4.5")
	}

	if spec.Contains(tooLow, false, true) {
		t.Error("expected ~=1.4.2 to exclude 1.4.1")
	}

	if spec.Contains(tooHigh, false, true) {
		t.Error("expected ~=1.4.2 to exclude 1.5.0")
	}
}

func TestSpecifierPrereleaseAdmission(t *testing.T) {
	spec, err := version.ParseSpecifier(">=1.0")
	if err != nil {
		t.Fatalf("ParseSpecifier error: %v", err)
	}

	pre := mustParse(t, "1.1a1")

	if spec.Contains(pre, false, true) {
		t.Error("pre-release should be excluded when a stable candidate exists and not explicitly requested")
	}

	if !spec.Contains(pre, false, false) {
		t.Error("pre-release should be admitted when no stable candidate exists")
	}

	if !spec.Contains(pre, true, true) {
		t.Error("pre-release should be admitted when allowPrerelease is set")
	}
}

func TestSpecifierMentionsPreRelease(t *testing.T) {
	spec, err := version.ParseSpecifier(">=1.0a1")
	if err != nil {
		t.Fatalf("ParseSpecifier error: %v", err)
	}

	pre := mustParse(t, "1.0a2")
	if !spec.Contains(pre, false, true) {
		t.Error("specifier mentioning a pre-release should admit pre-release candidates")
	}
}

func TestSortDesc(t *testing.T) {
	vs := []version.Version{
		mustParse(t, "1.0"),
		mustParse(t, "2.0"),
		mustParse(t, "1.5"),
	}

	version.SortDesc(vs)

	if vs[0].String() != "2.0" || vs[1].String() != "1.5" || vs[2].String() != "1.0" {
		t.Errorf("unexpected order: %v", vs)
	}
}

func TestLooseCompareFallsBackToLexicographic(t *testing.T) {
	if version.LooseCompare("abc", "abd") >= 0 {
		t.Error("expected lexicographic fallback to order abc < abd")
	}
}
