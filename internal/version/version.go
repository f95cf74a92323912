// Package version implements the Version & Specifier algebra: parsing,
// total ordering, and specifier containment for PEP 440 version strings.
package version

import (
	"fmt"
	"sort"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
	genver "github.com/aquasecurity/go-version"
)

// Version is a parsed, ordered, comparable PEP 440 version.
type Version struct {
	raw    string
	parsed pep440.Version
}

// Parse parses a PEP 440 version string.
func Parse(s string) (Version, error) {
	v, err := pep440.Parse(strings.TrimSpace(s))
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}

	return Version{raw: s, parsed: v}, nil
}

// String returns the original, unnormalized input string.
func (v Version) String() string { return v.raw }

// IsPreRelease reports whether v has a pre-release (alpha/beta/rc) segment.
func (v Version) IsPreRelease() bool { return v.parsed.IsPreRelease() }

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
// Equality ignores trailing zero release segments, per PEP 440.
func (v Version) Compare(o Version) int { return v.parsed.Compare(o.parsed) }

// GreaterThan reports whether v orders strictly after o.
func (v Version) GreaterThan(o Version) bool { return v.Compare(o) > 0 }

// SortDesc sorts versions from highest to lowest, in place, and returns it.
func SortDesc(vs []Version) []Version {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].GreaterThan(vs[j]) })

	return vs
}

// Specifier is a conjunction of primitive PEP 440 constraints, e.g. ">=1.0,<2.0".
// An empty Specifier matches every version.
type Specifier struct {
	raw   string
	specs pep440.Specifiers
}

// ParseSpecifier parses a (possibly empty) comma-separated specifier string.
func ParseSpecifier(s string) (Specifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Specifier{raw: ""}, nil
	}

	specs, err := pep440.NewSpecifiers(s)
	if err != nil {
		return Specifier{}, fmt.Errorf("parsing specifier %q: %w", s, err)
	}

	return Specifier{raw: s, specs: specs}, nil
}

// String returns the original specifier text.
func (s Specifier) String() string { return s.raw }

// Empty reports whether the specifier has no constraints (matches everything).
func (s Specifier) Empty() bool { return s.raw == "" }

// MentionsPreRelease reports whether any primitive constraint in the
// specifier itself targets a pre-release version (rule 4.A.1: a specifier
// that names a pre-release implicitly opts that name into pre-releases).
func (s Specifier) MentionsPreRelease() bool {
	if s.Empty() {
		return false
	}

	for _, part := range strings.Split(s.raw, ",") {
		part = strings.TrimSpace(part)

		idx := strings.IndexAny(part, "0123456789")
		if idx < 0 {
			continue
		}

		if v, err := pep440.Parse(part[idx:]); err == nil && v.IsPreRelease() {
			return true
		}
	}

	return false
}

// Contains reports whether v satisfies the specifier.
//
// Rule 4.A.1: a pre-release candidate is admitted only if the specifier
// itself mentions a pre-release, allowPrerelease is true, or anyStableExists
// is false (no non-pre-release candidate exists for this name at all).
func (s Specifier) Contains(v Version, allowPrerelease, anyStableExists bool) bool {
	if v.IsPreRelease() && !allowPrerelease && !s.MentionsPreRelease() && anyStableExists {
		return false
	}

	if s.Empty() {
		return true
	}

	return s.specs.Check(v.parsed)
}

// CompatibleRelease builds the specifier equivalent to "~=X.Y.Z", i.e.
// ">=X.Y.Z,<X.(Y+1)" (rule 4.A.3), by parsing "~=" + base with
// go-pep440-version, which implements "~=" natively. The marker evaluator
// uses it for a "~=" comparison against a version-valued variable.
func CompatibleRelease(base string) (Specifier, error) {
	return ParseSpecifier("~=" + base)
}

// looseParse parses a dotted-numeric string that is not a PEP 440 version.
// Its only caller is LooseCompare; it is never used for package versions or
// requires_python values.
func looseParse(s string) (genver.Version, error) {
	return genver.Parse(s)
}

// LooseCompare orders two strings that are not valid PEP 440 versions using
// a generic dotted-numeric comparison, falling back to lexicographic order
// if even that fails. Used only by internal/index when scoring platform tag
// suffixes (e.g. manylinux generation numbers) that are not package versions.
func LooseCompare(a, b string) int {
	va, errA := looseParse(a)
	vb, errB := looseParse(b)

	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}

	return va.Compare(vb)
}
