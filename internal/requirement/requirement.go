// Package requirement parses PEP 508 requirement strings into the data
// model used by the resolver core: a normalized name, an extras set, a
// version specifier, and an optional environment marker (spec §3).
package requirement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ardalabs/pyresolve/internal/marker"
	"github.com/ardalabs/pyresolve/internal/resolveerr"
	"github.com/ardalabs/pyresolve/internal/version"
)

// Origin identifies who introduced a requirement: either the synthetic
// "root" origin for user-supplied input, or the {name, version} pin that
// declared it as a dependency.
type Origin struct {
	Name    string
	Version string
	IsRoot  bool
}

// RootOrigin is the origin of every requirement the caller supplied directly.
var RootOrigin = Origin{IsRoot: true}

// PinOrigin builds the origin for a requirement declared by an installed pin.
func PinOrigin(name, ver string) Origin { return Origin{Name: name, Version: ver} }

func (o Origin) String() string {
	if o.IsRoot {
		return "root"
	}

	return o.Name + "@" + o.Version
}

// Requirement is an immutable parsed PEP 508 dependency requirement.
type Requirement struct {
	Name      string
	Extras    map[string]bool
	Specifier version.Specifier
	Marker    *marker.Marker
	Origin    Origin

	raw string
}

// String returns the original requirement text as given to Parse.
func (r Requirement) String() string { return r.raw }

// HasMarker reports whether the requirement carries an environment marker.
func (r Requirement) HasMarker() bool { return r.Marker != nil }

// Parse parses a single PEP 508 requirement string, e.g.:
//
//	"flask"
//	"flask>=3.0,<4.0"
//	"requests[socks,security]>=2.0; python_version >= \"3.8\""
func Parse(s string, origin Origin) (Requirement, error) {
	raw := s
	s = strings.TrimSpace(s)

	name, rest, err := splitNameAndRest(s)
	if err != nil {
		return Requirement{}, &resolveerr.InvalidRequirementError{Raw: raw, Err: err}
	}

	rest, markerText := splitMarker(rest)

	extras, specifierText := splitExtras(rest)

	specifierText = strings.TrimSpace(strings.Trim(specifierText, "()"))

	spec, err := version.ParseSpecifier(specifierText)
	if err != nil {
		return Requirement{}, &resolveerr.InvalidRequirementError{Raw: raw, Err: err}
	}

	var m *marker.Marker

	if markerText != "" {
		parsed, err := marker.Parse(markerText)
		if err != nil {
			return Requirement{}, &resolveerr.InvalidRequirementError{Raw: raw, Err: err}
		}

		m = &parsed
	}

	return Requirement{
		Name:      NormalizeName(name),
		Extras:    extras,
		Specifier: spec,
		Marker:    m,
		Origin:    origin,
		raw:       raw,
	}, nil
}

// splitNameAndRest separates the leading package name from everything that
// follows (extras, specifier, marker).
func splitNameAndRest(s string) (name, rest string, err error) {
	i := 0
	for i < len(s) && isNameByte(s[i]) {
		i++
	}

	if i == 0 {
		return "", "", fmt.Errorf("missing package name")
	}

	return s[:i], strings.TrimSpace(s[i:]), nil
}

func isNameByte(b byte) bool {
	return b == '-' || b == '_' || b == '.' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// splitMarker separates a trailing "; marker expression" from rest.
func splitMarker(s string) (withoutMarker, markerText string) {
	idx := strings.Index(s, ";")
	if idx < 0 {
		return s, ""
	}

	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:])
}

// splitExtras separates a leading "[extra1,extra2]" block from the
// remaining specifier text.
func splitExtras(s string) (extras map[string]bool, rest string) {
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "[") {
		return nil, s
	}

	end := strings.Index(s, "]")
	if end < 0 {
		return nil, s
	}

	names := strings.Split(s[1:end], ",")
	extras = make(map[string]bool, len(names))

	for _, n := range names {
		n = NormalizeName(strings.TrimSpace(n))
		if n != "" {
			extras[n] = true
		}
	}

	return extras, strings.TrimSpace(s[end+1:])
}

// SortedExtras returns the requirement's extras in deterministic order.
func (r Requirement) SortedExtras() []string {
	out := make([]string, 0, len(r.Extras))
	for e := range r.Extras {
		out = append(out, e)
	}

	sort.Strings(out)

	return out
}

// NormalizeName canonicalizes a Python package name per PEP 503: lowercase,
// with runs of "-", "_", "." collapsed to a single hyphen.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder

	prevHyphen := false

	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}
