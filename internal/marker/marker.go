// Package marker implements the PEP 508 environment-marker expression
// language: a recursive-descent parser producing a small AST, evaluated by
// structural recursion against an Environment (spec §4.B).
package marker

import (
	"fmt"
	"strings"

	"github.com/ardalabs/pyresolve/internal/version"
)

// Environment is the fixed set of marker variables a requirement's marker
// is evaluated against. PythonVersion/PythonFullVersion are dotted strings
// ("3.11", "3.11.4"); the rest are free-form strings compared lexicographically.
type Environment struct {
	PythonVersion         string
	PythonFullVersion     string
	OSName                string
	SysPlatform           string
	PlatformSystem        string
	PlatformMachine       string
	ImplementationName    string
	ImplementationVersion string
}

func (e Environment) lookup(name string) (string, bool) {
	switch name {
	case "python_version":
		return e.PythonVersion, true
	case "python_full_version":
		return e.PythonFullVersion, true
	case "os_name":
		return e.OSName, true
	case "sys_platform":
		return e.SysPlatform, true
	case "platform_system":
		return e.PlatformSystem, true
	case "platform_machine":
		return e.PlatformMachine, true
	case "implementation_name":
		return e.ImplementationName, true
	case "implementation_version":
		return e.ImplementationVersion, true
	default:
		return "", false
	}
}

var versionVariables = map[string]bool{
	"python_version":      true,
	"python_full_version": true,
}

// Marker is a parsed boolean expression over environment variables.
type Marker struct {
	root node
}

// Eval evaluates the marker against env. extra is the extra currently being
// expanded (empty when no extra is active); outside an extra context every
// comparison against the "extra" variable is false, per spec §4.B.
func (m Marker) Eval(env Environment, extra string) bool {
	return m.root.eval(env, extra)
}

// String renders the marker back to PEP 508 syntax, useful for diagnostics
// (e.g. inside a ResolutionImpossible conflict set).
func (m Marker) String() string { return m.root.String() }

// node is one AST node: a logical combinator or a leaf comparison.
type node interface {
	eval(env Environment, extra string) bool
	String() string
}

type andNode struct{ left, right node }

func (n andNode) eval(env Environment, extra string) bool {
	return n.left.eval(env, extra) && n.right.eval(env, extra)
}
func (n andNode) String() string { return fmt.Sprintf("(%s and %s)", n.left, n.right) }

type orNode struct{ left, right node }

func (n orNode) eval(env Environment, extra string) bool {
	return n.left.eval(env, extra) || n.right.eval(env, extra)
}
func (n orNode) String() string { return fmt.Sprintf("(%s or %s)", n.left, n.right) }

type notNode struct{ inner node }

func (n notNode) eval(env Environment, extra string) bool { return !n.inner.eval(env, extra) }
func (n notNode) String() string                          { return fmt.Sprintf("(not %s)", n.inner) }

// term is one side of a comparison: either a bare variable name or a quoted
// string literal.
type term struct {
	name    string // set if this is a variable reference
	literal string // the literal text (for a variable, filled in at eval time)
}

func (t term) resolve(env Environment, extra string) (value string, isExtra bool) {
	if t.name == "" {
		return t.literal, false
	}

	if t.name == "extra" {
		return extra, true
	}

	if v, ok := env.lookup(t.name); ok {
		return v, false
	}

	return "", false
}

func (t term) String() string {
	if t.name != "" {
		return t.name
	}

	return fmt.Sprintf("%q", t.literal)
}

type cmpNode struct {
	left, right term
	op          string
}

func (n cmpNode) eval(env Environment, extra string) bool {
	lv, _ := n.left.resolve(env, extra)
	rv, _ := n.right.resolve(env, extra)

	if n.left.name == "extra" || n.right.name == "extra" {
		// Only == / != are meaningful against "extra"; per spec §4.B, outside
		// an extra context (extra == "") any comparison is false.
		switch n.op {
		case "==":
			return extra != "" && lv == rv
		case "!=":
			return extra != "" && lv != rv
		default:
			return false
		}
	}

	if versionVariables[n.left.name] || versionVariables[n.right.name] {
		return compareVersions(lv, n.op, rv)
	}

	return compareStrings(lv, n.op, rv)
}

func (n cmpNode) String() string {
	return fmt.Sprintf("(%s %s %s)", n.left, n.op, n.right)
}

func compareVersions(lraw, op, rraw string) bool {
	lv, err1 := version.Parse(lraw)
	rv, err2 := version.Parse(rraw)

	if err1 != nil || err2 != nil {
		return compareStrings(lraw, op, rraw)
	}

	c := lv.Compare(rv)

	switch op {
	case "==":
		return c == 0
	case "===":
		return lraw == rraw
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	case "~=":
		spec, err := version.CompatibleRelease(rraw)
		if err != nil {
			return false
		}

		return spec.Contains(lv, true, false)
	case "in":
		return strings.Contains(rraw, lraw)
	case "not in":
		return !strings.Contains(rraw, lraw)
	default:
		return false
	}
}

func compareStrings(l, op, r string) bool {
	switch op {
	case "==", "===":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "in":
		return strings.Contains(r, l)
	case "not in":
		return !strings.Contains(r, l)
	default:
		return false
	}
}
